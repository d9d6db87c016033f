package domain

import (
	"errors"
	"time"
)

// Status vocabulary consumed by the status-update flow. CurrentStatus and
// every history entry carry one of these values.
const (
	StatusOrderCreated      = "Order Created"
	StatusPickedUp          = "Shipment Picked Up"
	StatusArrivedAtHub      = "Arrived at Hub"
	StatusDepartedFromHub   = "Departed from Hub"
	StatusInTransit         = "In Transit"
	StatusArrivedAtFacility = "Arrived at Destination Facility"
	StatusOutForDelivery    = "Out for Delivery"
	StatusDelivered         = "Delivered"
	StatusOnHold            = "On Hold"
)

// Statuses lists the full vocabulary in shipment-lifecycle order.
var Statuses = []string{
	StatusOrderCreated,
	StatusPickedUp,
	StatusArrivedAtHub,
	StatusDepartedFromHub,
	StatusInTransit,
	StatusArrivedAtFacility,
	StatusOutForDelivery,
	StatusDelivered,
	StatusOnHold,
}

var (
	// ErrShipmentNotFound is returned when no shipment matches the tracking number.
	ErrShipmentNotFound = errors.New("shipment not found")
	// ErrDuplicateTrackingNumber is returned when a create collides with an existing key.
	ErrDuplicateTrackingNumber = errors.New("tracking number already exists")
	// ErrSameOriginDestination is returned when origin and destination are equal.
	ErrSameOriginDestination = errors.New("origin and destination must differ")
	// ErrUnknownStatus is returned when a status value is outside the vocabulary.
	ErrUnknownStatus = errors.New("unknown shipment status")
)

// TrackingEvent is one immutable history entry on a shipment record.
type TrackingEvent struct {
	// Status is the vocabulary value this event moved the shipment to.
	Status string `json:"status"`
	// Location is the city/country where the event occurred.
	Location string `json:"location"`
	// Timestamp is the pre-formatted UTC display string (e.g. "21/07/2024, 10:00:00 GMT").
	Timestamp string `json:"timestamp"`
	// Details is the free-form operator comment for the event.
	Details string `json:"details"`
}

// ShipmentRecord is the canonical persisted entity for one parcel.
type ShipmentRecord struct {
	// TrackingNumber is the unique key, immutable once created ("OM" + 9 digits).
	TrackingNumber string `json:"trackingNumber"`
	// CurrentStatus always equals History[0].Status.
	CurrentStatus string `json:"currentStatus"`
	// EstimatedDelivery is a pre-formatted display date set at creation.
	EstimatedDelivery string `json:"estimatedDelivery"`
	// Origin is the city the shipment departs from.
	Origin string `json:"origin"`
	// Destination is the city the shipment is delivered to.
	Destination string `json:"destination"`
	// Weight is the optional package weight in kilograms, as entered.
	Weight string `json:"weight,omitempty"`
	// Dimensions is the optional package size description.
	Dimensions string `json:"dimensions,omitempty"`
	// PieceCount is the optional number of pieces in the shipment.
	PieceCount int `json:"pieceCount,omitempty"`
	// ShipmentType is the optional package category (Parcel, Document, Pallet, Container).
	ShipmentType string `json:"shipmentType,omitempty"`
	// History holds the tracking events, newest first. Never empty.
	History []TrackingEvent `json:"history"`
	// Version increases on every store write; stale change events are
	// discarded by comparing versions.
	Version int64 `json:"version"`
}

// EventTimestamp formats t as the display timestamp used across the site.
func EventTimestamp(t time.Time) string {
	return t.UTC().Format("02/01/2006, 15:04:05") + " GMT"
}

// ValidStatus reports whether status belongs to the fixed vocabulary.
func ValidStatus(status string) bool {
	for _, s := range Statuses {
		if s == status {
			return true
		}
	}
	return false
}

// NewShipment builds a shipment record seeded with an "Order Created" event
// at the origin. It enforces the origin/destination invariant; the tracking
// number is expected to be validated by the caller.
func NewShipment(trackingNumber, origin, destination, estimatedDelivery string, now time.Time) (*ShipmentRecord, error) {
	if origin == destination {
		return nil, ErrSameOriginDestination
	}

	return &ShipmentRecord{
		TrackingNumber:    trackingNumber,
		CurrentStatus:     StatusOrderCreated,
		EstimatedDelivery: estimatedDelivery,
		Origin:            origin,
		Destination:       destination,
		History: []TrackingEvent{{
			Status:    StatusOrderCreated,
			Location:  origin,
			Timestamp: EventTimestamp(now),
			Details:   "Shipment information received",
		}},
	}, nil
}

// ApplyEvent returns a copy of the record with the event prepended and the
// current status replaced. The receiver is not mutated.
func (r ShipmentRecord) ApplyEvent(event TrackingEvent) ShipmentRecord {
	history := make([]TrackingEvent, 0, len(r.History)+1)
	history = append(history, event)
	history = append(history, r.History...)

	r.History = history
	r.CurrentStatus = event.Status
	return r
}

// MetadataFields carries the descriptive fields an operator may edit without
// touching the status history.
type MetadataFields struct {
	Origin            string `json:"origin"`
	Destination       string `json:"destination"`
	EstimatedDelivery string `json:"estimatedDelivery"`
	Weight            string `json:"weight"`
	Dimensions        string `json:"dimensions"`
	PieceCount        int    `json:"pieceCount"`
	ShipmentType      string `json:"shipmentType"`
}

// ApplyMetadata returns a copy of the record with descriptive fields replaced.
// History and CurrentStatus are never altered by a metadata edit.
func (r ShipmentRecord) ApplyMetadata(fields MetadataFields) (ShipmentRecord, error) {
	if fields.Origin == fields.Destination {
		return r, ErrSameOriginDestination
	}

	r.Origin = fields.Origin
	r.Destination = fields.Destination
	r.EstimatedDelivery = fields.EstimatedDelivery
	r.Weight = fields.Weight
	r.Dimensions = fields.Dimensions
	r.PieceCount = fields.PieceCount
	r.ShipmentType = fields.ShipmentType
	return r, nil
}
