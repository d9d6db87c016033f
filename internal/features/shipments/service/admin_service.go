package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"orchid-tracker/internal/core/logger"
	"orchid-tracker/internal/features/shipments/domain"
	"orchid-tracker/internal/features/shipments/ports"
	"orchid-tracker/internal/features/shipments/reconcile"

	"go.uber.org/zap"
)

// ErrValidation marks operator input that was rejected before touching the
// store. The wrapped message names the offending field.
var ErrValidation = errors.New("invalid shipment input")

const deliveryDateInput = "2006-01-02"
const deliveryDateDisplay = "02 Jan, 2006"

// CreateShipmentInput carries the operator-supplied fields for a new
// shipment. TrackingNumber is optional; when empty one is generated.
type CreateShipmentInput struct {
	TrackingNumber    string `json:"trackingNumber"`
	Origin            string `json:"origin"`
	Destination       string `json:"destination"`
	EstimatedDelivery string `json:"estimatedDelivery"`
	Weight            string `json:"weight"`
	Dimensions        string `json:"dimensions"`
	PieceCount        int    `json:"pieceCount"`
	ShipmentType      string `json:"shipmentType"`
}

// AppendStatusInput carries one new tracking event for an existing shipment.
type AppendStatusInput struct {
	Status   string `json:"status"`
	Location string `json:"location"`
	Details  string `json:"details"`
}

// AdminService drives the operator dashboard: the live shipment list, the
// create/update/delete flows and the search box. Every write goes to the
// repository first; the confirmed response is applied to the reconciliation
// engine directly, so the dashboard never shows unacknowledged state.
type AdminService struct {
	repo     ports.ShipmentRepository
	notifier ports.ChangeNotifier
	engine   *reconcile.Engine
	token    string
	clock    func() time.Time

	rngMu sync.Mutex
	rng   *rand.Rand

	subMu sync.Mutex
	sub   ports.Subscription
	done  chan struct{}
}

// NewAdminService wires the service. The engine must be the same instance the
// tracking side listens on.
func NewAdminService(repo ports.ShipmentRepository, notifier ports.ChangeNotifier, engine *reconcile.Engine, token string) *AdminService {
	return &AdminService{
		repo:     repo,
		notifier: notifier,
		engine:   engine,
		token:    token,
		clock:    time.Now,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Authorize checks an operator token in constant time.
func (s *AdminService) Authorize(token string) bool {
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.token)) == 1
}

// Activate performs the initial bulk load and attaches the change stream.
// Stream events are reconciled on a background goroutine until Deactivate.
func (s *AdminService) Activate(ctx context.Context) error {
	records, err := s.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("load shipments: %w", err)
	}
	s.engine.ApplyBulkLoad(records)

	sub, err := s.notifier.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe to change stream: %w", err)
	}

	s.subMu.Lock()
	s.sub = sub
	s.done = make(chan struct{})
	done := s.done
	s.subMu.Unlock()

	go func() {
		defer close(done)
		for event := range sub.Events() {
			s.engine.ApplyChange(event)
		}
	}()

	logger.Get().Info("Admin session activated", zap.Int("shipments", len(records)))
	return nil
}

// Deactivate closes the change stream and waits for the pump goroutine to
// drain.
func (s *AdminService) Deactivate() error {
	s.subMu.Lock()
	sub, done := s.sub, s.done
	s.sub, s.done = nil, nil
	s.subMu.Unlock()

	if sub == nil {
		return nil
	}
	err := sub.Close()
	<-done
	return err
}

// Create validates operator input, persists the shipment and applies the
// confirmed record to the engine. The change-stream echo of this insert is
// suppressed so the operator sees no duplicate notification for their own
// create.
func (s *AdminService) Create(ctx context.Context, input CreateShipmentInput) (*domain.ShipmentRecord, error) {
	if input.Origin == "" {
		return nil, fmt.Errorf("%w: origin is required", ErrValidation)
	}
	if input.Destination == "" {
		return nil, fmt.Errorf("%w: destination is required", ErrValidation)
	}
	if input.Origin == input.Destination {
		return nil, domain.ErrSameOriginDestination
	}

	displayDate, err := s.parseDeliveryDate(input.EstimatedDelivery)
	if err != nil {
		return nil, err
	}
	if err := validateWeight(input.Weight); err != nil {
		return nil, err
	}
	if input.PieceCount < 0 {
		return nil, fmt.Errorf("%w: piece count must be positive", ErrValidation)
	}

	trackingNumber, err := s.resolveTrackingNumber(input.TrackingNumber)
	if err != nil {
		return nil, err
	}

	record, err := domain.NewShipment(trackingNumber, input.Origin, input.Destination, displayDate, s.clock())
	if err != nil {
		return nil, err
	}
	record.Weight = input.Weight
	record.Dimensions = input.Dimensions
	record.PieceCount = input.PieceCount
	record.ShipmentType = input.ShipmentType

	s.engine.MarkSelfCreated(trackingNumber)
	if err := s.repo.Insert(ctx, record); err != nil {
		return nil, err
	}

	s.engine.ApplyChange(ports.ChangeEvent{
		Kind:           ports.ChangeUpsert,
		TrackingNumber: trackingNumber,
		Record:         record,
	})

	logger.Get().Info("Shipment created", zap.String("tracking_number", trackingNumber))
	return record, nil
}

// AppendStatus validates and persists one tracking event, then applies the
// confirmed record to the engine.
func (s *AdminService) AppendStatus(ctx context.Context, rawTrackingNumber string, input AppendStatusInput) (*domain.ShipmentRecord, error) {
	trackingNumber := domain.NormalizeTrackingNumber(rawTrackingNumber)
	if err := domain.ValidateTrackingNumber(trackingNumber); err != nil {
		return nil, err
	}
	if !domain.ValidStatus(input.Status) {
		return nil, domain.ErrUnknownStatus
	}
	if input.Location == "" {
		return nil, fmt.Errorf("%w: location is required", ErrValidation)
	}
	if _, ok := s.engine.Get(trackingNumber); !ok {
		return nil, domain.ErrShipmentNotFound
	}

	event := domain.TrackingEvent{
		Status:    input.Status,
		Location:  input.Location,
		Timestamp: domain.EventTimestamp(s.clock()),
		Details:   input.Details,
	}

	record, err := s.repo.UpdateStatus(ctx, trackingNumber, event)
	if err != nil {
		return nil, err
	}

	s.engine.ApplyChange(ports.ChangeEvent{
		Kind:           ports.ChangeUpsert,
		TrackingNumber: trackingNumber,
		Record:         record,
	})

	logger.Get().Info("Shipment status appended",
		zap.String("tracking_number", trackingNumber),
		zap.String("status", input.Status),
	)
	return record, nil
}

// EditMetadata persists a descriptive-field edit and applies the confirmed
// record. Metadata edits never raise a notification; they flow through the
// engine as silent updates.
func (s *AdminService) EditMetadata(ctx context.Context, rawTrackingNumber string, fields domain.MetadataFields) (*domain.ShipmentRecord, error) {
	trackingNumber := domain.NormalizeTrackingNumber(rawTrackingNumber)
	if err := domain.ValidateTrackingNumber(trackingNumber); err != nil {
		return nil, err
	}
	if fields.Origin == "" {
		return nil, fmt.Errorf("%w: origin is required", ErrValidation)
	}
	if fields.Destination == "" {
		return nil, fmt.Errorf("%w: destination is required", ErrValidation)
	}
	if err := validateWeight(fields.Weight); err != nil {
		return nil, err
	}

	record, err := s.repo.UpdateMetadata(ctx, trackingNumber, fields)
	if err != nil {
		return nil, err
	}

	s.engine.ApplyChange(ports.ChangeEvent{
		Kind:           ports.ChangeUpsert,
		TrackingNumber: trackingNumber,
		Record:         record,
	})
	return record, nil
}

// Delete removes the shipment from the store. The local map is updated by the
// change-stream delete event, not here, so every dashboard converges through
// the same path.
func (s *AdminService) Delete(ctx context.Context, rawTrackingNumber string) error {
	trackingNumber := domain.NormalizeTrackingNumber(rawTrackingNumber)
	if err := domain.ValidateTrackingNumber(trackingNumber); err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, trackingNumber); err != nil {
		return err
	}
	logger.Get().Info("Shipment deleted", zap.String("tracking_number", trackingNumber))
	return nil
}

// Search runs the operator list query against the current reconciled state.
func (s *AdminService) Search(query, filterType, sortKey string) []domain.ShipmentRecord {
	return searchRecords(s.engine.Snapshot(), query, filterType, sortKey)
}

// Get returns one shipment from the reconciled state.
func (s *AdminService) Get(rawTrackingNumber string) (domain.ShipmentRecord, bool) {
	return s.engine.Get(domain.NormalizeTrackingNumber(rawTrackingNumber))
}

// Highlighted reports whether a row should be rendered with the recent-change
// marker.
func (s *AdminService) Highlighted(trackingNumber string) bool {
	return s.engine.Highlighted(trackingNumber)
}

// resolveTrackingNumber validates a custom identifier or generates a fresh
// one. Custom identifiers are checked against the reconciled state up front;
// the store's unique constraint still backstops a race.
func (s *AdminService) resolveTrackingNumber(custom string) (string, error) {
	if custom != "" {
		normalized := domain.NormalizeTrackingNumber(custom)
		if err := domain.ValidateTrackingNumber(normalized); err != nil {
			return "", err
		}
		if _, exists := s.engine.Get(normalized); exists {
			return "", domain.ErrDuplicateTrackingNumber
		}
		return normalized, nil
	}

	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return domain.GenerateTrackingNumber(s.rng, func(id string) bool {
		_, exists := s.engine.Get(id)
		return exists
	}), nil
}

// parseDeliveryDate converts the operator's YYYY-MM-DD input into the display
// format, rejecting unparseable or past dates.
func (s *AdminService) parseDeliveryDate(input string) (string, error) {
	if input == "" {
		return "", fmt.Errorf("%w: estimated delivery date is required", ErrValidation)
	}
	date, err := time.Parse(deliveryDateInput, input)
	if err != nil {
		return "", fmt.Errorf("%w: estimated delivery must be a valid date (YYYY-MM-DD)", ErrValidation)
	}

	today := s.clock().UTC().Truncate(24 * time.Hour)
	if date.Before(today) {
		return "", fmt.Errorf("%w: estimated delivery cannot be in the past", ErrValidation)
	}
	return date.Format(deliveryDateDisplay), nil
}

func validateWeight(weight string) error {
	if weight == "" {
		return nil
	}
	value, err := strconv.ParseFloat(weight, 64)
	if err != nil || value <= 0 {
		return fmt.Errorf("%w: weight must be a positive number", ErrValidation)
	}
	return nil
}
