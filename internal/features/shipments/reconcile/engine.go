package reconcile

import (
	"fmt"
	"sync"
	"time"

	"orchid-tracker/internal/core/logger"
	"orchid-tracker/internal/features/shipments/domain"
	"orchid-tracker/internal/features/shipments/ports"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Classification is the outcome of reconciling one change event against the
// previously seen state.
type Classification string

const (
	// ClassificationNew marks a record not seen before.
	ClassificationNew Classification = "new"
	// ClassificationStatusChanged marks a record whose current status moved.
	ClassificationStatusChanged Classification = "status_changed"
	// ClassificationUnchanged marks a silent update (metadata-only edit,
	// duplicate or stale event).
	ClassificationUnchanged Classification = "unchanged"
	// ClassificationDeleted marks a removed record.
	ClassificationDeleted Classification = "deleted"
)

// Notification is the user-facing toast derived from a classified change.
type Notification struct {
	// ID uniquely identifies the notification for de-duplication downstream.
	ID string `json:"id"`
	// TrackingNumber is the shipment the notification refers to.
	TrackingNumber string `json:"trackingNumber"`
	// Classification says what kind of change produced the notification.
	Classification Classification `json:"classification"`
	// Message is the human-readable toast text.
	Message string `json:"message"`
	// At is when the engine classified the change.
	At time.Time `json:"at"`
}

// Change is fanned out to listeners for every applied change, silent ones
// included, so sessions can keep their displayed records in sync. Record is
// nil for deletions. Notification is nil for silent changes and for the
// suppressed echo of a local create.
type Change struct {
	TrackingNumber string
	Classification Classification
	Record         *domain.ShipmentRecord
	Notification   *Notification
}

// Listener receives applied changes. Listeners are invoked outside the
// engine lock and may read the engine freely.
type Listener func(Change)

const (
	defaultHighlightWindow    = 10 * time.Second
	defaultSelfSuppressWindow = 15 * time.Second
)

// Engine owns the canonical tracking-number -> record map and reconciles it
// against confirmed store responses and the asynchronous change stream. It is
// safe for concurrent use; stream events arrive on the subscription goroutine
// while handlers read snapshots.
type Engine struct {
	mu sync.Mutex

	current  map[string]domain.ShipmentRecord
	previous map[string]domain.ShipmentRecord

	highlights  map[string]*time.Timer
	selfCreated map[string]time.Time
	listeners   []Listener

	highlightWindow    time.Duration
	selfSuppressWindow time.Duration
	clock              func() time.Time
}

// NewEngine creates an empty engine. Non-positive windows fall back to the
// defaults.
func NewEngine(highlightWindow, selfSuppressWindow time.Duration) *Engine {
	if highlightWindow <= 0 {
		highlightWindow = defaultHighlightWindow
	}
	if selfSuppressWindow <= 0 {
		selfSuppressWindow = defaultSelfSuppressWindow
	}

	return &Engine{
		current:            make(map[string]domain.ShipmentRecord),
		previous:           make(map[string]domain.ShipmentRecord),
		highlights:         make(map[string]*time.Timer),
		selfCreated:        make(map[string]time.Time),
		highlightWindow:    highlightWindow,
		selfSuppressWindow: selfSuppressWindow,
		clock:              time.Now,
	}
}

// OnChange registers a listener for applied changes. Register before the
// change stream is pumped.
func (e *Engine) OnChange(l Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, l)
}

// ApplyBulkLoad replaces the canonical map wholesale with a fresh full fetch.
// A bulk load is not a change: no diffing, no notifications.
func (e *Engine) ApplyBulkLoad(records []domain.ShipmentRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.current = make(map[string]domain.ShipmentRecord, len(records))
	e.previous = make(map[string]domain.ShipmentRecord, len(records))
	for _, r := range records {
		e.current[r.TrackingNumber] = r
		e.previous[r.TrackingNumber] = r
	}

	logger.Get().Debug("Reconciliation map bulk-loaded", zap.Int("records", len(records)))
}

// ApplyChange reconciles one change event into the canonical map and returns
// its classification. New and status-changed records get a transient
// highlight and a notification; the echo of a recent local create is
// suppressed; metadata-only updates apply silently.
func (e *Engine) ApplyChange(event ports.ChangeEvent) Classification {
	e.mu.Lock()

	var (
		classification Classification
		applied        bool
		record         *domain.ShipmentRecord
		message        string
		notify         bool
	)

	key := event.TrackingNumber

	switch event.Kind {
	case ports.ChangeDelete:
		classification = ClassificationDeleted
		if _, ok := e.current[key]; ok {
			delete(e.current, key)
			applied = true
			notify = true
			message = fmt.Sprintf("Shipment %s was removed", key)
		}
		delete(e.previous, key)
		e.clearHighlightLocked(key)

	case ports.ChangeUpsert:
		if event.Record == nil {
			e.mu.Unlock()
			return ClassificationUnchanged
		}
		incoming := *event.Record

		// Out-of-order delivery: never let a stale version regress the
		// visible status.
		if held, ok := e.current[key]; ok && incoming.Version > 0 && incoming.Version < held.Version {
			e.mu.Unlock()
			logger.Get().Debug("Stale change event discarded",
				zap.String("tracking_number", key),
				zap.Int64("event_version", incoming.Version),
				zap.Int64("held_version", held.Version),
			)
			return ClassificationUnchanged
		}

		prev, seen := e.previous[key]
		switch {
		case !seen:
			classification = ClassificationNew
			notify = !e.consumeSelfCreatedLocked(key)
			message = fmt.Sprintf("New shipment %s created", key)
		case prev.CurrentStatus != incoming.CurrentStatus:
			classification = ClassificationStatusChanged
			message = fmt.Sprintf("Shipment %s is now %s", key, incoming.CurrentStatus)
			notify = true
		default:
			classification = ClassificationUnchanged
		}

		e.current[key] = incoming
		// The diff baseline is always the last-seen external state.
		e.previous[key] = incoming
		applied = true
		record = &incoming

		if classification == ClassificationNew || classification == ClassificationStatusChanged {
			e.setHighlightLocked(key)
		}

	default:
		e.mu.Unlock()
		return ClassificationUnchanged
	}

	var (
		listeners []Listener
		change    Change
	)
	if applied {
		change = Change{
			TrackingNumber: key,
			Classification: classification,
			Record:         record,
		}
		if notify {
			change.Notification = &Notification{
				ID:             uuid.NewString(),
				TrackingNumber: key,
				Classification: classification,
				Message:        message,
				At:             e.clock(),
			}
		}
		listeners = append(listeners, e.listeners...)
	}
	e.mu.Unlock()

	logger.Get().Debug("Change event classified",
		zap.String("tracking_number", key),
		zap.String("classification", string(classification)),
	)

	for _, l := range listeners {
		l(change)
	}

	return classification
}

// MarkSelfCreated records that the local client just created this key, so
// the change-stream echo of the create does not raise a duplicate "new"
// notification.
func (e *Engine) MarkSelfCreated(trackingNumber string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.selfCreated[trackingNumber] = e.clock()
}

// consumeSelfCreatedLocked reports and clears a fresh self-created mark.
func (e *Engine) consumeSelfCreatedLocked(trackingNumber string) bool {
	at, ok := e.selfCreated[trackingNumber]
	if !ok {
		return false
	}
	delete(e.selfCreated, trackingNumber)
	return e.clock().Sub(at) <= e.selfSuppressWindow
}

// Get returns the record currently held for a tracking number.
func (e *Engine) Get(trackingNumber string) (domain.ShipmentRecord, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	record, ok := e.current[trackingNumber]
	return record, ok
}

// Snapshot returns a copy of the canonical map.
func (e *Engine) Snapshot() map[string]domain.ShipmentRecord {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string]domain.ShipmentRecord, len(e.current))
	for k, v := range e.current {
		out[k] = v
	}
	return out
}

// Highlighted reports whether the key carries an active highlight marker.
// Highlights are display-only and expire on their own.
func (e *Engine) Highlighted(trackingNumber string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.highlights[trackingNumber]
	return ok
}

// setHighlightLocked arms the highlight timer for a key. A newer event for
// the same key replaces the timer, so a stale timer can never clear a more
// recent highlight.
func (e *Engine) setHighlightLocked(trackingNumber string) {
	if t, ok := e.highlights[trackingNumber]; ok {
		t.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(e.highlightWindow, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.highlights[trackingNumber] == timer {
			delete(e.highlights, trackingNumber)
		}
	})
	e.highlights[trackingNumber] = timer
}

// clearHighlightLocked drops any pending highlight for a key.
func (e *Engine) clearHighlightLocked(trackingNumber string) {
	if t, ok := e.highlights[trackingNumber]; ok {
		t.Stop()
		delete(e.highlights, trackingNumber)
	}
}

// Close cancels all pending highlight timers.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for k, t := range e.highlights {
		t.Stop()
		delete(e.highlights, k)
	}
}
