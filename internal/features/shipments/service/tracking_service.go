package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"orchid-tracker/internal/core/cache"
	"orchid-tracker/internal/core/logger"
	"orchid-tracker/internal/features/shipments/domain"
	"orchid-tracker/internal/features/shipments/ports"
	"orchid-tracker/internal/features/shipments/reconcile"

	"go.uber.org/zap"
)

const cacheKeyPrefix = "shipment:"

// TrackingService resolves one user-supplied tracking number to a shipment
// record. It keeps the focused record live: change events for the focused key
// refresh or clear the displayed record without another lookup.
type TrackingService struct {
	repo     ports.ShipmentRepository
	cache    cache.Cache
	cacheTTL time.Duration
	engine   *reconcile.Engine

	mu      sync.Mutex
	seq     uint64
	focused string
	record  *domain.ShipmentRecord
}

// NewTrackingService creates the service and hooks it into the engine's
// change feed. The cache may be nil to disable read-through caching.
func NewTrackingService(repo ports.ShipmentRepository, engine *reconcile.Engine, c cache.Cache, cacheTTL time.Duration) *TrackingService {
	s := &TrackingService{
		repo:     repo,
		cache:    c,
		cacheTTL: cacheTTL,
		engine:   engine,
	}
	engine.OnChange(s.onChange)
	return s
}

// Track normalizes and validates the input, then performs exactly one keyed
// lookup. An invalid format never reaches the store; a miss is a terminal
// NotFound. A response to a query that has been superseded by a newer Track
// call never overwrites the focused state.
func (s *TrackingService) Track(ctx context.Context, rawInput string) (*domain.ShipmentRecord, error) {
	normalized := domain.NormalizeTrackingNumber(rawInput)
	if err := domain.ValidateTrackingNumber(normalized); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.focused = normalized
	s.mu.Unlock()

	record, err := s.lookup(ctx, normalized)

	s.mu.Lock()
	if s.seq == seq {
		// Still the latest query: adopt the outcome as the displayed record.
		s.record = record
	}
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return record, nil
}

// Focused returns the currently displayed record; ok is false when the
// focused shipment was not found or has been removed.
func (s *TrackingService) Focused() (*domain.ShipmentRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.record == nil {
		return nil, false
	}
	record := *s.record
	return &record, true
}

// lookup reads through the cache to the repository.
func (s *TrackingService) lookup(ctx context.Context, trackingNumber string) (*domain.ShipmentRecord, error) {
	if s.cache != nil {
		if data, err := s.cache.Get(ctx, cacheKeyPrefix+trackingNumber); err == nil {
			var record domain.ShipmentRecord
			if err := json.Unmarshal(data, &record); err == nil {
				return &record, nil
			}
		} else if !errors.Is(err, cache.ErrCacheMiss) {
			logger.Get().Warn("Shipment cache read failed", zap.Error(err))
		}
	}

	record, err := s.repo.GetByKey(ctx, trackingNumber)
	if err != nil {
		if errors.Is(err, domain.ErrShipmentNotFound) {
			return nil, domain.ErrShipmentNotFound
		}
		return nil, fmt.Errorf("lookup shipment: %w", err)
	}

	s.fillCache(ctx, record)
	return record, nil
}

func (s *TrackingService) fillCache(ctx context.Context, record *domain.ShipmentRecord) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(record)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, cacheKeyPrefix+record.TrackingNumber, data, s.cacheTTL); err != nil {
		logger.Get().Warn("Shipment cache write failed", zap.Error(err))
	}
}

// onChange keeps the focused record and the lookup cache in sync with the
// reconciled state. A removal clears the displayed record; it never lingers
// as stale data.
func (s *TrackingService) onChange(change reconcile.Change) {
	if s.cache != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := s.cache.Delete(ctx, cacheKeyPrefix+change.TrackingNumber); err != nil {
			logger.Get().Warn("Shipment cache invalidation failed", zap.Error(err))
		}
		cancel()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.focused != change.TrackingNumber {
		return
	}

	if change.Classification == reconcile.ClassificationDeleted {
		s.record = nil
		return
	}
	if change.Record != nil {
		record := *change.Record
		s.record = &record
	}
}
