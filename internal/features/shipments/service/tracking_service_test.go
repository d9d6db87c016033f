package service

import (
	"context"
	"testing"
	"time"

	"orchid-tracker/internal/core/cache"
	"orchid-tracker/internal/features/shipments/domain"
	"orchid-tracker/internal/features/shipments/ports"
	"orchid-tracker/internal/features/shipments/reconcile"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTrackingFixture(t *testing.T, c cache.Cache) (*TrackingService, *MockShipmentRepository, *reconcile.Engine) {
	t.Helper()
	mockRepo := new(MockShipmentRepository)
	engine := reconcile.NewEngine(50*time.Millisecond, time.Second)
	t.Cleanup(engine.Close)
	svc := NewTrackingService(mockRepo, engine, c, time.Minute)
	return svc, mockRepo, engine
}

func newTestCache(t *testing.T) cache.Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	adapter, err := cache.NewRedisAdapter("redis://" + mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { adapter.Close() })
	return adapter
}

func TestTrackingService_Track_InvalidFormat(t *testing.T) {
	svc, mockRepo, _ := newTrackingFixture(t, nil)
	ctx := context.Background()

	tests := []struct {
		name  string
		input string
	}{
		{"Empty", ""},
		{"WrongPrefix", "XX123456789"},
		{"TooShort", "OM1234"},
		{"NonDigits", "OM12345678A"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Track(ctx, tc.input)
			assert.ErrorIs(t, err, domain.ErrInvalidTrackingNumber)
		})
	}

	// An invalid format never reaches the store.
	mockRepo.AssertNotCalled(t, "GetByKey", mock.Anything, mock.Anything)
}

func TestTrackingService_Track_NormalizesInput(t *testing.T) {
	svc, mockRepo, _ := newTrackingFixture(t, nil)
	ctx := context.Background()

	found := testRecord("OM123456789", domain.StatusInTransit, 1)
	mockRepo.On("GetByKey", ctx, "OM123456789").Return(&found, nil).Once()

	record, err := svc.Track(ctx, "  om123456789 ")
	require.NoError(t, err)
	assert.Equal(t, "OM123456789", record.TrackingNumber)
	mockRepo.AssertExpectations(t)
}

func TestTrackingService_Track_NotFound(t *testing.T) {
	svc, mockRepo, _ := newTrackingFixture(t, nil)
	ctx := context.Background()

	mockRepo.On("GetByKey", ctx, "OM123456789").Return(nil, domain.ErrShipmentNotFound).Once()

	_, err := svc.Track(ctx, "OM123456789")
	assert.ErrorIs(t, err, domain.ErrShipmentNotFound)

	_, ok := svc.Focused()
	assert.False(t, ok)
}

func TestTrackingService_Track_CacheReadThrough(t *testing.T) {
	svc, mockRepo, _ := newTrackingFixture(t, newTestCache(t))
	ctx := context.Background()

	found := testRecord("OM123456789", domain.StatusInTransit, 1)
	mockRepo.On("GetByKey", ctx, "OM123456789").Return(&found, nil).Once()

	first, err := svc.Track(ctx, "OM123456789")
	require.NoError(t, err)

	// Second lookup is served from the cache; the single repo expectation
	// would fail the test otherwise.
	second, err := svc.Track(ctx, "OM123456789")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	mockRepo.AssertExpectations(t)
	mockRepo.AssertNumberOfCalls(t, "GetByKey", 1)
}

func TestTrackingService_Track_ChangeInvalidatesCache(t *testing.T) {
	svc, mockRepo, engine := newTrackingFixture(t, newTestCache(t))
	ctx := context.Background()

	found := testRecord("OM123456789", domain.StatusInTransit, 1)
	mockRepo.On("GetByKey", ctx, "OM123456789").Return(&found, nil).Once()

	_, err := svc.Track(ctx, "OM123456789")
	require.NoError(t, err)

	// A change event for the key evicts the cached copy, so the next lookup
	// goes back to the repository.
	updated := testRecord("OM123456789", domain.StatusDelivered, 2)
	engine.ApplyChange(ports.ChangeEvent{Kind: ports.ChangeUpsert, TrackingNumber: updated.TrackingNumber, Record: &updated})

	mockRepo.On("GetByKey", ctx, "OM123456789").Return(&updated, nil).Once()

	record, err := svc.Track(ctx, "OM123456789")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDelivered, record.CurrentStatus)
	mockRepo.AssertExpectations(t)
}

func TestTrackingService_FocusedFollowsChanges(t *testing.T) {
	svc, mockRepo, engine := newTrackingFixture(t, nil)
	ctx := context.Background()

	found := testRecord("OM123456789", domain.StatusInTransit, 1)
	mockRepo.On("GetByKey", ctx, "OM123456789").Return(&found, nil).Once()

	_, err := svc.Track(ctx, "OM123456789")
	require.NoError(t, err)

	// A change for another key leaves the focused record alone.
	other := testRecord("OM987654321", domain.StatusOrderCreated, 1)
	engine.ApplyChange(ports.ChangeEvent{Kind: ports.ChangeUpsert, TrackingNumber: other.TrackingNumber, Record: &other})

	focused, ok := svc.Focused()
	require.True(t, ok)
	assert.Equal(t, domain.StatusInTransit, focused.CurrentStatus)

	// A change for the focused key refreshes the displayed record without a
	// new lookup.
	updated := testRecord("OM123456789", domain.StatusDelivered, 2)
	engine.ApplyChange(ports.ChangeEvent{Kind: ports.ChangeUpsert, TrackingNumber: updated.TrackingNumber, Record: &updated})

	focused, ok = svc.Focused()
	require.True(t, ok)
	assert.Equal(t, domain.StatusDelivered, focused.CurrentStatus)

	// Removal clears it.
	engine.ApplyChange(ports.ChangeEvent{Kind: ports.ChangeDelete, TrackingNumber: "OM123456789"})
	_, ok = svc.Focused()
	assert.False(t, ok)

	mockRepo.AssertNumberOfCalls(t, "GetByKey", 1)
}

func TestTrackingService_Track_SupersededQueryDiscarded(t *testing.T) {
	svc, mockRepo, _ := newTrackingFixture(t, nil)
	ctx := context.Background()

	slow := testRecord("OM111111111", domain.StatusInTransit, 1)
	fast := testRecord("OM222222222", domain.StatusDelivered, 1)

	inFlight := make(chan struct{})
	release := make(chan struct{})
	mockRepo.On("GetByKey", ctx, "OM111111111").Run(func(mock.Arguments) {
		close(inFlight)
		<-release
	}).Return(&slow, nil).Once()
	mockRepo.On("GetByKey", ctx, "OM222222222").Return(&fast, nil).Once()

	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		svc.Track(ctx, "OM111111111")
	}()

	// Wait until the first query is in flight and holds the sequence number.
	<-inFlight

	_, err := svc.Track(ctx, "OM222222222")
	require.NoError(t, err)

	close(release)
	<-firstDone

	// The late response to the superseded query must not clobber the newer
	// result.
	focused, ok := svc.Focused()
	require.True(t, ok)
	assert.Equal(t, "OM222222222", focused.TrackingNumber)
}
