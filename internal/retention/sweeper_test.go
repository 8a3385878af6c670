package retention

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/orbit-meet/backend/internal/models"
)

// fakeExpiredStore filters the way the real repository does: completed
// recordings whose deadline is at or before now.
type fakeExpiredStore struct {
	mu       sync.Mutex
	recs     map[uuid.UUID]*models.Recording
	listErr  error
	listGate chan struct{} // when set, ListExpired blocks until it is closed
}

func newFakeExpiredStore(recs ...*models.Recording) *fakeExpiredStore {
	s := &fakeExpiredStore{recs: make(map[uuid.UUID]*models.Recording)}
	for _, r := range recs {
		s.recs[r.ID] = r
	}
	return s
}

func (s *fakeExpiredStore) ListExpired(_ context.Context, now time.Time) ([]models.Recording, error) {
	if s.listGate != nil {
		<-s.listGate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []models.Recording
	for _, r := range s.recs {
		if r.Status == models.RecordingStatusCompleted && r.RetentionDeadline != nil && !r.RetentionDeadline.After(now) {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *fakeExpiredStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recs[id]; !ok {
		return errors.New("no such recording")
	}
	delete(s.recs, id)
	return nil
}

func (s *fakeExpiredStore) has(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.recs[id]
	return ok
}

type fakeBlobDeleter struct {
	mu      sync.Mutex
	deleted []string
	fail    map[string]error
	block   time.Duration // simulated latency per delete
}

func (b *fakeBlobDeleter) Delete(ctx context.Context, objectName string) error {
	if b.block > 0 {
		select {
		case <-time.After(b.block):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err, ok := b.fail[objectName]; ok {
		return err
	}
	b.deleted = append(b.deleted, objectName)
	return nil
}

func completedRecording(deadline time.Time, key string) *models.Recording {
	return &models.Recording{
		ID:                uuid.New(),
		RoomID:            uuid.New(),
		Status:            models.RecordingStatusCompleted,
		StorageKey:        key,
		RetentionDeadline: &deadline,
	}
}

func TestRunOnce_PurgesOnlyExpiredCompleted(t *testing.T) {
	now := time.Now()

	expired := completedRecording(now.Add(-time.Minute), "recordings/a/a.webm")
	boundary := completedRecording(now, "recordings/b/b.webm") // deadline == now counts as expired
	future := completedRecording(now.Add(time.Hour), "recordings/c/c.webm")
	failed := completedRecording(now.Add(-time.Hour), "recordings/d/d.webm")
	failed.Status = models.RecordingStatusFailed

	store := newFakeExpiredStore(expired, boundary, future, failed)
	blob := &fakeBlobDeleter{}
	s := NewSweeper(store, blob, Config{}, nil)
	s.now = func() time.Time { return now }

	deleted, failures := s.RunOnce(context.Background())
	require.Equal(t, 2, deleted)
	require.Zero(t, failures)

	require.False(t, store.has(expired.ID))
	require.False(t, store.has(boundary.ID))
	require.True(t, store.has(future.ID))
	require.True(t, store.has(failed.ID))
	require.ElementsMatch(t, []string{expired.StorageKey, boundary.StorageKey}, blob.deleted)
}

func TestRunOnce_BlobFailureStillPurgesMetadata(t *testing.T) {
	now := time.Now()
	broken := completedRecording(now.Add(-time.Minute), "recordings/x/x.webm")
	healthy := completedRecording(now.Add(-time.Minute), "recordings/y/y.webm")

	store := newFakeExpiredStore(broken, healthy)
	blob := &fakeBlobDeleter{fail: map[string]error{broken.StorageKey: errors.New("remote delete refused")}}
	s := NewSweeper(store, blob, Config{}, nil)
	s.now = func() time.Time { return now }

	deleted, failures := s.RunOnce(context.Background())
	require.Equal(t, 2, deleted) // both records purged
	require.Equal(t, 1, failures)

	require.False(t, store.has(broken.ID))
	require.False(t, store.has(healthy.ID))
	require.Equal(t, []string{healthy.StorageKey}, blob.deleted)
}

func TestRunOnce_EmptyStorageKeySkipsBlobDelete(t *testing.T) {
	now := time.Now()
	rec := completedRecording(now.Add(-time.Minute), "")

	store := newFakeExpiredStore(rec)
	blob := &fakeBlobDeleter{}
	s := NewSweeper(store, blob, Config{}, nil)
	s.now = func() time.Time { return now }

	deleted, failures := s.RunOnce(context.Background())
	require.Equal(t, 1, deleted)
	require.Zero(t, failures)
	require.Empty(t, blob.deleted)
}

func TestRunOnce_SlowBlobDeleteIsTimeBoxed(t *testing.T) {
	now := time.Now()
	slow := completedRecording(now.Add(-time.Minute), "recordings/slow/slow.webm")
	fast := completedRecording(now.Add(-time.Minute), "recordings/fast/fast.webm")

	store := newFakeExpiredStore(slow, fast)
	blob := &fakeBlobDeleter{block: 200 * time.Millisecond}
	s := NewSweeper(store, blob, Config{PerObjectTimeout: 20 * time.Millisecond}, nil)
	s.now = func() time.Time { return now }

	deleted, failures := s.RunOnce(context.Background())
	// Each delete times out but both records are still purged.
	require.Equal(t, 2, deleted)
	require.Equal(t, 2, failures)
	require.False(t, store.has(slow.ID))
	require.False(t, store.has(fast.ID))
}

func TestRunOnce_ListErrorIsSafe(t *testing.T) {
	store := newFakeExpiredStore()
	store.listErr = errors.New("connection reset")
	s := NewSweeper(store, &fakeBlobDeleter{}, Config{}, nil)

	deleted, failures := s.RunOnce(context.Background())
	require.Zero(t, deleted)
	require.Zero(t, failures)
}

func TestStartStop_RunsImmediateSweep(t *testing.T) {
	now := time.Now()
	rec := completedRecording(now.Add(-time.Minute), "recordings/z/z.webm")

	store := newFakeExpiredStore(rec)
	s := NewSweeper(store, &fakeBlobDeleter{}, Config{Interval: time.Hour}, nil)
	s.now = func() time.Time { return now }

	require.NoError(t, s.Start())
	defer s.Stop()

	require.Eventually(t, func() bool { return !store.has(rec.ID) },
		2*time.Second, 10*time.Millisecond)
}

func TestStop_WaitsForStartupSweep(t *testing.T) {
	now := time.Now()
	rec := completedRecording(now.Add(-time.Minute), "recordings/w/w.webm")

	gate := make(chan struct{})
	store := newFakeExpiredStore(rec)
	store.listGate = gate
	s := NewSweeper(store, &fakeBlobDeleter{}, Config{Interval: time.Hour}, nil)
	s.now = func() time.Time { return now }

	require.NoError(t, s.Start())

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	// The startup sweep is held at ListExpired; Stop must not return yet.
	select {
	case <-stopped:
		t.Fatal("Stop returned while the startup sweep was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(gate)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the startup sweep finished")
	}
	require.False(t, store.has(rec.ID))
}
