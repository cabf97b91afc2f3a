package relsync

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"zimupdates/internal/store"
)

var sponsorKids = Link{Collection: store.Sponsors, Field: "sponsoredKids", InverseCollection: store.Kids, InverseField: "sponsors"}

// recordingStore wraps a MemoryStore and counts calls per target id.
type recordingStore struct {
	*store.MemoryStore
	mu       sync.Mutex
	finds    map[int64]int
	updates  map[int64]int
	findFn   func(id int64) error
	updateFn func(id int64) error
}

func newRecordingStore() *recordingStore {
	return &recordingStore{MemoryStore: store.NewMemoryStore(), finds: map[int64]int{}, updates: map[int64]int{}}
}

func (r *recordingStore) Find(ctx context.Context, collection string, id int64) (store.Record, error) {
	r.mu.Lock()
	r.finds[id]++
	r.mu.Unlock()
	if r.findFn != nil {
		if err := r.findFn(id); err != nil {
			return store.Record{}, err
		}
	}
	return r.MemoryStore.Find(ctx, collection, id)
}

func (r *recordingStore) Update(ctx context.Context, collection string, id int64, fields map[string]any) (store.Record, error) {
	r.mu.Lock()
	r.updates[id]++
	r.mu.Unlock()
	if r.updateFn != nil {
		if err := r.updateFn(id); err != nil {
			return store.Record{}, err
		}
	}
	return r.MemoryStore.Update(ctx, collection, id, fields)
}

func mustCreate(t *testing.T, s store.RecordStore, collection string, data map[string]any) store.Record {
	t.Helper()
	rec, err := s.Create(context.Background(), collection, data)
	require.NoError(t, err)
	return rec
}

func inverseIDs(t *testing.T, s store.RecordStore, collection string, id int64, field string) []int64 {
	t.Helper()
	rec, err := s.Find(context.Background(), collection, id)
	require.NoError(t, err)
	return NormalizeIDs(rec.Get(field))
}

func TestSyncTouchesOnlyChangedTargets(t *testing.T) {
	s := newRecordingStore()
	a := mustCreate(t, s, store.Kids, map[string]any{"name": "A"})
	b := mustCreate(t, s, store.Kids, map[string]any{"name": "B"})
	c := mustCreate(t, s, store.Kids, map[string]any{"name": "C"})
	sponsor := mustCreate(t, s, store.Sponsors, map[string]any{"name": "S"})
	_, err := s.MemoryStore.Update(context.Background(), store.Kids, a.ID, map[string]any{"sponsors": []int64{sponsor.ID}})
	require.NoError(t, err)
	_, err = s.MemoryStore.Update(context.Background(), store.Kids, b.ID, map[string]any{"sponsors": []int64{sponsor.ID}})
	require.NoError(t, err)

	syncer := NewSyncer(s, sponsorKids, zap.NewNop())
	result := syncer.Sync(context.Background(), sponsor.ID, []int64{a.ID, b.ID}, []any{b.ID, map[string]any{"id": c.ID}})

	assert.Empty(t, result.Failures)
	assert.NoError(t, result.Err())
	assert.Equal(t, []int64{c.ID}, result.Added)
	assert.Equal(t, []int64{a.ID}, result.Removed)
	assert.Equal(t, 1, s.updates[c.ID])
	assert.Equal(t, 1, s.updates[a.ID])
	assert.Zero(t, s.updates[b.ID])
	assert.Zero(t, s.finds[b.ID])

	assert.Equal(t, []int64{}, inverseIDs(t, s, store.Kids, a.ID, "sponsors"))
	assert.Equal(t, []int64{sponsor.ID}, inverseIDs(t, s, store.Kids, b.ID, "sponsors"))
	assert.Equal(t, []int64{sponsor.ID}, inverseIDs(t, s, store.Kids, c.ID, "sponsors"))
}

func TestSyncLeavesOtherInverseFieldsAlone(t *testing.T) {
	s := newRecordingStore()
	kid := mustCreate(t, s, store.Kids, map[string]any{"name": "Kid", "birthday": "2015-04-01", "sponsors": []any{"9", map[string]any{"id": 9}, 4}})

	syncer := NewSyncer(s, sponsorKids, nil)
	result := syncer.Sync(context.Background(), 11, nil, []int64{kid.ID})
	require.Empty(t, result.Failures)

	rec, err := s.MemoryStore.Find(context.Background(), store.Kids, kid.ID)
	require.NoError(t, err)
	assert.Equal(t, "Kid", rec.String("name"))
	assert.Equal(t, "2015-04-01", rec.String("birthday"))
	assert.Equal(t, []int64{9, 4, 11}, NormalizeIDs(rec.Get("sponsors")))
}

func TestSyncCollectsFailuresWithoutAborting(t *testing.T) {
	s := newRecordingStore()
	ok := mustCreate(t, s, store.Kids, map[string]any{"name": "ok"})
	broken := mustCreate(t, s, store.Kids, map[string]any{"name": "broken"})
	boom := errors.New("connection reset")
	s.updateFn = func(id int64) error {
		if id == broken.ID {
			return boom
		}
		return nil
	}

	syncer := NewSyncer(s, sponsorKids, zap.NewNop())
	result := syncer.Sync(context.Background(), 1, []int64{}, []int64{ok.ID, broken.ID, 404})

	assert.Equal(t, []int64{ok.ID}, result.Added)
	require.Len(t, result.Failures, 2)
	failed := []int64{result.Failures[0].TargetID, result.Failures[1].TargetID}
	sort.Slice(failed, func(i, j int) bool { return failed[i] < failed[j] })
	assert.Equal(t, []int64{broken.ID, 404}, failed)
	assert.ErrorIs(t, result.Err(), boom)
	assert.ErrorIs(t, result.Err(), store.ErrNotFound)
	assert.Equal(t, []int64{1}, inverseIDs(t, s, store.Kids, ok.ID, "sponsors"))
}

func TestSyncRecoversFromPanickingStore(t *testing.T) {
	s := newRecordingStore()
	kid := mustCreate(t, s, store.Kids, map[string]any{"name": "k"})
	s.findFn = func(int64) error { panic("driver bug") }

	result := NewSyncer(s, sponsorKids, zap.NewNop()).Sync(context.Background(), 1, nil, []int64{kid.ID})
	require.Len(t, result.Failures, 1)
	assert.Contains(t, result.Failures[0].Error(), "panic")
}

func TestSyncRunsTargetsConcurrently(t *testing.T) {
	s := newRecordingStore()
	const owner = int64(7)
	addA := mustCreate(t, s, store.Kids, map[string]any{"name": "add a"})
	addB := mustCreate(t, s, store.Kids, map[string]any{"name": "add b"})
	dropA := mustCreate(t, s, store.Kids, map[string]any{"name": "drop a", "sponsors": []int64{owner}})
	dropB := mustCreate(t, s, store.Kids, map[string]any{"name": "drop b", "sponsors": []int64{owner, 3}})

	// every fetch blocks until all four targets are in flight at once
	const targets = 4
	var arrived atomic.Int32
	release := make(chan struct{})
	s.findFn = func(int64) error {
		if arrived.Add(1) == targets {
			close(release)
		}
		select {
		case <-release:
			return nil
		case <-time.After(2 * time.Second):
			return errors.New("targets were not fetched concurrently")
		}
	}

	done := make(chan Result, 1)
	go func() {
		done <- NewSyncer(s, sponsorKids, zap.NewNop()).Sync(context.Background(), owner,
			[]int64{dropA.ID, dropB.ID}, []int64{addA.ID, addB.ID})
	}()

	var result Result
	select {
	case result = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("sync did not settle")
	}
	require.Empty(t, result.Failures)
	assert.ElementsMatch(t, []int64{addA.ID, addB.ID}, result.Added)
	assert.ElementsMatch(t, []int64{dropA.ID, dropB.ID}, result.Removed)

	assert.Equal(t, []int64{owner}, inverseIDs(t, s, store.Kids, addA.ID, "sponsors"))
	assert.Equal(t, []int64{owner}, inverseIDs(t, s, store.Kids, addB.ID, "sponsors"))
	assert.Equal(t, []int64{}, inverseIDs(t, s, store.Kids, dropA.ID, "sponsors"))
	assert.Equal(t, []int64{3}, inverseIDs(t, s, store.Kids, dropB.ID, "sponsors"))
}

func TestSyncNoopWhenUnchanged(t *testing.T) {
	s := newRecordingStore()
	result := NewSyncer(s, sponsorKids, zap.NewNop()).Sync(context.Background(), 1, []any{"3", 2}, []int64{2, 3})
	assert.Empty(t, result.Added)
	assert.Empty(t, result.Removed)
	assert.Empty(t, s.finds)
	assert.Empty(t, s.updates)
}

func TestSyncIgnoresCanceledContext(t *testing.T) {
	s := newRecordingStore()
	kid := mustCreate(t, s, store.Kids, map[string]any{"name": "k"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := NewSyncer(s, sponsorKids, zap.NewNop()).Sync(ctx, 5, nil, []int64{kid.ID})
	assert.Empty(t, result.Failures)
	assert.Equal(t, []int64{5}, inverseIDs(t, s, store.Kids, kid.ID, "sponsors"))
}

func TestLinkReverse(t *testing.T) {
	reversed := sponsorKids.Reverse()
	assert.Equal(t, Link{Collection: store.Kids, Field: "sponsors", InverseCollection: store.Sponsors, InverseField: "sponsoredKids"}, reversed)
	assert.Equal(t, sponsorKids, reversed.Reverse())
	assert.Equal(t, "sponsors.sponsoredKids<->kids.sponsors", sponsorKids.String())
}
