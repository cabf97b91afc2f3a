package relsync

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"zimupdates/internal/store"
)

// Store is the slice of the record store the sync batch and projector use.
// Writes go straight to the store, below the service's access checks.
type Store interface {
	Find(ctx context.Context, collection string, id int64) (store.Record, error)
	Query(ctx context.Context, collection string, q store.Query) ([]store.Record, error)
	Update(ctx context.Context, collection string, id int64, fields map[string]any) (store.Record, error)
}

// Link names a relationship field and its inverse in another collection.
type Link struct {
	Collection        string
	Field             string
	InverseCollection string
	InverseField      string
}

// Reverse returns the same relationship seen from the inverse side.
func (l Link) Reverse() Link {
	return Link{
		Collection:        l.InverseCollection,
		Field:             l.InverseField,
		InverseCollection: l.Collection,
		InverseField:      l.Field,
	}
}

func (l Link) String() string {
	return fmt.Sprintf("%s.%s<->%s.%s", l.Collection, l.Field, l.InverseCollection, l.InverseField)
}

type Op string

const (
	OpAdd    Op = "add"
	OpRemove Op = "remove"
	OpRepair Op = "repair"
)

// Failure records one target the batch could not update.
type Failure struct {
	TargetID int64
	Op       Op
	Err      error
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s owner on %d: %v", f.Op, f.TargetID, f.Err)
}

func (f Failure) Unwrap() error {
	return f.Err
}

// Result describes a settled sync batch.
type Result struct {
	Added    []int64
	Removed  []int64
	Failures []Failure
}

// Err joins the batch failures, or returns nil.
func (r Result) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failures))
	for _, f := range r.Failures {
		errs = append(errs, f)
	}
	return errors.Join(errs...)
}

// Syncer mirrors edits of Link.Field onto Link.InverseField of the
// referenced records.
type Syncer struct {
	store  Store
	link   Link
	logger *zap.Logger
}

func NewSyncer(s Store, link Link, logger *zap.Logger) *Syncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Syncer{store: s, link: link, logger: logger.Named("relsync").With(zap.Stringer("link", link))}
}

func (s *Syncer) Link() Link {
	return s.link
}

// Sync applies the diff between previous and next relationship values of
// owner to the inverse side. Every target is fetched and written
// independently and concurrently; the call returns once all have settled.
// Failures are reported in the result and never abort the batch.
func (s *Syncer) Sync(ctx context.Context, ownerID int64, previous, next any) Result {
	delta := Diff(NormalizeIDs(previous), NormalizeIDs(next))
	result := Result{Added: []int64{}, Removed: []int64{}}
	if delta.Empty() {
		return result
	}

	// once issued, target writes run to completion
	ctx = context.WithoutCancel(ctx)

	var mu sync.Mutex
	record := func(target int64, op Op, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			result.Failures = append(result.Failures, Failure{TargetID: target, Op: op, Err: err})
			return
		}
		if op == OpAdd {
			result.Added = append(result.Added, target)
		} else {
			result.Removed = append(result.Removed, target)
		}
	}

	var eg errgroup.Group
	for _, target := range delta.ToAdd {
		eg.Go(func() error {
			record(target, OpAdd, s.apply(ctx, target, func(ids []int64) []int64 { return withID(ids, ownerID) }))
			return nil
		})
	}
	for _, target := range delta.ToRemove {
		eg.Go(func() error {
			record(target, OpRemove, s.apply(ctx, target, func(ids []int64) []int64 { return withoutID(ids, ownerID) }))
			return nil
		})
	}
	_ = eg.Wait()

	s.logger.Debug("relationship batch settled",
		zap.Int64("owner_id", ownerID),
		zap.Int64s("added", result.Added),
		zap.Int64s("removed", result.Removed),
		zap.Int("failures", len(result.Failures)),
	)
	return result
}

func (s *Syncer) apply(ctx context.Context, target int64, change func([]int64) []int64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sync %s %d: panic: %v", s.link.InverseCollection, target, r)
		}
	}()

	current, err := s.store.Find(ctx, s.link.InverseCollection, target)
	if err != nil {
		return fmt.Errorf("load %s %d: %w", s.link.InverseCollection, target, err)
	}
	ids := change(NormalizeIDs(current.Get(s.link.InverseField)))
	if _, err := s.store.Update(ctx, s.link.InverseCollection, target, map[string]any{s.link.InverseField: ids}); err != nil {
		return fmt.Errorf("write %s %d: %w", s.link.InverseCollection, target, err)
	}
	return nil
}
