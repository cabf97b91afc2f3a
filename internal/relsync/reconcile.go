package relsync

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"zimupdates/internal/store"
)

const reconcilePageSize = 100

// Report summarizes one reconciliation pass.
type Report struct {
	Scanned  int
	Repaired []int64
	Failures []Failure
}

// Reconciler repairs drift left behind by failed sync batches. The inverse
// side of the link is authoritative: Link.Field on every record of
// Link.Collection is rewritten to match what the inverse records reference.
type Reconciler struct {
	store     Store
	link      Link
	projector *Projector
	logger    *zap.Logger
}

func NewReconciler(s Store, link Link, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		store:     s,
		link:      link,
		projector: NewProjector(s, link.Field, Link{Collection: link.InverseCollection, Field: link.InverseField}, DefaultProjectionLimit, logger),
		logger:    logger.Named("reconciler").With(zap.Stringer("link", link)),
	}
}

// Reconcile scans the collection once. Individual repair failures are
// collected; only a failure to page through the collection aborts the pass.
func (r *Reconciler) Reconcile(ctx context.Context) (Report, error) {
	report := Report{Repaired: []int64{}}
	for offset := 0; ; offset += reconcilePageSize {
		page, err := r.store.Query(ctx, r.link.Collection, store.Query{Sort: "id", Limit: reconcilePageSize, Offset: offset})
		if err != nil {
			return report, fmt.Errorf("scan %s: %w", r.link.Collection, err)
		}
		for _, rec := range page {
			report.Scanned++
			repaired, err := r.repair(ctx, rec)
			if err != nil {
				report.Failures = append(report.Failures, Failure{TargetID: rec.ID, Op: OpRepair, Err: err})
				continue
			}
			if repaired {
				report.Repaired = append(report.Repaired, rec.ID)
			}
		}
		if len(page) < reconcilePageSize {
			break
		}
	}

	r.logger.Info("reconcile pass complete",
		zap.Int("scanned", report.Scanned),
		zap.Int64s("repaired", report.Repaired),
		zap.Int("failures", len(report.Failures)),
	)
	return report, nil
}

func (r *Reconciler) repair(ctx context.Context, rec store.Record) (bool, error) {
	want, err := r.projector.Lookup(ctx, rec.ID)
	if err != nil {
		return false, fmt.Errorf("lookup %s referencing %d: %w", r.link.InverseCollection, rec.ID, err)
	}
	if SameSet(NormalizeIDs(rec.Get(r.link.Field)), want) {
		return false, nil
	}
	if _, err := r.store.Update(ctx, r.link.Collection, rec.ID, map[string]any{r.link.Field: want}); err != nil {
		return false, fmt.Errorf("write %s %d: %w", r.link.Collection, rec.ID, err)
	}
	return true, nil
}

// Run reconciles every interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Reconcile(ctx); err != nil {
				r.logger.Warn("reconcile pass failed", zap.Error(err))
			}
		}
	}
}
