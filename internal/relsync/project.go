package relsync

import (
	"context"

	"go.uber.org/zap"

	"zimupdates/internal/store"
)

// DefaultProjectionLimit caps the inverse query behind a derived field.
const DefaultProjectionLimit = 1000

// Projector fills a read-only field with the ids of inverse records that
// reference the record being read. The persisted value is never trusted.
type Projector struct {
	store   Store
	field   string
	inverse Link
	limit   int
	logger  *zap.Logger
}

// NewProjector derives field from inverse.Field of the records in
// inverse.Collection.
func NewProjector(s Store, field string, inverse Link, limit int, logger *zap.Logger) *Projector {
	if limit <= 0 {
		limit = DefaultProjectionLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Projector{
		store:   s,
		field:   field,
		inverse: inverse,
		limit:   limit,
		logger:  logger.Named("projector").With(zap.String("field", field)),
	}
}

func (p *Projector) Field() string {
	return p.field
}

// Lookup returns the ids of inverse records referencing id, in query order.
func (p *Projector) Lookup(ctx context.Context, id int64) ([]int64, error) {
	items, err := p.store.Query(ctx, p.inverse.Collection, store.Query{
		Where: []store.Condition{{Field: p.inverse.Field, Op: store.OpContains, Value: id}},
		Limit: p.limit,
	})
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	return ids, nil
}

// Project returns a copy of rec with the derived field recomputed. When the
// query fails the record is returned as it was.
func (p *Projector) Project(ctx context.Context, rec store.Record) store.Record {
	ids, err := p.Lookup(ctx, rec.ID)
	if err != nil {
		p.logger.Warn("derived field projection failed", zap.Int64("id", rec.ID), zap.Error(err))
		return rec
	}
	out := rec.Clone()
	out.Data[p.field] = ids
	return out
}
