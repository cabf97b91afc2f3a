package collections

import (
	"context"

	"go.uber.org/zap"

	"zimupdates/internal/relsync"
	"zimupdates/internal/store"
)

// Relationship between sponsors and the kids they sponsor. Both sides are
// editable; kids additionally expose the live activeSponsors projection.
var (
	SponsorKids = relsync.Link{
		Collection:        store.Sponsors,
		Field:             "sponsoredKids",
		InverseCollection: store.Kids,
		InverseField:      "sponsors",
	}
	KidSponsors = SponsorKids.Reverse()
)

const ActiveSponsorsField = "activeSponsors"

// MediaURLs resolves the public URL of an uploaded file.
type MediaURLs interface {
	URL(ctx context.Context, filename string) (string, error)
}

// Indexer receives update documents for search. Calls must not block on
// the search backend.
type Indexer interface {
	IndexUpdate(ctx context.Context, doc store.Record)
	RemoveUpdate(ctx context.Context, id int64)
}

// PageCache holds rendered update pages that go stale on edit or delete.
type PageCache interface {
	Invalidate(ctx context.Context, id int64) error
}

type Deps struct {
	Store   relsync.Store
	Media   MediaURLs
	Indexer Indexer
	Pages   PageCache
	Logger  *zap.Logger
}

// Default builds the registry of the five content collections.
func Default(deps Deps) *Registry {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("collections")

	sponsorSync := relsync.NewSyncer(deps.Store, SponsorKids, logger)
	kidSync := relsync.NewSyncer(deps.Store, KidSponsors, logger)
	active := relsync.NewProjector(deps.Store, ActiveSponsorsField, SponsorKids, relsync.DefaultProjectionLimit, logger)

	users := Collection{
		Slug:     store.Users,
		Required: []string{"email"},
		Hooks: Hooks{
			BeforeChange: []BeforeChangeHook{deriveNameHook},
		},
	}

	media := Collection{
		Slug:       store.Media,
		Required:   []string{"filename"},
		PublicRead: true,
		Hooks: Hooks{
			AfterRead: []AfterReadHook{mediaURLHook(deps.Media, logger)},
		},
	}

	kids := Collection{
		Slug:     store.Kids,
		Required: []string{"name"},
		Derived:  []string{ActiveSponsorsField},
		Hooks: Hooks{
			BeforeChange: []BeforeChangeHook{normalizeRelationshipHook(KidSponsors.Field)},
			AfterChange:  []AfterChangeHook{syncHook(kidSync, logger)},
			AfterRead: []AfterReadHook{func(ctx context.Context, doc store.Record) store.Record {
				return active.Project(ctx, doc)
			}},
		},
	}

	sponsors := Collection{
		Slug:     store.Sponsors,
		Required: []string{"firstName", "lastName", "email"},
		Hooks: Hooks{
			BeforeChange: []BeforeChangeHook{deriveNameHook, normalizeRelationshipHook(SponsorKids.Field)},
			AfterChange:  []AfterChangeHook{syncHook(sponsorSync, logger)},
		},
	}

	updates := Collection{
		Slug:       store.Updates,
		Required:   []string{"title"},
		PublicRead: true,
		Hooks: Hooks{
			BeforeChange: []BeforeChangeHook{deriveSlugHook},
		},
	}
	if deps.Indexer != nil {
		updates.Hooks.AfterChange = append(updates.Hooks.AfterChange, func(ctx context.Context, args AfterChangeArgs) {
			deps.Indexer.IndexUpdate(ctx, args.Doc)
		})
		updates.Hooks.AfterDelete = append(updates.Hooks.AfterDelete, func(ctx context.Context, doc store.Record) {
			deps.Indexer.RemoveUpdate(ctx, doc.ID)
		})
	}
	if deps.Pages != nil {
		updates.Hooks.AfterChange = append(updates.Hooks.AfterChange, func(ctx context.Context, args AfterChangeArgs) {
			if args.Operation == OperationUpdate {
				invalidatePage(ctx, deps.Pages, args.Doc.ID, logger)
			}
		})
		updates.Hooks.AfterDelete = append(updates.Hooks.AfterDelete, func(ctx context.Context, doc store.Record) {
			invalidatePage(ctx, deps.Pages, doc.ID, logger)
		})
	}

	return NewRegistry(users, media, kids, sponsors, updates)
}

func deriveNameHook(_ context.Context, args ChangeArgs) (map[string]any, error) {
	merged := args.Merged()
	existing := stringField(merged, "name")
	if args.Operation == OperationCreate {
		existing = stringField(args.Data, "name")
	}
	name, ok := DeriveName(NameInput{
		FirstName:    stringField(merged, "firstName"),
		LastName:     stringField(merged, "lastName"),
		Email:        stringField(merged, "email"),
		Operation:    args.Operation,
		ExistingName: existing,
	})
	if !ok {
		return args.Data, nil
	}
	return withField(args.Data, "name", name), nil
}

func deriveSlugHook(_ context.Context, args ChangeArgs) (map[string]any, error) {
	merged := args.Merged()
	slug, ok := DeriveSlug(stringField(merged, "slug"), stringField(merged, "title"))
	if !ok {
		return args.Data, nil
	}
	return withField(args.Data, "slug", slug), nil
}

// normalizeRelationshipHook stores relationship fields as plain id arrays.
func normalizeRelationshipHook(field string) BeforeChangeHook {
	return func(_ context.Context, args ChangeArgs) (map[string]any, error) {
		value, ok := args.Data[field]
		if !ok {
			return args.Data, nil
		}
		return withField(args.Data, field, relsync.NormalizeIDs(value)), nil
	}
}

// syncHook mirrors relationship edits onto the inverse collection. Sync
// failures are logged and never fail the write that triggered them.
func syncHook(syncer *relsync.Syncer, logger *zap.Logger) AfterChangeHook {
	link := syncer.Link()
	return func(ctx context.Context, args AfterChangeArgs) {
		if args.Operation != OperationUpdate {
			return
		}
		result := syncer.Sync(ctx, args.Doc.ID, args.Previous.Get(link.Field), args.Doc.Get(link.Field))
		for _, failure := range result.Failures {
			logger.Warn("relationship sync failed",
				zap.Stringer("link", link),
				zap.Int64("owner_id", args.Doc.ID),
				zap.Int64("target_id", failure.TargetID),
				zap.String("op", string(failure.Op)),
				zap.Error(failure.Err),
			)
		}
	}
}

func invalidatePage(ctx context.Context, pages PageCache, id int64, logger *zap.Logger) {
	if err := pages.Invalidate(ctx, id); err != nil {
		logger.Warn("page cache invalidation failed", zap.Int64("id", id), zap.Error(err))
	}
}

func mediaURLHook(urls MediaURLs, logger *zap.Logger) AfterReadHook {
	return func(ctx context.Context, doc store.Record) store.Record {
		filename := doc.String("filename")
		if urls == nil || filename == "" {
			return doc
		}
		url, err := urls.URL(ctx, filename)
		if err != nil {
			logger.Warn("media url failed", zap.Int64("id", doc.ID), zap.String("filename", filename), zap.Error(err))
			return doc
		}
		out := doc.Clone()
		out.Data["url"] = url
		return out
	}
}

func stringField(data map[string]any, field string) string {
	value, _ := data[field].(string)
	return value
}

func withField(data map[string]any, field string, value any) map[string]any {
	out := make(map[string]any, len(data)+1)
	for key, existing := range data {
		out[key] = existing
	}
	out[field] = value
	return out
}
