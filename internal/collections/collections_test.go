package collections

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"zimupdates/internal/relsync"
	"zimupdates/internal/store"
)

type fakeMedia struct {
	urlFn func(filename string) (string, error)
}

func (f fakeMedia) URL(_ context.Context, filename string) (string, error) {
	return f.urlFn(filename)
}

type fakeIndexer struct {
	indexed []int64
	removed []int64
}

func (f *fakeIndexer) IndexUpdate(_ context.Context, doc store.Record) {
	f.indexed = append(f.indexed, doc.ID)
}

func (f *fakeIndexer) RemoveUpdate(_ context.Context, id int64) {
	f.removed = append(f.removed, id)
}

type fakePages struct {
	invalidated []int64
	err         error
}

func (f *fakePages) Invalidate(_ context.Context, id int64) error {
	f.invalidated = append(f.invalidated, id)
	return f.err
}

func newRegistry(t *testing.T, s *store.MemoryStore, deps Deps) *Registry {
	t.Helper()
	deps.Store = s
	deps.Logger = zap.NewNop()
	return Default(deps)
}

func mustGet(t *testing.T, r *Registry, slug string) Collection {
	t.Helper()
	c, ok := r.Get(slug)
	require.True(t, ok, slug)
	return c
}

func TestRegistrySlugs(t *testing.T) {
	r := newRegistry(t, store.NewMemoryStore(), Deps{})
	assert.Equal(t, []string{"kids", "media", "sponsors", "updates", "users"}, r.Slugs())
	_, ok := r.Get("pages")
	assert.False(t, ok)
}

func TestValidateRequiredFields(t *testing.T) {
	sponsors := mustGet(t, newRegistry(t, store.NewMemoryStore(), Deps{}), store.Sponsors)

	err := sponsors.Validate(OperationCreate, map[string]any{"firstName": "Jane", "lastName": " "})
	require.ErrorIs(t, err, ErrValidation)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, []string{"lastName", "email"}, verr.Fields)

	assert.NoError(t, sponsors.Validate(OperationUpdate, map[string]any{"phoneNumber": "555"}))
	assert.ErrorIs(t, sponsors.Validate(OperationUpdate, map[string]any{"email": ""}), ErrValidation)
}

func TestSponsorNameDerivation(t *testing.T) {
	sponsors := mustGet(t, newRegistry(t, store.NewMemoryStore(), Deps{}), store.Sponsors)
	ctx := context.Background()

	data, err := sponsors.BeforeChange(ctx, ChangeArgs{
		Operation: OperationCreate,
		Data:      map[string]any{"firstName": " Jane ", "lastName": "Doe", "name": "ignored", "email": "jane@x.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", data["name"])

	original := store.Record{ID: 4, Data: map[string]any{"firstName": "Jane", "lastName": "Doe", "name": "Jane Doe"}}
	data, err = sponsors.BeforeChange(ctx, ChangeArgs{
		Operation: OperationUpdate,
		Data:      map[string]any{"lastName": "Smith"},
		Original:  original,
	})
	require.NoError(t, err)
	assert.Equal(t, "Jane Smith", data["name"])
}

func TestUserNameFallsBackToEmailOnCreate(t *testing.T) {
	users := mustGet(t, newRegistry(t, store.NewMemoryStore(), Deps{}), store.Users)
	ctx := context.Background()

	data, err := users.BeforeChange(ctx, ChangeArgs{Operation: OperationCreate, Data: map[string]any{"email": "jane@x.com"}})
	require.NoError(t, err)
	assert.Equal(t, "jane", data["name"])

	data, err = users.BeforeChange(ctx, ChangeArgs{
		Operation: OperationUpdate,
		Data:      map[string]any{"email": "other@x.com"},
		Original:  store.Record{ID: 1, Data: map[string]any{"email": "jane@x.com", "name": "Kept"}},
	})
	require.NoError(t, err)
	assert.NotContains(t, data, "name")
}

func TestUpdateSlugDerivation(t *testing.T) {
	updates := mustGet(t, newRegistry(t, store.NewMemoryStore(), Deps{}), store.Updates)
	ctx := context.Background()

	data, err := updates.BeforeChange(ctx, ChangeArgs{Operation: OperationCreate, Data: map[string]any{"title": "Hello, World!  Update"}})
	require.NoError(t, err)
	assert.Equal(t, "hello-world-update", data["slug"])

	data, err = updates.BeforeChange(ctx, ChangeArgs{
		Operation: OperationUpdate,
		Data:      map[string]any{"title": "Renamed"},
		Original:  store.Record{ID: 2, Data: map[string]any{"title": "Old", "slug": "old"}},
	})
	require.NoError(t, err)
	assert.NotContains(t, data, "slug")
}

func TestRelationshipPayloadIsNormalized(t *testing.T) {
	kids := mustGet(t, newRegistry(t, store.NewMemoryStore(), Deps{}), store.Kids)
	data, err := kids.BeforeChange(context.Background(), ChangeArgs{
		Operation: OperationCreate,
		Data:      map[string]any{"name": "k", "sponsors": []any{"3", map[string]any{"id": 4.0}, "junk"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 4}, data["sponsors"])

	stripped := kids.StripDerived(map[string]any{"name": "k", ActiveSponsorsField: []int64{1}})
	assert.Equal(t, map[string]any{"name": "k"}, stripped)
}

func TestSponsorUpdateSyncsKids(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	sponsors := mustGet(t, newRegistry(t, s, Deps{}), store.Sponsors)

	a, err := s.Create(ctx, store.Kids, map[string]any{"name": "A"})
	require.NoError(t, err)
	b, err := s.Create(ctx, store.Kids, map[string]any{"name": "B"})
	require.NoError(t, err)
	sponsor, err := s.Create(ctx, store.Sponsors, map[string]any{"sponsoredKids": []int64{}})
	require.NoError(t, err)

	updated, err := s.Update(ctx, store.Sponsors, sponsor.ID, map[string]any{"sponsoredKids": []int64{a.ID, b.ID}})
	require.NoError(t, err)

	// creates never sync
	sponsors.AfterChange(ctx, AfterChangeArgs{Operation: OperationCreate, Doc: updated})
	kid, err := s.Find(ctx, store.Kids, a.ID)
	require.NoError(t, err)
	assert.Empty(t, relsync.NormalizeIDs(kid.Get("sponsors")))

	sponsors.AfterChange(ctx, AfterChangeArgs{Operation: OperationUpdate, Doc: updated, Previous: sponsor})
	for _, id := range []int64{a.ID, b.ID} {
		kid, err := s.Find(ctx, store.Kids, id)
		require.NoError(t, err)
		assert.Equal(t, []int64{sponsor.ID}, relsync.NormalizeIDs(kid.Get("sponsors")))
	}
}

func TestSyncFailureDoesNotPanicOrPropagate(t *testing.T) {
	s := store.NewMemoryStore()
	sponsors := mustGet(t, newRegistry(t, s, Deps{}), store.Sponsors)
	doc := store.Record{ID: 1, Data: map[string]any{"sponsoredKids": []any{float64(77)}}}

	assert.NotPanics(t, func() {
		sponsors.AfterChange(context.Background(), AfterChangeArgs{Operation: OperationUpdate, Doc: doc, Previous: store.Record{ID: 1}})
	})
}

func TestKidReadProjectsActiveSponsors(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	kids := mustGet(t, newRegistry(t, s, Deps{}), store.Kids)

	kid, err := s.Create(ctx, store.Kids, map[string]any{"name": "k", ActiveSponsorsField: []int64{500}})
	require.NoError(t, err)
	sponsor, err := s.Create(ctx, store.Sponsors, map[string]any{"sponsoredKids": []int64{kid.ID}})
	require.NoError(t, err)

	read := kids.AfterRead(ctx, kid)
	assert.Equal(t, []int64{sponsor.ID}, read.Get(ActiveSponsorsField))
}

func TestMediaReadAddsURL(t *testing.T) {
	media := mustGet(t, newRegistry(t, store.NewMemoryStore(), Deps{Media: fakeMedia{urlFn: func(filename string) (string, error) {
		if filename == "broken.png" {
			return "", errors.New("no bucket")
		}
		return "https://cdn.example.org/" + filename, nil
	}}}), store.Media)
	ctx := context.Background()

	doc := media.AfterRead(ctx, store.Record{ID: 1, Data: map[string]any{"filename": "kid.png"}})
	assert.Equal(t, "https://cdn.example.org/kid.png", doc.String("url"))

	broken := media.AfterRead(ctx, store.Record{ID: 2, Data: map[string]any{"filename": "broken.png"}})
	assert.NotContains(t, broken.Data, "url")
}

func TestUpdateHooksFeedIndexer(t *testing.T) {
	indexer := &fakeIndexer{}
	updates := mustGet(t, newRegistry(t, store.NewMemoryStore(), Deps{Indexer: indexer}), store.Updates)
	ctx := context.Background()

	updates.AfterChange(ctx, AfterChangeArgs{Operation: OperationCreate, Doc: store.Record{ID: 9}})
	updates.AfterChange(ctx, AfterChangeArgs{Operation: OperationUpdate, Doc: store.Record{ID: 9}})
	updates.AfterDelete(ctx, store.Record{ID: 9})

	assert.Equal(t, []int64{9, 9}, indexer.indexed)
	assert.Equal(t, []int64{9}, indexer.removed)
	assert.True(t, updates.PublicRead)
}

func TestUpdateEditsInvalidateCachedPages(t *testing.T) {
	pages := &fakePages{}
	updates := mustGet(t, newRegistry(t, store.NewMemoryStore(), Deps{Pages: pages}), store.Updates)
	ctx := context.Background()

	updates.AfterChange(ctx, AfterChangeArgs{Operation: OperationCreate, Doc: store.Record{ID: 3}})
	assert.Empty(t, pages.invalidated)

	updates.AfterChange(ctx, AfterChangeArgs{Operation: OperationUpdate, Doc: store.Record{ID: 3}})
	updates.AfterDelete(ctx, store.Record{ID: 4})
	assert.Equal(t, []int64{3, 4}, pages.invalidated)

	// a cache outage is logged, not raised
	pages.err = errors.New("redis down")
	updates.AfterDelete(ctx, store.Record{ID: 5})
	assert.Equal(t, []int64{3, 4, 5}, pages.invalidated)
}
