// Package collections declares the content collections and the hooks that
// run around their writes and reads.
package collections

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"zimupdates/internal/store"
)

// ErrValidation marks a payload missing required fields.
var ErrValidation = errors.New("validation failed")

type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
)

// ChangeArgs is handed to beforeChange hooks. Data is the submitted payload;
// Original is the stored record on update and the zero Record on create.
type ChangeArgs struct {
	Operation Operation
	Data      map[string]any
	Original  store.Record
}

// Merged returns the stored fields overlaid with the submitted ones.
func (a ChangeArgs) Merged() map[string]any {
	out := make(map[string]any, len(a.Original.Data)+len(a.Data))
	for key, value := range a.Original.Data {
		out[key] = value
	}
	for key, value := range a.Data {
		out[key] = value
	}
	return out
}

// AfterChangeArgs is handed to afterChange hooks once the write committed.
type AfterChangeArgs struct {
	Operation Operation
	Doc       store.Record
	Previous  store.Record
}

type (
	BeforeChangeHook func(ctx context.Context, args ChangeArgs) (map[string]any, error)
	AfterChangeHook  func(ctx context.Context, args AfterChangeArgs)
	AfterReadHook    func(ctx context.Context, doc store.Record) store.Record
	AfterDeleteHook  func(ctx context.Context, doc store.Record)
)

type Hooks struct {
	BeforeChange []BeforeChangeHook
	AfterChange  []AfterChangeHook
	AfterRead    []AfterReadHook
	AfterDelete  []AfterDeleteHook
}

type Collection struct {
	Slug string
	// Required fields must be non-empty on create and may not be cleared on update.
	Required []string
	// Derived fields are computed on read and dropped from every write.
	Derived    []string
	PublicRead bool
	Hooks      Hooks
}

// ValidationError lists the offending fields.
type ValidationError struct {
	Collection string
	Fields     []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: missing required fields: %s", e.Collection, strings.Join(e.Fields, ", "))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// StripDerived returns data without the collection's derived fields.
func (c Collection) StripDerived(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for key, value := range data {
		out[key] = value
	}
	for _, field := range c.Derived {
		delete(out, field)
	}
	return out
}

// Validate checks required fields for the given operation.
func (c Collection) Validate(op Operation, data map[string]any) error {
	var missing []string
	for _, field := range c.Required {
		value, present := data[field]
		if op == OperationUpdate && !present {
			continue
		}
		if isEmpty(value) {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return &ValidationError{Collection: c.Slug, Fields: missing}
	}
	return nil
}

// BeforeChange runs the beforeChange hooks in order, each seeing the
// previous hook's output.
func (c Collection) BeforeChange(ctx context.Context, args ChangeArgs) (map[string]any, error) {
	data := args.Data
	for _, hook := range c.Hooks.BeforeChange {
		next, err := hook(ctx, ChangeArgs{Operation: args.Operation, Data: data, Original: args.Original})
		if err != nil {
			return nil, fmt.Errorf("%s before change: %w", c.Slug, err)
		}
		data = next
	}
	return data, nil
}

func (c Collection) AfterChange(ctx context.Context, args AfterChangeArgs) {
	for _, hook := range c.Hooks.AfterChange {
		hook(ctx, args)
	}
}

func (c Collection) AfterRead(ctx context.Context, doc store.Record) store.Record {
	for _, hook := range c.Hooks.AfterRead {
		doc = hook(ctx, doc)
	}
	return doc
}

func (c Collection) AfterDelete(ctx context.Context, doc store.Record) {
	for _, hook := range c.Hooks.AfterDelete {
		hook(ctx, doc)
	}
}

func isEmpty(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	default:
		return false
	}
}

// Registry holds the collections served by the API.
type Registry struct {
	collections map[string]Collection
}

func NewRegistry(items ...Collection) *Registry {
	r := &Registry{collections: make(map[string]Collection, len(items))}
	for _, item := range items {
		r.Register(item)
	}
	return r
}

func (r *Registry) Register(c Collection) {
	r.collections[c.Slug] = c
}

func (r *Registry) Get(slug string) (Collection, bool) {
	c, ok := r.collections[slug]
	return c, ok
}

func (r *Registry) Slugs() []string {
	slugs := make([]string, 0, len(r.collections))
	for slug := range r.collections {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)
	return slugs
}
