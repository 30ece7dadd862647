package stager

import (
	"context"
	"errors"
	"sort"

	"sead/internal/sip"
)

// ReadingStager sends writes to one stager and serves reads from it first,
// then from each fallback in order.
type ReadingStager struct {
	writable  Stager
	fallbacks []Stager
}

// NewReadingStager composes writable with read-only fallbacks.
func NewReadingStager(writable Stager, fallbacks ...Stager) (*ReadingStager, error) {
	if writable == nil {
		return nil, errors.New("reading stager: writable stager is nil")
	}
	for _, fb := range fallbacks {
		if fb == nil {
			return nil, errors.New("reading stager: fallback is nil")
		}
	}
	return &ReadingStager{writable: writable, fallbacks: fallbacks}, nil
}

// Keys returns the union of every stager's keys.
func (r *ReadingStager) Keys(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	var keys []string
	for _, s := range r.stagers() {
		ids, err := s.Keys(ctx)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				keys = append(keys, id)
			}
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (r *ReadingStager) Get(ctx context.Context, id string) (*sip.Package, error) {
	for _, s := range r.stagers() {
		pkg, err := s.Get(ctx, id)
		if err == nil {
			return pkg, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, notFound(id)
}

func (r *ReadingStager) Add(ctx context.Context, pkg *sip.Package) (string, error) {
	return r.writable.Add(ctx, pkg)
}

func (r *ReadingStager) Update(ctx context.Context, id string, pkg *sip.Package) error {
	return r.writable.Update(ctx, id, pkg)
}

func (r *ReadingStager) Remove(ctx context.Context, id string) error {
	return r.writable.Remove(ctx, id)
}

func (r *ReadingStager) NewID() string {
	return r.writable.NewID()
}

// Writable returns the stager that receives writes.
func (r *ReadingStager) Writable() Stager {
	return r.writable
}

func (r *ReadingStager) stagers() []Stager {
	return append([]Stager{r.writable}, r.fallbacks...)
}
