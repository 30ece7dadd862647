// Package stager stores staged submission packages by id.
//
// Implementations compose: CachedStager fronts a durable delegate with a
// bounded write-back cache, ArchiveStager persists packages in the archive
// database, QueryStager rebuilds already ingested packages from the archive
// index, and ReadingStager layers a writable stager over read-only
// fallbacks.
package stager

import (
	"context"
	"fmt"

	"sead/internal/services"
	"sead/internal/sip"
)

var (
	// ErrNotFound is returned when no package is staged under an id.
	ErrNotFound = fmt.Errorf("sip %w", services.ErrNotFound)
	// ErrExists is returned by Add when the id is already staged.
	ErrExists = fmt.Errorf("sip already staged: %w", services.ErrConflict)
	// ErrIDTaken is returned when an id already names an archived entity.
	ErrIDTaken = fmt.Errorf("id held by an archived entity: %w", services.ErrConflict)
	// ErrReadOnly is returned for writes to a read-only stager.
	ErrReadOnly = fmt.Errorf("stager is read-only: %w", services.ErrValidation)
)

// Stager stores submission packages. Get hands out copies; mutating a
// returned package has no effect until it is passed to Update.
type Stager interface {
	// Keys lists staged ids in lexical order.
	Keys(ctx context.Context) ([]string, error)
	Get(ctx context.Context, id string) (*sip.Package, error)
	// Add stores pkg under pkg.ID, assigning a new id when it is empty, and
	// returns the id.
	Add(ctx context.Context, pkg *sip.Package) (string, error)
	// Update stores pkg under id, replacing any previous package.
	Update(ctx context.Context, id string, pkg *sip.Package) error
	// Remove deletes the package; removing a missing id is not an error.
	Remove(ctx context.Context, id string) error
	NewID() string
}

func notFound(id string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

// prepare copies pkg for storage under id.
func prepare(id string, pkg *sip.Package) (*sip.Package, error) {
	if pkg == nil {
		return nil, fmt.Errorf("%w: package is nil", services.ErrValidation)
	}
	if id == "" {
		return nil, fmt.Errorf("%w: package id is empty", services.ErrValidation)
	}
	out := pkg.Clone()
	out.ID = id
	return out, nil
}

// idFor returns the id pkg should be added under.
func idFor(pkg *sip.Package, newID func() string) (string, error) {
	if pkg == nil {
		return "", fmt.Errorf("%w: package is nil", services.ErrValidation)
	}
	if pkg.ID != "" {
		return pkg.ID, nil
	}
	return newID(), nil
}
