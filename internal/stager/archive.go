package stager

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"sead/internal/archive"
	"sead/internal/lockmgr"
	"sead/internal/sip"
)

// ArchiveStager persists packages as staged-package records in the archive
// database. Read-modify-write sequences on one id are serialized through a
// keyed locker.
type ArchiveStager struct {
	store  *archive.Store
	locker lockmgr.Locker
}

// NewArchiveStager returns a stager over store. A nil locker gets a private
// in-process one.
func NewArchiveStager(store *archive.Store, locker lockmgr.Locker) (*ArchiveStager, error) {
	if store == nil {
		return nil, errors.New("archive stager: store is nil")
	}
	if locker == nil {
		locker = lockmgr.NewMemoryLocker()
	}
	return &ArchiveStager{store: store, locker: locker}, nil
}

func (a *ArchiveStager) Keys(ctx context.Context) ([]string, error) {
	ids, err := a.store.IDs(ctx, archive.KindStagedPackage)
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

func (a *ArchiveStager) Get(ctx context.Context, id string) (*sip.Package, error) {
	return a.load(ctx, id)
}

func (a *ArchiveStager) Add(ctx context.Context, pkg *sip.Package) (string, error) {
	id, err := idFor(pkg, a.NewID)
	if err != nil {
		return "", err
	}
	stored, err := prepare(id, pkg)
	if err != nil {
		return "", err
	}
	err = a.withLock(ctx, id, func() error {
		if err := a.CheckAvailable(ctx, id); err != nil {
			return err
		}
		return a.save(ctx, stored)
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (a *ArchiveStager) Update(ctx context.Context, id string, pkg *sip.Package) error {
	stored, err := prepare(id, pkg)
	if err != nil {
		return err
	}
	return a.withLock(ctx, id, func() error {
		existing, err := a.store.Get(ctx, id)
		if err != nil {
			return err
		}
		if existing != nil && existing.Kind != archive.KindStagedPackage {
			return fmt.Errorf("%w: %s is a %s", ErrIDTaken, id, existing.Kind)
		}
		return a.save(ctx, stored)
	})
}

// CheckAvailable reports whether id can be used for a new staged package:
// ErrExists when a package is already staged under it, ErrIDTaken when an
// archived entity owns it.
func (a *ArchiveStager) CheckAvailable(ctx context.Context, id string) error {
	existing, err := a.store.Get(ctx, id)
	switch {
	case err != nil:
		return err
	case existing == nil:
		return nil
	case existing.Kind == archive.KindStagedPackage:
		return fmt.Errorf("%w: %s", ErrExists, id)
	default:
		return fmt.Errorf("%w: %s is a %s", ErrIDTaken, id, existing.Kind)
	}
}

func (a *ArchiveStager) Remove(ctx context.Context, id string) error {
	return a.withLock(ctx, id, func() error {
		existing, err := a.store.Get(ctx, id)
		if err != nil {
			return err
		}
		if existing == nil || existing.Kind != archive.KindStagedPackage {
			return nil
		}
		return a.store.Delete(ctx, id)
	})
}

func (a *ArchiveStager) NewID() string {
	return a.store.NewID()
}

func (a *ArchiveStager) load(ctx context.Context, id string) (*sip.Package, error) {
	entity, err := a.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if entity == nil || entity.Kind != archive.KindStagedPackage {
		return nil, notFound(id)
	}
	pkg, err := sip.Decode(entity.Body)
	if err != nil {
		return nil, fmt.Errorf("load staged sip %s: %w", id, err)
	}
	pkg.ID = id
	return pkg, nil
}

func (a *ArchiveStager) save(ctx context.Context, pkg *sip.Package) error {
	body, err := sip.Encode(pkg)
	if err != nil {
		return err
	}
	return a.store.Put(ctx, archive.Entity{ID: pkg.ID, Kind: archive.KindStagedPackage, Body: body})
}

func (a *ArchiveStager) withLock(ctx context.Context, id string, fn func() error) error {
	key := "staged-sip:" + id
	if err := a.locker.Lock(ctx, key); err != nil {
		return err
	}
	defer func() { _ = a.locker.Unlock(key) }()
	return fn()
}
