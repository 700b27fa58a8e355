package rested

import "context"

// Repository is the persistence collaborator a Service runs against.
// Get and GetFirst return (nil, nil) when nothing matches.
type Repository[D any, K comparable] interface {
	// Get loads a row by key. When fields is non-empty, only those data
	// fields need to be populated.
	Get(ctx context.Context, key K, fields ...string) (*D, error)
	GetFirst(ctx context.Context, spec Specification) (*D, error)
	// GetPaged returns one page (1-based pageIndex) of rows matching spec in
	// sort order. fields projects each row the way it does for Get.
	GetPaged(ctx context.Context, spec Specification, pageIndex, pageSize int, sorts []Sort, fields ...string) ([]*D, error)
	Count(ctx context.Context, spec Specification) (int, error)
	Add(ctx context.Context, d *D) error
	Modify(ctx context.Context, d *D) error
	Remove(ctx context.Context, d *D) error
}

// UnitOfWork commits the writes staged on a repository.
type UnitOfWork interface {
	Commit(ctx context.Context) error
}

// Descriptor tells a Service how to read a data entity.
type Descriptor[D any, K comparable] struct {
	// Key returns the row's key. Required.
	Key func(d *D) K

	// Fields casts entity property names to data property names for
	// filters and sorts.
	Fields FieldMap

	// ReferenceField is the data field holding the parent key of a
	// Referenced entity. Defaults to "referenceId".
	ReferenceField string

	// OwnerField is the data field holding the creator id of an Owned
	// entity. Defaults to "createdById".
	OwnerField string
}

func (d Descriptor[D, K]) referenceField() string {
	if d.ReferenceField == "" {
		return "referenceId"
	}
	return d.ReferenceField
}

func (d Descriptor[D, K]) ownerField() string {
	if d.OwnerField == "" {
		return "createdById"
	}
	return d.OwnerField
}
