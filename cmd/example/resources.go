package main

import (
	"context"
	"fmt"
	"time"

	"github.com/zoobzio/rested"
	"github.com/zoobzio/rested/memstore"
	"github.com/zoobzio/rested/sqlstore"
)

// Example is a standalone, soft-deletable resource.
type Example struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

type exampleRow struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
	Removed   time.Time `db:"deleted_at" json:"deletedAt"`
}

func (r *exampleRow) SetCreatedAt(t time.Time) { r.CreatedAt = t }
func (r *exampleRow) SetUpdatedAt(t time.Time) { r.UpdatedAt = t }
func (r *exampleRow) DeletedAt() time.Time     { return r.Removed }
func (r *exampleRow) SetDeletedAt(t time.Time) { r.Removed = t }

type exampleBody struct {
	Name string `json:"name" validate:"required,max=50"`
}

// Child belongs to one Example and is routed beneath it.
type Child struct {
	ID        int64  `json:"id"`
	ExampleID int64  `json:"exampleId"`
	Label     string `json:"label"`
}

type childRow struct {
	ID        int64  `db:"id" json:"id"`
	ExampleID int64  `db:"example_id" json:"exampleId"`
	Label     string `db:"label" json:"label"`
}

func (c *childRow) ReferenceID() any { return c.ExampleID }

func (c *childRow) SetReferenceID(id any) {
	if v, ok := id.(int64); ok {
		c.ExampleID = v
	}
}

type childBody struct {
	Label string `json:"label" validate:"required"`
}

func exampleKey(r *exampleRow) int64 { return r.ID }
func childKey(c *childRow) int64     { return c.ID }

type stores struct {
	examples rested.Repository[exampleRow, int64]
	children rested.Repository[childRow, int64]
	close    func()
}

// openStores keeps rows in memory when dsn is empty and otherwise uses the
// examples and children tables of a MySQL database.
func openStores(dsn string) (*stores, error) {
	if dsn == "" {
		examples := memstore.New(exampleKey, memstore.WithSequence[exampleRow, int64](func(r *exampleRow, seq int64) {
			r.ID = seq
		}))
		children := memstore.New(childKey, memstore.WithSequence[childRow, int64](func(c *childRow, seq int64) {
			c.ID = seq
		}))
		return &stores{examples: examples, children: children, close: func() {}}, nil
	}

	db, err := sqlstore.Open(dsn)
	if err != nil {
		return nil, err
	}
	release := func() { _ = db.Close() }

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		release()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}

	examples, err := sqlstore.New[exampleRow, int64](db, "examples", "id",
		sqlstore.WithSoftDelete("deleted_at"),
		sqlstore.WithAutoIncrement(),
	)
	if err != nil {
		release()
		return nil, err
	}
	children, err := sqlstore.New[childRow, int64](db, "children", "id", sqlstore.WithAutoIncrement())
	if err != nil {
		release()
		return nil, err
	}
	return &stores{examples: examples, children: children, close: release}, nil
}

func newExampleService(repo rested.Repository[exampleRow, int64]) (*rested.Service[Example, exampleBody, exampleRow, int64], error) {
	return rested.NewService(rested.ServiceConfig[Example, exampleBody, exampleRow, int64]{
		Repository: repo,
		Descriptor: rested.Descriptor[exampleRow, int64]{Key: exampleKey},
		Mappers: rested.Mappers[Example, exampleBody, exampleRow]{
			ToEntity: rested.Sync(func(r *exampleRow) *Example {
				return &Example{ID: r.ID, Name: r.Name, CreatedAt: r.CreatedAt}
			}),
			FromRequest: rested.Sync(func(b *exampleBody) *exampleRow {
				return &exampleRow{Name: b.Name}
			}),
			Merge: func(_ context.Context, b *exampleBody, r *exampleRow) error {
				r.Name = b.Name
				return nil
			},
		},
	})
}

func newChildService(repo rested.Repository[childRow, int64]) (*rested.Service[Child, childBody, childRow, int64], error) {
	return rested.NewService(rested.ServiceConfig[Child, childBody, childRow, int64]{
		Repository: repo,
		Descriptor: rested.Descriptor[childRow, int64]{Key: childKey, ReferenceField: "exampleId"},
		Mappers: rested.Mappers[Child, childBody, childRow]{
			ToEntity: rested.Sync(func(c *childRow) *Child {
				return &Child{ID: c.ID, ExampleID: c.ExampleID, Label: c.Label}
			}),
			FromRequest: rested.Sync(func(b *childBody) *childRow {
				return &childRow{Label: b.Label}
			}),
			Merge: func(_ context.Context, b *childBody, c *childRow) error {
				c.Label = b.Label
				return nil
			},
		},
	})
}
