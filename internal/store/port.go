// Package store defines the Data-Access Port: the single abstract,
// schema-agnostic persistence capability every plugin step is written
// against. Concrete adapters (postgres, sqlite, an in-memory fake for
// tests) implement Port; nothing above this package knows which one is
// wired in.
package store

import "context"

// Record is one row, addressed by column name. Concrete adapters decide how
// Go values map to their storage representation.
type Record map[string]any

// Query narrows a findFirst/findMany/count/updateMany/deleteMany call.
type Query struct {
	Where   Predicate
	OrderBy []OrderTerm
	Limit   int
}

type OrderTerm struct {
	Column string
	Desc   bool
}

// UpsertSpec is the where/create/update triple an upsert call needs.
type UpsertSpec struct {
	Where  Predicate
	Create Record
	Update Record
}

// Port is the abstract capability every step uses to read and write
// tabular state. Table names and record shapes are conventions agreed
// between the core and the host's schema, never compiled-in column lists.
type Port interface {
	FindFirst(ctx context.Context, table string, q Query) (Record, bool, error)
	FindMany(ctx context.Context, table string, q Query) ([]Record, error)
	Create(ctx context.Context, table string, rec Record) (Record, error)
	UpdateMany(ctx context.Context, table string, q Query, set Record) (int, error)
	DeleteMany(ctx context.Context, table string, q Query) (int, error)
	Upsert(ctx context.Context, table string, spec UpsertSpec) (Record, error)
	Count(ctx context.Context, table string, q Query) (int, error)

	// WithTx runs fn within a single transactional scope; steps that mutate
	// more than one table (register: subject+identity+credential;
	// convert-guest: delete guest rows while inserting permanent ones)
	// MUST go through this so a cancelled or failing step leaves no
	// partial writes. Implementations that can't offer real transactions
	// (a remote API fronting storage, say) MUST offer compensating
	// cleanup-on-failure instead and document it.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Port) error) error
}
