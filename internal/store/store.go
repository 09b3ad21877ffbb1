// Package store provides storage backends for HiveFeed.
//
// It follows a composable repo pattern: each subsystem (jobs, content
// buffer, agents, feed) defines its own repo interface and a single
// backend (SQLite or PostgreSQL) implements all of them.
package store

// Opts holds configuration options for store backends.
type Opts struct {
	// DSN is the database connection string. For SQLite this is a file
	// path; for PostgreSQL a connection URL or key/value DSN.
	DSN string
}

// Option defines a functional option for store configuration.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// Store is the full persistence surface required by the engine.
// Both SQLiteStore and PostgresStore implement it.
type Store interface {
	JobRepo
	BufferRepo
	AgentRepo
	PostRepo

	// Close releases the underlying database handle.
	Close() error
}
