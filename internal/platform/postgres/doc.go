// Package postgres provides PostgreSQL-specific implementations for the data
// storage interfaces defined in the internal/store package. It handles the
// details of query execution, schema migrations, and data mapping between
// domain entities and database records.
//
// The task table is the coordination point between dispatcher processes:
// TryTransition's conditional UPDATE is the only mutation discipline, so
// multiple workers may poll the same table without a separate locking layer.
package postgres
