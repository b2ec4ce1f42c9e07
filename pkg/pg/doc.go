// Package pg provides the PostgreSQL connection pool, schema migrations,
// and error classification helpers shared by the persistence layer.
package pg
