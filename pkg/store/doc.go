// Package store provides the persistence layer for plan execution state,
// permission grants, trigger definitions and workflow recordings. It is
// backed by SQLite with WAL mode, connection pooling and golang-migrate
// schema migrations, and exposes an online backup/restore surface.
package store
