// Package stores persists discovery run history. The SQLite store records
// one row per run plus one row per executed plugin, with WAL mode,
// foreign-key cascades, and embedded migrations.
package stores
