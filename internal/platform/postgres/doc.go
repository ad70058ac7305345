// Package postgres implements the task, subject and worker stores on
// PostgreSQL through the pgx driver, and embeds the goose migrations that
// create their tables.
package postgres
