// Package db provides embedded database schema and migration files.
package db

import _ "embed"

// Schema creates the orders, order_events and api_keys tables. Every
// statement is idempotent.
//
//go:embed migrations/001_schema.sql
var Schema string
