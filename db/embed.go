// Package db embeds the database schema.
package db

import _ "embed"

// Schema creates the catalog, promo, order and bookkeeping tables. Every
// statement is idempotent.
//
//go:embed migrations/001_schema.sql
var Schema string
