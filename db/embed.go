// Package db embeds the checkout schema. Every statement is idempotent, so
// the schema is applied on each server start.
package db

import _ "embed"

//go:embed migrations/001_schema.sql
var Schema string
