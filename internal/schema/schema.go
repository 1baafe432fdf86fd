// Package schema embeds the SQLite schema shared by the api and the poller.
package schema

import _ "embed"

// SQL is the single source of truth for the database schema.
//
//go:embed schema.sql
var SQL string
