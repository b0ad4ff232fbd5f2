// Copyright 2026 The Meshfox Authors
// SPDX-License-Identifier: Apache-2.0

// Package eventlog implements the append-only event log and
// materialized-state projection (C5): local SQLite tables holding
// every applied envelope plus one table per event family, kept
// convergent across peers by the total replay order in
// lib/envelope.Less.
package eventlog

import (
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const schema = `
CREATE TABLE IF NOT EXISTS applied_events (
	id             TEXT PRIMARY KEY,
	device         TEXT NOT NULL,
	author_counter INTEGER NOT NULL,
	timestamp      TEXT NOT NULL,
	clock          TEXT NOT NULL,
	clock_sum      INTEGER NOT NULL,
	event_type     TEXT NOT NULL,
	event_data     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_applied_events_device ON applied_events(device, author_counter);

CREATE TABLE IF NOT EXISTS vector_clock (
	device  TEXT PRIMARY KEY,
	counter INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS extensions (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	url         TEXT,
	version     TEXT,
	source_type TEXT,
	source_data TEXT,
	xpi_data    BLOB,
	rank_sum    INTEGER NOT NULL DEFAULT 0,
	rank_ts     TEXT NOT NULL DEFAULT '',
	rank_device TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS containers (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	color       TEXT NOT NULL,
	icon        TEXT NOT NULL,
	rank_sum    INTEGER NOT NULL DEFAULT 0,
	rank_ts     TEXT NOT NULL DEFAULT '',
	rank_device TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS handlers (
	protocol    TEXT PRIMARY KEY,
	handler     TEXT NOT NULL,
	rank_sum    INTEGER NOT NULL DEFAULT 0,
	rank_ts     TEXT NOT NULL DEFAULT '',
	rank_device TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS search_engines (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	url        TEXT NOT NULL,
	is_default INTEGER NOT NULL DEFAULT 0,
	rank_sum    INTEGER NOT NULL DEFAULT 0,
	rank_ts     TEXT NOT NULL DEFAULT '',
	rank_device TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS prefs (
	key         TEXT PRIMARY KEY,
	value_type  TEXT NOT NULL,
	value       TEXT NOT NULL,
	rank_sum    INTEGER NOT NULL DEFAULT 0,
	rank_ts     TEXT NOT NULL DEFAULT '',
	rank_device TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS pending_tabs (
	event_id    TEXT PRIMARY KEY,
	url         TEXT NOT NULL,
	title       TEXT,
	from_device TEXT NOT NULL
);
`

func createSchema(conn *sqlite.Conn) error {
	return sqlitex.ExecuteScript(conn, schema, nil)
}
