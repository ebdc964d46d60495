// Package repository defines where run reports are persisted.
//
// A run is stored as a snapshot: saving replaces whatever the previous run
// left, so the database always answers "what did the last run see". History
// across runs is left to whatever ingests the exported reports.
//
// # SQLite Implementation
//
// The sqlite subpackage stores hosts, ports, anomalies and adapter results
// in four tables written in one transaction, using the pure Go
// modernc.org/sqlite driver with WAL mode.
package repository
