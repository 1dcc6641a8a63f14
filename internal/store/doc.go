// Package store keeps the history of scenario runs in SQLite.
//
// A run row holds the verdict of one scenario execution and is keyed by a
// time-ordered UUID. Its checkpoints are keyed by (run, seq), and when the
// idempotence check ran, its recorded oracle traffic is kept as operations
// so the check can be repeated and visualized later. Deleting a run deletes
// both.
//
// Runs are listed by a logical seq assigned at write time, never by wall
// clock. Connections use WAL journaling and enforce foreign keys.
package store
