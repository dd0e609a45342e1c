// Package snapshot is the loom snapshot engine: image segments, the
// write-ahead patch that makes updates crash-atomic, recovery, and the
// save/load/copy/yolo/foul lifecycle described in spec.md §4 and §4.7.
package snapshot

import "errors"

// Sentinel errors, in the style of the teacher's internal/wal/manager.go
// (ErrBadMagic, ErrBadCRC, ...) and internal/storage/common/vars.go.
var (
	// ErrImageCorrupt is a startup/configuration error (spec.md §7, kind
	// 1): an image file's size is not an exact multiple of the page size.
	ErrImageCorrupt = errors.New("snapshot: image file corrupt")

	// ErrPatchIncomplete marks a patch that cannot be trusted at startup
	// (missing companion file, bad version, inconsistent size, bad
	// checksum) — a recoverable patch problem (spec.md §7, kind 2): the
	// patch is deleted and the caller is expected to replay the event log.
	ErrPatchIncomplete = errors.New("snapshot: pending patch is incomplete or corrupt")

	// ErrDryRun is returned by Engine.Save when the engine was constructed
	// in DryRun mode (spec.md §9, "Dry-run mode").
	ErrDryRun = errors.New("snapshot: save called on a dry-run engine")
)
