package elmmirror

import (
	"github.com/bianoble/elm-mirror/internal/engine"
	"github.com/bianoble/elm-mirror/internal/registry"
)

// Result types returned by Mirror operations.
type (
	SyncResult   = engine.SyncResult
	VerifyResult = engine.VerifyResult
	StatusReport = engine.StatusReport
	EntryStatus  = engine.EntryStatus
	PruneResult  = engine.PruneResult
	PackageError = engine.PackageError
)

// Status is the lifecycle state of a package in the registry.
type Status = registry.Status

// Package statuses.
const (
	StatusPending = registry.StatusPending
	StatusSuccess = registry.StatusSuccess
	StatusFailed  = registry.StatusFailed
	StatusIgnored = registry.StatusIgnored
)

// Statuses lists every status in display order.
var Statuses = registry.Statuses

// StatusOptions filters a status report.
type StatusOptions = engine.StatusOptions

// PruneOptions configures a prune operation.
type PruneOptions = engine.PruneOptions
