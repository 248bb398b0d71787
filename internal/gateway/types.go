// Package gateway re-exports the synchronized-write contract and selects a
// driver. Packages outside the gateway tree depend on this package only.
package gateway

import "github.com/OpenCoralTools/oct-registry/internal/gateway/core"

type (
	// Driver identifies a store backend.
	Driver = core.Driver
	// File is stored content at a revision.
	File = core.File
	// WriteRequest is a conditioned write.
	WriteRequest = core.WriteRequest
	// WriteResult carries the revision produced by a write.
	WriteResult = core.WriteResult
	// Proposal is a change submitted for review.
	Proposal = core.Proposal
	// PullRequest identifies an opened review request.
	PullRequest = core.PullRequest
	// Store is the interface every driver implements.
	Store = core.Store
	// TokenSource yields the current session token.
	TokenSource = core.TokenSource
	// TokenFunc adapts a function to TokenSource.
	TokenFunc = core.TokenFunc
)

const (
	DriverGitHub     = core.DriverGitHub
	DriverFilesystem = core.DriverFilesystem
	DriverMemory     = core.DriverMemory
	DriverS3         = core.DriverS3
	DriverSQLite     = core.DriverSQLite
	DriverPostgres   = core.DriverPostgres
)

var (
	ErrNotFound          = core.ErrNotFound
	ErrRevisionConflict  = core.ErrRevisionConflict
	ErrRemoteUnavailable = core.ErrRemoteUnavailable
	ErrUnauthenticated   = core.ErrUnauthenticated
	ErrUnsupported       = core.ErrUnsupported
)
