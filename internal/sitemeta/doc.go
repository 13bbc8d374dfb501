// Package sitemeta manages fence site metadata.
//
// A Site is one static fence instruction of the analyzed kernel. Every time
// a lane executes it a new epoch opens, so a site owns many epochs.
//
// Manager provides command-query separation:
//
// Queries (read-only):
//   - Get(fenceID) - Retrieve a site
//   - FenceID(epoch) - Resolve the site that opened an epoch
//   - Location(epoch) - Source location of the fence that opened an epoch
//   - Epochs(fenceID) - Epochs opened by a site
//   - GetIssues(fenceID) - Retrieve binding warnings
//
// Commands (mutations):
//   - SetLocation(fenceID, loc) - Store a source location
//   - Bind(epoch, fenceID) - Record that a site opened an epoch
//   - GetOrCreate(fenceID) - Atomic get-or-create
//
// Thread-safe with RWMutex for concurrent access.
package sitemeta
