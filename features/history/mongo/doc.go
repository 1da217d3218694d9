// Package mongo provides a MongoDB-backed conversation store. It follows
// the feature layering used across the repo: the package exposes a
// session.Store implementation that delegates persistence to a narrow
// client interface under clients/mongo, which ships a driver-backed
// implementation, an in-memory variant for tests and local tooling, and
// generated mocks.
package mongo
