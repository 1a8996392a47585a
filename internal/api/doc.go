// Package api hosts the HTTP handlers that front the vodserve REST API.
//
// The handlers assembled by Handler coordinate request validation, owner-key
// authentication, and response shaping while delegating persistence to
// storage.Repository implementations injected at construction time. The
// transcode pipeline, media library, and probe tooling are likewise injected
// so endpoint behaviour stays testable and decoupled from runtime wiring; the
// package does not reach for globals or singletons.
//
// Handler implementations assume upstream middleware from internal/server has
// already enforced request identification, rate limiting, and logging. New
// routes should preserve that contract by leaning on the middleware
// guarantees established in the server stack.
package api
