// Package server assembles the HTTP front of vodserve: the route table for
// the API handlers, plus the middleware chain that stamps request IDs, logs
// requests, applies security headers, and rate limits uploads. Construction
// is dependency-injected; the package owns no global state.
package server
