// Package http provides HTTP handlers for the rewriting proxy and its API.
//
// Endpoints:
//   - Health: / and /health
//   - Loader: /loader.js
//   - Rewrite API: /api/mark, /api/eligibility, /api/optimize
//   - Simulation: /api/simulate
//   - Metrics: /metrics/json
//   - Proxy: every other path is fetched from the origin and rewritten
//
// Request bodies are size checked and decoded with sonic. Errors are
// returned as {"error": "..."} with a 4xx or 5xx status.
//
// Example Usage:
//
//	handlers, err := http.NewHandlers(http.Deps{Optimizer: opt, Origin: origin})
//	router.GET("/health", handlers.Health)
//	router.NoRoute(handlers.Proxy)
package http
