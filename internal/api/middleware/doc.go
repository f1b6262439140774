// Package middleware provides the gin middleware shared by the rewrite proxy
// and its API.
//
//   - RequestID assigns X-Request-ID, keeping a valid inbound one, and puts
//     it on the request context for the proxy to forward.
//   - RateLimit gives every client IP its own token bucket and answers
//     429 with Retry-After when it runs dry.
//   - CORS opens the API and the loader script to other origins. It is
//     mounted on those routes only, never on proxied pages.
//
// Wiring:
//
//	router.Use(middleware.RequestID())
//	router.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
//	api := router.Group("/api", middleware.CORS(middleware.DefaultCORSConfig()))
package middleware
