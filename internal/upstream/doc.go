// Package upstream fetches pages from the origin site for the rewrite proxy.
//
// Built on go-resty/resty over a go-retryablehttp transport:
//   - Retries with exponential backoff for idempotent requests
//   - Per-host circuit breaker (internal/infrastructure/resilience)
//   - Request rate limiting (golang.org/x/time/rate)
//   - Redirects returned to the caller, never followed
//
// Response bodies are decoded before they reach the optimizer:
//   - gzip, deflate and zstd via klauspost/compress
//   - content type sniffed with mimetype when the origin omits it
//   - legacy charsets detected (x/net/html/charset, then chardet) and
//     transcoded to UTF-8
//
// Example Usage:
//
//	client, err := upstream.New(upstream.Config{BaseURL: "http://origin:8080"})
//	resp, err := client.Fetch(ctx, upstream.RequestFrom(r))
//	if errors.Is(err, upstream.ErrNotHTML) {
//		// proxy resp verbatim
//	}
package upstream
