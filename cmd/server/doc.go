// Package main is the entry point for the recaptcha-defer proxy.
//
// The proxy sits in front of a WordPress site. Pages that host a form get
// their reCAPTCHA script tags neutralized and the deferred loader appended;
// the widget then loads on the visitor's first interaction or after a
// timeout. Every other response passes through unchanged.
//
// Architecture:
//
//	Browser → recaptcha-defer → Origin (WordPress)
//
// The server provides:
//   - Rewriting reverse proxy for the origin site
//   - /loader.js for pages that reference the loader by URL
//   - REST API to mark tags, check eligibility, rewrite and simulate pages
//   - Prometheus metrics and request tracing
//
// Configuration:
//   - Environment variables (12-factor)
//   - CLI flags (override env vars)
//   - Eligibility rules file (YAML, TOML or JSON)
//
// Usage:
//
//	# Production mode
//	./server -port 8080 -upstream http://wordpress:80 -rules rules.yaml
//
//	# Development mode (colored logs, debug level)
//	./server -dev
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
