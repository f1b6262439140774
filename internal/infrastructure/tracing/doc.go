/*
Package tracing follows one proxied page load from the inbound request,
through the origin fetch, to the rewrite.

Spans are kept in process and reported through zap when they finish, so a
slow page can be tied to its origin call by trace id in the logs.

# Propagation

An inbound X-Trace-ID is adopted and X-Span-ID becomes the parent of the
request span. Both headers are echoed on the response and sent on to the
origin:

	router.Use(tracing.HTTPMiddleware(tracer))
	tracing.InjectTraceContext(ctx, originReq.Header)

# Spans

	span, ctx := tracer.StartSpan(ctx, "rewrite")
	span.SetTag("path", page.Path)
	span.Finish()
	tracer.Submit(span)

Submit never blocks; spans submitted while the buffer is full or after
Close are dropped.
*/
package tracing
