/*
Package resilience keeps the proxy from piling requests onto an origin that
is failing.

A Breaker counts consecutive failures while closed. Once ReadyToTrip agrees
it opens, and every call fails with ErrCircuitOpen until Timeout passes.
It then lets MaxRequests trial requests through (half-open); a failed trial opens it
again, enough successes close it.

	Closed --[Trips(n)]--> Open --[Timeout]--> Half-Open --[successes]--> Closed
	                        ^                      |
	                        +------[failure]-------+

Context cancellation never counts as a failure, and Settings.IsFailure can
exempt other errors. Group holds one breaker per origin host:

	breakers := resilience.NewGroup(resilience.Settings{ReadyToTrip: resilience.Trips(5)})
	err := breakers.For(origin.Host).Execute(ctx, fetch)
*/
package resilience
