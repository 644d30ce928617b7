package metrics

import "errors"

// ErrBreakerOpen is returned by callers (agent.Agent.sendOnce) when Breaker.Allow
// denies a request; the turn fails immediately without touching the Session Log.
var ErrBreakerOpen = errors.New("metrics: circuit breaker open for provider")
