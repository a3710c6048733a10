/*
Package resilience provides a circuit breaker for calls that can fail in a burst.

The tab runtime wraps every cold-storage write in the "hibernation" breaker:
after a run of failed snapshot writes, further suspends fail fast instead of
capturing and discarding pages while the disk is unhealthy.

# Usage

	breaker := resilience.New("hibernation", resilience.Settings{
		Timeout: 30 * time.Second,
		ReadyToTrip: func(c resilience.Counts) bool {
			return c.ConsecutiveFailures >= 3
		},
	})

	n, err := resilience.Call(breaker, func() (uint64, error) {
		return store.Hibernate(ctx, snap)
	})

Execute is the form for calls without a result.

# States

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                           |
	                                       [failure]
	                                           v
	                                          Open

IsFailure decides which errors count; by default every non-nil error does.
*/
package resilience
