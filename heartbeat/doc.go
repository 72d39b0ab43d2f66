// Package heartbeat sends periodic liveness reports for a registered
// instance and, on the receiving side, tracks which instances are alive.
//
// # Loop states
//
//	┌────────────────────────┐  id assigned   ┌─────────┐  ctx done   ┌─────────┐
//	│ WaitingForRegistration │ ─────────────> │ Running │ ──────────> │ Stopped │
//	└────────────────────────┘                └─────────┘             └─────────┘
//	            │                                                          ▲
//	            └────────────── registration timeout / ctx done ───────────┘
//
// The Loop waits on the identity cell's completion signal for at most
// RegistrationTimeout. If no id arrives it stops without sending anything.
// Once running, each cycle builds a request stamped with the current time,
// optionally samples process metrics, and posts it to the dashboard.
//
// # Retries
//
// A failed send is retried up to RetryAttempts times with exponential
// delays of 2s, 4s, 8s and so on. When retries are exhausted the cycle is
// abandoned and logged; the next cycle starts after the usual interval.
// A missed heartbeat is never fatal.
//
// # Usage
//
//	loop, _ := heartbeat.NewLoop(heartbeat.LoopConfig{
//	    Interval:      30 * time.Second,
//	    RetryAttempts: 3,
//	    EnableMetrics: true,
//	}, client, cell, heartbeat.WithLogger(log))
//	go loop.Run(ctx)
//
// # Tracking
//
// Tracker is the dashboard-side counterpart: it records heartbeats per
// instance and reports instances that have gone quiet for longer than a
// timeout.
package heartbeat
