// Package lifecycle gives an embedding host the three moments the agent
// cares about: process start, "now serving traffic", and shutdown.
//
// # Overview
//
//	┌─────────┐   Start(ctx)   ┌──────────┐  MarkStarted()  ┌─────────┐
//	│ created │ ─────────────> │ starting │ ──────────────> │ started │
//	└─────────┘                └──────────┘                 └─────────┘
//	                                                             │
//	                           SIGTERM / SIGINT / Shutdown()     ▼
//	                                                        ┌─────────┐
//	                                                        │ stopped │
//	                                                        └─────────┘
//
// Start hooks run in registration order when Start is called. Started hooks
// run once, when the host calls MarkStarted after it begins accepting
// traffic. Stop handlers run by phase on Shutdown: lower phases first,
// handlers sharing a phase concurrently.
//
// # Usage
//
//	lc := lifecycle.New(lifecycle.DefaultConfig())
//	lc.HandleSignals()
//
//	lc.OnStart("monitor", agent.Start)
//	lc.OnStarted("monitor", agent.OnStarted)
//	lc.OnStop("http", lifecycle.StopFunc(srv.Shutdown), lifecycle.PhaseServer)
//	lc.OnStop("monitor", lifecycle.StopFunc(agent.Stop), lifecycle.PhaseBackground)
//
//	_ = lc.Start(ctx)
//	go srv.Serve(ln)
//	lc.MarkStarted(ctx)
//
//	<-lc.Done()
//
// Hook failures, panics included, are recorded in the results and never
// propagate into the host.
package lifecycle
