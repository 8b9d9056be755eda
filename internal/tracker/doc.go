// Package tracker implements the per-entity polling state machine.
//
// A Poller owns one tracked entity: either a whole tailnet (InventoryStrategy)
// or a single device (SingleDeviceStrategy). Each cycle fetches from the
// Tailscale API, diffs the result against what the strategy last saw, and
// hands the resulting transition events to a Sink.
//
// # Lifecycle
//
//	Initializing --Start--> Polling --Stop--> Terminated
//
// Start runs one poll immediately, then ticks at the configured interval.
// A failed fetch never stops the loop: failures are counted, and after
// MaxConsecutiveErrors in a row the entity is marked unavailable until the
// next success.
//
// # Concurrency
//
// Cycles for the same entity never overlap. A trigger that arrives while a
// cycle is in flight (tick, refresh) is skipped with ErrPollInProgress.
// Pollers for different entities share nothing except the Sink and the
// Availability store, both of which must be safe for concurrent use.
//
// # Usage
//
//	strategy := tracker.NewInventoryStrategy(tracker.InventoryConfig{
//	    Lister:   client,
//	    Settings: settings,
//	})
//	poller, err := tracker.NewPoller(tracker.Options{
//	    EntityID:     "home",
//	    Strategy:     strategy,
//	    Sink:         sink,
//	    Availability: registry,
//	    Settings:     settings,
//	    Logger:       log,
//	})
//	if err := poller.Start(ctx); err != nil { ... }
//	defer poller.Stop()
package tracker
