/*
Package tabs runs the live side of every tab.

Each tab gets a Worker goroutine that owns its Engine and handles Messages
strictly in order. Workers never touch each other; they report back through
one shared Event channel read by the Runtime.

	rt, err := tabs.NewRuntime(tabs.DefaultConfig(), tabs.Deps{
		Store:   storage,
		Memory:  monitor,
		Engines: pool.New,
	})
	if err := rt.Start(ctx); err != nil { ... }
	info, _ := rt.CreateTab(ctx, "https://example.com")

Memory pressure and idleness turn into suspend proposals. A suspend captures
the engine, writes a snapshot to cold storage, stops the worker and leaves a
ghost behind. Restore reverses it with a fresh engine and worker.

A panic or Fault inside a worker becomes exactly one Crashed event; the tab
stays open and Reload brings it back.
*/
package tabs
