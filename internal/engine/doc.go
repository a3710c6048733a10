/*
Package engine is the per-tab document and script engine behind tabs.Engine.

# Overview

Each tab gets its own Runtime: a goja VM bound to a parsed Document. Pages
are fetched by the Loader (resty), sniffed with mimetype, decoded with the
declared charset and parsed with goquery. Inline scripts run once on load;
scripts and event-handler attributes are then stripped from the tree.

The sandbox exposes a small browser surface:

  - console.log/info/warn/error, returned per call and kept in a bounded history
  - document.title, querySelector(All), getElementById and friends, with
    live element proxies that write through to the Document
  - window.scrollTo/scrollBy/scrollX/scrollY and window.open (recorded as popups)
  - no-op timers; require, process, module and exports are removed

# Hibernation

Capture serializes the current DOM, form values, scroll offsets and a
journal of every script that ran successfully. The journal is the opaque
heap blob; Restore parses the stored DOM and replays the journal to rebuild
script globals without going back to the network.

# Usage

	pool, err := engine.NewPool(engine.DefaultConfig(), logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	rt, err := tabs.NewRuntime(cfg, tabs.Deps{Engines: pool.New, ...})

Memory accounting is an estimate: a fixed VM base, a multiple of the page
size, the journal and retained console lines.
*/
package engine
