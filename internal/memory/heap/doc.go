/*
Package heap accounts per-tab memory.

# Overview

Each tab owns a Heap with a soft and a hard byte ceiling. The Heap is a
bookkeeper, not an allocator: the script engine reports what it retains and
the Heap accepts or rejects the request.

# Guarantees

  - Allocated bytes never exceed the hard limit, even between concurrent callers
  - A rejected allocation leaves the counter untouched
  - Deallocation saturates at zero
  - All operations are lock-free atomics, so readers never stall allocators

# GC Signals

NeedsGC reports UrgencyRecommended past the soft limit and UrgencyCritical at
90% of the hard limit. Consumers decide what a collection means for them.

# Hibernation

A hibernated tab's heap is Reset and then Frozen, so stray allocations fail
with ErrFrozen until the tab is restored and the heap Reset again.
*/
package heap
