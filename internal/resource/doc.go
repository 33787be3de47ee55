// Package resource governs the resources spent on fetching index data.
//
// A Controller bounds three things:
//
//   - Memory held by byte caches (non-blocking, fail-fast)
//   - The number of blob fetches in flight (blocking semaphore)
//   - Fetched bytes per second (token bucket)
//
// # Memory
//
// AcquireMemory never blocks. It returns ErrMemoryLimitExceeded when the
// reservation would exceed the limit, and caches respond by not caching:
//
//	rc := resource.NewController(resource.Config{MemoryLimitBytes: 256 << 20})
//	if rc.TryAcquireMemory(int64(len(block))) {
//	    cache(block)
//	}
//
// # Fetches
//
// Fetch wraps one blob read: it takes a fetch slot, waits for the rate
// limiter to admit the expected number of bytes and releases the slot when
// the read returns.
//
// A nil *Controller is valid and imposes no limits.
package resource
