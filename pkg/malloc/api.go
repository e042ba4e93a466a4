// Copyright 2026 Anasvag575
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package malloc

import (
	"unsafe"

	"go.uber.org/multierr"
)

// Allocate implements §6's allocate(size): returns a 16-byte-aligned
// payload, or nil for a zero-byte request or an out-of-memory condition.
// It never aborts; the only fatal path in this package is a corrupt header
// observed by Release or Reallocate.
func Allocate(size uintptr) unsafe.Pointer {
	h := pinHeap()
	defer runtime_procUnpin()
	return h.allocate(size)
}

// AllocateZeroed implements §6's allocate_zeroed(count, size): count*size
// with overflow detection, returning nil on overflow, then a zero-filled
// payload of that size.
func AllocateZeroed(count, size uintptr) unsafe.Pointer {
	h := pinHeap()
	defer runtime_procUnpin()
	return h.allocateZeroed(count, size)
}

// Reallocate implements §6's reallocate(pointer, size): a nil pointer
// behaves as Allocate; shrinking within the current class or large mapping
// returns the same pointer unchanged, per spec.md's Non-goals (no
// realloc-in-place shrink below the class boundary, because there is
// nothing to shrink into).
func Reallocate(ptr unsafe.Pointer, size uintptr) unsafe.Pointer {
	h := pinHeap()
	defer runtime_procUnpin()
	return h.reallocate(ptr, size)
}

// Release implements §6's release(pointer): a nil pointer is a no-op; an
// invalid or foreign header aborts the process after logging a diagnostic
// to standard error, per §7's error model.
func Release(ptr unsafe.Pointer) {
	h := pinHeap()
	defer runtime_procUnpin()
	h.release(ptr)
}

// CurrentHeap pins the calling goroutine to its current P-shard and returns
// that shard's Heap along with an unpin function the caller must invoke
// when done. It exists so tests (and an embedder simulating process
// shutdown) can drive §4.7's orphan protocol directly via Heap.Retire,
// without a public allocate/free entry point forcing a heap into existence
// first — exactly the "register a teardown hook" escape hatch spec.md §9
// describes for runtimes without automatic per-thread destructors.
func CurrentHeap() (*Heap, func()) {
	return pinHeap(), runtime_procUnpin
}

// Retire runs §4.7's thread-teardown orphan protocol on this heap: every
// page-block it owns is either returned to the supply chain (if already
// fully drained) or marked orphaned, awaiting adoption by the next remote
// freer. The heap's local page-block cache is also drained to the global
// cache or the OS. A Heap remains usable after Retire — a later Allocate
// routed to the same shard simply acquires fresh page-blocks — so calling
// it does not require retiring the shard permanently.
func (h *Heap) Retire() error {
	return h.retire()
}

// Shutdown retires every shard heap ever constructed and empties the
// global page-block cache back to the OS, aggregating failures with
// multierr rather than stopping at the first one. It is the process-exit
// analogue spec.md §9 calls for in "single-threaded builds, run teardown
// at process exit" — generalized here to run it across every shard this
// process ever touched, since Go has no single terminating OS thread to
// hang the hook off of.
func Shutdown() error {
	table := shardTable.Load().([]*Heap)

	var errs error
	for _, h := range table {
		if h == nil {
			continue
		}
		if err := h.Retire(); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	if err := shutdownGlobalCache(); err != nil {
		errs = multierr.Append(errs, err)
	}
	return errs
}
