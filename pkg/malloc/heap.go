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
	"sync"
	"sync/atomic"
	"unsafe" // also satisfies the import go:linkname requires

	"github.com/anasvag575/xmalloc/pkg/malloc/internal/xlog"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Go has no OS thread-local storage and no thread-exit destructor, so the
// "thread" this allocator caches against is rendered as the scheduler's P:
// runtime_procPin borrows the same internal the standard library's
// sync.Pool uses to get a stable, small, dense shard index without a
// goroutine ID. The shard table below is indexed by that P id directly (no
// modulo), grown under a mutex only when a new P id is seen; the steady
// state read is a lock-free slice load.
//
//go:linkname runtime_procPin runtime.procPin
func runtime_procPin() int

//go:linkname runtime_procUnpin runtime.procUnpin
func runtime_procUnpin()

var (
	shardTableMu sync.Mutex
	shardTable   atomic.Value // []*Heap
	nextThreadID uint32
)

func init() {
	shardTable.Store(make([]*Heap, 0))
}

// Heap is one P-shard's private allocator state: a doubly linked list of
// page-blocks per size class, and a small non-atomic cache of idle
// page-blocks per page-class, per §3's private_heap[64]/top[3].
type Heap struct {
	threadID uint32
	classes  [numClasses]classList
	cache    [numPageClasses]plainStack
}

func newHeap() *Heap {
	return &Heap{threadID: atomic.AddUint32(&nextThreadID, 1)}
}

// pinHeap pins the calling goroutine to its current P and returns that P's
// heap, growing the shard table if this is the first time this P id has
// been seen. The caller MUST call runtime_procUnpin when done; the pin
// must be held across the whole local fast path, not just the lookup, so
// that a preemption can't hand this P's state to a second goroutine
// mid-operation.
func pinHeap() *Heap {
	pid := runtime_procPin()

	table := shardTable.Load().([]*Heap)
	if pid < len(table) && table[pid] != nil {
		return table[pid]
	}
	return growShardTable(pid)
}

func growShardTable(pid int) *Heap {
	shardTableMu.Lock()
	defer shardTableMu.Unlock()

	table := shardTable.Load().([]*Heap)
	if pid < len(table) && table[pid] != nil {
		return table[pid]
	}

	grown := table
	if pid >= len(grown) {
		grown = make([]*Heap, pid+1)
		copy(grown, table)
	}
	h := newHeap()
	grown[pid] = h
	shardTable.Store(grown)

	xlog.Debug("malloc: heap shard created", zap.Int("p", pid), zap.Uint32("thread_id", h.threadID))
	return h
}

// allocate implements §4.6's allocate(s): walk the class list head→tail
// asking each block for a slot, and acquire a fresh block from the supply
// chain on a full miss.
func (h *Heap) allocate(size uintptr) unsafe.Pointer {
	if size == 0 {
		return nil
	}
	if size >= smallAllocationLimit {
		return h.allocateLarge(size)
	}

	classIdx, pages := decodeClass(size)
	pageClassIdx := pageClassFromPages(pages)
	objectSize := classSizes[classIdx]
	list := &h.classes[classIdx]

	for b := list.head; b != nil; b = b.next {
		if p, ok := b.allocateSlot(); ok {
			recordAlloc(uint64(objectSize))
			return p
		}
	}

	base, err := acquirePageBlock(pageClassIdx, &h.cache[pageClassIdx])
	if err != nil {
		xlog.Error("malloc: failed to acquire page-block", zap.Error(err))
		return nil
	}

	b := newPageBlock(base, pages, pageClassIdx, classIdx, objectSize, h.threadID)
	list.insertFront(b)

	p, ok := b.allocateSlot()
	if !ok {
		// Unreachable: a freshly mapped block always has room for one slot.
		xlog.Fatal("malloc: fresh page-block rejected its first allocation")
	}
	recordAlloc(uint64(objectSize))
	return p
}

func (h *Heap) allocateLarge(size uintptr) unsafe.Pointer {
	pages := (size + largeHeaderSize + pageSize - 1) / pageSize
	base, err := mmapPages(int(pages))
	if err != nil {
		xlog.Error("malloc: large allocation mmap failed", zap.Error(err))
		return nil
	}
	payload := unsafe.Pointer(uintptr(base) + largeHeaderSize)
	writeLargeHeader(payload, pages)
	recordAlloc(uint64(pages) * pageSize)
	return payload
}

// allocateZeroed implements allocate_zeroed: n*s with overflow detection,
// then a zero-fill of the returned payload.
func (h *Heap) allocateZeroed(n, size uintptr) unsafe.Pointer {
	if n == 0 || size == 0 {
		return h.allocate(0)
	}
	total := n * size
	if total/n != size {
		xlog.Error("malloc: allocateZeroed overflow", zap.Uint64("n", uint64(n)), zap.Uint64("size", uint64(size)))
		return nil
	}
	p := h.allocate(total)
	if p == nil {
		return nil
	}
	clearBytes(p, total)
	return p
}

func clearBytes(p unsafe.Pointer, n uintptr) {
	clear(unsafe.Slice((*byte)(p), n))
}

// reallocate implements §4.6's reallocate(p, s).
func (h *Heap) reallocate(p unsafe.Pointer, size uintptr) unsafe.Pointer {
	recordRealloc()
	if p == nil {
		return h.allocate(size)
	}

	oldSize, ok := h.objectSizeOf(p)
	if !ok {
		xlog.Fatal("malloc: reallocate on corrupt or foreign pointer")
		return nil
	}
	if oldSize >= size {
		return p
	}

	newP := h.allocate(size)
	if newP == nil {
		return nil
	}
	copyBytes(newP, p, oldSize)
	h.release(p)
	return newP
}

func copyBytes(dst, src unsafe.Pointer, n uintptr) {
	copy(unsafe.Slice((*byte)(dst), n), unsafe.Slice((*byte)(src), n))
}

// objectSizeOf returns the usable payload size of an outstanding
// allocation, following §4.6's old_size computation.
func (h *Heap) objectSizeOf(p unsafe.Pointer) (uintptr, bool) {
	hdr := smallHeaderAt(p)
	if !headerIsValid(hdr) {
		return 0, false
	}
	if headerIsLarge(hdr) {
		pages := largeHeaderPages(p)
		return pages*pageSize - largeHeaderSize, true
	}

	offset := headerPageOffset(hdr)
	block := blockFromPageOffset(p, offset)
	return uintptr(block.objectSize) - 1, true
}

// release implements §4.6's release(p): decode the header, then route to
// the large or small free path.
func (h *Heap) release(p unsafe.Pointer) {
	if p == nil {
		return
	}

	hdr := smallHeaderAt(p)
	if !headerIsValid(hdr) {
		xlog.Fatal("malloc: release of corrupt or foreign pointer")
		return
	}

	if headerIsLarge(hdr) {
		pages := largeHeaderPages(p)
		start := largeAllocStart(p)
		recordDealloc(uint64(pages) * pageSize)
		if err := munmapPages(start, int(pages)); err != nil {
			xlog.Error("malloc: munmap of large allocation failed", zap.Error(err))
		}
		return
	}

	offset := headerPageOffset(hdr)
	block := blockFromPageOffset(p, offset)
	h.freeSmall(block, p)
}

// blockFromPageOffset implements owner_block: page_aligned_down(obj) −
// page_offset·page_size.
func blockFromPageOffset(p unsafe.Pointer, pageOffset int) *pageBlock {
	return pageBlockRegistry.lookup(unsafe.Pointer(uintptr(p)&^uintptr(pageSize-1) - uintptr(pageOffset)*pageSize))
}

// freeSmall implements the local/remote halves of §4.5's free-in-block.
func (h *Heap) freeSmall(b *pageBlock, p unsafe.Pointer) {
	slotOffset := b.offsetOf(p)
	recordDealloc(uint64(b.objectSize))

	if b.owner() == h.threadID {
		b.freeLocal(slotOffset)
		list := &h.classes[b.sizeClass]
		if b.isEmpty() && list.head != b {
			list.remove(b)
			pageBlockRegistry.forget(b.base)
			if err := releasePageBlock(b.pageClass, &h.cache[b.pageClass], b.base); err != nil {
				xlog.Error("malloc: failed to release emptied page-block", zap.Error(err))
			}
		}
		return
	}

	if adopted := b.freeRemote(h.threadID, slotOffset); adopted {
		h.classes[b.sizeClass].insertFront(b)
	}
}

// retire implements §4.7's thread teardown orphan protocol: dispose of
// every page-block this heap owns without losing objects other threads
// still hold references to, then drain the local page cache.
func (h *Heap) retire() error {
	for classIdx := range h.classes {
		list := &h.classes[classIdx]
		for b := list.head; b != nil; {
			next := b.next
			h.retireBlock(list, b)
			b = next
		}
	}

	var errs error
	for pageClassIdx := range h.cache {
		if err := drainLocalCache(pageClassIdx, &h.cache[pageClassIdx]); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

func (h *Heap) retireBlock(list *classList, b *pageBlock) {
	list.remove(b)

	if b.isEmpty() || b.remoteFreeCount() == uint32(b.allocatedObjects) || b.orphanize() {
		// Either already settled, or orphanize's own CAS loop observed
		// condition 2 become true before it touched the owner field
		// (§4.7 step 3: "If during the CAS loop condition 2 becomes true,
		// goto 1") — either way the block is fully drained and must go
		// back to the supply chain rather than sit around unowned.
		pageBlockRegistry.forget(b.base)
		if err := releasePageBlock(b.pageClass, &h.cache[b.pageClass], b.base); err != nil {
			xlog.Error("malloc: failed to release retired page-block", zap.Error(err))
		}
	}
}
