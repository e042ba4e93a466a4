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
	"unsafe"

	"go.uber.org/atomic"

	"github.com/anasvag575/xmalloc/pkg/malloc/internal/xlog"
)

// noOffset marks an empty local free LIFO. Block sizes top out at 2^5
// pages, far below this sentinel, so it can never collide with a genuine
// slot offset.
const noOffset = ^uint32(0)

// blockRegistry recovers a *pageBlock descriptor from the raw page-block
// address recorded in an object's header. It exists only because this
// allocator keeps block bookkeeping in a normal, GC-tracked Go struct
// rather than embedded in the block's own raw memory (see pageBlock's
// doc comment) — a free on another thread has nothing but that raw address
// to go on. Entries are registered when a block is first carved out of the
// supply chain and forgotten when it is returned.
type blockRegistry struct {
	m sync.Map // uintptr(base) -> *pageBlock
}

func (r *blockRegistry) register(b *pageBlock) {
	r.m.Store(uintptr(b.base), b)
}

func (r *blockRegistry) forget(base unsafe.Pointer) {
	r.m.Delete(uintptr(base))
}

func (r *blockRegistry) lookup(base unsafe.Pointer) *pageBlock {
	v, ok := r.m.Load(uintptr(base))
	if !ok {
		xlog.Fatal("malloc: free for unknown page-block base")
		return nil
	}
	return v.(*pageBlock)
}

var pageBlockRegistry blockRegistry

// pageBlock is the Go-side descriptor for one mmap'd page-block. The
// descriptor itself lives on the Go heap; base points at the raw,
// non-GC-scanned memory backing the bump area and both free LIFOs, mirroring
// the _Slab/base split used for the mmap-backed fixed size allocator: block
// bookkeeping in a normal struct, payload bytes in raw memory addressed via
// unsafe.Pointer.
type pageBlock struct {
	next, prev *pageBlock // classList links

	base       unsafe.Pointer
	pageCount  int
	pageClass  int // 0,1,2 -> which of the 3 supply-chain levels
	sizeClass  int
	objectSize uint16 // slot size including the 1-byte header

	allocatedObjects  int32
	unallocatedOffset uint32
	bumpLimit         uint32
	freedHead         uint32 // local free LIFO, offset of header byte; noOffset = empty

	// sync packs {owner:threadIDBits, remoteFreedHead:remoteFreedOffsetBits,
	// remoteFreedCount:remoteFreedCountBits}, per allocator_internal.h's rfid.
	sync atomic.Uint64
}

func packSync(owner uint32, remoteHead uint32, remoteCount uint32) uint64 {
	return (uint64(owner) << threadIDShift & threadIDMask) |
		(uint64(remoteHead) << remoteFreedOffsetShift & remoteFreedOffsetMask) |
		(uint64(remoteCount) << remoteFreedCountShift & remoteFreedCountMask)
}

func unpackSync(w uint64) (owner, remoteHead, remoteCount uint32) {
	owner = uint32((w & threadIDMask) >> threadIDShift)
	remoteHead = uint32((w & remoteFreedOffsetMask) >> remoteFreedOffsetShift)
	remoteCount = uint32((w & remoteFreedCountMask) >> remoteFreedCountShift)
	return
}

func newPageBlock(base unsafe.Pointer, pageCount, pageClass, sizeClass int, objectSize uint16, owner uint32) *pageBlock {
	b := &pageBlock{
		base:       base,
		pageCount:  pageCount,
		pageClass:  pageClass,
		sizeClass:  sizeClass,
		objectSize: objectSize,
		bumpLimit:  uint32(pageCount * pageSize),
		freedHead:  noOffset,
		// The bump area's first slot must start at defaultAlign-1 so that
		// its payload (one byte past the slot's header) lands on a
		// defaultAlign boundary, per allocator.cpp's page_internal_init
		// (align_rq computed off DEFAULT_ALLIGN, folded into the initial
		// offset rather than applied per-slot since object_size is already
		// a multiple of defaultAlign).
		unallocatedOffset: defaultAlign - 1,
	}
	b.sync.Store(packSync(owner, 0, 0))
	pageBlockRegistry.register(b)
	return b
}

func (b *pageBlock) slotHeader(offset uint32) unsafe.Pointer {
	return unsafe.Pointer(uintptr(b.base) + uintptr(offset))
}

func (b *pageBlock) slotPayload(offset uint32) unsafe.Pointer {
	return unsafe.Pointer(uintptr(b.base) + uintptr(offset) + 1)
}

func (b *pageBlock) offsetOf(payload unsafe.Pointer) uint32 {
	return uint32(uintptr(payload) - uintptr(b.base) - 1)
}

func linkWrite(payload unsafe.Pointer, v uint32) { *(*uint32)(payload) = v }
func linkRead(payload unsafe.Pointer) uint32     { return *(*uint32)(payload) }

// drainRemote atomically detaches the block's remote-free LIFO, preserving
// the owner field, per allocator.cpp's page_internal_alloc drain step.
func (b *pageBlock) drainRemote() (head uint32, count uint32) {
	for {
		old := b.sync.Load()
		owner, remoteHead, remoteCount := unpackSync(old)
		if remoteCount == 0 {
			return noOffset, 0
		}
		if b.sync.CAS(old, packSync(owner, 0, 0)) {
			return remoteHead, remoteCount
		}
	}
}

// spliceOntoLocal walks a detached remote-free chain (head, given count long)
// and pushes every entry onto the local free LIFO.
func (b *pageBlock) spliceOntoLocal(head uint32, count uint32) {
	for i := uint32(0); i < count; i++ {
		payload := b.slotPayload(head)
		next := linkRead(payload)
		linkWrite(payload, b.freedHead)
		b.freedHead = head
		head = next
	}
	b.allocatedObjects -= int32(count)
}

// allocateSlot implements the owning thread's allocate-from-block fast
// path: drain remote frees, then local LIFO, then the bump area.
func (b *pageBlock) allocateSlot() (unsafe.Pointer, bool) {
	if head, count := b.drainRemote(); count > 0 {
		b.spliceOntoLocal(head, count)
	}

	if b.freedHead != noOffset {
		offset := b.freedHead
		payload := b.slotPayload(offset)
		b.freedHead = linkRead(payload)
		b.allocatedObjects++
		return payload, true
	}

	if uint32(b.unallocatedOffset)+uint32(b.objectSize) <= b.bumpLimit {
		offset := b.unallocatedOffset
		b.unallocatedOffset += uint32(b.objectSize)
		// The page offset is that of the payload, not the header byte: a
		// header on a page's last byte has its payload on the next page, and
		// blockFromPageOffset rounds the payload address down.
		writeSmallHeader(b.slotPayload(offset), int((offset+1)/pageSize))
		b.allocatedObjects++
		return b.slotPayload(offset), true
	}

	return nil, false
}

// freeLocal implements the owning thread's half of free-in-block: push the
// slot onto the local free LIFO and decrement allocatedObjects. It reports
// nothing about emptiness — the caller (heap.go) owns the list and decides
// whether an emptied block should be reclaimed.
func (b *pageBlock) freeLocal(offset uint32) {
	payload := b.slotPayload(offset)
	linkWrite(payload, b.freedHead)
	b.freedHead = offset
	b.allocatedObjects--
}

// isEmpty reports allocatedObjects == 0, from the owner's point of view.
func (b *pageBlock) isEmpty() bool { return b.allocatedObjects == 0 }

// remoteFreeCount peeks the number of objects already remotely freed,
// without draining — used by the teardown orphan protocol to test
// sync.count == allocatedObjects.
func (b *pageBlock) remoteFreeCount() uint32 {
	_, _, count := unpackSync(b.sync.Load())
	return count
}

// freeRemote implements the non-owner half of free-in-block: CAS the slot
// onto the remote-free LIFO embedded in the sync word, adopting an orphaned
// block ("page steal") in the same CAS if the owner field was ORPHAN.
func (b *pageBlock) freeRemote(self uint32, offset uint32) (adopted bool) {
	payload := b.slotPayload(offset)
	for {
		old := b.sync.Load()
		owner, remoteHead, remoteCount := unpackSync(old)

		linkWrite(payload, remoteHead)

		newOwner := owner
		wasOrphan := owner == orphanID
		if wasOrphan {
			newOwner = self
		}

		newWord := packSync(newOwner, offset, remoteCount+1)
		if b.sync.CAS(old, newWord) {
			if wasOrphan {
				xlog.Debug("malloc: page-block adopted via remote free")
				recordSteal()
			}
			return wasOrphan
		}
	}
}

// orphanize marks the block unowned so the next remote freer can adopt it,
// unless it has already been fully drained (handled by the caller via
// isEmpty/remoteFreeCount before calling this), per §4.7's teardown
// protocol.
func (b *pageBlock) orphanize() (settled bool) {
	for {
		old := b.sync.Load()
		_, remoteHead, remoteCount := unpackSync(old)
		if int32(remoteCount) == b.allocatedObjects {
			return true
		}
		if b.sync.CAS(old, packSync(orphanID, remoteHead, remoteCount)) {
			return false
		}
	}
}

func (b *pageBlock) owner() uint32 {
	o, _, _ := unpackSync(b.sync.Load())
	return o
}
