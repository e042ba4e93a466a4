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

// Platform layout assumptions, carried over from the original's
// allocator_internal.h. The allocator targets the common 4KiB page; a
// different host page size would also change how many alignment bits the
// tagged counting stack (stack.go) can steal from a page-block address, so
// this is a hard platform assumption rather than a runtime-queried value,
// exactly as the original hardcodes PAGE_BITS.
const (
	pageBits = 12
	pageSize = 1 << pageBits // 4096

	// pageMultiplier scales a page-class index (0, 1, 2) into an actual
	// page-block size: pages = 2^(idx + pageMultiplier).
	pageMultiplier = 3

	// smallAllocationLimit is half a page; requests at or above this go
	// straight to the large (mmap-backed) path.
	smallAllocationLimit = pageSize / 2

	// numPageClasses is the number of distinct page-block sizes (2^3,
	// 2^4, 2^5 pages), one supply chain per size.
	numPageClasses = 3

	// defaultAlign is the minimum payload alignment guaranteed to callers.
	defaultAlign = 16
)

// Object header bit layout (1 byte): [kind:1 | page-offset:5 | validity:2].
// headerPageOffBits = 2 + pageMultiplier, matching the original's
// HEADER_PAGE_OFF_BITS so the field can address the largest page-block
// (2^5 pages) at 1-page granularity.
const (
	headerKindShift  = 7
	headerKindMask   = 1 << headerKindShift
	headerKindSmall  = 0
	headerKindLarge  = headerKindMask

	headerPageOffBits  = 2 + pageMultiplier
	headerPageOffShift = 8 - 1 - headerPageOffBits
	headerPageOffMask  = ((1 << headerPageOffBits) - 1) << headerPageOffShift

	headerValidBits = 8 - 1 - headerPageOffBits
	headerValidMask = (1 << headerValidBits) - 1
	// headerValid is SECURITY_OPCODE (0xFF) masked to the validity
	// field's width: every bit in the field set.
	headerValid = 0xFF & headerValidMask
)

// Large-allocation prefix: 8 bytes holding the page count, followed by the
// common 1-byte header at offset 15 (bytes 8-14 are unused padding, kept
// for the same reason the original keeps a full 16-byte prefix: so the
// 1-byte header always sits at a fixed negative offset from the payload
// regardless of allocation kind).
const largeHeaderSize = 16

// Sync-word bit layout, LSB first, matching the original's rfid bitfield
// declaration order exactly: count declared first occupies the low bits.
const (
	remoteFreedCountBits  = 16
	remoteFreedOffsetBits = 24
	threadIDBits          = 24

	remoteFreedCountShift  = 0
	remoteFreedOffsetShift = remoteFreedCountShift + remoteFreedCountBits
	threadIDShift          = remoteFreedOffsetShift + remoteFreedOffsetBits

	remoteFreedCountMask  = uint64(1<<remoteFreedCountBits-1) << remoteFreedCountShift
	remoteFreedOffsetMask = uint64(1<<remoteFreedOffsetBits-1) << remoteFreedOffsetShift
	threadIDMask          = uint64(1<<threadIDBits-1) << threadIDShift

	// orphanID is the sentinel owner marking an unowned, awaiting-adoption
	// page-block: all ones in the thread-id field.
	orphanID = uint32(1<<threadIDBits - 1)
)

// Tagged counting stack head, LSB first: a page-block pointer (always
// page-aligned, so its low pageBits are free), a count of live entries, and
// an ABA-guarding state tag that increments on every push and pop.
//
// virtualEffectiveBits follows allocator_list.h's conservative assumption
// that the host only uses 52 bits of virtual address space; page alignment
// recovers another pageBits of those as free low bits, leaving ptrBits to
// actually store. The remaining 64-ptrBits split evenly between count and
// state.
const (
	virtualEffectiveBits = 52
	virtualUnusedBits    = 64 - virtualEffectiveBits

	ptrShift = pageBits
	ptrBits  = 64 - pageBits - virtualUnusedBits
	ptrMask  = uint64(1)<<(64-virtualUnusedBits) - 1

	countBits = (64 - ptrBits) / 2
	stateBits = (64 - ptrBits) / 2
	countMax  = uint64(1)<<countBits - 1

	stackNextShift  = 0
	stackCountShift = stackNextShift + ptrBits
	stackStateShift = stackCountShift + countBits

	stackNextMask  = uint64(1<<ptrBits-1) << stackNextShift
	stackCountMask = uint64(1<<countBits-1) << stackCountShift
	stackStateMask = uint64(1<<stateBits-1) << stackStateShift
)
