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

import "unsafe"

// Every allocation handed to a caller is preceded by an in-band header, so
// a bare pointer is enough to free or resize it later without a side table.
// Small allocations (decoded by class.go) carry a 1-byte header immediately
// before the payload: [kind:1 | page-offset:headerPageOffBits | validity].
// Large (mmap-backed) allocations carry that same 1-byte header at offset
// -1, preceded by an 8-byte page count at offset -largeHeaderSize, per
// allocator_header.h's GET_LARGER_ALLOC_SZ.

// smallHeaderAt reads the 1-byte header immediately preceding ptr.
func smallHeaderAt(ptr unsafe.Pointer) byte {
	return *(*byte)(unsafe.Pointer(uintptr(ptr) - 1))
}

// writeSmallHeader encodes and stores the header for a small allocation
// living at pageOffset pages into its owning page-block.
func writeSmallHeader(ptr unsafe.Pointer, pageOffset int) {
	h := byte(headerKindSmall) |
		byte(pageOffset<<headerPageOffShift)&headerPageOffMask |
		byte(headerValid)
	*(*byte)(unsafe.Pointer(uintptr(ptr) - 1)) = h
}

// writeLargeHeader encodes the header for an mmap-backed allocation and
// records its size, in pages, immediately before it.
func writeLargeHeader(ptr unsafe.Pointer, pages uintptr) {
	*(*uintptr)(unsafe.Pointer(uintptr(ptr) - largeHeaderSize)) = pages
	h := byte(headerKindLarge) | byte(headerValid)
	*(*byte)(unsafe.Pointer(uintptr(ptr) - 1)) = h
}

// headerIsLarge reports whether the header byte marks a large allocation.
func headerIsLarge(h byte) bool { return h&headerKindMask == headerKindLarge }

// headerIsValid reports whether the header's validity field matches the
// expected sentinel; a mismatch means a double free, a corrupted pointer,
// or a pointer that never came from this allocator.
func headerIsValid(h byte) bool { return h&headerValidMask == headerValid }

// headerPageOffset extracts the page-offset field from a small header.
func headerPageOffset(h byte) int {
	return int((h & headerPageOffMask) >> headerPageOffShift)
}

// largeHeaderPages reads the page count stored ahead of a large allocation.
func largeHeaderPages(ptr unsafe.Pointer) uintptr {
	return *(*uintptr)(unsafe.Pointer(uintptr(ptr) - largeHeaderSize))
}

// largeAllocStart returns the address the allocator originally got back
// from mmap for a large allocation, given the pointer handed to the caller.
func largeAllocStart(ptr unsafe.Pointer) unsafe.Pointer {
	return unsafe.Pointer(uintptr(ptr) - largeHeaderSize)
}
