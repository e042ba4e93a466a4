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
	"runtime"
	"unsafe"

	"go.uber.org/atomic"
)

// node is the in-place header every page-block reuses as its stack-link
// storage while sitting in a taggedStack: the low ptrBits+countBits+stateBits
// word overlays the first 8 bytes of the page-block itself, exactly as the
// original's dq_count_node does, since a page-block is never examined as a
// stack node and as a live block at the same time.
type node struct {
	next uint64
}

// addrPrefix holds the high bits every page-block address shares, captured
// once from the first pointer ever packed into a stack. Each page-block is
// its own mmap call (supply.go), and packing assumes all of them share the
// same upper virtualUnusedBits as that first pointer — unlike the
// original, this does not assume those bits are all ones (true for
// kernel/negative addresses, not for ordinary user-space mmap results); it
// learns them instead.
var addrPrefix atomic.Uint64
var addrPrefixSet atomic.Bool

func packPtr(p unsafe.Pointer) uint64 {
	addr := uint64(uintptr(p))
	if addrPrefixSet.CAS(false, true) {
		addrPrefix.Store(addr &^ ptrMask)
	}
	return (addr & ptrMask) >> ptrShift
}

func unpackPtr(packed uint64) unsafe.Pointer {
	if packed == 0 {
		return nil
	}
	prefix := addrPrefix.Load()
	return unsafe.Pointer(uintptr(prefix | (packed << ptrShift)))
}

// taggedStack is a lock-free LIFO of page-block pointers, packed together
// with a live count and an ABA-guarding state tag into one CAS word, per
// allocator_list.h's dq_count_node / stack_insert_atomic / stack_remove_atomic.
type taggedStack struct {
	head atomic.Uint64
}

func packHead(next, count, state uint64) uint64 {
	return (next << stackNextShift & stackNextMask) |
		(count << stackCountShift & stackCountMask) |
		(state << stackStateShift & stackStateMask)
}

func unpackHead(w uint64) (next, count, state uint64) {
	next = (w & stackNextMask) >> stackNextShift
	count = (w & stackCountMask) >> stackCountShift
	state = (w & stackStateMask) >> stackStateShift
	return
}

// Push links page onto the stack. It returns false only when the stack's
// count has saturated at countMax, mirroring stack_insert_atomic.
func (s *taggedStack) Push(page unsafe.Pointer) bool {
	packed := packPtr(page)
	for {
		old := s.head.Load()
		_, count, state := unpackHead(old)
		if count == countMax {
			return false
		}

		(*node)(page).next = old

		newHead := packHead(packed, count+1, state+1)
		if s.head.CAS(old, newHead) {
			return true
		}
		runtime.Gosched()
	}
}

// Pop unlinks and returns the top page-block, or nil if the stack is empty.
func (s *taggedStack) Pop() unsafe.Pointer {
	for {
		old := s.head.Load()
		next, count, state := unpackHead(old)
		if count == 0 {
			return nil
		}

		top := unpackPtr(next)
		afterNext, _, _ := unpackHead((*node)(top).next)

		newHead := packHead(afterNext, count-1, state+1)
		if s.head.CAS(old, newHead) {
			return top
		}
		runtime.Gosched()
	}
}

// Len returns the stack's live count, useful only for metrics/tests: it can
// be stale the instant it's read under concurrent access.
func (s *taggedStack) Len() int {
	_, count, _ := unpackHead(s.head.Load())
	return int(count)
}

// plainStack is the non-atomic counterpart used by structures only ever
// touched by their single owning goroutine (a thread-cache's free list),
// per allocator_list.h's stack_insert / stack_remove.
type plainStack struct {
	head uint64
}

func (s *plainStack) Push(page unsafe.Pointer) bool {
	_, count, state := unpackHead(s.head)
	if count == countMax {
		return false
	}
	(*node)(page).next = s.head
	s.head = packHead(packPtr(page), count+1, state)
	return true
}

func (s *plainStack) Pop() unsafe.Pointer {
	next, count, state := unpackHead(s.head)
	if count == 0 {
		return nil
	}
	top := unpackPtr(next)
	afterNext, _, _ := unpackHead((*node)(top).next)
	s.head = packHead(afterNext, count-1, state)
	return top
}

func (s *plainStack) Len() int {
	_, count, _ := unpackHead(s.head)
	return int(count)
}
