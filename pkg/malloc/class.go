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

// Package malloc implements a thread-caching general-purpose allocator,
// intended to sit behind the four classic malloc/calloc/realloc/free entry
// points rather than rely on Go's garbage-collected heap for the memory it
// hands out.
package malloc

import (
	"math/bits"

	"github.com/anasvag575/xmalloc/pkg/malloc/internal/xlog"
	"go.uber.org/zap"
)

// classSizes holds the 64 size classes, grouped into 3 ranges with
// non-uniform step sizes. Each value is the total slot size including the
// 1-byte small-object header.
var classSizes = [numClasses]uint16{
	// Range 0 - 16-byte offsets, 16..512 (32 classes)
	16, 32, 48, 64, 80, 96, 112, 128,
	144, 160, 176, 192, 208, 224, 240, 256,
	272, 288, 304, 320, 336, 352, 368, 384,
	400, 416, 432, 448, 464, 480, 496, 512,

	// Range 1 - 32-byte offsets, 544..1024 (16 classes)
	544, 576, 608, 640, 672, 704, 736, 768,
	800, 832, 864, 896, 928, 960, 992, 1024,

	// Range 2 - 64-byte offsets, 1088..2048 (16 classes)
	1088, 1152, 1216, 1280, 1344, 1408, 1472, 1536,
	1600, 1664, 1728, 1792, 1856, 1920, 1984, 2048,
}

const (
	numClasses    = 64
	numRanges     = 3
	rangeShift    = 8   // size>>8 picks the range via log2
	rangeMult     = 512 // bytes per range
	subrangeShift = 4   // base divisor for the sub-range offset
)

// rangeOffset is the class index at which each range starts.
var rangeOffset = [numRanges]int{0, 32, 48}

func init() {
	xlog.Info("malloc: size-class table built",
		zap.Int("classes", numClasses),
		zap.Uint16("smallest class", classSizes[0]),
		zap.Uint16("largest class", classSizes[numClasses-1]),
		zap.Int("smallest page-block (pages)", pageBlockPagesByClass(0)),
	)
}

// decodeClass maps a request size (1 <= size < smallAllocationLimit) to a
// size-class index and the page-block size (in pages) that backs it. It is
// the Go rendering of the original's class_size_decode: the range is
// log2(size>>8 | 1), the sub-range is the remainder divided by the range's
// step, and the page-block size is 2^(range+pageMultiplier) pages.
func decodeClass(size uintptr) (classIdx int, pageBlockPages int) {
	rangeIdx := bits.Len(uint(size>>rangeShift)|1) - 1
	subrangeIdx := (int(size) - rangeMult*rangeIdx) >> (subrangeShift + rangeIdx)
	classIdx = rangeOffset[rangeIdx] + subrangeIdx
	pageBlockPages = 1 << (rangeIdx + pageMultiplier)
	return
}

// pageBlockPagesByClass returns the page-block size, in pages, for the page-class
// index (0, 1, or 2) — the inverse direction of pageClassFromPages.
func pageBlockPagesByClass(pageClassIdx int) int {
	return 1 << (pageClassIdx + pageMultiplier)
}

// pageClassFromPages maps a page-block size (in pages) back to its page
// class index (0, 1, or 2), used when returning a block to its matching
// cache level.
func pageClassFromPages(pages int) int {
	return bits.Len(uint(pages)>>pageMultiplier) - 1
}

// classSizeFromObjectSize re-derives the class index that owns an
// object_size (the stored slot size minus the 1-byte header, fed back
// through decodeClass as size-1, exactly as the original's free() path
// does: class_size_decode(page->object_size - 1, ...).
func classSizeFromObjectSize(objectSize uint16) int {
	idx, _ := decodeClass(uintptr(objectSize) - 1)
	return idx
}
