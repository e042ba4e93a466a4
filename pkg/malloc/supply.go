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
	"fmt"
	"unsafe"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/anasvag575/xmalloc/pkg/malloc/internal/xlog"
)

// globalCache is the middle tier of the three-level page-block supply
// chain: one lock-free stack per page-class, shared by every thread heap.
var globalCache [numPageClasses]taggedStack

// mmapPages asks the OS for a fresh, anonymous, read-write mapping of
// pageCount pages. It is the bottom of the supply chain.
func mmapPages(pageCount int) (unsafe.Pointer, error) {
	region, err := unix.Mmap(
		-1, 0,
		pageCount*pageSize,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS,
	)
	if err != nil {
		return nil, fmt.Errorf("malloc: mmap %d pages: %w", pageCount, err)
	}
	recordMmap()
	return unsafe.Pointer(unsafe.SliceData(region)), nil
}

func munmapPages(base unsafe.Pointer, pageCount int) error {
	err := unix.Munmap(unsafe.Slice((*byte)(base), pageCount*pageSize))
	if err != nil {
		return fmt.Errorf("malloc: munmap %d pages at %p: %w", pageCount, base, err)
	}
	recordMunmap()
	return nil
}

// acquirePageBlock implements get_pageblock: thread-local cache, then the
// global cache, then the OS, in that order.
func acquirePageBlock(pageClassIdx int, local *plainStack) (unsafe.Pointer, error) {
	if p := local.Pop(); p != nil {
		return p, nil
	}
	if p := globalCache[pageClassIdx].Pop(); p != nil {
		return p, nil
	}
	return mmapPages(pageBlockPagesByClass(pageClassIdx))
}

// releasePageBlock implements return_pageblock: thread-local cache, then
// the global cache, then back to the OS.
func releasePageBlock(pageClassIdx int, local *plainStack, base unsafe.Pointer) error {
	if local.Push(base) {
		return nil
	}
	if globalCache[pageClassIdx].Push(base) {
		return nil
	}
	return munmapPages(base, pageBlockPagesByClass(pageClassIdx))
}

// drainLocalCache empties a retiring thread's page cache for one page-class,
// pushing each entry to the global cache or, failing that, back to the OS —
// the cache-draining half of the §4.7 teardown protocol.
func drainLocalCache(pageClassIdx int, local *plainStack) error {
	var errs error
	for {
		base := local.Pop()
		if base == nil {
			return errs
		}
		if globalCache[pageClassIdx].Push(base) {
			continue
		}
		if err := munmapPages(base, pageBlockPagesByClass(pageClassIdx)); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
}

// shutdownGlobalCache releases every page-block sitting in the global cache
// back to the OS, aggregating any munmap failures with multierr rather than
// stopping at the first one.
func shutdownGlobalCache() error {
	var errs error
	for classIdx := range globalCache {
		pages := pageBlockPagesByClass(classIdx)
		for {
			base := globalCache[classIdx].Pop()
			if base == nil {
				break
			}
			if err := munmapPages(base, pages); err != nil {
				errs = multierr.Append(errs, err)
			}
		}
	}
	if errs != nil {
		xlog.Error("malloc: shutdown encountered munmap failures", zap.Error(errs))
	}
	return errs
}
