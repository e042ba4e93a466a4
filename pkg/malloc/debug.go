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
	"io"
	"os"

	"go.uber.org/atomic"
)

// stats mirrors the original's DEBUG_COUNT_*/DEBUG_TOTAL_* macros (total
// malloc/realloc/free ops, total mmap/munmap calls, total page steals, total
// and peak allocated bytes). spec.md §1 places "the optional debug counters"
// out of core scope as an external collaborator, but SPEC_FULL.md's
// supplemented features keep them unconditionally: Go has no build-time
// macro story as cheap as C's #define, and the counters themselves are a
// handful of atomic adds on paths that already pay for a CAS or a syscall.
type stats struct {
	mallocOps    atomic.Uint64
	reallocOps   atomic.Uint64
	freeOps      atomic.Uint64
	mmapOps      atomic.Uint64
	munmapOps    atomic.Uint64
	pageSteals   atomic.Uint64
	allocBytes   atomic.Uint64
	deallocBytes atomic.Uint64
	peakInUse    atomic.Uint64
}

var debugStats stats

func recordAlloc(n uint64) {
	debugStats.mallocOps.Inc()
	allocBytes := debugStats.allocBytes.Add(n)
	inUse := allocBytes - debugStats.deallocBytes.Load()
	for {
		peak := debugStats.peakInUse.Load()
		if inUse <= peak || debugStats.peakInUse.CAS(peak, inUse) {
			return
		}
	}
}

func recordDealloc(n uint64) {
	debugStats.freeOps.Inc()
	debugStats.deallocBytes.Add(n)
}

func recordRealloc() { debugStats.reallocOps.Inc() }
func recordMmap()    { debugStats.mmapOps.Inc() }
func recordMunmap()  { debugStats.munmapOps.Inc() }
func recordSteal()   { debugStats.pageSteals.Inc() }

// TotalAllocBytes returns the cumulative bytes ever handed to a caller,
// across both the small and large paths. Used by scenario 3's leak check
// (spec.md §8): total_alloc_mem - total_dealloc_mem must return to its
// baseline once a matching burst of allocate/release completes.
func TotalAllocBytes() uint64 { return debugStats.allocBytes.Load() }

// TotalDeallocBytes returns the cumulative bytes ever returned via release.
func TotalDeallocBytes() uint64 { return debugStats.deallocBytes.Load() }

// DebugStats writes human-readable allocator statistics to standard output,
// per §6's debug_stats(): a no-op in release builds in the original, kept
// unconditional here per SPEC_FULL.md §5.1.
func DebugStats() { writeDebugStats(os.Stdout) }

func writeDebugStats(w io.Writer) {
	allocBytes := debugStats.allocBytes.Load()
	deallocBytes := debugStats.deallocBytes.Load()
	fmt.Fprintf(w, "xmalloc stats:\n")
	fmt.Fprintf(w, "  malloc ops:          %d\n", debugStats.mallocOps.Load())
	fmt.Fprintf(w, "  realloc ops:         %d\n", debugStats.reallocOps.Load())
	fmt.Fprintf(w, "  free ops:            %d\n", debugStats.freeOps.Load())
	fmt.Fprintf(w, "  mmap calls:          %d\n", debugStats.mmapOps.Load())
	fmt.Fprintf(w, "  munmap calls:        %d\n", debugStats.munmapOps.Load())
	fmt.Fprintf(w, "  page steals:         %d\n", debugStats.pageSteals.Load())
	fmt.Fprintf(w, "  total alloc bytes:   %d\n", allocBytes)
	fmt.Fprintf(w, "  total dealloc bytes: %d\n", deallocBytes)
	fmt.Fprintf(w, "  bytes in use:        %d\n", allocBytes-deallocBytes)
	fmt.Fprintf(w, "  peak bytes in use:   %d\n", debugStats.peakInUse.Load())
}
