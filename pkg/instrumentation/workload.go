package instrumentation

import (
	"context"
	"math/rand"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/willibrandon/ChronoHeap/pkg/heapapi"
)

// WorkloadOptions shapes a synthetic heap workload.
type WorkloadOptions struct {
	Threads      int
	OpsPerThread int
	MaxAllocSize uint64
	Seed         int64
}

// DefaultWorkloadOptions returns a small mixed workload.
func DefaultWorkloadOptions() WorkloadOptions {
	return WorkloadOptions{
		Threads:      4,
		OpsPerThread: 256,
		MaxAllocSize: 4096,
		Seed:         1,
	}
}

// RunWorkload drives th from opts.Threads goroutines. Each thread works on
// a private heap, mixing allocations, frees, resizes and size queries, and
// leaves nothing behind.
func RunWorkload(ctx context.Context, th *TracedHeap, opts WorkloadOptions) error {
	if opts.Threads <= 0 || opts.OpsPerThread < 0 || opts.MaxAllocSize == 0 {
		return errors.Newf("invalid workload %+v", opts)
	}
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < opts.Threads; i++ {
		tid := uint32(i + 1)
		rng := rand.New(rand.NewSource(opts.Seed + int64(i)))
		g.Go(func() error {
			return runThread(ctx, th.Thread(tid), rng, opts)
		})
	}
	return g.Wait()
}

func runThread(ctx context.Context, h heapapi.Heap, rng *rand.Rand, opts WorkloadOptions) error {
	heap := h.HeapCreate(0, 0, 0)
	if heap == heapapi.NullHandle {
		return errors.New("HeapCreate failed")
	}
	h.HeapSetInformation(heap, heapapi.HeapCompatibilityInformation, 2, 4)

	var live []heapapi.Address
	pick := func() int { return rng.Intn(len(live)) }
	size := func() uint64 { return 1 + uint64(rng.Int63n(int64(opts.MaxAllocSize))) }

	for op := 0; op < opts.OpsPerThread; op++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		r := rng.Intn(10)
		if len(live) == 0 {
			r = 0
		}
		switch {
		case r < 5:
			var flags uint32
			if rng.Intn(4) == 0 {
				flags = heapapi.HeapZeroMemory
			}
			if a := h.HeapAlloc(heap, flags, size()); a != heapapi.NullAddress {
				live = append(live, a)
			}
		case r < 7:
			i := pick()
			h.HeapFree(heap, 0, live[i])
			live = append(live[:i], live[i+1:]...)
		case r < 9:
			i := pick()
			var flags uint32
			if rng.Intn(3) == 0 {
				flags = heapapi.HeapReAllocInPlaceOnly
			}
			if a := h.HeapReAlloc(heap, flags, live[i], size()); a != heapapi.NullAddress {
				live[i] = a
			}
		default:
			h.HeapSize(heap, 0, live[pick()])
		}
	}

	for _, a := range live {
		h.HeapFree(heap, 0, a)
	}
	if !h.HeapDestroy(heap) {
		return errors.New("HeapDestroy failed")
	}
	return nil
}
