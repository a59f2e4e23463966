package backdrop

import (
	"github.com/cockroachdb/errors"

	"github.com/willibrandon/ChronoHeap/pkg/heapapi"
)

// HeapAlloc replays an allocation of bytes from traceHeap that returned
// traceAlloc in the trace.
func (b *HeapBackdrop) HeapAlloc(traceHeap heapapi.Handle, flags uint32, bytes uint64, traceAlloc heapapi.Address) (err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	defer recoverSlot(heapapi.HeapAlloc, &err)
	if b.heapAlloc == nil {
		return unbound(heapapi.HeapAlloc)
	}
	liveHeap, err := b.translateHeap(traceHeap)
	if err != nil {
		return err
	}

	start := b.now()
	liveAlloc := b.heapAlloc(liveHeap, flags, bytes)
	b.updateStatsLocked(heapapi.HeapAlloc, b.now().Sub(start))

	if err := outcome(heapapi.HeapAlloc, traceAlloc != heapapi.NullAddress, liveAlloc != heapapi.NullAddress); err != nil {
		return err
	}
	if traceAlloc == heapapi.NullAddress {
		return nil
	}
	return b.addAlloc(traceHeap, traceAlloc, liveAlloc)
}

// HeapCreate replays the creation of a heap recorded as traceHeap.
func (b *HeapBackdrop) HeapCreate(options uint32, initialSize, maximumSize uint64, traceHeap heapapi.Handle) (err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	defer recoverSlot(heapapi.HeapCreate, &err)
	if b.heapCreate == nil {
		return unbound(heapapi.HeapCreate)
	}

	start := b.now()
	liveHeap := b.heapCreate(options, initialSize, maximumSize)
	b.updateStatsLocked(heapapi.HeapCreate, b.now().Sub(start))

	if err := outcome(heapapi.HeapCreate, traceHeap != heapapi.NullHandle, liveHeap != heapapi.NullHandle); err != nil {
		return err
	}
	if traceHeap == heapapi.NullHandle {
		return nil
	}
	return b.heapMap.Insert(traceHeap, liveHeap)
}

// HeapDestroy replays the destruction of traceHeap. On success the heap and
// every allocation still registered against it are released.
func (b *HeapBackdrop) HeapDestroy(traceHeap heapapi.Handle, traceSucceeded bool) (err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	defer recoverSlot(heapapi.HeapDestroy, &err)
	if b.heapDestroy == nil {
		return unbound(heapapi.HeapDestroy)
	}
	liveHeap, err := b.translateHeap(traceHeap)
	if err != nil {
		return err
	}

	start := b.now()
	ok := b.heapDestroy(liveHeap)
	b.updateStatsLocked(heapapi.HeapDestroy, b.now().Sub(start))

	// The maps follow the live heap even when the trace disagrees.
	divergence := outcome(heapapi.HeapDestroy, traceSucceeded, ok)
	if !ok || traceHeap == heapapi.NullHandle {
		return divergence
	}
	for alloc, owner := range b.allocOwner {
		if owner != traceHeap {
			continue
		}
		if err := b.removeAlloc(alloc); err != nil {
			return errors.CombineErrors(divergence, err)
		}
	}
	return errors.CombineErrors(divergence, b.heapMap.Remove(traceHeap))
}

// HeapFree replays the release of traceMem.
func (b *HeapBackdrop) HeapFree(traceHeap heapapi.Handle, flags uint32, traceMem heapapi.Address, traceSucceeded bool) (err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	defer recoverSlot(heapapi.HeapFree, &err)
	if b.heapFree == nil {
		return unbound(heapapi.HeapFree)
	}
	liveHeap, err := b.translateHeap(traceHeap)
	if err != nil {
		return err
	}
	liveMem, err := b.translateAlloc(traceMem)
	if err != nil {
		return err
	}

	start := b.now()
	ok := b.heapFree(liveHeap, flags, liveMem)
	b.updateStatsLocked(heapapi.HeapFree, b.now().Sub(start))

	// The maps follow the live heap even when the trace disagrees.
	divergence := outcome(heapapi.HeapFree, traceSucceeded, ok)
	if !ok || traceMem == heapapi.NullAddress {
		return divergence
	}
	return errors.CombineErrors(divergence, b.removeAlloc(traceMem))
}

// HeapReAlloc replays the resize of traceMem to bytes, recorded as
// returning traceRet.
func (b *HeapBackdrop) HeapReAlloc(traceHeap heapapi.Handle, flags uint32, traceMem heapapi.Address, bytes uint64, traceRet heapapi.Address) (err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	defer recoverSlot(heapapi.HeapReAlloc, &err)
	if b.heapReAlloc == nil {
		return unbound(heapapi.HeapReAlloc)
	}
	liveHeap, err := b.translateHeap(traceHeap)
	if err != nil {
		return err
	}
	liveMem, err := b.translateAlloc(traceMem)
	if err != nil {
		return err
	}

	start := b.now()
	liveRet := b.heapReAlloc(liveHeap, flags, liveMem, bytes)
	b.updateStatsLocked(heapapi.HeapReAlloc, b.now().Sub(start))

	divergence := outcome(heapapi.HeapReAlloc, traceRet != heapapi.NullAddress, liveRet != heapapi.NullAddress)
	if liveRet == heapapi.NullAddress {
		// A failed resize leaves the original block in place.
		return divergence
	}
	// Where the trace kept the block but the replay moved it, traceMem now
	// names the live block at liveRet.
	newTrace := traceRet
	if newTrace == heapapi.NullAddress {
		newTrace = traceMem
	}
	if traceMem != heapapi.NullAddress {
		if err := b.removeAlloc(traceMem); err != nil {
			return errors.CombineErrors(divergence, err)
		}
	}
	if newTrace == heapapi.NullAddress {
		return divergence
	}
	return errors.CombineErrors(divergence, b.addAlloc(traceHeap, newTrace, liveRet))
}

// HeapSetInformation replays a heap option change. info is opaque and
// passed through untranslated.
func (b *HeapBackdrop) HeapSetInformation(traceHeap heapapi.Handle, infoClass uint32, info, infoLength uint64, traceSucceeded bool) (err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	defer recoverSlot(heapapi.HeapSetInformation, &err)
	if b.heapSetInformation == nil {
		return unbound(heapapi.HeapSetInformation)
	}
	liveHeap, err := b.translateHeap(traceHeap)
	if err != nil {
		return err
	}

	start := b.now()
	ok := b.heapSetInformation(liveHeap, infoClass, info, infoLength)
	b.updateStatsLocked(heapapi.HeapSetInformation, b.now().Sub(start))

	return outcome(heapapi.HeapSetInformation, traceSucceeded, ok)
}

// HeapSize replays a size query on traceMem. Only success or failure is
// compared: a candidate heap may legitimately round sizes differently.
func (b *HeapBackdrop) HeapSize(traceHeap heapapi.Handle, flags uint32, traceMem heapapi.Address, traceSize uint64) (err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	defer recoverSlot(heapapi.HeapSize, &err)
	if b.heapSize == nil {
		return unbound(heapapi.HeapSize)
	}
	liveHeap, err := b.translateHeap(traceHeap)
	if err != nil {
		return err
	}
	liveMem, err := b.translateAlloc(traceMem)
	if err != nil {
		return err
	}

	start := b.now()
	size := b.heapSize(liveHeap, flags, liveMem)
	b.updateStatsLocked(heapapi.HeapSize, b.now().Sub(start))

	return outcome(heapapi.HeapSize, traceSize != heapapi.SizeFailure, size != heapapi.SizeFailure)
}
