package backdrop

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/willibrandon/ChronoHeap/pkg/heapapi"
)

// mockHeap is a heapapi.Heap double driven by expectations.
type mockHeap struct {
	mock.Mock
}

func (m *mockHeap) HeapAlloc(heap heapapi.Handle, flags uint32, bytes uint64) heapapi.Address {
	return m.Called(heap, flags, bytes).Get(0).(heapapi.Address)
}

func (m *mockHeap) HeapCreate(options uint32, initialSize, maximumSize uint64) heapapi.Handle {
	return m.Called(options, initialSize, maximumSize).Get(0).(heapapi.Handle)
}

func (m *mockHeap) HeapDestroy(heap heapapi.Handle) bool {
	return m.Called(heap).Bool(0)
}

func (m *mockHeap) HeapFree(heap heapapi.Handle, flags uint32, mem heapapi.Address) bool {
	return m.Called(heap, flags, mem).Bool(0)
}

func (m *mockHeap) HeapReAlloc(heap heapapi.Handle, flags uint32, mem heapapi.Address, bytes uint64) heapapi.Address {
	return m.Called(heap, flags, mem, bytes).Get(0).(heapapi.Address)
}

func (m *mockHeap) HeapSetInformation(heap heapapi.Handle, infoClass uint32, info, infoLength uint64) bool {
	return m.Called(heap, infoClass, info, infoLength).Bool(0)
}

func (m *mockHeap) HeapSize(heap heapapi.Handle, flags uint32, mem heapapi.Address) uint64 {
	return m.Called(heap, flags, mem).Get(0).(uint64)
}

func newBoundBackdrop(t *testing.T) (*HeapBackdrop, *mockHeap) {
	impl := &mockHeap{}
	b := New()
	b.Bind(impl)
	t.Cleanup(func() { impl.AssertExpectations(t) })
	return b, impl
}

func TestUnboundOperation(t *testing.T) {
	b := New()
	checks := []error{
		b.HeapAlloc(0, 0, 8, 0x10),
		b.HeapCreate(0, 0, 0, 0x1),
		b.HeapDestroy(0, true),
		b.HeapFree(0, 0, 0, true),
		b.HeapReAlloc(0, 0, 0, 8, 0x10),
		b.HeapSetInformation(0, 0, 0, 0, true),
		b.HeapSize(0, 0, 0, 8),
	}
	for i, err := range checks {
		require.True(t, errors.Is(err, heapapi.ErrUnboundOperation), "check %d: %v", i, err)
	}
	require.Empty(t, b.Stats())
}

func TestPartialBackdrop(t *testing.T) {
	b := New()
	b.SetHeapCreate(func(options uint32, initialSize, maximumSize uint64) heapapi.Handle {
		return 0x500
	})
	require.NoError(t, b.HeapCreate(0, 0, 0, 0xDEADBEEF))

	live, err := b.HeapMap().Translate(0xDEADBEEF)
	require.NoError(t, err)
	require.Equal(t, heapapi.Handle(0x500), live)

	// Everything else is still unbound.
	err = b.HeapAlloc(0xDEADBEEF, 0, 16, 0x1000)
	require.True(t, errors.Is(err, heapapi.ErrUnboundOperation))
}

func TestAllocFreeLifecycle(t *testing.T) {
	b, impl := newBoundBackdrop(t)
	impl.On("HeapCreate", uint32(0), uint64(0), uint64(0)).Return(heapapi.Handle(0x77)).Once()
	impl.On("HeapAlloc", heapapi.Handle(0x77), uint32(0xFF), uint64(247)).Return(heapapi.Address(0x9000)).Once()
	impl.On("HeapSize", heapapi.Handle(0x77), uint32(0), heapapi.Address(0x9000)).Return(uint64(256)).Once()
	impl.On("HeapFree", heapapi.Handle(0x77), uint32(0), heapapi.Address(0x9000)).Return(true).Once()
	impl.On("HeapDestroy", heapapi.Handle(0x77)).Return(true).Once()

	require.NoError(t, b.HeapCreate(0, 0, 0, 0xDEADBEEF))
	require.NoError(t, b.HeapAlloc(0xDEADBEEF, 0xFF, 247, 0xBAADF00D))

	live, err := b.AllocMap().Translate(0xBAADF00D)
	require.NoError(t, err)
	require.Equal(t, heapapi.Address(0x9000), live)

	require.NoError(t, b.HeapSize(0xDEADBEEF, 0, 0xBAADF00D, 247))
	require.NoError(t, b.HeapFree(0xDEADBEEF, 0, 0xBAADF00D, true))
	require.Equal(t, 0, b.AllocMap().Len())
	require.NoError(t, b.HeapDestroy(0xDEADBEEF, true))
	require.Equal(t, 0, b.HeapMap().Len())

	stats := b.Stats()
	for _, et := range []heapapi.EventType{heapapi.HeapCreate, heapapi.HeapAlloc, heapapi.HeapSize, heapapi.HeapFree, heapapi.HeapDestroy} {
		require.Equal(t, uint64(1), stats[et].Calls, et.String())
	}
}

func TestUnknownIdentifier(t *testing.T) {
	b, _ := newBoundBackdrop(t)

	err := b.HeapAlloc(0x1234, 0, 8, 0x10)
	require.True(t, errors.Is(err, heapapi.ErrUnknownIdentifier))

	err = b.HeapFree(0, 0, 0x10, true)
	require.True(t, errors.Is(err, heapapi.ErrUnknownIdentifier))

	// Nothing reached the implementation, so nothing was counted.
	require.Empty(t, b.Stats())
}

func TestNullPassesThrough(t *testing.T) {
	b, impl := newBoundBackdrop(t)
	impl.On("HeapFree", heapapi.NullHandle, uint32(0), heapapi.NullAddress).Return(true).Once()
	require.NoError(t, b.HeapFree(0, 0, 0, true))
}

func TestDivergence(t *testing.T) {
	b, impl := newBoundBackdrop(t)
	impl.On("HeapCreate", uint32(0), uint64(0), uint64(0)).Return(heapapi.Handle(0x77)).Once()
	impl.On("HeapAlloc", heapapi.Handle(0x77), uint32(0), uint64(1<<40)).Return(heapapi.NullAddress).Once()
	impl.On("HeapAlloc", heapapi.Handle(0x77), uint32(0), uint64(1<<41)).Return(heapapi.Address(0x10)).Once()

	require.NoError(t, b.HeapCreate(0, 0, 0, 0x1))

	// Recorded success, live failure.
	err := b.HeapAlloc(0x1, 0, 1<<40, 0x2000)
	require.True(t, errors.Is(err, heapapi.ErrDivergence))

	// Recorded failure, live success.
	err = b.HeapAlloc(0x1, 0, 1<<41, 0)
	require.True(t, errors.Is(err, heapapi.ErrDivergence))

	require.Equal(t, 0, b.AllocMap().Len())
	require.Equal(t, uint64(2), b.Stats()[heapapi.HeapAlloc].Calls)
}

func TestRecordedFailureReplaysAsFailure(t *testing.T) {
	b, impl := newBoundBackdrop(t)
	impl.On("HeapCreate", uint32(0), uint64(0), uint64(4096)).Return(heapapi.Handle(0x77)).Once()
	impl.On("HeapAlloc", heapapi.Handle(0x77), uint32(0), uint64(8192)).Return(heapapi.NullAddress).Once()

	require.NoError(t, b.HeapCreate(0, 0, 4096, 0x1))
	require.NoError(t, b.HeapAlloc(0x1, 0, 8192, 0))
	require.Equal(t, 0, b.AllocMap().Len())
}

func TestDuplicateIdentifier(t *testing.T) {
	b, impl := newBoundBackdrop(t)
	impl.On("HeapCreate", uint32(0), uint64(0), uint64(0)).Return(heapapi.Handle(0x77)).Once()
	impl.On("HeapAlloc", heapapi.Handle(0x77), uint32(0), uint64(8)).Return(heapapi.Address(0x10)).Once()
	impl.On("HeapAlloc", heapapi.Handle(0x77), uint32(0), uint64(8)).Return(heapapi.Address(0x20)).Once()

	require.NoError(t, b.HeapCreate(0, 0, 0, 0x1))
	require.NoError(t, b.HeapAlloc(0x1, 0, 8, 0x500))
	err := b.HeapAlloc(0x1, 0, 8, 0x500)
	require.True(t, errors.Is(err, heapapi.ErrDuplicateIdentifier))
}

func TestReAllocMovesMapping(t *testing.T) {
	b, impl := newBoundBackdrop(t)
	impl.On("HeapCreate", uint32(0), uint64(0), uint64(0)).Return(heapapi.Handle(0x77)).Once()
	impl.On("HeapAlloc", heapapi.Handle(0x77), uint32(0), uint64(8)).Return(heapapi.Address(0x10)).Once()
	impl.On("HeapReAlloc", heapapi.Handle(0x77), uint32(0), heapapi.Address(0x10), uint64(64)).Return(heapapi.Address(0x40)).Once()
	impl.On("HeapReAlloc", heapapi.Handle(0x77), uint32(heapapi.HeapReAllocInPlaceOnly), heapapi.Address(0x40), uint64(1<<20)).Return(heapapi.NullAddress).Once()

	require.NoError(t, b.HeapCreate(0, 0, 0, 0x1))
	require.NoError(t, b.HeapAlloc(0x1, 0, 8, 0x100))
	require.NoError(t, b.HeapReAlloc(0x1, 0, 0x100, 64, 0x200))

	_, err := b.AllocMap().Translate(0x100)
	require.True(t, errors.Is(err, heapapi.ErrUnknownIdentifier))
	live, err := b.AllocMap().Translate(0x200)
	require.NoError(t, err)
	require.Equal(t, heapapi.Address(0x40), live)

	// A failed in-place resize leaves the mapping alone.
	require.NoError(t, b.HeapReAlloc(0x1, heapapi.HeapReAllocInPlaceOnly, 0x200, 1<<20, 0))
	live, err = b.AllocMap().Translate(0x200)
	require.NoError(t, err)
	require.Equal(t, heapapi.Address(0x40), live)
}

func TestDivergentFreeFollowsLiveHeap(t *testing.T) {
	b, impl := newBoundBackdrop(t)
	impl.On("HeapCreate", uint32(0), uint64(0), uint64(0)).Return(heapapi.Handle(0x77)).Once()
	impl.On("HeapAlloc", heapapi.Handle(0x77), uint32(0), uint64(8)).Return(heapapi.Address(0x10)).Twice()
	impl.On("HeapFree", heapapi.Handle(0x77), uint32(0), heapapi.Address(0x10)).Return(true).Once()

	require.NoError(t, b.HeapCreate(0, 0, 0, 0x1))
	require.NoError(t, b.HeapAlloc(0x1, 0, 8, 0xa0))

	// The recorded free failed but the live one released the block.
	err := b.HeapFree(0x1, 0, 0xa0, false)
	require.True(t, errors.Is(err, heapapi.ErrDivergence))
	require.False(t, errors.Is(err, heapapi.ErrDuplicateIdentifier))
	require.Equal(t, 0, b.AllocMap().Len())

	// The live address comes back without a false collision.
	require.NoError(t, b.HeapAlloc(0x1, 0, 8, 0xb0))
}

func TestDivergentReAllocFollowsLiveHeap(t *testing.T) {
	b, impl := newBoundBackdrop(t)
	impl.On("HeapCreate", uint32(0), uint64(0), uint64(0)).Return(heapapi.Handle(0x77)).Once()
	impl.On("HeapAlloc", heapapi.Handle(0x77), uint32(0), uint64(8)).Return(heapapi.Address(0x10)).Once()
	impl.On("HeapReAlloc", heapapi.Handle(0x77), uint32(0), heapapi.Address(0x10), uint64(64)).Return(heapapi.Address(0x40)).Once()
	impl.On("HeapAlloc", heapapi.Handle(0x77), uint32(0), uint64(8)).Return(heapapi.Address(0x10)).Once()

	require.NoError(t, b.HeapCreate(0, 0, 0, 0x1))
	require.NoError(t, b.HeapAlloc(0x1, 0, 8, 0xa0))

	// The recorded resize failed, so the trace still names the block 0xa0;
	// the live heap moved it to 0x40.
	err := b.HeapReAlloc(0x1, 0, 0xa0, 64, 0)
	require.True(t, errors.Is(err, heapapi.ErrDivergence))
	live, err := b.AllocMap().Translate(0xa0)
	require.NoError(t, err)
	require.Equal(t, heapapi.Address(0x40), live)

	require.NoError(t, b.HeapAlloc(0x1, 0, 8, 0xb0))
}

func TestDivergentDestroyFollowsLiveHeap(t *testing.T) {
	b, impl := newBoundBackdrop(t)
	impl.On("HeapCreate", uint32(0), uint64(0), uint64(0)).Return(heapapi.Handle(0x77)).Twice()
	impl.On("HeapAlloc", heapapi.Handle(0x77), uint32(0), uint64(8)).Return(heapapi.Address(0x10)).Once()
	impl.On("HeapDestroy", heapapi.Handle(0x77)).Return(true).Once()

	require.NoError(t, b.HeapCreate(0, 0, 0, 0x1))
	require.NoError(t, b.HeapAlloc(0x1, 0, 8, 0xa0))

	err := b.HeapDestroy(0x1, false)
	require.True(t, errors.Is(err, heapapi.ErrDivergence))
	require.Equal(t, 0, b.HeapMap().Len())
	require.Equal(t, 0, b.AllocMap().Len())

	require.NoError(t, b.HeapCreate(0, 0, 0, 0x2))
}

func TestDestroyReleasesAllocations(t *testing.T) {
	b, impl := newBoundBackdrop(t)
	impl.On("HeapCreate", uint32(0), uint64(0), uint64(0)).Return(heapapi.Handle(0x77)).Once()
	impl.On("HeapCreate", uint32(0), uint64(0), uint64(0)).Return(heapapi.Handle(0x88)).Once()
	impl.On("HeapAlloc", heapapi.Handle(0x77), uint32(0), uint64(8)).Return(heapapi.Address(0x10)).Once()
	impl.On("HeapAlloc", heapapi.Handle(0x88), uint32(0), uint64(8)).Return(heapapi.Address(0x20)).Once()
	impl.On("HeapDestroy", heapapi.Handle(0x77)).Return(true).Once()

	require.NoError(t, b.HeapCreate(0, 0, 0, 0x1))
	require.NoError(t, b.HeapCreate(0, 0, 0, 0x2))
	require.NoError(t, b.HeapAlloc(0x1, 0, 8, 0x100))
	require.NoError(t, b.HeapAlloc(0x2, 0, 8, 0x200))
	require.NoError(t, b.HeapDestroy(0x1, true))

	_, err := b.AllocMap().Translate(0x100)
	require.True(t, errors.Is(err, heapapi.ErrUnknownIdentifier))
	_, err = b.AllocMap().Translate(0x200)
	require.NoError(t, err)
}

func TestSetInformation(t *testing.T) {
	b, impl := newBoundBackdrop(t)
	impl.On("HeapCreate", uint32(0), uint64(0), uint64(0)).Return(heapapi.Handle(0x77)).Once()
	impl.On("HeapSetInformation", heapapi.Handle(0x77), uint32(0), uint64(0xCAFE), uint64(4)).Return(true).Once()
	impl.On("HeapSetInformation", heapapi.Handle(0x77), uint32(9), uint64(0), uint64(0)).Return(false).Once()

	require.NoError(t, b.HeapCreate(0, 0, 0, 0x1))
	require.NoError(t, b.HeapSetInformation(0x1, 0, 0xCAFE, 4, true))
	err := b.HeapSetInformation(0x1, 9, 0, 0, true)
	require.True(t, errors.Is(err, heapapi.ErrDivergence))
}

func TestUpdateStats(t *testing.T) {
	b := New()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b.UpdateStats(heapapi.HeapFree, time.Microsecond)
			}
		}()
	}
	wg.Wait()
	b.UpdateStats(heapapi.HeapFree, -time.Second)

	s := b.Stats()[heapapi.HeapFree]
	require.Equal(t, uint64(1001), s.Calls)
	require.Equal(t, 1000*time.Microsecond, s.Time)
}

func TestDispatchTiming(t *testing.T) {
	b := New()
	clock := time.Unix(0, 0)
	b.now = func() time.Time {
		clock = clock.Add(5 * time.Millisecond)
		return clock
	}
	b.SetHeapCreate(func(uint32, uint64, uint64) heapapi.Handle { return 0x1 })
	require.NoError(t, b.HeapCreate(0, 0, 0, 0x1))
	require.Equal(t, Stats{Time: 5 * time.Millisecond, Calls: 1}, b.Stats()[heapapi.HeapCreate])
}

func TestStatsCollector(t *testing.T) {
	b := New()
	b.UpdateStats(heapapi.HeapAlloc, 2*time.Second)
	b.UpdateStats(heapapi.HeapAlloc, time.Second)

	c := NewStatsCollector(b)
	require.Equal(t, 2, testutil.CollectAndCount(c))

	expected := `
# HELP chronoheap_backdrop_calls_total Number of heap calls dispatched through the backdrop.
# TYPE chronoheap_backdrop_calls_total counter
chronoheap_backdrop_calls_total{event="HeapAlloc"} 2
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected), "chronoheap_backdrop_calls_total"))
}

func TestProcessStatsCollectorsShareRegistry(t *testing.T) {
	b1, b2 := New(), New()
	b1.UpdateStats(heapapi.HeapAlloc, time.Second)
	b2.UpdateStats(heapapi.HeapFree, time.Second)
	b2.UpdateStats(heapapi.HeapFree, time.Second)

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(NewProcessStatsCollector(1, b1)))
	require.NoError(t, reg.Register(NewProcessStatsCollector(2, b2)))

	expected := `
# HELP chronoheap_backdrop_calls_total Number of heap calls dispatched through the backdrop.
# TYPE chronoheap_backdrop_calls_total counter
chronoheap_backdrop_calls_total{event="HeapAlloc",pid="1"} 1
chronoheap_backdrop_calls_total{event="HeapFree",pid="2"} 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "chronoheap_backdrop_calls_total"))
}

func TestSlotPanicIsRecovered(t *testing.T) {
	b := New()
	b.SetHeapCreate(func(uint32, uint64, uint64) heapapi.Handle {
		panic("boom")
	})
	err := b.HeapCreate(0, 0, 0, 0x1)
	require.True(t, errors.Is(err, heapapi.ErrDivergence))
	require.Contains(t, err.Error(), "boom")

	// The lock was released.
	b.UpdateStats(heapapi.HeapCreate, 0)
}
