package heapapi

// Slot signatures. They mirror the Win32 heap API: a zero Handle or Address,
// false, or SizeFailure signals failure.
type (
	HeapAllocFunc          func(heap Handle, flags uint32, bytes uint64) Address
	HeapCreateFunc         func(options uint32, initialSize, maximumSize uint64) Handle
	HeapDestroyFunc        func(heap Handle) bool
	HeapFreeFunc           func(heap Handle, flags uint32, mem Address) bool
	HeapReAllocFunc        func(heap Handle, flags uint32, mem Address, bytes uint64) Address
	HeapSetInformationFunc func(heap Handle, infoClass uint32, info, infoLength uint64) bool
	HeapSizeFunc           func(heap Handle, flags uint32, mem Address) uint64
)

// Heap is a complete heap implementation that can be bound to a backdrop or
// wrapped for tracing.
type Heap interface {
	HeapAlloc(heap Handle, flags uint32, bytes uint64) Address
	HeapCreate(options uint32, initialSize, maximumSize uint64) Handle
	HeapDestroy(heap Handle) bool
	HeapFree(heap Handle, flags uint32, mem Address) bool
	HeapReAlloc(heap Handle, flags uint32, mem Address, bytes uint64) Address
	HeapSetInformation(heap Handle, infoClass uint32, info, infoLength uint64) bool
	HeapSize(heap Handle, flags uint32, mem Address) uint64
}
