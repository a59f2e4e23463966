// Package heapapi holds the vocabulary shared by every layer of ChronoHeap:
// the closed set of recorded heap operations, the identifier types they
// exchange, the error kinds surfaced during ingestion and replay, and the
// interface a heap implementation must satisfy to be replayed against.
package heapapi

import "fmt"

// EventType identifies one recognized heap API operation.
type EventType int

const (
	HeapAlloc EventType = iota
	HeapCreate
	HeapDestroy
	HeapFree
	HeapReAlloc
	HeapSetInformation
	HeapSize

	// NumEventTypes is the number of recognized operations.
	NumEventTypes int = iota
)

// AllEventTypes lists every EventType in declaration order.
var AllEventTypes = []EventType{
	HeapAlloc,
	HeapCreate,
	HeapDestroy,
	HeapFree,
	HeapReAlloc,
	HeapSetInformation,
	HeapSize,
}

// String returns the string representation of the EventType
func (et EventType) String() string {
	switch et {
	case HeapAlloc:
		return "HeapAlloc"
	case HeapCreate:
		return "HeapCreate"
	case HeapDestroy:
		return "HeapDestroy"
	case HeapFree:
		return "HeapFree"
	case HeapReAlloc:
		return "HeapReAlloc"
	case HeapSetInformation:
		return "HeapSetInformation"
	case HeapSize:
		return "HeapSize"
	default:
		return fmt.Sprintf("EventType(%d)", int(et))
	}
}

// Valid reports whether et is one of the recognized operations.
func (et EventType) Valid() bool {
	return et >= HeapAlloc && int(et) < NumEventTypes
}

// Handle is a heap handle. Zero is the null handle.
type Handle uint64

// Address is the address of an allocation. Zero is the null pointer.
type Address uint64

// String formats the handle as hex.
func (h Handle) String() string { return fmt.Sprintf("%#x", uint64(h)) }

// String formats the address as hex.
func (a Address) String() string { return fmt.Sprintf("%#x", uint64(a)) }

const (
	// NullHandle never needs translation.
	NullHandle Handle = 0
	// NullAddress never needs translation.
	NullAddress Address = 0

	// SizeFailure is what HeapSize returns when it fails.
	SizeFailure = ^uint64(0)
)

// Heap flags understood by the replay layer and the simulated heap.
const (
	HeapNoSerialize        uint32 = 0x00000001
	HeapGenerateExceptions uint32 = 0x00000004
	HeapZeroMemory         uint32 = 0x00000008
	HeapReAllocInPlaceOnly uint32 = 0x00000010
)

// Heap information classes accepted by HeapSetInformation.
const (
	HeapCompatibilityInformation      uint32 = 0
	HeapEnableTerminationOnCorruption uint32 = 1
)
