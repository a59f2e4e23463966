package events

import (
	"fmt"

	"github.com/willibrandon/ChronoHeap/pkg/backdrop"
	"github.com/willibrandon/ChronoHeap/pkg/heapapi"
)

// HeapAllocEvent records HeapAlloc(TraceHeap, Flags, Bytes) = TraceAlloc.
type HeapAllocEvent struct {
	base
	TraceHeap  heapapi.Handle
	Flags      uint32
	Bytes      uint64
	TraceAlloc heapapi.Address
}

// NewHeapAllocEvent returns a HeapAlloc event.
func NewHeapAllocEvent(hdr Header, heap heapapi.Handle, flags uint32, bytes uint64, alloc heapapi.Address) *HeapAllocEvent {
	return &HeapAllocEvent{base: base{hdr}, TraceHeap: heap, Flags: flags, Bytes: bytes, TraceAlloc: alloc}
}

func decodeHeapAlloc(hdr Header, r *argReader) (Event, error) {
	if err := r.expectCount(heapapi.HeapAlloc, 4); err != nil {
		return nil, err
	}
	e := &HeapAllocEvent{base: base{hdr}}
	var err error
	if e.TraceHeap, err = r.handle(); err != nil {
		return nil, err
	}
	if e.Flags, err = r.u32(); err != nil {
		return nil, err
	}
	if e.Bytes, err = r.u64(); err != nil {
		return nil, err
	}
	if e.TraceAlloc, err = r.address(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *HeapAllocEvent) Type() heapapi.EventType { return heapapi.HeapAlloc }

func (e *HeapAllocEvent) Play(b *backdrop.HeapBackdrop) error {
	return b.HeapAlloc(e.TraceHeap, e.Flags, e.Bytes, e.TraceAlloc)
}

func (e *HeapAllocEvent) String() string {
	return fmt.Sprintf("HeapAlloc(%s, %#x, %d) = %s", e.TraceHeap, e.Flags, e.Bytes, e.TraceAlloc)
}

// HeapCreateEvent records HeapCreate(Options, InitialSize, MaximumSize) = TraceHeap.
type HeapCreateEvent struct {
	base
	Options     uint32
	InitialSize uint64
	MaximumSize uint64
	TraceHeap   heapapi.Handle
}

// NewHeapCreateEvent returns a HeapCreate event.
func NewHeapCreateEvent(hdr Header, options uint32, initialSize, maximumSize uint64, heap heapapi.Handle) *HeapCreateEvent {
	return &HeapCreateEvent{base: base{hdr}, Options: options, InitialSize: initialSize, MaximumSize: maximumSize, TraceHeap: heap}
}

func decodeHeapCreate(hdr Header, r *argReader) (Event, error) {
	if err := r.expectCount(heapapi.HeapCreate, 4); err != nil {
		return nil, err
	}
	e := &HeapCreateEvent{base: base{hdr}}
	var err error
	if e.Options, err = r.u32(); err != nil {
		return nil, err
	}
	if e.InitialSize, err = r.u64(); err != nil {
		return nil, err
	}
	if e.MaximumSize, err = r.u64(); err != nil {
		return nil, err
	}
	if e.TraceHeap, err = r.handle(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *HeapCreateEvent) Type() heapapi.EventType { return heapapi.HeapCreate }

func (e *HeapCreateEvent) Play(b *backdrop.HeapBackdrop) error {
	return b.HeapCreate(e.Options, e.InitialSize, e.MaximumSize, e.TraceHeap)
}

func (e *HeapCreateEvent) String() string {
	return fmt.Sprintf("HeapCreate(%#x, %d, %d) = %s", e.Options, e.InitialSize, e.MaximumSize, e.TraceHeap)
}

// HeapDestroyEvent records HeapDestroy(TraceHeap) = TraceSucceeded.
type HeapDestroyEvent struct {
	base
	TraceHeap      heapapi.Handle
	TraceSucceeded bool
}

// NewHeapDestroyEvent returns a HeapDestroy event.
func NewHeapDestroyEvent(hdr Header, heap heapapi.Handle, succeeded bool) *HeapDestroyEvent {
	return &HeapDestroyEvent{base: base{hdr}, TraceHeap: heap, TraceSucceeded: succeeded}
}

func decodeHeapDestroy(hdr Header, r *argReader) (Event, error) {
	if err := r.expectCount(heapapi.HeapDestroy, 2); err != nil {
		return nil, err
	}
	e := &HeapDestroyEvent{base: base{hdr}}
	var err error
	if e.TraceHeap, err = r.handle(); err != nil {
		return nil, err
	}
	if e.TraceSucceeded, err = r.boolean(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *HeapDestroyEvent) Type() heapapi.EventType { return heapapi.HeapDestroy }

func (e *HeapDestroyEvent) Play(b *backdrop.HeapBackdrop) error {
	return b.HeapDestroy(e.TraceHeap, e.TraceSucceeded)
}

func (e *HeapDestroyEvent) String() string {
	return fmt.Sprintf("HeapDestroy(%s) = %t", e.TraceHeap, e.TraceSucceeded)
}

// HeapFreeEvent records HeapFree(TraceHeap, Flags, TraceMem) = TraceSucceeded.
type HeapFreeEvent struct {
	base
	TraceHeap      heapapi.Handle
	Flags          uint32
	TraceMem       heapapi.Address
	TraceSucceeded bool
}

// NewHeapFreeEvent returns a HeapFree event.
func NewHeapFreeEvent(hdr Header, heap heapapi.Handle, flags uint32, mem heapapi.Address, succeeded bool) *HeapFreeEvent {
	return &HeapFreeEvent{base: base{hdr}, TraceHeap: heap, Flags: flags, TraceMem: mem, TraceSucceeded: succeeded}
}

func decodeHeapFree(hdr Header, r *argReader) (Event, error) {
	if err := r.expectCount(heapapi.HeapFree, 4); err != nil {
		return nil, err
	}
	e := &HeapFreeEvent{base: base{hdr}}
	var err error
	if e.TraceHeap, err = r.handle(); err != nil {
		return nil, err
	}
	if e.Flags, err = r.u32(); err != nil {
		return nil, err
	}
	if e.TraceMem, err = r.address(); err != nil {
		return nil, err
	}
	if e.TraceSucceeded, err = r.boolean(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *HeapFreeEvent) Type() heapapi.EventType { return heapapi.HeapFree }

func (e *HeapFreeEvent) Play(b *backdrop.HeapBackdrop) error {
	return b.HeapFree(e.TraceHeap, e.Flags, e.TraceMem, e.TraceSucceeded)
}

func (e *HeapFreeEvent) String() string {
	return fmt.Sprintf("HeapFree(%s, %#x, %s) = %t", e.TraceHeap, e.Flags, e.TraceMem, e.TraceSucceeded)
}

// HeapReAllocEvent records HeapReAlloc(TraceHeap, Flags, TraceMem, Bytes) = TraceAlloc.
type HeapReAllocEvent struct {
	base
	TraceHeap  heapapi.Handle
	Flags      uint32
	TraceMem   heapapi.Address
	Bytes      uint64
	TraceAlloc heapapi.Address
}

// NewHeapReAllocEvent returns a HeapReAlloc event.
func NewHeapReAllocEvent(hdr Header, heap heapapi.Handle, flags uint32, mem heapapi.Address, bytes uint64, alloc heapapi.Address) *HeapReAllocEvent {
	return &HeapReAllocEvent{base: base{hdr}, TraceHeap: heap, Flags: flags, TraceMem: mem, Bytes: bytes, TraceAlloc: alloc}
}

func decodeHeapReAlloc(hdr Header, r *argReader) (Event, error) {
	if err := r.expectCount(heapapi.HeapReAlloc, 5); err != nil {
		return nil, err
	}
	e := &HeapReAllocEvent{base: base{hdr}}
	var err error
	if e.TraceHeap, err = r.handle(); err != nil {
		return nil, err
	}
	if e.Flags, err = r.u32(); err != nil {
		return nil, err
	}
	if e.TraceMem, err = r.address(); err != nil {
		return nil, err
	}
	if e.Bytes, err = r.u64(); err != nil {
		return nil, err
	}
	if e.TraceAlloc, err = r.address(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *HeapReAllocEvent) Type() heapapi.EventType { return heapapi.HeapReAlloc }

func (e *HeapReAllocEvent) Play(b *backdrop.HeapBackdrop) error {
	return b.HeapReAlloc(e.TraceHeap, e.Flags, e.TraceMem, e.Bytes, e.TraceAlloc)
}

func (e *HeapReAllocEvent) String() string {
	return fmt.Sprintf("HeapReAlloc(%s, %#x, %s, %d) = %s", e.TraceHeap, e.Flags, e.TraceMem, e.Bytes, e.TraceAlloc)
}

// HeapSetInformationEvent records
// HeapSetInformation(TraceHeap, InfoClass, Info, InfoLength) = TraceSucceeded.
// Info is the address of the caller's buffer in the traced process and is
// replayed verbatim.
type HeapSetInformationEvent struct {
	base
	TraceHeap      heapapi.Handle
	InfoClass      uint32
	Info           uint64
	InfoLength     uint64
	TraceSucceeded bool
}

// NewHeapSetInformationEvent returns a HeapSetInformation event.
func NewHeapSetInformationEvent(hdr Header, heap heapapi.Handle, infoClass uint32, info, infoLength uint64, succeeded bool) *HeapSetInformationEvent {
	return &HeapSetInformationEvent{base: base{hdr}, TraceHeap: heap, InfoClass: infoClass, Info: info, InfoLength: infoLength, TraceSucceeded: succeeded}
}

func decodeHeapSetInformation(hdr Header, r *argReader) (Event, error) {
	if err := r.expectCount(heapapi.HeapSetInformation, 5); err != nil {
		return nil, err
	}
	e := &HeapSetInformationEvent{base: base{hdr}}
	var err error
	if e.TraceHeap, err = r.handle(); err != nil {
		return nil, err
	}
	if e.InfoClass, err = r.u32(); err != nil {
		return nil, err
	}
	if e.Info, err = r.u64(); err != nil {
		return nil, err
	}
	if e.InfoLength, err = r.u64(); err != nil {
		return nil, err
	}
	if e.TraceSucceeded, err = r.boolean(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *HeapSetInformationEvent) Type() heapapi.EventType { return heapapi.HeapSetInformation }

func (e *HeapSetInformationEvent) Play(b *backdrop.HeapBackdrop) error {
	return b.HeapSetInformation(e.TraceHeap, e.InfoClass, e.Info, e.InfoLength, e.TraceSucceeded)
}

func (e *HeapSetInformationEvent) String() string {
	return fmt.Sprintf("HeapSetInformation(%s, %d, %#x, %d) = %t", e.TraceHeap, e.InfoClass, e.Info, e.InfoLength, e.TraceSucceeded)
}

// HeapSizeEvent records HeapSize(TraceHeap, Flags, TraceMem) = TraceSize.
type HeapSizeEvent struct {
	base
	TraceHeap heapapi.Handle
	Flags     uint32
	TraceMem  heapapi.Address
	TraceSize uint64
}

// NewHeapSizeEvent returns a HeapSize event.
func NewHeapSizeEvent(hdr Header, heap heapapi.Handle, flags uint32, mem heapapi.Address, size uint64) *HeapSizeEvent {
	return &HeapSizeEvent{base: base{hdr}, TraceHeap: heap, Flags: flags, TraceMem: mem, TraceSize: size}
}

func decodeHeapSize(hdr Header, r *argReader) (Event, error) {
	if err := r.expectCount(heapapi.HeapSize, 4); err != nil {
		return nil, err
	}
	e := &HeapSizeEvent{base: base{hdr}}
	var err error
	if e.TraceHeap, err = r.handle(); err != nil {
		return nil, err
	}
	if e.Flags, err = r.u32(); err != nil {
		return nil, err
	}
	if e.TraceMem, err = r.address(); err != nil {
		return nil, err
	}
	if e.TraceSize, err = r.u64(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *HeapSizeEvent) Type() heapapi.EventType { return heapapi.HeapSize }

func (e *HeapSizeEvent) Play(b *backdrop.HeapBackdrop) error {
	return b.HeapSize(e.TraceHeap, e.Flags, e.TraceMem, e.TraceSize)
}

func (e *HeapSizeEvent) String() string {
	return fmt.Sprintf("HeapSize(%s, %#x, %s) = %d", e.TraceHeap, e.Flags, e.TraceMem, e.TraceSize)
}
