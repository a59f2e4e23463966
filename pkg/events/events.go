// Package events defines one immutable event type per recorded heap
// operation. Each event decodes itself from the raw argument blob of a call
// record and replays itself against a backdrop.
package events

import (
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/willibrandon/ChronoHeap/pkg/backdrop"
	"github.com/willibrandon/ChronoHeap/pkg/heapapi"
)

// Header carries the call-record metadata shared by all events.
type Header struct {
	Timestamp    uint64
	StackTraceID uint32
}

// Event is a decoded heap call.
type Event interface {
	// Type returns the operation this event records.
	Type() heapapi.EventType
	// Header returns the call metadata.
	Header() Header
	// Play replays the event against b. A nil error means the replayed call
	// behaved like the recorded one.
	Play(b *backdrop.HeapBackdrop) error
	fmt.Stringer
}

// Decode builds the event of type et from an argument blob.
func Decode(et heapapi.EventType, hdr Header, blob []byte) (Event, error) {
	r, err := newArgReader(blob)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding %s", et)
	}
	var e Event
	switch et {
	case heapapi.HeapAlloc:
		e, err = decodeHeapAlloc(hdr, r)
	case heapapi.HeapCreate:
		e, err = decodeHeapCreate(hdr, r)
	case heapapi.HeapDestroy:
		e, err = decodeHeapDestroy(hdr, r)
	case heapapi.HeapFree:
		e, err = decodeHeapFree(hdr, r)
	case heapapi.HeapReAlloc:
		e, err = decodeHeapReAlloc(hdr, r)
	case heapapi.HeapSetInformation:
		e, err = decodeHeapSetInformation(hdr, r)
	case heapapi.HeapSize:
		e, err = decodeHeapSize(hdr, r)
	default:
		return nil, errors.Newf("no decoder for %s", et)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "decoding %s", et)
	}
	return e, nil
}

// Encode returns the argument blob that Decode turns back into e.
func Encode(e Event) []byte {
	w := &argWriter{}
	switch ev := e.(type) {
	case *HeapAllocEvent:
		w.handle(ev.TraceHeap).u32(ev.Flags).u64(ev.Bytes).address(ev.TraceAlloc)
	case *HeapCreateEvent:
		w.u32(ev.Options).u64(ev.InitialSize).u64(ev.MaximumSize).handle(ev.TraceHeap)
	case *HeapDestroyEvent:
		w.handle(ev.TraceHeap).boolean(ev.TraceSucceeded)
	case *HeapFreeEvent:
		w.handle(ev.TraceHeap).u32(ev.Flags).address(ev.TraceMem).boolean(ev.TraceSucceeded)
	case *HeapReAllocEvent:
		w.handle(ev.TraceHeap).u32(ev.Flags).address(ev.TraceMem).u64(ev.Bytes).address(ev.TraceAlloc)
	case *HeapSetInformationEvent:
		w.handle(ev.TraceHeap).u32(ev.InfoClass).u64(ev.Info).u64(ev.InfoLength).boolean(ev.TraceSucceeded)
	case *HeapSizeEvent:
		w.handle(ev.TraceHeap).u32(ev.Flags).address(ev.TraceMem).u64(ev.TraceSize)
	default:
		panic(fmt.Sprintf("events: cannot encode %T", e))
	}
	return w.bytes()
}

type base struct {
	hdr Header
}

func (b base) Header() Header { return b.hdr }
