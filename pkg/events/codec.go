package events

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"

	"github.com/willibrandon/ChronoHeap/pkg/heapapi"
)

// Sizes of the argument kinds found in heap API signatures.
const (
	sizeU32     = 4 // DWORD, BOOL, HEAP_INFORMATION_CLASS
	sizeU64     = 8 // SIZE_T, opaque pointers
	sizeHandle  = 8 // HANDLE
	sizeAddress = 8 // LPVOID
	sizeCount   = 4 // argument count and each size field
)

// argReader walks an argument blob: a uint32 count N, N uint32 sizes, then
// the N arguments back to back.
type argReader struct {
	sizes []uint32
	data  []byte
	idx   int
}

func newArgReader(blob []byte) (*argReader, error) {
	if len(blob) < sizeCount {
		return nil, errors.Wrapf(heapapi.ErrMalformedRecord, "argument blob of %d bytes has no count", len(blob))
	}
	n := binary.LittleEndian.Uint32(blob)
	rest := blob[sizeCount:]
	if uint64(n)*sizeCount > uint64(len(rest)) {
		return nil, errors.Wrapf(heapapi.ErrMalformedRecord, "argument count %d exceeds blob", n)
	}
	sizes := make([]uint32, n)
	var total uint64
	for i := range sizes {
		sizes[i] = binary.LittleEndian.Uint32(rest[i*sizeCount:])
		total += uint64(sizes[i])
	}
	data := rest[int(n)*sizeCount:]
	if total != uint64(len(data)) {
		return nil, errors.Wrapf(heapapi.ErrMalformedRecord, "declared sizes total %d bytes, blob carries %d", total, len(data))
	}
	return &argReader{sizes: sizes, data: data}, nil
}

func (r *argReader) expectCount(et heapapi.EventType, n int) error {
	if len(r.sizes) != n {
		return errors.Wrapf(heapapi.ErrMalformedRecord, "%s expects %d arguments, got %d", et, n, len(r.sizes))
	}
	return nil
}

func (r *argReader) next(size uint32) ([]byte, error) {
	if r.idx >= len(r.sizes) {
		return nil, errors.Wrapf(heapapi.ErrMalformedRecord, "argument %d missing", r.idx)
	}
	if r.sizes[r.idx] != size {
		return nil, errors.Wrapf(heapapi.ErrMalformedRecord, "argument %d is %d bytes, want %d", r.idx, r.sizes[r.idx], size)
	}
	b := r.data[:size]
	r.data = r.data[size:]
	r.idx++
	return b, nil
}

func (r *argReader) u32() (uint32, error) {
	b, err := r.next(sizeU32)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *argReader) u64() (uint64, error) {
	b, err := r.next(sizeU64)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *argReader) handle() (heapapi.Handle, error) {
	b, err := r.next(sizeHandle)
	if err != nil {
		return 0, err
	}
	return heapapi.Handle(binary.LittleEndian.Uint64(b)), nil
}

func (r *argReader) address() (heapapi.Address, error) {
	b, err := r.next(sizeAddress)
	if err != nil {
		return 0, err
	}
	return heapapi.Address(binary.LittleEndian.Uint64(b)), nil
}

func (r *argReader) boolean() (bool, error) {
	v, err := r.u32()
	return v != 0, err
}

// argWriter builds an argument blob. Sizes and data are kept apart and
// joined by bytes.
type argWriter struct {
	sizes []uint32
	data  []byte
}

func (w *argWriter) u32(v uint32) *argWriter {
	w.sizes = append(w.sizes, sizeU32)
	w.data = binary.LittleEndian.AppendUint32(w.data, v)
	return w
}

func (w *argWriter) u64(v uint64) *argWriter {
	w.sizes = append(w.sizes, sizeU64)
	w.data = binary.LittleEndian.AppendUint64(w.data, v)
	return w
}

func (w *argWriter) handle(h heapapi.Handle) *argWriter {
	return w.u64(uint64(h))
}

func (w *argWriter) address(a heapapi.Address) *argWriter {
	return w.u64(uint64(a))
}

func (w *argWriter) boolean(v bool) *argWriter {
	if v {
		return w.u32(1)
	}
	return w.u32(0)
}

func (w *argWriter) bytes() []byte {
	out := make([]byte, 0, sizeCount*(1+len(w.sizes))+len(w.data))
	out = binary.LittleEndian.AppendUint32(out, uint32(len(w.sizes)))
	for _, s := range w.sizes {
		out = binary.LittleEndian.AppendUint32(out, s)
	}
	return append(out, w.data...)
}
