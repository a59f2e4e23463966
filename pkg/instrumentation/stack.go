package instrumentation

import (
	"encoding/binary"
	"hash/fnv"
	"runtime"
)

// maxStackDepth bounds the frames hashed into a stack id.
const maxStackDepth = 16

// stackID hashes the caller's program counters with FNV-1a and folds the
// result to 32 bits. skip counts frames above stackID's caller.
func stackID(skip int) uint32 {
	var pcs [maxStackDepth]uintptr
	n := runtime.Callers(skip+2, pcs[:])
	return hashStack(pcs[:n])
}

func hashStack(pcs []uintptr) uint32 {
	h := fnv.New64a()
	var buf [8]byte
	for _, pc := range pcs {
		binary.LittleEndian.PutUint64(buf[:], uint64(pc))
		_, _ = h.Write(buf[:])
	}
	sum := h.Sum64()
	return uint32(sum>>32) ^ uint32(sum)
}
