package fifo

import "encoding/binary"

func putI32(b []byte, off int, v int) {
	binary.LittleEndian.PutUint32(b[off:off+4], uint32(int32(v)))
}

func getI32(b []byte, off int) int {
	return int(int32(binary.LittleEndian.Uint32(b[off : off+4])))
}

// putKey/getKey store a semaphore key in a field padded to
// keyFieldSize bytes — the padding itself, not just the leading 4
// bytes, is part of the on-wire layout so the header's total size
// never shifts if a future peer widens the key type.
func putKey(b []byte, off int, key int) {
	for i := 0; i < keyFieldSize; i++ {
		b[off+i] = 0
	}
	putI32(b, off, key)
}

func getKey(b []byte, off int) int {
	return getI32(b, off)
}
