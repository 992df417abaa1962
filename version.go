package storage

import "encoding/binary"

func encodeUint32(v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return b[:]
}

func decodeUint32(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b)
}
