package bptree

import (
	"cmp"
	"encoding/binary"
)

// KeyCodec describe a fixed-size, totally ordered key type: how many bytes
// a key occupies inside a cell, how it round-trips through those bytes and
// how two keys compare. The on-disk layout is deterministic per codec.
type KeyCodec[T any] struct {
	Size    int
	Encode  func(buf []byte, key T)
	Decode  func(buf []byte) T
	Compare func(a, b T) int
}

// Uint32Key return the codec for uint32 keys
func Uint32Key() KeyCodec[uint32] {
	return KeyCodec[uint32]{
		Size:    4,
		Encode:  func(buf []byte, key uint32) { binary.LittleEndian.PutUint32(buf, key) },
		Decode:  func(buf []byte) uint32 { return binary.LittleEndian.Uint32(buf) },
		Compare: cmp.Compare[uint32],
	}
}

// Uint64Key return the codec for uint64 keys
func Uint64Key() KeyCodec[uint64] {
	return KeyCodec[uint64]{
		Size:    8,
		Encode:  func(buf []byte, key uint64) { binary.LittleEndian.PutUint64(buf, key) },
		Decode:  func(buf []byte) uint64 { return binary.LittleEndian.Uint64(buf) },
		Compare: cmp.Compare[uint64],
	}
}

// Int32Key return the codec for int32 keys
func Int32Key() KeyCodec[int32] {
	return KeyCodec[int32]{
		Size:    4,
		Encode:  func(buf []byte, key int32) { binary.LittleEndian.PutUint32(buf, uint32(key)) },
		Decode:  func(buf []byte) int32 { return int32(binary.LittleEndian.Uint32(buf)) },
		Compare: cmp.Compare[int32],
	}
}

// Int64Key return the codec for int64 keys
func Int64Key() KeyCodec[int64] {
	return KeyCodec[int64]{
		Size:    8,
		Encode:  func(buf []byte, key int64) { binary.LittleEndian.PutUint64(buf, uint64(key)) },
		Decode:  func(buf []byte) int64 { return int64(binary.LittleEndian.Uint64(buf)) },
		Compare: cmp.Compare[int64],
	}
}
