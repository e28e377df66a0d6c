package storage

import (
	"encoding/binary"
	"fmt"
)

// LeafNode is a typed view over a leaf page.
// Cell layout: [key: keySize bytes][rowId: 4 bytes], packed from CellsOffset.
// Cells are kept sorted by the composite (key, rowId) order; ordering itself
// is the tree's concern, this view only does offset arithmetic.
type LeafNode struct {
	Node
	keySize int
}

// NewLeafNode wraps a page buffer in a leaf view
func NewLeafNode(data []byte, keySize int) LeafNode {
	return LeafNode{Node: NewNode(data), keySize: keySize}
}

// CellSize return size of one leaf cell in bytes
func (l LeafNode) CellSize() int {
	return l.keySize + 4
}

func (l LeafNode) cellOffset(index int) int {
	return CellsOffset + index*l.CellSize()
}

// NextLeaf return page number of the next leaf in the chain (0 = end)
func (l LeafNode) NextLeaf() uint32 {
	return binary.LittleEndian.Uint32(l.data[offPointer : offPointer+4])
}

// SetNextLeaf set the next-leaf pointer
func (l LeafNode) SetNextLeaf(pageNum uint32) {
	binary.LittleEndian.PutUint32(l.data[offPointer:offPointer+4], pageNum)
}

// Key return the key bytes of cell at index. The slice borrows page memory.
func (l LeafNode) Key(index int) []byte {
	off := l.cellOffset(index)
	return l.data[off : off+l.keySize]
}

// RowID return the rowId of cell at index
func (l LeafNode) RowID(index int) uint32 {
	off := l.cellOffset(index) + l.keySize
	return binary.LittleEndian.Uint32(l.data[off : off+4])
}

// WriteCell overwrite the cell at index with key bytes and rowId
func (l LeafNode) WriteCell(index int, key []byte, rowID uint32) {
	off := l.cellOffset(index)
	copy(l.data[off:off+l.keySize], key)
	binary.LittleEndian.PutUint32(l.data[off+l.keySize:off+l.keySize+4], rowID)
}

// InsertCellAt shift cells [index, numCells) right by one, write the new
// cell at index and bump numCells. The caller checks capacity.
func (l LeafNode) InsertCellAt(index int, key []byte, rowID uint32) {
	n := int(l.NumCells())
	copy(l.data[l.cellOffset(index+1):l.cellOffset(n+1)], l.data[l.cellOffset(index):l.cellOffset(n)])
	l.WriteCell(index, key, rowID)
	l.SetNumCells(uint16(n + 1))
}

// MoveCell copy cell srcIndex of src over cell dstIndex of l
func (l LeafNode) MoveCell(dstIndex int, src LeafNode, srcIndex int) {
	copy(l.data[l.cellOffset(dstIndex):l.cellOffset(dstIndex+1)],
		src.data[src.cellOffset(srcIndex):src.cellOffset(srcIndex+1)])
}

// MoveCells copy cells [from, to) of src into l starting at dstIndex
func (l LeafNode) MoveCells(dstIndex int, src LeafNode, from, to int) {
	copy(l.data[l.cellOffset(dstIndex):l.cellOffset(dstIndex+(to-from))],
		src.data[src.cellOffset(from):src.cellOffset(to)])
}

// String return string representation
func (l LeafNode) String() string {
	return fmt.Sprintf("LeafNode{NumCells: %d, NextLeaf: %d, Parent: %d}",
		l.NumCells(), l.NextLeaf(), l.Parent())
}
