package storage

import (
	"encoding/binary"
	"fmt"
)

// InternalNode is a typed view over an internal page.
// Cell layout: [key: keySize bytes][rowId: 4 bytes][childPage: 4 bytes].
// The child at cells[i].childPage holds entries strictly less than the
// composite (key, rowId) of cell i; rightChild holds everything at or above
// the last cell.
type InternalNode struct {
	Node
	keySize int
}

// NewInternalNode wraps a page buffer in an internal-node view
func NewInternalNode(data []byte, keySize int) InternalNode {
	return InternalNode{Node: NewNode(data), keySize: keySize}
}

// CellSize return size of one internal cell in bytes
func (in InternalNode) CellSize() int {
	return in.keySize + 8
}

func (in InternalNode) cellOffset(index int) int {
	return CellsOffset + index*in.CellSize()
}

// RightChild return page number of the greater-than-all-keys child
func (in InternalNode) RightChild() uint32 {
	return binary.LittleEndian.Uint32(in.data[offPointer : offPointer+4])
}

// SetRightChild set the rightmost child pointer
func (in InternalNode) SetRightChild(pageNum uint32) {
	binary.LittleEndian.PutUint32(in.data[offPointer:offPointer+4], pageNum)
}

// Key return the key bytes of cell at index. The slice borrows page memory.
func (in InternalNode) Key(index int) []byte {
	off := in.cellOffset(index)
	return in.data[off : off+in.keySize]
}

// RowID return the rowId of cell at index
func (in InternalNode) RowID(index int) uint32 {
	off := in.cellOffset(index) + in.keySize
	return binary.LittleEndian.Uint32(in.data[off : off+4])
}

// ChildPage return the child pointer of cell at index
func (in InternalNode) ChildPage(index int) uint32 {
	off := in.cellOffset(index) + in.keySize + 4
	return binary.LittleEndian.Uint32(in.data[off : off+4])
}

// SetChildPage overwrite the child pointer of cell at index
func (in InternalNode) SetChildPage(index int, pageNum uint32) {
	off := in.cellOffset(index) + in.keySize + 4
	binary.LittleEndian.PutUint32(in.data[off:off+4], pageNum)
}

// WriteCell overwrite the cell at index
func (in InternalNode) WriteCell(index int, key []byte, rowID uint32, childPage uint32) {
	off := in.cellOffset(index)
	copy(in.data[off:off+in.keySize], key)
	binary.LittleEndian.PutUint32(in.data[off+in.keySize:off+in.keySize+4], rowID)
	binary.LittleEndian.PutUint32(in.data[off+in.keySize+4:off+in.keySize+8], childPage)
}

// InsertCellAt shift cells [index, numCells) right by one, write the new
// cell at index and bump numCells. The caller checks capacity.
func (in InternalNode) InsertCellAt(index int, key []byte, rowID uint32, childPage uint32) {
	n := int(in.NumCells())
	copy(in.data[in.cellOffset(index+1):in.cellOffset(n+1)], in.data[in.cellOffset(index):in.cellOffset(n)])
	in.WriteCell(index, key, rowID, childPage)
	in.SetNumCells(uint16(n + 1))
}

// MoveCells copy cells [from, to) of src into in starting at dstIndex
func (in InternalNode) MoveCells(dstIndex int, src InternalNode, from, to int) {
	copy(in.data[in.cellOffset(dstIndex):in.cellOffset(dstIndex+(to-from))],
		src.data[src.cellOffset(from):src.cellOffset(to)])
}

// String return string representation
func (in InternalNode) String() string {
	return fmt.Sprintf("InternalNode{NumCells: %d, RightChild: %d, Parent: %d}",
		in.NumCells(), in.RightChild(), in.Parent())
}
