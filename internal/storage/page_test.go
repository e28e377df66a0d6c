package storage

import (
	"encoding/binary"
	"testing"
)

func TestNodeHeaderLayout(t *testing.T) {
	buf := make([]byte, PageSize)
	n := NewNode(buf)

	n.SetType(NodeLeaf)
	n.SetRoot(true)
	n.SetNumCells(513)
	n.SetParent(0xDEADBEEF)

	// The header must land at the documented byte offsets
	if buf[0] != 1 {
		t.Errorf("type byte = %d, expected 1 (leaf)", buf[0])
	}
	if buf[1] != 1 {
		t.Errorf("isRoot byte = %d, expected 1", buf[1])
	}
	if got := binary.LittleEndian.Uint16(buf[2:4]); got != 513 {
		t.Errorf("numCells = %d, expected 513", got)
	}
	if got := binary.LittleEndian.Uint32(buf[4:8]); got != 0xDEADBEEF {
		t.Errorf("parent = %#x, expected 0xDEADBEEF", got)
	}

	if n.Type() != NodeLeaf || !n.IsRoot() || n.NumCells() != 513 || n.Parent() != 0xDEADBEEF {
		t.Errorf("accessor round trip failed: %s", n)
	}

	n.SetRoot(false)
	if n.IsRoot() {
		t.Error("SetRoot(false) did not clear the root marker")
	}
}

func TestLeafNodeInsertShift(t *testing.T) {
	buf := make([]byte, PageSize)
	leaf := NewLeafNode(buf, 4)
	leaf.SetType(NodeLeaf)
	leaf.SetNextLeaf(42)

	key := make([]byte, 4)

	// Insert 10, 30 then 20 in the middle
	binary.LittleEndian.PutUint32(key, 10)
	leaf.InsertCellAt(0, key, 1)
	binary.LittleEndian.PutUint32(key, 30)
	leaf.InsertCellAt(1, key, 3)
	binary.LittleEndian.PutUint32(key, 20)
	leaf.InsertCellAt(1, key, 2)

	if leaf.NumCells() != 3 {
		t.Fatalf("numCells = %d, expected 3", leaf.NumCells())
	}

	wantKeys := []uint32{10, 20, 30}
	wantRows := []uint32{1, 2, 3}
	for i := range wantKeys {
		if got := binary.LittleEndian.Uint32(leaf.Key(i)); got != wantKeys[i] {
			t.Errorf("cell %d: key = %d, expected %d", i, got, wantKeys[i])
		}
		if got := leaf.RowID(i); got != wantRows[i] {
			t.Errorf("cell %d: rowId = %d, expected %d", i, got, wantRows[i])
		}
	}

	if leaf.NextLeaf() != 42 {
		t.Errorf("nextLeaf = %d, expected 42", leaf.NextLeaf())
	}

	// First cell starts right after the header
	if got := binary.LittleEndian.Uint32(buf[CellsOffset : CellsOffset+4]); got != 10 {
		t.Errorf("first cell key at offset %d = %d, expected 10", CellsOffset, got)
	}
}

func TestInternalNodeChildRewire(t *testing.T) {
	buf := make([]byte, PageSize)
	node := NewInternalNode(buf, 4)
	node.SetType(NodeInternal)
	node.SetRightChild(9)

	key := make([]byte, 4)
	binary.LittleEndian.PutUint32(key, 100)
	node.InsertCellAt(0, key, 5, 7)

	if node.NumCells() != 1 {
		t.Fatalf("numCells = %d, expected 1", node.NumCells())
	}
	if node.ChildPage(0) != 7 {
		t.Errorf("childPage = %d, expected 7", node.ChildPage(0))
	}
	if node.RowID(0) != 5 {
		t.Errorf("rowId = %d, expected 5", node.RowID(0))
	}
	if node.RightChild() != 9 {
		t.Errorf("rightChild = %d, expected 9", node.RightChild())
	}

	node.SetChildPage(0, 11)
	if node.ChildPage(0) != 11 {
		t.Errorf("childPage after rewire = %d, expected 11", node.ChildPage(0))
	}
}

func TestCapacities(t *testing.T) {
	// 4-byte keys: leaf cell 8 bytes, internal cell 12 bytes
	if got := LeafCapacity(4); got != (PageSize-CellsOffset)/8 {
		t.Errorf("LeafCapacity(4) = %d", got)
	}
	if got := InternalCapacity(4); got != (PageSize-CellsOffset)/12 {
		t.Errorf("InternalCapacity(4) = %d", got)
	}
}
