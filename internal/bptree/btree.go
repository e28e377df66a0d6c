package bptree

import (
	"errors"
	"fmt"

	"github.com/spaghetti-lover/tetodb/internal/storage"
)

var (
	// ErrNodeOverflow means a non-full insert path hit a full node. The
	// split logic prevents this; seeing it indicates a bug.
	ErrNodeOverflow = errors.New("node overflow on non-full insert path")
	// ErrInvariantViolation means a malformed header or a wrong node type
	// was found during traversal.
	ErrInvariantViolation = errors.New("index invariant violation")
)

// RowStore answers whether a row has been logically deleted and records new
// deletions. The index does not know how rows are stored.
type RowStore interface {
	IsRowDeleted(rowID uint32) bool
	MarkRowDeleted(rowID uint32)
}

// rootPage is fixed: page 0 is always the root of the index.
const rootPage uint32 = 0

// BTree is an ordered secondary index over (key, rowId) pairs persisted in
// fixed-size pages. All page access goes through the pager; cells inside
// every node are sorted by the lexicographic (key, rowId) order, which
// makes duplicate keys addressable and every insert deterministic.
//
// Operations are single-threaded; buffer views returned by the pager are
// only held across calls that cannot evict, with page snapshots taken where
// a split needs two pages at once.
type BTree[T any] struct {
	pager *storage.Pager
	rows  RowStore
	codec KeyCodec[T]

	leafMax     int
	internalMax int

	keyBuf []byte
}

// New create an index handle over the pager. Capacities derive from the
// page size and the codec's key size.
func New[T any](pager *storage.Pager, rows RowStore, codec KeyCodec[T]) *BTree[T] {
	return &BTree[T]{
		pager:       pager,
		rows:        rows,
		codec:       codec,
		leafMax:     storage.LeafCapacity(codec.Size),
		internalMax: storage.InternalCapacity(codec.Size),
		keyBuf:      make([]byte, codec.Size),
	}
}

// CreateIndex initialize page 0 as an empty root leaf. Call once on a fresh
// database file.
func (t *BTree[T]) CreateIndex() error {
	buf, err := t.pager.GetPage(rootPage, true)
	if err != nil {
		return fmt.Errorf("failed to initialize root page: %w", err)
	}
	clear(buf)
	n := storage.NewNode(buf)
	n.SetType(storage.NodeLeaf)
	n.SetRoot(true)
	return nil
}

// splitResult carries a promoted separator up the tree after a split
type splitResult[T any] struct {
	key       T
	rowID     uint32
	rightPage uint32
}

// compareComposite order (a, ar) against (b, br) lexicographically
func (t *BTree[T]) compareComposite(a T, ar uint32, b T, br uint32) int {
	if c := t.codec.Compare(a, b); c != 0 {
		return c
	}
	switch {
	case ar < br:
		return -1
	case ar > br:
		return 1
	default:
		return 0
	}
}

// leaf fetch a page and check it is a leaf
func (t *BTree[T]) leaf(pageNum uint32, markDirty bool) (storage.LeafNode, error) {
	buf, err := t.pager.GetPage(pageNum, markDirty)
	if err != nil {
		return storage.LeafNode{}, fmt.Errorf("failed to fetch leaf %d: %w", pageNum, err)
	}
	if nt := storage.NewNode(buf).Type(); nt != storage.NodeLeaf {
		return storage.LeafNode{}, fmt.Errorf("page %d: expected leaf, found %s: %w", pageNum, nt, ErrInvariantViolation)
	}
	return storage.NewLeafNode(buf, t.codec.Size), nil
}

// internal fetch a page and check it is an internal node
func (t *BTree[T]) internal(pageNum uint32, markDirty bool) (storage.InternalNode, error) {
	buf, err := t.pager.GetPage(pageNum, markDirty)
	if err != nil {
		return storage.InternalNode{}, fmt.Errorf("failed to fetch internal node %d: %w", pageNum, err)
	}
	if nt := storage.NewNode(buf).Type(); nt != storage.NodeInternal {
		return storage.InternalNode{}, fmt.Errorf("page %d: expected internal node, found %s: %w", pageNum, nt, ErrInvariantViolation)
	}
	return storage.NewInternalNode(buf, t.codec.Size), nil
}

// FindLeaf descend from start to the leaf that owns (key, rowId). Inside an
// internal node the first cell strictly greater than the target picks the
// child; past the last cell the descent takes rightChild. Equal-key lookups
// land on the leaf holding the smallest rowId at or above the target, so
// duplicate inserts stay contiguous and range starts are exact.
func (t *BTree[T]) FindLeaf(start uint32, key T, rowID uint32) (uint32, error) {
	pageNum := start
	for {
		buf, err := t.pager.GetPage(pageNum, false)
		if err != nil {
			return 0, fmt.Errorf("failed to fetch page %d: %w", pageNum, err)
		}

		switch storage.NewNode(buf).Type() {
		case storage.NodeLeaf:
			return pageNum, nil
		case storage.NodeInternal:
			node := storage.NewInternalNode(buf, t.codec.Size)
			i := t.internalUpperBound(node, key, rowID)
			if i < int(node.NumCells()) {
				pageNum = node.ChildPage(i)
			} else {
				pageNum = node.RightChild()
			}
		default:
			return 0, fmt.Errorf("page %d: unknown node type: %w", pageNum, ErrInvariantViolation)
		}
	}
}

// internalUpperBound return the first cell index strictly greater than
// (key, rowId)
func (t *BTree[T]) internalUpperBound(node storage.InternalNode, key T, rowID uint32) int {
	lo, hi := 0, int(node.NumCells())
	for lo < hi {
		mid := (lo + hi) / 2
		if t.compareComposite(t.codec.Decode(node.Key(mid)), node.RowID(mid), key, rowID) > 0 {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo
}

// leafLowerBound return the first cell index at or above (key, rowId)
func (t *BTree[T]) leafLowerBound(node storage.LeafNode, key T, rowID uint32) int {
	lo, hi := 0, int(node.NumCells())
	for lo < hi {
		mid := (lo + hi) / 2
		if t.compareComposite(t.codec.Decode(node.Key(mid)), node.RowID(mid), key, rowID) >= 0 {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo
}

// Insert add (key, rowId) to the index. Identical (key, rowId) pairs are
// accepted; the caller guarantees rowId uniqueness if it wants set
// semantics. Splits propagate to the root, growing the tree's height when
// the root itself overflows.
func (t *BTree[T]) Insert(key T, rowID uint32) error {
	leafNum, err := t.FindLeaf(rootPage, key, rowID)
	if err != nil {
		return err
	}

	node, err := t.leaf(leafNum, true)
	if err != nil {
		return err
	}

	if int(node.NumCells()) < t.leafMax {
		return t.leafInsertNonFull(node, key, rowID)
	}

	res, err := t.splitLeaf(leafNum, node, key, rowID)
	if err != nil {
		return err
	}
	if leafNum == rootPage {
		return t.createNewRoot(res)
	}
	return t.insertIntoParent(leafNum, res)
}

// leafInsertNonFull place the cell at its sorted slot, shifting the tail
// right by one
func (t *BTree[T]) leafInsertNonFull(node storage.LeafNode, key T, rowID uint32) error {
	if int(node.NumCells()) >= t.leafMax {
		return fmt.Errorf("leaf with %d cells: %w", node.NumCells(), ErrNodeOverflow)
	}
	slot := t.leafLowerBound(node, key, rowID)
	t.codec.Encode(t.keyBuf, key)
	node.InsertCellAt(slot, t.keyBuf, rowID)
	return nil
}

// splitLeaf split a full leaf. The upper half moves to a fresh right
// sibling that is linked into the leaf chain; the separator promoted to the
// parent is the right sibling's first cell, and the incoming cell goes to
// whichever side it belongs to relative to that separator.
//
// The old page is snapshotted first: allocating the right sibling can evict
// it, so mutations re-fetch by page number instead of holding two live
// buffers.
func (t *BTree[T]) splitLeaf(leftNum uint32, node storage.LeafNode, key T, rowID uint32) (splitResult[T], error) {
	snapshot := make([]byte, storage.PageSize)
	copy(snapshot, node.Bytes())
	old := storage.NewLeafNode(snapshot, t.codec.Size)

	rightNum := t.pager.NumPages()
	rightBuf, err := t.pager.GetPage(rightNum, true)
	if err != nil {
		return splitResult[T]{}, fmt.Errorf("failed to allocate right leaf: %w", err)
	}

	splitIdx := (t.leafMax + 1) / 2

	right := storage.NewLeafNode(rightBuf, t.codec.Size)
	right.SetType(storage.NodeLeaf)
	right.SetParent(old.Parent())
	right.SetNextLeaf(old.NextLeaf())
	right.MoveCells(0, old, splitIdx, t.leafMax)
	right.SetNumCells(uint16(t.leafMax - splitIdx))

	left, err := t.leaf(leftNum, true)
	if err != nil {
		return splitResult[T]{}, err
	}
	left.SetNumCells(uint16(splitIdx))
	left.SetNextLeaf(rightNum)

	res := splitResult[T]{
		key:       t.codec.Decode(old.Key(splitIdx)),
		rowID:     old.RowID(splitIdx),
		rightPage: rightNum,
	}

	target := leftNum
	if t.compareComposite(key, rowID, res.key, res.rowID) >= 0 {
		target = rightNum
	}
	dest, err := t.leaf(target, true)
	if err != nil {
		return splitResult[T]{}, err
	}
	if err := t.leafInsertNonFull(dest, key, rowID); err != nil {
		return splitResult[T]{}, err
	}

	return res, nil
}

// insertIntoParent push a promoted separator into the parent of leftNum,
// splitting internal nodes recursively until one absorbs it or the root
// splits.
func (t *BTree[T]) insertIntoParent(leftNum uint32, res splitResult[T]) error {
	buf, err := t.pager.GetPage(leftNum, false)
	if err != nil {
		return fmt.Errorf("failed to fetch page %d: %w", leftNum, err)
	}
	// A parent pointer of 0 on a non-root node means the parent is the
	// root page itself.
	parentNum := storage.NewNode(buf).Parent()

	parent, err := t.internal(parentNum, true)
	if err != nil {
		return err
	}

	if int(parent.NumCells()) < t.internalMax {
		return t.internalInsertNonFull(parent, res.key, res.rowID, res.rightPage)
	}

	up, err := t.splitInternal(parentNum, parent, res)
	if err != nil {
		return err
	}
	if parentNum == rootPage {
		return t.createNewRoot(up)
	}
	return t.insertIntoParent(parentNum, up)
}

// internalInsertNonFull insert a promoted separator whose right side is
// rightPage. Appending at the tail hands the old rightChild to the new cell
// and installs rightPage as the new rightChild; inserting in the middle
// keeps the shifted-over left child under the new cell and rewires the
// successor cell's child to rightPage.
func (t *BTree[T]) internalInsertNonFull(node storage.InternalNode, key T, rowID uint32, rightPage uint32) error {
	n := int(node.NumCells())
	if n >= t.internalMax {
		return fmt.Errorf("internal node with %d cells: %w", n, ErrNodeOverflow)
	}

	i := t.internalUpperBound(node, key, rowID)
	t.codec.Encode(t.keyBuf, key)

	if i == n {
		oldRight := node.RightChild()
		node.InsertCellAt(i, t.keyBuf, rowID, oldRight)
		node.SetRightChild(rightPage)
		return nil
	}

	node.InsertCellAt(i, t.keyBuf, rowID, node.ChildPage(i))
	node.SetChildPage(i+1, rightPage)
	return nil
}

// splitInternal split a full internal node. The middle cell is promoted:
// its key and rowId become the separator pushed up, its child becomes the
// left node's new rightChild. Cells above the middle move to a fresh right
// node, whose children get their parent pointers repaired.
func (t *BTree[T]) splitInternal(leftNum uint32, node storage.InternalNode, pending splitResult[T]) (splitResult[T], error) {
	snapshot := make([]byte, storage.PageSize)
	copy(snapshot, node.Bytes())
	old := storage.NewInternalNode(snapshot, t.codec.Size)

	rightNum := t.pager.NumPages()
	rightBuf, err := t.pager.GetPage(rightNum, true)
	if err != nil {
		return splitResult[T]{}, fmt.Errorf("failed to allocate right internal node: %w", err)
	}

	splitIdx := t.internalMax / 2
	promoted := splitResult[T]{
		key:       t.codec.Decode(old.Key(splitIdx)),
		rowID:     old.RowID(splitIdx),
		rightPage: rightNum,
	}

	right := storage.NewInternalNode(rightBuf, t.codec.Size)
	right.SetType(storage.NodeInternal)
	right.SetParent(old.Parent())
	right.MoveCells(0, old, splitIdx+1, t.internalMax)
	right.SetNumCells(uint16(t.internalMax - splitIdx - 1))
	right.SetRightChild(old.RightChild())

	left, err := t.internal(leftNum, true)
	if err != nil {
		return splitResult[T]{}, err
	}
	left.SetNumCells(uint16(splitIdx))
	left.SetRightChild(old.ChildPage(splitIdx))

	target := leftNum
	if t.compareComposite(pending.key, pending.rowID, promoted.key, promoted.rowID) >= 0 {
		target = rightNum
	}
	dest, err := t.internal(target, true)
	if err != nil {
		return splitResult[T]{}, err
	}
	if err := t.internalInsertNonFull(dest, pending.key, pending.rowID, pending.rightPage); err != nil {
		return splitResult[T]{}, err
	}

	if err := t.updateChildParents(rightNum); err != nil {
		return splitResult[T]{}, err
	}

	return promoted, nil
}

// updateChildParents point every child of the internal node at pageNum back
// to it. Child page numbers are collected first because fetching a child
// can evict the parent's buffer.
func (t *BTree[T]) updateChildParents(pageNum uint32) error {
	node, err := t.internal(pageNum, false)
	if err != nil {
		return err
	}

	children := make([]uint32, 0, int(node.NumCells())+1)
	for i := 0; i < int(node.NumCells()); i++ {
		children = append(children, node.ChildPage(i))
	}
	children = append(children, node.RightChild())

	for _, child := range children {
		buf, err := t.pager.GetPage(child, true)
		if err != nil {
			return fmt.Errorf("failed to fetch child %d: %w", child, err)
		}
		storage.NewNode(buf).SetParent(pageNum)
	}
	return nil
}

// createNewRoot grow the tree by one level after a root split. The old
// root's full page image moves to a fresh page, which becomes the left
// child; page 0 is reinitialized in place as an internal root with a single
// separator. Internal children then need their grandchildren's parent
// pointers repaired, since those still name the old page numbers.
func (t *BTree[T]) createNewRoot(res splitResult[T]) error {
	rootBuf, err := t.pager.GetPage(rootPage, false)
	if err != nil {
		return fmt.Errorf("failed to fetch root: %w", err)
	}
	snapshot := make([]byte, storage.PageSize)
	copy(snapshot, rootBuf)
	oldType := storage.NewNode(snapshot).Type()

	leftNum := t.pager.NumPages()
	leftBuf, err := t.pager.GetPage(leftNum, true)
	if err != nil {
		return fmt.Errorf("failed to allocate left child: %w", err)
	}
	copy(leftBuf, snapshot)
	leftNode := storage.NewNode(leftBuf)
	leftNode.SetRoot(false)
	leftNode.SetParent(0)

	rightBuf, err := t.pager.GetPage(res.rightPage, true)
	if err != nil {
		return fmt.Errorf("failed to fetch right child: %w", err)
	}
	rightType := storage.NewNode(rightBuf).Type()
	storage.NewNode(rightBuf).SetParent(0)

	rootBuf, err = t.pager.GetPage(rootPage, true)
	if err != nil {
		return fmt.Errorf("failed to fetch root: %w", err)
	}
	clear(rootBuf)
	root := storage.NewInternalNode(rootBuf, t.codec.Size)
	root.SetType(storage.NodeInternal)
	root.SetRoot(true)
	root.SetNumCells(1)
	root.SetRightChild(res.rightPage)
	t.codec.Encode(t.keyBuf, res.key)
	root.WriteCell(0, t.keyBuf, res.rowID, leftNum)

	if oldType == storage.NodeInternal {
		if err := t.updateChildParents(leftNum); err != nil {
			return err
		}
	}
	if rightType == storage.NodeInternal {
		if err := t.updateChildParents(res.rightPage); err != nil {
			return err
		}
	}
	return nil
}

// SelectRange collect the rowIds of all entries with L <= key <= R in
// ascending (key, rowId) order. The pass doubles as leaf-level compaction:
// cells whose rows are tombstoned get dropped in place, which is the only
// point where logical deletes physically shrink the index.
func (t *BTree[T]) SelectRange(L, R T) ([]uint32, error) {
	out := make([]uint32, 0)

	pageNum, err := t.FindLeaf(rootPage, L, 0)
	if err != nil {
		return nil, err
	}

	// The starting leaf is always processed at least once, even when the
	// range turns out to be empty.
	for {
		node, err := t.leaf(pageNum, false)
		if err != nil {
			return nil, err
		}

		n := int(node.NumCells())
		kept := 0
		for q := 0; q < n; q++ {
			rowID := node.RowID(q)
			if t.rows.IsRowDeleted(rowID) {
				continue
			}
			key := t.codec.Decode(node.Key(q))
			if t.codec.Compare(key, L) >= 0 && t.codec.Compare(key, R) <= 0 {
				out = append(out, rowID)
			}
			if kept != q {
				node.MoveCell(kept, node, q)
			}
			kept++
		}
		if kept != n {
			node.SetNumCells(uint16(kept))
			if err := t.pager.MarkDirty(pageNum); err != nil {
				return nil, err
			}
		}

		if kept > 0 && t.codec.Compare(t.codec.Decode(node.Key(kept-1)), R) > 0 {
			break
		}
		next := node.NextLeaf()
		if next == 0 {
			break
		}
		pageNum = next
	}

	return out, nil
}

// DeleteRange tombstone every entry with L <= key <= R through the row
// store and drop its cell from the leaf. Cells outside the range stay in
// place. Returns how many cells were removed; repeating the call finds
// nothing left and returns 0.
func (t *BTree[T]) DeleteRange(L, R T) (uint32, error) {
	var count uint32

	pageNum, err := t.FindLeaf(rootPage, L, 0)
	if err != nil {
		return 0, err
	}

	for {
		node, err := t.leaf(pageNum, false)
		if err != nil {
			return count, err
		}

		n := int(node.NumCells())
		kept := 0
		for q := 0; q < n; q++ {
			key := t.codec.Decode(node.Key(q))
			if t.codec.Compare(key, L) >= 0 && t.codec.Compare(key, R) <= 0 {
				t.rows.MarkRowDeleted(node.RowID(q))
				count++
				continue
			}
			if kept != q {
				node.MoveCell(kept, node, q)
			}
			kept++
		}
		if kept != n {
			node.SetNumCells(uint16(kept))
			if err := t.pager.MarkDirty(pageNum); err != nil {
				return count, err
			}
		}

		if kept > 0 && t.codec.Compare(t.codec.Decode(node.Key(kept-1)), R) > 0 {
			break
		}
		next := node.NextLeaf()
		if next == 0 {
			break
		}
		pageNum = next
	}

	return count, nil
}

// Height return the number of levels from the root down to the leaves
func (t *BTree[T]) Height() (int, error) {
	height := 1
	pageNum := rootPage
	for {
		buf, err := t.pager.GetPage(pageNum, false)
		if err != nil {
			return 0, fmt.Errorf("failed to fetch page %d: %w", pageNum, err)
		}
		node := storage.NewNode(buf)
		switch node.Type() {
		case storage.NodeLeaf:
			return height, nil
		case storage.NodeInternal:
			in := storage.NewInternalNode(buf, t.codec.Size)
			if in.NumCells() > 0 {
				pageNum = in.ChildPage(0)
			} else {
				pageNum = in.RightChild()
			}
			height++
		default:
			return 0, fmt.Errorf("page %d: unknown node type: %w", pageNum, ErrInvariantViolation)
		}
	}
}
