package database

import (
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/spaghetti-lover/tetodb/internal/bptree"
	"github.com/spaghetti-lover/tetodb/internal/storage"
	"github.com/spaghetti-lover/tetodb/internal/table"
)

// Database ties a pager, a uint32-keyed index and a tombstone store
// together behind one handle. Mutations live in the page cache until Commit
// writes them back; the page file plus the tombstone sidecar are the whole
// persisted state.
type Database struct {
	pager *storage.Pager
	tree  *bptree.BTree[uint32]
	rows  *table.TombstoneStore

	tombPath string
}

type config struct {
	cacheSize int
}

// Option configure Open
type Option func(*config)

// WithCacheSize bound the page cache at n pages
func WithCacheSize(n int) Option {
	return func(c *config) {
		c.cacheSize = n
	}
}

// Open opens or creates a database. A fresh file gets page 0 initialized as
// the index root; an existing one reopens with its page count derived from
// the file size and tombstones loaded from the sidecar.
func Open(path string, opts ...Option) (*Database, error) {
	cfg := config{cacheSize: storage.DefaultMaxPages}
	for _, opt := range opts {
		opt(&cfg)
	}

	pager, err := storage.NewPager(path+".db", cfg.cacheSize)
	if err != nil {
		return nil, err
	}
	fresh := pager.NumPages() == 0

	tombPath := path + ".tomb"
	rows := table.NewTombstoneStore()
	if data, err := os.ReadFile(tombPath); err == nil {
		rows, err = table.DeserializeTombstones(data)
		if err != nil {
			pager.Close()
			return nil, fmt.Errorf("failed to load tombstones: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		pager.Close()
		return nil, fmt.Errorf("failed to read tombstones: %w", err)
	}

	tree := bptree.New(pager, rows, bptree.Uint32Key())
	if fresh {
		if err := tree.CreateIndex(); err != nil {
			pager.Close()
			return nil, err
		}
	}

	return &Database{
		pager:    pager,
		tree:     tree,
		rows:     rows,
		tombPath: tombPath,
	}, nil
}

// Insert add (key, rowId) to the index
func (db *Database) Insert(key, rowID uint32) error {
	return db.tree.Insert(key, rowID)
}

// SelectRange return rowIds of all entries with L <= key <= R in ascending
// (key, rowId) order
func (db *Database) SelectRange(L, R uint32) ([]uint32, error) {
	return db.tree.SelectRange(L, R)
}

// DeleteRange tombstone all entries with L <= key <= R and return how many
// were removed
func (db *Database) DeleteRange(L, R uint32) (uint32, error) {
	return db.tree.DeleteRange(L, R)
}

// Keys return all live rowIds in index order
func (db *Database) Keys() ([]uint32, error) {
	return db.tree.SelectRange(0, math.MaxUint32)
}

// Commit flush all dirty pages and persist the tombstone sidecar
func (db *Database) Commit() error {
	if err := db.pager.FlushAll(); err != nil {
		return err
	}
	if err := os.WriteFile(db.tombPath, db.rows.Serialize(), 0644); err != nil {
		return fmt.Errorf("failed to write tombstones: %w", err)
	}
	return nil
}

// Close commit and release the underlying files
func (db *Database) Close() error {
	if err := db.Commit(); err != nil {
		return err
	}
	return db.pager.Close()
}

// Stats returns database statistics
type Stats struct {
	Pages       uint32
	TreeHeight  int
	DeletedRows int
	Pager       storage.PagerStats
}

// Stats return database statistics
func (db *Database) Stats() (Stats, error) {
	height, err := db.tree.Height()
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Pages:       db.pager.NumPages(),
		TreeHeight:  height,
		DeletedRows: db.rows.DeletedCount(),
		Pager:       db.pager.GetStats(),
	}, nil
}

// String returns a formatted string of stats
func (s Stats) String() string {
	return fmt.Sprintf("Database{Pages: %d, TreeHeight: %d, DeletedRows: %d, %s}",
		s.Pages, s.TreeHeight, s.DeletedRows, s.Pager.String())
}
