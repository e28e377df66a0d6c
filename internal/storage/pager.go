package storage

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
)

const (
	// DefaultMaxPages bound the cache at ~200MB of 4KB pages
	DefaultMaxPages = 50000
)

// Page buffer flag bits
const (
	flagValid  uint8 = 1
	flagDirty  uint8 = 2
	flagRecent uint8 = 4
)

var (
	ErrInvalidPageNumber = errors.New("invalid page number")
	ErrPageNotResident   = errors.New("page not resident in cache")
	ErrCapacityExhausted = errors.New("page number space exhausted")
	ErrInvalidDatabase   = errors.New("invalid database file")
)

// pageBuffer is one slot of the cache
type pageBuffer struct {
	data    []byte
	pageNum uint32
	flags   uint8
}

// Pager is a bounded in-memory cache of file pages with clock eviction.
// Callers get mutable views into cache buffers; a view stays valid only
// until the next call that can evict (any GetPage that is not a hit).
//
// Pages evicted dirty before they exist in the main file are spilled to a
// temp file and folded back into the main file at FlushAll. The temp file
// is an in-process convenience, not a crash-recovery log.
type Pager struct {
	file *os.File
	temp *os.File
	path string

	buffers     []pageBuffer
	pageTable   map[uint32]int // pageNum -> slot index
	pagesInTemp map[uint32]struct{}
	freeSlots   []int
	nextSlot    int
	clockHand   int

	numPages   uint32
	fileLength int64

	hits      uint64
	misses    uint64
	evictions uint64
	spills    uint64
}

// NewPager open or create the database file. numPages is derived from the
// current file length.
func NewPager(path string, maxPages int) (*Pager, error) {
	if maxPages < 1 {
		maxPages = DefaultMaxPages
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open database file: %w", err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat database file: %w", err)
	}

	size := stat.Size()
	if size%PageSize != 0 {
		file.Close()
		return nil, fmt.Errorf("%w: size %d is not a multiple of %d", ErrInvalidDatabase, size, PageSize)
	}
	if size/PageSize > math.MaxUint32 {
		file.Close()
		return nil, fmt.Errorf("%w: file holds %d pages", ErrCapacityExhausted, size/PageSize)
	}

	return &Pager{
		file:        file,
		path:        path,
		buffers:     make([]pageBuffer, maxPages),
		pageTable:   make(map[uint32]int),
		pagesInTemp: make(map[uint32]struct{}),
		numPages:    uint32(size / PageSize),
		fileLength:  size,
	}, nil
}

// NumPages return the logical page count; the next allocation gets this number
func (p *Pager) NumPages() uint32 {
	return p.numPages
}

// GetPage return a mutable view of the page's bytes, loading or allocating
// it into the cache first. Requesting pageNum == NumPages() allocates a
// fresh zeroed page and grows the file logically. The returned slice is
// valid only until the next call that can evict.
func (p *Pager) GetPage(pageNum uint32, markDirty bool) ([]byte, error) {
	if idx, ok := p.pageTable[pageNum]; ok {
		p.hits++
		p.buffers[idx].flags |= flagRecent
		if markDirty {
			p.buffers[idx].flags |= flagDirty
		}
		return p.buffers[idx].data, nil
	}

	if pageNum > p.numPages {
		return nil, fmt.Errorf("get page %d with %d pages allocated: %w", pageNum, p.numPages, ErrInvalidPageNumber)
	}
	if pageNum == p.numPages && p.numPages == math.MaxUint32 {
		return nil, fmt.Errorf("allocate page: %w", ErrCapacityExhausted)
	}

	p.misses++

	idx, err := p.acquireSlot()
	if err != nil {
		return nil, err
	}

	slot := &p.buffers[idx]
	if slot.data == nil {
		slot.data = make([]byte, PageSize)
	}

	if pageNum == p.numPages {
		// Fresh allocation
		clear(slot.data)
		p.numPages++
	} else if err := p.loadPage(pageNum, slot.data); err != nil {
		p.freeSlots = append(p.freeSlots, idx)
		return nil, err
	}

	slot.pageNum = pageNum
	slot.flags = flagValid | flagRecent
	if markDirty {
		slot.flags |= flagDirty
	}
	p.pageTable[pageNum] = idx

	return slot.data, nil
}

// loadPage read the page's bytes from the temp file if it was spilled there,
// from the main file if it lies within the flushed length, otherwise the
// page was allocated but never materialized and reads as zeros.
func (p *Pager) loadPage(pageNum uint32, dest []byte) error {
	offset := int64(pageNum) * PageSize

	if _, ok := p.pagesInTemp[pageNum]; ok {
		if _, err := p.temp.ReadAt(dest, offset); err != nil {
			return fmt.Errorf("failed to read spilled page %d: %w", pageNum, err)
		}
		return nil
	}

	if offset < p.fileLength {
		if _, err := p.file.ReadAt(dest, offset); err != nil {
			return fmt.Errorf("failed to read page %d: %w", pageNum, err)
		}
		return nil
	}

	clear(dest)
	return nil
}

// acquireSlot return a free slot index, evicting if the cache is full
func (p *Pager) acquireSlot() (int, error) {
	if n := len(p.freeSlots); n > 0 {
		idx := p.freeSlots[n-1]
		p.freeSlots = p.freeSlots[:n-1]
		return idx, nil
	}
	if p.nextSlot < len(p.buffers) {
		idx := p.nextSlot
		p.nextSlot++
		return idx, nil
	}
	return p.evictClock()
}

// evictClock run the clock sweep: a slot with RECENT set gets a second
// chance, the first slot found without it is evicted. Dirty victims are
// written to the main file when within the flushed length, spilled to the
// temp file otherwise.
func (p *Pager) evictClock() (int, error) {
	for steps := 0; steps < 2*len(p.buffers)+1; steps++ {
		slot := &p.buffers[p.clockHand]

		if slot.flags&flagValid == 0 {
			p.clockHand = (p.clockHand + 1) % len(p.buffers)
			continue
		}
		if slot.flags&flagRecent != 0 {
			slot.flags &^= flagRecent
			p.clockHand = (p.clockHand + 1) % len(p.buffers)
			continue
		}

		if slot.flags&flagDirty != 0 {
			if err := p.writeVictim(slot); err != nil {
				return 0, err
			}
		}

		idx := p.clockHand
		delete(p.pageTable, slot.pageNum)
		slot.flags = 0
		p.evictions++
		p.clockHand = (p.clockHand + 1) % len(p.buffers)
		return idx, nil
	}
	return 0, fmt.Errorf("clock sweep found no evictable slot among %d buffers", len(p.buffers))
}

// writeVictim persist a dirty victim before its slot is reused
func (p *Pager) writeVictim(slot *pageBuffer) error {
	offset := int64(slot.pageNum) * PageSize

	if offset < p.fileLength {
		if _, err := p.file.WriteAt(slot.data, offset); err != nil {
			return fmt.Errorf("failed to write evicted page %d: %w", slot.pageNum, err)
		}
		return nil
	}

	if err := p.ensureTemp(); err != nil {
		return err
	}
	if _, err := p.temp.WriteAt(slot.data, offset); err != nil {
		return fmt.Errorf("failed to spill page %d: %w", slot.pageNum, err)
	}
	p.pagesInTemp[slot.pageNum] = struct{}{}
	p.spills++
	return nil
}

// ensureTemp lazily create the spill file next to the database file
func (p *Pager) ensureTemp() error {
	if p.temp != nil {
		return nil
	}
	dir, base := filepath.Split(p.path)
	temp, err := os.CreateTemp(dir, base+".spill-*")
	if err != nil {
		return fmt.Errorf("failed to create spill file: %w", err)
	}
	p.temp = temp
	return nil
}

// MarkDirty flag a resident page as dirty. It is a usage error to mark a
// page that is not in the cache.
func (p *Pager) MarkDirty(pageNum uint32) error {
	idx, ok := p.pageTable[pageNum]
	if !ok {
		return fmt.Errorf("mark dirty page %d: %w", pageNum, ErrPageNotResident)
	}
	p.buffers[idx].flags |= flagDirty
	return nil
}

// FlushAll write every dirty page back to the main file, fold spilled pages
// in from the temp file in ascending page order and grow the file to cover
// all allocated pages. This is the commit point: mutations are durable only
// after FlushAll returns without error.
func (p *Pager) FlushAll() error {
	// Resident pages first. A clean resident page that was once spilled
	// still has its authoritative bytes in the temp file only, so it is
	// written too.
	for pageNum, idx := range p.pageTable {
		slot := &p.buffers[idx]
		_, spilled := p.pagesInTemp[pageNum]
		if slot.flags&flagDirty == 0 && !spilled {
			continue
		}
		if _, err := p.file.WriteAt(slot.data, int64(pageNum)*PageSize); err != nil {
			return fmt.Errorf("failed to flush page %d: %w", pageNum, err)
		}
		slot.flags &^= flagDirty
		if spilled {
			delete(p.pagesInTemp, pageNum)
		}
	}

	// Non-resident spilled pages, ascending so the main file grows
	// monotonically.
	if len(p.pagesInTemp) > 0 {
		spilled := make([]uint32, 0, len(p.pagesInTemp))
		for pageNum := range p.pagesInTemp {
			spilled = append(spilled, pageNum)
		}
		sort.Slice(spilled, func(i, j int) bool { return spilled[i] < spilled[j] })

		buf := make([]byte, PageSize)
		for _, pageNum := range spilled {
			offset := int64(pageNum) * PageSize
			if _, err := p.temp.ReadAt(buf, offset); err != nil {
				return fmt.Errorf("failed to read spilled page %d: %w", pageNum, err)
			}
			if _, err := p.file.WriteAt(buf, offset); err != nil {
				return fmt.Errorf("failed to flush spilled page %d: %w", pageNum, err)
			}
		}
	}

	// Materialize allocated-but-never-written pages as zeros.
	newLength := int64(p.numPages) * PageSize
	if err := p.file.Truncate(newLength); err != nil {
		return fmt.Errorf("failed to extend database file: %w", err)
	}
	p.fileLength = newLength

	p.pagesInTemp = make(map[uint32]struct{})
	if p.temp != nil {
		if err := p.temp.Truncate(0); err != nil {
			return fmt.Errorf("failed to reset spill file: %w", err)
		}
	}

	if err := p.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync database file: %w", err)
	}
	return nil
}

// Close flush all dirty pages, remove the spill file and close the database
// file
func (p *Pager) Close() error {
	if err := p.FlushAll(); err != nil {
		return err
	}
	if p.temp != nil {
		name := p.temp.Name()
		p.temp.Close()
		os.Remove(name)
		p.temp = nil
	}
	if p.file != nil {
		return p.file.Close()
	}
	return nil
}

// PagerStats holds cache statistics
type PagerStats struct {
	MaxPages   int
	Resident   int
	Hits       uint64
	Misses     uint64
	Evictions  uint64
	Spills     uint64
	DirtyPages int
	HitRate    float64
}

// GetStats return cache statistics
func (p *Pager) GetStats() PagerStats {
	dirty := 0
	for _, idx := range p.pageTable {
		if p.buffers[idx].flags&flagDirty != 0 {
			dirty++
		}
	}

	hitRate := float64(0)
	if p.hits+p.misses > 0 {
		hitRate = float64(p.hits) / float64(p.hits+p.misses)
	}

	return PagerStats{
		MaxPages:   len(p.buffers),
		Resident:   len(p.pageTable),
		Hits:       p.hits,
		Misses:     p.misses,
		Evictions:  p.evictions,
		Spills:     p.spills,
		DirtyPages: dirty,
		HitRate:    hitRate,
	}
}

// String returns a formatted string of stats
func (s PagerStats) String() string {
	return fmt.Sprintf(
		"Pager{MaxPages: %d, Resident: %d, Hits: %d, Misses: %d, Evictions: %d, Spills: %d, HitRate: %.2f%%, DirtyPages: %d}",
		s.MaxPages, s.Resident, s.Hits, s.Misses, s.Evictions, s.Spills, s.HitRate*100, s.DirtyPages,
	)
}
