// Package cmt implements the Cached Mapping Table: a bounded, segmented-LRU
// cache of LPN -> {PPN, dirty} entries. It is a direct generalization of a
// single-list LRU page cache to two segments (protected/probationary) with
// promotion on any hit; the doubly-linked-list bookkeeping itself is the
// same shape as an ordinary buffer-pool LRU list.
package cmt

import (
	"errors"

	"github.com/dftlsim/dftl/internal/geometry"
)

// ErrAlreadyPresent is an invariant violation: Insert was called for an LPN
// that is already cached.
var ErrAlreadyPresent = errors.New("cmt: lpn already present")

// ErrNotPresent is an invariant violation: Overwrite was called for an LPN
// that is not cached.
var ErrNotPresent = errors.New("cmt: lpn not present")

// Entry is a cached mapping: the PPN an LPN currently resolves to, and
// whether that mapping has been written back to the on-flash translation
// page yet.
type Entry struct {
	LPN   geometry.LPN
	PPN   geometry.PPN
	Dirty bool
}

type node struct {
	entry      Entry
	protected  bool
	prev, next *node
}

// segment is a doubly linked LRU list; head is most-recently-used.
type segment struct {
	head, tail *node
	n          int
}

func (s *segment) pushFront(nd *node) {
	nd.prev = nil
	nd.next = s.head
	if s.head != nil {
		s.head.prev = nd
	}
	s.head = nd
	if s.tail == nil {
		s.tail = nd
	}
	s.n++
}

func (s *segment) unlink(nd *node) {
	if nd.prev != nil {
		nd.prev.next = nd.next
	} else {
		s.head = nd.next
	}
	if nd.next != nil {
		nd.next.prev = nd.prev
	} else {
		s.tail = nd.prev
	}
	nd.prev, nd.next = nil, nil
	s.n--
}

func (s *segment) moveToFront(nd *node) {
	s.unlink(nd)
	s.pushFront(nd)
}

// Table is the segmented-LRU Cached Mapping Table.
type Table struct {
	maxEntries   int
	protectedCap int

	index map[geometry.LPN]*node

	protected    segment
	probationary segment
}

// New creates a Table bounded to maxEntries, with the given protected-
// segment share (defaults to 0.5 if splitRatio is <= 0 or >= 1).
func New(maxEntries int, splitRatio float64) *Table {
	if splitRatio <= 0 || splitRatio >= 1 {
		splitRatio = 0.5
	}
	return &Table{
		maxEntries:   maxEntries,
		protectedCap: int(float64(maxEntries) * splitRatio),
		index:        make(map[geometry.LPN]*node, maxEntries),
	}
}

// Len returns the total number of cached entries.
func (t *Table) Len() int { return len(t.index) }

// IsFull reports whether the table has reached its entry cap.
func (t *Table) IsFull() bool {
	return len(t.index) >= t.maxEntries
}

// Get looks up lpn, promoting it on a hit per segmented-LRU rules.
func (t *Table) Get(lpn geometry.LPN) (Entry, bool) {
	nd, ok := t.index[lpn]
	if !ok {
		return Entry{}, false
	}
	t.promote(nd)
	return nd.entry, true
}

// Peek looks up lpn without changing its recency.
func (t *Table) Peek(lpn geometry.LPN) (Entry, bool) {
	nd, ok := t.index[lpn]
	if !ok {
		return Entry{}, false
	}
	return nd.entry, true
}

// promote moves nd to the head of the protected segment on any hit,
// demoting the protected segment's current tail into probationary if that
// pushes protected over its capacity.
func (t *Table) promote(nd *node) {
	if nd.protected {
		t.protected.moveToFront(nd)
		return
	}

	t.probationary.unlink(nd)
	nd.protected = true
	t.protected.pushFront(nd)

	if t.protectedCap > 0 && t.protected.n > t.protectedCap {
		demoted := t.protected.tail
		t.protected.unlink(demoted)
		demoted.protected = false
		t.probationary.pushFront(demoted)
	}
}

// Insert adds a brand-new entry. lpn must not already be present; callers
// must have evicted down to below capacity first (the table never evicts
// on its own).
func (t *Table) Insert(lpn geometry.LPN, ppn geometry.PPN, dirty bool) error {
	if _, exists := t.index[lpn]; exists {
		return ErrAlreadyPresent
	}
	nd := &node{entry: Entry{LPN: lpn, PPN: ppn, Dirty: dirty}}
	t.probationary.pushFront(nd)
	t.index[lpn] = nd
	return nil
}

// Overwrite updates an existing entry in place (recency unaffected, per
// the original DFTL's overwrite_entry semantics).
func (t *Table) Overwrite(lpn geometry.LPN, ppn geometry.PPN, dirty bool) error {
	nd, ok := t.index[lpn]
	if !ok {
		return ErrNotPresent
	}
	nd.entry.PPN = ppn
	nd.entry.Dirty = dirty
	return nil
}

// Remove deletes lpn from the cache. It is a no-op if absent.
func (t *Table) Remove(lpn geometry.LPN) {
	nd, ok := t.index[lpn]
	if !ok {
		return
	}
	if nd.protected {
		t.protected.unlink(nd)
	} else {
		t.probationary.unlink(nd)
	}
	delete(t.index, lpn)
}

// Victim returns the LRU candidate for eviction without removing it: the
// probationary segment's tail, falling back to the protected segment's
// tail when probationary is empty.
func (t *Table) Victim() (Entry, bool) {
	if t.probationary.tail != nil {
		return t.probationary.tail.entry, true
	}
	if t.protected.tail != nil {
		return t.protected.tail.entry, true
	}
	return Entry{}, false
}

// Entries returns a snapshot of every cached entry, for eviction batching
// and write-back scans.
func (t *Table) Entries() []Entry {
	out := make([]Entry, 0, len(t.index))
	for _, nd := range t.index {
		out = append(out, nd.entry)
	}
	return out
}
