// Package blockpool implements the per-channel and device-wide free/used
// block accounting that the DFTL allocates data and translation pages
// from, under the out-of-place-write discipline.
package blockpool

import (
	"container/list"

	"github.com/dftlsim/dftl/internal/geometry"
)

// AllocKind enumerates the four write streams a channel serves, replacing
// the dispatch-by-method-name the original simulator used.
type AllocKind uint8

const (
	DataWrite AllocKind = iota
	TransWrite
	GCDataWrite
	GCTransWrite
)

func (k AllocKind) String() string {
	switch k {
	case DataWrite:
		return "data"
	case TransWrite:
		return "trans"
	case GCDataWrite:
		return "gc_data"
	case GCTransWrite:
		return "gc_trans"
	default:
		return "unknown"
	}
}

// usedSet reports whether a kind's blocks live in the data or the
// translation used-list.
func (k AllocKind) usedSet() usedSetKind {
	switch k {
	case DataWrite, GCDataWrite:
		return dataUsed
	default:
		return transUsed
	}
}

type usedSetKind uint8

const (
	dataUsed usedSetKind = iota
	transUsed
)

// cursor tracks the current write position for one allocation stream
// within a channel.
type cursor struct {
	valid bool
	page  int // in-channel page offset
}

// ChannelPool maintains the free blocks, used blocks, and write cursors of
// a single flash channel. Block numbers are local to the channel; callers
// needing device-global numbers use geometry.ChannelBlockToBlock.
type ChannelPool struct {
	geo geometry.Geometry
	ch  int

	free      *list.List // of int (block offsets within channel)
	dataUsed  map[int]struct{}
	transUsed map[int]struct{}

	cursors [4]cursor // indexed by AllocKind
}

// NewChannelPool creates a pool with every block in the channel free.
func NewChannelPool(geo geometry.Geometry, channel int) *ChannelPool {
	cp := &ChannelPool{
		geo:       geo,
		ch:        channel,
		free:      list.New(),
		dataUsed:  make(map[int]struct{}),
		transUsed: make(map[int]struct{}),
	}
	for b := 0; b < geo.BlocksPerChannel; b++ {
		cp.free.PushBack(b)
	}
	return cp
}

// popFree removes and returns the head of the free deque.
func (cp *ChannelPool) popFree() (int, error) {
	front := cp.free.Front()
	if front == nil {
		return 0, ErrOutOfSpace
	}
	cp.free.Remove(front)
	return front.Value.(int), nil
}

// popFreeInto pops a free block and adds it to the used set for kind.
func (cp *ChannelPool) popFreeInto(kind AllocKind) (int, error) {
	b, err := cp.popFree()
	if err != nil {
		return 0, err
	}
	switch kind.usedSet() {
	case dataUsed:
		cp.dataUsed[b] = struct{}{}
	case transUsed:
		cp.transUsed[b] = struct{}{}
	}
	return b, nil
}

// moveUsedToFree returns a block from the given used set back to free.
// Moving a block that is not present in the expected used set is a hard
// invariant violation.
func (cp *ChannelPool) moveUsedToFree(set usedSetKind, block int) error {
	var m map[int]struct{}
	if set == dataUsed {
		m = cp.dataUsed
	} else {
		m = cp.transUsed
	}
	if _, ok := m[block]; !ok {
		return ErrNotInUsedSet
	}
	delete(m, block)
	cp.free.PushBack(block)
	return nil
}

// MoveUsedDataBlockToFree returns a data block to the free list.
func (cp *ChannelPool) MoveUsedDataBlockToFree(block int) error {
	return cp.moveUsedToFree(dataUsed, block)
}

// MoveUsedTransBlockToFree returns a translation block to the free list.
func (cp *ChannelPool) MoveUsedTransBlockToFree(block int) error {
	return cp.moveUsedToFree(transUsed, block)
}

// NextPageToProgram advances the cursor for kind and returns the next
// in-channel page offset to write: pop a fresh block on first use or on
// block exhaustion, otherwise step to the next page within the current
// block.
func (cp *ChannelPool) NextPageToProgram(kind AllocKind) (int, error) {
	c := &cp.cursors[kind]

	if !c.valid {
		block, err := cp.popFreeInto(kind)
		if err != nil {
			return 0, err
		}
		page := block * cp.geo.PagesPerBlock
		c.page = page
		c.valid = true
		return page, nil
	}

	curBlock := c.page / cp.geo.PagesPerBlock
	next := c.page + 1
	nextBlock := next / cp.geo.PagesPerBlock

	if nextBlock == curBlock {
		c.page = next
		return next, nil
	}

	block, err := cp.popFreeInto(kind)
	if err != nil {
		return 0, err
	}
	page := block * cp.geo.PagesPerBlock
	c.page = page
	return page, nil
}

// CurrentBlock returns the channel-local block number the given cursor
// currently points into, and whether the cursor has ever been used.
func (cp *ChannelPool) CurrentBlock(kind AllocKind) (int, bool) {
	c := cp.cursors[kind]
	if !c.valid {
		return 0, false
	}
	return c.page / cp.geo.PagesPerBlock, true
}

// TotalUsedBlocks returns the number of blocks in data_used + trans_used.
func (cp *ChannelPool) TotalUsedBlocks() int {
	return len(cp.dataUsed) + len(cp.transUsed)
}

// NumFreeBlocks returns the number of blocks still on the free list.
func (cp *ChannelPool) NumFreeBlocks() int {
	return cp.free.Len()
}

// DataUsedBlocks returns the channel-local data-used block numbers.
func (cp *ChannelPool) DataUsedBlocks() []int {
	return setKeys(cp.dataUsed)
}

// TransUsedBlocks returns the channel-local translation-used block numbers.
func (cp *ChannelPool) TransUsedBlocks() []int {
	return setKeys(cp.transUsed)
}

func setKeys(m map[int]struct{}) []int {
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
