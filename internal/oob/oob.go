// Package oob implements the out-of-band metadata layer kept alongside
// every physical page: its validity trit, the reverse mapping back to the
// logical page (or translation page) it holds, a per-page timestamp, and
// the per-block last-invalidation time the garbage collector scores
// victims against.
package oob

import (
	"fmt"

	"github.com/dftlsim/dftl/internal/geometry"
)

// Validity is the per-page validity trit.
type Validity uint8

const (
	Erased Validity = iota
	Valid
	Invalid
)

func (v Validity) String() string {
	switch v {
	case Erased:
		return "erased"
	case Valid:
		return "valid"
	case Invalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Area is the OOB metadata store for an entire device.
type Area struct {
	geo geometry.Geometry

	states    []Validity           // indexed by PPN
	reverse   map[geometry.PPN]int64 // PPN -> LPN (data) or MVPN (translation)
	timestamp map[geometry.PPN]uint64
	lastInval map[geometry.PBN]uint64

	curTimestamp uint64
	invClock     uint64
}

// New creates an OOB area sized for the given geometry, with every page
// starting out Erased.
func New(geo geometry.Geometry) *Area {
	return &Area{
		geo:       geo,
		states:    make([]Validity, geo.PagesPerDevice),
		reverse:   make(map[geometry.PPN]int64),
		timestamp: make(map[geometry.PPN]uint64),
		lastInval: make(map[geometry.PBN]uint64),
	}
}

// Timestamp advances and returns the monotonic logical clock. Only the
// host-write path may call this.
func (a *Area) Timestamp() uint64 {
	t := a.curTimestamp
	a.curTimestamp++
	return t
}

// CurrentTimestamp peeks at the clock without advancing it.
func (a *Area) CurrentTimestamp() uint64 { return a.curTimestamp }

// advanceInvalidationClock advances and returns the block-aging clock.
// This is a separate counter from curTimestamp: curTimestamp is only ever
// advanced on the host-write path (NewLBAWrite), so that GC migrations and
// discards never distort the "time since last write" a host observes.
// last-invalidation bookkeeping has no such constraint — GC needs a clock
// that keeps moving on every invalidation, GC-caused or not, so that a
// block's age since it was last invalidated reflects actual elapsed
// activity rather than standing still across a GC pass.
func (a *Area) advanceInvalidationClock() uint64 {
	t := a.invClock
	a.invClock++
	return t
}

// CurrentInvalidationClock peeks at the block-aging clock without
// advancing it. The garbage collector uses this as "now" when scoring
// victims by age since last invalidation.
func (a *Area) CurrentInvalidationClock() uint64 { return a.invClock }

// IsValid reports whether ppn currently holds live data.
func (a *Area) IsValid(ppn geometry.PPN) bool {
	return a.states[ppn] == Valid
}

// State returns the raw validity trit of ppn.
func (a *Area) State(ppn geometry.PPN) Validity {
	return a.states[ppn]
}

// Validate marks ppn as holding live data.
func (a *Area) Validate(ppn geometry.PPN) {
	a.states[ppn] = Valid
}

// Invalidate marks ppn as stale and records the owning block's
// last-invalidation time so the GC can age it.
func (a *Area) Invalidate(ppn geometry.PPN) {
	a.states[ppn] = Invalid
	block, _ := a.geo.PageToBlockOff(ppn)
	a.lastInval[block] = a.advanceInvalidationClock()
}

// EraseBlock resets every page in the block to Erased and drops the
// block's reverse-map, timestamp, and last-invalidation entries.
func (a *Area) EraseBlock(block geometry.PBN) {
	start, end := a.geo.BlockToPageRange(block)
	for ppn := start; ppn < end; ppn++ {
		a.states[ppn] = Erased
		delete(a.reverse, ppn)
		delete(a.timestamp, ppn)
	}
	delete(a.lastInval, block)
}

// TranslateToLogical returns the LPN (or MVPN) currently recorded for ppn.
func (a *Area) TranslateToLogical(ppn geometry.PPN) (int64, bool) {
	v, ok := a.reverse[ppn]
	return v, ok
}

// NewWrite marks newPPN valid, records its reverse mapping, and invalidates
// oldPPN if it was a real page (not UNINITIATED). Used for both data pages
// and translation pages, keyed by lpnOrMVPN.
func (a *Area) NewWrite(lpnOrMVPN int64, oldPPN, newPPN geometry.PPN) {
	a.Validate(newPPN)
	a.reverse[newPPN] = lpnOrMVPN
	if oldPPN != geometry.UNINITIATED {
		a.Invalidate(oldPPN)
	}
}

// NewLBAWrite is NewWrite plus stamping newPPN with the current logical
// clock value — used exclusively on the host-write path.
func (a *Area) NewLBAWrite(lpn int64, oldPPN, newPPN geometry.PPN) {
	a.timestamp[newPPN] = a.Timestamp()
	a.NewWrite(lpn, oldPPN, newPPN)
}

// DataPageMove is NewWrite but copies oldPPN's timestamp to newPPN instead
// of minting a fresh one — GC must never refresh a page's age.
func (a *Area) DataPageMove(lpn int64, oldPPN, newPPN geometry.PPN) {
	if ts, ok := a.timestamp[oldPPN]; ok {
		a.timestamp[newPPN] = ts
	}
	a.NewWrite(lpn, oldPPN, newPPN)
}

// LPNsOfBlock returns the logical page (or MVPN) recorded for every PPN in
// the block, in PPN order; PPNs with no recorded mapping are skipped, so the
// result can be shorter than the block.
func (a *Area) LPNsOfBlock(block geometry.PBN) []int64 {
	start, end := a.geo.BlockToPageRange(block)
	out := make([]int64, 0, end-start)
	for ppn := start; ppn < end; ppn++ {
		if v, ok := a.reverse[ppn]; ok {
			out = append(out, v)
		}
	}
	return out
}

// BlockValidRatio returns the fraction of pages in block that are Valid.
func (a *Area) BlockValidRatio(block geometry.PBN) float64 {
	start, end := a.geo.BlockToPageRange(block)
	n := 0
	for ppn := start; ppn < end; ppn++ {
		if a.states[ppn] == Valid {
			n++
		}
	}
	return float64(n) / float64(end-start)
}

// LastInvalidation returns the last-invalidation timestamp of a block, and
// whether the block has ever been invalidated.
func (a *Area) LastInvalidation(block geometry.PBN) (uint64, bool) {
	t, ok := a.lastInval[block]
	return t, ok
}

// PageTimestamp returns the recorded timestamp of ppn, if any.
func (a *Area) PageTimestamp(ppn geometry.PPN) (uint64, bool) {
	t, ok := a.timestamp[ppn]
	return t, ok
}

// String renders a compact debug view of a page's state, useful for GC
// diagnostics when logging a suspect victim block.
func (a *Area) String(ppn geometry.PPN) string {
	lpn, ok := a.reverse[ppn]
	if !ok {
		return fmt.Sprintf("ppn=%d state=%s lpn=<none>", ppn, a.states[ppn])
	}
	return fmt.Sprintf("ppn=%d state=%s lpn=%d", ppn, a.states[ppn], lpn)
}
