package oob

import (
	"testing"

	"github.com/dftlsim/dftl/internal/geometry"
)

func testGeo(t *testing.T) geometry.Geometry {
	t.Helper()
	g, err := geometry.New(4096, 4, 8, 2, 8, 512)
	if err != nil {
		t.Fatalf("geometry.New: %v", err)
	}
	return g
}

func TestNewLBAWriteValidity(t *testing.T) {
	geo := testGeo(t)
	a := New(geo)

	a.NewLBAWrite(10, geometry.UNINITIATED, 5)
	if !a.IsValid(5) {
		t.Error("ppn 5 should be valid after NewLBAWrite")
	}
	if lpn, ok := a.TranslateToLogical(5); !ok || lpn != 10 {
		t.Errorf("TranslateToLogical(5) = (%d,%v), want (10,true)", lpn, ok)
	}
	if _, ok := a.PageTimestamp(5); !ok {
		t.Error("expected a timestamp to be stamped on lba write")
	}
}

func TestNewWriteInvalidatesOld(t *testing.T) {
	geo := testGeo(t)
	a := New(geo)

	a.NewLBAWrite(10, geometry.UNINITIATED, 5)
	a.NewLBAWrite(10, 5, 6)

	if a.IsValid(5) {
		t.Error("old ppn 5 should be invalidated")
	}
	if !a.IsValid(6) {
		t.Error("new ppn 6 should be valid")
	}
	block, _ := geo.PageToBlockOff(5)
	if _, ok := a.LastInvalidation(block); !ok {
		t.Error("expected last-invalidation time recorded for block of ppn 5")
	}
}

func TestDataPageMovePreservesTimestamp(t *testing.T) {
	geo := testGeo(t)
	a := New(geo)

	a.NewLBAWrite(10, geometry.UNINITIATED, 5)
	origTS, _ := a.PageTimestamp(5)

	a.DataPageMove(10, 5, 9)
	newTS, ok := a.PageTimestamp(9)
	if !ok {
		t.Fatal("expected timestamp on moved page")
	}
	if newTS != origTS {
		t.Errorf("DataPageMove changed timestamp: got %d, want %d", newTS, origTS)
	}
}

func TestEraseBlockClearsState(t *testing.T) {
	geo := testGeo(t)
	a := New(geo)

	a.NewLBAWrite(10, geometry.UNINITIATED, 5)
	block, _ := geo.PageToBlockOff(5)
	a.Invalidate(5)
	a.EraseBlock(block)

	if a.State(5) != Erased {
		t.Errorf("expected Erased after EraseBlock, got %v", a.State(5))
	}
	if _, ok := a.TranslateToLogical(5); ok {
		t.Error("expected reverse map entry cleared after erase")
	}
	if _, ok := a.PageTimestamp(5); ok {
		t.Error("expected timestamp cleared after erase")
	}
	if _, ok := a.LastInvalidation(block); ok {
		t.Error("expected last-invalidation cleared after erase")
	}
}

func TestBlockValidRatio(t *testing.T) {
	geo := testGeo(t)
	a := New(geo)

	start, _ := geo.BlockToPageRange(0)
	a.Validate(start)
	a.Validate(start + 1)

	if got := a.BlockValidRatio(0); got != 0.5 {
		t.Errorf("BlockValidRatio = %v, want 0.5", got)
	}
}

func TestValidityMatchesMapping(t *testing.T) {
	// A page is VALID once written and stops being VALID once invalidated,
	// even though its reverse-map entry is kept until the block is erased.
	geo := testGeo(t)
	a := New(geo)

	a.NewLBAWrite(1, geometry.UNINITIATED, 3)
	if !a.IsValid(3) {
		t.Fatal("expected ppn 3 valid")
	}
	a.Invalidate(3)
	if a.IsValid(3) {
		t.Fatal("expected ppn 3 invalid after invalidation")
	}
}

// cur_timestamp only moves on the host-write path (NewLBAWrite). Neither a
// bare Invalidate nor a GC-style migration (NewWrite via DataPageMove) may
// advance it, or GC churn would distort a clock hosts use to reason about
// write recency.
func TestHostWriteClockOnlyAdvancesOnHostWrites(t *testing.T) {
	geo := testGeo(t)
	a := New(geo)

	a.NewLBAWrite(1, geometry.UNINITIATED, 3)
	afterLBA := a.CurrentTimestamp()

	a.Invalidate(3)
	if got := a.CurrentTimestamp(); got != afterLBA {
		t.Errorf("Invalidate advanced the host-write clock: %d -> %d", afterLBA, got)
	}

	a.DataPageMove(1, 3, 4)
	if got := a.CurrentTimestamp(); got != afterLBA {
		t.Errorf("DataPageMove advanced the host-write clock: %d -> %d", afterLBA, got)
	}

	a.NewLBAWrite(2, geometry.UNINITIATED, 7)
	if got := a.CurrentTimestamp(); got != afterLBA+1 {
		t.Errorf("expected the host-write clock to advance on NewLBAWrite, got %d want %d", got, afterLBA+1)
	}
}

// The block-aging clock used for last-invalidation bookkeeping is a
// separate counter: it advances on every Invalidate call, including ones
// reached from GC migrations, so a block's age keeps moving across a GC
// pass instead of standing still.
func TestInvalidationClockAdvancesIndependentlyOfHostWrites(t *testing.T) {
	geo := testGeo(t)
	a := New(geo)

	a.NewLBAWrite(1, geometry.UNINITIATED, 3)
	a.NewLBAWrite(2, geometry.UNINITIATED, 4)
	beforeInv := a.CurrentInvalidationClock()
	beforeTS := a.CurrentTimestamp()

	// A GC-style page move invalidates the old page without touching the
	// host-write clock.
	a.DataPageMove(1, 3, 5)

	if got := a.CurrentInvalidationClock(); got == beforeInv {
		t.Error("expected the invalidation clock to advance after a GC migration")
	}
	if got := a.CurrentTimestamp(); got != beforeTS {
		t.Errorf("GC migration must not advance the host-write clock: before=%d after=%d", beforeTS, got)
	}

	block, _ := geo.PageToBlockOff(3)
	lastInval, ok := a.LastInvalidation(block)
	if !ok {
		t.Fatal("expected a recorded last-invalidation time")
	}
	if lastInval != beforeInv {
		t.Errorf("LastInvalidation = %d, want %d", lastInval, beforeInv)
	}
}
