package gc

import (
	"context"
	"testing"

	"github.com/dftlsim/dftl/internal/geometry"
)

func TestClampWatermarks(t *testing.T) {
	high, low := ClampWatermarks(2.0, 0.6, 0.4)
	if high != 0.6 || low != 0.4 {
		t.Errorf("ClampWatermarks(2.0, 0.6, 0.4) = (%v, %v), want (0.6, 0.4) [both already above minimums]", high, low)
	}

	high, low = ClampWatermarks(2.0, 0.1, 0.1)
	if high != 0.5 || low != 0.4 {
		t.Errorf("ClampWatermarks(2.0, 0.1, 0.1) = (%v, %v), want (0.5, 0.4) [clamped to 1/OP, 0.8/OP]", high, low)
	}
}

// Offer is a no-op below the high watermark.
func TestOfferBelowHighWatermarkIsNoop(t *testing.T) {
	h := newHarness(t, 64)
	dec := NewDecider(h.pool, h.geo, h.col, 2.0, 0.6, 0.4, h.col.log)

	if _, err := h.mapper.TranslateForWrite(context.Background(), []geometry.LPN{0}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := dec.Offer(context.Background()); err != nil {
		t.Fatalf("Offer: %v", err)
	}
	if dec.Active() {
		t.Error("expected no GC cycle below the high watermark")
	}
}

// A full GC cycle strictly decreases used_blocks when eligible victims
// exist, ending either at the low watermark or once the victim queue runs
// dry.
func TestOfferRunsCycleAndDecreasesUsedBlocks(t *testing.T) {
	h := newHarnessGeo(t, 4, 8, 1, 256)
	ctx := context.Background()

	// Fill 5 data blocks (20 LPNs at 4 pages/block).
	for lpn := geometry.LPN(0); lpn < 20; lpn++ {
		if _, err := h.mapper.TranslateForWrite(ctx, []geometry.LPN{lpn}); err != nil {
			t.Fatalf("write lpn %d: %v", lpn, err)
		}
	}

	// Block 1 (lpns 0-3): fully invalid. Blocks 2-3 (lpns 4-7, 8-11): one
	// live page each. Block 4 (lpns 12-15) stays fully valid. Block 5
	// (lpns 16-19) is the live write cursor.
	for _, lpn := range []geometry.LPN{0, 1, 2, 3, 4, 5, 6, 8, 9, 10} {
		if err := h.mapper.Discard(ctx, lpn); err != nil {
			t.Fatalf("discard lpn %d: %v", lpn, err)
		}
	}

	before := h.pool.TotalUsedBlocks()
	beforeRatio := h.pool.UsedRatio()

	dec := NewDecider(h.pool, h.geo, h.col, 2.0, 0.6, 0.4, h.col.log)
	if beforeRatio <= dec.high {
		t.Fatalf("setup error: used ratio %v must exceed high watermark %v to trigger a cycle", beforeRatio, dec.high)
	}

	if err := dec.Offer(ctx); err != nil {
		t.Fatalf("Offer: %v", err)
	}

	after := h.pool.TotalUsedBlocks()
	if after >= before {
		t.Errorf("used_blocks did not decrease: before=%d after=%d", before, after)
	}
	if dec.Active() {
		t.Error("expected the GC cycle to have ended")
	}

	// Live data must still resolve correctly after migration.
	for _, lpn := range []geometry.LPN{7, 11, 12, 13, 14, 15} {
		ppns, err := h.mapper.TranslateForRead(ctx, []geometry.LPN{lpn})
		if err != nil {
			t.Fatalf("read lpn %d after gc: %v", lpn, err)
		}
		if ppns[0] == geometry.UNINITIATED {
			t.Errorf("lpn %d lost its mapping after gc", lpn)
		}
		if !h.area.IsValid(ppns[0]) {
			t.Errorf("lpn %d's current page is not valid after gc", lpn)
		}
	}
}
