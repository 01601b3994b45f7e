package flashio

import (
	"context"
	"testing"

	"github.com/dftlsim/dftl/internal/geometry"
)

func testGeo(t *testing.T) geometry.Geometry {
	t.Helper()
	geo, err := geometry.New(4096, 4, 8, 2, 8, 512)
	if err != nil {
		t.Fatalf("geometry.New: %v", err)
	}
	return geo
}

func TestSimBackendReportsConfiguredLatencies(t *testing.T) {
	b := NewSimBackend(testGeo(t), DefaultLatencies)
	ctx := context.Background()

	lat, err := b.ReadPage(ctx, 0, TagDataUser)
	if err != nil || lat != DefaultLatencies.Read {
		t.Errorf("ReadPage = (%v, %v), want (%v, nil)", lat, err, DefaultLatencies.Read)
	}
	lat, err = b.WritePage(ctx, 0, TagDataUser)
	if err != nil || lat != DefaultLatencies.Write {
		t.Errorf("WritePage = (%v, %v), want (%v, nil)", lat, err, DefaultLatencies.Write)
	}
	lat, err = b.EraseBlock(ctx, 0, TagDataCleaning)
	if err != nil || lat != DefaultLatencies.Erase {
		t.Errorf("EraseBlock = (%v, %v), want (%v, nil)", lat, err, DefaultLatencies.Erase)
	}
}

func TestSimBackendCountsPerTag(t *testing.T) {
	b := NewSimBackend(testGeo(t), DefaultLatencies)
	ctx := context.Background()

	b.ReadPage(ctx, 0, TagTransCache)
	b.ReadPage(ctx, 1, TagTransCache)
	b.ReadPage(ctx, 2, TagDataUser)
	b.WritePage(ctx, 3, TagDataCleaning)

	counts := b.Counts()
	if counts.Reads[TagTransCache] != 2 {
		t.Errorf("Reads[TagTransCache] = %d, want 2", counts.Reads[TagTransCache])
	}
	if counts.Reads[TagDataUser] != 1 {
		t.Errorf("Reads[TagDataUser] = %d, want 1", counts.Reads[TagDataUser])
	}
	if counts.Writes[TagDataCleaning] != 1 {
		t.Errorf("Writes[TagDataCleaning] = %d, want 1", counts.Writes[TagDataCleaning])
	}
}

func TestSimBackendRespectsContextCancellation(t *testing.T) {
	b := NewSimBackend(testGeo(t), DefaultLatencies)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := b.ReadPage(ctx, 0, TagDataUser); err == nil {
		t.Error("expected ReadPage to fail on a cancelled context")
	}
}

func TestCountsSnapshotIsIndependent(t *testing.T) {
	b := NewSimBackend(testGeo(t), DefaultLatencies)
	ctx := context.Background()
	b.ReadPage(ctx, 0, TagDataUser)

	snap := b.Counts()
	b.ReadPage(ctx, 0, TagDataUser)

	if snap.Reads[TagDataUser] != 1 {
		t.Errorf("snapshot mutated by later calls: %d, want 1", snap.Reads[TagDataUser])
	}
}

func TestNewCorrelationIDIsUnique(t *testing.T) {
	a := NewCorrelationID()
	b := NewCorrelationID()
	if a == b {
		t.Error("expected distinct correlation IDs")
	}
	if a == "" {
		t.Error("expected a non-empty correlation ID")
	}
}
