// Package flashio defines the boundary between the DFTL core and the
// simulated flash controller: a small backend interface the core issues
// per-PPN reads/writes and per-PBN erases against, each tagged with the
// reason it was issued, and a minimal in-memory implementation good
// enough to drive the core under test or in the cmd/dftlsim demo.
//
// The real controller — channel contention, program/erase timing curves,
// wear modeling — is out of scope here; Backend is the seam a production
// simulator backend would be plugged in through.
package flashio

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dftlsim/dftl/internal/geometry"
)

// Tag names the reason a flash operation was issued.
type Tag string

const (
	TagTransCache           Tag = "trans.cache"
	TagTransClean           Tag = "trans.clean"
	TagTransUpdateForDataGC Tag = "trans.update.for.data.gc"
	TagDataUser             Tag = "data.user"
	TagDataCleaning         Tag = "data.cleaning"
)

// Backend is the interface the DFTL core consumes. Every call is a
// suspension point: it returns once the modeled operation has "completed",
// reporting the latency the caller should account against the owning
// request's completion time.
type Backend interface {
	ReadPage(ctx context.Context, ppn geometry.PPN, tag Tag) (time.Duration, error)
	WritePage(ctx context.Context, ppn geometry.PPN, tag Tag) (time.Duration, error)
	EraseBlock(ctx context.Context, pbn geometry.PBN, tag Tag) (time.Duration, error)
}

// Latencies configures the fixed per-operation latency a SimBackend
// reports. Real NAND has read << program << erase; the defaults reflect
// that ordering.
type Latencies struct {
	Read  time.Duration
	Write time.Duration
	Erase time.Duration
}

// DefaultLatencies are representative planar-NAND figures.
var DefaultLatencies = Latencies{
	Read:  60 * time.Microsecond,
	Write: 600 * time.Microsecond,
	Erase: 3 * time.Millisecond,
}

// OpCounts tallies how many operations of each tag have been issued,
// useful for asserting scenario expectations in tests.
type OpCounts struct {
	Reads, Writes, Erases map[Tag]int
}

// SimBackend is a dependency-free in-memory flash backend: it has no
// actual page storage (the DFTL core treats pages as opaque; only OOB and
// mapping metadata are modeled), just latency and per-tag counters.
type SimBackend struct {
	geo       geometry.Geometry
	latencies Latencies

	mu     sync.Mutex
	counts OpCounts
}

// NewSimBackend creates a backend for the given geometry.
func NewSimBackend(geo geometry.Geometry, lat Latencies) *SimBackend {
	return &SimBackend{
		geo:       geo,
		latencies: lat,
		counts: OpCounts{
			Reads:  make(map[Tag]int),
			Writes: make(map[Tag]int),
			Erases: make(map[Tag]int),
		},
	}
}

func (b *SimBackend) ReadPage(ctx context.Context, ppn geometry.PPN, tag Tag) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	b.mu.Lock()
	b.counts.Reads[tag]++
	b.mu.Unlock()
	return b.latencies.Read, nil
}

func (b *SimBackend) WritePage(ctx context.Context, ppn geometry.PPN, tag Tag) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	b.mu.Lock()
	b.counts.Writes[tag]++
	b.mu.Unlock()
	return b.latencies.Write, nil
}

func (b *SimBackend) EraseBlock(ctx context.Context, pbn geometry.PBN, tag Tag) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	b.mu.Lock()
	b.counts.Erases[tag]++
	b.mu.Unlock()
	return b.latencies.Erase, nil
}

// Counts returns a snapshot of per-tag operation counters.
func (b *SimBackend) Counts() OpCounts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return OpCounts{
		Reads:  cloneCounts(b.counts.Reads),
		Writes: cloneCounts(b.counts.Writes),
		Erases: cloneCounts(b.counts.Erases),
	}
}

func cloneCounts(m map[Tag]int) map[Tag]int {
	out := make(map[Tag]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// NewCorrelationID mints a request-scoped correlation ID for tagging
// pending flash operations in log lines.
func NewCorrelationID() string {
	return uuid.NewString()
}
