package gc

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/dftlsim/dftl/internal/blockpool"
	"github.com/dftlsim/dftl/internal/geometry"
)

// ClampWatermarks enforces the consistency rule between the watermarks and
// overprovisioning: high >= 1/OP, low >= 0.8/OP.
func ClampWatermarks(overProvisioning, highRatio, lowRatio float64) (high, low float64) {
	minHigh := 1.0 / overProvisioning
	minLow := 0.8 / overProvisioning
	if highRatio < minHigh {
		highRatio = minHigh
	}
	if lowRatio < minLow {
		lowRatio = minLow
	}
	return highRatio, lowRatio
}

// Decider is the watermark-based GC admission policy with anti-thrash
// freeze-out. It has no watermark "raise" or "reset" methods: the original
// simulator's control path for adjusting watermarks at runtime was dead
// code and is not carried forward.
type Decider struct {
	pool      *blockpool.DevicePool
	geo       geometry.Geometry
	collector *Collector
	log       zerolog.Logger

	high, low float64

	active   bool
	lastUsed int
	stall    int
}

// NewDecider creates a Decider. highRatio and lowRatio are clamped against
// overProvisioning per ClampWatermarks.
func NewDecider(pool *blockpool.DevicePool, geo geometry.Geometry, collector *Collector, overProvisioning, highRatio, lowRatio float64, log zerolog.Logger) *Decider {
	high, low := ClampWatermarks(overProvisioning, highRatio, lowRatio)
	return &Decider{
		pool:      pool,
		geo:       geo,
		collector: collector,
		log:       log,
		high:      high,
		low:       low,
	}
}

// Offer is called after every host write that may have consumed free
// pages. If not already collecting, it starts a cycle once used_blocks
// crosses the high watermark; once started, it runs the collector until
// used_blocks falls back to the low watermark, the queue runs dry, or the
// cycle stalls for more than 2*pages_per_block consecutive non-progressing
// passes (freeze-out).
func (d *Decider) Offer(ctx context.Context) error {
	if !d.active {
		if d.pool.UsedRatio() <= d.high {
			return nil
		}
		d.active = true
		d.stall = 0
		d.lastUsed = d.pool.TotalUsedBlocks()
		d.log.Info().Float64("used_ratio", d.pool.UsedRatio()).Msg("gc cycle started")
	}

	for d.active {
		if d.pool.UsedRatio() <= d.low {
			d.active = false
			d.log.Info().Msg("gc cycle complete")
			return nil
		}

		cleaned, err := d.collector.CleanOne(ctx)
		if err != nil {
			return err
		}
		if !cleaned {
			d.active = false
			d.log.Info().Msg("gc cycle complete: no eligible victims")
			return nil
		}

		used := d.pool.TotalUsedBlocks()
		if used >= d.lastUsed {
			d.stall++
		} else {
			d.stall = 0
		}
		d.lastUsed = used

		if d.stall > 2*d.geo.PagesPerBlock {
			d.active = false
			d.log.Warn().Int("stall", d.stall).Msg("gc cycle frozen out: no progress")
			return nil
		}
	}
	return nil
}

// Active reports whether a GC cycle is currently in progress.
func (d *Decider) Active() bool { return d.active }
