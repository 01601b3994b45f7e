// Package dftl assembles the geometry, OOB area, block pool, mapping
// manager, and garbage collector into the single request pipeline a host
// event stream is submitted to.
package dftl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dftlsim/dftl/internal/blockpool"
	"github.com/dftlsim/dftl/internal/config"
	"github.com/dftlsim/dftl/internal/flashio"
	"github.com/dftlsim/dftl/internal/gc"
	"github.com/dftlsim/dftl/internal/geometry"
	"github.com/dftlsim/dftl/internal/hostio"
	"github.com/dftlsim/dftl/internal/logging"
	"github.com/dftlsim/dftl/internal/mapping"
	"github.com/dftlsim/dftl/internal/oob"
)

// Completion describes the outcome of one submitted host event.
type Completion struct {
	Event   hostio.Event
	LPNs    []geometry.LPN
	PPNs    []geometry.PPN
	Latency time.Duration
}

// Device is the DFTL façade: every host event is submitted here.
type Device struct {
	geo     geometry.Geometry
	backend flashio.Backend
	area    *oob.Area
	pool    *blockpool.DevicePool
	mapper  *mapping.Manager
	decider *gc.Decider
	log     zerolog.Logger

	mu              sync.Mutex
	recorderEnabled bool
}

// New builds a Device from cfg, formats the translation directory, and
// wires the garbage collector in front of the same block pool and mapping
// manager the request pipeline uses.
func New(cfg config.Config, backend flashio.Backend, log zerolog.Logger) (*Device, error) {
	geo, err := cfg.Geometry()
	if err != nil {
		return nil, fmt.Errorf("dftl: %w", err)
	}

	area := oob.New(geo)
	pool := blockpool.NewDevicePool(geo)
	mapper := mapping.New(geo, backend, area, pool, cfg.MaxCMTEntries(), 0.5, log)
	if err := mapper.Initialize(); err != nil {
		return nil, fmt.Errorf("dftl: format: %w", err)
	}

	collector := gc.New(geo, backend, area, pool, mapper, cfg.RecordBadVictimBlock, log)
	decider := gc.NewDecider(pool, geo, collector, cfg.DFTL.OverProvisioning, cfg.DFTL.GCThresholdRatio, cfg.DFTL.GCLowThresholdRatio, log)

	return &Device{
		geo:     geo,
		backend: backend,
		area:    area,
		pool:    pool,
		mapper:  mapper,
		decider: decider,
		log:     log,
	}, nil
}

// Geometry returns the device's fixed layout constants.
func (d *Device) Geometry() geometry.Geometry { return d.geo }

// Pool exposes the block pool for diagnostics and tests.
func (d *Device) Pool() *blockpool.DevicePool { return d.pool }

// OOB exposes the out-of-band metadata area for diagnostics and tests.
func (d *Device) OOB() *oob.Area { return d.area }

// Submit processes one host event under the device's single-writer
// exclusion: it expands the event into an LPN range, dispatches to the
// mapping manager, emits flash requests for the resulting PPNs, and offers
// the garbage collector after writes.
func (d *Device) Submit(ctx context.Context, ev hostio.Event) (Completion, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	reqLog := logging.WithOp(d.log, ev.Op.String())
	reqLog = reqLog.With().Str("correlation_id", flashio.NewCorrelationID()).Logger()

	switch ev.Op {
	case hostio.EnableRecorder:
		d.recorderEnabled = true
		return Completion{Event: ev}, nil
	case hostio.DisableRecorder:
		d.recorderEnabled = false
		return Completion{Event: ev}, nil
	}

	start, count := d.geo.SectorExtentToPageExtent(ev.OffsetByte, ev.SizeByte)
	lpns := make([]geometry.LPN, count)
	for i := range lpns {
		lpns[i] = start + geometry.LPN(i)
	}

	var ppns []geometry.PPN
	var err error

	switch ev.Op {
	case hostio.Read:
		ppns, err = d.translateForRead(ctx, lpns)
	case hostio.Write:
		ppns, err = d.translateForWrite(ctx, lpns)
	case hostio.Discard:
		for _, lpn := range lpns {
			if err = d.discard(ctx, lpn); err != nil {
				break
			}
		}
	default:
		return Completion{}, fmt.Errorf("dftl: unrecognized operation %v", ev.Op)
	}
	if err != nil {
		return Completion{}, err
	}

	var maxLatency time.Duration
	for _, ppn := range ppns {
		if ppn == geometry.UNINITIATED {
			continue // suppress flash reads for never-written LPNs
		}
		var lat time.Duration
		var ferr error
		switch ev.Op {
		case hostio.Read:
			lat, ferr = d.backend.ReadPage(ctx, ppn, flashio.TagDataUser)
		case hostio.Write:
			lat, ferr = d.backend.WritePage(ctx, ppn, flashio.TagDataUser)
		}
		if ferr != nil {
			return Completion{}, ferr
		}
		if lat > maxLatency {
			maxLatency = lat
		}
		channel, _ := d.geo.PageToChannelPage(ppn)
		logging.WithChannel(logging.WithPPN(reqLog, int64(ppn)), channel).Debug().Msg("flash page request issued")
	}

	if ev.Op == hostio.Write {
		if err := d.decider.Offer(ctx); err != nil {
			return Completion{}, fmt.Errorf("dftl: gc offer: %w", err)
		}
	}

	reqLog.Debug().Int("lpn_count", len(lpns)).Dur("latency", maxLatency).Msg("request completed")

	return Completion{Event: ev, LPNs: lpns, PPNs: ppns, Latency: maxLatency}, nil
}

// translateForRead wraps mapping.Manager.TranslateForRead with a single
// out-of-space retry: a translation-page write-back triggered by eviction
// can run the block pool dry, in which case a GC pass is forced and the
// translation retried once.
func (d *Device) translateForRead(ctx context.Context, lpns []geometry.LPN) ([]geometry.PPN, error) {
	var ppns []geometry.PPN
	err := d.withOutOfSpaceRetry(ctx, func() error {
		var e error
		ppns, e = d.mapper.TranslateForRead(ctx, lpns)
		return e
	})
	return ppns, err
}

// translateForWrite is translateForRead's write-path counterpart.
func (d *Device) translateForWrite(ctx context.Context, lpns []geometry.LPN) ([]geometry.PPN, error) {
	var ppns []geometry.PPN
	err := d.withOutOfSpaceRetry(ctx, func() error {
		var e error
		ppns, e = d.mapper.TranslateForWrite(ctx, lpns)
		return e
	})
	return ppns, err
}

// discard is Discard's out-of-space-retrying wrapper.
func (d *Device) discard(ctx context.Context, lpn geometry.LPN) error {
	return d.withOutOfSpaceRetry(ctx, func() error {
		return d.mapper.Discard(ctx, lpn)
	})
}

// withOutOfSpaceRetry runs fn once; if it fails with ErrOutOfSpace, it
// forces a GC pass and retries fn exactly once. A second failure — of any
// kind — propagates as a submit error.
func (d *Device) withOutOfSpaceRetry(ctx context.Context, fn func() error) error {
	err := fn()
	if err == nil || !errors.Is(err, blockpool.ErrOutOfSpace) {
		return err
	}
	d.log.Warn().Msg("out of space, forcing gc pass and retrying once")
	if gcErr := d.decider.Offer(ctx); gcErr != nil {
		return gcErr
	}
	return fn()
}
