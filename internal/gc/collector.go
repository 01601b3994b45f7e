// Package gc implements the garbage collector: watermark-driven admission
// (Decider) and benefit/cost victim selection, page migration, and batched
// remap (Collector).
package gc

import (
	"container/heap"
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dftlsim/dftl/internal/blockpool"
	"github.com/dftlsim/dftl/internal/flashio"
	"github.com/dftlsim/dftl/internal/geometry"
	"github.com/dftlsim/dftl/internal/logging"
	"github.com/dftlsim/dftl/internal/mapping"
	"github.com/dftlsim/dftl/internal/oob"
)

// highValidRatioThreshold is the cutoff above which a selected victim is
// logged as a "bad" pick when RecordBadVictimBlock is enabled: the
// collector chose to collect a block that was still mostly live, typically
// because freeze-out or an empty queue left nothing better available.
const highValidRatioThreshold = 0.5

// Collector cleans individual blocks: it selects the single best victim
// available right now and migrates it, leaving cycle-level looping to
// Decider.
type Collector struct {
	geo     geometry.Geometry
	backend flashio.Backend
	area    *oob.Area
	pool    *blockpool.DevicePool
	mapper  *mapping.Manager
	log     zerolog.Logger

	recordBadVictim bool
}

// New creates a Collector.
func New(geo geometry.Geometry, backend flashio.Backend, area *oob.Area, pool *blockpool.DevicePool, mapper *mapping.Manager, recordBadVictim bool, log zerolog.Logger) *Collector {
	return &Collector{
		geo:             geo,
		backend:         backend,
		area:            area,
		pool:            pool,
		mapper:          mapper,
		recordBadVictim: recordBadVictim,
		log:             log,
	}
}

// CleanOne selects the current best victim block and cleans it, reporting
// false if there was nothing eligible to collect.
func (c *Collector) CleanOne(ctx context.Context) (bool, error) {
	candidates := buildCandidates(c.pool, c.area, c.area.CurrentInvalidationClock())
	if len(candidates) == 0 {
		return false, nil
	}

	q := victimQueue(candidates)
	heap.Init(&q)
	victim := heap.Pop(&q).(*candidate)

	if c.recordBadVictim && victim.validRatio > highValidRatioThreshold {
		logging.WithPBN(c.log, int64(victim.pbn)).Warn().
			Float64("valid_ratio", victim.validRatio).
			Msg("gc collecting high-valid-ratio victim")
	}

	switch victim.kind {
	case dataBlock:
		return true, c.cleanDataBlock(ctx, victim.pbn)
	default:
		return true, c.cleanTransBlock(ctx, victim.pbn)
	}
}

// cleanDataBlock migrates every valid page of pbn to fresh pages on the
// GC-data write stream, then folds the moves into mapping state one
// translation page's worth at a time, then frees and erases the block.
//
// Every page move completes — the read, the allocation, the write, and the
// OOB update — before any mapping update is issued, preserving the
// invariant that OOB validity always matches the mapping that currently
// resolves an LPN.
func (c *Collector) cleanDataBlock(ctx context.Context, pbn geometry.PBN) error {
	type move struct {
		lpn    geometry.LPN
		oldPPN geometry.PPN
		newPPN geometry.PPN
	}

	start, end := c.geo.BlockToPageRange(pbn)
	var moves []move
	for ppn := start; ppn < end; ppn++ {
		if !c.area.IsValid(ppn) {
			continue
		}
		logical, ok := c.area.TranslateToLogical(ppn)
		if !ok {
			continue
		}
		lpn := geometry.LPN(logical)

		if _, err := c.backend.ReadPage(ctx, ppn, flashio.TagDataCleaning); err != nil {
			return fmt.Errorf("gc: read valid data page %d: %w", ppn, err)
		}
		newPPN, err := c.pool.NextPageToProgram(blockpool.GCDataWrite)
		if err != nil {
			return fmt.Errorf("gc: allocate gc data page for pbn %d: %w", pbn, err)
		}
		if _, err := c.backend.WritePage(ctx, newPPN, flashio.TagDataCleaning); err != nil {
			return fmt.Errorf("gc: write migrated data page: %w", err)
		}
		c.area.DataPageMove(int64(lpn), ppn, newPPN)

		moves = append(moves, move{lpn, ppn, newPPN})
	}

	byMVPN := make(map[geometry.MVPN]map[geometry.LPN]geometry.PPN)
	for _, mv := range moves {
		mvpn := c.geo.MVPNOfLPN(mv.lpn)
		group, ok := byMVPN[mvpn]
		if !ok {
			group = make(map[geometry.LPN]geometry.PPN)
			byMVPN[mvpn] = group
		}
		group[mv.lpn] = mv.newPPN
	}

	for mvpn, group := range byMVPN {
		if err := c.mapper.GCUpdateMappings(ctx, mvpn, group, blockpool.GCTransWrite, flashio.TagTransUpdateForDataGC); err != nil {
			return fmt.Errorf("gc: batch remap m_vpn %d: %w", mvpn, err)
		}
	}

	if err := c.pool.MoveUsedDataBlockToFree(pbn); err != nil {
		return fmt.Errorf("gc: free data block %d: %w", pbn, err)
	}
	c.area.EraseBlock(pbn)
	if _, err := c.backend.EraseBlock(ctx, pbn, flashio.TagDataCleaning); err != nil {
		return fmt.Errorf("gc: erase data block %d: %w", pbn, err)
	}
	return nil
}

// cleanTransBlock migrates every valid translation page of pbn to the
// GC-trans write stream, updating the Global Translation Directory for each
// as it goes, then frees and erases the block.
func (c *Collector) cleanTransBlock(ctx context.Context, pbn geometry.PBN) error {
	start, end := c.geo.BlockToPageRange(pbn)
	for ppn := start; ppn < end; ppn++ {
		if !c.area.IsValid(ppn) {
			continue
		}
		logical, ok := c.area.TranslateToLogical(ppn)
		if !ok {
			continue
		}
		mvpn := geometry.MVPN(logical)

		if _, err := c.backend.ReadPage(ctx, ppn, flashio.TagTransClean); err != nil {
			return fmt.Errorf("gc: read valid translation page %d: %w", ppn, err)
		}
		newPPN, err := c.pool.NextPageToProgram(blockpool.GCTransWrite)
		if err != nil {
			return fmt.Errorf("gc: allocate gc translation page for pbn %d: %w", pbn, err)
		}
		if _, err := c.backend.WritePage(ctx, newPPN, flashio.TagTransClean); err != nil {
			return fmt.Errorf("gc: write migrated translation page: %w", err)
		}
		c.area.NewWrite(int64(mvpn), ppn, newPPN)
		c.mapper.Directory().UpdateMapping(mvpn, newPPN)
	}

	if err := c.pool.MoveUsedTransBlockToFree(pbn); err != nil {
		return fmt.Errorf("gc: free translation block %d: %w", pbn, err)
	}
	c.area.EraseBlock(pbn)
	if _, err := c.backend.EraseBlock(ctx, pbn, flashio.TagTransClean); err != nil {
		return fmt.Errorf("gc: erase translation block %d: %w", pbn, err)
	}
	return nil
}
