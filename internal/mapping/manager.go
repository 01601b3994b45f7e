package mapping

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dftlsim/dftl/internal/blockpool"
	"github.com/dftlsim/dftl/internal/cmt"
	"github.com/dftlsim/dftl/internal/flashio"
	"github.com/dftlsim/dftl/internal/geometry"
	"github.com/dftlsim/dftl/internal/logging"
	"github.com/dftlsim/dftl/internal/oob"
)

// Manager is the supervisor of all mapping state: it owns the GMT, the
// GTD, and the CMT, and provides the higher-level translate/evict/update
// operations the request pipeline and garbage collector call.
type Manager struct {
	geo       geometry.Geometry
	backend   flashio.Backend
	oob       *oob.Area
	block     *blockpool.DevicePool
	log       zerolog.Logger

	gmt       *GlobalMappingTable
	directory *TranslationDirectory
	cache     *cmt.Table
}

// New creates a Manager. splitRatio is the CMT's protected-segment share
// (0 selects the default of 0.5).
func New(geo geometry.Geometry, backend flashio.Backend, area *oob.Area, block *blockpool.DevicePool, maxCMTEntries int, splitRatio float64, log zerolog.Logger) *Manager {
	return &Manager{
		geo:       geo,
		backend:   backend,
		oob:       area,
		block:     block,
		log:       log,
		gmt:       NewGlobalMappingTable(),
		directory: NewTranslationDirectory(),
		cache:     cmt.New(maxCMTEntries, splitRatio),
	}
}

// CMT exposes the cached mapping table to callers that need to inspect it
// directly.
func (m *Manager) CMT() *cmt.Table { return m.cache }

// Directory exposes the GTD for callers that need M_VPN -> M_PPN lookups
// outside the normal translate/update paths (GC's translation-block
// cleaning).
func (m *Manager) Directory() *TranslationDirectory { return m.directory }

// Initialize formats the Global Translation Directory: every M_VPN in
// [0, total_translation_pages) is assigned a translation PPN from the
// block pool. No flash I/O is issued — the GTD is assumed
// vendor-initialized.
func (m *Manager) Initialize() error {
	total := m.geo.TotalTranslationPages()
	for i := 0; i < total; i++ {
		mvpn := geometry.MVPN(i)
		mppn, err := m.block.NextPageToProgram(blockpool.TransWrite)
		if err != nil {
			return fmt.Errorf("mapping: format m_vpn %d: %w", mvpn, err)
		}
		if err := m.directory.AddMapping(mvpn, mppn); err != nil {
			return err
		}
		m.oob.NewWrite(int64(mvpn), geometry.UNINITIATED, mppn)
	}
	return nil
}

// TranslateForRead resolves each LPN to its current PPN (or UNINITIATED),
// loading missing mappings into the CMT as needed.
func (m *Manager) TranslateForRead(ctx context.Context, lpns []geometry.LPN) ([]geometry.PPN, error) {
	ppns := make([]geometry.PPN, len(lpns))
	for i, lpn := range lpns {
		ppn, err := m.resolve(ctx, lpn)
		if err != nil {
			return nil, err
		}
		ppns[i] = ppn
	}
	return ppns, nil
}

// TranslateForWrite allocates a fresh data PPN for each LPN, overwrites the
// CMT entry as dirty, and updates the OOB reverse map and timestamp.
func (m *Manager) TranslateForWrite(ctx context.Context, lpns []geometry.LPN) ([]geometry.PPN, error) {
	ppns := make([]geometry.PPN, len(lpns))
	for i, lpn := range lpns {
		oldPPN, err := m.resolve(ctx, lpn)
		if err != nil {
			return nil, err
		}
		newPPN, err := m.block.NextPageToProgram(blockpool.DataWrite)
		if err != nil {
			return nil, fmt.Errorf("mapping: allocate data page for lpn %d: %w", lpn, err)
		}
		if err := m.cache.Overwrite(lpn, newPPN, true); err != nil {
			return nil, fmt.Errorf("mapping: overwrite cmt for lpn %d: %w", lpn, err)
		}
		m.oob.NewLBAWrite(int64(lpn), oldPPN, newPPN)
		ppns[i] = newPPN
	}
	return ppns, nil
}

// Discard resolves lpn's current mapping; if it was ever written, it marks
// the CMT entry UNINITIATED (dirty) and invalidates the old PPN in OOB.
func (m *Manager) Discard(ctx context.Context, lpn geometry.LPN) error {
	ppn, err := m.resolve(ctx, lpn)
	if err != nil {
		return err
	}
	if ppn == geometry.UNINITIATED {
		return nil
	}
	if err := m.cache.Overwrite(lpn, geometry.UNINITIATED, true); err != nil {
		return fmt.Errorf("mapping: discard overwrite lpn %d: %w", lpn, err)
	}
	m.oob.Invalidate(ppn)
	return nil
}

// UpdateEntry repoints lpn at newPPN everywhere: the CMT (if cached, marked
// clean since flash will be consistent), and the on-flash translation page
// via a batched rewrite. It is the single-LPN counterpart of
// GCUpdateMappings, which is the path the garbage collector calls.
func (m *Manager) UpdateEntry(ctx context.Context, lpn geometry.LPN, newPPN geometry.PPN, kind blockpool.AllocKind, tag flashio.Tag) error {
	if _, hit := m.cache.Peek(lpn); hit {
		if err := m.cache.Overwrite(lpn, newPPN, false); err != nil {
			return err
		}
	}

	mvpn := m.geo.MVPNOfLPN(lpn)
	batch := m.dirtyEntriesOfTranslationPage(mvpn)

	newMappings := map[geometry.LPN]geometry.PPN{lpn: newPPN}
	for _, e := range batch {
		newMappings[e.LPN] = e.PPN
	}

	if err := m.UpdateTranslationPageOnFlash(ctx, mvpn, newMappings, kind, tag); err != nil {
		return err
	}
	for _, e := range batch {
		if err := m.cache.Overwrite(e.LPN, e.PPN, false); err != nil {
			return err
		}
	}
	return nil
}

// GCUpdateMappings folds a garbage collector's page-move results for a
// single translation page into the cache and, if necessary, flash: every
// moved LPN that is cached gets its entry overwritten to (newPPN,
// dirty=true); if any moved LPN is *not* cached, one translation-page
// rewrite is issued for the whole group and the cached entries it covers
// are marked clean, since flash is now consistent for them. Groups that are
// entirely cache-resident are left dirty, to be written back by the normal
// eviction path later.
func (m *Manager) GCUpdateMappings(ctx context.Context, mvpn geometry.MVPN, mappings map[geometry.LPN]geometry.PPN, kind blockpool.AllocKind, tag flashio.Tag) error {
	anyUncached := false
	for lpn, ppn := range mappings {
		if _, hit := m.cache.Peek(lpn); hit {
			if err := m.cache.Overwrite(lpn, ppn, true); err != nil {
				return err
			}
		} else {
			anyUncached = true
		}
	}

	if !anyUncached {
		return nil
	}

	if err := m.UpdateTranslationPageOnFlash(ctx, mvpn, mappings, kind, tag); err != nil {
		return err
	}

	for lpn, ppn := range mappings {
		if _, hit := m.cache.Peek(lpn); hit {
			if err := m.cache.Overwrite(lpn, ppn, false); err != nil {
				return err
			}
		}
	}
	return nil
}

// resolve is the internal lpn_to_ppn: cache hit returns immediately,
// otherwise it evicts down to below capacity and loads the mapping from
// flash.
func (m *Manager) resolve(ctx context.Context, lpn geometry.LPN) (geometry.PPN, error) {
	if e, hit := m.cache.Get(lpn); hit {
		return e.PPN, nil
	}

	for m.cache.IsFull() {
		if err := m.evictOne(ctx); err != nil {
			return 0, err
		}
	}

	return m.loadMappingEntryToCache(ctx, lpn)
}

// loadMappingEntryToCache reads lpn's translation page from flash (purely
// for the accounting — we don't model the page's byte contents) and
// inserts the resolved mapping into the CMT as clean.
func (m *Manager) loadMappingEntryToCache(ctx context.Context, lpn geometry.LPN) (geometry.PPN, error) {
	mvpn := m.geo.MVPNOfLPN(lpn)
	mppn, ok := m.directory.Lookup(mvpn)
	if !ok {
		return 0, ErrNoDirectoryEntry
	}

	if _, err := m.backend.ReadPage(ctx, mppn, flashio.TagTransCache); err != nil {
		return 0, fmt.Errorf("mapping: read translation page for lpn %d: %w", lpn, err)
	}

	ppn, _ := m.gmt.Lookup(lpn) // UNINITIATED if lpn was never written
	if err := m.cache.Insert(lpn, ppn, false); err != nil {
		return 0, fmt.Errorf("mapping: insert cmt entry for lpn %d: %w", lpn, err)
	}
	logging.WithPPN(logging.WithLPN(m.log, int64(lpn)), int64(ppn)).Debug().Msg("cmt miss loaded")
	return ppn, nil
}

// evictOne selects the SLRU victim, batch-writes back its dirty siblings
// if it is dirty, and removes only the victim itself.
func (m *Manager) evictOne(ctx context.Context) error {
	victim, ok := m.cache.Victim()
	if !ok {
		return nil // nothing to evict; IsFull() guard should prevent this
	}

	if victim.Dirty {
		mvpn := m.geo.MVPNOfLPN(victim.LPN)
		if err := m.batchWriteBack(ctx, mvpn); err != nil {
			return err
		}
	}

	m.cache.Remove(victim.LPN)
	return nil
}

// batchWriteBack folds every currently-dirty CMT entry sharing m_vpn into a
// single translation-page rewrite, then clears their dirty bits.
func (m *Manager) batchWriteBack(ctx context.Context, mvpn geometry.MVPN) error {
	batch := m.dirtyEntriesOfTranslationPage(mvpn)

	newMappings := make(map[geometry.LPN]geometry.PPN, len(batch))
	for _, e := range batch {
		newMappings[e.LPN] = e.PPN
	}

	if err := m.UpdateTranslationPageOnFlash(ctx, mvpn, newMappings, blockpool.TransWrite, flashio.TagTransCache); err != nil {
		return err
	}

	for _, e := range batch {
		if err := m.cache.Overwrite(e.LPN, e.PPN, false); err != nil {
			return err
		}
	}
	return nil
}

// dirtyEntriesOfTranslationPage returns every currently-dirty CMT entry
// whose LPN falls under mvpn.
func (m *Manager) dirtyEntriesOfTranslationPage(mvpn geometry.MVPN) []cmt.Entry {
	var out []cmt.Entry
	for _, e := range m.cache.Entries() {
		if e.Dirty && m.geo.MVPNOfLPN(e.LPN) == mvpn {
			out = append(out, e)
		}
	}
	return out
}

// UpdateTranslationPageOnFlash replaces the mappings named by newMappings
// within translation page m_vpn. It reads the old page first unless
// newMappings already covers every entry in it, allocates a fresh M_PPN via
// the write stream named by kind, writes it, updates the (in-memory) GMT,
// OOB, and GTD.
func (m *Manager) UpdateTranslationPageOnFlash(ctx context.Context, mvpn geometry.MVPN, newMappings map[geometry.LPN]geometry.PPN, kind blockpool.AllocKind, tag flashio.Tag) error {
	oldMPPN, ok := m.directory.Lookup(mvpn)
	if !ok {
		return ErrNoDirectoryEntry
	}

	if len(newMappings) < m.geo.EntriesPerTransPage {
		if _, err := m.backend.ReadPage(ctx, oldMPPN, tag); err != nil {
			return fmt.Errorf("mapping: read old translation page for m_vpn %d: %w", mvpn, err)
		}
	}

	newMPPN, err := m.block.NextPageToProgram(kind)
	if err != nil {
		return fmt.Errorf("mapping: allocate translation page for m_vpn %d: %w", mvpn, err)
	}

	if _, err := m.backend.WritePage(ctx, newMPPN, tag); err != nil {
		return fmt.Errorf("mapping: write translation page for m_vpn %d: %w", mvpn, err)
	}

	for lpn, ppn := range newMappings {
		m.gmt.Update(lpn, ppn)
	}

	m.oob.NewWrite(int64(mvpn), oldMPPN, newMPPN)
	m.directory.UpdateMapping(mvpn, newMPPN)

	logging.WithTag(logging.WithPPN(m.log, int64(newMPPN)), string(tag)).Debug().
		Int("m_vpn", int(mvpn)).Int64("old_m_ppn", int64(oldMPPN)).Int("entries", len(newMappings)).
		Msg("translation page rewritten")
	return nil
}
