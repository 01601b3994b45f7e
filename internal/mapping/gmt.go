// Package mapping coordinates the Global Mapping Table (GMT), the Global
// Translation Directory (GTD), and the Cached Mapping Table (CMT) into the
// single public contract the request pipeline and garbage collector use to
// translate and update LPN -> PPN mappings.
package mapping

import "github.com/dftlsim/dftl/internal/geometry"

// GlobalMappingTable is the conceptual on-flash LPN -> PPN map for data
// pages. It is modeled in memory; no flash I/O is spent maintaining it
// directly — only translation-page reads/writes are charged.
type GlobalMappingTable struct {
	entries map[geometry.LPN]geometry.PPN
}

// NewGlobalMappingTable creates an empty GMT.
func NewGlobalMappingTable() *GlobalMappingTable {
	return &GlobalMappingTable{entries: make(map[geometry.LPN]geometry.PPN)}
}

// Lookup returns the PPN mapped to lpn, or (UNINITIATED, false) if lpn was
// never written.
func (g *GlobalMappingTable) Lookup(lpn geometry.LPN) (geometry.PPN, bool) {
	ppn, ok := g.entries[lpn]
	if !ok {
		return geometry.UNINITIATED, false
	}
	return ppn, true
}

// Update records lpn -> ppn.
func (g *GlobalMappingTable) Update(lpn geometry.LPN, ppn geometry.PPN) {
	g.entries[lpn] = ppn
}

// TranslationDirectory is the Global Translation Directory: an in-memory,
// total mapping from every M_VPN to the M_PPN currently holding it.
type TranslationDirectory struct {
	mapping map[geometry.MVPN]geometry.PPN
}

// NewTranslationDirectory creates an empty directory.
func NewTranslationDirectory() *TranslationDirectory {
	return &TranslationDirectory{mapping: make(map[geometry.MVPN]geometry.PPN)}
}

// Lookup returns the M_PPN currently holding m_vpn.
func (d *TranslationDirectory) Lookup(mvpn geometry.MVPN) (geometry.PPN, bool) {
	ppn, ok := d.mapping[mvpn]
	return ppn, ok
}

// AddMapping registers a brand-new m_vpn -> m_ppn entry. It is an
// invariant violation to add an m_vpn that already has an entry.
func (d *TranslationDirectory) AddMapping(mvpn geometry.MVPN, mppn geometry.PPN) error {
	if _, exists := d.mapping[mvpn]; exists {
		return ErrDirectoryEntryExists
	}
	d.mapping[mvpn] = mppn
	return nil
}

// UpdateMapping repoints an existing (or new) m_vpn at mppn.
func (d *TranslationDirectory) UpdateMapping(mvpn geometry.MVPN, mppn geometry.PPN) {
	d.mapping[mvpn] = mppn
}
