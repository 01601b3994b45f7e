// Package geometry derives the fixed device-layout constants that every
// other DFTL package builds addresses from: pages per block, blocks per
// channel, channels per device, and how many mapping entries fit in a
// single translation page.
package geometry

import "fmt"

// LPN is a logical page number, host-visible and dense from 0.
type LPN int64

// PPN is a physical page number, device-global.
type PPN int64

// PBN is a physical block number, device-global.
type PBN int64

// MVPN is a virtual translation-page number.
type MVPN int64

// MPPN is the physical page number currently holding a translation page.
type MPPN = PPN

// UNINITIATED is the sentinel PPN meaning "this LPN was never written".
const UNINITIATED PPN = -1

// Geometry holds the fixed, derived constants for a flash device.
type Geometry struct {
	PageSize              int
	PagesPerBlock         int
	BlocksPerChannel      int
	Channels              int
	MappingEntryBytes     int
	EntriesPerTransPage   int
	PagesPerChannel       int
	BlocksPerDevice       int
	PagesPerDevice        int
	SectorSize            int
	SectorsPerPage        int
}

// New validates raw configuration values and derives the rest of the
// geometry.
func New(pageSize, pagesPerBlock, blocksPerChannel, channels, mappingEntryBytes, sectorSize int) (Geometry, error) {
	switch {
	case pageSize <= 0:
		return Geometry{}, fmt.Errorf("geometry: page_size must be positive, got %d", pageSize)
	case pagesPerBlock <= 0:
		return Geometry{}, fmt.Errorf("geometry: pages_per_block must be positive, got %d", pagesPerBlock)
	case blocksPerChannel <= 0:
		return Geometry{}, fmt.Errorf("geometry: blocks_per_channel must be positive, got %d", blocksPerChannel)
	case channels <= 0:
		return Geometry{}, fmt.Errorf("geometry: channels must be positive, got %d", channels)
	case mappingEntryBytes <= 0:
		return Geometry{}, fmt.Errorf("geometry: mapping_entry_bytes must be positive, got %d", mappingEntryBytes)
	case sectorSize <= 0:
		return Geometry{}, fmt.Errorf("geometry: sector_size must be positive, got %d", sectorSize)
	}

	entriesPerTransPage := pageSize / mappingEntryBytes
	if entriesPerTransPage <= 0 {
		return Geometry{}, fmt.Errorf("geometry: page_size %d too small for mapping_entry_bytes %d", pageSize, mappingEntryBytes)
	}

	pagesPerChannel := pagesPerBlock * blocksPerChannel
	blocksPerDevice := blocksPerChannel * channels
	pagesPerDevice := pagesPerChannel * channels

	return Geometry{
		PageSize:            pageSize,
		PagesPerBlock:       pagesPerBlock,
		BlocksPerChannel:    blocksPerChannel,
		Channels:            channels,
		MappingEntryBytes:   mappingEntryBytes,
		EntriesPerTransPage: entriesPerTransPage,
		PagesPerChannel:     pagesPerChannel,
		BlocksPerDevice:     blocksPerDevice,
		PagesPerDevice:      pagesPerDevice,
		SectorSize:          sectorSize,
		SectorsPerPage:      pageSize / sectorSize,
	}, nil
}

// PageToBlockOff splits a device-global PPN into its PBN and in-block offset.
func (g Geometry) PageToBlockOff(ppn PPN) (PBN, int) {
	block := int64(ppn) / int64(g.PagesPerBlock)
	off := int64(ppn) % int64(g.PagesPerBlock)
	return PBN(block), int(off)
}

// BlockOffToPage computes the PPN at the given offset inside a block.
func (g Geometry) BlockOffToPage(block PBN, off int) PPN {
	return PPN(int64(block)*int64(g.PagesPerBlock) + int64(off))
}

// BlockToPageRange returns the half-open PPN range [start, end) of a block.
func (g Geometry) BlockToPageRange(block PBN) (PPN, PPN) {
	start := g.BlockOffToPage(block, 0)
	return start, start + PPN(g.PagesPerBlock)
}

// PageToChannelPage splits a device-global PPN into its channel and the
// page offset within that channel.
func (g Geometry) PageToChannelPage(ppn PPN) (channel int, pageOff int) {
	return int(int64(ppn) / int64(g.PagesPerChannel)), int(int64(ppn) % int64(g.PagesPerChannel))
}

// ChannelPageToPage is the inverse of PageToChannelPage.
func (g Geometry) ChannelPageToPage(channel, pageOff int) PPN {
	return PPN(int64(channel)*int64(g.PagesPerChannel) + int64(pageOff))
}

// BlockToChannelBlock splits a device-global PBN into its channel and the
// block offset within that channel.
func (g Geometry) BlockToChannelBlock(block PBN) (channel int, blockOff int) {
	return int(int64(block) / int64(g.BlocksPerChannel)), int(int64(block) % int64(g.BlocksPerChannel))
}

// ChannelBlockToBlock is the inverse of BlockToChannelBlock.
func (g Geometry) ChannelBlockToBlock(channel, blockOff int) PBN {
	return PBN(int64(channel)*int64(g.BlocksPerChannel) + int64(blockOff))
}

// MVPNOfLPN returns the virtual translation page that holds lpn's mapping.
func (g Geometry) MVPNOfLPN(lpn LPN) MVPN {
	return MVPN(int64(lpn) / int64(g.EntriesPerTransPage))
}

// LPNRangeOfMVPN returns the LPNs covered by a virtual translation page.
func (g Geometry) LPNRangeOfMVPN(mvpn MVPN) []LPN {
	start := int64(mvpn) * int64(g.EntriesPerTransPage)
	lpns := make([]LPN, g.EntriesPerTransPage)
	for i := range lpns {
		lpns[i] = LPN(start + int64(i))
	}
	return lpns
}

// SectorExtentToPageExtent aligns a byte-addressed [offsetByte, offsetByte+sizeByte)
// request down/up to a page-aligned LPN range.
func (g Geometry) SectorExtentToPageExtent(offsetByte, sizeByte uint64) (start LPN, count int) {
	pageSize := uint64(g.PageSize)
	startPage := offsetByte / pageSize
	endByte := offsetByte + sizeByte
	endPage := (endByte + pageSize - 1) / pageSize
	if endPage <= startPage {
		endPage = startPage + 1
	}
	return LPN(startPage), int(endPage - startPage)
}

// TotalTranslationPages computes how many translation pages are needed to
// hold the mapping for every LPN on the device.
func (g Geometry) TotalTranslationPages() int {
	totalEntries := g.PagesPerDevice
	entryBytes := g.MappingEntryBytes
	return (totalEntries*entryBytes + g.PageSize - 1) / g.PageSize
}
