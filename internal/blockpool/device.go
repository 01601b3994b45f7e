package blockpool

import "github.com/dftlsim/dftl/internal/geometry"

// DevicePool stripes allocations across channel pools round-robin.
type DevicePool struct {
	geo      geometry.Geometry
	channels []*ChannelPool
	cur      int
}

// NewDevicePool creates one ChannelPool per channel named by geo.
func NewDevicePool(geo geometry.Geometry) *DevicePool {
	dp := &DevicePool{geo: geo, channels: make([]*ChannelPool, geo.Channels)}
	for i := range dp.channels {
		dp.channels[i] = NewChannelPool(geo, i)
	}
	return dp
}

// Channel returns the pool for a given channel index (for GC / testing).
func (dp *DevicePool) Channel(i int) *ChannelPool { return dp.channels[i] }

// NChannels returns the number of channels.
func (dp *DevicePool) NChannels() int { return len(dp.channels) }

// NextPageToProgram allocates the next PPN for kind, rotating the starting
// channel on every call regardless of success so successive allocations
// stripe across channels, and only failing with ErrOutOfSpace once every
// channel has been tried.
func (dp *DevicePool) NextPageToProgram(kind AllocKind) (geometry.PPN, error) {
	n := len(dp.channels)
	for tries := 0; tries < n; tries++ {
		ch := dp.cur
		dp.cur = (dp.cur + 1) % n
		pageOff, err := dp.channels[ch].NextPageToProgram(kind)
		if err == nil {
			return dp.geo.ChannelPageToPage(ch, pageOff), nil
		}
		if err != ErrOutOfSpace {
			return 0, err
		}
	}
	return 0, ErrOutOfSpace
}

// MoveUsedDataBlockToFree returns a device-global data block to its
// channel's free list.
func (dp *DevicePool) MoveUsedDataBlockToFree(block geometry.PBN) error {
	ch, off := dp.geo.BlockToChannelBlock(block)
	return dp.channels[ch].MoveUsedDataBlockToFree(off)
}

// MoveUsedTransBlockToFree returns a device-global translation block to
// its channel's free list.
func (dp *DevicePool) MoveUsedTransBlockToFree(block geometry.PBN) error {
	ch, off := dp.geo.BlockToChannelBlock(block)
	return dp.channels[ch].MoveUsedTransBlockToFree(off)
}

// TotalUsedBlocks sums used blocks across all channels.
func (dp *DevicePool) TotalUsedBlocks() int {
	total := 0
	for _, ch := range dp.channels {
		total += ch.TotalUsedBlocks()
	}
	return total
}

// NumFreeBlocks sums free blocks across all channels.
func (dp *DevicePool) NumFreeBlocks() int {
	total := 0
	for _, ch := range dp.channels {
		total += ch.NumFreeBlocks()
	}
	return total
}

// UsedRatio is the fraction of all device blocks currently used.
func (dp *DevicePool) UsedRatio() float64 {
	return float64(dp.TotalUsedBlocks()) / float64(dp.geo.BlocksPerDevice)
}

// CurrentBlocks returns the device-global block numbers every cursor
// currently points into (used by GC to exclude in-flight blocks from
// victim selection).
func (dp *DevicePool) CurrentBlocks() map[geometry.PBN]struct{} {
	out := make(map[geometry.PBN]struct{})
	for chIdx, ch := range dp.channels {
		for kind := AllocKind(0); kind < 4; kind++ {
			if blockOff, ok := ch.CurrentBlock(kind); ok {
				out[dp.geo.ChannelBlockToBlock(chIdx, blockOff)] = struct{}{}
			}
		}
	}
	return out
}

// DataUsedBlocks returns every device-global data-used block number.
func (dp *DevicePool) DataUsedBlocks() []geometry.PBN {
	return dp.globalUsed(func(cp *ChannelPool) []int { return cp.DataUsedBlocks() })
}

// TransUsedBlocks returns every device-global translation-used block
// number.
func (dp *DevicePool) TransUsedBlocks() []geometry.PBN {
	return dp.globalUsed(func(cp *ChannelPool) []int { return cp.TransUsedBlocks() })
}

func (dp *DevicePool) globalUsed(list func(*ChannelPool) []int) []geometry.PBN {
	var out []geometry.PBN
	for chIdx, ch := range dp.channels {
		for _, off := range list(ch) {
			out = append(out, dp.geo.ChannelBlockToBlock(chIdx, off))
		}
	}
	return out
}
