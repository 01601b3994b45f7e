// Package config loads and validates the YAML configuration recognized by
// cmd/dftlsim.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dftlsim/dftl/internal/geometry"
)

// FlashConfig describes the simulated device geometry.
type FlashConfig struct {
	NChannelsPerDev  int `yaml:"n_channels_per_dev"`
	NBlocksPerChannel int `yaml:"n_blocks_per_channel"`
	NPagesPerBlock   int `yaml:"n_pages_per_block"`
	PageSize         int `yaml:"page_size"`
	SectorSize       int `yaml:"sector_size"`
}

// DFTL describes the mapping manager and GC tuning knobs.
type DFTL struct {
	MaxCMTBytes             int64   `yaml:"max_cmt_bytes"`
	GlobalMappingEntryBytes int     `yaml:"global_mapping_entry_bytes"`
	OverProvisioning        float64 `yaml:"over_provisioning"`
	GCThresholdRatio        float64 `yaml:"gc_threshold_ratio"`
	GCLowThresholdRatio     float64 `yaml:"gc_low_threshold_ratio"`
}

// Config is the full recognized configuration surface.
type Config struct {
	FlashConfig          FlashConfig `yaml:"flash_config"`
	DFTL                 DFTL        `yaml:"dftl"`
	RecordBadVictimBlock bool        `yaml:"record_bad_victim_block"`
}

// Default returns a small but complete configuration suitable for the
// cmd/dftlsim demo and as a test fixture baseline.
func Default() Config {
	return Config{
		FlashConfig: FlashConfig{
			NChannelsPerDev:   4,
			NBlocksPerChannel: 64,
			NPagesPerBlock:    64,
			PageSize:          4096,
			SectorSize:        512,
		},
		DFTL: DFTL{
			MaxCMTBytes:             1 << 16,
			GlobalMappingEntryBytes: 8,
			OverProvisioning:        1.25,
			GCThresholdRatio:        0.9,
			GCLowThresholdRatio:     0.8,
		},
		RecordBadVictimBlock: false,
	}
}

// Load reads and parses a YAML config file, then validates it.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects nonsensical geometry and tuning values before they reach
// geometry.New or gc.NewDecider.
func (c Config) Validate() error {
	switch {
	case c.FlashConfig.NChannelsPerDev <= 0:
		return fmt.Errorf("flash_config.n_channels_per_dev must be positive")
	case c.FlashConfig.NBlocksPerChannel <= 0:
		return fmt.Errorf("flash_config.n_blocks_per_channel must be positive")
	case c.FlashConfig.NPagesPerBlock <= 0:
		return fmt.Errorf("flash_config.n_pages_per_block must be positive")
	case c.FlashConfig.PageSize <= 0:
		return fmt.Errorf("flash_config.page_size must be positive")
	case c.FlashConfig.SectorSize <= 0:
		return fmt.Errorf("flash_config.sector_size must be positive")
	case c.DFTL.GlobalMappingEntryBytes <= 0:
		return fmt.Errorf("dftl.global_mapping_entry_bytes must be positive")
	case c.FlashConfig.PageSize/c.DFTL.GlobalMappingEntryBytes <= 0:
		return fmt.Errorf("dftl.global_mapping_entry_bytes %d too large for page_size %d", c.DFTL.GlobalMappingEntryBytes, c.FlashConfig.PageSize)
	case c.DFTL.MaxCMTBytes <= 0:
		return fmt.Errorf("dftl.max_cmt_bytes must be positive")
	case c.DFTL.OverProvisioning < 1.0:
		return fmt.Errorf("dftl.over_provisioning must be >= 1.0")
	}
	return nil
}

// Geometry derives the device geometry this config describes.
func (c Config) Geometry() (geometry.Geometry, error) {
	return geometry.New(
		c.FlashConfig.PageSize,
		c.FlashConfig.NPagesPerBlock,
		c.FlashConfig.NBlocksPerChannel,
		c.FlashConfig.NChannelsPerDev,
		c.DFTL.GlobalMappingEntryBytes,
		c.FlashConfig.SectorSize,
	)
}

// CMTEntryBytes is the fixed size of one cached mapping entry (LPN + PPN +
// dirty bit, rounded up), used to derive the CMT's entry cap from
// max_cmt_bytes.
const CMTEntryBytes = 8

// MaxCMTEntries derives the CMT's entry cap from max_cmt_bytes.
func (c Config) MaxCMTEntries() int {
	n := int(c.DFTL.MaxCMTBytes / CMTEntryBytes)
	if n < 1 {
		n = 1
	}
	return n
}
