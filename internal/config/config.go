// Package config handles toolkit configuration loading and management.
package config

import "path/filepath"

// Config holds all toolkit settings.
type Config struct {
	NAND    NANDConfig    `yaml:"nand"`
	Library LibraryConfig `yaml:"library"`
	Blob    BlobConfig    `yaml:"blob"`
	Logging LoggingConfig `yaml:"logging"`
}

// NANDConfig holds the emulated NAND location.
type NANDConfig struct {
	Root string `yaml:"root"` // Root directory of the emulated NAND tree
}

// LibraryConfig holds game library scan settings.
type LibraryConfig struct {
	Dirs      []string `yaml:"dirs"`       // Directories scanned for game files
	CacheFile string   `yaml:"cache_file"` // Scan cache location
}

// BlobConfig holds compression defaults.
type BlobConfig struct {
	BlockSize uint32 `yaml:"block_size"` // Uncompressed bytes per block
	Method    string `yaml:"method"`     // "deflate" or "lz4"
	Workers   int    `yaml:"workers"`    // 0 = number of CPUs
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		NAND: NANDConfig{
			Root: filepath.Join(ConfigDir(), "nand"),
		},
		Library: LibraryConfig{
			Dirs:      nil,
			CacheFile: filepath.Join(ConfigDir(), "library.yaml"),
		},
		Blob: BlobConfig{
			BlockSize: 16384,
			Method:    "deflate",
			Workers:   0,
		},
		Logging: LoggingConfig{
			Level:   "info",
			LogFile: "",
		},
	}
}
