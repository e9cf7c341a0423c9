package config

import "flag"

var (
	flagConfig  = flag.String("config", "", "Path to config file")
	flagDebug   = flag.Bool("debug", false, "Enable debug logging")
	flagNAND    = flag.String("nand", "", "Emulated NAND root directory")
	flagLogFile = flag.String("log-file", "", "Write logs to this file")
	flagWorkers = flag.Int("workers", 0, "Compression worker count (0 = CPUs)")
)

// ParseFlags parses command-line flags. Call this early in main().
func ParseFlags() {
	flag.Parse()
}

// ConfigPath returns the explicit config path if provided via --config flag.
func ConfigPath() string {
	return *flagConfig
}

// applyFlags applies CLI flag overrides to the config.
func applyFlags(cfg *Config) {
	if *flagDebug {
		cfg.Logging.Level = "debug"
	}
	if *flagNAND != "" {
		cfg.NAND.Root = *flagNAND
	}
	if *flagLogFile != "" {
		cfg.Logging.LogFile = *flagLogFile
	}
	if *flagWorkers > 0 {
		cfg.Blob.Workers = *flagWorkers
	}
}
