package main

import "github.com/gpufleet/gpuctl/internal/xdg"

// resolveDataDir honors --config as an override of the platform-default
// audit/agent data directory.
func resolveDataDir(flags *globalFlags) (string, error) {
	if flags.config != "" {
		return flags.config, nil
	}
	return xdg.DataDir()
}

// resolveConfigDir honors --config as an override of the platform-default
// Guard Mode / Rogue Detector config directory.
func resolveConfigDir(flags *globalFlags) (string, error) {
	if flags.config != "" {
		return flags.config, nil
	}
	return xdg.ConfigDir()
}
