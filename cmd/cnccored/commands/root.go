package commands

import (
	"github.com/spf13/cobra"

	"github.com/cncjs/cnc-core/internal/config"
)

var (
	// Global flags
	verbose  bool
	cfgDir   string

	// Global configuration (loaded at init time)
	globalConfig *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "cnccored",
	Short: "CNC firmware control daemon",
	Long: `cnccored bridges a browser/desktop client to a CNC controller board
(Grbl, Smoothieware, TinyG/g2core, or Marlin) over serial or TCP, streaming
G-code programs under the firmware's own flow-control protocol and relaying
ad-hoc jog/console commands in between.

Configuration is stored in the OS config directory:
  macOS:   ~/Library/Application Support/cnccored/
  Linux:   ~/.config/cnccored/
  Windows: %AppData%/cnccored/`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&cfgDir, "config-dir", "", "override the configuration directory")
}

// configLoadErr stores the error from loading config for deferred reporting.
var configLoadErr error

func initConfig() {
	var cfg *config.Config
	var err error
	if cfgDir != "" {
		cfg, err = config.LoadFrom(cfgDir)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		configLoadErr = err
		return
	}
	globalConfig = cfg
}

// GetConfig returns the global configuration, loading it again if init
// hasn't run yet (e.g. under `go test`).
func GetConfig() (*config.Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}
	if configLoadErr != nil {
		return nil, configLoadErr
	}
	initConfig()
	if configLoadErr != nil {
		return nil, configLoadErr
	}
	return globalConfig, nil
}

// IsVerbose returns whether verbose mode is enabled.
func IsVerbose() bool { return verbose }
