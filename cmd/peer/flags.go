package main

import (
	"os"

	"github.com/dkeye/patchroom/internal/config"
	"github.com/spf13/cobra"
)

// peerFlags override the config file for one run.
type peerFlags struct {
	configFile string
	name       string
	signalURL  string
	mode       string
	sections   int
	maxGuests  int
	logLevel   string
}

func (f *peerFlags) bind(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.StringVarP(&f.configFile, "config", "c", "", "config file (default config/config.$CONFIG_ENV.yaml)")
	pf.StringVarP(&f.name, "name", "n", "", "display name")
	pf.StringVar(&f.signalURL, "signal", "", "rendezvous websocket URL; discovered over mDNS when empty")
	pf.StringVar(&f.mode, "mode", "", "sync mode: batch or full")
	pf.IntVar(&f.sections, "sections", -1, "number of exclusive sections, 0 disables them")
	pf.IntVar(&f.maxGuests, "max-guests", 0, "guests the host accepts")
	pf.StringVar(&f.logLevel, "log-level", "", "log level")
}

func (f *peerFlags) load() (*config.Config, error) {
	config.InitLogger(os.Stderr)
	var (
		cfg *config.Config
		err error
	)
	if f.configFile != "" {
		cfg, err = config.LoadFile(f.configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if f.name != "" {
		cfg.Peer.Name = f.name
	}
	if f.signalURL != "" {
		cfg.Peer.SignalURL = f.signalURL
	}
	if f.mode != "" {
		cfg.Peer.SyncMode = f.mode
	}
	if f.sections >= 0 {
		cfg.Peer.Sections = f.sections
	}
	if f.maxGuests > 0 {
		cfg.Peer.MaxGuests = f.maxGuests
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	config.ApplyLogLevel(cfg.LogLevel)
	return cfg, nil
}
