package config

import "flag"

// Flags holds the subset of configuration overridable from the command line.
type Flags struct {
	DataDir     string
	LogLevel    string
	UIAddr      string
	ShowVersion bool

	// GenKey, when set, makes the daemon print a fresh demo mnemonic and
	// its first derived address instead of starting (see cmd/xbridged's
	// genkey.go).
	GenKey        bool
	GenKeyVersion uint
}

// ParseFlags parses os.Args-style arguments into Flags. A dedicated stdlib
// flag.FlagSet is used rather than a third-party CLI library: the daemon
// takes a handful of scalar overrides and nothing in the example pack reaches
// for a framework at that scale (see DESIGN.md).
func ParseFlags(args []string) (*Flags, error) {
	fs := flag.NewFlagSet("xbridged", flag.ContinueOnError)
	f := &Flags{}
	fs.StringVar(&f.DataDir, "datadir", "~/.xbridged", "data directory")
	fs.StringVar(&f.LogLevel, "loglevel", "", "override the configured log level")
	fs.StringVar(&f.UIAddr, "ui", "", "notification websocket address, overrides config")
	fs.BoolVar(&f.ShowVersion, "version", false, "show version and exit")
	fs.BoolVar(&f.GenKey, "genkey", false, "print a demo mnemonic and derived address, then exit")
	fs.UintVar(&f.GenKeyVersion, "genkey-version", 0, "P2PKH address version byte used by -genkey")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return f, nil
}

// Apply overlays non-empty flag overrides onto cfg.
func (f *Flags) Apply(cfg *Config) {
	if f.LogLevel != "" {
		cfg.Logging.Level = f.LogLevel
	}
	if f.UIAddr != "" {
		cfg.UI.ListenAddr = f.UIAddr
	}
}
