package config

import (
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/evanofslack/dnsup/internal/logger"
)

// Flags holds the command line. Only flags that were set override the file
// and the environment.
type Flags struct {
	ConfigPath string

	Protocol string
	Login    string
	Password string
	Server   string
	Zone     string
	Host     string
	TTL      int
	IP       string

	Cache        string
	StateBackend string

	Test    bool
	Force   bool
	Verbose bool
	Debug   bool
	Quiet   bool

	Use string
	If  string
	Cmd string
	Web string

	MinInterval      string
	MaxInterval      string
	MinErrorInterval string
	Daemon           string
	MetricsAddr      string

	Version bool

	set map[string]bool
}

func ParseFlags(args []string, output io.Writer) (*Flags, error) {
	f := &Flags{}
	fs := flag.NewFlagSet(AppName, flag.ContinueOnError)
	fs.SetOutput(output)

	fs.StringVar(&f.ConfigPath, "config", DefaultPath, "configuration file (.yaml/.yml or ddclient format)")
	fs.StringVar(&f.ConfigPath, "file", DefaultPath, "alias for -config")
	fs.StringVar(&f.Protocol, "protocol", "", "dns protocol/provider (dyndns2, cloudflare, namecheap, ...)")
	fs.StringVar(&f.Login, "login", "", "login or user name")
	fs.StringVar(&f.Password, "password", "", "password, token or key; \"-\" prompts on the terminal")
	fs.StringVar(&f.Server, "server", "", "provider server url")
	fs.StringVar(&f.Zone, "zone", "", "dns zone, e.g. example.com")
	fs.StringVar(&f.Host, "host", "", "host name(s) to update, comma separated")
	fs.IntVar(&f.TTL, "ttl", 0, "record ttl in seconds")
	fs.StringVar(&f.IP, "ip", "", "use this address instead of detecting it")
	fs.StringVar(&f.Cache, "cache", "", "state file path")
	fs.StringVar(&f.StateBackend, "state-backend", "", "state backend: file or badger")
	fs.BoolVar(&f.Test, "test", false, "show what would be updated without updating")
	fs.BoolVar(&f.Force, "force", false, "update even if the address is unchanged")
	fs.BoolVar(&f.Verbose, "verbose", false, "verbose output")
	fs.BoolVar(&f.Debug, "debug", false, "debug output")
	fs.BoolVar(&f.Quiet, "quiet", false, "only print errors")
	fs.StringVar(&f.Use, "use", "", "address detection method: ip, web, if or cmd")
	fs.StringVar(&f.If, "if", "", "interface for -use=if")
	fs.StringVar(&f.Cmd, "cmd", "", "command for -use=cmd")
	fs.StringVar(&f.Web, "web", "", "url for -use=web")
	fs.StringVar(&f.MinInterval, "min-interval", "", "minimum time between updates, e.g. 30s, 5m")
	fs.StringVar(&f.MaxInterval, "max-interval", "", "force an update after this long, e.g. 25d")
	fs.StringVar(&f.MinErrorInterval, "min-error-interval", "", "minimum time between attempts after a failure")
	fs.StringVar(&f.Daemon, "daemon", "", "run continuously at this interval")
	fs.StringVar(&f.MetricsAddr, "metrics-addr", "", "daemon metrics listen address")
	fs.BoolVar(&f.Version, "version", false, "show version")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	f.set = make(map[string]bool)
	fs.Visit(func(fl *flag.Flag) { f.set[fl.Name] = true })
	if f.set["file"] {
		f.set["config"] = true
	}
	return f, nil
}

func (f *Flags) IsSet(name string) bool { return f.set[name] }

// Apply merges the flags over cfg. -host replaces the targets with a single
// target based on the first configured one.
func (f *Flags) Apply(cfg *Config) error {
	if f.IsSet("host") {
		base := Target{Protocol: defaultProtocol}
		if len(cfg.Targets) > 0 {
			base = cfg.Targets[0]
		}
		base.Hosts = splitList(f.Host)
		cfg.Targets = []Target{base}
	}

	for i := range cfg.Targets {
		t := &cfg.Targets[i]
		if f.IsSet("protocol") {
			t.Protocol = f.Protocol
		}
		if f.IsSet("login") {
			t.Login = f.Login
		}
		if f.IsSet("password") {
			t.Password = f.Password
		}
		if f.IsSet("server") {
			t.Server = f.Server
		}
		if f.IsSet("zone") {
			t.Zone = f.Zone
		}
		if f.IsSet("ttl") {
			t.TTL = f.TTL
		}
	}

	if f.IsSet("ip") {
		cfg.IP = f.IP
	}
	if f.IsSet("cache") {
		cfg.State.Path = f.Cache
	}
	if f.IsSet("state-backend") {
		cfg.State.Backend = f.StateBackend
	}
	if f.Test {
		cfg.DryRun = true
	}
	if f.Force {
		cfg.Force = true
	}
	if f.IsSet("metrics-addr") {
		cfg.Daemon.MetricsAddr = f.MetricsAddr
	}

	durations := []struct {
		name  string
		value string
		dst   *Duration
	}{
		{"min-interval", f.MinInterval, &cfg.MinInterval},
		{"max-interval", f.MaxInterval, &cfg.MaxInterval},
		{"min-error-interval", f.MinErrorInterval, &cfg.MinErrorInterval},
		{"daemon", f.Daemon, &cfg.Daemon.Interval},
	}
	for _, d := range durations {
		if !f.IsSet(d.name) {
			continue
		}
		parsed, err := ParseDuration(d.value)
		if err != nil {
			return fmt.Errorf("-%s: %w", d.name, err)
		}
		*d.dst = Duration(parsed)
	}

	use := f.Use
	if use == "" {
		switch {
		case f.Web != "":
			use = "web"
		case f.If != "":
			use = "if"
		case f.Cmd != "":
			use = "cmd"
		}
	}
	if err := applyUse(cfg, use, f.Web, f.If, f.Cmd); err != nil {
		return fmt.Errorf("-use: %w", err)
	}

	if f.Quiet || f.Verbose || f.Debug || f.Test {
		cfg.Log.Level = logger.LevelFromFlags(f.Quiet, f.Verbose || f.Test, f.Debug, cfg.Log.Level)
	}
	return nil
}
