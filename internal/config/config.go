package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/idna"
	"gopkg.in/yaml.v3"

	"github.com/evanofslack/dnsup/internal/errs"
	"github.com/evanofslack/dnsup/internal/provider"
)

const (
	DefaultPath = "config.yaml"

	defaultProtocol        = "dyndns2"
	defaultConcurrency     = 4
	defaultResolverTimeout = 10 * time.Second
	defaultResolverTotal   = 30 * time.Second
	defaultProviderTimeout = 30 * time.Second
	defaultLogLevel        = "info"
	defaultLogEnv          = "prod"
	defaultStateBackend    = "file"
	defaultMetricsAddr     = ":9090"
	envPrefix              = "DNSUP_"
)

type Config struct {
	Targets []Target `yaml:"targets"`

	// IP overrides address resolution when set.
	IP               string   `yaml:"ip"`
	Force            bool     `yaml:"force"`
	DryRun           bool     `yaml:"dryRun"`
	MinInterval      Duration `yaml:"minInterval"`
	MaxInterval      Duration `yaml:"maxInterval"`
	MinErrorInterval Duration `yaml:"minErrorInterval"`
	Concurrency      int      `yaml:"concurrency"`
	UserAgent        string   `yaml:"userAgent"`
	ProviderTimeout  Duration `yaml:"providerTimeout"`

	Resolver Resolver `yaml:"resolver"`
	State    State    `yaml:"state"`
	Log      Log      `yaml:"log"`
	Daemon   Daemon   `yaml:"daemon"`
	Notify   Notify   `yaml:"notify"`

	// Path is the file the config was loaded from, empty when none existed.
	Path string `yaml:"-"`
}

type Target struct {
	Protocol string   `yaml:"protocol"`
	Login    string   `yaml:"login"`
	Password string   `yaml:"password"`
	Server   string   `yaml:"server"`
	Zone     string   `yaml:"zone"`
	Email    string   `yaml:"email"`
	TTL      int      `yaml:"ttl"`
	Hosts    []string `yaml:"hosts"`
	// SSL false turns a bare server name into an http URL.
	SSL *bool `yaml:"ssl"`
}

type Resolver struct {
	Sources      []Source `yaml:"sources"`
	Timeout      Duration `yaml:"timeout"`
	TotalTimeout Duration `yaml:"totalTimeout"`
}

// Source is one ip source: kind is web, interface, cmd or static.
type Source struct {
	Kind  string `yaml:"kind"`
	Value string `yaml:"value"`
}

type State struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

type Log struct {
	Level string `yaml:"level"`
	Env   string `yaml:"env"`
}

type Daemon struct {
	// Interval or Schedule (a cron expression) enables daemon mode.
	Interval    Duration `yaml:"interval"`
	Schedule    string   `yaml:"schedule"`
	MetricsAddr string   `yaml:"metricsAddr"`
	// Watch re-runs immediately when the config file is written.
	Watch *bool `yaml:"watch"`
}

func (d Daemon) Enabled() bool {
	return d.Interval > 0 || d.Schedule != ""
}

type Notify struct {
	Telegram Telegram `yaml:"telegram"`
	Webhook  Webhook  `yaml:"webhook"`
}

type Telegram struct {
	Token  string `yaml:"token"`
	ChatID int64  `yaml:"chatId"`
}

type Webhook struct {
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
}

// Settings converts the target into provider settings.
func (t Target) Settings(userAgent string, timeout time.Duration) provider.Settings {
	server := t.Server
	if t.SSL != nil && !*t.SSL && server != "" && !strings.Contains(server, "://") {
		server = "http://" + server
	}
	return provider.Settings{
		Login:     t.Login,
		Password:  t.Password,
		Server:    server,
		Zone:      t.Zone,
		Email:     t.Email,
		TTL:       t.TTL,
		UserAgent: userAgent,
		Timeout:   timeout,
	}
}

// Load reads path, decoding YAML for .yaml/.yml files and the ddclient format
// otherwise, then applies defaults and DNSUP_* environment overrides. A
// missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		slog.Default().Warn("Config file not found, proceeding", "path", path)
	case err != nil:
		return nil, errs.Config("", "read config %s: %w", path, err)
	default:
		cfg.Path = path
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, errs.Config("", "decode config %s: %w", path, err)
			}
		default:
			if err := parseDdclient(string(data), cfg); err != nil {
				return nil, errs.Config("", "parse config %s: %w", path, err)
			}
		}
	}

	cfg.applyDefaults()
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = defaultConcurrency
	}
	if c.ProviderTimeout <= 0 {
		c.ProviderTimeout = Duration(defaultProviderTimeout)
	}
	if c.Resolver.Timeout <= 0 {
		c.Resolver.Timeout = Duration(defaultResolverTimeout)
	}
	if c.Resolver.TotalTimeout <= 0 {
		c.Resolver.TotalTimeout = Duration(defaultResolverTotal)
	}
	if c.UserAgent == "" {
		c.UserAgent = UserAgent()
	}
	if c.State.Backend == "" {
		c.State.Backend = defaultStateBackend
	}
	if c.Log.Level == "" {
		c.Log.Level = defaultLogLevel
	}
	if c.Log.Env == "" {
		c.Log.Env = defaultLogEnv
	}
	if c.Daemon.MetricsAddr == "" {
		c.Daemon.MetricsAddr = defaultMetricsAddr
	}
	for i := range c.Targets {
		if c.Targets[i].Protocol == "" {
			c.Targets[i].Protocol = defaultProtocol
		}
	}
}

func (c *Config) applyEnv() {
	env := func(key string) (string, bool) {
		v, ok := os.LookupEnv(envPrefix + key)
		return v, ok && v != ""
	}

	if v, ok := env("HOSTS"); ok {
		hosts := splitList(v)
		if len(c.Targets) == 0 {
			c.Targets = []Target{{Protocol: defaultProtocol}}
		}
		c.Targets = c.Targets[:1]
		c.Targets[0].Hosts = hosts
	}
	for key, field := range map[string]func(*Target) *string{
		"PROTOCOL": func(t *Target) *string { return &t.Protocol },
		"LOGIN":    func(t *Target) *string { return &t.Login },
		"PASSWORD": func(t *Target) *string { return &t.Password },
		"SERVER":   func(t *Target) *string { return &t.Server },
		"ZONE":     func(t *Target) *string { return &t.Zone },
		"EMAIL":    func(t *Target) *string { return &t.Email },
	} {
		if v, ok := env(key); ok {
			for i := range c.Targets {
				*field(&c.Targets[i]) = v
			}
		}
	}
	if v, ok := env("TTL"); ok {
		if ttl, err := strconv.Atoi(v); err == nil {
			for i := range c.Targets {
				c.Targets[i].TTL = ttl
			}
		} else {
			slog.Default().Warn("Failed to parse ttl from env", "ttl", v, "error", err)
		}
	}

	if v, ok := env("IP"); ok {
		c.IP = v
	}
	envBool := func(key string, dst *bool) {
		if v, ok := env(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				slog.Default().Warn("Failed to parse bool from env", "key", envPrefix+key, "value", v)
				return
			}
			*dst = b
		}
	}
	envBool("FORCE", &c.Force)
	envBool("DRYRUN", &c.DryRun)

	envDuration := func(key string, dst *Duration) {
		if v, ok := env(key); ok {
			d, err := ParseDuration(v)
			if err != nil {
				slog.Default().Warn("Failed to parse duration from env", "key", envPrefix+key, "value", v, "error", err)
				return
			}
			*dst = Duration(d)
		}
	}
	envDuration("MIN_INTERVAL", &c.MinInterval)
	envDuration("MAX_INTERVAL", &c.MaxInterval)
	envDuration("MIN_ERROR_INTERVAL", &c.MinErrorInterval)
	envDuration("DAEMON_INTERVAL", &c.Daemon.Interval)

	if v, ok := env("CONCURRENCY"); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Concurrency = n
		} else {
			slog.Default().Warn("Failed to parse concurrency from env", "value", v)
		}
	}
	if v, ok := env("STATE_BACKEND"); ok {
		c.State.Backend = v
	}
	if v, ok := env("STATE_PATH"); ok {
		c.State.Path = v
	}
	if v, ok := env("LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := env("LOG_ENV"); ok {
		c.Log.Env = v
	}
	if v, ok := env("DAEMON_SCHEDULE"); ok {
		c.Daemon.Schedule = v
	}
	if v, ok := env("METRICS_ADDR"); ok {
		c.Daemon.MetricsAddr = v
	}
	if v, ok := env("TELEGRAM_TOKEN"); ok {
		c.Notify.Telegram.Token = v
	}
	if v, ok := env("TELEGRAM_CHAT_ID"); ok {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Notify.Telegram.ChatID = id
		} else {
			slog.Default().Warn("Failed to parse telegram chat id from env", "value", v)
		}
	}
	if v, ok := env("WEBHOOK_URL"); ok {
		c.Notify.Webhook.URL = v
	}
}

var hostProfile = idna.New(idna.MapForLookup(), idna.StrictDomainName(false))

// NormalizeHost lower-cases host, converts it to its ASCII form and drops a
// trailing dot.
func NormalizeHost(host string) (string, error) {
	host = strings.TrimSuffix(strings.TrimSpace(host), ".")
	if host == "" {
		return "", errors.New("empty host name")
	}
	ascii, err := hostProfile.ToASCII(host)
	if err != nil {
		return "", fmt.Errorf("invalid host name %q: %w", host, err)
	}
	return ascii, nil
}

// Validate normalises host names and checks that every target can be
// orchestrated. Provider specific fields are left to the updaters.
func (c *Config) Validate() error {
	if len(c.Targets) == 0 {
		return errs.Config("", "no target configured (use -host or a config file)")
	}
	for i := range c.Targets {
		t := &c.Targets[i]
		if strings.TrimSpace(t.Protocol) == "" {
			return errs.Config("", "target %d: protocol is required", i+1)
		}
		if len(t.Hosts) == 0 {
			return errs.Config(t.Protocol, "target %d: at least one host is required (use -host)", i+1)
		}
		for j, h := range t.Hosts {
			norm, err := NormalizeHost(h)
			if err != nil {
				return errs.Config(t.Protocol, "target %d: %w", i+1, err)
			}
			t.Hosts[j] = norm
		}
	}
	if c.IP != "" {
		if _, err := netip.ParseAddr(c.IP); err != nil {
			return errs.Config("", "'%s' is an invalid IP address", c.IP)
		}
	}
	switch c.State.Backend {
	case "file", "badger":
	default:
		return errs.Config("", "unknown state backend %q (supported: file, badger)", c.State.Backend)
	}
	if c.Notify.Telegram.Token != "" && c.Notify.Telegram.ChatID == 0 {
		return errs.Config("", "notify.telegram.chatId is required with a bot token")
	}
	return nil
}

// Override returns the configured ip override, or the zero address.
func (c *Config) Override() netip.Addr {
	ip, err := netip.ParseAddr(c.IP)
	if err != nil {
		return netip.Addr{}
	}
	return ip.Unmap()
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' }) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
