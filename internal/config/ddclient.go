package config

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"strings"
)

// parseDdclient reads the ddclient configuration format into cfg:
//
//	protocol=cloudflare, zone=example.com, \
//	login=token, password=secret \
//	host1.example.com,host2.example.com
//
// Settings seen before the first host are global defaults for every later
// block. A bare word ends a block and names a host of it. Consecutive hosts
// sharing the same settings become one target.
func parseDdclient(content string, cfg *Config) error {
	var (
		global  = map[string]string{}
		block   = map[string]string{}
		entries []map[string]string
	)

	emit := func(host string) {
		entry := maps.Clone(global)
		maps.Copy(entry, block)
		if host != "" {
			entry["host"] = host
		}
		entries = append(entries, entry)
	}
	set := func(key, value string) {
		key = strings.ToLower(strings.TrimSpace(key))
		if len(entries) == 0 && len(block) == 0 {
			global[key] = value
		} else {
			block[key] = value
		}
	}

	for _, line := range strings.Split(joinContinuations(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var hosts []string
		for _, part := range strings.Split(line, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if strings.HasPrefix(part, "#") {
				break
			}
			key, value, ok := strings.Cut(part, "=")
			if !ok {
				hosts = append(hosts, wordsBeforeComment(part)...)
				continue
			}
			words := wordsBeforeComment(value)
			if len(words) == 0 {
				set(key, "")
				continue
			}
			set(key, words[0])
			hosts = append(hosts, words[1:]...)
		}

		if len(hosts) > 0 {
			for _, h := range hosts {
				emit(h)
			}
			clear(block)
		}
	}
	if len(block) > 0 || (len(entries) == 0 && len(global) > 0) {
		emit("")
	}

	for _, entry := range entries {
		if err := applyDdclientEntry(cfg, entry); err != nil {
			return err
		}
	}
	return nil
}

func joinContinuations(content string) string {
	var (
		b       strings.Builder
		pending strings.Builder
	)
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimRight(line, " \t\r")
		if stripped, ok := strings.CutSuffix(line, `\`); ok {
			pending.WriteString(stripped)
			pending.WriteByte(' ')
			continue
		}
		pending.WriteString(line)
		b.WriteString(pending.String())
		b.WriteByte('\n')
		pending.Reset()
	}
	if pending.Len() > 0 {
		b.WriteString(pending.String())
		b.WriteByte('\n')
	}
	return b.String()
}

func wordsBeforeComment(s string) []string {
	var words []string
	for _, w := range strings.Fields(s) {
		if strings.HasPrefix(w, "#") {
			break
		}
		words = append(words, w)
	}
	return words
}

var ddclientTargetKeys = []string{"protocol", "login", "password", "server", "zone", "email", "ttl", "ssl"}

func applyDdclientEntry(cfg *Config, entry map[string]string) error {
	t := Target{
		Protocol: entry["protocol"],
		Login:    entry["login"],
		Password: entry["password"],
		Server:   entry["server"],
		Zone:     entry["zone"],
		Email:    entry["email"],
		Hosts:    splitList(entry["host"]),
	}
	if v, ok := entry["ttl"]; ok && v != "" {
		ttl, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid ttl %q", v)
		}
		t.TTL = ttl
	}
	if v, ok := entry["ssl"]; ok {
		switch strings.ToLower(v) {
		case "yes", "true", "1":
			t.SSL = ptr(true)
		case "no", "false", "0":
			t.SSL = ptr(false)
		}
	}

	for key, value := range entry {
		if err := applyDdclientGlobal(cfg, key, value); err != nil {
			return err
		}
	}
	if err := applyUse(cfg, entry["use"], entry["web"], entry["if"], entry["cmd"]); err != nil {
		return err
	}

	if len(t.Hosts) == 0 {
		return nil
	}
	if n := len(cfg.Targets); n > 0 && sameTarget(cfg.Targets[n-1], t) {
		cfg.Targets[n-1].Hosts = append(cfg.Targets[n-1].Hosts, t.Hosts...)
		return nil
	}
	cfg.Targets = append(cfg.Targets, t)
	return nil
}

func applyDdclientGlobal(cfg *Config, key, value string) error {
	var dst *Duration
	switch key {
	case "min-interval":
		dst = &cfg.MinInterval
	case "max-interval":
		dst = &cfg.MaxInterval
	case "min-error-interval":
		dst = &cfg.MinErrorInterval
	case "daemon":
		dst = &cfg.Daemon.Interval
	case "timeout":
		dst = &cfg.ProviderTimeout
	case "ip":
		cfg.IP = value
		return nil
	case "cache":
		cfg.State.Path = value
		return nil
	case "host", "use", "web", "if", "cmd":
		return nil
	default:
		if !slices.Contains(ddclientTargetKeys, key) {
			slog.Default().Debug("Ignoring unknown config key", "key", key)
		}
		return nil
	}
	d, err := ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = Duration(d)
	return nil
}

// applyUse maps the ddclient use= method onto resolver sources.
func applyUse(cfg *Config, use, web, ifName, cmd string) error {
	var src Source
	switch strings.ToLower(use) {
	case "":
		return nil
	case "ip":
		return nil
	case "web":
		if web == "" {
			cfg.Resolver.Sources = nil
			return nil
		}
		if !strings.Contains(web, "://") {
			web = "http://" + web
		}
		src = Source{Kind: "web", Value: web}
	case "if":
		if ifName == "" {
			return fmt.Errorf("use=if requires if=<interface>")
		}
		src = Source{Kind: "interface", Value: ifName}
	case "cmd":
		if cmd == "" {
			return fmt.Errorf("use=cmd requires cmd=<command>")
		}
		src = Source{Kind: "cmd", Value: cmd}
	default:
		return fmt.Errorf("unsupported use method %q (supported: ip, web, if, cmd)", use)
	}
	cfg.Resolver.Sources = []Source{src}
	return nil
}

func sameTarget(a, b Target) bool {
	sameSSL := (a.SSL == nil && b.SSL == nil) || (a.SSL != nil && b.SSL != nil && *a.SSL == *b.SSL)
	return sameSSL && a.Protocol == b.Protocol && a.Login == b.Login && a.Password == b.Password &&
		a.Server == b.Server && a.Zone == b.Zone && a.Email == b.Email && a.TTL == b.TTL
}

func ptr[T any](v T) *T { return &v }
