package resolver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"os/exec"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-cleanhttp"
)

var DefaultWebURLs = []string{
	"http://checkip.amazonaws.com",
	"http://icanhazip.com",
	"http://ifconfig.me/ip",
}

// Spec describes a source in configuration terms. Value is the URL, interface
// name, command or literal address depending on Kind.
type Spec struct {
	Kind  string
	Value string
}

type builder func(value string, hc *http.Client, userAgent string) (Source, error)

var kinds = map[string]builder{
	"web": func(v string, hc *http.Client, ua string) (Source, error) {
		if v == "" {
			return nil, fmt.Errorf("web source requires a url")
		}
		return NewWebSource(v, hc, ua), nil
	},
	"interface": func(v string, _ *http.Client, _ string) (Source, error) {
		if v == "" {
			return nil, fmt.Errorf("interface source requires an interface name")
		}
		return &InterfaceSource{Interface: v}, nil
	},
	"cmd": func(v string, _ *http.Client, _ string) (Source, error) {
		if v == "" {
			return nil, fmt.Errorf("cmd source requires a command")
		}
		return &CommandSource{Command: v}, nil
	},
	"static": func(v string, _ *http.Client, _ string) (Source, error) {
		ip, err := ParseIP(v)
		if err != nil {
			return nil, err
		}
		return StaticSource(ip), nil
	},
}

// NewSources builds sources in the given order. An empty list yields the
// default web sources.
func NewSources(specs []Spec, hc *http.Client, userAgent string) ([]Source, error) {
	if len(specs) == 0 {
		for _, u := range DefaultWebURLs {
			specs = append(specs, Spec{Kind: "web", Value: u})
		}
	}
	if hc == nil {
		hc = cleanhttp.DefaultPooledClient()
	}

	sources := make([]Source, 0, len(specs))
	for _, spec := range specs {
		build, ok := kinds[strings.ToLower(spec.Kind)]
		if !ok {
			return nil, fmt.Errorf("unknown ip source kind %q", spec.Kind)
		}
		src, err := build(spec.Value, hc, userAgent)
		if err != nil {
			return nil, fmt.Errorf("build %s source: %w", spec.Kind, err)
		}
		sources = append(sources, src)
	}
	return sources, nil
}

type WebSource struct {
	url    string
	client *resty.Client
}

func NewWebSource(url string, hc *http.Client, userAgent string) *WebSource {
	if hc == nil {
		hc = cleanhttp.DefaultPooledClient()
	}
	client := resty.NewWithClient(hc).SetHeader("Cache-Control", "no-cache")
	if userAgent != "" {
		client.SetHeader("User-Agent", userAgent)
	}
	return &WebSource{url: url, client: client}
}

func (s *WebSource) Name() string { return "web:" + s.url }

func (s *WebSource) Lookup(ctx context.Context) (netip.Addr, error) {
	resp, err := s.client.R().SetContext(ctx).Get(s.url)
	if err != nil {
		return netip.Addr{}, err
	}
	if !resp.IsSuccess() {
		return netip.Addr{}, fmt.Errorf("unexpected status %d", resp.StatusCode())
	}
	return ParseIP(resp.String())
}

type InterfaceSource struct {
	Interface string
}

func (s *InterfaceSource) Name() string { return "if:" + s.Interface }

// Lookup returns the first global unicast address bound to the interface.
func (s *InterfaceSource) Lookup(ctx context.Context) (netip.Addr, error) {
	iface, err := net.InterfaceByName(s.Interface)
	if err != nil {
		return netip.Addr{}, err
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return netip.Addr{}, fmt.Errorf("list addresses: %w", err)
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		ip, ok := netip.AddrFromSlice(ipnet.IP)
		if !ok {
			continue
		}
		ip = ip.Unmap()
		if ip.IsLoopback() || ip.IsLinkLocalUnicast() || !ip.IsGlobalUnicast() {
			continue
		}
		return ip, nil
	}
	return netip.Addr{}, fmt.Errorf("no usable address on %s", s.Interface)
}

const commandWaitDelay = 100 * time.Millisecond

type CommandSource struct {
	Command string
}

func (s *CommandSource) Name() string { return "cmd:" + s.Command }

func (s *CommandSource) Lookup(ctx context.Context) (netip.Addr, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", s.Command)
	// Children of sh can outlive it and keep stdout open.
	cmd.WaitDelay = commandWaitDelay
	out, err := cmd.Output()
	if err != nil {
		return netip.Addr{}, fmt.Errorf("run command: %w", err)
	}
	return ParseIP(string(out))
}

type StaticSource netip.Addr

func (s StaticSource) Name() string { return "static" }

func (s StaticSource) Lookup(context.Context) (netip.Addr, error) {
	return netip.Addr(s), nil
}
