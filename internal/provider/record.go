package provider

import (
	"net/netip"
	"strings"
	"time"

	"github.com/libdns/libdns"
)

// Address builds the libdns address record for hostname inside zone. The
// record name is relative to zone ("@" for the apex).
func Address(hostname, zone string, ip netip.Addr, ttl int) libdns.Address {
	return libdns.Address{
		Name: RelativeName(hostname, zone),
		IP:   ip.Unmap(),
		TTL:  time.Duration(ttl) * time.Second,
	}
}

// RecordType returns "A" for IPv4 and "AAAA" for IPv6 addresses.
func RecordType(ip netip.Addr) string {
	return libdns.Address{IP: ip.Unmap()}.RR().Type
}

// RelativeName strips zone from hostname. An empty zone leaves the name as is.
func RelativeName(hostname, zone string) string {
	hostname = strings.TrimSuffix(hostname, ".")
	zone = strings.TrimSuffix(zone, ".")
	switch {
	case zone == "":
		return hostname
	case strings.EqualFold(hostname, zone):
		return "@"
	case !strings.HasSuffix(strings.ToLower(hostname), "."+strings.ToLower(zone)):
		return hostname
	}
	return libdns.RelativeName(hostname+".", zone+".")
}

// AbsoluteName joins a relative name and its zone without a trailing dot.
func AbsoluteName(name, zone string) string {
	zone = strings.TrimSuffix(zone, ".")
	if zone == "" {
		return name
	}
	return strings.TrimSuffix(libdns.AbsoluteName(name, zone+"."), ".")
}

// GuessZone returns the last two labels of hostname, used when a provider
// needs a zone and none is configured.
func GuessZone(hostname string) string {
	labels := strings.Split(strings.TrimSuffix(hostname, "."), ".")
	if len(labels) <= 2 {
		return strings.Join(labels, ".")
	}
	return strings.Join(labels[len(labels)-2:], ".")
}
