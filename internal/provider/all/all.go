// Package all registers every built-in provider adapter.
package all

import (
	_ "github.com/evanofslack/dnsup/internal/provider/cloudflare"
	_ "github.com/evanofslack/dnsup/internal/provider/duckdns"
	_ "github.com/evanofslack/dnsup/internal/provider/dyndns2"
	_ "github.com/evanofslack/dnsup/internal/provider/namecheap"
	_ "github.com/evanofslack/dnsup/internal/provider/porkbun"
	_ "github.com/evanofslack/dnsup/internal/provider/route53"
)
