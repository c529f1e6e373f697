package config

import (
	"fmt"
)

var (
	version = "dev"
	AppName = "dnsup"
	intro   = "A dynamic DNS updater speaking the ddclient protocols."
	date    = "unknown"
)

func ShowVersion() {
	fmt.Printf("%s %s, built at %s\n%s\n", AppName, version, date, intro)
}

// UserAgent is sent with every outgoing request.
func UserAgent() string {
	return AppName + "/" + version
}
