package main

import "fmt"

// buildVersion is overridden at build time via -ldflags, matching the
// teacher's version.sh go:generate convention.
var buildVersion = "dev"

func version() {
	fmt.Printf("rtcendpointd %s\n", buildVersion)
}
