package main

import (
	"fmt"

	"github.com/fatih/color"
)

const helpString = `Server-role WebRTC media endpoint: ICE, DTLS-SRTP, SRTP ingress, RTP/RTCP

Usage: rtcendpointd [OPTION]...

Configuration:
  -c, --config=FILE            YAML configuration file

Network:
      --host=ADDR               Listen address (default: 0.0.0.0)
      --port=NUM                Signaling WebSocket listen port (default: 8443)
      --worker-num=NUM          Shard worker goroutines (default: 4)
      --ice-min-port=NUM        Lowest UDP port for ICE host candidates
      --ice-max-port=NUM        Highest UDP port for ICE host candidates
      --connection-timeout-ms=NUM
      --rtcp-report-interval-ms=NUM

Logging:
      --log-dir=DIR             Log file directory
      --log-level=LEVEL         debug, info, warn, error
      --log-to-stderr           Also write logs to stderr

Miscellaneous:
  -h, --help                    Prints this help message and exits
  -v, --version                 Prints version information and exits
`

// help prints usage information, in the teacher's banner-plus-helpString
// shape (cmd/alohartcd/help.go), minus the ASCII-art banner (this endpoint
// has no product name to typeset).
func help() {
	b := color.New(color.FgCyan)
	b.Println("rtcendpointd")
	fmt.Println(helpString)
}
