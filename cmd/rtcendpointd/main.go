// Command rtcendpointd is a server-role WebRTC media-server endpoint:
// per-peer ICE connectivity checks, DTLS-SRTP handshake, SRTP-unprotected
// RTP/RTCP ingress, and RTCP receiver-report generation, driven by an
// inbound signaling WebSocket, per spec.md §6. Grounded in the teacher's
// cmd/alohartcd (flag parsing via github.com/spf13/pflag, help/version
// banners via github.com/fatih/color) and main.go/demo.go (the
// flag-parse -> open-resources -> listen-and-serve shape), generalized
// from a single-process client-role video streamer into a sharded,
// multi-peer, receive-only endpoint.
package main

//go:generate sh version.sh

import (
	"fmt"
	"net/http"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/lanikai/rtcendpoint/internal/certstore"
	"github.com/lanikai/rtcendpoint/internal/config"
	"github.com/lanikai/rtcendpoint/internal/logging"
	"github.com/lanikai/rtcendpoint/internal/shard"
)

var (
	flagConfigPath string
	flagHelp       bool
	flagVersion    bool
)

var log = logging.DefaultLogger.WithTag("main")

func init() {
	flag.StringVarP(&flagConfigPath, "config", "c", "", "Path to YAML configuration file")
	flag.BoolVarP(&flagHelp, "help", "h", false, "Print usage information and exit")
	flag.BoolVarP(&flagVersion, "version", "v", false, "Print version information and exit")
}

func main() {
	// The config flags are bound only after the YAML file is loaded, so this
	// first pass ignores them; the second Parse below checks them strictly.
	flag.CommandLine.ParseErrorsWhitelist.UnknownFlags = true
	flag.Parse()
	flag.CommandLine.ParseErrorsWhitelist.UnknownFlags = false

	if flagHelp {
		help()
		os.Exit(0)
	}
	if flagVersion {
		version()
		os.Exit(0)
	}

	cfg, err := config.Load(flagConfigPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
	config.BindFlags(flag.CommandLine, &cfg)
	flag.Parse()

	logging.Configure(logging.LogConfig{
		Dir:      cfg.Log.Dir,
		Name:     cfg.Log.Name,
		Level:    cfg.Log.Level,
		ToStderr: cfg.Log.ToStderr,
	})

	certs, err := certstore.New()
	if err != nil {
		log.Fatal("generating certificate: %v", err)
	}

	pool := shard.New(cfg.WorkerNum)
	defer pool.Stop()

	srv := newServer(pool, certs, cfg)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", srv.handleWebsocket)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	log.Info("listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatal("listen: %v", err)
	}
}
