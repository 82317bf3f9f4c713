// Command bapd runs the BAP orchestration engine: the Capability Registry,
// Endpoint Directory, Setup Registry/Stream State Machine, Group Scheduler
// and Broadcast PA/BIG Pipeline, bound together by the Engine Integration
// Layer. The kernel ISO socket and GATT control plane are out of scope
// (spec.md Non-goals) and are represented here by the fakeiso package; a
// production deployment supplies its own transport.ISOTransport and
// transport.ControlPlane implementations in place of it.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/leaudio/bapd/internal/audit"
	"github.com/leaudio/bapd/internal/config"
	"github.com/leaudio/bapd/internal/engine"
	"github.com/leaudio/bapd/internal/metrics"
	"github.com/leaudio/bapd/internal/transport"
	"github.com/leaudio/bapd/internal/transport/fakeiso"
)

func main() {
	envFile := flag.String("env-file", ".env", "optional .env file to source before reading BAPD_* variables")
	flag.Parse()

	if err := config.LoadEnvFile(*envFile); err != nil {
		log.Printf("load env file: %v", err)
	}
	cfg := config.Load()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	var auditLog *audit.Log
	if cfg.AuditDBPath != "" {
		var err error
		auditLog, err = audit.Open(cfg.AuditDBPath)
		if err != nil {
			log.Fatalf("open audit log: %v", err)
		}
		defer auditLog.Close()
	}

	iso := &fakeiso.ISO{}
	sink := &engineSink{}
	ctrl := fakeiso.NewControl(sink)
	e := engine.New(ctrl, iso, m, auditLog)
	sink.e = e

	engine.LogStartup(cfg.AdapterIDs, cfg.DebugHTTPAddr, cfg.MetricsAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, reg)
	}
	if cfg.DebugHTTPAddr != "" {
		go serveDebug(cfg.DebugHTTPAddr, e)
	}
	go e.RunBroadcastTicker(ctx, cfg.AdapterIDs, cfg.BroadcastTickInterval)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down")
}

// engineSink defers to an *engine.Engine constructed after the ControlPlane
// that needs it as its sink.
type engineSink struct{ e *engine.Engine }

func (s *engineSink) Deliver(ev transport.Event) { s.e.Deliver(ev) }

func serveMetrics(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	log.Printf("metrics listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("metrics http: %v", err)
	}
}

func serveDebug(addr string, e *engine.Engine) {
	log.Printf("debug surface listening on %s", addr)
	if err := http.ListenAndServe(addr, e.DebugHandler()); err != nil {
		log.Fatalf("debug http: %v", err)
	}
}
