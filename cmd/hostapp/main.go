package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sparklernet/hostcore/internal/config"
	"github.com/sparklernet/hostcore/internal/coordinator"
	"github.com/sparklernet/hostcore/internal/metrics"
	"github.com/sparklernet/hostcore/internal/sparkplug"
)

const (
	colReset  = "\033[0m"
	colBlue   = "\033[34m"
	colGreen  = "\033[32m"
	colYellow = "\033[33m"
)

func tag(name, color string) string { return color + "[" + name + "]" + colReset }

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("hostcore: config: %v", err)
	}
	log.Printf("hostcore: %s application_id=%s broker=%s ordering_enabled=%v",
		tag("boot", colBlue), cfg.Host.ApplicationID, cfg.MQTT.Broker, cfg.Ordering.Enabled)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	metricsAddr := os.Getenv("HOSTCORE_METRICS_ADDR")
	if metricsAddr == "" {
		metricsAddr = ":9100"
	}
	metricsSrv := &http.Server{
		Addr:              metricsAddr,
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("hostcore: %s addr=%s", tag("metrics", colBlue), metricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("hostcore: %s err=%v", tag("metrics_error", colYellow), err)
		}
	}()

	var c *coordinator.Coordinator

	handlers := coordinator.Handlers{
		EdgeNodeBirth: func(msg sparkplug.Message) {
			log.Printf("hostcore: %s group=%s edge=%s", tag("nbirth", colGreen), msg.GroupID, msg.EdgeNodeID)
		},
		EdgeNodeDeath: func(msg sparkplug.Message) {
			log.Printf("hostcore: %s group=%s edge=%s", tag("ndeath", colYellow), msg.GroupID, msg.EdgeNodeID)
		},
		NodeData: func(msg sparkplug.Message) {
			log.Printf("hostcore: %s group=%s edge=%s seq=%d consecutive=%v", tag("ndata", colGreen), msg.GroupID, msg.EdgeNodeID, msg.Payload.Seq, msg.IsSeqConsecutive)
		},
		DeviceBirth: func(msg sparkplug.Message) {
			if err := deviceLiveness(c, msg); err != nil {
				log.Printf("hostcore: %s err=%v", tag("liveness_error", colYellow), err)
			}
			log.Printf("hostcore: %s group=%s edge=%s device=%s", tag("dbirth", colGreen), msg.GroupID, msg.EdgeNodeID, msg.DeviceID)
		},
		DeviceData: func(msg sparkplug.Message) {
			log.Printf("hostcore: %s group=%s edge=%s device=%s seq=%d consecutive=%v", tag("ddata", colGreen), msg.GroupID, msg.EdgeNodeID, msg.DeviceID, msg.Payload.Seq, msg.IsSeqConsecutive)
		},
		DeviceDeath: func(msg sparkplug.Message) {
			if err := deviceLiveness(c, msg); err != nil {
				log.Printf("hostcore: %s err=%v", tag("liveness_error", colYellow), err)
			}
			log.Printf("hostcore: %s group=%s edge=%s device=%s", tag("ddeath", colYellow), msg.GroupID, msg.EdgeNodeID, msg.DeviceID)
		},
		HostState: func(msg sparkplug.Message) {
			log.Printf("hostcore: %s host=%s online=%v", tag("state", colBlue), cfg.Host.ApplicationID, msg.Payload.Online)
		},
		Unsupported: func(topic string, _ []byte, err error) {
			log.Printf("hostcore: %s topic=%s err=%v", tag("unsupported", colYellow), topic, err)
		},
	}

	c = coordinator.New(cfg, handlers, m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := c.Start(ctx); err != nil {
		log.Fatalf("hostcore: start: %v", err)
	}

	sigc := make(chan os.Signal, 2)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	statsTicker := time.NewTicker(30 * time.Second)
	defer statsTicker.Stop()

loop:
	for {
		select {
		case sig := <-sigc:
			log.Printf("hostcore: %s signal=%v", tag("shutdown", colYellow), sig)
			break loop
		case <-statsTicker.C:
			edges, devices := c.Liveness().Snapshot()
			m.EdgeNodesOnline.Set(float64(edges))
			m.DevicesOnline.Set(float64(devices))
			log.Printf("hostcore: %s edges_online=%d devices_online=%d", tag("stats", colBlue), edges, devices)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := c.Stop(shutdownCtx); err != nil {
		log.Printf("hostcore: %s err=%v", tag("shutdown_error", colYellow), err)
	}
	_ = metricsSrv.Close()
}

// deviceLiveness drives the Liveness Tracker's device side explicitly:
// the Coordinator's dispatch table only applies NBIRTH/NDEATH to
// edge-node liveness automatically, so DBIRTH/DDEATH handlers call
// UpdateDevice themselves.
func deviceLiveness(c *coordinator.Coordinator, msg sparkplug.Message) error {
	return c.Liveness().UpdateDevice(msg.GroupID, msg.EdgeNodeID, msg.DeviceID, msg.Type == sparkplug.DBIRTH, msg.Payload.Timestamp)
}
