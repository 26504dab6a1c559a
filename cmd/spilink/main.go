// Command spilink runs a relay pipeline described by a YAML file.
//
// The records of the configured source are filtered by topic,
// relayed in fixed-size chunks over the transport, and the records
// reassembled from what the peer sends back are delivered to the
// configured destination.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/FerroO2000/spilink/internal"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", "", "Path to the YAML configuration file")
	flag.Parse()

	tel := internal.NewTelemetry("cmd", "spilink")

	if err := run(*configPath, tel); err != nil {
		tel.LogError("spilink failed", err)
		os.Exit(1)
	}
}

func run(configPath string, tel *internal.Telemetry) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}

	level, _ := cfg.logLevel()
	internal.SetLogLevel(level)

	ctx, cancelCtx := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancelCtx()

	shutdownTelemetry, err := initTelemetry(ctx, &cfg.Telemetry, tel)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := shutdownTelemetry(shutdownCtx); err != nil {
			tel.LogError("failed to shutdown telemetry", err)
		}
	}()

	pipeline, err := buildPipeline(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := pipeline.close(); err != nil {
			tel.LogError("failed to release pipeline resources", err)
		}
	}()

	var cfgReloader *reloader
	if configPath != "" {
		cfgReloader, err = newReloader(configPath, cfg, pipeline.filter)
		if err != nil {
			return err
		}
	}

	if err := pipeline.Init(ctx); err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)

	if cfgReloader != nil {
		group.Go(func() error {
			return cfgReloader.run(groupCtx)
		})
	}

	pipeline.Run(groupCtx)
	tel.LogInfo("pipeline running",
		"ingress", cfg.Ingress.Kind, "peer", cfg.Transport.Peer, "egress", cfg.Egress.Kind)

	group.Go(func() error {
		<-groupCtx.Done()
		pipeline.Close()
		tel.LogInfo("pipeline closed")
		return nil
	})

	return group.Wait()
}
