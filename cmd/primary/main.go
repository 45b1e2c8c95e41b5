// Package main runs the simulator-side process: the sensor stream server
// (C5) clients subscribe to, and the multi-GPU primary (C8) that brokers
// render-node secondaries.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carla-simulator/streamcore/buf"
	"github.com/carla-simulator/streamcore/cmn/cos"
	"github.com/carla-simulator/streamcore/cmn/nlog"
	"github.com/carla-simulator/streamcore/config"
	"github.com/carla-simulator/streamcore/hk"
	"github.com/carla-simulator/streamcore/ids"
	"github.com/carla-simulator/streamcore/metrics"
	"github.com/carla-simulator/streamcore/multigpu"
	"github.com/carla-simulator/streamcore/stream"
)

func main() {
	cfg, err := config.Load(flag.CommandLine, os.Args[1:])
	if err != nil {
		cos.ExitLogf("failed to load configuration: %v", err)
	}
	config.Set(cfg)

	nlog.SetLogDirRole(cfg.LogDir, "primary")
	nlog.SetTitle("streamcore-primary")
	ids.Init(uint64(time.Now().UnixNano()))

	pool := buf.NewPool()

	srv := stream.NewServer(stream.DefaultRegistry(), pool)
	if err := srv.Listen(cfg.ListenSensors); err != nil {
		cos.ExitLogf("failed to listen for sensor subscribers on %s: %v", cfg.ListenSensors, err)
	}
	nlog.Infof("sensor stream server listening on %s", srv.Addr())

	dir, err := multigpu.NewDirectory()
	if err != nil {
		cos.ExitLogf("failed to open sensor token directory: %v", err)
	}
	defer dir.Close()

	prim := multigpu.NewPrimary(pool, dir)
	if err := prim.Listen(cfg.ListenSecondaries); err != nil {
		cos.ExitLogf("failed to listen for secondaries on %s: %v", cfg.ListenSecondaries, err)
	}
	nlog.Infof("multi-GPU primary listening on %s", prim.Addr())

	go hk.DefaultHK.Run()
	go func() {
		if err := metrics.Serve(cfg.MetricsAddr); err != nil {
			nlog.Warningf("metrics server on %s stopped: %v", cfg.MetricsAddr, err)
		}
	}()

	waitForShutdown()

	nlog.Infof("shutting down")
	prim.Close()
	srv.Close()
	nlog.Flush(true)
}

func waitForShutdown() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-c
}
