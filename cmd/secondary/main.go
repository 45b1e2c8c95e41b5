// Package main runs a render-node agent: it dials a primary, answers its
// multi-GPU control-plane commands (C9), and hosts its own sensor stream
// server (C5) so GET_TOKEN can hand the primary a Token pointing straight
// at this render node -- the primary only brokers, it never proxies frame
// bytes.
package main

import (
	"encoding/binary"
	"flag"
	"os"
	"os/signal"
	"sync"
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
	"github.com/carla-simulator/streamcore/wire"
)

// renderNode is the demo callback SPEC_FULL §6 describes: it answers the
// primary's commands by minting/looking up a local Stream per sensor_id,
// exercising the same sensor stream server a real sensor pipeline would.
type renderEntry struct {
	stream *stream.Stream
	token  wire.Token
}

type renderNode struct {
	srv *stream.Server

	mu      sync.Mutex
	streams map[uint32]renderEntry
}

func newRenderNode(srv *stream.Server) *renderNode {
	return &renderNode{srv: srv, streams: make(map[uint32]renderEntry, 8)}
}

func (r *renderNode) streamFor(sensorID uint32) (*stream.Stream, wire.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.streams[sensorID]; ok {
		return e.stream, e.token, nil
	}
	st, tok, err := r.srv.MakeStream("camera.rgb")
	if err != nil {
		return nil, wire.Token{}, err
	}
	r.streams[sensorID] = renderEntry{stream: st, token: tok}
	return st, tok, nil
}

func (r *renderNode) reply(cmd wire.Command, payload []byte) []byte {
	switch cmd {
	case wire.CmdGetToken:
		sensorID := decodeSensorID(payload)
		_, tok, err := r.streamFor(sensorID)
		if err != nil {
			nlog.Warningf("render node: GET_TOKEN for sensor %d: %v", sensorID, err)
			return make([]byte, wire.TokenSize)
		}
		return tok.Bytes()

	case wire.CmdEnableROS:
		sensorID := decodeSensorID(payload)
		if st, _, err := r.streamFor(sensorID); err == nil {
			st.EnableForROS()
		}
		return nil

	case wire.CmdDisableROS:
		sensorID := decodeSensorID(payload)
		if st, _, err := r.streamFor(sensorID); err == nil {
			st.DisableForROS()
		}
		return nil

	case wire.CmdIsEnabledROS:
		sensorID := decodeSensorID(payload)
		r.mu.Lock()
		st, ok := r.streams[sensorID]
		r.mu.Unlock()
		if !ok || !st.IsEnabledForROS() {
			return []byte{0}
		}
		return []byte{1}

	case wire.CmdYouAlive:
		return nil

	case wire.CmdSendFrame, wire.CmdLoadMap:
		// Fire-and-forget broadcasts; a real render node would act on the
		// payload here. No reply expected.
		return nil

	default:
		return nil
	}
}

func decodeSensorID(payload []byte) uint32 {
	if len(payload) < 4 {
		return 0
	}
	return binary.LittleEndian.Uint32(payload[:4])
}

func main() {
	cfg, err := config.Load(flag.CommandLine, os.Args[1:])
	if err != nil {
		cos.ExitLogf("failed to load configuration: %v", err)
	}
	config.Set(cfg)

	nlog.SetLogDirRole(cfg.LogDir, "secondary")
	nlog.SetTitle("streamcore-secondary")
	ids.Init(uint64(time.Now().UnixNano()))

	pool := buf.NewPool()

	srv := stream.NewServer(stream.DefaultRegistry(), pool)
	if err := srv.Listen(cfg.ListenSensors); err != nil {
		cos.ExitLogf("failed to listen for sensor subscribers on %s: %v", cfg.ListenSensors, err)
	}
	nlog.Infof("render node's sensor stream server listening on %s", srv.Addr())

	node := newRenderNode(srv)
	sec := multigpu.NewSecondary(cfg.PrimaryAddr, pool, node.reply)
	go sec.Run()

	go hk.DefaultHK.Run()
	go func() {
		if err := metrics.Serve(cfg.MetricsAddr); err != nil {
			nlog.Warningf("metrics server on %s stopped: %v", cfg.MetricsAddr, err)
		}
	}()

	waitForShutdown()

	nlog.Infof("shutting down")
	sec.Stop()
	srv.Close()
	nlog.Flush(true)
}

func waitForShutdown() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-c
}
