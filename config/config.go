// Package config implements process configuration: flags plus an optional
// JSON file, parsed once at startup and exposed as an atomically-swappable
// read-mostly snapshot. The split between the full Config snapshot and the
// cached Rom accessor mirrors the teacher's cmn.Rom global (see
// cmn/rom.go's "read-mostly and most often used timeouts" comment), adapted
// from a live-cluster-config Set to a cold-start-once-per-process Load.
package config

import (
	"flag"
	"os"
	"strings"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// Config is the full set of process tunables for cmd/primary and
// cmd/secondary.
type Config struct {
	ListenSensors     string `json:"listen_sensors"`
	ListenSecondaries string `json:"listen_secondaries"`
	PrimaryAddr       string `json:"primary_addr"`
	MetricsAddr       string `json:"metrics_addr"`

	SessionTimeout      time.Duration `json:"session_timeout"`
	RequestTimeout      time.Duration `json:"request_timeout"`
	ReconnectBase       time.Duration `json:"reconnect_base"`
	DVSRefractoryPeriod time.Duration `json:"dvs_refractory_period"`

	CompressionEnabled bool `json:"compression_enabled"`
	CompressionLevel   int  `json:"compression_level"`

	LogDir   string `json:"log_dir"`
	LogLevel string `json:"log_level"`
}

func defaults() Config {
	return Config{
		ListenSensors:       ":8700",
		ListenSecondaries:   ":8701",
		PrimaryAddr:         "127.0.0.1:8701",
		MetricsAddr:         ":9090",
		SessionTimeout:      10 * time.Second,
		RequestTimeout:      5 * time.Second,
		ReconnectBase:       time.Second,
		DVSRefractoryPeriod: time.Millisecond,
		CompressionLevel:    1,
		LogDir:              "/tmp/streamcore",
		LogLevel:            "info",
	}
}

// Load registers this module's flags on fs, parses args, and returns the
// resulting Config. If args names a -config file, that file is decoded
// first and supplies the defaults every flag starts from, so a flag passed
// explicitly on the command line always wins over the file, and the file
// always wins over the built-in defaults.
func Load(fs *flag.FlagSet, args []string) (*Config, error) {
	cfg := defaults()

	configPath := scanConfigFlag(args)
	if configPath != "" {
		if err := cfg.mergeFile(configPath); err != nil {
			return nil, err
		}
	}

	fs.String("config", configPath, "path to a JSON config file")
	fs.StringVar(&cfg.ListenSensors, "listen-sensors", cfg.ListenSensors, "sensor stream server listen address")
	fs.StringVar(&cfg.ListenSecondaries, "listen-secondaries", cfg.ListenSecondaries, "secondary render-node listen address")
	fs.StringVar(&cfg.PrimaryAddr, "primary-addr", cfg.PrimaryAddr, "primary address a secondary dials")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Prometheus /metrics listen address")
	fs.DurationVar(&cfg.SessionTimeout, "session-timeout", cfg.SessionTimeout, "per-session idle deadline")
	fs.DurationVar(&cfg.RequestTimeout, "request-timeout", cfg.RequestTimeout, "unicast command reply deadline")
	fs.DurationVar(&cfg.ReconnectBase, "reconnect-base", cfg.ReconnectBase, "secondary reconnect base delay")
	fs.DurationVar(&cfg.DVSRefractoryPeriod, "dvs-refractory-period", cfg.DVSRefractoryPeriod, "DVS camera per-pixel refractory period")
	fs.BoolVar(&cfg.CompressionEnabled, "compression", cfg.CompressionEnabled, "enable per-stream lz4 compression")
	fs.IntVar(&cfg.CompressionLevel, "compression-level", cfg.CompressionLevel, "lz4 compression level")
	fs.StringVar(&cfg.LogDir, "log-dir", cfg.LogDir, "log file directory")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log verbosity")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return jsonAPI.Unmarshal(data, c)
}

// scanConfigFlag looks for -config/--config ahead of the real flag.Parse,
// since the file it names must be merged in as defaults before the rest of
// the flags are registered against it.
func scanConfigFlag(args []string) string {
	for i, a := range args {
		switch {
		case a == "-config" || a == "--config":
			if i+1 < len(args) {
				return args[i+1]
			}
		case strings.HasPrefix(a, "-config="):
			return strings.TrimPrefix(a, "-config=")
		case strings.HasPrefix(a, "--config="):
			return strings.TrimPrefix(a, "--config=")
		}
	}
	return ""
}

var current atomic.Pointer[Config]

// Set installs cfg as the current process-wide snapshot, atomically
// replacing whatever was there before, and refreshes Rom's cached values.
func Set(cfg *Config) {
	current.Store(cfg)
	rom.set(cfg)
}

// Get returns the current snapshot, or a fresh defaults() snapshot if Set
// has never been called.
func Get() *Config {
	if c := current.Load(); c != nil {
		return c
	}
	d := defaults()
	return &d
}

// readMostly caches the session timeout, request timeout and reconnect base
// delay so a reader takes one atomic load per value instead of loading the
// full Config. The session and multigpu packages do not read these values:
// they use their own constants (session.DefaultTimeout, the Primary's
// request timeout, the Secondary's reconnect base).
type readMostly struct {
	sessionTimeout atomic.Int64
	requestTimeout atomic.Int64
	reconnectBase  atomic.Int64
}

var rom readMostly

func (r *readMostly) set(cfg *Config) {
	r.sessionTimeout.Store(int64(cfg.SessionTimeout))
	r.requestTimeout.Store(int64(cfg.RequestTimeout))
	r.reconnectBase.Store(int64(cfg.ReconnectBase))
}

func SessionTimeout() time.Duration { return time.Duration(rom.sessionTimeout.Load()) }
func RequestTimeout() time.Duration { return time.Duration(rom.requestTimeout.Load()) }
func ReconnectBase() time.Duration  { return time.Duration(rom.reconnectBase.Load()) }
