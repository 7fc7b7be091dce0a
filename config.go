package main

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"nanoping/pkg/session"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Interface       string        `mapstructure:"interface"`
	Peer            string        `mapstructure:"peer"`
	Mode            string        `mapstructure:"mode"`
	Port            int           `mapstructure:"port"`
	ReplyPort       int           `mapstructure:"reply-port"`
	Interval        time.Duration `mapstructure:"interval"`
	Timeout         time.Duration `mapstructure:"timeout"`
	EchoTimeout     time.Duration `mapstructure:"echo-timeout"`
	Count           uint64        `mapstructure:"count"`
	RequireHardware bool          `mapstructure:"require-hardware"`
	SkipHWConfig    bool          `mapstructure:"skip-hw-config"`
	MaxSamples      int           `mapstructure:"max-samples"`
	MaxSpread       float64       `mapstructure:"max-spread"`
	MetricsListen   string        `mapstructure:"metrics-listen"`
	Verbose         bool          `mapstructure:"verbose"`
	Debug           bool          `mapstructure:"debug"`

	mode session.Mode
	peer net.IP
}

// usageError is a bad command line or config value; the help text is
// printed with it.
type usageError struct {
	error
}

func usageErrorf(format string, args ...any) error {
	return usageError{fmt.Errorf(format, args...)}
}

func addFlags(flags *pflag.FlagSet) {
	flags.StringP("interface", "i", "", "network interface to timestamp on (required)")
	flags.StringP("peer", "d", "", "peer IPv4 address (required for ping, tx-only and tx-and-rx; the reflector in loopback mode)")
	flags.StringP("mode", "m", session.Ping.String(), "loopback, ping, pong, tx-only, rx-only or tx-and-rx")
	flags.IntP("port", "p", 12345, "UDP port probes are sent to and received on")
	flags.Int("reply-port", 0, "port pong replies are sent to (0 = --port)")
	flags.Duration("interval", time.Second, "delay between probes")
	flags.Duration("timeout", time.Second, "how long to wait for a transmit timestamp")
	flags.Duration("echo-timeout", time.Second, "how long to wait for an echo or an inbound probe")
	flags.Uint64P("count", "c", 0, "stop after this many probes (0 = forever)")
	flags.Bool("require-hardware", true, "discard samples without hardware timestamps")
	flags.Bool("skip-hw-config", false, "do not configure hardware timestamping on the interface")
	flags.Int("max-samples", 1000, "maximum number of samples in the running statistics")
	flags.Float64("max-spread", 3, "max spread of samples to be considered valid (after max-samples), as a factor of the standard deviation")
	flags.String("metrics-listen", "", "serve Prometheus metrics on this address")
	flags.BoolP("verbose", "v", false, "debug logging")
	flags.Bool("debug", false, "trace logging")
}

// loadConfig merges flags, NANOPING_* environment variables and the config
// file, in that order of precedence.
func loadConfig(v *viper.Viper, flags *pflag.FlagSet, file string) (Config, error) {
	var cfg Config
	if err := v.BindPFlags(flags); err != nil {
		return cfg, fmt.Errorf("bind flags: %w", err)
	}
	v.SetEnvPrefix("nanoping")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("nanoping")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/nanoping/")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
	} else {
		log.Debugf("using config file %s", v.ConfigFileUsed())
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	if cfg.localLoopback() {
		// a local destination is routed through lo, which never stamps in hardware
		log.Warn("loopback without --peer: probes stay on lo and get software timestamps only")
		if !v.IsSet("require-hardware") {
			cfg.RequireHardware = false
		}
	}
	return cfg, nil
}

// localLoopback reports whether probes are sent to the interface's own
// address instead of a reflector.
func (c *Config) localLoopback() bool {
	return c.mode == session.Loopback && c.peer == nil
}

func (c *Config) validate() error {
	if c.Interface == "" {
		return usageErrorf("--interface is required")
	}
	var err error
	if c.mode, err = session.ParseMode(c.Mode); err != nil {
		return usageError{err}
	}
	if c.Peer != "" {
		if c.peer = net.ParseIP(c.Peer).To4(); c.peer == nil {
			return usageErrorf("--peer %q is not an IPv4 address", c.Peer)
		}
	} else if c.mode.NeedsPeer() {
		return usageErrorf("--peer is required in %s mode", c.mode)
	}
	if c.Port <= 0 || c.Port > 0xffff {
		return usageErrorf("--port %d out of range", c.Port)
	}
	if c.ReplyPort < 0 || c.ReplyPort > 0xffff {
		return usageErrorf("--reply-port %d out of range", c.ReplyPort)
	}
	if c.Interval <= 0 {
		return usageErrorf("--interval must be positive")
	}
	if c.Timeout < 0 || c.EchoTimeout < 0 {
		return usageErrorf("timeouts must not be negative")
	}
	if c.MaxSamples <= 0 {
		return usageErrorf("--max-samples must be positive")
	}
	return nil
}

func (c *Config) replyPort() int {
	if c.ReplyPort != 0 {
		return c.ReplyPort
	}
	return c.Port
}

func (c *Config) session() session.Config {
	sc := session.Config{
		Mode:            c.mode,
		Interval:        c.Interval,
		TxTimeout:       c.Timeout,
		EchoTimeout:     c.EchoTimeout,
		Count:           c.Count,
		RequireHardware: c.RequireHardware,
	}
	if c.mode == session.Pong {
		sc.ReplyPort = c.replyPort()
	}
	return sc
}

func (c *Config) logLevel() log.Level {
	switch {
	case c.Debug:
		return log.TraceLevel
	case c.Verbose:
		return log.DebugLevel
	default:
		return log.InfoLevel
	}
}
