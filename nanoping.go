package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"nanoping/pkg/hwtstamp"
	"nanoping/pkg/metrics"
	"nanoping/pkg/packet"
	"nanoping/pkg/session"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sys/unix"
)

const (
	exitSetup     = 1
	exitTransport = 2
)

func main() {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006/01/02 15:04:05.000000",
	})
	if err := mainErr(); err != nil {
		log.Error(err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	var te *packet.TransportError
	if errors.As(err, &te) {
		return exitTransport
	}
	return exitSetup
}

func mainErr() error {
	return newCommand(os.Stdout).Execute()
}

func newCommand(out io.Writer) *cobra.Command {
	v := viper.New()
	var configFile string

	cmd := &cobra.Command{
		Use:           "nanoping -i IFACE [-d PEER] [-m MODE]",
		Short:         "Measure network latency with NIC hardware timestamps",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := loadConfig(v, cmd.Flags(), configFile)
			if err != nil {
				var ue usageError
				if errors.As(err, &ue) {
					cmd.Usage()
				}
				return err
			}
			log.SetLevel(conf.logLevel())

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, unix.SIGTERM)
			defer stop()
			return run(ctx, conf, out)
		},
	}
	cmd.SetOut(out)
	cmd.Flags().StringVar(&configFile, "config", "", "config file (default nanoping.yaml in . or /etc/nanoping)")
	addFlags(cmd.Flags())
	cmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		c.Usage()
		return usageError{err}
	})
	return cmd
}

func configureHardware(conf Config) error {
	if conf.SkipHWConfig {
		tx, rx, err := hwtstamp.Query(conf.Interface)
		if err != nil {
			log.WithError(err).Warn("cannot query hardware timestamping")
			return nil
		}
		log.WithFields(log.Fields{"tx": tx, "rx": rx}).Infof("%s hardware timestamping left as is", conf.Interface)
		return nil
	}
	tx, rx := conf.mode.Hardware()
	return hwtstamp.Configure(conf.Interface, tx, rx)
}

func run(ctx context.Context, conf Config, out io.Writer) error {
	_, ifaceIP, err := hwtstamp.Lookup(conf.Interface)
	if err != nil {
		return err
	}
	if err := configureHardware(conf); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	if conf.MetricsListen != "" {
		if err := metrics.Serve(ctx, conf.MetricsListen, reg); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
	}

	rep := newReporter(out, conf, m)
	var (
		probe session.Prober
		echo  session.Echoer
	)
	if conf.mode.UsesProbe() {
		to, err := destination(conf, ifaceIP)
		if err != nil {
			return err
		}
		conn, pc, err := openProbe(conf, to)
		if err != nil {
			return err
		}
		defer conn.Close()
		probe = pc
		rep.watch(pc)
	}
	if conf.mode.UsesEcho() {
		conn, ec, err := openEcho(conf)
		if err != nil {
			return err
		}
		defer conn.Close()
		echo = ec
		rep.watch(ec)
	}

	s, err := session.New(conf.session(), probe, echo, rep)
	if err != nil {
		return err
	}
	log.WithField("mode", conf.mode).Info("session started")
	err = s.Run(ctx)
	rep.finish()
	return err
}
