// Command pomelo is a recursive-forwarding DNS server: it accepts plain
// DNS over UDP and TCP, answers from local host overrides or its RR cache
// when it can, and otherwise forwards upstream over UDP, DoT, or DoH,
// optionally filtering AAAA answers per group-configured resolution rules.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tonitrnel/pomelo-dns/internal/cache"
	"github.com/tonitrnel/pomelo-dns/internal/config"
	"github.com/tonitrnel/pomelo-dns/internal/geoip"
	"github.com/tonitrnel/pomelo-dns/internal/handler"
	"github.com/tonitrnel/pomelo-dns/internal/logging"
	"github.com/tonitrnel/pomelo-dns/internal/metrics"
	"github.com/tonitrnel/pomelo-dns/internal/pidfile"
	"github.com/tonitrnel/pomelo-dns/internal/ping"
	"github.com/tonitrnel/pomelo-dns/internal/server"
)

const defaultConfigPath = "/etc/pomelo/pomelo.conf"

var (
	buildVersion = "dev"
)

type options struct {
	logLevel uint32
	version  bool
	pidFile  string
}

func main() {
	var opt options
	cmd := &cobra.Command{
		Use:   "pomelo [config]",
		Short: "Recursive-forwarding DNS server",
		Long: `pomelo is a DNS forwarder that answers from local host overrides or a
bounded RR cache when it can, and otherwise forwards upstream over plain
UDP, DNS-over-TLS, or DNS-over-HTTPS, with per-group AAAA answer filtering.`,
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := defaultConfigPath
			if len(args) == 1 {
				path = args[0]
			}
			return run(opt, path)
		},
	}

	cmd.Flags().Uint32VarP(&opt.logLevel, "log-level", "l", 4, "log level; 0=panic .. 6=trace")
	cmd.Flags().BoolVarP(&opt.version, "version", "v", false, "print build version and exit")
	cmd.Flags().StringVar(&opt.pidFile, "pid-file", "", "write process PID to this path")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(opt options, configPath string) error {
	if opt.version {
		fmt.Println("pomelo", buildVersion)
		return nil
	}
	if opt.logLevel > 6 {
		return fmt.Errorf("invalid log level: %d", opt.logLevel)
	}

	accessor, err := config.NewAccessor(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	snap := accessor.Access()

	// The config file's [log] level takes precedence when set; the
	// --log-level flag is the fallback so the binary is usable unconfigured.
	level := snap.Log.Level
	if level == "" {
		level = logrus.Level(opt.logLevel).String()
	}
	if err := logging.Configure(level, snap.Log.Dir, snap.Log.MaxFiles, snap.Log.Rotation); err != nil {
		return fmt.Errorf("configuring logging: %w", err)
	}

	if err := pidfile.Write(opt.pidFile); err != nil {
		return err
	}
	defer pidfile.Remove(opt.pidFile)

	deps, err := buildDeps(snap)
	if err != nil {
		return err
	}
	if deps.GeoDB != nil {
		defer deps.GeoDB.Close()
	}

	bind := snap.Metadata.Bind
	if bind == "" {
		bind = ":53"
	}

	srv := server.New(accessor, deps)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGUSR1)
	go watchSignals(sig, accessor, stop)

	logging.Log.WithField("addr", bind).Info("pomelo starting")
	err = srv.Run(ctx, bind)
	logging.Log.Info("pomelo stopped")
	return err
}

// watchSignals dispatches SIGHUP to a config reload, SIGUSR1 to a log
// reopen, and SIGINT/SIGTERM to cancel the acceptor context for graceful
// shutdown.
func watchSignals(sig <-chan os.Signal, accessor *config.Accessor, stop context.CancelFunc) {
	for s := range sig {
		switch s {
		case syscall.SIGHUP:
			if err := accessor.Reload(); err != nil {
				logging.Log.WithError(err).Warn("config reload failed, continuing on previous snapshot")
			} else {
				logging.Log.Info("config reloaded")
			}
		case syscall.SIGUSR1:
			logging.Reopen()
		case os.Interrupt, syscall.SIGTERM:
			stop()
			return
		}
	}
}

func buildDeps(snap *config.Snapshot) (handler.Deps, error) {
	deps := handler.Deps{
		Cache:     cache.New("rr", snap.Metadata.CacheSize),
		PingCache: ping.NewCache(),
		Metrics:   metrics.NewHandler(),
		AccessLog: logging.Access,
	}
	if snap.Metadata.MMDB != "" {
		db, err := geoip.Open(snap.Metadata.MMDB)
		if err != nil {
			return handler.Deps{}, fmt.Errorf("opening geoip database: %w", err)
		}
		deps.GeoDB = db
	}
	return deps, nil
}
