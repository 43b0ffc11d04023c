// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

// This is the entrypoint of the debug box container: it serves SSH logins on
// port 10022 and keeps pinging so that there always is a growing log to follow
// and some network traffic to capture.

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/siemens/svcdebug"
	"github.com/siemens/svcdebug/cli"
	"github.com/siemens/svcdebug/debugbox"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// EnvPrefix is the prefix of environment variables configuring the debug box.
const EnvPrefix = "DEBUGBOX"

func newRootCmd() *cobra.Command {
	cfg := debugbox.DefaultConfig()
	var configFile, logLevel string

	run := func(cmd *cobra.Command, args []string) error {
		if err := cli.BindConfig(cmd, EnvPrefix, configFile); err != nil {
			return err
		}
		level, err := log.ParseLevel(logLevel)
		if err != nil {
			return errors.Wrap(err, "invalid --log-level")
		}
		log.SetLevel(level)
		log.Infof("debug box version %s", svcdebug.SemVersion)
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		return debugbox.Run(ctx, cfg)
	}

	root := &cobra.Command{
		Use:   "debugbox",
		Short: "SSH-reachable debug box with a continuous ping log",
		Long: `debugbox serves SSH password logins and runs an ICMP echo loop writing
busybox ping compatible lines into a log file, until terminated.

All flags can also be set using DEBUGBOX_<FLAG> environment variables, with
dashes replaced by underscores, such as DEBUGBOX_PING_INTERVAL.`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE:         run,
	}
	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run the debug box (default command)",
		Args:  cobra.NoArgs,
		RunE:  run,
	})

	pf := root.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "YAML configuration file")
	pf.StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warning, or error")
	pf.StringVar(&cfg.Listen, "listen", cfg.Listen, "Address the SSH daemon listens on")
	pf.StringVar(&cfg.User, "user", cfg.User, "SSH login user name")
	pf.StringVar(&cfg.Password, "password", cfg.Password, "SSH login password")
	pf.StringVar(&cfg.HostKey, "host-key", cfg.HostKey,
		"SSH host key file, generated if missing; empty for an ephemeral key")
	pf.StringVar(&cfg.Shell, "shell", cfg.Shell, "Shell running remote commands")
	pf.StringVar(&cfg.PingTarget, "ping-target", cfg.PingTarget, "Host to ping")
	pf.DurationVar(&cfg.PingInterval, "ping-interval", cfg.PingInterval, "Ping interval")
	pf.StringVar(&cfg.PingLog, "ping-log", cfg.PingLog, "Ping log file")
	pf.IntVar(&cfg.PingLogMaxSize, "ping-log-max-size", cfg.PingLogMaxSize,
		"Rotate the ping log when reaching this size in MB; 0 for unbounded")
	pf.BoolVar(&cfg.PingPrivileged, "ping-privileged", cfg.PingPrivileged,
		"Use raw ICMP sockets instead of unprivileged ICMP datagram sockets")
	pf.StringVar(&cfg.CaptureBinary, "capture-binary", cfg.CaptureBinary,
		"Capture binary to check for network capture capabilities; empty to skip")
	pf.BoolVar(&cfg.Strict, "strict", cfg.Strict,
		"Terminate when the SSH daemon fails, instead of only logging the failure")
	return root
}

func main() {
	f := new(prefixed.TextFormatter)
	f.DisableColors = true
	f.ForceFormatting = true
	f.FullTimestamp = true
	f.TimestampFormat = "15:04:05"
	log.SetFormatter(f)

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
