// Command radio-alarm runs the radio alarm clock daemon and talks to it
// over its control socket.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/sweeney/radio-alarm/internal/alarm"
	"github.com/sweeney/radio-alarm/internal/config"
	"github.com/sweeney/radio-alarm/internal/control"
	"github.com/sweeney/radio-alarm/internal/daemon"
	"github.com/sweeney/radio-alarm/internal/gpio"
	"github.com/sweeney/radio-alarm/internal/input"
	xlog "github.com/sweeney/radio-alarm/internal/log"
	"github.com/sweeney/radio-alarm/internal/mqtt"
	"github.com/sweeney/radio-alarm/internal/player"
	"github.com/sweeney/radio-alarm/internal/playlist"
	"github.com/sweeney/radio-alarm/internal/status"
	"github.com/sweeney/radio-alarm/internal/web"
)

const defaultConfigPath = "/etc/radio-alarm/config.yaml"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logger := xlog.WithComponent("main")
		logger.Fatal().Err(err).Msg("fatal")
	}
}

type rootOptions struct {
	configPath string
	logLevel   string
	socket     string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "radio-alarm",
		Short:         "Internet radio alarm clock",
		Long:          "Plays internet radio, rings configured alarms and takes commands from a rotary knob, HTTP, MQTT and a local socket.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", defaultConfigPath, "config file path")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&opts.socket, "socket", "", "control socket path (default from config)")

	cmd.AddCommand(
		newDaemonCmd(opts),
		newConfigCmd(opts),
		newShellCmd(opts),
	)
	cmd.AddCommand(newClientCmds(opts)...)
	return cmd
}

// load reads the config file. An explicitly named file must exist.
func (o *rootOptions) load(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(o.configPath, cmd.Flags().Changed("config"))
	if err != nil {
		return cfg, err
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if o.socket != "" {
		cfg.Control.Socket = o.socket
	}
	return cfg, nil
}

// daemonFlags override config file values for a single run.
type daemonFlags struct {
	httpAddr     string
	playlistPath string
	broker       string
	noGPIO       bool
	pretty       bool
}

func (f *daemonFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.httpAddr, "http", "", "HTTP API address (empty to disable)")
	fs.StringVar(&f.playlistPath, "playlist", "", "playlist file")
	fs.StringVar(&f.broker, "broker", "", "MQTT broker address (empty to disable)")
	fs.BoolVar(&f.noGPIO, "no-gpio", false, "run without the rotary encoder")
	fs.BoolVar(&f.pretty, "pretty", false, "human readable log output")
}

// apply copies every flag set on the command line into cfg.
func (f *daemonFlags) apply(fs *pflag.FlagSet, cfg *config.Config) {
	if fs.Changed("http") {
		cfg.HTTP.Addr = f.httpAddr
	}
	if fs.Changed("playlist") {
		cfg.Playlist.Path = f.playlistPath
	}
	if fs.Changed("broker") {
		cfg.MQTT.Broker = f.broker
	}
	if f.noGPIO {
		cfg.GPIO.Enabled = false
	}
	if f.pretty {
		cfg.Logging.Pretty = true
	}
}

func newDaemonCmd(opts *rootOptions) *cobra.Command {
	flags := &daemonFlags{}
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the radio alarm daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			flags.apply(cmd.Flags(), &cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			xlog.Configure(xlog.Config{Level: cfg.Logging.Level, Pretty: cfg.Logging.Pretty})

			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return runDaemon(ctx, cfg)
		},
	}
	flags.register(cmd.Flags())
	return cmd
}

func newConfigCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			if verr := cfg.Validate(); verr != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", verr)
			}
			return err
		},
	}
}

// runDaemon wires every component and blocks until ctx is done or one of
// them fails. The playlist, the alarm file and the HTTP address must be
// usable; GPIO and MQTT problems only degrade the daemon.
func runDaemon(ctx context.Context, cfg config.Config) error {
	logger := xlog.WithComponent("main")

	if cfg.Control.Socket != "" && control.Running(cfg.Control.Socket) {
		return fmt.Errorf("%w on %s", control.ErrAlreadyRunning, cfg.Control.Socket)
	}
	ctx, quit := context.WithCancelCause(ctx)
	defer quit(nil)

	stations, err := playlist.NewStore(cfg.Playlist.Path)
	if err != nil {
		return err
	}
	store := alarm.NewFileStore(cfg.Alarms.Path)
	alarms, err := store.Load()
	if err != nil {
		return err
	}

	tracker := status.NewTracker(time.Now(), status.Config{
		HTTPAddr: cfg.HTTP.Addr,
		Broker:   cfg.MQTT.Broker,
		Socket:   cfg.Control.Socket,
		Playlist: cfg.Playlist.Path,
	})

	var ln net.Listener
	if cfg.HTTP.Addr != "" {
		ln, err = net.Listen("tcp", cfg.HTTP.Addr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", cfg.HTTP.Addr, err)
		}
	}

	var reader gpio.Reader
	if cfg.GPIO.Enabled {
		r, err := gpio.NewRealReader(cfg.GPIO.Chip, gpio.Pins{
			DT:    cfg.GPIO.PinDT,
			CLK:   cfg.GPIO.PinCLK,
			SW:    cfg.GPIO.PinSW,
			Alarm: cfg.GPIO.PinAlarm,
		})
		if err != nil {
			logger.Warn().Err(err).Str(xlog.FieldEvent, "input.unavailable").Msg("continuing without local input")
			tracker.SetInput(false, err)
		} else {
			reader = r
			defer r.Close()
			tracker.SetInput(true, nil)
		}
	}

	ctrl := player.New(player.OptionsFromConfig(cfg.Player))
	defer ctrl.Close()

	machine := daemon.New(daemon.OptionsFromConfig(cfg), daemon.Deps{
		Player:   ctrl,
		Stations: stations,
		Alarms:   alarms,
		Store:    store,
		Tracker:  tracker,
	})
	exec := control.NewExecutor(machine, stations)
	exec.OnShutdown(func() {
		logger.Info().Str(xlog.FieldEvent, "daemon.quit").Msg("shutdown requested")
		quit(errors.New("QUIT"))
	})

	g, gctx := errgroup.WithContext(ctx)

	if cfg.MQTT.Broker != "" {
		pub := mqtt.NewRealPublisher(mqtt.RealOptions{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Topics:   mqtt.NewTopics(cfg.MQTT.TopicPrefix),
		})
		defer pub.Close()
		bridge := mqtt.NewBridge(pub, tracker, exec, mqtt.BridgeOptions{
			Heartbeat: cfg.MQTT.Heartbeat,
			Commands:  cfg.MQTT.Commands,
		})
		machine.Subscribe(bridge)
		g.Go(func() error { return bridge.Run(gctx) })
	}

	g.Go(func() error { return machine.Run(gctx) })

	g.Go(func() error {
		return alarm.NewScheduler(cfg.Alarms.CheckInterval).Run(gctx, func(ctx context.Context, now time.Time) {
			_ = machine.Post(ctx, "scheduler", daemon.Tick{Now: now})
		})
	})

	if reader != nil {
		drv := input.NewDriver(reader, cfg.GPIO.Poll, input.Options{
			Debounce:       cfg.GPIO.Debounce,
			LongPress:      cfg.GPIO.LongPress,
			StepsPerDetent: cfg.GPIO.StepsPerDetent,
		})
		g.Go(func() error {
			err := drv.Run(gctx, func(ev input.Event) {
				_ = machine.Post(gctx, "gpio", daemon.Input{Event: ev})
			})
			if err != nil {
				tracker.SetInput(false, err)
			}
			return nil
		})
	}

	if cfg.Playlist.Watch {
		g.Go(func() error {
			err := stations.Watch(gctx, func() {
				_ = machine.Post(gctx, "watch", daemon.ReloadPlaylist{})
			})
			if err != nil {
				logger.Warn().Err(err).Msg("playlist watch disabled")
			}
			return nil
		})
	}

	if ln != nil {
		srv := web.New(cfg.HTTP.Addr, machine, stations)
		g.Go(func() error { return srv.Run(gctx, ln) })
	}

	if cfg.Control.Socket != "" {
		sock := control.NewServer(cfg.Control.Socket, exec)
		g.Go(func() error { return sock.Run(gctx) })
	}

	logger.Info().
		Str(xlog.FieldEvent, "daemon.started").
		Int("stations", stations.Len()).
		Int("alarms", len(alarms)).
		Str("http", cfg.HTTP.Addr).
		Str("socket", cfg.Control.Socket).
		Bool("gpio", reader != nil).
		Bool("mqtt", cfg.MQTT.Broker != "").
		Msg("radio-alarm started")

	err = g.Wait()
	logger.Info().Str(xlog.FieldEvent, "daemon.exited").Str("reason", shutdownCause(ctx)).Msg("radio-alarm stopped")
	return err
}

// signalContext returns a context cancelled on SIGINT or SIGTERM. The
// cause carries the signal name, which ends up in the SHUTDOWN event.
func signalContext(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(parent)
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case s := <-sig:
			cancel(errors.New(signalName(s)))
		case <-ctx.Done():
		}
	}()
	return ctx, func() {
		signal.Stop(sig)
		cancel(nil)
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	default:
		return "UNKNOWN"
	}
}

func shutdownCause(ctx context.Context) string {
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause.Error()
	}
	return ""
}
