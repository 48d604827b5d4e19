// ABOUTME: roomtone CLI: source, sink, device listing, and tuning info commands
// ABOUTME: Cobra front-end; each command loads options, builds a zap logger, and runs
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/roomtone/roomtone-go/internal/capture"
	"github.com/roomtone/roomtone-go/internal/config"
	"github.com/roomtone/roomtone-go/internal/devices"
	"github.com/roomtone/roomtone-go/internal/discovery"
	"github.com/roomtone/roomtone-go/internal/playback"
	"github.com/roomtone/roomtone-go/internal/sink"
	"github.com/roomtone/roomtone-go/internal/source"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var version = "dev"

var (
	cfgFile   string
	debugFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "roomtone",
	Short: "Whole-house PCM audio distribution",
	Long:  `roomtone streams timestamped PCM audio from one source to many sinks with synchronized playout.`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("roomtone %s\n", version)
	},
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run a source node",
	Long:  `Capture audio and fan it out to connected sinks over WebSocket.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := loadOptions(cmd)
		if err != nil {
			return err
		}
		logger, err := newLogger(opts.Debug)
		if err != nil {
			return err
		}
		defer logger.Sync()

		stream, err := capture.Open(opts.Device, logger)
		if err != nil {
			return fmt.Errorf("opening capture failed: %w", err)
		}

		srv := source.New(source.Config{
			Port:      opts.Port,
			Name:      opts.Name,
			Advertise: opts.Advertise,
		}, stream, logger)

		return srv.Run(signalContext())
	},
}

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Run a sink node",
	Long:  `Connect to a source, synchronize clocks, and play the stream.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := loadOptions(cmd)
		if err != nil {
			return err
		}
		logger, err := newLogger(opts.Debug)
		if err != nil {
			return err
		}
		defer logger.Sync()

		ctx := signalContext()

		url := opts.URL
		if url == "" {
			url, err = discoverSource(ctx, logger)
			if err != nil {
				return err
			}
		}

		var out playback.Writer
		if opts.NoAudio {
			out = playback.Null{}
		} else {
			out, err = playback.Open(opts.Device, logger)
			if err != nil {
				return fmt.Errorf("opening playback failed: %w", err)
			}
		}

		sess := sink.NewSession(sink.Config{URL: url}, out, logger)
		return sess.Run(ctx)
	},
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List system audio devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		devs, err := devices.List()
		if err != nil {
			return err
		}
		for _, d := range devs {
			fmt.Printf("%-8s %-4s %s\n", d.Kind, d.Index, d.Name)
		}
		return nil
	},
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Print the session tuning constants",
	Run: func(cmd *cobra.Command, args []string) {
		for _, e := range config.Info() {
			if e.Meaning != "" {
				fmt.Printf("%-18s %-8s %s\n", e.Name, e.Value, e.Meaning)
			} else {
				fmt.Printf("%-18s %s\n", e.Name, e.Value)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(clientCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(infoCmd)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable debug logging")

	serverCmd.Flags().IntP("port", "p", config.DefaultPort, "listen port")
	serverCmd.Flags().StringP("name", "n", "roomtone", "advertised service name")
	serverCmd.Flags().StringP("device", "d", "", "capture device (tone, -, file:path, or system device)")
	serverCmd.Flags().Bool("advertise", true, "advertise via mDNS")

	clientCmd.Flags().StringP("url", "u", "", "source WebSocket URL (ws://host:port/); empty browses mDNS")
	clientCmd.Flags().StringP("device", "d", "", "playback device hint")
	clientCmd.Flags().Bool("no-audio", false, "receive without playing")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadOptions merges config file and environment with the flags the
// user actually set on this command.
func loadOptions(cmd *cobra.Command) (*config.Options, error) {
	opts, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config failed: %w", err)
	}

	if debugFlag {
		opts.Debug = true
	}
	flags := cmd.Flags()
	if flags.Changed("port") {
		opts.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("name") {
		opts.Name, _ = flags.GetString("name")
	}
	if flags.Changed("device") {
		opts.Device, _ = flags.GetString("device")
	}
	if flags.Changed("advertise") {
		opts.Advertise, _ = flags.GetBool("advertise")
	}
	if flags.Changed("url") {
		opts.URL, _ = flags.GetString("url")
	}
	if flags.Changed("no-audio") {
		opts.NoAudio, _ = flags.GetBool("no-audio")
	}
	return opts, nil
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func signalContext() context.Context {
	ctx, _ := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return ctx
}

// discoverSource browses mDNS and returns the first source found.
func discoverSource(ctx context.Context, logger *zap.Logger) (string, error) {
	logger.Info("no source URL given, browsing mdns")
	mgr := discovery.NewManager(discovery.Config{}, logger)
	defer mgr.Stop()
	if err := mgr.Browse(); err != nil {
		return "", fmt.Errorf("mdns browse failed: %w", err)
	}
	select {
	case info := <-mgr.Servers():
		return fmt.Sprintf("ws://%s/", info.Addr()), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
