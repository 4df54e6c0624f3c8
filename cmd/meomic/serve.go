package main

import (
	"context"
	"fmt"
	"net/netip"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/meomic/meomic"
	"github.com/meomic/meomic/config"
	"github.com/meomic/meomic/status"
	"github.com/pterm/pterm"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const meterInterval = 100 * time.Millisecond

var serveFlags struct {
	port        int
	device      string
	backend     string
	pipe        string
	volume      float64
	statusAddr  string
	noDiscovery bool
	saveDevice  bool
	noMeter     bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Receive audio from a phone and play it",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := applyServeFlags(cmd, cfg); err != nil {
			return err
		}
		return runServe(cfg)
	},
}

func init() {
	f := serveCmd.Flags()
	f.IntVarP(&serveFlags.port, "port", "p", 0, "UDP port to listen on")
	f.StringVarP(&serveFlags.device, "device", "d", "", "output device ID or name")
	f.StringVar(&serveFlags.backend, "backend", "", "output backend: host or clock")
	f.StringVar(&serveFlags.pipe, "pipe", "", "clock backend: FIFO or file receiving raw PCM")
	f.Float64Var(&serveFlags.volume, "volume", 1, "playback volume, 0.0 to 2.0")
	f.StringVar(&serveFlags.statusAddr, "status-addr", "", "status API address (\"\" disables it)")
	f.BoolVar(&serveFlags.noDiscovery, "no-discovery", false, "do not advertise over mDNS")
	f.BoolVar(&serveFlags.saveDevice, "save-device", false, "remember the selected output device in the config file")
	f.BoolVar(&serveFlags.noMeter, "no-meter", false, "do not draw the live level meter")
}

// applyServeFlags overrides cfg with the flags given on the command line.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Port = serveFlags.port
	}
	if flags.Changed("device") {
		cfg.Device = serveFlags.device
	}
	if flags.Changed("backend") {
		cfg.Backend = serveFlags.backend
	}
	if flags.Changed("pipe") {
		cfg.PipePath = serveFlags.pipe
	}
	if flags.Changed("volume") {
		cfg.Volume = serveFlags.volume
	}
	if flags.Changed("status-addr") {
		cfg.StatusAddr = serveFlags.statusAddr
	}
	if serveFlags.noDiscovery {
		cfg.Discovery = false
	}
	return cfg.Validate()
}

func runServe(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pterm.DefaultHeader.WithFullWidth().Println(fmt.Sprintf("MeoMic v%s", version))
	pterm.Println()

	backend := meomic.NewBackend(cfg)
	app := meomic.New(cfg, backend)
	defer func() {
		if err := app.Close(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "runServe",
				"error":    err.Error(),
			}).Warn("Error releasing audio backend")
		}
	}()

	app.OnClientConnected(func(addr netip.AddrPort) {
		pterm.Success.Printfln("Phone connected from %s", addr.Addr())
	})
	app.OnClientDisconnected(func() {
		pterm.Warning.Println("Phone disconnected")
	})

	if serveFlags.saveDevice {
		cfg.Device = app.OutputDevice()
		if err := cfg.Save(); err != nil {
			return fmt.Errorf("save device: %w", err)
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Run(ctx)
	}()

	if err := waitForBind(app, errCh); err != nil {
		return err
	}
	printConnectionInfo(cfg, app)

	if !serveFlags.noMeter {
		go runMeter(ctx, app)
	}

	err := <-errCh
	pterm.Println()
	pterm.Info.Println("Stopped")
	return err
}

// waitForBind returns once the receiver has a socket, or with Run's error
// if it gave up first.
func waitForBind(app *meomic.App, errCh chan error) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for app.ReceiverAddr() == nil {
		select {
		case err := <-errCh:
			if err == nil {
				err = fmt.Errorf("receiver stopped before binding")
			}
			return err
		case <-ticker.C:
		}
	}
	return nil
}

func printConnectionInfo(cfg *config.Config, app *meomic.App) {
	info, err := app.ConnectionInfo()
	if err != nil {
		pterm.Warning.Printfln("Could not detect a LAN address (%v); listening on %s", err, app.ReceiverAddr())
	} else {
		pterm.Info.Printfln("Enter this address on your phone: %s", pterm.LightGreen(info))
	}

	device := app.OutputDevice()
	if device == "" {
		device = "default"
	}
	pterm.Info.Printfln("Output device: %s", device)
	if cfg.StatusAddr != "" {
		pterm.Info.Printfln("Status API: http://%s/api/stats", cfg.StatusAddr)
	}
	pterm.Println()
}

// runMeter redraws a one-line level meter until ctx is done.
func runMeter(ctx context.Context, app *meomic.App) {
	area, err := pterm.DefaultArea.WithRemoveWhenDone().Start()
	if err != nil {
		return
	}
	defer area.Stop()

	ticker := time.NewTicker(meterInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			area.Update(meterLine(app.Snapshot()))
		}
	}
}

// meterLine renders the connection state and level as one line.
func meterLine(snap status.Snapshot) string {
	if !snap.Receiver.Connected {
		return pterm.Gray("Waiting for phone...")
	}
	return fmt.Sprintf("%s %s  %s %3.0f%%  loss %4.1f%%",
		pterm.Green("●"),
		snap.Receiver.ClientAddress,
		levelBar(snap.Playback.Level, 30),
		snap.Playback.Volume*100,
		snap.Receiver.LossRatePercent,
	)
}

// levelBar draws level (0..1) as a bar of width cells.
func levelBar(level float64, width int) string {
	level = min(max(level, 0), 1)
	filled := int(level*float64(width) + 0.5)
	return "[" + strings.Repeat("█", filled) + strings.Repeat("·", width-filled) + "]"
}
