package meomic

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"strconv"
	"sync"

	"github.com/meomic/meomic/config"
	"github.com/meomic/meomic/device"
	"github.com/meomic/meomic/discovery"
	"github.com/meomic/meomic/playback"
	"github.com/meomic/meomic/status"
	"github.com/meomic/meomic/transport"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// App wires the receiver to the renderer and runs the supporting services.
//
// A connecting phone starts the renderer; a disconnect or timeout stops it,
// so the output device is only held while audio can flow.
type App struct {
	cfg      *config.Config
	backend  device.Backend
	receiver *transport.Receiver
	renderer *playback.Renderer

	advertiser *discovery.Advertiser

	callbackMu     sync.RWMutex
	onConnected    func(netip.AddrPort)
	onDisconnected func()
}

// New builds an App from cfg on backend. The output device is resolved
// here: a configured device is looked up by ID or name, and when none is
// configured (or it is missing) the first virtual device is chosen.
func New(cfg *config.Config, backend device.Backend) *App {
	a := &App{
		cfg:      cfg,
		backend:  backend,
		receiver: transport.NewReceiver(cfg.ReceiverConfig()),
	}

	rc := cfg.RendererConfig()
	rc.DeviceID = a.resolveDevice(cfg.Device)
	a.renderer = playback.NewRenderer(backend, rc)

	if cfg.Discovery {
		a.advertiser = discovery.NewAdvertiser()
	}

	a.receiver.OnAudioData(a.handleAudio)
	a.receiver.OnClientConnected(a.handleConnected)
	a.receiver.OnClientDisconnected(a.handleDisconnected)
	a.receiver.OnError(func(err error) {
		logrus.WithFields(logrus.Fields{
			"function": "App.receiver",
			"error":    err.Error(),
		}).Warn("Receiver socket error")
	})

	return a
}

// resolveDevice maps a configured ID or name to a device ID. An empty
// result means the backend default.
func (a *App) resolveDevice(want string) string {
	infos, err := a.backend.Devices()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "App.resolveDevice",
			"error":    err.Error(),
		}).Warn("Could not enumerate output devices, using default")
		return want
	}

	if want != "" {
		if info, ok := device.Lookup(infos, want); ok {
			return info.ID
		}
		logrus.WithFields(logrus.Fields{
			"function": "App.resolveDevice",
			"device":   want,
		}).Warn("Configured output device not found")
	}

	if info, ok := device.FindVirtual(infos); ok {
		logrus.WithFields(logrus.Fields{
			"function": "App.resolveDevice",
			"device":   info.Name,
			"id":       info.ID,
		}).Info("Auto-selected virtual output device")
		return info.ID
	}

	logrus.WithFields(logrus.Fields{
		"function": "App.resolveDevice",
	}).Warn("No virtual audio device found, using backend default")
	return ""
}

// OnClientConnected registers an extra listener for new connections.
func (a *App) OnClientConnected(fn func(netip.AddrPort)) {
	a.callbackMu.Lock()
	defer a.callbackMu.Unlock()
	a.onConnected = fn
}

// OnClientDisconnected registers an extra listener for ended connections.
func (a *App) OnClientDisconnected(fn func()) {
	a.callbackMu.Lock()
	defer a.callbackMu.Unlock()
	a.onDisconnected = fn
}

func (a *App) handleAudio(pcm []byte) {
	if err := a.renderer.Write(pcm); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "App.handleAudio",
			"error":    err.Error(),
		}).Debug("Audio chunk dropped")
	}
}

func (a *App) handleConnected(addr netip.AddrPort) {
	logrus.WithFields(logrus.Fields{
		"function": "App.handleConnected",
		"client":   addr.String(),
	}).Info("Phone connected")

	if err := a.renderer.Start(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "App.handleConnected",
			"error":    err.Error(),
		}).Error("Audio output unavailable; audio from this phone is dropped")
	}

	a.callbackMu.RLock()
	fn := a.onConnected
	a.callbackMu.RUnlock()
	if fn != nil {
		fn(addr)
	}
}

func (a *App) handleDisconnected() {
	logrus.WithFields(logrus.Fields{
		"function": "App.handleDisconnected",
	}).Info("Phone disconnected")

	if err := a.renderer.Stop(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "App.handleDisconnected",
			"error":    err.Error(),
		}).Warn("Error stopping audio output")
	}

	a.callbackMu.RLock()
	fn := a.onDisconnected
	a.callbackMu.RUnlock()
	if fn != nil {
		fn()
	}
}

// Run binds the receiver and serves until ctx is done. A bind failure is
// returned immediately as *transport.BindError. Advertisement failures are
// logged and do not stop the app.
func (a *App) Run(ctx context.Context) error {
	if err := a.receiver.Start(a.cfg.Port); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	if a.advertiser != nil {
		// Advertise the bound port; the configured one may be 0.
		if err := a.advertiser.Start(a.port()); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "App.Run",
				"error":    err.Error(),
			}).Warn("Service advertisement unavailable; phones must enter the address manually")
		}
	}

	if a.cfg.StatusAddr != "" {
		ln, err := net.Listen("tcp", a.cfg.StatusAddr)
		if err != nil {
			a.shutdown()
			return fmt.Errorf("status server: %w", err)
		}
		srv := status.NewServer(a)
		g.Go(func() error {
			return srv.Run(gctx, ln)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		a.shutdown()
		return nil
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) shutdown() {
	if a.advertiser != nil {
		a.advertiser.Stop()
	}
	if err := a.receiver.Stop(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "App.shutdown",
			"error":    err.Error(),
		}).Warn("Error stopping receiver")
	}
	if err := a.renderer.Stop(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "App.shutdown",
			"error":    err.Error(),
		}).Warn("Error stopping audio output")
	}
	logrus.WithFields(logrus.Fields{
		"function": "App.shutdown",
	}).Info("Shut down")
}

// Close releases the backend if it holds resources. Call after Run returns.
func (a *App) Close() error {
	if c, ok := a.backend.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// ReceiverAddr returns the bound UDP address, or nil before Run binds.
func (a *App) ReceiverAddr() net.Addr {
	return a.receiver.LocalAddr()
}

// ConnectionInfo returns the "ip:port" a phone should stream to.
func (a *App) ConnectionInfo() (string, error) {
	ip, err := discovery.LocalIP()
	if err != nil {
		return "", err
	}
	return net.JoinHostPort(ip.String(), strconv.Itoa(a.port())), nil
}

func (a *App) port() int {
	if addr, ok := a.receiver.LocalAddr().(*net.UDPAddr); ok {
		return addr.Port
	}
	return a.cfg.Port
}

// Snapshot implements status.Controller.
func (a *App) Snapshot() status.Snapshot {
	snap := status.Snapshot{
		Receiver: a.receiver.Stats(),
		Playback: a.renderer.Stats(),
	}
	if addr := a.receiver.LocalAddr(); addr != nil {
		snap.Listen = addr.String()
	}
	return snap
}

// Devices lists output devices.
func (a *App) Devices() ([]device.Info, error) {
	return a.renderer.ListOutputDevices()
}

// OutputDevice returns the selected device ID.
func (a *App) OutputDevice() string {
	return a.renderer.OutputDevice()
}

// SetOutputDevice switches to the device with the given ID or name. An
// unknown device is reported as a *device.OpenError wrapping
// device.ErrUnknownDevice.
func (a *App) SetOutputDevice(idOrName string) error {
	infos, err := a.renderer.ListOutputDevices()
	if err != nil {
		return &device.OpenError{DeviceID: idOrName, Err: err}
	}
	info, ok := device.Lookup(infos, idOrName)
	if !ok {
		return &device.OpenError{DeviceID: idOrName, Err: device.ErrUnknownDevice}
	}
	return a.renderer.SetOutputDevice(info.ID)
}

// Volume returns the playback gain.
func (a *App) Volume() float64 {
	return a.renderer.Volume()
}

// SetVolume sets the playback gain, clamped to [0, 2].
func (a *App) SetVolume(v float64) {
	a.renderer.SetVolume(v)
}

// Level returns the live audio level in [0, 1].
func (a *App) Level() float64 {
	return a.renderer.Level()
}

// Connected reports whether a phone is streaming.
func (a *App) Connected() bool {
	return a.receiver.Stats().Connected
}

var _ status.Controller = (*App)(nil)
