// Package status serves a small local HTTP API for inspecting and steering
// a running receiver: connection stats, output devices, volume, and a
// WebSocket stream of the live audio level.
package status

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/meomic/meomic/device"
	"github.com/meomic/meomic/playback"
	"github.com/meomic/meomic/transport"
	"github.com/sirupsen/logrus"
)

// LevelInterval is how often /ws/level pushes a frame.
const LevelInterval = 50 * time.Millisecond

// shutdownTimeout bounds graceful shutdown in Run.
const shutdownTimeout = 5 * time.Second

// Snapshot is the body of GET /api/stats.
type Snapshot struct {
	Listen   string                 `json:"listen,omitempty"`
	Receiver transport.Stats        `json:"receiver"`
	Playback playback.RendererStats `json:"playback"`
}

// LevelFrame is one /ws/level message.
type LevelFrame struct {
	Level     float64 `json:"level"`
	Connected bool    `json:"connected"`
}

// Controller is what the server reads and steers.
type Controller interface {
	Snapshot() Snapshot
	Devices() ([]device.Info, error)
	OutputDevice() string
	SetOutputDevice(id string) error
	Volume() float64
	SetVolume(v float64)
	Level() float64
	Connected() bool
}

// Server is the status HTTP server.
type Server struct {
	app  *fiber.App
	ctrl Controller
}

// NewServer builds the routes; nothing listens until Run.
func NewServer(ctrl Controller) *Server {
	s := &Server{ctrl: ctrl}

	app := fiber.New(fiber.Config{
		AppName:               "MeoMic",
		DisableStartupMessage: true,
	})

	api := app.Group("/api")
	api.Get("/health", s.handleHealth)
	api.Get("/stats", s.handleStats)
	api.Get("/devices", s.handleDevices)
	api.Put("/volume", s.handleSetVolume)
	api.Put("/device", s.handleSetDevice)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/level", websocket.New(s.handleLevelWS))

	s.app = app
	return s
}

// App exposes the fiber app, mainly for app.Test.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run serves on ln until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, ln net.Listener) error {
	logrus.WithFields(logrus.Fields{
		"function": "Server.Run",
		"addr":     ln.Addr().String(),
	}).Info("Status server listening")

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.app.Listener(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.app.ShutdownWithContext(shutdownCtx); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Server.Run",
			"error":    err.Error(),
		}).Warn("Status server shutdown error")
	}
	<-errCh
	return nil
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) handleStats(c *fiber.Ctx) error {
	return c.JSON(s.ctrl.Snapshot())
}

func (s *Server) handleDevices(c *fiber.Ctx) error {
	infos, err := s.ctrl.Devices()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if infos == nil {
		infos = []device.Info{}
	}
	return c.JSON(fiber.Map{
		"devices":  infos,
		"selected": s.ctrl.OutputDevice(),
	})
}

// volumeRequest is the body of PUT /api/volume.
type volumeRequest struct {
	Volume *float64 `json:"volume"`
}

func (s *Server) handleSetVolume(c *fiber.Ctx) error {
	var req volumeRequest
	if err := c.BodyParser(&req); err != nil || req.Volume == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "body must be {\"volume\": number}",
		})
	}

	s.ctrl.SetVolume(*req.Volume)
	return c.JSON(fiber.Map{"volume": s.ctrl.Volume()})
}

// deviceRequest is the body of PUT /api/device.
type deviceRequest struct {
	ID string `json:"id"`
}

func (s *Server) handleSetDevice(c *fiber.Ctx) error {
	var req deviceRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "body must be {\"id\": string}",
		})
	}

	if err := s.ctrl.SetOutputDevice(req.ID); err != nil {
		status := fiber.StatusServiceUnavailable
		if errors.Is(err, device.ErrUnknownDevice) {
			status = fiber.StatusNotFound
		}
		return c.Status(status).JSON(fiber.Map{"error": err.Error()})
	}

	return c.JSON(fiber.Map{"device": s.ctrl.OutputDevice()})
}

// handleLevelWS pushes a LevelFrame every LevelInterval until the client
// goes away.
func (s *Server) handleLevelWS(c *websocket.Conn) {
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(LevelInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case <-ticker.C:
			frame := LevelFrame{Level: s.ctrl.Level(), Connected: s.ctrl.Connected()}
			if err := c.WriteJSON(frame); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "Server.handleLevelWS",
					"error":    err.Error(),
				}).Debug("Level stream closed")
				return
			}
		}
	}
}
