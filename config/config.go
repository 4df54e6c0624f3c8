// Package config loads meomic settings from a YAML file and MEOMIC_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/meomic/meomic/audio"
	"github.com/meomic/meomic/limits"
	"github.com/meomic/meomic/playback"
	"github.com/meomic/meomic/transport"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// FileName is the config file base name searched for when no path is given.
const FileName = "meomic"

// EnvPrefix prefixes environment overrides, e.g. MEOMIC_PORT or
// MEOMIC_RECEIVER_ACK_INTERVAL.
const EnvPrefix = "MEOMIC"

// Backend names.
const (
	BackendHost  = "host"
	BackendClock = "clock"
)

type Config struct {
	Port        int     `mapstructure:"port"`
	BindAddress string  `mapstructure:"bind_address"`
	Backend     string  `mapstructure:"backend"`
	Device      string  `mapstructure:"device"`
	PipePath    string  `mapstructure:"pipe_path"`
	Volume      float64 `mapstructure:"volume"`
	StatusAddr  string  `mapstructure:"status_addr"`
	Discovery   bool    `mapstructure:"discovery"`
	LogLevel    string  `mapstructure:"log_level"`
	LogFormat   string  `mapstructure:"log_format"`

	Receiver ReceiverSettings `mapstructure:"receiver"`
	Playback PlaybackSettings `mapstructure:"playback"`

	// path is the file the config was read from, if any.
	path string
}

type ReceiverSettings struct {
	ReceiveTimeout    time.Duration `mapstructure:"receive_timeout"`
	ConnectionTimeout time.Duration `mapstructure:"connection_timeout"`
	AckInterval       time.Duration `mapstructure:"ack_interval"`
	LossThreshold     uint32        `mapstructure:"loss_threshold"`
	SocketBuffer      int           `mapstructure:"socket_buffer"`
}

type PlaybackSettings struct {
	BlockFrames int           `mapstructure:"block_frames"`
	MaxBuffer   time.Duration `mapstructure:"max_buffer"`
}

func Default() *Config {
	rc := transport.DefaultReceiverConfig()
	return &Config{
		Port:       transport.DefaultPort,
		Backend:    BackendHost,
		Volume:     audio.UnityGain,
		StatusAddr: "127.0.0.1:48889",
		Discovery:  true,
		LogLevel:   "info",
		LogFormat:  "text",
		Receiver: ReceiverSettings{
			ReceiveTimeout:    rc.ReceiveTimeout,
			ConnectionTimeout: rc.ConnectionTimeout,
			AckInterval:       rc.AckInterval,
			LossThreshold:     rc.LossThreshold,
			SocketBuffer:      rc.SocketBuffer,
		},
		Playback: PlaybackSettings{
			BlockFrames: limits.DefaultBlockFrames,
			MaxBuffer:   limits.DurationOf(limits.MaxBufferedSamples),
		},
	}
}

// Load reads cfgFile, or meomic.yaml from the user config dir or the
// working directory when cfgFile is empty. A missing search-path file is
// not an error; a missing explicit file is. The result is validated.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		if dir, err := configDir(); err == nil {
			v.AddConfigPath(dir)
		}
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.path = v.ConfigFileUsed()

	logrus.WithFields(logrus.Fields{
		"function": "config.Load",
		"file":     cfg.path,
	}).Debug("Configuration loaded")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override keys that
// are absent from the file.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("port", d.Port)
	v.SetDefault("bind_address", d.BindAddress)
	v.SetDefault("backend", d.Backend)
	v.SetDefault("device", d.Device)
	v.SetDefault("pipe_path", d.PipePath)
	v.SetDefault("volume", d.Volume)
	v.SetDefault("status_addr", d.StatusAddr)
	v.SetDefault("discovery", d.Discovery)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_format", d.LogFormat)
	v.SetDefault("receiver.receive_timeout", d.Receiver.ReceiveTimeout)
	v.SetDefault("receiver.connection_timeout", d.Receiver.ConnectionTimeout)
	v.SetDefault("receiver.ack_interval", d.Receiver.AckInterval)
	v.SetDefault("receiver.loss_threshold", d.Receiver.LossThreshold)
	v.SetDefault("receiver.socket_buffer", d.Receiver.SocketBuffer)
	v.SetDefault("playback.block_frames", d.Playback.BlockFrames)
	v.SetDefault("playback.max_buffer", d.Playback.MaxBuffer)
}

// Path returns the file the config was loaded from, or "".
func (c *Config) Path() string {
	return c.path
}

// ReceiverConfig converts the receiver settings for transport.NewReceiver.
func (c *Config) ReceiverConfig() transport.ReceiverConfig {
	return transport.ReceiverConfig{
		BindAddress:       c.BindAddress,
		ReceiveTimeout:    c.Receiver.ReceiveTimeout,
		ConnectionTimeout: c.Receiver.ConnectionTimeout,
		AckInterval:       c.Receiver.AckInterval,
		LossThreshold:     c.Receiver.LossThreshold,
		SocketBuffer:      c.Receiver.SocketBuffer,
	}
}

// RendererConfig converts the playback settings for playback.NewRenderer.
func (c *Config) RendererConfig() playback.RendererConfig {
	return playback.RendererConfig{
		DeviceID:    c.Device,
		BlockFrames: c.Playback.BlockFrames,
		MaxBuffered: c.Playback.MaxBuffer,
		Volume:      c.Volume,
	}
}

// fileConfig is the on-disk layout. Durations are written as strings
// ("500ms") so the file stays readable.
type fileConfig struct {
	Port        int     `yaml:"port"`
	BindAddress string  `yaml:"bind_address"`
	Backend     string  `yaml:"backend"`
	Device      string  `yaml:"device"`
	PipePath    string  `yaml:"pipe_path"`
	Volume      float64 `yaml:"volume"`
	StatusAddr  string  `yaml:"status_addr"`
	Discovery   bool    `yaml:"discovery"`
	LogLevel    string  `yaml:"log_level"`
	LogFormat   string  `yaml:"log_format"`
	Receiver    struct {
		ReceiveTimeout    string `yaml:"receive_timeout"`
		ConnectionTimeout string `yaml:"connection_timeout"`
		AckInterval       string `yaml:"ack_interval"`
		LossThreshold     uint32 `yaml:"loss_threshold"`
		SocketBuffer      int    `yaml:"socket_buffer"`
	} `yaml:"receiver"`
	Playback struct {
		BlockFrames int    `yaml:"block_frames"`
		MaxBuffer   string `yaml:"max_buffer"`
	} `yaml:"playback"`
}

func (c *Config) toFile() fileConfig {
	f := fileConfig{
		Port:        c.Port,
		BindAddress: c.BindAddress,
		Backend:     c.Backend,
		Device:      c.Device,
		PipePath:    c.PipePath,
		Volume:      c.Volume,
		StatusAddr:  c.StatusAddr,
		Discovery:   c.Discovery,
		LogLevel:    c.LogLevel,
		LogFormat:   c.LogFormat,
	}
	f.Receiver.ReceiveTimeout = c.Receiver.ReceiveTimeout.String()
	f.Receiver.ConnectionTimeout = c.Receiver.ConnectionTimeout.String()
	f.Receiver.AckInterval = c.Receiver.AckInterval.String()
	f.Receiver.LossThreshold = c.Receiver.LossThreshold
	f.Receiver.SocketBuffer = c.Receiver.SocketBuffer
	f.Playback.BlockFrames = c.Playback.BlockFrames
	f.Playback.MaxBuffer = c.Playback.MaxBuffer.String()
	return f
}

// Save writes the config back to the file it was loaded from, or to
// meomic.yaml in the user config dir.
func (c *Config) Save() error {
	path := c.path
	if path == "" {
		dir, err := configDir()
		if err != nil {
			return fmt.Errorf("locate config dir: %w", err)
		}
		path = filepath.Join(dir, FileName+".yaml")
	}
	return c.SaveTo(path)
}

// SaveTo writes the config as YAML to path, creating parent directories.
func (c *Config) SaveTo(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	data, err := yaml.Marshal(c.toFile())
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	c.path = path

	logrus.WithFields(logrus.Fields{
		"function": "Config.SaveTo",
		"file":     path,
	}).Info("Configuration saved")
	return nil
}

func configDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "meomic"), nil
}
