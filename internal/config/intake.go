package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/banshee-data/arduimu/internal/fsutil"
	"github.com/banshee-data/arduimu/internal/packet"
	"github.com/banshee-data/arduimu/internal/reader"
	"github.com/banshee-data/arduimu/internal/transport"
)

// DefaultConfigPath is the path to the canonical intake defaults file.
const DefaultConfigPath = "config/intake.defaults.json"

const (
	defaultPort              = "/dev/ttyUSB0"
	defaultReconnectInterval = 5 * time.Second
	defaultLatencyWindow     = 20
)

// IntakeConfig holds the connection parameters the host injects at start-up.
// Every field is optional; the Get* methods supply defaults for fields that
// are absent from the JSON.
type IntakeConfig struct {
	// Serial link
	Port     *string `json:"port,omitempty"`
	BaudRate *int    `json:"baud_rate,omitempty"`
	DataBits *int    `json:"data_bits,omitempty"`
	StopBits *int    `json:"stop_bits,omitempty"`
	Parity   *string `json:"parity,omitempty"`

	// Framing
	Mode            *string `json:"mode,omitempty"` // "binary" or "text"
	FieldDelimiters *string `json:"field_delimiters,omitempty"`

	// Session
	ReadTimeout       *string `json:"read_timeout,omitempty"`       // duration string like "5s"
	ReconnectInterval *string `json:"reconnect_interval,omitempty"` // duration string like "5s"

	// Consumers
	SensorIDs     []int `json:"sensor_ids,omitempty"`
	LatencyWindow *int  `json:"latency_window,omitempty"`
}

func ptrString(v string) *string { return &v }
func ptrInt(v int) *int          { return &v }

// EmptyIntakeConfig returns an IntakeConfig with all fields unset.
func EmptyIntakeConfig() *IntakeConfig {
	return &IntakeConfig{}
}

// DefaultIntakeConfig returns a config with every field set to its default.
func DefaultIntakeConfig() *IntakeConfig {
	return &IntakeConfig{
		Port:              ptrString(defaultPort),
		BaudRate:          ptrInt(transport.DefaultBaudRate),
		DataBits:          ptrInt(8),
		StopBits:          ptrInt(1),
		Parity:            ptrString("N"),
		Mode:              ptrString(reader.ModeBinary.String()),
		FieldDelimiters:   ptrString(packet.DefaultFieldDelimiters),
		ReadTimeout:       ptrString(transport.DefaultReadTimeout.String()),
		ReconnectInterval: ptrString(defaultReconnectInterval.String()),
		SensorIDs:         []int{0},
		LatencyWindow:     ptrInt(defaultLatencyWindow),
	}
}

// LoadIntakeConfig loads an IntakeConfig from a JSON file. The file must have
// a .json extension and be no larger than 1MB. Fields omitted from the file
// keep their defaults.
func LoadIntakeConfig(path string) (*IntakeConfig, error) {
	return LoadIntakeConfigFS(fsutil.OSFileSystem{}, path)
}

// LoadIntakeConfigFS is LoadIntakeConfig reading from fsys.
func LoadIntakeConfigFS(fsys fsutil.FileSystem, path string) (*IntakeConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := fsys.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := fsys.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyIntakeConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configured values are usable.
func (c *IntakeConfig) Validate() error {
	if c.Port != nil && *c.Port == "" {
		return fmt.Errorf("port must not be empty")
	}

	if c.BaudRate != nil && *c.BaudRate <= 0 {
		return fmt.Errorf("baud_rate must be positive, got %d", *c.BaudRate)
	}

	if _, err := c.PortOptions().Normalise(); err != nil {
		return err
	}

	if c.Mode != nil {
		if _, err := reader.ParseMode(*c.Mode); err != nil {
			return err
		}
	}

	if c.FieldDelimiters != nil && *c.FieldDelimiters == "" {
		return fmt.Errorf("field_delimiters must not be empty")
	}

	for name, v := range map[string]*string{
		"read_timeout":       c.ReadTimeout,
		"reconnect_interval": c.ReconnectInterval,
	} {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, *v)
		}
	}

	for _, id := range c.SensorIDs {
		if id < 0 || id > 255 {
			return fmt.Errorf("sensor id %d out of range 0-255", id)
		}
	}

	if c.LatencyWindow != nil && *c.LatencyWindow < 1 {
		return fmt.Errorf("latency_window must be at least 1, got %d", *c.LatencyWindow)
	}

	return nil
}

// GetPort returns the serial device path or the default.
func (c *IntakeConfig) GetPort() string {
	if c.Port == nil || *c.Port == "" {
		return defaultPort
	}
	return *c.Port
}

// GetBaudRate returns the baud rate or the default.
func (c *IntakeConfig) GetBaudRate() int {
	if c.BaudRate == nil {
		return transport.DefaultBaudRate
	}
	return *c.BaudRate
}

// GetMode returns the wire format, falling back to binary on bad input.
func (c *IntakeConfig) GetMode() reader.Mode {
	if c.Mode == nil {
		return reader.ModeBinary
	}
	m, err := reader.ParseMode(*c.Mode)
	if err != nil {
		return reader.ModeBinary
	}
	return m
}

// GetFieldDelimiters returns the text field separators or the default.
func (c *IntakeConfig) GetFieldDelimiters() string {
	if c.FieldDelimiters == nil || *c.FieldDelimiters == "" {
		return packet.DefaultFieldDelimiters
	}
	return *c.FieldDelimiters
}

// GetReadTimeout parses and returns the ReadTimeout as a time.Duration.
func (c *IntakeConfig) GetReadTimeout() time.Duration {
	return parseDurationOr(c.ReadTimeout, transport.DefaultReadTimeout)
}

// GetReconnectInterval parses and returns the ReconnectInterval as a
// time.Duration.
func (c *IntakeConfig) GetReconnectInterval() time.Duration {
	return parseDurationOr(c.ReconnectInterval, defaultReconnectInterval)
}

// GetSensorIDs returns the sensor ids consumers track, or sensor 0.
func (c *IntakeConfig) GetSensorIDs() []int {
	if len(c.SensorIDs) == 0 {
		return []int{0}
	}
	return append([]int(nil), c.SensorIDs...)
}

// GetLatencyWindow returns the rolling latency window size or the default.
func (c *IntakeConfig) GetLatencyWindow() int {
	if c.LatencyWindow == nil || *c.LatencyWindow < 1 {
		return defaultLatencyWindow
	}
	return *c.LatencyWindow
}

// PortOptions converts the serial fields to transport options. Unset fields
// are left zero so that Normalise applies the transport defaults.
func (c *IntakeConfig) PortOptions() transport.PortOptions {
	var opts transport.PortOptions
	if c.BaudRate != nil {
		opts.BaudRate = *c.BaudRate
	}
	if c.DataBits != nil {
		opts.DataBits = *c.DataBits
	}
	if c.StopBits != nil {
		opts.StopBits = *c.StopBits
	}
	if c.Parity != nil {
		opts.Parity = *c.Parity
	}
	opts.ReadTimeout = c.GetReadTimeout()
	return opts
}

// ReaderConfig returns the per-session reader settings.
func (c *IntakeConfig) ReaderConfig() reader.Config {
	cfg := reader.DefaultConfig()
	cfg.Mode = c.GetMode()
	cfg.FieldDelimiters = c.GetFieldDelimiters()
	return cfg
}

func parseDurationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
