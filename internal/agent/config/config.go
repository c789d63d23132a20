package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/brianhealey/smart-inventory/internal/agent/processing"
)

// Config is the device agent configuration, loaded from a JSON file.
// String values of the form "env:NAME" anywhere in the document are
// substituted from the environment at load time; a missing variable
// resolves to absent, not an error.
type Config struct {
	Device  DeviceConfig   `json:"device"`
	Network NetworkConfig  `json:"network"`
	Storage StorageConfig  `json:"storage"`
	Runtime RuntimeConfig  `json:"runtime"`
	Sensors []SensorConfig `json:"sensors"`
}

type DeviceConfig struct {
	ID       string `json:"id"`
	Location string `json:"location,omitempty"`
	Firmware string `json:"firmware,omitempty"`
}

type NetworkConfig struct {
	BaseURL               string `json:"base_url"`
	APIToken              string `json:"api_token,omitempty"`
	CACertPath            string `json:"ca_cert_path,omitempty"`
	BatchSize             int    `json:"batch_size,omitempty"`
	FlushIntervalSeconds  int    `json:"flush_interval_seconds,omitempty"`
	RetryMaxSeconds       int    `json:"retry_max_seconds,omitempty"`
	ConnectTimeoutSeconds int    `json:"connect_timeout_seconds,omitempty"`
	ReadTimeoutSeconds    int    `json:"read_timeout_seconds,omitempty"`
}

// TimeoutSeconds is the single deadline handed to the HTTP client; the
// in-flight upload is never cancelled early, this bounds the worst case.
func (n NetworkConfig) TimeoutSeconds() int {
	if n.ConnectTimeoutSeconds > n.ReadTimeoutSeconds {
		return n.ConnectTimeoutSeconds
	}
	return n.ReadTimeoutSeconds
}

type StorageConfig struct {
	QueueDBPath        string `json:"queue_db_path"`
	MaxQueueRows       int    `json:"max_queue_rows,omitempty"`
	MaxQueueAgeSeconds int    `json:"max_queue_age_seconds,omitempty"`
}

type RuntimeConfig struct {
	PollIntervalMS     int  `json:"poll_interval_ms,omitempty"`
	ReportOnChangeOnly bool `json:"report_on_change_only"`
}

// SensorConfig keeps the well-known fields typed and collects everything
// else into Params for the driver factory.
type SensorConfig struct {
	ID                 string
	Type               string
	Mode               string
	DebounceMS         int
	Thresholds         *processing.Thresholds
	StateMap           map[string]string
	ReportOnChangeOnly *bool
	Params             map[string]any
}

func (s *SensorConfig) UnmarshalJSON(data []byte) error {
	var known struct {
		ID                 string                 `json:"id"`
		Type               string                 `json:"type"`
		Mode               string                 `json:"mode"`
		DebounceMS         *int                   `json:"debounce_ms"`
		Thresholds         *processing.Thresholds `json:"thresholds"`
		StateMap           map[string]string      `json:"state_map"`
		ReportOnChangeOnly *bool                  `json:"report_on_change_only"`
	}
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}

	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	knownKeys := map[string]bool{
		"id": true, "type": true, "mode": true, "debounce_ms": true,
		"thresholds": true, "state_map": true, "report_on_change_only": true,
	}
	params := make(map[string]any)
	for key, value := range all {
		if !knownKeys[key] {
			params[key] = value
		}
	}

	s.ID = known.ID
	s.Type = known.Type
	s.Mode = known.Mode
	s.DebounceMS = 100
	if known.DebounceMS != nil {
		s.DebounceMS = *known.DebounceMS
	}
	s.Thresholds = known.Thresholds
	s.StateMap = known.StateMap
	s.ReportOnChangeOnly = known.ReportOnChangeOnly
	s.Params = params
	return nil
}

// EffectiveMode falls back from the explicit mode to one implied by the
// driver type.
func (s *SensorConfig) EffectiveMode() string {
	if s.Mode != "" {
		return s.Mode
	}
	if s.Type == "digital_gpio" {
		return processing.ModeDigital
	}
	return processing.ModeAnalog
}

// EffectiveReportOnChange resolves the per-sensor override against the
// runtime default.
func (s *SensorConfig) EffectiveReportOnChange(runtime RuntimeConfig) bool {
	if s.ReportOnChangeOnly != nil {
		return *s.ReportOnChangeOnly
	}
	return runtime.ReportOnChangeOnly
}

func (c *Config) Validate() error {
	if c.Device.ID == "" {
		return fmt.Errorf("device.id is required")
	}
	if c.Network.BaseURL == "" {
		return fmt.Errorf("network.base_url is required")
	}
	if c.Storage.QueueDBPath == "" {
		return fmt.Errorf("storage.queue_db_path is required")
	}
	if len(c.Sensors) == 0 {
		return fmt.Errorf("at least one sensor is required")
	}
	return nil
}

func applyDefaults(c *Config) {
	if c.Device.Firmware == "" {
		c.Device.Firmware = "0.1.0"
	}
	if c.Network.BatchSize == 0 {
		c.Network.BatchSize = 25
	}
	if c.Network.FlushIntervalSeconds == 0 {
		c.Network.FlushIntervalSeconds = 15
	}
	if c.Network.RetryMaxSeconds == 0 {
		c.Network.RetryMaxSeconds = 300
	}
	if c.Network.ConnectTimeoutSeconds == 0 {
		c.Network.ConnectTimeoutSeconds = 5
	}
	if c.Network.ReadTimeoutSeconds == 0 {
		c.Network.ReadTimeoutSeconds = 10
	}
	if c.Runtime.PollIntervalMS == 0 {
		c.Runtime.PollIntervalMS = 200
	}
}

// Load reads, env-resolves, and validates the config file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var document any
	if err := json.Unmarshal(raw, &document); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	resolved, err := json.Marshal(resolveEnv(document))
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode config: %w", err)
	}

	cfg := &Config{Runtime: RuntimeConfig{ReportOnChangeOnly: true}}
	if err := json.Unmarshal(resolved, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolveEnv walks the decoded document and substitutes env:NAME strings,
// recursively through objects and arrays.
func resolveEnv(value any) any {
	switch v := value.(type) {
	case map[string]any:
		resolved := make(map[string]any, len(v))
		for key, item := range v {
			resolved[key] = resolveEnv(item)
		}
		return resolved
	case []any:
		resolved := make([]any, len(v))
		for i, item := range v {
			resolved[i] = resolveEnv(item)
		}
		return resolved
	case string:
		if name, ok := strings.CutPrefix(v, "env:"); ok {
			if env, found := os.LookupEnv(name); found {
				return env
			}
			return nil
		}
		return v
	}
	return value
}
