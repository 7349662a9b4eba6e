package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values can be written as "500ms" or "10s".
type Duration time.Duration

// UnmarshalYAML parses a duration string or a raw nanosecond integer.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := node.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration value on line %d", node.Line)
	}
	*d = Duration(n)
	return nil
}

// MarshalYAML renders the duration in time.Duration string form.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// IPCRateLimit bounds per-connection message throughput.
type IPCRateLimit struct {
	MaxMessages int      `yaml:"max_messages"`
	Window      Duration `yaml:"window"`
}

// Config holds all daemon configuration.
type Config struct {
	// ConfidenceThreshold is the minimum ASR confidence accepted by the gate.
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	// MinCommandInterval is the minimum spacing between accepted commands.
	MinCommandInterval Duration `yaml:"min_command_interval"`
	// ConfirmTimeout bounds how long a high-risk intent waits for "confirm".
	ConfirmTimeout Duration `yaml:"confirm_timeout"`
	// SelectionTimeout bounds how long a selection prompt stays open.
	SelectionTimeout Duration `yaml:"selection_timeout"`
	// HighRiskCommands extends the built-in high-risk intent set.
	HighRiskCommands []string `yaml:"high_risk_commands"`

	SocketPath   string `yaml:"socket_path"`
	AuditLogPath string `yaml:"audit_log_path"`

	// ReplayWindow is how long a consumed IPC nonce stays blocked.
	ReplayWindow Duration     `yaml:"replay_window"`
	IPCRateLimit IPCRateLimit `yaml:"ipc_rate_limit"`

	// EmbedModel names the embedding model used for semantic intent matching.
	// Empty disables the semantic stage.
	EmbedModel string `yaml:"embed_model"`
	// SemanticFloor is the minimum cosine similarity for a semantic match.
	SemanticFloor float64 `yaml:"semantic_floor"`
	// PhoneticFloor is the minimum normalized edit similarity for a
	// phonetic match against critical command triggers.
	PhoneticFloor float64 `yaml:"phonetic_floor"`
}

// maxPromptTimeout is the hard ceiling on confirmation and selection windows.
const maxPromptTimeout = 10 * time.Second

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ConfidenceThreshold: 0.5,
		MinCommandInterval:  Duration(500 * time.Millisecond),
		ConfirmTimeout:      Duration(10 * time.Second),
		SelectionTimeout:    Duration(10 * time.Second),
		SocketPath:          DefaultSocketPath(),
		AuditLogPath:        DefaultAuditLogPath(),
		ReplayWindow:        Duration(30 * time.Second),
		IPCRateLimit: IPCRateLimit{
			MaxMessages: 20,
			Window:      Duration(time.Second),
		},
		SemanticFloor: 0.78,
		PhoneticFloor: 0.7,
	}
}

// DefaultSocketPath returns the user-scoped IPC socket location.
func DefaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "voxgate.sock")
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("voxgate-%d.sock", os.Getuid()))
}

// DefaultAuditLogPath returns the user-scoped audit log location.
func DefaultAuditLogPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "voxgate-audit.jsonl")
	}
	return filepath.Join(home, ".voxgate", "audit.jsonl")
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".voxgate", "config.yaml")
}

// Load reads configuration from a YAML file.
// Empty path falls back to ~/.voxgate/config.yaml.
// Missing file returns defaults. Invalid YAML or values return an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, nil
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Start with defaults, YAML overwrites only specified fields.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges. Called by Load and after hot reloads.
func (c *Config) Validate() error {
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold %v outside [0,1]", c.ConfidenceThreshold)
	}
	if c.MinCommandInterval.Std() < 0 {
		return fmt.Errorf("min_command_interval must not be negative")
	}
	if c.ConfirmTimeout.Std() <= 0 || c.ConfirmTimeout.Std() > maxPromptTimeout {
		return fmt.Errorf("confirm_timeout %s outside (0, %s]", c.ConfirmTimeout.Std(), maxPromptTimeout)
	}
	if c.SelectionTimeout.Std() <= 0 || c.SelectionTimeout.Std() > maxPromptTimeout {
		return fmt.Errorf("selection_timeout %s outside (0, %s]", c.SelectionTimeout.Std(), maxPromptTimeout)
	}
	if c.ReplayWindow.Std() <= 0 {
		return fmt.Errorf("replay_window must be positive")
	}
	if c.IPCRateLimit.MaxMessages <= 0 || c.IPCRateLimit.Window.Std() <= 0 {
		return fmt.Errorf("ipc_rate_limit requires positive max_messages and window")
	}
	if c.SemanticFloor < 0 || c.SemanticFloor > 1 {
		return fmt.Errorf("semantic_floor %v outside [0,1]", c.SemanticFloor)
	}
	if c.PhoneticFloor < 0 || c.PhoneticFloor > 1 {
		return fmt.Errorf("phonetic_floor %v outside [0,1]", c.PhoneticFloor)
	}
	return nil
}
