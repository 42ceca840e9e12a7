package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/shlex"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ============================================================================
// Configuration Structures
// ============================================================================

const (
	DefaultHost           = "127.0.0.1"
	DefaultPort           = 40506
	DefaultReadyName      = "ServerIsRunning"
	DefaultStatusSchedule = "@every 1m"
	DefaultChildCount     = 10
	DefaultChildCommand   = "sleeper"
)

// Config represents the supervisor settings in supervisor.yaml
type Config struct {
	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"`

	// Name of the cross-process readiness signal
	ReadyName string `yaml:"ready_name,omitempty"`

	// Cron schedule for the status report ("-" disables it)
	StatusSchedule string `yaml:"status_schedule,omitempty"`

	AttachFailureWebhookURL string `yaml:"attach_failure_webhook_url,omitempty"`

	// BasicAuth credentials in format "username:password"
	Authorization string `yaml:"authorization,omitempty"`

	Children ChildConfig `yaml:"children"`
}

// ChildConfig describes the worker cohort
type ChildConfig struct {
	Command        string            `yaml:"command"`
	Count          *int              `yaml:"count,omitempty"`           // nil means DefaultChildCount
	RedirectOutput *bool             `yaml:"redirect_output,omitempty"` // nil means true
	HideWindow     *bool             `yaml:"hide_window,omitempty"`     // nil means true
	Workdir        string            `yaml:"workdir,omitempty"`
	Env            map[string]string `yaml:"env,omitempty"`
}

// ChildCount returns the configured number of children
func (cc *ChildConfig) ChildCount() int {
	if cc.Count == nil {
		return DefaultChildCount
	}
	return *cc.Count
}

// IsRedirected returns true if child output is piped back to the supervisor
func (cc *ChildConfig) IsRedirected() bool {
	if cc.RedirectOutput == nil {
		return true
	}
	return *cc.RedirectOutput
}

// IsHidden returns true if children are started without a console window
func (cc *ChildConfig) IsHidden() bool {
	if cc.HideWindow == nil {
		return true
	}
	return *cc.HideWindow
}

// StatusReportEnabled returns false when the status report is switched off
func (c *Config) StatusReportEnabled() bool {
	return c.StatusSchedule != "-"
}

// Default returns the configuration used when no file exists
func Default() Config {
	var c Config
	c.applyDefaults()
	return c
}

// Load loads the configuration from path. A missing file yields the defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.ReadyName == "" {
		c.ReadyName = DefaultReadyName
	}
	if c.StatusSchedule == "" {
		c.StatusSchedule = DefaultStatusSchedule
	}
	if c.Children.Command == "" {
		c.Children.Command = DefaultChildCommand
	}
}

// Validate checks values that defaults cannot repair
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Children.ChildCount() < 0 {
		return fmt.Errorf("invalid child count %d", c.Children.ChildCount())
	}
	if strings.ContainsAny(c.ReadyName, `/\`) {
		return fmt.Errorf("ready_name %q must not contain path separators", c.ReadyName)
	}
	if _, err := c.Children.Argv(); err != nil {
		return err
	}
	return nil
}

// Address returns host:port for the HTTP service
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Argv parses the command string into the executable and its arguments
func (cc *ChildConfig) Argv() ([]string, error) {
	parts, err := shlex.Split(cc.Command)
	if err != nil {
		return nil, fmt.Errorf("failed to parse command: %w", err)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	return parts, nil
}

// Environ builds the child environment. Precedence, lowest first: the
// supervisor's own environment, a .env file in the workdir, the env map.
func (cc *ChildConfig) Environ() ([]string, error) {
	envMap := make(map[string]string)

	for _, env := range os.Environ() {
		if idx := strings.Index(env, "="); idx > 0 {
			envMap[env[:idx]] = env[idx+1:]
		}
	}

	if cc.Workdir != "" {
		dotenvPath := filepath.Join(cc.Workdir, ".env")
		if _, err := os.Stat(dotenvPath); err == nil {
			dotenvVars, err := godotenv.Read(dotenvPath)
			if err != nil {
				return nil, fmt.Errorf("failed to parse .env file: %w", err)
			}
			for k, v := range dotenvVars {
				envMap[k] = v
			}
		}
	}

	for k, v := range cc.Env {
		envMap[k] = v
	}

	env := make([]string, 0, len(envMap))
	for k, v := range envMap {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(env)
	return env, nil
}
