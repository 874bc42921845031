package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
	"gopkg.in/yaml.v3"

	"github.com/user/termbridge/internal/window"
)

// PositionalArgs is the number of startup parameters, in order: control
// port, data port, key, columns, rows, window size, window threshold.
const PositionalArgs = 7

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	ControlPort int
	DataPort    int
	Key         string
	Cols        uint16
	Rows        uint16
	Window      window.Params

	Shell       string
	Env         []string
	LogLevel    string
	Journal     string
	DialTimeout time.Duration
}

// fileConfig is the optional YAML overlay. Anything the protocol pairs with
// the frontend stays on the command line.
type fileConfig struct {
	Shell       string            `yaml:"shell"`
	Env         map[string]string `yaml:"env"`
	LogLevel    string            `yaml:"log_level"`
	Journal     string            `yaml:"journal"`
	DialTimeout time.Duration     `yaml:"dial_timeout"`
}

func Default() *Config {
	return &Config{
		Shell:       "/bin/bash",
		Env:         []string{"TERM=xterm-256color"},
		LogLevel:    "info",
		DialTimeout: 10 * time.Second,
	}
}

// LoadFile overlays the YAML file at path onto c. Unknown keys are an error.
func (c *Config) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	var fc fileConfig
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil {
		return fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, path, err)
	}

	if fc.Shell != "" {
		c.Shell = fc.Shell
	}
	if fc.LogLevel != "" {
		c.LogLevel = fc.LogLevel
	}
	if fc.Journal != "" {
		c.Journal = fc.Journal
	}
	if fc.DialTimeout != 0 {
		c.DialTimeout = fc.DialTimeout
	}
	if len(fc.Env) > 0 {
		c.Env = mergeEnv(c.Env, fc.Env)
	}
	return nil
}

func mergeEnv(base []string, overlay map[string]string) []string {
	merged := make(map[string]string, len(base)+len(overlay))
	for _, kv := range base {
		k, v, _ := strings.Cut(kv, "=")
		merged[k] = v
	}
	for k, v := range overlay {
		merged[k] = v
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+merged[k])
	}
	return env
}

// ParseArgs reads the positional startup parameters and validates the
// resulting configuration.
func (c *Config) ParseArgs(args []string) error {
	if len(args) != PositionalArgs {
		return fmt.Errorf("%w: expected %d arguments (control-port data-port key cols rows window-size window-threshold), got %d",
			ErrInvalidConfig, PositionalArgs, len(args))
	}

	var err error
	if c.ControlPort, err = parseInt("control port", args[0], 0); err != nil {
		return err
	}
	if c.DataPort, err = parseInt("data port", args[1], 0); err != nil {
		return err
	}
	c.Key = args[2]

	cols, err := parseInt("columns", args[3], 16)
	if err != nil {
		return err
	}
	rows, err := parseInt("rows", args[4], 16)
	if err != nil {
		return err
	}
	c.Cols, c.Rows = uint16(cols), uint16(rows)

	size, err := parseInt("window size", args[5], 32)
	if err != nil {
		return err
	}
	threshold, err := parseInt("window threshold", args[6], 32)
	if err != nil {
		return err
	}
	c.Window = window.Params{Size: int32(size), Threshold: int32(threshold)}

	return c.Validate()
}

func parseInt(name, value string, bits int) (int, error) {
	if bits == 16 {
		n, err := strconv.ParseUint(value, 10, 16)
		if err != nil {
			return 0, fmt.Errorf("%w: %s %q is not an integer between 0 and 65535", ErrInvalidConfig, name, value)
		}
		return int(n), nil
	}
	n, err := strconv.ParseInt(value, 10, bits)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q is not an integer", ErrInvalidConfig, name, value)
	}
	return int(n), nil
}

func (c *Config) Validate() error {
	if c.ControlPort < 1 || c.ControlPort > 65535 {
		return fmt.Errorf("%w: control port %d must be between 1 and 65535", ErrInvalidConfig, c.ControlPort)
	}
	if c.DataPort < 1 || c.DataPort > 65535 {
		return fmt.Errorf("%w: data port %d must be between 1 and 65535", ErrInvalidConfig, c.DataPort)
	}
	if c.Cols == 0 || c.Rows == 0 {
		return fmt.Errorf("%w: terminal size %dx%d must be at least 1x1", ErrInvalidConfig, c.Cols, c.Rows)
	}
	if err := c.Window.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.DialTimeout < 0 {
		return fmt.Errorf("%w: dial timeout %s must not be negative", ErrInvalidConfig, c.DialTimeout)
	}
	if _, err := c.ShellArgv(); err != nil {
		return err
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// ShellArgv splits the configured shell command using shell quoting rules.
func (c *Config) ShellArgv() ([]string, error) {
	argv, err := shellquote.Split(c.Shell)
	if err != nil {
		return nil, fmt.Errorf("%w: shell %q: %v", ErrInvalidConfig, c.Shell, err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("%w: shell command is empty", ErrInvalidConfig)
	}
	return argv, nil
}

func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("%w: log level %q", ErrInvalidConfig, c.LogLevel)
	}
	return level, nil
}
