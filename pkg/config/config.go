// Package config loads the wayfinder YAML configuration.
//
// A file only needs the keys it changes; everything else keeps the value
// from Default. Unknown keys are an error so that typos do not silently fall
// back to defaults.
//
//	navigation:
//	  arrival_radius_m: 4
//	editor:
//	  data_dir: /var/lib/wayfinder
//	server:
//	  http_addr: ":8080"
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/sanonone/wayfinder/pkg/editor"
	"github.com/sanonone/wayfinder/pkg/engagement"
	"github.com/sanonone/wayfinder/pkg/navigation"
)

// Config is the root document.
type Config struct {
	Navigation navigation.Config `yaml:"navigation"`
	Editor     editor.Options    `yaml:"editor"`
	Analytics  Analytics         `yaml:"analytics"`
	Server     Server            `yaml:"server"`
	Log        Log               `yaml:"log"`
}

// Analytics configures the local analytics store.
type Analytics struct {
	DBPath           string        `yaml:"db_path" validate:"required"`
	ScanDedupeWindow time.Duration `yaml:"scan_dedupe_window" validate:"gt=0"`
}

// Server configures the manifest distribution endpoint.
type Server struct {
	HTTPAddr string `yaml:"http_addr" validate:"required"`
	// AuthToken, when set, is required as a bearer token on every endpoint
	// except /healthz.
	AuthToken       string        `yaml:"auth_token"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
}

// Log selects the slog handler.
type Log struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// Default returns a configuration that works out of the box.
func Default() Config {
	return Config{
		Navigation: navigation.DefaultConfig(),
		Editor:     editor.DefaultOptions("data"),
		Analytics: Analytics{
			DBPath:           "analytics.db",
			ScanDedupeWindow: engagement.DefaultDedupeWindow,
		},
		Server: Server{
			HTTPAddr:        ":9191",
			ShutdownTimeout: 10 * time.Second,
		},
		Log: Log{Level: "info", Format: "text"},
	}
}

var validate = validator.New()

// Load reads path on top of Default. An empty path returns the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to open config: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes a YAML document strictly and validates the result.
func Parse(r io.Reader) (Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every section.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, len(verrs))
			for i, fe := range verrs {
				msgs[i] = fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag())
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Logger builds the logger described by the log section.
func (l Log) Logger(w io.Writer) *slog.Logger {
	var level slog.Level
	switch l.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
