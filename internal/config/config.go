// Package config provides Viper-based configuration loading for lobbylink.
package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/cory-johannsen/lobbylink/internal/lobby"
)

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level" yaml:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format" yaml:"format"`
	// Output is "stderr", "stdout" or a file path. The TUI needs a file.
	Output string `mapstructure:"output" yaml:"output"`
}

// LobbyConfig holds coordinator settings.
type LobbyConfig struct {
	// Visibility of created lobbies: private, friends_only, public, invisible.
	Visibility string `mapstructure:"visibility" yaml:"visibility"`
	// MaxMembers is the capacity requested for created lobbies.
	MaxMembers int `mapstructure:"max_members" yaml:"max_members"`
	// Channel is the messaging channel, 0-255.
	Channel int `mapstructure:"channel" yaml:"channel"`
	// ReceiveBatch is the number of messages read per tick.
	ReceiveBatch int `mapstructure:"receive_batch" yaml:"receive_batch"`
	// TickInterval is the polling cadence.
	TickInterval time.Duration `mapstructure:"tick_interval" yaml:"tick_interval"`
	// AcceptPeers decides incoming peer session requests.
	AcceptPeers bool `mapstructure:"accept_peers" yaml:"accept_peers"`
}

// VisibilityValue returns the parsed Visibility.
//
// Precondition: Validate has accepted the configuration.
func (l LobbyConfig) VisibilityValue() lobby.Visibility {
	v, err := lobby.ParseVisibility(l.Visibility)
	if err != nil {
		return lobby.VisibilityPublic
	}
	return v
}

// CoordinatorOptions maps the section onto lobby.Options.
func (l LobbyConfig) CoordinatorOptions() lobby.Options {
	return lobby.Options{
		Channel:      uint8(l.Channel),
		ReceiveBatch: l.ReceiveBatch,
		AcceptPeers:  l.AcceptPeers,
	}
}

// ProviderConfig selects and configures the lobby provider.
type ProviderConfig struct {
	// Kind is "loopback" (in-process) or "grpc" (remote lobby service).
	Kind string `mapstructure:"kind" yaml:"kind"`
	// GRPCHost is the lobby service host for kind=grpc.
	GRPCHost string `mapstructure:"grpc_host" yaml:"grpc_host"`
	// GRPCPort is the lobby service port for kind=grpc.
	GRPCPort int `mapstructure:"grpc_port" yaml:"grpc_port"`
	// CallTimeout bounds each remote call.
	CallTimeout time.Duration `mapstructure:"call_timeout" yaml:"call_timeout"`
	// LoopbackLatency delays loopback completions to mimic a real service.
	LoopbackLatency time.Duration `mapstructure:"loopback_latency" yaml:"loopback_latency"`
	// Bots is the number of headless peers started alongside a loopback demo.
	Bots int `mapstructure:"bots" yaml:"bots"`
}

// Addr returns the "host:port" gRPC address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (p ProviderConfig) Addr() string {
	return fmt.Sprintf("%s:%d", p.GRPCHost, p.GRPCPort)
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	User            string        `mapstructure:"user" yaml:"user"`
	Password        string        `mapstructure:"password" yaml:"password"`
	Name            string        `mapstructure:"name" yaml:"name"`
	SSLMode         string        `mapstructure:"sslmode" yaml:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns" yaml:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns" yaml:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime" yaml:"max_conn_lifetime"`
}

// DSN returns the PostgreSQL connection string.
//
// Precondition: Host, Port, User, and Name must be non-empty.
// Postcondition: Returns a valid PostgreSQL DSN string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// JournalConfig controls the Postgres notification journal.
type JournalConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Schema holds the lobby_events table and becomes the connection search_path.
	Schema string `mapstructure:"schema" yaml:"schema"`
	// ApplicationName identifies journal connections in pg_stat_activity.
	ApplicationName string         `mapstructure:"application_name" yaml:"application_name"`
	Database        DatabaseConfig `mapstructure:"database" yaml:"database"`
}

// DSN returns the database connection string with the journal schema as the
// search_path, so migrations and queries resolve lobby_events in Schema.
//
// Precondition: Database must satisfy the DatabaseConfig.DSN precondition.
func (j JournalConfig) DSN() string {
	dsn := j.Database.DSN()
	if j.Schema == "" {
		return dsn
	}
	return dsn + "&search_path=" + url.QueryEscape(j.Schema)
}

// BotConfig controls headless peers.
type BotConfig struct {
	// Name is the display name registered with the provider.
	Name string `mapstructure:"name" yaml:"name"`
	// AutoCreate makes the bot create a lobby on start.
	AutoCreate bool `mapstructure:"auto_create" yaml:"auto_create"`
	// BroadcastEvery is the broadcast period; zero disables broadcasting.
	BroadcastEvery time.Duration `mapstructure:"broadcast_every" yaml:"broadcast_every"`
	// Payload is the broadcast message body.
	Payload string `mapstructure:"payload" yaml:"payload"`
}

// Config is the top-level application configuration.
type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
	Lobby    LobbyConfig    `mapstructure:"lobby" yaml:"lobby"`
	Provider ProviderConfig `mapstructure:"provider" yaml:"provider"`
	Journal  JournalConfig  `mapstructure:"journal" yaml:"journal"`
	Bot      BotConfig      `mapstructure:"bot" yaml:"bot"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateLobby(c.Lobby); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateProvider(c.Provider); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Journal.Enabled {
		if err := validateJournal(c.Journal); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if err := validateBot(c.Bot); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	if l.Output == "" {
		return errors.New("logging.output must not be empty")
	}
	return nil
}

func validateLobby(l LobbyConfig) error {
	var errs []string
	if _, err := lobby.ParseVisibility(l.Visibility); err != nil {
		errs = append(errs, fmt.Sprintf("lobby.visibility must be one of [private, friends_only, public, invisible], got %q", l.Visibility))
	}
	if l.MaxMembers < 1 || l.MaxMembers > 250 {
		errs = append(errs, fmt.Sprintf("lobby.max_members must be 1-250, got %d", l.MaxMembers))
	}
	if l.Channel < 0 || l.Channel > 255 {
		errs = append(errs, fmt.Sprintf("lobby.channel must be 0-255, got %d", l.Channel))
	}
	if l.ReceiveBatch < 1 {
		errs = append(errs, fmt.Sprintf("lobby.receive_batch must be >= 1, got %d", l.ReceiveBatch))
	}
	if l.TickInterval <= 0 {
		errs = append(errs, "lobby.tick_interval must be positive")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateProvider(p ProviderConfig) error {
	var errs []string
	switch p.Kind {
	case "loopback":
	case "grpc":
		if p.GRPCHost == "" {
			errs = append(errs, "provider.grpc_host must not be empty")
		}
		if p.GRPCPort < 1 || p.GRPCPort > 65535 {
			errs = append(errs, fmt.Sprintf("provider.grpc_port must be 1-65535, got %d", p.GRPCPort))
		}
	default:
		errs = append(errs, fmt.Sprintf("provider.kind must be one of [loopback, grpc], got %q", p.Kind))
	}
	if p.CallTimeout <= 0 {
		errs = append(errs, "provider.call_timeout must be positive")
	}
	if p.LoopbackLatency < 0 {
		errs = append(errs, "provider.loopback_latency must not be negative")
	}
	if p.Bots < 0 {
		errs = append(errs, fmt.Sprintf("provider.bots must be >= 0, got %d", p.Bots))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateJournal(j JournalConfig) error {
	var errs []string
	if j.Schema == "" {
		errs = append(errs, "journal.schema must not be empty")
	}
	if j.ApplicationName == "" {
		errs = append(errs, "journal.application_name must not be empty")
	}
	if err := validateDatabase(j.Database); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateDatabase(d DatabaseConfig) error {
	var errs []string
	if d.Host == "" {
		errs = append(errs, "journal.database.host must not be empty")
	}
	if d.Port < 1 || d.Port > 65535 {
		errs = append(errs, fmt.Sprintf("journal.database.port must be 1-65535, got %d", d.Port))
	}
	if d.User == "" {
		errs = append(errs, "journal.database.user must not be empty")
	}
	if d.Name == "" {
		errs = append(errs, "journal.database.name must not be empty")
	}
	validSSL := map[string]bool{"disable": true, "require": true, "verify-ca": true, "verify-full": true}
	if !validSSL[d.SSLMode] {
		errs = append(errs, fmt.Sprintf("journal.database.sslmode must be one of [disable, require, verify-ca, verify-full], got %q", d.SSLMode))
	}
	if d.MaxConns < 1 {
		errs = append(errs, fmt.Sprintf("journal.database.max_conns must be >= 1, got %d", d.MaxConns))
	}
	if d.MinConns < 0 {
		errs = append(errs, fmt.Sprintf("journal.database.min_conns must be >= 0, got %d", d.MinConns))
	}
	if d.MinConns > d.MaxConns {
		errs = append(errs, "journal.database.min_conns must not exceed journal.database.max_conns")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateBot(b BotConfig) error {
	var errs []string
	if b.Name == "" {
		errs = append(errs, "bot.name must not be empty")
	}
	if b.BroadcastEvery < 0 {
		errs = append(errs, "bot.broadcast_every must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result. An empty path uses defaults and environment only.
//
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := NewViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}
	return LoadFromViper(v)
}

// NewViper returns a Viper instance with defaults and LOBBYLINK_ environment
// overrides applied, ready for a config file or flag bindings.
func NewViper() *viper.Viper {
	v := viper.New()

	// Environment variable overrides with LOBBYLINK_ prefix
	v.SetEnvPrefix("LOBBYLINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	return v
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Dump writes cfg as YAML with the database password redacted.
//
// Postcondition: The output can be read back by Load.
func Dump(w io.Writer, cfg Config) error {
	if cfg.Journal.Database.Password != "" {
		cfg.Journal.Database.Password = "REDACTED"
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return enc.Close()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("lobby.visibility", "public")
	v.SetDefault("lobby.max_members", 2)
	v.SetDefault("lobby.channel", 0)
	v.SetDefault("lobby.receive_batch", 1)
	v.SetDefault("lobby.tick_interval", "50ms")
	v.SetDefault("lobby.accept_peers", true)

	v.SetDefault("provider.kind", "loopback")
	v.SetDefault("provider.grpc_host", "127.0.0.1")
	v.SetDefault("provider.grpc_port", 50061)
	v.SetDefault("provider.call_timeout", "10s")
	v.SetDefault("provider.loopback_latency", "20ms")
	v.SetDefault("provider.bots", 1)

	v.SetDefault("journal.enabled", false)
	v.SetDefault("journal.schema", "public")
	v.SetDefault("journal.application_name", "lobbylink-journal")
	v.SetDefault("journal.database.host", "localhost")
	v.SetDefault("journal.database.port", 5432)
	v.SetDefault("journal.database.user", "lobbylink")
	v.SetDefault("journal.database.password", "lobbylink")
	v.SetDefault("journal.database.name", "lobbylink")
	v.SetDefault("journal.database.sslmode", "disable")
	v.SetDefault("journal.database.max_conns", 5)
	v.SetDefault("journal.database.min_conns", 1)
	v.SetDefault("journal.database.max_conn_lifetime", "1h")

	v.SetDefault("bot.name", "lobbybot")
	v.SetDefault("bot.auto_create", false)
	v.SetDefault("bot.broadcast_every", "2s")
	v.SetDefault("bot.payload", "ping")
}
