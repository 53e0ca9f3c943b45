package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"automove/internal/domain"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for automove.
type Config struct {
	General GeneralConfig `json:"general"`
	Storage StorageConfig `json:"storage"`
	Discord DiscordConfig `json:"discord"`
	Routing RoutingConfig `json:"routing"`
	HTTP    HTTPConfig    `json:"http"`
	Webhook WebhookConfig `json:"webhook"`
	Metrics MetricsConfig `json:"metrics"`
}

type GeneralConfig struct {
	DataDir  string `json:"dataDir"`
	LogLevel string `json:"logLevel"`
	LogFile  string `json:"logFile,omitempty"` // optional log file path
	EnvFile  string `json:"envFile,omitempty"` // loaded before the config is parsed
}

type StorageConfig struct {
	Driver     string      `json:"driver"` // "sqlite" | "redis" | "mongo" | "memory"
	Scope      string      `json:"scope"`  // partition name, one per deployment
	SQLitePath string      `json:"sqlitePath,omitempty"`
	Redis      RedisConfig `json:"redis,omitempty"`
	Mongo      MongoConfig `json:"mongo,omitempty"`
}

type RedisConfig struct {
	Addr     string `json:"addr,omitempty"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
}

type MongoConfig struct {
	URI      string `json:"uri,omitempty"`
	Database string `json:"database,omitempty"`
}

type DiscordConfig struct {
	Enabled          bool           `json:"enabled"`
	Token            string         `json:"token"`
	GuildID          string         `json:"guildId,omitempty"`          // optional: restrict to one guild
	StaffRoleIDs     FlexStringList `json:"staffRoleIds,omitempty"`     // members holding any of these reply as staff
	TicketCategories FlexStringList `json:"ticketCategories,omitempty"` // categories holding tickets besides the managed ones; empty means every category
	RelayBotIDs      FlexStringList `json:"relayBotIds,omitempty"`      // bots relaying ticket traffic; their unmarked posts count as user replies
	LogChannelID     string         `json:"logChannelId,omitempty"`     // operator channel for relocation failures
	RegisterCommands bool           `json:"registerCommands"`
}

type RoutingConfig struct {
	StaffMarker       string  `json:"staffMarker"`       // embed colour of relayed staff replies, e.g. "#1abc9c"
	MatchStaffAuthor  bool    `json:"matchStaffAuthor"`  // also count messages authored by staff members
	HistoryLimit      int     `json:"historyLimit"`      // messages scanned for a staff reply
	CloseDelaySeconds int     `json:"closeDelaySeconds"` // pause before the closing move
	MovesPerMinute    float64 `json:"movesPerMinute"`
	MoveBurst         int     `json:"moveBurst"`
	QueueSize         int     `json:"queueSize"`
}

type HTTPConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type WebhookConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
	Secret  string `json:"secret,omitempty"` // HMAC secret for X-Signature-256
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
// Discord snowflakes are often pasted as bare numbers.
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n json.Number
		if err := json.Unmarshal(item, &n); err == nil {
			if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
				result = append(result, strconv.FormatInt(i, 10))
				continue
			}
			if fl, err := n.Float64(); err == nil {
				result = append(result, strconv.FormatInt(int64(fl), 10))
				continue
			}
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

// DefaultConfigDir returns the default config directory (~/.automove).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".automove"
	}
	return filepath.Join(home, ".automove")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// Load reads a JSON or YAML config file, expanding ${VAR} references first.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	data = []byte(ExpandEnvVars(string(data)))

	if isYAML(path) {
		if data, err = yamlToJSON(data); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	}

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.General.DataDir = ExpandPath(cfg.General.DataDir)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Storage.SQLitePath = ExpandPath(cfg.Storage.SQLitePath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// yamlToJSON re-encodes a YAML document as JSON so the json tags stay the
// single source of field names.
func yamlToJSON(data []byte) ([]byte, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return json.Marshal(doc)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty; an unset
// ${VAR} without default is left as-is.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	path = ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	if isYAML(path) {
		var doc map[string]any
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("cannot marshal config: %w", err)
		}
		if data, err = yaml.Marshal(doc); err != nil {
			return fmt.Errorf("cannot marshal config: %w", err)
		}
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	switch cfg.Storage.Driver {
	case "sqlite":
		if cfg.Storage.SQLitePath == "" {
			errs = append(errs, "storage.sqlitePath is required for the sqlite driver")
		}
	case "redis", "mongo", "memory":
	default:
		errs = append(errs, "storage.driver must be one of: sqlite, redis, mongo, memory")
	}

	if cfg.Discord.Enabled && cfg.Discord.Token == "" {
		errs = append(errs, "discord.token is required when discord is enabled")
	}

	if _, err := domain.NormalizeColor(cfg.Routing.StaffMarker); err != nil {
		errs = append(errs, fmt.Sprintf("routing.staffMarker: %v", err))
	}
	if cfg.Routing.HistoryLimit < 1 || cfg.Routing.HistoryLimit > 500 {
		errs = append(errs, "routing.historyLimit must be between 1 and 500")
	}
	if cfg.Routing.CloseDelaySeconds < 0 || cfg.Routing.CloseDelaySeconds > 300 {
		errs = append(errs, "routing.closeDelaySeconds must be between 0 and 300")
	}
	if cfg.Routing.MovesPerMinute <= 0 {
		errs = append(errs, "routing.movesPerMinute must be > 0")
	}
	if cfg.Routing.MoveBurst < 1 {
		errs = append(errs, "routing.moveBurst must be >= 1")
	}
	if cfg.Routing.QueueSize < 1 {
		errs = append(errs, "routing.queueSize must be >= 1")
	}

	if cfg.HTTP.Port < 0 || cfg.HTTP.Port > 65535 {
		errs = append(errs, "http.port must be between 0 and 65535")
	}
	if cfg.Webhook.Enabled && !strings.HasPrefix(cfg.Webhook.Path, "/") {
		errs = append(errs, "webhook.path must start with /")
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Endpoint, "/") {
		errs = append(errs, "metrics.endpoint must start with /")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Warnings lists settings that are valid but likely to route fewer replies
// than the operator expects.
func Warnings(cfg *Config) []string {
	if !cfg.Discord.Enabled {
		return nil
	}
	var warns []string
	if len(cfg.Discord.TicketCategories) == 0 {
		warns = append(warns, "discord.ticketCategories is empty: every channel under a category is treated as a ticket")
	}
	if len(cfg.Discord.RelayBotIDs) == 0 {
		warns = append(warns, "discord.relayBotIds is empty: unmarked bot posts (e.g. relayed user replies) never route")
	}
	if len(cfg.Discord.StaffRoleIDs) == 0 && cfg.Routing.StaffMarker == "" {
		warns = append(warns, "no discord.staffRoleIds and no routing.staffMarker: staff replies cannot be recognised")
	}
	return warns
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
