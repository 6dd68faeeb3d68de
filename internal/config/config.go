package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config 聚合聊天组件与参考服务的配置项。
type Config struct {
	API      APIConfig      `yaml:"api" toml:"api"`
	Realtime RealtimeConfig `yaml:"realtime" toml:"realtime"`
	Store    StoreConfig    `yaml:"store" toml:"store"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
	Server   ServerConfig   `yaml:"server" toml:"server"`
}

// APIConfig 描述注册与会话服务。
type APIConfig struct {
	BaseURL    string        `yaml:"base_url" toml:"base_url"`
	Timeout    time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw string        `yaml:"timeout" toml:"timeout"`
	Register   Endpoint      `yaml:"register" toml:"register"`
	Check      Endpoint      `yaml:"check" toml:"check"`
	Start      Endpoint      `yaml:"start" toml:"start"`
}

// Endpoint 描述一次请求/响应调用。Fields 将逻辑字段名（例如 "session"）
// 映射到请求或响应体中的 gjson/sjson 路径。
type Endpoint struct {
	Method string            `yaml:"method" toml:"method"`
	Path   string            `yaml:"path" toml:"path"`
	Fields map[string]string `yaml:"fields" toml:"fields"`
}

// Field 解析逻辑字段名，未配置时返回 def。
func (e Endpoint) Field(name, def string) string {
	if v := strings.TrimSpace(e.Fields[name]); v != "" {
		return v
	}
	return def
}

// RealtimeConfig 描述消息总线连接配置。
type RealtimeConfig struct {
	URL         string `yaml:"url" toml:"url"`
	Protocol    string `yaml:"protocol" toml:"protocol"`
	Topic       string `yaml:"topic" toml:"topic"`
	Destination string `yaml:"destination" toml:"destination"`
	Scope       string `yaml:"scope" toml:"scope"`

	HandshakeTimeout time.Duration `yaml:"-" toml:"-"`
	ReadTimeout      time.Duration `yaml:"-" toml:"-"`
	WriteTimeout     time.Duration `yaml:"-" toml:"-"`
	PingInterval     time.Duration `yaml:"-" toml:"-"`

	HandshakeTimeoutRaw string `yaml:"handshake_timeout" toml:"handshake_timeout"`
	ReadTimeoutRaw      string `yaml:"read_timeout" toml:"read_timeout"`
	WriteTimeoutRaw     string `yaml:"write_timeout" toml:"write_timeout"`
	PingIntervalRaw     string `yaml:"ping_interval" toml:"ping_interval"`
}

// StoreConfig 选择本地偏好存储。
type StoreConfig struct {
	Driver string `yaml:"driver" toml:"driver"`
	Path   string `yaml:"path" toml:"path"`
}

// LoggingConfig 控制 zerolog 根日志器。
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// ServerConfig 描述参考服务的监听地址。
type ServerConfig struct {
	Addr string `yaml:"addr" toml:"addr"`
}

// Defaults 返回与默认部署一致的配置。
func Defaults() *Config {
	return &Config{
		API: APIConfig{
			BaseURL: "http://localhost:8080",
			Timeout: 10 * time.Second,
			Register: Endpoint{Method: "POST", Path: "/register", Fields: map[string]string{
				"name":       "name",
				"email":      "email",
				"statusCode": "statusCode",
				"message":    "message",
				"userId":     "data.id",
				"session":    "data.session",
			}},
			Check: Endpoint{Method: "POST", Path: "/check", Fields: map[string]string{
				"email":   "email",
				"userId":  "data.userId",
				"session": "data.session",
			}},
			Start: Endpoint{Method: "POST", Path: "/start", Fields: map[string]string{
				"userId":     "userId",
				"statusCode": "statusCode",
				"session":    "session",
				"resUserId":  "userId",
			}},
		},
		Realtime: RealtimeConfig{
			URL:              "ws://localhost:8080/connect",
			Protocol:         "raw",
			Topic:            "/topic/messages",
			Destination:      "/app/chat",
			Scope:            "broadcast",
			HandshakeTimeout: 10 * time.Second,
			ReadTimeout:      60 * time.Second,
			WriteTimeout:     10 * time.Second,
			PingInterval:     30 * time.Second,
		},
		Store:   StoreConfig{Driver: "sqlite", Path: defaultStorePath()},
		Logging: LoggingConfig{Level: "info", Format: "console"},
		Server:  ServerConfig{Addr: ":8080"},
	}
}

// Load 依次从默认值、TRAVOCHAT_CONFIG 指定的可选配置文件和环境变量加载配置。
func Load() (*Config, error) {
	cfg := Defaults()

	if path := strings.TrimSpace(os.Getenv("TRAVOCHAT_CONFIG")); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile 在默认值之上解析 YAML 或 TOML 文件，不读取环境变量。
func LoadFile(path string) (*Config, error) {
	cfg := Defaults()
	if err := loadFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	expanded := os.ExpandEnv(string(data))

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return fmt.Errorf("parsing TOML config: %w", err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return fmt.Errorf("parsing YAML config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file extension %q", filepath.Ext(path))
	}

	return cfg.parseDurations()
}

// parseDurations 解析配置文件中的时长字符串。
func (c *Config) parseDurations() error {
	fields := []struct {
		raw  string
		name string
		dst  *time.Duration
	}{
		{c.API.TimeoutRaw, "api.timeout", &c.API.Timeout},
		{c.Realtime.HandshakeTimeoutRaw, "realtime.handshake_timeout", &c.Realtime.HandshakeTimeout},
		{c.Realtime.ReadTimeoutRaw, "realtime.read_timeout", &c.Realtime.ReadTimeout},
		{c.Realtime.WriteTimeoutRaw, "realtime.write_timeout", &c.Realtime.WriteTimeout},
		{c.Realtime.PingIntervalRaw, "realtime.ping_interval", &c.Realtime.PingInterval},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}

func applyEnv(cfg *Config) error {
	cfg.API.BaseURL = getEnvOrDefault("TRAVOCHAT_API_URL", cfg.API.BaseURL)
	cfg.API.Check.Path = getEnvOrDefault("TRAVOCHAT_CHECK_PATH", cfg.API.Check.Path)
	cfg.API.Start.Method = getEnvOrDefault("TRAVOCHAT_START_METHOD", cfg.API.Start.Method)

	cfg.Realtime.URL = getEnvOrDefault("TRAVOCHAT_WS_URL", cfg.Realtime.URL)
	cfg.Realtime.Protocol = getEnvOrDefault("TRAVOCHAT_WS_PROTOCOL", cfg.Realtime.Protocol)
	cfg.Realtime.Topic = getEnvOrDefault("TRAVOCHAT_WS_TOPIC", cfg.Realtime.Topic)
	cfg.Realtime.Destination = getEnvOrDefault("TRAVOCHAT_WS_DESTINATION", cfg.Realtime.Destination)
	cfg.Realtime.Scope = getEnvOrDefault("TRAVOCHAT_WS_SCOPE", cfg.Realtime.Scope)

	cfg.Store.Driver = getEnvOrDefault("TRAVOCHAT_STORE", cfg.Store.Driver)
	cfg.Store.Path = getEnvOrDefault("TRAVOCHAT_STORE_PATH", cfg.Store.Path)

	cfg.Logging.Level = getEnvOrDefault("TRAVOCHAT_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnvOrDefault("TRAVOCHAT_LOG_FORMAT", cfg.Logging.Format)
	debug, err := parseBoolEnv("TRAVOCHAT_DEBUG", false)
	if err != nil {
		return err
	}
	if debug {
		cfg.Logging.Level = "debug"
	}

	addr, err := loadServerAddr(cfg.Server.Addr)
	if err != nil {
		return err
	}
	cfg.Server.Addr = addr

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"TRAVOCHAT_API_TIMEOUT", &cfg.API.Timeout},
		{"TRAVOCHAT_WS_HANDSHAKE_TIMEOUT", &cfg.Realtime.HandshakeTimeout},
		{"TRAVOCHAT_WS_READ_TIMEOUT", &cfg.Realtime.ReadTimeout},
		{"TRAVOCHAT_WS_WRITE_TIMEOUT", &cfg.Realtime.WriteTimeout},
		{"TRAVOCHAT_WS_PING_INTERVAL", &cfg.Realtime.PingInterval},
	}
	for _, d := range durations {
		v, err := parseOptionalDurationEnv(d.key)
		if err != nil {
			return err
		}
		if v != nil {
			*d.dst = *v
		}
	}
	return nil
}

// Validate 校验组件运行所需的配置。
func (c *Config) Validate() error {
	switch c.Realtime.Protocol {
	case "raw", "stomp":
	default:
		return fmt.Errorf("invalid realtime protocol %q (want raw or stomp)", c.Realtime.Protocol)
	}
	switch c.Realtime.Scope {
	case "broadcast", "session":
	default:
		return fmt.Errorf("invalid realtime scope %q (want broadcast or session)", c.Realtime.Scope)
	}
	switch c.Store.Driver {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("invalid store driver %q (want memory or sqlite)", c.Store.Driver)
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("api timeout must be positive, got %s", c.API.Timeout)
	}
	for name, ep := range map[string]Endpoint{"register": c.API.Register, "check": c.API.Check, "start": c.API.Start} {
		switch strings.ToUpper(ep.Method) {
		case "GET", "POST":
		default:
			return fmt.Errorf("invalid %s method %q", name, ep.Method)
		}
		if !strings.HasPrefix(ep.Path, "/") {
			return fmt.Errorf("invalid %s path %q", name, ep.Path)
		}
	}
	return nil
}

// loadServerAddr 从 PORT 解析参考服务的监听地址。
func loadServerAddr(def string) (string, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		return def, nil
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return port, nil
	}

	if strings.Contains(port, " ") {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}

	return ":" + port, nil
}

func defaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".travochat", "prefs.db")
	}
	return filepath.Join(dir, "travochat", "prefs.db")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalDurationEnv(key string) (*time.Duration, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	// 纯数字按秒处理
	if secs, err := strconv.Atoi(value); err == nil {
		d := time.Duration(secs) * time.Second
		return &d, nil
	}

	val, err := time.ParseDuration(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
