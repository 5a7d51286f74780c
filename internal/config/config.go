package config

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config 服务器配置
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Analysis AnalysisConfig `mapstructure:"analysis"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig 监听地址配置
type ServerConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
	// 观测API地址，留空则不启动HTTP服务
	HTTPAddr string `mapstructure:"http_addr"`
}

// AnalysisConfig 统计分析配置：词表与批量消费间隔
type AnalysisConfig struct {
	FillWords     []string           `mapstructure:"fill_words"`
	TriggerWords  TriggerWordsConfig `mapstructure:"trigger_words"`
	DrainInterval time.Duration      `mapstructure:"drain_interval"`
}

// TriggerWordsConfig 按情感三分的触发词表
type TriggerWordsConfig struct {
	Positive []string `mapstructure:"positive"`
	Neutral  []string `mapstructure:"neutral"`
	Negative []string `mapstructure:"negative"`
}

// DatabaseConfig 用户目录落库配置，未启用时用内存目录
type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Debug bool `mapstructure:"debug"`
}

// Manager 配置管理器，支持文件监控热加载词表
type Manager struct {
	mu           sync.RWMutex
	config       *Config
	v            *viper.Viper
	configPath   string
	watchEnabled bool
	onChange     func(*Config)
}

// Option 配置管理器选项
type Option func(*Manager)

// WithConfigPath 设置配置文件路径
func WithConfigPath(path string) Option {
	return func(m *Manager) {
		m.configPath = path
	}
}

// WithWatchEnabled 启用配置文件监控
func WithWatchEnabled(enabled bool) Option {
	return func(m *Manager) {
		m.watchEnabled = enabled
	}
}

// WithOnChange 设置配置变化回调（词表热替换）
func WithOnChange(fn func(*Config)) Option {
	return func(m *Manager) {
		m.onChange = fn
	}
}

// NewManager 创建配置管理器
func NewManager(opts ...Option) *Manager {
	m := &Manager{}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load 加载配置。没有配置文件时使用默认值。
func (m *Manager) Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if m.configPath != "" {
		v.SetConfigFile(m.configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file failed: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config failed: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.config = cfg
	m.v = v
	m.mu.Unlock()

	if m.watchEnabled && m.configPath != "" {
		v.OnConfigChange(func(e fsnotify.Event) {
			m.reload()
		})
		v.WatchConfig()
	}

	return cfg, nil
}

// reload 配置文件变化时重新加载，失败时保留旧配置
func (m *Manager) reload() {
	m.mu.Lock()
	v := m.v
	m.mu.Unlock()
	if v == nil {
		return
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return
	}
	if err := validate(cfg); err != nil {
		return
	}

	m.mu.Lock()
	m.config = cfg
	onChange := m.onChange
	m.mu.Unlock()

	if onChange != nil {
		onChange(cfg)
	}
}

// SetOnChange 在管理器已启动后注册配置变化回调，
// 回调依赖的组件晚于Load构造时用这个而不是WithOnChange
func (m *Manager) SetOnChange(fn func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

// Current 返回当前配置
func (m *Manager) Current() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_addr", ":4444")
	v.SetDefault("server.http_addr", "")
	v.SetDefault("analysis.drain_interval", 5*time.Second)
	v.SetDefault("analysis.fill_words", []string{})
	v.SetDefault("analysis.trigger_words.positive", []string{})
	v.SetDefault("analysis.trigger_words.neutral", []string{})
	v.SetDefault("analysis.trigger_words.negative", []string{})
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.dbname", "postgres")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("logging.debug", false)
}

func validate(cfg *Config) error {
	if _, _, err := net.SplitHostPort(cfg.Server.ListenAddr); err != nil {
		return fmt.Errorf("invalid listen_addr %q: %w", cfg.Server.ListenAddr, err)
	}
	if cfg.Server.HTTPAddr != "" {
		if _, _, err := net.SplitHostPort(cfg.Server.HTTPAddr); err != nil {
			return fmt.Errorf("invalid http_addr %q: %w", cfg.Server.HTTPAddr, err)
		}
	}
	if cfg.Analysis.DrainInterval <= 0 {
		return fmt.Errorf("drain_interval must be positive, got %s", cfg.Analysis.DrainInterval)
	}
	return nil
}
