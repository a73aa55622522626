package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/charging-platform/ocpp-attack-lab/internal/attack"
	"github.com/charging-platform/ocpp-attack-lab/internal/cache"
	"github.com/charging-platform/ocpp-attack-lab/internal/detection"
	"github.com/charging-platform/ocpp-attack-lab/internal/session"
)

// Config 代理的应用程序配置结构
type Config struct {
	Proxy     ProxyConfig           `mapstructure:"proxy"`
	Upstream  UpstreamConfig        `mapstructure:"upstream"`
	Attack    attack.Config         `mapstructure:"attack"`
	Detection detection.Config      `mapstructure:"detection"`
	Session   session.ManagerConfig `mapstructure:"session"`
	Cache     cache.Config          `mapstructure:"cache"`
	Redis     RedisConfig           `mapstructure:"redis"`
	Kafka     KafkaConfig           `mapstructure:"kafka"`
	Log       LogConfig             `mapstructure:"log"`
	Metrics   MetricsConfig         `mapstructure:"metrics"`
}

// ProxyConfig 监听端配置
type ProxyConfig struct {
	Host          string        `mapstructure:"host" validate:"required"`
	Port          int           `mapstructure:"port" validate:"min=1,max=65535"`
	PathPrefix    string        `mapstructure:"path_prefix" validate:"required"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	MaxFrameBytes int64         `mapstructure:"max_frame_bytes" validate:"min=1024"`
}

// UpstreamConfig 上游CSMS配置
type UpstreamConfig struct {
	Host        string        `mapstructure:"host" validate:"required"`
	Port        int           `mapstructure:"port" validate:"min=1,max=65535"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// RedisConfig Redis配置
type RedisConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Addr       string        `mapstructure:"addr"`
	Password   string        `mapstructure:"password"`
	DB         int           `mapstructure:"db" validate:"min=0"`
	PoolSize   int           `mapstructure:"pool_size"`
	SessionTTL time.Duration `mapstructure:"session_ttl"`
}

// KafkaConfig Kafka配置
type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"omitempty,oneof=console json"`
	Output string `mapstructure:"output"`
	Async  bool   `mapstructure:"async"`
}

// MetricsConfig 监控指标配置
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Load 加载配置
// path 为空时按 config.yaml 在工作目录和 configs/ 下查找, 找不到则使用默认值
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix("MITM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// GetProxyAddr 获取监听地址
func (c *Config) GetProxyAddr() string {
	return fmt.Sprintf("%s:%d", c.Proxy.Host, c.Proxy.Port)
}

// GetUpstreamAddr 获取上游地址
func (c *Config) GetUpstreamAddr() string {
	return fmt.Sprintf("%s:%d", c.Upstream.Host, c.Upstream.Port)
}

// setDefaults 注册所有默认值, 同时使对应的环境变量可被 AutomaticEnv 捕获
func setDefaults(v *viper.Viper) {
	// 监听端配置
	v.SetDefault("proxy.host", "0.0.0.0")
	v.SetDefault("proxy.port", 8887)
	v.SetDefault("proxy.path_prefix", "/ocpp/")
	v.SetDefault("proxy.write_timeout", "10s")
	v.SetDefault("proxy.max_frame_bytes", 1048576)

	// 上游配置
	v.SetDefault("upstream.host", "localhost")
	v.SetDefault("upstream.port", 9000)
	v.SetDefault("upstream.dial_timeout", "10s")

	// 攻击引擎配置
	attackDefaults := attack.DefaultConfig()
	v.SetDefault("attack.enabled", attackDefaults.Enabled)
	v.SetDefault("attack.strategy", string(attackDefaults.Strategy))
	v.SetDefault("attack.voltage_enabled", attackDefaults.VoltageEnabled)
	v.SetDefault("attack.voltage_deviation_percent", attackDefaults.VoltageDeviationPercent)
	v.SetDefault("attack.voltage_target_range", attackDefaults.VoltageTargetRange[:])
	v.SetDefault("attack.current_enabled", attackDefaults.CurrentEnabled)
	v.SetDefault("attack.current_deviation_percent", attackDefaults.CurrentDeviationPercent)
	v.SetDefault("attack.current_target_range", attackDefaults.CurrentTargetRange[:])
	v.SetDefault("attack.curve_enabled", attackDefaults.CurveEnabled)
	v.SetDefault("attack.curve_modification_type", string(attackDefaults.CurveMode))
	v.SetDefault("attack.randomization_enabled", attackDefaults.RandomizationEnabled)
	v.SetDefault("attack.randomization_seed", attackDefaults.RandomizationSeed)
	v.SetDefault("attack.randomization_deviation_range", attackDefaults.RandomizationRange[:])

	// 异常检测配置
	detectionDefaults := detection.DefaultConfig()
	v.SetDefault("detection.enabled", detectionDefaults.Enabled)
	v.SetDefault("detection.method", string(detectionDefaults.Method))
	v.SetDefault("detection.voltage_threshold_percent", detectionDefaults.VoltageThresholdPercent)
	v.SetDefault("detection.current_threshold_percent", detectionDefaults.CurrentThresholdPercent)
	v.SetDefault("detection.power_threshold_percent", detectionDefaults.PowerThresholdPercent)
	v.SetDefault("detection.voltage_min", detectionDefaults.VoltageMin)
	v.SetDefault("detection.voltage_max", detectionDefaults.VoltageMax)
	v.SetDefault("detection.current_min", detectionDefaults.CurrentMin)
	v.SetDefault("detection.current_max", detectionDefaults.CurrentMax)
	v.SetDefault("detection.enable_curve_analysis", detectionDefaults.EnableCurveAnalysis)
	v.SetDefault("detection.curve_smoothness_threshold", detectionDefaults.CurveSmoothnessThreshold)
	v.SetDefault("detection.confidence_weight_statistical", detectionDefaults.ConfidenceWeightStatistical)
	v.SetDefault("detection.confidence_weight_range", detectionDefaults.ConfidenceWeightRange)
	v.SetDefault("detection.confidence_weight_pattern", detectionDefaults.ConfidenceWeightPattern)
	v.SetDefault("detection.baseline_voltage_mean", detectionDefaults.BaselineVoltageMean)
	v.SetDefault("detection.baseline_voltage_std", detectionDefaults.BaselineVoltageStd)
	v.SetDefault("detection.baseline_current_mean", detectionDefaults.BaselineCurrentMean)
	v.SetDefault("detection.baseline_current_std", detectionDefaults.BaselineCurrentStd)
	v.SetDefault("detection.baseline_power_mean", detectionDefaults.BaselinePowerMean)
	v.SetDefault("detection.baseline_power_std", detectionDefaults.BaselinePowerStd)

	// 会话管理配置
	sessionDefaults := session.DefaultManagerConfig()
	v.SetDefault("session.max_sessions", sessionDefaults.MaxSessions)
	v.SetDefault("session.refresh_interval", sessionDefaults.RefreshInterval.String())
	v.SetDefault("session.enable_events", sessionDefaults.EnableEvents)

	// 待应答缓存配置
	cacheDefaults := cache.DefaultConfig()
	v.SetDefault("cache.max_entries", cacheDefaults.MaxEntries)
	v.SetDefault("cache.ttl", cacheDefaults.TTL.String())
	v.SetDefault("cache.cleanup_interval", cacheDefaults.CleanupInterval.String())

	// Redis配置
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 100)
	v.SetDefault("redis.session_ttl", "5m")

	// Kafka配置
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "ocpp-lab-events")

	// 日志配置
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.async", false)

	// 监控配置
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", ":9090")
}
