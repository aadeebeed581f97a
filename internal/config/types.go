package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述进程级参数：监听端口与日志输出。
type GlobalConfig struct {
	ListenPort    int    `mapstructure:"ListenPort"`
	LogLevel      string `mapstructure:"LogLevel"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`
}

// CacheConfig 决定缓存目录位置以及下载行为。
type CacheConfig struct {
	StoragePath         string   `mapstructure:"StoragePath"`
	UpstreamTimeout     Duration `mapstructure:"UpstreamTimeout"`
	MaxRetries          int      `mapstructure:"MaxRetries"`
	InitialBackoff      Duration `mapstructure:"InitialBackoff"`
	PrefetchConcurrency int      `mapstructure:"PrefetchConcurrency"`

	// Headers 附加到每一次上游请求；viper 会把键名转为小写，发送时按 HTTP 规范重新规范化。
	Headers map[string]string `mapstructure:"Headers"`
}

// SweepConfig 控制按年龄清理；Schedule 为空时不启用定时清理。
type SweepConfig struct {
	Schedule    string  `mapstructure:"Schedule"`
	MaxAgeDays  float64 `mapstructure:"MaxAgeDays"`
	Concurrency int     `mapstructure:"Concurrency"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	Cache  CacheConfig  `mapstructure:"Cache"`
	Sweep  SweepConfig  `mapstructure:"Sweep"`
}

// SweepEnabled 表示是否配置了定时清理。
func (c *Config) SweepEnabled() bool {
	return strings.TrimSpace(c.Sweep.Schedule) != ""
}
