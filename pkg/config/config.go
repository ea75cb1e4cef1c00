package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/edgelimit/edgelimit/pkg/common"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Redis     RedisConfig     `mapstructure:"redis"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type ServerConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	MetricsPort int    `mapstructure:"metrics_port"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	Async bool   `mapstructure:"async"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	TLS      bool   `mapstructure:"tls"`
}

type RateLimitConfig struct {
	DefaultCategory string                    `mapstructure:"default_category"`
	StoreTimeout    time.Duration             `mapstructure:"store_timeout"`
	SweepInterval   time.Duration             `mapstructure:"sweep_interval"`
	Categories      map[string]CategoryConfig `mapstructure:"categories"`
	TierMultipliers map[string]float64        `mapstructure:"tier_multipliers"`
	SurgeRules      []SurgeRuleConfig         `mapstructure:"surge_rules"`
}

type CategoryConfig struct {
	WindowMs uint64 `mapstructure:"window_ms"`
	Max      uint32 `mapstructure:"max"`
}

// SurgeRuleConfig is the on-disk form of a surge rule. Days are weekday names
// ("Sunday"); HourFrom/HourTo describe the half-open UTC range [from, to).
// An empty Days list means the rule applies on every day.
type SurgeRuleConfig struct {
	AppliesTo  string         `mapstructure:"applies_to"`
	Multiplier float64        `mapstructure:"multiplier"`
	Priority   int            `mapstructure:"priority"`
	Days       []time.Weekday `mapstructure:"days"`
	HourFrom   int            `mapstructure:"hour_from"`
	HourTo     int            `mapstructure:"hour_to"`
}

var globalConfig Config

func Load(configPath string) error {
	if err := loadConfigFile(configPath, "config", &globalConfig); err != nil {
		return err
	}

	setDefaultValues()

	return nil
}

func loadConfigFile(configPath, fileName string, out interface{}) error {
	viper.SetConfigName(fileName)
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configPath)
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("config file %s.yaml not found, using only environment variables", fileName)
		}
		return fmt.Errorf("error reading config file %s.yaml: %w", fileName, err)
	}

	if err := viper.Unmarshal(out, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		StringToWeekdayHookFunc(),
	))); err != nil {
		return fmt.Errorf("failed to unmarshal %s config: %w", fileName, err)
	}

	return nil
}

func setDefaultValues() {
	if globalConfig.Server.Port == 0 {
		globalConfig.Server.Port = 8080
	}
	if globalConfig.Server.MetricsPort == 0 {
		globalConfig.Server.MetricsPort = 9090
	}
	if globalConfig.Log.Level == "" {
		globalConfig.Log.Level = "info"
	}
	if globalConfig.RateLimit.StoreTimeout == 0 {
		globalConfig.RateLimit.StoreTimeout = common.DefaultStoreTimeout
	}
	if globalConfig.RateLimit.SweepInterval == 0 {
		globalConfig.RateLimit.SweepInterval = common.DefaultSweepInterval
	}
}

func GetConfig() *Config {
	return &globalConfig
}

// StringToWeekdayHookFunc decodes weekday names ("Sunday", "monday") into
// time.Weekday values while unmarshalling surge rules.
func StringToWeekdayHookFunc() mapstructure.DecodeHookFunc {
	return func(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(time.Sunday) {
			return data, nil
		}
		name, ok := data.(string)
		if !ok {
			return data, nil
		}
		day, err := ParseWeekday(name)
		if err != nil {
			return nil, err
		}
		return day, nil
	}
}

func ParseWeekday(name string) (time.Weekday, error) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(d.String(), name) {
			return d, nil
		}
	}
	return time.Sunday, fmt.Errorf("unknown weekday %q", name)
}
