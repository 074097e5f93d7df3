package config

import (
	"fmt"
	"path/filepath"
	"reflect"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load reads and parses the TOML configuration file, applying defaults and
// validation. An empty path falls back to config.toml.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(textDecodeHook())); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("CacheCapacity", 1<<30)
	v.SetDefault("PartitionQuota", 400*(1<<20))
	v.SetDefault("MaxAgeCap", 0)
	v.SetDefault("InitFailurePolicy", string(InitRetryOnAccess))
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.LogLevel == "" {
		g.LogLevel = "info"
	}
	if g.StoragePath == "" {
		g.StoragePath = "./storage"
	}
	if g.CacheCapacity == 0 {
		g.CacheCapacity = 1 << 30
	}
	if g.PartitionQuota == 0 {
		g.PartitionQuota = 400 * (1 << 20)
	}
	if g.InitFailure == "" {
		g.InitFailure = InitRetryOnAccess
	}
}

// textDecodeHook routes string values through encoding.TextUnmarshaler so the
// Duration and ByteSize spellings work from viper.
func textDecodeHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if from.Kind() != reflect.String {
			return data, nil
		}
		switch to {
		case reflect.TypeOf(Duration(0)):
			var d Duration
			if err := d.UnmarshalText([]byte(data.(string))); err != nil {
				return nil, err
			}
			return d, nil
		case reflect.TypeOf(ByteSize(0)):
			var b ByteSize
			if err := b.UnmarshalText([]byte(data.(string))); err != nil {
				return nil, err
			}
			return b, nil
		}
		return data, nil
	}
}
