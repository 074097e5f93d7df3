package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration accepts both plain integer seconds and Go duration strings such
// as "30s" or "5m" when decoding from the config file.
type Duration time.Duration

// UnmarshalText lets viper decode values like "30s", "5m" or bare seconds.
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

	if intVal, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue returns the underlying time.Duration.
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// ByteSize accepts plain byte counts as well as human-friendly suffixes
// such as "256MB" or "1GiB".
type ByteSize int64

var byteSuffixes = []struct {
	suffix string
	factor int64
}{
	{"GIB", 1 << 30},
	{"MIB", 1 << 20},
	{"KIB", 1 << 10},
	{"GB", 1 << 30},
	{"MB", 1 << 20},
	{"KB", 1 << 10},
	{"B", 1},
}

// UnmarshalText parses "104857600", "100MB" and similar spellings.
func (b *ByteSize) UnmarshalText(text []byte) error {
	raw := strings.ToUpper(strings.TrimSpace(string(text)))
	if raw == "" {
		*b = 0
		return nil
	}

	factor := int64(1)
	for _, s := range byteSuffixes {
		if strings.HasSuffix(raw, s.suffix) {
			raw = strings.TrimSpace(strings.TrimSuffix(raw, s.suffix))
			factor = s.factor
			break
		}
	}

	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid byte size value: %s", string(text))
	}
	*b = ByteSize(value * factor)
	return nil
}

// Int64 returns the size in bytes.
func (b ByteSize) Int64() int64 {
	return int64(b)
}

// InitFailurePolicy controls what happens when reading an origin partition
/// from disk fails: retry the load on the next access, or keep the partition
// failed for the rest of the session.
type InitFailurePolicy string

const (
	InitRetryOnAccess InitFailurePolicy = "retry"
	InitFailSession   InitFailurePolicy = "fail"
)

// Config is the root of the parsed configuration file.
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
}

// GlobalConfig describes engine-wide runtime behaviour. All sessions created
// by one process share these parameters.
type GlobalConfig struct {
	LogLevel      string `mapstructure:"LogLevel"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`

	StoragePath string `mapstructure:"StoragePath"`

	// CacheCapacity bounds the per-resource cache; exceeding it triggers
	// background trimming. PartitionQuota bounds each origin partition.
	CacheCapacity  ByteSize `mapstructure:"CacheCapacity"`
	PartitionQuota ByteSize `mapstructure:"PartitionQuota"`

	// MaxAgeCap, when positive, lowers (never raises) the freshness
	// lifetime of stored responses.
	MaxAgeCap Duration `mapstructure:"MaxAgeCap"`

	InitFailure InitFailurePolicy `mapstructure:"InitFailurePolicy"`
}
