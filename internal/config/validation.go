package config

import "errors"

// Validate performs semantic checks the decode step cannot express, so a bad
// configuration fails before the engine touches disk.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("empty configuration")
	}

	g := c.Global
	if g.StoragePath == "" {
		return newFieldError("StoragePath", "must not be empty")
	}
	if g.CacheCapacity < 0 {
		return newFieldError("CacheCapacity", "must not be negative")
	}
	if g.PartitionQuota <= 0 {
		return newFieldError("PartitionQuota", "must be greater than 0")
	}
	if g.MaxAgeCap.DurationValue() < 0 {
		return newFieldError("MaxAgeCap", "must not be negative")
	}
	if g.LogMaxSize < 0 {
		return newFieldError("LogMaxSize", "must not be negative")
	}
	if g.LogMaxBackups < 0 {
		return newFieldError("LogMaxBackups", "must not be negative")
	}
	switch g.InitFailure {
	case InitRetryOnAccess, InitFailSession:
	default:
		return newFieldError("InitFailurePolicy", `must be "retry" or "fail"`)
	}
	return nil
}
