package optimizer

import (
	"context"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/xhit/go-str2duration/v2"
)

// EvictionPolicies are the maxmemory-policy values Redis accepts.
var EvictionPolicies = []string{
	"noeviction",
	"allkeys-lru",
	"allkeys-lfu",
	"allkeys-random",
	"volatile-lru",
	"volatile-lfu",
	"volatile-random",
	"volatile-ttl",
}

// Config is the live tunable state of the cache.
type Config struct {
	DefaultTTL     string `json:"defaultTTL"`
	EvictionPolicy string `json:"evictionPolicy,omitempty"`
	Compression    bool   `json:"compression"`
	MaxMemory      int64  `json:"maxMemory"`
}

// ConfigUpdate changes the fields that are set.
type ConfigUpdate struct {
	DefaultTTL     *string `json:"defaultTTL,omitempty"`
	EvictionPolicy *string `json:"evictionPolicy,omitempty"`
	Compression    *bool   `json:"compression,omitempty"`
	// MaxMemory accepts Redis size syntax such as 256mb.
	MaxMemory *string `json:"maxMemory,omitempty"`
}

// Config reads the current settings. Eviction policy and maxmemory are left
// empty when the store does not report them.
func (e *Engine) Config(ctx context.Context) Config {
	c := Config{
		DefaultTTL:  e.target.DefaultTTL().String(),
		Compression: e.target.CompressionEnabled(),
	}
	if info, err := e.target.MemoryInfo(ctx); err == nil {
		c.EvictionPolicy = info.Policy
		c.MaxMemory = info.MaxMemory
	}
	return c
}

// UpdateConfig validates every field before applying any of them. Local
// settings are applied before store settings; a rejected CONFIG SET is
// returned but does not roll the local ones back.
func (e *Engine) UpdateConfig(ctx context.Context, u ConfigUpdate) error {
	var errs []error
	var ttl time.Duration
	if u.DefaultTTL != nil {
		d, err := str2duration.ParseDuration(*u.DefaultTTL)
		switch {
		case err != nil:
			errs = append(errs, errors.Wrapf(err, "defaultTTL %q", *u.DefaultTTL))
		case d <= 0:
			errs = append(errs, errors.Newf("defaultTTL must be positive, got %s", d))
		default:
			ttl = d
		}
	}
	if u.EvictionPolicy != nil && !slices.Contains(EvictionPolicies, *u.EvictionPolicy) {
		errs = append(errs, errors.Newf("unknown eviction policy %q", *u.EvictionPolicy))
	}
	if u.MaxMemory != nil && !validSize(*u.MaxMemory) {
		errs = append(errs, errors.Newf("invalid maxMemory %q", *u.MaxMemory))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	if ttl > 0 {
		e.target.SetDefaultTTL(ttl)
	}
	if u.Compression != nil {
		e.target.SetCompression(*u.Compression)
	}
	if u.EvictionPolicy != nil {
		if err := e.target.SetConfig(ctx, maxmemoryPolicy, *u.EvictionPolicy); err != nil {
			errs = append(errs, err)
		}
	}
	if u.MaxMemory != nil {
		if err := e.target.SetConfig(ctx, maxmemorySetting, *u.MaxMemory); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	e.logger.Info("configuration updated")
	return nil
}

// validSize accepts a byte count with an optional b, kb, mb or gb suffix.
func validSize(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, unit := range []string{"kb", "mb", "gb", "b"} {
		if n, ok := strings.CutSuffix(s, unit); ok {
			s = n
			break
		}
	}
	_, err := strconv.ParseUint(s, 10, 64)
	return err == nil
}
