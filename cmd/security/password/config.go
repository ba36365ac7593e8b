package password

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Public password rules of the blog API, in characters.
const (
	MinLength = 6
	MaxLength = 20
)

// Argon2idParams controls Argon2id hashing cost. MemoryKiB is in KiB as argon2.IDKey expects.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Policy bounds accepted passwords.
type Policy struct {
	MinLength int
	MaxLength int
	// RejectTrivial refuses common passwords, repeats and straight runs.
	RejectTrivial bool
}

// Config is the single configuration surface for this package.
type Config struct {
	Params Argon2idParams
	Policy Policy
}

// DefaultConfig returns 64 MiB, 3 passes and up to 4 lanes with the public 6-20 rule.
func DefaultConfig() Config {
	lanes := min(max(runtime.NumCPU(), 1), 4)
	return Config{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024,
			Iterations:  3,
			Parallelism: uint8(lanes), // #nosec G115 -- clamped to [1..4].
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{MinLength: MinLength, MaxLength: MaxLength},
	}
}

// envKnob binds one environment variable to a config field within [lo..hi].
type envKnob struct {
	key    string
	lo, hi uint64
	set    func(c *Config, v uint64)
}

var knobs = []envKnob{
	{"BLOG_PASSWORD_MIN_LEN", 1, 1024, func(c *Config, v uint64) { c.Policy.MinLength = int(v) }},
	{"BLOG_PASSWORD_MAX_LEN", 1, 4096, func(c *Config, v uint64) { c.Policy.MaxLength = int(v) }},
	{"BLOG_ARGON2_MEMORY_KIB", 8 * 1024, 1024 * 1024, func(c *Config, v uint64) { c.Params.MemoryKiB = uint32(v) }},
	{"BLOG_ARGON2_ITERATIONS", 1, 20, func(c *Config, v uint64) { c.Params.Iterations = uint32(v) }},
	{"BLOG_ARGON2_PARALLELISM", 1, 64, func(c *Config, v uint64) { c.Params.Parallelism = uint8(v) }},
}

// FromEnv applies BLOG_PASSWORD_MIN_LEN, BLOG_PASSWORD_MAX_LEN, BLOG_PASSWORD_REJECT_TRIVIAL,
// BLOG_ARGON2_MEMORY_KIB, BLOG_ARGON2_ITERATIONS and BLOG_ARGON2_PARALLELISM over DefaultConfig.
// Malformed and out-of-range values are errors.
func FromEnv() (Config, error) {
	cfg := DefaultConfig()

	for _, k := range knobs {
		raw, ok := os.LookupEnv(k.key)
		if !ok {
			continue
		}
		v, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 32)
		if err != nil {
			return Config{}, fmt.Errorf("%s: not an unsigned integer", k.key)
		}
		if v < k.lo || v > k.hi {
			return Config{}, fmt.Errorf("%s: out of range [%d..%d]", k.key, k.lo, k.hi)
		}
		k.set(&cfg, v)
	}

	if raw, ok := os.LookupEnv("BLOG_PASSWORD_REJECT_TRIVIAL"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return Config{}, fmt.Errorf("BLOG_PASSWORD_REJECT_TRIVIAL: %w", err)
		}
		cfg.Policy.RejectTrivial = b
	}

	if cfg.Policy.MinLength > cfg.Policy.MaxLength {
		return Config{}, fmt.Errorf("password policy: min length %d > max length %d",
			cfg.Policy.MinLength, cfg.Policy.MaxLength)
	}
	return cfg, nil
}
