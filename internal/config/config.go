// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads fleetauth configuration.
//
// Values are layered: flag defaults, then the YAML file, then flags given
// explicitly on the command line. Keys are dotted paths such as
// "session.validity"; each key is also a flag of the same name.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/fleetauth/internal/account"
	"github.com/holomush/fleetauth/internal/logging"
)

// Store backends.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config is the full process configuration.
type Config struct {
	Server       ServerConfig       `koanf:"server"`
	Store        string             `koanf:"store"`
	Database     DatabaseConfig     `koanf:"database"`
	Redis        RedisConfig        `koanf:"redis"`
	Session      SessionConfig      `koanf:"session"`
	Password     PasswordConfig     `koanf:"password"`
	Requirements RequirementsConfig `koanf:"requirements"`
	Metrics      MetricsConfig      `koanf:"metrics"`
	Host         HostConfig         `koanf:"host"`
	Log          LogConfig          `koanf:"log"`
	Achievements AchievementsConfig `koanf:"achievements"`
}

type ServerConfig struct {
	// Name identifies this process in sessions and bus envelopes.
	Name string `koanf:"name"`
}

type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxConns        int32         `koanf:"max_conns"`
	MaxConnLifetime time.Duration `koanf:"max_conn_lifetime"`
}

// RedisConfig selects the fleet transport. An empty Addr keeps events in
// process.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	Channel  string `koanf:"channel"`
}

type SessionConfig struct {
	Validity time.Duration `koanf:"validity"`
}

// PasswordConfig holds the argon2id cost of new digests.
type PasswordConfig struct {
	Memory      uint32 `koanf:"memory"`
	Iterations  uint32 `koanf:"iterations"`
	Parallelism uint8  `koanf:"parallelism"`
	SaltLength  uint32 `koanf:"salt_length"`
	KeyLength   uint32 `koanf:"key_length"`
}

type RequirementsConfig struct {
	Password PasswordRequirementsConfig `koanf:"password"`
	Username UsernameRequirementsConfig `koanf:"username"`
}

type PasswordRequirementsConfig struct {
	MinLength int  `koanf:"min_length"`
	MaxLength int  `koanf:"max_length"`
	Lowercase bool `koanf:"lowercase"`
	Uppercase bool `koanf:"uppercase"`
	Number    bool `koanf:"number"`
	Symbol    bool `koanf:"symbol"`
}

type UsernameRequirementsConfig struct {
	MinLength int    `koanf:"min_length"`
	MaxLength int    `koanf:"max_length"`
	Symbols   string `koanf:"symbols"`
	Lowercase bool   `koanf:"lowercase"`
	// Reserved are glob patterns of names nobody may register.
	Reserved []string `koanf:"reserved"`
}

type MetricsConfig struct {
	// Addr of the metrics and health server; empty disables it.
	Addr string `koanf:"addr"`
}

// HostConfig is where connection hosts reach this process.
type HostConfig struct {
	// Addr of the host gRPC API; empty disables it.
	Addr string `koanf:"addr"`
}

type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

type AchievementsConfig struct {
	Interval time.Duration `koanf:"interval"`
}

// RegisterFlags adds one flag per key, carrying the defaults.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("server.name", "", "identity of this server process (required)")
	fs.String("store", StorePostgres, "account store backend (postgres or memory)")

	fs.String("database.url", "", "PostgreSQL connection URL")
	fs.Int32("database.max_conns", 10, "maximum pooled database connections")
	fs.Duration("database.max_conn_lifetime", time.Hour, "maximum lifetime of a pooled connection")

	fs.String("redis.addr", "", "Redis address for fleet events (empty = in-process only)")
	fs.String("redis.password", "", "Redis password")
	fs.Int("redis.db", 0, "Redis database")
	fs.String("redis.channel", "fleetauth:events", "Redis channel carrying fleet events")

	fs.Duration("session.validity", account.DefaultSessionValidity, "how long a login stays valid")

	fs.Uint32("password.memory", 64*1024, "argon2id memory in KiB")
	fs.Uint32("password.iterations", 3, "argon2id iterations")
	fs.Uint8("password.parallelism", 2, "argon2id parallelism")
	fs.Uint32("password.salt_length", 64, "salt length in bytes")
	fs.Uint32("password.key_length", 64, "derived key length in bytes")

	fs.Int("requirements.password.min_length", 8, "minimum password length")
	fs.Int("requirements.password.max_length", 64, "maximum password length")
	fs.Bool("requirements.password.lowercase", true, "require a lowercase letter")
	fs.Bool("requirements.password.uppercase", true, "require an uppercase letter")
	fs.Bool("requirements.password.number", true, "require a number")
	fs.Bool("requirements.password.symbol", true, "require a symbol")

	fs.Int("requirements.username.min_length", 3, "minimum username length")
	fs.Int("requirements.username.max_length", 32, "maximum username length")
	fs.String("requirements.username.symbols", "_", "symbols allowed in usernames besides letters and digits")
	fs.Bool("requirements.username.lowercase", true, "require all-lowercase usernames")
	fs.StringSlice("requirements.username.reserved", nil, "reserved username glob patterns")

	fs.String("metrics.addr", "127.0.0.1:9100", "metrics and health address (empty = disabled)")
	fs.String("host.addr", "127.0.0.1:9200", "host gRPC API address (empty = disabled)")
	fs.String("log.format", "json", "log format (json or text)")
	fs.String("log.level", "info", "log level (debug, info, warn, error)")
	fs.Duration("achievements.interval", time.Minute, "playtime achievement check interval")
}

// Load reads configuration from the flag set registered with RegisterFlags
// and, when path is not empty, the YAML file at path.
func Load(fs *pflag.FlagSet, path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").
				With("operation", "load config file").
				With("path", path).
				Wrap(err)
		}
	}

	// Unchanged flags only fill keys the file left unset.
	if err := k.Load(posflag.Provider(fs, ".", k), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").
			With("operation", "load flags").
			Wrap(err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").
			With("operation", "decode config").
			Wrap(err)
	}
	return &cfg, nil
}

// Validate reports every invalid value at once.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Server.Name != "", "server.name is required")
	check(c.Store == StorePostgres || c.Store == StoreMemory, "store must be %q or %q, got %q", StorePostgres, StoreMemory, c.Store)
	check(c.Store != StorePostgres || c.Database.URL != "", "database.url is required for the postgres store")
	check(c.Database.MaxConns > 0, "database.max_conns must be positive")
	check(c.Redis.Addr == "" || c.Redis.Channel != "", "redis.channel is required with redis.addr")
	check(c.Session.Validity > 0, "session.validity must be positive")
	check(c.Password.Memory > 0 && c.Password.Iterations > 0 && c.Password.Parallelism > 0,
		"password.memory, password.iterations and password.parallelism must be positive")
	check(c.Password.SaltLength >= 16 && c.Password.KeyLength >= 16, "password.salt_length and password.key_length must be at least 16")
	check(c.Requirements.Password.MinLength > 0 && c.Requirements.Password.MinLength <= c.Requirements.Password.MaxLength,
		"requirements.password lengths must satisfy 0 < min_length <= max_length")
	check(c.Requirements.Username.MinLength > 0 && c.Requirements.Username.MinLength <= c.Requirements.Username.MaxLength,
		"requirements.username lengths must satisfy 0 < min_length <= max_length")
	check(c.Host.Addr == "" || c.Host.Addr != c.Metrics.Addr, "host.addr and metrics.addr must differ")
	check(c.Log.Format == "json" || c.Log.Format == "text", "log.format must be 'json' or 'text', got %q", c.Log.Format)
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %v", err)) //nolint:errorlint // flattened into CONFIG_INVALID
	}
	check(c.Achievements.Interval > 0, "achievements.interval must be positive")

	if _, err := c.UsernameRequirements(); err != nil {
		errs = append(errs, fmt.Errorf("requirements.username.reserved: %v", err)) //nolint:errorlint // flattened into CONFIG_INVALID
	}

	if err := errors.Join(errs...); err != nil {
		return oops.Code("CONFIG_INVALID").Wrap(err)
	}
	return nil
}

// HashParams returns the argon2id parameters for new digests.
func (c *Config) HashParams() account.HashParams {
	return account.HashParams{
		Algorithm:   account.AlgorithmArgon2id,
		Memory:      c.Password.Memory,
		Iterations:  c.Password.Iterations,
		Parallelism: c.Password.Parallelism,
		KeyLength:   c.Password.KeyLength,
		SaltLength:  c.Password.SaltLength,
	}
}

// PasswordRequirements builds the ordered password policy.
func (c *Config) PasswordRequirements() []account.PasswordRequirement {
	r := c.Requirements.Password
	reqs := []account.PasswordRequirement{account.PasswordLength{Min: r.MinLength, Max: r.MaxLength}}
	if r.Lowercase {
		reqs = append(reqs, account.PasswordLowercase{})
	}
	if r.Uppercase {
		reqs = append(reqs, account.PasswordUppercase{})
	}
	if r.Number {
		reqs = append(reqs, account.PasswordNumber{})
	}
	if r.Symbol {
		reqs = append(reqs, account.PasswordSymbol{})
	}
	return reqs
}

// UsernameRequirements builds the ordered username policy. It fails if a
// reserved pattern does not compile.
func (c *Config) UsernameRequirements() ([]account.UsernameRequirement, error) {
	r := c.Requirements.Username
	reqs := []account.UsernameRequirement{
		account.UsernameSymbols{Allowed: r.Symbols},
		account.UsernameLength{Min: r.MinLength, Max: r.MaxLength},
	}
	if r.Lowercase {
		reqs = append(reqs, account.UsernameLowercase{})
	}
	for _, pattern := range r.Reserved {
		p, err := account.NewUsernamePattern(pattern)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, p)
	}
	return reqs, nil
}
