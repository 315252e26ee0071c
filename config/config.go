/*
Package config loads every policy knob from defaults, a YAML file and the
environment.

PURPOSE:
  The core packages take explicit policy objects (resolver.Policy,
  charges.Policy, metrics.WALTPolicy, metrics.NOIPolicy) and never read
  configuration themselves. This package is the only place that knows about
  viper; it turns layered settings into those objects.

LAYERING (later wins):
  1. Defaults (Default())
  2. config.yaml in the given directory, or the given file
  3. Environment, prefix LEASE, dots become underscores:
       LEASE_NOI_BOOK=accrual
       LEASE_CHARGES_FALLBACK_TO_PRIOR_SEQUENCE=true

NO DEFAULT, ON PURPOSE:
  noi.book and absorption.same_store_window_months stay unset until
  configured. Requesting NOI or same-store absorption without them is an
  error (lease.ErrBookRequired, lease.ErrStabilityWindowRequired).

EXAMPLE config.yaml:
  resolver:
    eligible_statuses: [Activated, Superseded]
    excluded_types: [Proposal]
  charges:
    rent_codes: [rent, baserent]
    fallback_to_prior_sequence: false
  walt:
    month_to_month: exclude
  noi:
    book: accrual
    revenue_range: 40000-49999
    expense_range: 50000-69999
  cache:
    kind: lru
  store:
    driver: sqlite
    dsn: ./data/lease.db
  validation:
    thresholds: {overall: 95, rent_roll: 99}
    report_date: 2025-06-30

SEE ALSO:
  - factory/policy.go: the policy document this package fills in
*/
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/warp/lease-engine/cache"
	"github.com/warp/lease-engine/factory"
	"github.com/warp/lease-engine/lease"
	"github.com/warp/lease-engine/validation"
)

const EnvPrefix = "LEASE"

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Cache kinds.
const (
	CacheNone  = "none"
	CacheLRU   = "lru"
	CacheRedis = "redis"
)

var ErrUnknownDriver = errors.New("unknown store driver")

type EngineConfig struct {
	Workers int
}

type CacheConfig struct {
	Kind          string
	Size          int
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TTL           time.Duration
}

type StoreConfig struct {
	Driver string
	DSN    string
	// Feed is a JSON/YAML record feed preloaded into the memory driver.
	Feed string
}

type ValidationConfig struct {
	Thresholds map[string]float64
	// Fixtures is a directory of extra fixture files; empty means the
	// embedded set only.
	Fixtures  string
	Reference string
	// ReportDate pins the report date of scheduled runs. Empty means the
	// last day of the month before each run.
	ReportDate string
}

// ScheduledReportDate returns the report date source for scheduled
// validation runs.
func (c ValidationConfig) ScheduledReportDate(now func() time.Time) (func() lease.Date, error) {
	if c.ReportDate != "" {
		fixed, err := lease.ParseDate(c.ReportDate)
		if err != nil {
			return nil, fmt.Errorf("validation.report_date: %w", err)
		}
		return func() lease.Date { return fixed }, nil
	}
	return func() lease.Date { return lease.DateOf(now()).StartOfMonth().AddDays(-1) }, nil
}

type ServerConfig struct {
	Port        int
	CORSOrigins []string
}

type Config struct {
	Policy     factory.PolicyJSON
	Engine     EngineConfig
	Cache      CacheConfig
	Store      StoreConfig
	Validation ValidationConfig
	Server     ServerConfig
	LogLevel   string

	// File is the configuration file that was read, empty when none.
	File string
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Policy: factory.PolicyJSON{
			EligibleStatuses: []string{"Activated", "Superseded"},
			ExcludedTypes:    []string{"Termination"},
			RentCodes:        []string{"rent", "rnt", "baserent"},
			MonthToMonth:     "exclude",
		},
		Cache:      CacheConfig{Kind: CacheNone, Size: cache.DefaultLRUSize, TTL: cache.DefaultTTL},
		Store:      StoreConfig{Driver: DriverMemory},
		Validation: ValidationConfig{Thresholds: map[string]float64{validation.OverallKey: 95}},
		Server:     ServerConfig{Port: 8080, CORSOrigins: []string{"*"}},
		LogLevel:   "info",
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("resolver.eligible_statuses", d.Policy.EligibleStatuses)
	v.SetDefault("resolver.excluded_types", d.Policy.ExcludedTypes)
	v.SetDefault("charges.rent_codes", d.Policy.RentCodes)
	v.SetDefault("charges.fallback_to_prior_sequence", false)
	v.SetDefault("walt.month_to_month", d.Policy.MonthToMonth)
	v.SetDefault("engine.workers", 0)
	v.SetDefault("cache.kind", d.Cache.Kind)
	v.SetDefault("cache.size", d.Cache.Size)
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.ttl", d.Cache.TTL)
	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.feed", "")
	v.SetDefault("validation.fixtures", "")
	v.SetDefault("validation.reference", "")
	v.SetDefault("validation.report_date", "")
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.cors_origins", d.Server.CORSOrigins)
	v.SetDefault("log_level", d.LogLevel)
}

// Load reads configuration from path, which may be a directory searched
// for config.yaml or a file. A missing config.yaml in a directory is not an
// error; an explicitly named file that is missing is.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Keys without defaults are unknown to AutomaticEnv until bound.
	for _, key := range []string{
		"absorption.same_store_window_months",
		"noi.book", "noi.revenue_range", "noi.expense_range",
		"validation.thresholds.overall",
	} {
		_ = v.BindEnv(key)
	}

	explicit := false
	if path != "" {
		info, statErr := os.Stat(path)
		if filepath.Ext(path) != "" || (statErr == nil && !info.IsDir()) {
			v.SetConfigFile(path)
			explicit = true
		} else {
			v.SetConfigName("config")
			v.SetConfigType("yaml")
			v.AddConfigPath(path)
		}
	}

	cfg := Config{}
	if path != "" {
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if explicit || !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		} else {
			cfg.File = v.ConfigFileUsed()
		}
	}

	cfg.Policy = factory.PolicyJSON{
		EligibleStatuses:        v.GetStringSlice("resolver.eligible_statuses"),
		ExcludedTypes:           v.GetStringSlice("resolver.excluded_types"),
		RentCodes:               v.GetStringSlice("charges.rent_codes"),
		FallbackToPriorSequence: v.GetBool("charges.fallback_to_prior_sequence"),
		MonthToMonth:            v.GetString("walt.month_to_month"),
		SameStoreWindowMonths:   v.GetInt("absorption.same_store_window_months"),
	}
	if v.IsSet("noi.book") && strings.TrimSpace(v.GetString("noi.book")) != "" {
		cfg.Policy.NOI = &factory.NOIJSON{
			Book:         v.GetString("noi.book"),
			RevenueRange: v.GetString("noi.revenue_range"),
			ExpenseRange: v.GetString("noi.expense_range"),
		}
	}
	cfg.Engine = EngineConfig{Workers: v.GetInt("engine.workers")}
	cfg.Cache = CacheConfig{
		Kind:          strings.ToLower(v.GetString("cache.kind")),
		Size:          v.GetInt("cache.size"),
		RedisAddr:     v.GetString("cache.redis_addr"),
		RedisPassword: v.GetString("cache.redis_password"),
		RedisDB:       v.GetInt("cache.redis_db"),
		TTL:           v.GetDuration("cache.ttl"),
	}
	cfg.Store = StoreConfig{
		Driver: strings.ToLower(v.GetString("store.driver")),
		DSN:    v.GetString("store.dsn"),
		Feed:   v.GetString("store.feed"),
	}
	cfg.Validation = ValidationConfig{
		Thresholds: map[string]float64{},
		Fixtures:   v.GetString("validation.fixtures"),
		Reference:  v.GetString("validation.reference"),
		ReportDate: strings.TrimSpace(v.GetString("validation.report_date")),
	}
	// An unquoted YAML date arrives as a timestamp.
	if t, ok := v.Get("validation.report_date").(time.Time); ok {
		cfg.Validation.ReportDate = lease.DateOf(t).String()
	}
	for category := range v.GetStringMap("validation.thresholds") {
		if key := "validation.thresholds." + category; v.IsSet(key) {
			cfg.Validation.Thresholds[category] = v.GetFloat64(key)
		}
	}
	if _, ok := cfg.Validation.Thresholds[validation.OverallKey]; !ok {
		if v.IsSet("validation.thresholds.overall") {
			cfg.Validation.Thresholds[validation.OverallKey] = v.GetFloat64("validation.thresholds.overall")
		} else {
			cfg.Validation.Thresholds[validation.OverallKey] = Default().Validation.Thresholds[validation.OverallKey]
		}
	}
	cfg.Server = ServerConfig{
		Port:        v.GetInt("server.port"),
		CORSOrigins: v.GetStringSlice("server.cors_origins"),
	}
	cfg.LogLevel = v.GetString("log_level")

	return cfg, cfg.Validate()
}

// Validate checks the settings that are not policy; policy is checked when
// Policies builds it.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory, DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("store driver %q: %w", c.Store.Driver, ErrUnknownDriver)
	}
	switch c.Cache.Kind {
	case CacheNone, CacheLRU, CacheRedis:
	default:
		return fmt.Errorf("unknown cache kind %q", c.Cache.Kind)
	}
	if c.Store.Driver != DriverMemory && c.Store.DSN == "" {
		return fmt.Errorf("store driver %s needs store.dsn: %w", c.Store.Driver, lease.ErrMissingKey)
	}
	if c.Validation.ReportDate != "" {
		if _, err := lease.ParseDate(c.Validation.ReportDate); err != nil {
			return fmt.Errorf("validation.report_date: %w", err)
		}
	}
	if c.Engine.Workers < 0 {
		return fmt.Errorf("engine.workers must not be negative, got %d", c.Engine.Workers)
	}
	return nil
}

// Policies builds the explicit policy objects.
func (c Config) Policies() (factory.Policies, error) {
	p, err := c.Policy.Policies()
	if err != nil {
		return factory.Policies{}, fmt.Errorf("policy config: %w", err)
	}
	return p, nil
}

// Thresholds converts the gate thresholds.
func (c Config) Thresholds() validation.Thresholds {
	out := make(validation.Thresholds, len(c.Validation.Thresholds))
	for category, floor := range c.Validation.Thresholds {
		out[category] = decimal.NewFromFloat(floor)
	}
	return out
}

// NewCache opens the configured memo backend. Close is a no-op for
// in-process backends.
func (c CacheConfig) NewCache(ctx context.Context) (cache.Cache, func() error, error) {
	nop := func() error { return nil }
	switch c.Kind {
	case CacheNone, "":
		return cache.Nop{}, nop, nil
	case CacheLRU:
		l, err := cache.NewLRU(c.Size)
		if err != nil {
			return nil, nil, err
		}
		return l, nop, nil
	case CacheRedis:
		r, err := cache.NewRedis(ctx, cache.RedisOptions{
			Addr:     c.RedisAddr,
			Password: c.RedisPassword,
			DB:       c.RedisDB,
			TTL:      c.TTL,
		})
		if err != nil {
			return nil, nil, err
		}
		return r, r.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown cache kind %q", c.Kind)
}
