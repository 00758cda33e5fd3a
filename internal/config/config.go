// Package config assembles tenantctl configuration from built-in defaults,
// .env files, an optional TOML file, TENANT_* environment variables and
// command line flags, in that order of precedence (last wins).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/hashicorp/go-multierror"
	"k8s.io/apimachinery/pkg/api/resource"

	platformv1alpha1 "github.com/shieldx-bot/tenant-platform/api/v1alpha1"
	"github.com/shieldx-bot/tenant-platform/internal/config/dotenv"
	"github.com/shieldx-bot/tenant-platform/internal/cost"
	"github.com/shieldx-bot/tenant-platform/internal/notify"
	"github.com/shieldx-bot/tenant-platform/internal/provision"
	"github.com/shieldx-bot/tenant-platform/internal/tenant"
	"github.com/shieldx-bot/tenant-platform/internal/verifyimage"
)

// Duration decodes Go duration strings such as "30s" from TOML and env.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

type Config struct {
	Cluster  ClusterConfig         `toml:"cluster"`
	Store    StoreConfig           `toml:"store"`
	Pricing  cost.Pricing          `toml:"pricing"`
	Tiers    map[string]TierConfig `toml:"tiers"`
	Workload WorkloadConfig        `toml:"workload"`
	Fleet    FleetConfig           `toml:"fleet"`
	Notify   NotifyConfig          `toml:"notify"`
	Verify   VerifyConfig          `toml:"verify"`
	Naming   NamingConfig          `toml:"naming"`
}

type ClusterConfig struct {
	Kubeconfig          string   `toml:"kubeconfig"`
	CallTimeout         Duration `toml:"call-timeout"`
	RemovalTimeout      Duration `toml:"removal-timeout"`
	RemovalPollInterval Duration `toml:"removal-poll-interval"`
}

type StoreConfig struct {
	Driver   string `toml:"driver"`
	DSN      string `toml:"dsn"`
	MaxConns int32  `toml:"max-conns"`
}

// TierConfig is the default quota of a tier, in Kubernetes quantity syntax.
type TierConfig struct {
	CPU             string `toml:"cpu"`
	Memory          string `toml:"memory"`
	Storage         string `toml:"storage"`
	MaxParticipants int    `toml:"max-participants"`
}

func (t TierConfig) Quota() (platformv1alpha1.Quota, error) {
	var q platformv1alpha1.Quota
	var err error
	if q.CPU, err = resource.ParseQuantity(t.CPU); err != nil {
		return q, fmt.Errorf("cpu %q: %w", t.CPU, err)
	}
	if q.Memory, err = resource.ParseQuantity(t.Memory); err != nil {
		return q, fmt.Errorf("memory %q: %w", t.Memory, err)
	}
	if q.Storage, err = resource.ParseQuantity(t.Storage); err != nil {
		return q, fmt.Errorf("storage %q: %w", t.Storage, err)
	}
	q.MaxParticipants = t.MaxParticipants
	return q, q.Validate()
}

type WorkloadConfig struct {
	Image                  string `toml:"image"`
	StorageSize            string `toml:"storage-size"`
	StorageClass           string `toml:"storage-class"`
	DatabaseName           string `toml:"database-name"`
	DatabaseUser           string `toml:"database-user"`
	RequestsCPU            string `toml:"requests-cpu"`
	RequestsMemory         string `toml:"requests-memory"`
	LimitsCPU              string `toml:"limits-cpu"`
	LimitsMemory           string `toml:"limits-memory"`
	ObservabilityNamespace string `toml:"observability-namespace"`
	MaxPVCs                int64  `toml:"max-pvcs"`
	MaxPods                int64  `toml:"max-pods"`
	MaxServices            int64  `toml:"max-services"`
}

type FleetConfig struct {
	MaxConcurrency int      `toml:"max-concurrency"`
	ReportInterval Duration `toml:"report-interval"`
}

type NotifyConfig struct {
	TelegramToken  string `toml:"telegram-token"`
	TelegramChatID string `toml:"telegram-chat-id"`
	APIBase        string `toml:"api-base"`
	Template       string `toml:"template"`
}

// Enabled reports whether Telegram notifications are configured.
func (n NotifyConfig) Enabled() bool {
	return n.TelegramToken != "" && n.TelegramChatID != ""
}

type VerifyConfig struct {
	// PublicKey enables image verification when set.
	PublicKey  string `toml:"public-key"`
	IgnoreTlog bool   `toml:"ignore-tlog"`
}

type NamingConfig struct {
	MaxRegisterAttempts int `toml:"max-register-attempts"`
}

func Default() *Config {
	return &Config{
		Cluster: ClusterConfig{
			CallTimeout:         Duration{30 * time.Second},
			RemovalTimeout:      Duration{5 * time.Minute},
			RemovalPollInterval: Duration{2 * time.Second},
		},
		Store: StoreConfig{
			Driver:   StorePostgres,
			DSN:      "postgres://localhost:5432/tenant_platform?sslmode=disable",
			MaxConns: 10,
		},
		Pricing: cost.Pricing{
			CPUPerCoreHour:     0.05,
			MemoryPerGiBHour:   0.01,
			StoragePerGiBMonth: 0.10,
		},
		Tiers: map[string]TierConfig{
			string(platformv1alpha1.TierBasic):      {CPU: "2", Memory: "4Gi", Storage: "10Gi", MaxParticipants: 100},
			string(platformv1alpha1.TierPro):        {CPU: "4", Memory: "8Gi", Storage: "50Gi", MaxParticipants: 500},
			string(platformv1alpha1.TierEnterprise): {CPU: "16", Memory: "32Gi", Storage: "200Gi", MaxParticipants: 5000},
		},
		Workload: WorkloadConfig{
			Image:                  "postgres:15-alpine",
			StorageSize:            "10Gi",
			DatabaseName:           "tenant",
			DatabaseUser:           "tenant_user",
			RequestsCPU:            "100m",
			RequestsMemory:         "256Mi",
			LimitsCPU:              "500m",
			LimitsMemory:           "512Mi",
			ObservabilityNamespace: "monitoring",
			MaxPVCs:                5,
			MaxPods:                20,
			MaxServices:            10,
		},
		Fleet: FleetConfig{
			ReportInterval: Duration{5 * time.Minute},
		},
		Notify: NotifyConfig{
			APIBase:  notify.DefaultTelegramAPI,
			Template: notify.DefaultTemplate,
		},
		Naming: NamingConfig{MaxRegisterAttempts: 5},
	}
}

// Load builds a configuration from defaults, .env files, the TOML file at
// path (skipped when empty) and the environment. Flags are applied
// separately with ApplyFlags.
func Load(path string) (*Config, error) {
	dotenv.Load()

	cfg := Default()
	if path != "" {
		md, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			return nil, fmt.Errorf("unknown keys in config file %q: %s", path, strings.Join(keys, ", "))
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

type envVar struct {
	name string
	set  func(c *Config, v string) error
}

func stringVar(field func(c *Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*field(c) = v
		return nil
	}
}

func floatVar(field func(c *Config) *float64) func(*Config, string) error {
	return func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*field(c) = f
		return nil
	}
}

func durationVar(field func(c *Config) *Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		return field(c).UnmarshalText([]byte(v))
	}
}

var envVars = []envVar{
	{"TENANT_KUBECONFIG", stringVar(func(c *Config) *string { return &c.Cluster.Kubeconfig })},
	{"TENANT_CALL_TIMEOUT", durationVar(func(c *Config) *Duration { return &c.Cluster.CallTimeout })},
	{"TENANT_REMOVAL_TIMEOUT", durationVar(func(c *Config) *Duration { return &c.Cluster.RemovalTimeout })},
	{"TENANT_REMOVAL_POLL_INTERVAL", durationVar(func(c *Config) *Duration { return &c.Cluster.RemovalPollInterval })},
	{"TENANT_STORE_DRIVER", stringVar(func(c *Config) *string { return &c.Store.Driver })},
	{"TENANT_DATABASE_URL", stringVar(func(c *Config) *string { return &c.Store.DSN })},
	{"TENANT_PRICE_CPU_CORE_HOUR", floatVar(func(c *Config) *float64 { return &c.Pricing.CPUPerCoreHour })},
	{"TENANT_PRICE_MEMORY_GIB_HOUR", floatVar(func(c *Config) *float64 { return &c.Pricing.MemoryPerGiBHour })},
	{"TENANT_PRICE_STORAGE_GIB_MONTH", floatVar(func(c *Config) *float64 { return &c.Pricing.StoragePerGiBMonth })},
	{"TENANT_WORKLOAD_IMAGE", stringVar(func(c *Config) *string { return &c.Workload.Image })},
	{"TENANT_OBSERVABILITY_NAMESPACE", stringVar(func(c *Config) *string { return &c.Workload.ObservabilityNamespace })},
	{"TENANT_FLEET_MAX_CONCURRENCY", func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		c.Fleet.MaxConcurrency = n
		return nil
	}},
	{"TENANT_FLEET_REPORT_INTERVAL", durationVar(func(c *Config) *Duration { return &c.Fleet.ReportInterval })},
	{"TENANT_TELEGRAM_BOT_TOKEN", stringVar(func(c *Config) *string { return &c.Notify.TelegramToken })},
	{"TENANT_TELEGRAM_CHAT_ID", stringVar(func(c *Config) *string { return &c.Notify.TelegramChatID })},
	{"TENANT_COSIGN_PUBLIC_KEY", stringVar(func(c *Config) *string { return &c.Verify.PublicKey })},
	{"TENANT_COSIGN_IGNORE_TLOG", func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		c.Verify.IgnoreTlog = b
		return nil
	}},
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var result *multierror.Error
	for _, ev := range envVars {
		v, ok := lookup(ev.name)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		if err := ev.set(c, strings.TrimSpace(v)); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", ev.name, err))
		}
	}
	return result.ErrorOrNil()
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var result *multierror.Error
	add := func(format string, args ...any) {
		result = multierror.Append(result, fmt.Errorf(format, args...))
	}

	if c.Cluster.CallTimeout.Duration <= 0 {
		add("cluster.call-timeout must be positive, got %s", c.Cluster.CallTimeout)
	}
	if c.Cluster.RemovalTimeout.Duration <= 0 {
		add("cluster.removal-timeout must be positive, got %s", c.Cluster.RemovalTimeout)
	}
	if c.Cluster.RemovalPollInterval.Duration <= 0 {
		add("cluster.removal-poll-interval must be positive, got %s", c.Cluster.RemovalPollInterval)
	}

	switch c.Store.Driver {
	case StoreMemory:
	case StorePostgres:
		if c.Store.DSN == "" {
			add("store.dsn is required for the postgres driver")
		}
	default:
		add("store.driver must be %s or %s, got %q", StorePostgres, StoreMemory, c.Store.Driver)
	}

	if err := c.Pricing.Validate(); err != nil {
		add("pricing: %w", err)
	}

	for _, tier := range platformv1alpha1.Tiers {
		tc, ok := c.Tiers[string(tier)]
		if !ok {
			add("tiers.%s is missing", tier)
			continue
		}
		if _, err := tc.Quota(); err != nil {
			add("tiers.%s: %w", tier, err)
		}
	}
	for key := range c.Tiers {
		if !platformv1alpha1.Tier(key).Valid() {
			add("tiers.%s: unknown tier", key)
		}
	}

	if _, err := name.ParseReference(c.Workload.Image); err != nil {
		add("workload.image: %w", err)
	}
	if _, err := c.ProvisionOptions(); err != nil {
		add("workload: %w", err)
	}

	if c.Fleet.MaxConcurrency < 0 {
		add("fleet.max-concurrency must not be negative, got %d", c.Fleet.MaxConcurrency)
	}
	if c.Fleet.ReportInterval.Duration <= 0 {
		add("fleet.report-interval must be positive, got %s", c.Fleet.ReportInterval)
	}

	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		add("notify.telegram-token and notify.telegram-chat-id must be set together")
	}
	if c.Naming.MaxRegisterAttempts <= 0 {
		add("naming.max-register-attempts must be positive, got %d", c.Naming.MaxRegisterAttempts)
	}

	return result.ErrorOrNil()
}

// ProvisionOptions converts the workload section.
func (c *Config) ProvisionOptions() (provision.Options, error) {
	w := c.Workload
	opts := provision.Options{
		CallTimeout:               c.Cluster.CallTimeout.Duration,
		RemovalPollInterval:       c.Cluster.RemovalPollInterval.Duration,
		ObservabilityNamespace:    w.ObservabilityNamespace,
		MaxPersistentVolumeClaims: w.MaxPVCs,
		MaxPods:                   w.MaxPods,
		MaxServices:               w.MaxServices,
		Database: provision.DatabaseOptions{
			Image:        w.Image,
			StorageClass: w.StorageClass,
			Name:         w.DatabaseName,
			User:         w.DatabaseUser,
		},
	}

	var result *multierror.Error
	for _, q := range []struct {
		key string
		raw string
		dst *resource.Quantity
	}{
		{"storage-size", w.StorageSize, &opts.Database.StorageSize},
		{"requests-cpu", w.RequestsCPU, &opts.Database.RequestsCPU},
		{"requests-memory", w.RequestsMemory, &opts.Database.RequestsMemory},
		{"limits-cpu", w.LimitsCPU, &opts.Database.LimitsCPU},
		{"limits-memory", w.LimitsMemory, &opts.Database.LimitsMemory},
	} {
		if q.raw == "" {
			continue
		}
		v, err := resource.ParseQuantity(q.raw)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%s %q: %w", q.key, q.raw, err))
			continue
		}
		*q.dst = v
	}
	if err := result.ErrorOrNil(); err != nil {
		return provision.Options{}, err
	}
	if err := opts.Validate(); err != nil {
		return provision.Options{}, err
	}
	return opts, nil
}

// TierQuotas converts the tiers section.
func (c *Config) TierQuotas() (map[platformv1alpha1.Tier]platformv1alpha1.Quota, error) {
	out := make(map[platformv1alpha1.Tier]platformv1alpha1.Quota, len(c.Tiers))
	for key, tc := range c.Tiers {
		q, err := tc.Quota()
		if err != nil {
			return nil, fmt.Errorf("tier %s: %w", key, err)
		}
		out[platformv1alpha1.Tier(key)] = q
	}
	return out, nil
}

func (c *Config) CostConfig() cost.Config {
	return cost.Config{
		Pricing:        c.Pricing,
		CallTimeout:    c.Cluster.CallTimeout.Duration,
		MaxConcurrency: c.Fleet.MaxConcurrency,
	}
}

func (c *Config) TenantConfig() (tenant.Config, error) {
	tiers, err := c.TierQuotas()
	if err != nil {
		return tenant.Config{}, err
	}
	return tenant.Config{
		Tiers:               tiers,
		MaxRegisterAttempts: c.Naming.MaxRegisterAttempts,
		RemovalTimeout:      c.Cluster.RemovalTimeout.Duration,
	}, nil
}

func (c *Config) TelegramConfig() notify.TelegramConfig {
	return notify.TelegramConfig{
		BotToken: c.Notify.TelegramToken,
		ChatID:   c.Notify.TelegramChatID,
		APIBase:  c.Notify.APIBase,
		Template: c.Notify.Template,
		Timeout:  c.Cluster.CallTimeout.Duration,
	}
}

func (c *Config) VerifyConfig() verifyimage.Config {
	return verifyimage.Config{
		PublicKeyPath: c.Verify.PublicKey,
		IgnoreTlog:    c.Verify.IgnoreTlog,
		Timeout:       c.Cluster.CallTimeout.Duration,
	}
}
