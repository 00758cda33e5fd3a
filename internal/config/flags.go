package config

import (
	"github.com/spf13/pflag"
)

// Flag names shared by every tenantctl command.
const (
	FlagConfig         = "config"
	FlagKubeconfig     = "kubeconfig"
	FlagCallTimeout    = "call-timeout"
	FlagStoreDriver    = "store-driver"
	FlagDatabaseURL    = "database-url"
	FlagMaxConcurrency = "max-concurrency"
)

// AddFlags registers the overridable settings on fs. Defaults shown in help
// come from Default; only flags set explicitly take effect in ApplyFlags.
func AddFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String(FlagConfig, "", "Path to a TOML configuration file")
	fs.String(FlagKubeconfig, "", "Path to a kubeconfig (defaults to in-cluster, then $KUBECONFIG, then ~/.kube/config)")
	fs.Duration(FlagCallTimeout, d.Cluster.CallTimeout.Duration, "Timeout of a single cluster call")
	fs.String(FlagStoreDriver, d.Store.Driver, "Tenant record store (postgres|memory)")
	fs.String(FlagDatabaseURL, "", "Postgres connection string of the tenant record store")
	fs.Int(FlagMaxConcurrency, d.Fleet.MaxConcurrency, "Parallel namespace reads in a fleet summary (0 = unbounded)")
}

// ApplyFlags copies explicitly set flags into c.
func (c *Config) ApplyFlags(fs *pflag.FlagSet) error {
	var err error
	if fs.Changed(FlagKubeconfig) {
		if c.Cluster.Kubeconfig, err = fs.GetString(FlagKubeconfig); err != nil {
			return err
		}
	}
	if fs.Changed(FlagCallTimeout) {
		if c.Cluster.CallTimeout.Duration, err = fs.GetDuration(FlagCallTimeout); err != nil {
			return err
		}
	}
	if fs.Changed(FlagStoreDriver) {
		if c.Store.Driver, err = fs.GetString(FlagStoreDriver); err != nil {
			return err
		}
	}
	if fs.Changed(FlagDatabaseURL) {
		if c.Store.DSN, err = fs.GetString(FlagDatabaseURL); err != nil {
			return err
		}
	}
	if fs.Changed(FlagMaxConcurrency) {
		if c.Fleet.MaxConcurrency, err = fs.GetInt(FlagMaxConcurrency); err != nil {
			return err
		}
	}
	return nil
}

// FromFlags runs Load with the --config flag of fs, then ApplyFlags and
// Validate.
func FromFlags(fs *pflag.FlagSet) (*Config, error) {
	path, err := fs.GetString(FlagConfig)
	if err != nil {
		return nil, err
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyFlags(fs); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
