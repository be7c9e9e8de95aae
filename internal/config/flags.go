package config

import "github.com/spf13/pflag"

// Flag names shared by every subcommand.
const (
	flagConfig    = "config"
	flagDebug     = "debug"
	flagAddr      = "addr"
	flagModels    = "models"
	flagBackend   = "backend"
	flagDSN       = "dsn"
	flagEndpoint  = "endpoint"
	flagGrid      = "grid-fallback"
	flagLogFormat = "log-format"
)

// BindFlags registers the config override flags on fs.
func BindFlags(fs *pflag.FlagSet) {
	fs.String(flagConfig, "", "Path to config file")
	fs.Bool(flagDebug, false, "Enable debug logging")
	fs.String(flagAddr, "", "HTTP listen address")
	fs.String(flagModels, "", "Directory holding meshes, masks and annotation collections")
	fs.String(flagBackend, "", "Annotation storage backend (file or postgres)")
	fs.String(flagDSN, "", "Postgres DSN for the postgres backend")
	fs.String(flagEndpoint, "", "Annotation endpoint base URL for pull/push")
	fs.Bool(flagGrid, false, "Generate placeholder grid instances when a mask is missing")
	fs.String(flagLogFormat, "", "Log format (console or json)")
}

// ConfigPath returns the explicit config path if provided via --config flag.
func ConfigPath(fs *pflag.FlagSet) string {
	if fs == nil {
		return ""
	}
	path, _ := fs.GetString(flagConfig)
	return path
}

// applyFlags applies CLI flag overrides to the config. Only flags the user
// actually set take effect.
func applyFlags(cfg *Config, fs *pflag.FlagSet) {
	if fs == nil {
		return
	}
	if fs.Changed(flagDebug) {
		if debug, _ := fs.GetBool(flagDebug); debug {
			cfg.Logging.Level = "debug"
		}
	}
	setString(fs, flagAddr, &cfg.Server.Addr)
	setString(fs, flagModels, &cfg.Data.ModelsDir)
	setString(fs, flagBackend, &cfg.Annotations.Backend)
	setString(fs, flagDSN, &cfg.Annotations.PostgresDSN)
	setString(fs, flagEndpoint, &cfg.Annotations.Endpoint)
	setString(fs, flagLogFormat, &cfg.Logging.Format)
	if fs.Changed(flagGrid) {
		cfg.Viewer.GridFallback, _ = fs.GetBool(flagGrid)
	}
}

func setString(fs *pflag.FlagSet, name string, dst *string) {
	if !fs.Changed(name) {
		return
	}
	if v, err := fs.GetString(name); err == nil && v != "" {
		*dst = v
	}
}
