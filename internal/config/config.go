// Package config collects csync settings from flags, CSYNC_* environment
// variables and an optional YAML file.
package config

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
	"github.com/urfave/cli/v2/altsrc"

	"github.com/chmdznr/caracterizacion-sync/internal/backup"
	"github.com/chmdznr/caracterizacion-sync/internal/connectivity"
	"github.com/chmdznr/caracterizacion-sync/internal/ingest"
	"github.com/chmdznr/caracterizacion-sync/internal/logging"
)

// Config is the full runtime configuration
type Config struct {
	DBPath string

	APIURL      string
	HealthPath  string
	Token       string
	SyncTimeout time.Duration

	ProbeMethod    string
	ProbeInterval  time.Duration
	ProbeTimeout   time.Duration
	SignalInterval time.Duration

	// ListenAddr enables the local HTTP surface in watch mode when set
	ListenAddr string

	Backup backup.Config
	Log    logging.Options
}

// Default returns the built-in defaults
func Default() Config {
	return Config{
		DBPath:         "csync.db",
		HealthPath:     "/health",
		SyncTimeout:    ingest.DefaultTimeout,
		ProbeMethod:    http.MethodHead,
		ProbeInterval:  connectivity.DefaultInterval,
		ProbeTimeout:   connectivity.DefaultTimeout,
		SignalInterval: connectivity.DefaultSignalInterval,
		Backup:         backup.Config{UseSSL: true},
		Log:            logging.DefaultOptions(),
	}
}

// Validate checks values that every command depends on
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db path is required")
	}
	if c.APIURL != "" {
		u, err := url.Parse(c.APIURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("api-url %q must be an http(s) URL", c.APIURL)
		}
	}
	if c.SyncTimeout <= 0 {
		return fmt.Errorf("sync-timeout must be positive")
	}
	if c.ProbeInterval <= 0 || c.ProbeTimeout <= 0 {
		return fmt.Errorf("probe interval and timeout must be positive")
	}
	switch strings.ToUpper(c.ProbeMethod) {
	case http.MethodHead, http.MethodGet:
	default:
		return fmt.Errorf("probe-method must be HEAD or GET, got %q", c.ProbeMethod)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log-format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// RequireAPI reports an error when no ingestion API is configured
func (c *Config) RequireAPI() error {
	if c.APIURL == "" {
		return fmt.Errorf("api-url is required (flag --api-url or CSYNC_API_URL)")
	}
	return nil
}

// HealthURL returns the liveness probe URL. HealthPath may be absolute.
func (c *Config) HealthURL() string {
	if strings.HasPrefix(c.HealthPath, "http://") || strings.HasPrefix(c.HealthPath, "https://") {
		return c.HealthPath
	}
	return strings.TrimRight(c.APIURL, "/") + "/" + strings.TrimLeft(c.HealthPath, "/")
}

// Connectivity returns the monitor configuration
func (c *Config) Connectivity() connectivity.Config {
	return connectivity.Config{
		URL:      c.HealthURL(),
		Method:   strings.ToUpper(c.ProbeMethod),
		Interval: c.ProbeInterval,
		Timeout:  c.ProbeTimeout,
	}
}

// Ingest returns the ingestion client configuration
func (c *Config) Ingest(userAgent string) ingest.Config {
	return ingest.Config{
		BaseURL:   c.APIURL,
		Timeout:   c.SyncTimeout,
		UserAgent: userAgent,
	}
}

// Flags returns the global flags. Every flag except config can also be set
// in the YAML file named by --config.
func Flags() []cli.Flag {
	d := Default()
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "YAML configuration file",
			EnvVars: []string{"CSYNC_CONFIG"},
		},
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:    "db",
			Usage:   "Local record store file",
			Value:   d.DBPath,
			EnvVars: []string{"CSYNC_DB"},
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:    "api-url",
			Usage:   "Base URL of the backend API",
			EnvVars: []string{"CSYNC_API_URL"},
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:    "health-path",
			Usage:   "Liveness endpoint, relative to api-url or absolute",
			Value:   d.HealthPath,
			EnvVars: []string{"CSYNC_HEALTH_PATH"},
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:    "token",
			Usage:   "Bearer token of the signed-in advisor",
			EnvVars: []string{"CSYNC_TOKEN"},
		}),
		altsrc.NewDurationFlag(&cli.DurationFlag{
			Name:    "sync-timeout",
			Usage:   "Timeout of one batch request",
			Value:   d.SyncTimeout,
			EnvVars: []string{"CSYNC_SYNC_TIMEOUT"},
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:    "probe-method",
			Usage:   "HTTP method of the liveness probe (HEAD or GET)",
			Value:   d.ProbeMethod,
			EnvVars: []string{"CSYNC_PROBE_METHOD"},
		}),
		altsrc.NewDurationFlag(&cli.DurationFlag{
			Name:    "probe-interval",
			Usage:   "Interval between liveness probes",
			Value:   d.ProbeInterval,
			EnvVars: []string{"CSYNC_PROBE_INTERVAL"},
		}),
		altsrc.NewDurationFlag(&cli.DurationFlag{
			Name:    "probe-timeout",
			Usage:   "Timeout of one liveness probe",
			Value:   d.ProbeTimeout,
			EnvVars: []string{"CSYNC_PROBE_TIMEOUT"},
		}),
		altsrc.NewDurationFlag(&cli.DurationFlag{
			Name:    "signal-interval",
			Usage:   "Interval between network interface checks",
			Value:   d.SignalInterval,
			EnvVars: []string{"CSYNC_SIGNAL_INTERVAL"},
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:    "listen",
			Usage:   "Address of the local HTTP surface in watch mode (empty disables it)",
			EnvVars: []string{"CSYNC_LISTEN"},
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:    "backup-endpoint",
			Usage:   "S3-compatible endpoint for backup offload",
			EnvVars: []string{"CSYNC_BACKUP_ENDPOINT"},
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:    "backup-bucket",
			Usage:   "Bucket for backup offload",
			EnvVars: []string{"CSYNC_BACKUP_BUCKET"},
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:    "backup-folder",
			Usage:   "Folder inside the backup bucket",
			EnvVars: []string{"CSYNC_BACKUP_FOLDER"},
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:    "backup-access-key",
			Usage:   "Access key for backup offload",
			EnvVars: []string{"CSYNC_BACKUP_ACCESS_KEY"},
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:    "backup-secret-key",
			Usage:   "Secret key for backup offload",
			EnvVars: []string{"CSYNC_BACKUP_SECRET_KEY"},
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:    "backup-region",
			Usage:   "Region of the backup bucket",
			EnvVars: []string{"CSYNC_BACKUP_REGION"},
		}),
		altsrc.NewBoolFlag(&cli.BoolFlag{
			Name:    "backup-ssl",
			Usage:   "Use TLS for backup offload",
			Value:   d.Backup.UseSSL,
			EnvVars: []string{"CSYNC_BACKUP_SSL"},
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:    "log-level",
			Usage:   "debug, info, warn or error",
			Value:   d.Log.Level,
			EnvVars: []string{"CSYNC_LOG_LEVEL"},
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:    "log-format",
			Usage:   "text or json",
			Value:   d.Log.Format,
			EnvVars: []string{"CSYNC_LOG_FORMAT"},
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:    "log-file",
			Usage:   "Write logs to this rotated file instead of stderr",
			EnvVars: []string{"CSYNC_LOG_FILE"},
		}),
	}
}

// Before loads the YAML file named by --config into the flags that were not
// set on the command line or in the environment
func Before(flags []cli.Flag) cli.BeforeFunc {
	return func(c *cli.Context) error {
		if c.String("config") == "" {
			return nil
		}
		return altsrc.InitInputSourceWithContext(flags, altsrc.NewYamlSourceFromFlagFunc("config"))(c)
	}
}

// FromCLI builds and validates the configuration from the global flags
func FromCLI(c *cli.Context) (*Config, error) {
	cfg := Default()
	cfg.DBPath = c.String("db")
	cfg.APIURL = c.String("api-url")
	cfg.HealthPath = c.String("health-path")
	cfg.Token = c.String("token")
	cfg.SyncTimeout = c.Duration("sync-timeout")
	cfg.ProbeMethod = c.String("probe-method")
	cfg.ProbeInterval = c.Duration("probe-interval")
	cfg.ProbeTimeout = c.Duration("probe-timeout")
	cfg.SignalInterval = c.Duration("signal-interval")
	cfg.ListenAddr = c.String("listen")
	cfg.Backup = backup.Config{
		Endpoint:  c.String("backup-endpoint"),
		AccessKey: c.String("backup-access-key"),
		SecretKey: c.String("backup-secret-key"),
		Bucket:    c.String("backup-bucket"),
		Folder:    c.String("backup-folder"),
		Region:    c.String("backup-region"),
		UseSSL:    c.Bool("backup-ssl"),
	}
	cfg.Log.Level = c.String("log-level")
	cfg.Log.Format = c.String("log-format")
	cfg.Log.File = c.String("log-file")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
