package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/natefinch/lumberjack"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ajadi/boxdns/auth"
	"github.com/ajadi/boxdns/backup"
	"github.com/ajadi/boxdns/cache"
	"github.com/ajadi/boxdns/config"
	"github.com/ajadi/boxdns/custom"
	"github.com/ajadi/boxdns/domains"
	"github.com/ajadi/boxdns/hostinfo"
	"github.com/ajadi/boxdns/metrics"
	"github.com/ajadi/boxdns/notify"
	"github.com/ajadi/boxdns/services"
	"github.com/ajadi/boxdns/signer"
	"github.com/ajadi/boxdns/synth"
	"github.com/ajadi/boxdns/updater"
	"github.com/ajadi/boxdns/utils"
	"github.com/ajadi/boxdns/zonefile"
)

type rootOptions struct {
	configPath string
}

// app holds the services shared by the commands.
type app struct {
	cfg     config.Config
	db      *sql.DB
	store   *custom.Store
	backup  *backup.BackupService
	auth    *auth.AuthService
	metrics *metrics.Metrics
	updater *updater.Updater
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "boxdns",
		Short: "Builds, signs and publishes the DNS zones of a mail box",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Box configuration file (env BOX_CONFIG, default "+config.DefaultConfigFile+")")

	cmd.AddCommand(newCmdUpdate(opts))
	cmd.AddCommand(newCmdRecords(opts))
	cmd.AddCommand(newCmdCustom(opts))
	cmd.AddCommand(newCmdServe(opts))
	cmd.AddCommand(newCmdToken(opts))
	cmd.AddCommand(newCmdHashPassword())
	return cmd
}

// setupLogging sends JSON logs to a rotating file, or to stderr when the
// log file is "-" or empty.
func setupLogging(cfg config.Config) {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	var out io.Writer = os.Stderr
	if cfg.LogFile != "" && cfg.LogFile != "-" {
		out = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    100,
			MaxBackups: cfg.MaxLogBackups,
			MaxAge:     28,
			Compress:   true,
		}
	}
	logrus.SetOutput(out)
	applyLogLevel(cfg.LogLevel)
}

func applyLogLevel(name string) {
	level, err := logrus.ParseLevel(name)
	if err != nil {
		logrus.Warn("Invalid log level, defaulting to info")
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}

// load reads the configuration and builds the services.
func (o *rootOptions) load() (*app, error) {
	cfg, err := config.LoadConfig(o.configPath)
	if err != nil {
		return nil, err
	}
	setupLogging(cfg)
	utils.InitializeSentry(cfg.SentryDSN)

	db, err := domains.OpenDatabase(cfg.DBType, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("database initialization error: %w", err)
	}

	a := &app{
		cfg:     cfg,
		db:      db,
		backup:  backup.NewBackupService(cfg.BackupDir, cfg.MaxBackups),
		auth:    auth.NewAuthService(cfg.JWTSecret, cfg.TokenTTL, cfg.AdminUser, cfg.AdminPasswordHash),
		metrics: metrics.New(prometheus.DefaultRegisterer),
	}
	a.store = custom.NewStore(cfg.CustomRecordsFile(), a.backup)

	var artifacts *cache.ArtifactCache
	if cfg.HostInfoCacheTTL > 0 {
		artifacts = cache.NewArtifactCache(cfg.HostInfoCacheTTL, 2*cfg.HostInfoCacheTTL)
	}

	u := &updater.Updater{
		PrimaryHostname: cfg.PrimaryHostname,
		ListenAddrs:     cfg.PrivateIPs(),
		Paths: updater.Paths{
			ZonesDir:    cfg.NSDZonesDir,
			NSDConf:     cfg.NSDConfPath,
			OpenDKIMDir: cfg.OpenDKIMDir,
			DKIMKeyFile: cfg.DKIMKeyFile(),
		},
		Domains:   &domains.MailDomainSource{DB: db, PrimaryHostname: cfg.PrimaryHostname},
		Overrides: a.store,
		Synth: &synth.Synthesizer{
			Box: synth.Box{
				PrimaryHostname: cfg.PrimaryHostname,
				PublicIP:        cfg.PublicIP,
				PublicIPv6:      cfg.PublicIPv6,
			},
			Sources: &hostinfo.HostInfo{
				CertFile:       cfg.TLSCertFile,
				DKIMRecordFile: cfg.DKIMRecordFile(),
				KeyscanHost:    cfg.SSHKeyscanHost,
				Cache:          artifacts,
				KeyscanTTL:     cfg.HostInfoCacheTTL,
			},
		},
		Publisher: zonefile.NewPublisher(cfg.ResignWindow),
		Signer:    signer.NewLDNS(cfg.DNSSECDir(), cfg.SignatureValidity),
		Services:  services.System{},
		Metrics:   a.metrics,
	}
	if dns4e := notify.NewDNS4E(cfg.DNS4EURL, cfg.DNS4EUser, cfg.DNS4EKey); dns4e.Enabled() {
		u.Notifier = dns4e
	}
	a.updater = u
	return a, nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		logrus.WithFields(logrus.Fields{"error": err}).Warn("Error closing database")
	}
}

func main() {
	root := newRootCmd()
	root.SetContext(context.Background())
	err := root.Execute()
	if err != nil {
		logrus.WithFields(logrus.Fields{"error": err}).Error("Command failed")
		utils.CaptureError(err)
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	sentry.Flush(2 * time.Second)
	if err != nil {
		os.Exit(1)
	}
}
