package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// DefaultConfigFile is the box environment file written by the installer.
const DefaultConfigFile = "/etc/mailinabox.conf"

// Config holds the global configuration for boxdns.
type Config struct {
	PrimaryHostname string `validate:"required,fqdn"`
	PublicIP        string `validate:"required,ipv4"`
	PublicIPv6      string `validate:"omitempty,ipv6"`
	PrivateIP       string `validate:"omitempty,ipv4"`
	PrivateIPv6     string `validate:"omitempty,ipv6"`
	StorageRoot     string `validate:"required"`

	NSDZonesDir string `validate:"required"`
	NSDConfPath string `validate:"required"`
	OpenDKIMDir string `validate:"required"`
	TLSCertFile string `validate:"required"`

	DBType      string `validate:"oneof=sqlite postgres"`
	DatabaseURL string `validate:"required"`

	LogLevel      string `validate:"oneof=debug info warn error"`
	LogFile       string
	MaxLogBackups int    `validate:"gte=0"`
	BackupDir     string `validate:"required"`
	MaxBackups    int    `validate:"gte=1,lte=100"`

	HTTPAddr          string        `validate:"required"`
	JWTSecret         string        `validate:"omitempty,min=10"`
	TokenTTL          time.Duration `validate:"gte=0"`
	AdminUser         string        `validate:"required"`
	AdminPasswordHash string
	RateLimit         int           `validate:"gte=1"`

	UpdateInterval    time.Duration `validate:"gte=0"`
	ResignWindow      time.Duration `validate:"gt=0"`
	SignatureValidity time.Duration `validate:"gt=0"`
	HostInfoCacheTTL  time.Duration `validate:"gte=0"`
	SSHKeyscanHost    string        `validate:"required"`

	DNS4EURL  string `validate:"omitempty,url"`
	DNS4EUser string
	DNS4EKey  string

	SentryDSN string
}

// LoadConfig loads configuration from the box environment file (path, or
// $BOX_CONFIG, or DefaultConfigFile) and the process environment.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		path = os.Getenv("BOX_CONFIG")
	}
	if path == "" {
		path = DefaultConfigFile
	}
	if err := godotenv.Load(path); err != nil {
		logrus.WithFields(logrus.Fields{"file": path}).
			Debug("No box config file found; relying on environment variables")
	}

	getEnv := func(key, fallback string) string {
		if value, exists := os.LookupEnv(key); exists && value != "" {
			return value
		}
		return fallback
	}

	getEnvAsInt := func(key string, fallback int) int {
		if valueStr, exists := os.LookupEnv(key); exists {
			if value, err := strconv.Atoi(valueStr); err == nil {
				return value
			}
		}
		return fallback
	}

	getEnvAsDuration := func(key string, fallback time.Duration) time.Duration {
		if valueStr, exists := os.LookupEnv(key); exists {
			if value, err := time.ParseDuration(valueStr); err == nil {
				return value
			}
		}
		return fallback
	}

	storage := getEnv("STORAGE_ROOT", "/home/user-data")

	cfg := Config{
		PrimaryHostname: strings.ToLower(getEnv("PRIMARY_HOSTNAME", "")),
		PublicIP:        getEnv("PUBLIC_IP", ""),
		PublicIPv6:      getEnv("PUBLIC_IPV6", ""),
		PrivateIP:       getEnv("PRIVATE_IP", ""),
		PrivateIPv6:     getEnv("PRIVATE_IPV6", ""),
		StorageRoot:     storage,

		NSDZonesDir: getEnv("NSD_ZONES_DIR", "/etc/nsd/zones"),
		NSDConfPath: getEnv("NSD_CONF", "/etc/nsd/nsd.conf"),
		OpenDKIMDir: getEnv("OPENDKIM_DIR", "/etc/opendkim"),
		TLSCertFile: getEnv("TLS_CERT_FILE", filepath.Join(storage, "ssl", "ssl_certificate.pem")),

		DBType:      getEnv("DB_TYPE", "sqlite"),
		DatabaseURL: getEnv("DATABASE_URL", filepath.Join(storage, "mail", "users.sqlite")),

		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFile:       getEnv("LOG_FILE", "/var/log/boxdns.log"),
		MaxLogBackups: getEnvAsInt("MAX_LOG_BACKUPS", 5),
		BackupDir:     getEnv("BACKUP_DIR", filepath.Join(storage, "backup", "dns")),
		MaxBackups:    getEnvAsInt("MAX_BACKUP_COPIES", 10),

		HTTPAddr:          getEnv("HTTP_ADDR", "127.0.0.1:10222"),
		JWTSecret:         getEnv("JWT_SECRET", ""),
		TokenTTL:          getEnvAsDuration("TOKEN_TTL", time.Hour),
		AdminUser:         getEnv("ADMIN_USER", "admin"),
		AdminPasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),
		RateLimit:         getEnvAsInt("RATE_LIMIT", 100),

		UpdateInterval:    getEnvAsDuration("UPDATE_INTERVAL", 24*time.Hour),
		ResignWindow:      getEnvAsDuration("RESIGN_WINDOW", 72*time.Hour),
		SignatureValidity: getEnvAsDuration("SIGNATURE_VALIDITY", 30*24*time.Hour),
		HostInfoCacheTTL:  getEnvAsDuration("HOSTINFO_CACHE_TTL", 10*time.Minute),
		SSHKeyscanHost:    getEnv("SSH_KEYSCAN_HOST", "localhost"),

		DNS4EURL:  getEnv("DNS4E_API_URL", "https://api.dns4e.com"),
		DNS4EUser: getEnv("DNS4E_API_USER", ""),
		DNS4EKey:  getEnv("DNS4E_API_KEY", ""),

		SentryDSN: getEnv("SENTRY_DSN", ""),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the struct tags of the configuration.
func (c Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("configuration validation error: %w", err)
	}
	return nil
}

// PrivateIPs lists the addresses nsd binds to, IPv4 first.
func (c Config) PrivateIPs() []string {
	var ips []string
	for _, ip := range []string{c.PrivateIP, c.PrivateIPv6} {
		if ip != "" {
			ips = append(ips, ip)
		}
	}
	return ips
}

// CustomRecordsFile is the path of the user override document.
func (c Config) CustomRecordsFile() string {
	return filepath.Join(c.StorageRoot, "dns", "custom.yaml")
}

// DNSSECDir holds keys.conf and the generic KSK/ZSK key files.
func (c Config) DNSSECDir() string {
	return filepath.Join(c.StorageRoot, "dns", "dnssec")
}

// DKIMRecordFile is the public key record generated by opendkim-genkey.
func (c Config) DKIMRecordFile() string {
	return filepath.Join(c.StorageRoot, "mail", "dkim", "mail.txt")
}

// DKIMKeyFile is the private key referenced by the OpenDKIM KeyTable.
func (c Config) DKIMKeyFile() string {
	return filepath.Join(c.StorageRoot, "mail", "dkim", "mail.private")
}
