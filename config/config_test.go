package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

var boxKeys = []string{"PRIMARY_HOSTNAME", "PUBLIC_IP", "PUBLIC_IPV6", "STORAGE_ROOT", "RESIGN_WINDOW", "BOX_CONFIG"}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range boxKeys {
		os.Unsetenv(k)
	}
	t.Cleanup(func() {
		for _, k := range boxKeys {
			os.Unsetenv(k)
		}
	})
}

func TestLoadConfigFromBoxFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "mailinabox.conf")
	content := "STORAGE_ROOT=/srv/user-data\nPRIMARY_HOSTNAME=Box.Example.com\nPUBLIC_IP=192.0.2.1\nPUBLIC_IPV6=2001:db8::1\nRESIGN_WINDOW=96h\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.PrimaryHostname != "box.example.com" {
		t.Errorf("PrimaryHostname = %q", cfg.PrimaryHostname)
	}
	if cfg.ResignWindow != 96*time.Hour || cfg.SignatureValidity != 720*time.Hour {
		t.Errorf("windows = %v, %v", cfg.ResignWindow, cfg.SignatureValidity)
	}
	if cfg.CustomRecordsFile() != "/srv/user-data/dns/custom.yaml" {
		t.Errorf("CustomRecordsFile = %q", cfg.CustomRecordsFile())
	}
	if cfg.DatabaseURL != "/srv/user-data/mail/users.sqlite" {
		t.Errorf("DatabaseURL = %q", cfg.DatabaseURL)
	}
	if ips := cfg.PrivateIPs(); len(ips) != 0 {
		t.Errorf("PrivateIPs = %v", ips)
	}
}

func TestLoadConfigValidation(t *testing.T) {
	clearEnv(t)
	os.Setenv("PRIMARY_HOSTNAME", "box.example.com")
	os.Setenv("PUBLIC_IP", "2001:db8::1")

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.conf")); err == nil {
		t.Error("expected an IPv6 PUBLIC_IP to fail validation")
	}
}
