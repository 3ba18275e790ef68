package signer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/miekg/dns"
)

func setupKeys(t *testing.T) (string, *dns.DNSKEY) {
	t.Helper()
	dir := t.TempDir()
	key := &dns.DNSKEY{
		Hdr:       dns.RR_Header{Name: DomainPlaceholder + ".", Rrtype: dns.TypeDNSKEY, Class: dns.ClassINET, Ttl: 3600},
		Flags:     257,
		Protocol:  3,
		Algorithm: dns.ECDSAP256SHA256,
	}
	if _, err := key.Generate(256); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		"keys.conf":                    "KSK=K_domain_.+013+00001\nZSK=K_domain_.+013+00002\n",
		"K_domain_.+013+00001.key":     key.String() + "\n",
		"K_domain_.+013+00001.private": "Private-key-format: v1.3\n",
		"K_domain_.+013+00002.key":     key.String() + "\n",
		"K_domain_.+013+00002.private": "Private-key-format: v1.3\n",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0600); err != nil {
			t.Fatal(err)
		}
	}
	return dir, key
}

func TestSign(t *testing.T) {
	keysDir, key := setupKeys(t)
	zonefile := filepath.Join(t.TempDir(), "example.com.txt")

	var args []string
	l := &LDNS{
		KeysDir:  keysDir,
		TempDir:  t.TempDir(),
		Validity: 30 * 24 * time.Hour,
		Command:  "ldns-signzone",
		Now:      func() time.Time { return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC) },
		Run: func(ctx context.Context, name string, a ...string) error {
			args = append([]string{name}, a...)
			for _, k := range a[4:] {
				info, err := os.Stat(k + ".private")
				if err != nil {
					return err
				}
				if info.Mode().Perm() != 0600 {
					t.Errorf("%s mode = %v, want 0600", k, info.Mode().Perm())
				}
				data, _ := os.ReadFile(k + ".key")
				if strings.Contains(string(data), DomainPlaceholder) || !strings.Contains(string(data), "example.com.") {
					t.Errorf("key %s not patched: %s", k, data)
				}
			}
			return nil
		},
	}

	if err := l.Sign(context.Background(), "example.com", zonefile); err != nil {
		t.Fatal(err)
	}

	if len(args) != 7 || args[1] != "-e" || args[2] != "20240531" || args[3] != "-n" || args[4] != zonefile {
		t.Fatalf("command = %v", args)
	}
	if filepath.Base(args[5]) != "Kexample.com.+013+00001" || filepath.Base(args[6]) != "Kexample.com.+013+00002" {
		t.Errorf("key arguments = %v", args[5:])
	}
	if _, err := os.Stat(args[5] + ".key"); !os.IsNotExist(err) {
		t.Error("patched keys were not removed")
	}

	key.Hdr.Name = "example.com."
	data, err := os.ReadFile(zonefile + ".ds")
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("ds file = %q", data)
	}
	if lines[0] != key.ToDS(dns.SHA256).String() || lines[1] != key.ToDS(dns.SHA1).String() {
		t.Errorf("ds records = %v", lines)
	}
}

func TestSignNotConfigured(t *testing.T) {
	tests := []struct {
		name  string
		setup func(dir string)
	}{
		{"no keys.conf", func(dir string) { os.Remove(filepath.Join(dir, "keys.conf")) }},
		{"empty ZSK", func(dir string) {
			os.WriteFile(filepath.Join(dir, "keys.conf"), []byte("KSK=K_domain_.+013+00001\nZSK=\n"), 0600)
		}},
		{"missing private key", func(dir string) { os.Remove(filepath.Join(dir, "K_domain_.+013+00002.private")) }},
	}
	for _, tt := range tests {
		dir, _ := setupKeys(t)
		tt.setup(dir)
		l := &LDNS{
			KeysDir: dir,
			TempDir: t.TempDir(),
			Run: func(ctx context.Context, name string, a ...string) error {
				t.Errorf("%s: signer ran", tt.name)
				return nil
			},
		}
		err := l.Sign(context.Background(), "example.com", filepath.Join(t.TempDir(), "z.txt"))
		if !errors.Is(err, ErrNotConfigured) {
			t.Errorf("%s: error = %v, want ErrNotConfigured", tt.name, err)
		}
	}
}
