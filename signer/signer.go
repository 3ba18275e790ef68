// Package signer signs zone files with the box's generic DNSSEC keys.
package signer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"
)

// ErrNotConfigured means keys.conf or the key files it names are missing.
var ErrNotConfigured = errors.New("DNSSEC is not properly set up")

// DomainPlaceholder stands for the zone name in the generic key files.
const DomainPlaceholder = "_domain_"

// Signer produces <zonefile>.signed and <zonefile>.ds for a zone.
type Signer interface {
	Sign(ctx context.Context, domain, zonefile string) error
}

// Runner executes an external command.
type Runner func(ctx context.Context, name string, args ...string) error

// ExecRunner runs the command and includes its output in the error.
func ExecRunner(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// LDNS signs zones with ldns-signzone using NSEC3.
type LDNS struct {
	KeysDir  string
	TempDir  string
	Validity time.Duration
	Command  string
	Now      func() time.Time
	Run      Runner
}

// NewLDNS creates an LDNS signer for the keys in keysDir.
func NewLDNS(keysDir string, validity time.Duration) *LDNS {
	return &LDNS{
		KeysDir:  keysDir,
		Validity: validity,
		Command:  "ldns-signzone",
		Now:      time.Now,
		Run:      ExecRunner,
	}
}

// Sign signs zonefile for domain. The generic KSK and ZSK are copied to a
// private temporary directory with the placeholder replaced by domain, so the
// same keys serve every zone.
func (l *LDNS) Sign(ctx context.Context, domain, zonefile string) error {
	keys, err := godotenv.Read(filepath.Join(l.KeysDir, "keys.conf"))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotConfigured, err)
	}

	tmp, err := os.MkdirTemp(l.TempDir, "boxdns-dnssec-")
	if err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}
	defer os.RemoveAll(tmp)

	patched := map[string]string{}
	for _, role := range []string{"KSK", "ZSK"} {
		name := strings.TrimSpace(keys[role])
		if name == "" {
			return fmt.Errorf("%w: no %s in keys.conf", ErrNotConfigured, role)
		}
		dst := filepath.Join(tmp, strings.ReplaceAll(name, DomainPlaceholder, domain))
		for _, ext := range []string{".private", ".key"} {
			if err := patchKey(filepath.Join(l.KeysDir, name)+ext, dst+ext, domain); err != nil {
				return err
			}
		}
		patched[role] = dst
	}

	now := time.Now
	if l.Now != nil {
		now = l.Now
	}
	expiry := now().Add(l.Validity).Format("20060102")
	run := l.Run
	if run == nil {
		run = ExecRunner
	}
	command := l.Command
	if command == "" {
		command = "ldns-signzone"
	}
	if err := run(ctx, command, "-e", expiry, "-n", zonefile, patched["KSK"], patched["ZSK"]); err != nil {
		return fmt.Errorf("signing %s: %w", domain, err)
	}

	if err := writeDS(patched["KSK"]+".key", zonefile+".ds"); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{"zone": domain, "file": zonefile, "expires": expiry}).
		Info("Zone signed")
	return nil
}

func patchKey(src, dst, domain string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s is missing", ErrNotConfigured, src)
		}
		return err
	}
	content := strings.ReplaceAll(string(data), DomainPlaceholder, domain)
	if err := os.WriteFile(dst, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write key %s: %w", dst, err)
	}
	return nil
}

// writeDS writes the DS records of the KSK, SHA-256 first, then SHA-1.
func writeDS(keyFile, dsFile string) error {
	f, err := os.Open(keyFile)
	if err != nil {
		return err
	}
	defer f.Close()

	rr, err := dns.ReadRR(f, keyFile)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", keyFile, err)
	}
	key, ok := rr.(*dns.DNSKEY)
	if !ok {
		return fmt.Errorf("%s does not hold a DNSKEY record", keyFile)
	}

	var b strings.Builder
	for _, digest := range []uint8{dns.SHA256, dns.SHA1} {
		ds := key.ToDS(digest)
		if ds == nil {
			return fmt.Errorf("failed to compute DS for %s", keyFile)
		}
		b.WriteString(ds.String())
		b.WriteString("\n")
	}
	if err := os.WriteFile(dsFile, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", dsFile, err)
	}
	return nil
}
