// Package hostinfo reads the host artifacts that zone synthesis publishes:
// the TLS certificate (TLSA), the SSH host keys (SSHFP) and the DKIM public
// key record.
package hostinfo

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	"github.com/ajadi/boxdns/cache"
)

// ErrNoDKIMRecord means the DKIM public key record is missing or malformed.
var ErrNoDKIMRecord = errors.New("DKIM record not available")

// SSHFP algorithm numbers (RFC 4255, RFC 6594).
var sshfpAlgorithm = map[string]int{
	ssh.KeyAlgoRSA:      1,
	ssh.KeyAlgoDSA:      2,
	ssh.KeyAlgoECDSA256: 3,
}

// sshfpSHA256 is the SSHFP fingerprint type for SHA-256.
const sshfpSHA256 = 2

var dkimRecordRe = regexp.MustCompile(`\A(\S+)\s+IN\s+TXT\s+\( "([^"]+)"\s+"([^"]+)"\s*\)`)

// Keyscanner returns ssh-keyscan style output for host.
type Keyscanner func(ctx context.Context, host string) ([]byte, error)

// HostInfo is the production implementation of the synthesizer's sources.
type HostInfo struct {
	CertFile       string
	DKIMRecordFile string
	KeyscanHost    string
	Keyscan        Keyscanner
	Cache          *cache.ArtifactCache
	KeyscanTTL     time.Duration
}

// TLSARecord returns the DANE-EE record value for the box certificate:
// usage 3, selector 0 (full certificate), matching type 1 (SHA-256).
func (h *HostInfo) TLSARecord(ctx context.Context) (string, error) {
	key, err := cache.FileKey(h.CertFile)
	if err != nil {
		return "", fmt.Errorf("reading TLS certificate: %w", err)
	}
	v, err := h.Cache.GetOrLoad("tlsa:"+key, 0, func() (interface{}, error) {
		der, err := CertificateDER(h.CertFile)
		if err != nil {
			return nil, err
		}
		return TLSAValue(der), nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// CertificateDER returns the DER encoding of the first certificate in a PEM
// file.
func CertificateDER(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading TLS certificate: %w", err)
	}
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return nil, fmt.Errorf("no certificate found in %s", path)
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse certificate %s: %w", path, err)
		}
		return cert.Raw, nil
	}
}

// TLSAValue formats the TLSA record data for a DER certificate.
func TLSAValue(der []byte) string {
	sum := sha256.Sum256(der)
	return "3 0 1 " + hex.EncodeToString(sum[:])
}

// SSHFPRecords returns one SSHFP value per usable host key.
func (h *HostInfo) SSHFPRecords(ctx context.Context) ([]string, error) {
	scan := h.Keyscan
	if scan == nil {
		scan = SSHKeyscan
	}
	v, err := h.Cache.GetOrLoad("sshfp:"+h.KeyscanHost, h.KeyscanTTL, func() (interface{}, error) {
		out, err := scan(ctx, h.KeyscanHost)
		if err != nil {
			return nil, err
		}
		return ParseSSHFP(out), nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

// SSHKeyscan runs ssh-keyscan against host.
func SSHKeyscan(ctx context.Context, host string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, "ssh-keyscan", host).Output()
	if err != nil {
		return nil, fmt.Errorf("ssh-keyscan %s: %w", host, err)
	}
	return out, nil
}

// ParseSSHFP turns known_hosts style lines (host, keytype, base64 key) into
// SSHFP values. Lines that cannot be parsed are skipped.
func ParseSSHFP(keyscan []byte) []string {
	var records []string
	scanner := bufio.NewScanner(bytes.NewReader(keyscan))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		value, err := sshfpValue(line)
		if err != nil {
			logrus.WithFields(logrus.Fields{"error": err}).Debug("Skipping SSH host key")
			continue
		}
		records = append(records, value)
	}
	return records
}

func sshfpValue(line string) (string, error) {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return "", fmt.Errorf("expected 3 fields, got %d", len(fields))
	}
	keytype, encoded := fields[1], fields[2]

	alg, ok := sshfpAlgorithm[keytype]
	if !ok {
		return "", fmt.Errorf("no SSHFP algorithm for %s", keytype)
	}
	blob, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}
	key, err := ssh.ParsePublicKey(blob)
	if err != nil {
		return "", err
	}
	if key.Type() != keytype {
		return "", fmt.Errorf("key type %s does not match %s", key.Type(), keytype)
	}

	sum := sha256.Sum256(blob)
	return fmt.Sprintf("%d %d ( %s )", alg, sshfpSHA256, strings.ToUpper(hex.EncodeToString(sum[:]))), nil
}

// DKIMRecord returns the relative name and the concatenated text of the DKIM
// public key record written by opendkim-genkey.
func (h *HostInfo) DKIMRecord(ctx context.Context) (string, string, error) {
	key, err := cache.FileKey(h.DKIMRecordFile)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrNoDKIMRecord, err)
	}
	v, err := h.Cache.GetOrLoad("dkim:"+key, 0, func() (interface{}, error) {
		data, err := os.ReadFile(h.DKIMRecordFile)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoDKIMRecord, err)
		}
		qname, value, err := ParseDKIMRecord(data)
		if err != nil {
			return nil, err
		}
		return [2]string{qname, value}, nil
	})
	if err != nil {
		return "", "", err
	}
	rec := v.([2]string)
	return rec[0], rec[1], nil
}

// ParseDKIMRecord extracts the name and value of a `name IN TXT ( "a" "b" )`
// record.
func ParseDKIMRecord(data []byte) (string, string, error) {
	m := dkimRecordRe.FindSubmatch(data)
	if m == nil {
		return "", "", fmt.Errorf("%w: unrecognised record format", ErrNoDKIMRecord)
	}
	return string(m[1]), string(m[2]) + string(m[3]), nil
}
