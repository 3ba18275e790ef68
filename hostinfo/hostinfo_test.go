package hostinfo

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/ajadi/boxdns/cache"
)

func writeCert(t *testing.T) (string, []byte) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "box.example.com"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "ssl_certificate.pem")
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: []byte("ignored")})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	if err := os.WriteFile(path, append(keyPEM, certPEM...), 0644); err != nil {
		t.Fatal(err)
	}
	return path, der
}

func TestTLSARecord(t *testing.T) {
	path, der := writeCert(t)
	h := &HostInfo{CertFile: path, Cache: cache.NewArtifactCache(time.Minute, time.Minute)}

	got, err := h.TLSARecord(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	sum := sha256.Sum256(der)
	want := "3 0 1 " + hex.EncodeToString(sum[:])
	if got != want {
		t.Errorf("TLSARecord = %q, want %q", got, want)
	}

	h.CertFile = filepath.Join(t.TempDir(), "missing.pem")
	if _, err := h.TLSARecord(context.Background()); err == nil {
		t.Error("expected error for missing certificate")
	}
}

func TestParseSSHFP(t *testing.T) {
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	ecPub, err := ssh.NewPublicKey(&ecKey.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	edPub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	edSSH, err := ssh.NewPublicKey(edPub)
	if err != nil {
		t.Fatal(err)
	}

	ecBlob := ecPub.Marshal()
	out := strings.Join([]string{
		"# localhost:22 SSH-2.0-OpenSSH_8.9",
		"localhost " + ecPub.Type() + " " + base64.StdEncoding.EncodeToString(ecBlob),
		"localhost " + edSSH.Type() + " " + base64.StdEncoding.EncodeToString(edSSH.Marshal()),
		"localhost ssh-rsa not-base64!!",
		"garbage",
		"",
	}, "\n")

	got := ParseSSHFP([]byte(out))
	sum := sha256.Sum256(ecBlob)
	want := "3 2 ( " + strings.ToUpper(hex.EncodeToString(sum[:])) + " )"
	if len(got) != 1 || got[0] != want {
		t.Errorf("ParseSSHFP = %v, want [%s]", got, want)
	}
}

func TestSSHFPRecordsCached(t *testing.T) {
	calls := 0
	h := &HostInfo{
		KeyscanHost: "localhost",
		Cache:       cache.NewArtifactCache(time.Minute, time.Minute),
		KeyscanTTL:  time.Minute,
		Keyscan: func(ctx context.Context, host string) ([]byte, error) {
			calls++
			return nil, nil
		},
	}
	for i := 0; i < 2; i++ {
		if _, err := h.SSHFPRecords(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if calls != 1 {
		t.Errorf("keyscan ran %d times, want 1", calls)
	}

	h.Cache = nil
	h.Keyscan = func(ctx context.Context, host string) ([]byte, error) {
		return nil, errors.New("connection refused")
	}
	if _, err := h.SSHFPRecords(context.Background()); err == nil {
		t.Error("expected keyscan failure to propagate")
	}
}

func TestParseDKIMRecord(t *testing.T) {
	text := "mail._domainkey\tIN\tTXT\t( \"v=DKIM1; h=sha256; k=rsa; \"\n\t  \"p=MIIBIjANBgkq\" )  ; ----- DKIM key mail for box.example.com\n"
	qname, value, err := ParseDKIMRecord([]byte(text))
	if err != nil {
		t.Fatal(err)
	}
	if qname != "mail._domainkey" || value != "v=DKIM1; h=sha256; k=rsa; p=MIIBIjANBgkq" {
		t.Errorf("ParseDKIMRecord = %q, %q", qname, value)
	}

	if _, _, err := ParseDKIMRecord([]byte("mail._domainkey IN TXT \"single\"")); !errors.Is(err, ErrNoDKIMRecord) {
		t.Errorf("unmatched record error = %v, want ErrNoDKIMRecord", err)
	}
}

func TestDKIMRecordMissingFile(t *testing.T) {
	h := &HostInfo{DKIMRecordFile: filepath.Join(t.TempDir(), "mail.txt")}
	if _, _, err := h.DKIMRecord(context.Background()); !errors.Is(err, ErrNoDKIMRecord) {
		t.Errorf("DKIMRecord error = %v, want ErrNoDKIMRecord", err)
	}
}
