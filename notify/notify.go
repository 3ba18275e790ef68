// Package notify pushes zone records to the DNS4E API for test domains
// under justtesting.email, which cannot be delegated to the box.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ajadi/boxdns/models"
)

// TestingSuffix marks the zones that are mirrored to DNS4E.
const TestingSuffix = ".justtesting.email"

// Notifier receives the records of a zone that was just written.
type Notifier interface {
	Notify(ctx context.Context, domain string, records []models.Record) error
}

var (
	parensRe     = regexp.MustCompile(`^\s*\(\s*([\w\W]*)\)`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// DNS4E mirrors TXT records through the DNS4E REST API.
type DNS4E struct {
	BaseURL string
	User    string
	Key     string
	Client  *http.Client
}

// NewDNS4E creates a DNS4E notifier. It is disabled without credentials.
func NewDNS4E(baseURL, user, key string) *DNS4E {
	return &DNS4E{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		User:    user,
		Key:     key,
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Enabled reports whether credentials are configured.
func (d *DNS4E) Enabled() bool {
	return d != nil && d.User != "" && d.Key != ""
}

// Notify pushes the TXT records of domain when it is a test domain. Every
// record is attempted; the returned error joins the individual failures.
func (d *DNS4E) Notify(ctx context.Context, domain string, records []models.Record) error {
	if !d.Enabled() || !strings.HasSuffix(domain, TestingSuffix) {
		return nil
	}

	var errs []error
	for _, r := range records {
		if r.Type != models.TypeTXT {
			continue
		}
		switch r.QName {
		case "www", "ns1", "ns2":
			continue
		}
		fqdn := r.FQDN(domain)
		if err := d.push(ctx, fqdn, strings.ToLower(r.Type), FlattenTXT(r.Value)); err != nil {
			logrus.WithFields(logrus.Fields{"error": err, "name": fqdn}).Warn("DNS4E update failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *DNS4E) push(ctx context.Context, fqdn, rtype, value string) error {
	endpoint := fmt.Sprintf("%s/v7/%s/%s", d.BaseURL, url.PathEscape(fqdn), rtype)
	body := url.Values{"record": {value}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(body))
	if err != nil {
		return err
	}
	req.SetBasicAuth(d.User, d.Key)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var reply struct {
		Message string `json:"message"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	_ = json.Unmarshal(data, &reply)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("DNS4E %s: %s %s", fqdn, resp.Status, reply.Message)
	}
	logrus.WithFields(logrus.Fields{"name": fqdn, "type": rtype, "message": reply.Message}).
		Info("DNS4E record updated")
	return nil
}

// FlattenTXT removes the parentheses nsd needs around multi-part TXT values
// and collapses whitespace.
func FlattenTXT(value string) string {
	value = parensRe.ReplaceAllString(value, "$1")
	return whitespaceRe.ReplaceAllString(value, " ")
}
