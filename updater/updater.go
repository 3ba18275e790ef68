// Package updater runs the DNS update: it synthesizes and publishes every
// zone, signs the ones that changed, regenerates the nsd and OpenDKIM
// configuration and restarts whatever consumes changed files.
package updater

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ajadi/boxdns/confgen"
	"github.com/ajadi/boxdns/custom"
	"github.com/ajadi/boxdns/domains"
	"github.com/ajadi/boxdns/metrics"
	"github.com/ajadi/boxdns/models"
	"github.com/ajadi/boxdns/notify"
	"github.com/ajadi/boxdns/services"
	"github.com/ajadi/boxdns/signer"
	"github.com/ajadi/boxdns/synth"
	"github.com/ajadi/boxdns/zonefile"
)

// Placeholder names reported when only derived configuration changed.
const (
	DNSConfiguration      = "DNS configuration"
	OpenDKIMConfiguration = "OpenDKIM configuration"
)

// Paths are the files the update writes.
type Paths struct {
	ZonesDir    string
	NSDConf     string
	OpenDKIMDir string
	DKIMKeyFile string
}

// OverrideStore loads and updates the user's record overrides.
type OverrideStore interface {
	Load() custom.Records
	Update(fn func(custom.Records) (bool, error)) (bool, error)
}

// Updater wires the collaborators of a DNS update run.
type Updater struct {
	PrimaryHostname string
	ListenAddrs     []string
	Paths           Paths

	Domains   domains.Source
	Sort      domains.Sorter
	Overrides OverrideStore
	Synth     *synth.Synthesizer
	Publisher *zonefile.Publisher
	Signer    signer.Signer
	Notifier  notify.Notifier
	Services  services.Restarter
	Metrics   *metrics.Metrics

	// OnUpdate is called with the message of every run that changed something.
	OnUpdate func(message string)

	mu sync.Mutex
}

// Result describes what a run changed.
type Result struct {
	Updated []string
	Zones   []models.ZoneFile
}

// Changed reports whether anything was written.
func (r *Result) Changed() bool {
	return len(r.Updated) > 0
}

// Message is the human readable summary of the run, empty when nothing
// changed.
func (r *Result) Message() string {
	if !r.Changed() {
		return ""
	}
	return "updated DNS: " + strings.Join(r.Updated, ",") + "\n"
}

// ManagedDomains returns every domain the box serves, including the primary
// hostname.
func (u *Updater) ManagedDomains(ctx context.Context) ([]string, error) {
	names := []string{u.PrimaryHostname}
	if u.Domains != nil {
		found, err := u.Domains.ListManagedDomains(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing managed domains: %w", err)
		}
		names = append(names, found...)
	}
	seen := map[string]bool{}
	var out []string
	for _, name := range names {
		name = domains.Normalize(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (u *Updater) sorter() domains.Sorter {
	if u.Sort != nil {
		return u.Sort
	}
	return domains.PrimarySorter(u.PrimaryHostname)
}

// Zones returns the zone apexes in configuration order.
func (u *Updater) Zones(ctx context.Context) ([]string, []models.ZoneFile, error) {
	all, err := u.ManagedDomains(ctx)
	if err != nil {
		return nil, nil, err
	}
	return all, domains.Zones(all, u.sorter()), nil
}

// Run performs a full update. With force every zone is rewritten and
// signed again.
func (u *Updater) Run(ctx context.Context, force bool) (*Result, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	start := time.Now()
	res, err := u.run(ctx, force)
	outcome := "unchanged"
	switch {
	case err != nil:
		outcome = "failed"
	case res.Changed():
		outcome = "changed"
	}
	u.Metrics.RunFinished(outcome, time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	if res.Changed() && u.OnUpdate != nil {
		u.OnUpdate(res.Message())
	}
	return res, nil
}

func (u *Updater) run(ctx context.Context, force bool) (*Result, error) {
	all, zones, err := u.Zones(ctx)
	if err != nil {
		return nil, err
	}
	overrides := u.Overrides.Load()
	res := &Result{}

	for _, z := range zones {
		records, err := u.Synth.BuildZone(ctx, z.Domain, all, overrides)
		if err != nil {
			return nil, fmt.Errorf("building zone %s: %w", z.Domain, err)
		}

		path := filepath.Join(u.Paths.ZonesDir, z.File)
		changed, err := u.Publisher.Publish(z.Domain, u.PrimaryHostname, path, records, force)
		if err != nil {
			return nil, fmt.Errorf("writing zone %s: %w", z.Domain, err)
		}
		if !changed {
			continue
		}
		u.Metrics.ZoneWritten()

		if u.Notifier != nil {
			if err := u.Notifier.Notify(ctx, z.Domain, records); err != nil {
				u.Metrics.RemoteSyncFailed()
				logrus.WithFields(logrus.Fields{"zone": z.Domain, "error": err}).
					Warn("Remote record sync failed, continuing")
			}
		}

		res.Updated = append(res.Updated, z.Domain)

		if err := u.Signer.Sign(ctx, z.Domain, path); err != nil {
			return nil, fmt.Errorf("signing zone %s: %w", z.Domain, err)
		}
		u.Metrics.ZoneSigned()
	}

	// Every zone has a signed version now, whether or not it was signed in
	// this run, and nsd serves that one.
	for i := range zones {
		zones[i].File += zonefile.SignedSuffix
	}
	res.Zones = zones

	wrote, err := confgen.WriteNSDConf(u.Paths.NSDConf, u.Paths.ZonesDir, u.ListenAddrs, zones)
	if err != nil {
		return nil, err
	}
	if wrote {
		u.Metrics.ConfigWritten("nsd.conf")
		if len(res.Updated) == 0 {
			res.Updated = append(res.Updated, DNSConfiguration)
		}
	}

	if len(res.Updated) > 0 {
		if err := u.Services.Restart(ctx, "nsd"); err != nil {
			return nil, err
		}
	}

	wrote, err = confgen.WriteOpenDKIMTables(u.Paths.OpenDKIMDir, u.Paths.DKIMKeyFile, zones, all)
	if err != nil {
		return nil, err
	}
	if wrote {
		u.Metrics.ConfigWritten("opendkim")
		if err := u.Services.Restart(ctx, "opendkim"); err != nil {
			return nil, err
		}
		if len(res.Updated) == 0 {
			res.Updated = append(res.Updated, OpenDKIMConfiguration)
		}
	}

	logrus.WithFields(logrus.Fields{"updated": res.Updated, "zones": len(zones), "forced": force}).
		Info("DNS update finished")
	return res, nil
}

// Recommended returns, per zone, the records to publish when the zone is
// hosted elsewhere: internal records removed, required ones first, then
// recommended ones, then the rest.
func (u *Updater) Recommended(ctx context.Context) ([]models.ZoneRecords, error) {
	all, zones, err := u.Zones(ctx)
	if err != nil {
		return nil, err
	}
	overrides := u.Overrides.Load()

	var out []models.ZoneRecords
	for _, z := range zones {
		records, err := u.Synth.BuildZone(ctx, z.Domain, all, overrides)
		if err != nil {
			return nil, fmt.Errorf("building zone %s: %w", z.Domain, err)
		}

		var exposed []models.Record
		for _, r := range records {
			if r.Exposed() {
				exposed = append(exposed, r)
			}
		}
		sort.SliceStable(exposed, func(i, j int) bool {
			return displayRank(exposed[i].Annotation) < displayRank(exposed[j].Annotation)
		})

		zr := models.ZoneRecords{Domain: z.Domain, Records: []models.DisplayRecord{}}
		for _, r := range exposed {
			zr.Records = append(zr.Records, models.DisplayRecord{
				QName:       r.FQDN(z.Domain),
				Type:        r.Type,
				Value:       r.Value,
				Annotation:  r.Annotation.String(),
				Explanation: r.Explanation,
			})
		}
		out = append(out, zr)
	}
	return out, nil
}

func displayRank(a models.Annotation) int {
	switch a {
	case models.Required:
		return 0
	case models.Recommended:
		return 1
	default:
		return 2
	}
}

// CustomRecords returns the stored overrides.
func (u *Updater) CustomRecords() custom.Records {
	return u.Overrides.Load()
}

// SetCustomRecord stores an override after checking that qname belongs to a
// managed zone. It reports whether the stored document changed.
func (u *Updater) SetCustomRecord(ctx context.Context, qname, rtype, value string) (bool, error) {
	return u.updateCustom(ctx, func(r custom.Records, apexes []string) (bool, error) {
		return r.Set(apexes, qname, rtype, value)
	})
}

// DeleteCustomRecord removes an override.
func (u *Updater) DeleteCustomRecord(ctx context.Context, qname, rtype string) (bool, error) {
	return u.updateCustom(ctx, func(r custom.Records, apexes []string) (bool, error) {
		return r.Delete(apexes, qname, rtype)
	})
}

func (u *Updater) updateCustom(ctx context.Context, fn func(custom.Records, []string) (bool, error)) (bool, error) {
	_, zones, err := u.Zones(ctx)
	if err != nil {
		return false, err
	}
	apexes := make([]string, 0, len(zones))
	for _, z := range zones {
		apexes = append(apexes, z.Domain)
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	return u.Overrides.Update(func(r custom.Records) (bool, error) {
		return fn(r, apexes)
	})
}
