// Package domains decides which domains the box serves DNS for and which of
// them become zone apexes.
package domains

import (
	"context"
	"net/url"
	"sort"
	"strings"

	"github.com/miekg/dns"

	"github.com/ajadi/boxdns/models"
)

// Source lists every domain that needs mail or DNS service.
type Source interface {
	ListManagedDomains(ctx context.Context) ([]string, error)
}

// Sorter imposes a total order on domain names for stable config output.
type Sorter func(names []string) []string

// IsSubdomainOf reports whether name lies strictly below parent.
func IsSubdomainOf(name, parent string) bool {
	return strings.HasSuffix(name, "."+parent)
}

// IsUnder reports whether name equals parent or lies below it.
func IsUnder(name, parent string) bool {
	return name == parent || IsSubdomainOf(name, parent)
}

// Normalize lowercases a name and strips a trailing root dot.
func Normalize(name string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(name)), ".")
}

// Valid reports whether name is a syntactically usable domain name: labels
// of letters, digits, hyphens and underscores, with an optional leading "*"
// wildcard label. Anything else could not be written to a zone file as is.
func Valid(name string) bool {
	if name == "" || strings.HasPrefix(name, ".") {
		return false
	}
	if _, ok := dns.IsDomainName(name); !ok {
		return false
	}
	for i, label := range dns.SplitDomainName(name) {
		if label == "*" && i == 0 {
			continue
		}
		if !validLabel(label) {
			return false
		}
	}
	return true
}

func validLabel(label string) bool {
	if label == "" {
		return false
	}
	for _, c := range label {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

// ZoneApexes reduces names to the minimal set of zone apexes: a name is
// dropped when one of its ancestors is already an apex. Shorter names are
// admitted first so that parents are always seen before their children.
func ZoneApexes(names []string) []string {
	byLen := dedupe(names)
	sort.SliceStable(byLen, func(i, j int) bool {
		return len(byLen[i]) < len(byLen[j])
	})

	var apexes []string
	for _, name := range byLen {
		covered := false
		for _, apex := range apexes {
			if IsSubdomainOf(name, apex) {
				covered = true
				break
			}
		}
		if !covered {
			apexes = append(apexes, name)
		}
	}
	return apexes
}

// ApexFor returns the apex in apexes that covers name.
func ApexFor(name string, apexes []string) (string, bool) {
	for _, apex := range apexes {
		if IsUnder(name, apex) {
			return apex, true
		}
	}
	return "", false
}

// SubdomainsOf returns the members of names strictly below apex, sorted.
func SubdomainsOf(apex string, names []string) []string {
	var subs []string
	for _, name := range names {
		if IsSubdomainOf(name, apex) {
			subs = append(subs, name)
		}
	}
	sort.Strings(subs)
	return subs
}

// ZoneFileName is the file name a zone is written to under the zones dir.
func ZoneFileName(domain string) string {
	return url.PathEscape(domain) + ".txt"
}

// Zones computes the apexes of names and binds each to its zone file, in the
// order given by sorter.
func Zones(names []string, sorter Sorter) []models.ZoneFile {
	apexes := ZoneApexes(names)
	if sorter != nil {
		apexes = sorter(apexes)
	}
	zones := make([]models.ZoneFile, 0, len(apexes))
	for _, apex := range apexes {
		zones = append(zones, models.ZoneFile{Domain: apex, File: ZoneFileName(apex)})
	}
	return zones
}

// PrimarySorter orders names with the primary hostname and its subdomains
// first, then the primary hostname's parents, then everything else. Inside
// each group a parent is immediately followed by its own subdomains.
func PrimarySorter(primary string) Sorter {
	return func(names []string) []string {
		var groups [3][]string
		for _, name := range dedupe(names) {
			switch {
			case IsUnder(name, primary):
				groups[0] = append(groups[0], name)
			case IsSubdomainOf(primary, name):
				groups[1] = append(groups[1], name)
			default:
				groups[2] = append(groups[2], name)
			}
		}
		out := make([]string, 0, len(names))
		for _, group := range groups {
			out = append(out, sortGroup(group)...)
		}
		return out
	}
}

func sortGroup(group []string) []string {
	var top []string
	for _, name := range group {
		isTop := true
		for _, other := range group {
			if IsSubdomainOf(name, other) {
				isTop = false
				break
			}
		}
		if isTop {
			top = append(top, name)
		}
	}
	sort.Strings(top)

	var out []string
	for _, name := range top {
		out = append(out, name)
		var below []string
		for _, other := range group {
			if IsSubdomainOf(other, name) {
				below = append(below, other)
			}
		}
		out = append(out, sortGroup(below)...)
	}
	return out
}

func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}
