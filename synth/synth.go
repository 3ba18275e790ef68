// Package synth builds the resource records of a zone from the managed
// domains, the user's overrides and the box's own configuration.
package synth

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/miekg/dns"

	"github.com/ajadi/boxdns/custom"
	"github.com/ajadi/boxdns/domains"
	"github.com/ajadi/boxdns/models"
)

// Box is the part of the box configuration that records are derived from.
type Box struct {
	PrimaryHostname string
	PublicIP        string
	PublicIPv6      string
}

// Sources supplies the host artifacts published in the zones.
type Sources interface {
	TLSARecord(ctx context.Context) (string, error)
	SSHFPRecords(ctx context.Context) ([]string, error)
	DKIMRecord(ctx context.Context) (qname, value string, err error)
}

// Synthesizer produces zone record sets.
type Synthesizer struct {
	Box     Box
	Sources Sources
}

// BuildZone returns the sorted records of the zone rooted at apex. Every
// member of allDomains strictly below apex is folded into the zone.
func (s *Synthesizer) BuildZone(ctx context.Context, apex string, allDomains []string, overrides custom.Records) ([]models.Record, error) {
	records, err := s.build(ctx, apex, allDomains, overrides, true)
	if err != nil {
		return nil, err
	}
	SortRecords(records)
	return records, nil
}

func (s *Synthesizer) build(ctx context.Context, domain string, allDomains []string, overrides custom.Records, isZone bool) ([]models.Record, error) {
	box := s.Box
	primary := box.PrimaryHostname
	var z zone

	if isZone {
		z.add("", models.TypeNS, "ns1."+primary+".", models.Internal, "")
		z.add("", models.TypeNS, "ns2."+primary+".", models.Internal, "")
	}

	if domain == primary {
		z.add("ns1", models.TypeA, box.PublicIP, models.Internal, "")
		z.add("ns2", models.TypeA, box.PublicIP, models.Internal, "")
		if box.PublicIPv6 != "" {
			z.add("ns1", models.TypeAAAA, box.PublicIPv6, models.Internal, "")
			z.add("ns2", models.TypeAAAA, box.PublicIPv6, models.Internal, "")
		}

		// Added before overrides so the box's own address cannot be replaced.
		z.add("", models.TypeA, box.PublicIP, models.Required, "Sets the IP address of the box.")
		if box.PublicIPv6 != "" {
			z.add("", models.TypeAAAA, box.PublicIPv6, models.Required, "Sets the IPv6 address of the box.")
		}

		tlsa, err := s.Sources.TLSARecord(ctx)
		if err != nil {
			return nil, fmt.Errorf("building TLSA record: %w", err)
		}
		z.add("_25._tcp", models.TypeTLSA, tlsa, models.Recommended,
			"Recommended when DNSSEC is enabled. Tells connecting mail servers that encryption is mandatory.")

		sshfp, err := s.Sources.SSHFPRecords(ctx)
		if err != nil {
			return nil, fmt.Errorf("building SSHFP records: %w", err)
		}
		for _, value := range sshfp {
			z.add("", models.TypeSSHFP, value, models.Optional,
				"Lets ssh clients verify the host key out of band (VerifyHostKeyDNS yes).")
		}
	}

	z.add("", models.TypeMX, "10 "+primary+".", models.Required,
		fmt.Sprintf("Specifies the host (and priority) that handles @%s mail.", domain))
	z.add("", models.TypeTXT, "v=spf1 mx -all", models.Recommended,
		fmt.Sprintf("Only the box is permitted to send @%s mail.", domain))

	for _, sub := range domains.SubdomainsOf(domain, allDomains) {
		label := strings.TrimSuffix(sub, "."+domain)
		children, err := s.build(ctx, sub, nil, nil, false)
		if err != nil {
			return nil, err
		}
		for _, child := range children {
			z.records = append(z.records, child.Requalify(label))
		}
	}

	for _, o := range overridesFor(domain, overrides, box) {
		if z.has(o.QName, o.Type, "") {
			continue
		}
		z.add(o.QName, o.Type, o.Value, models.UserSet, "Set by user.")
	}

	defaults := []struct {
		qname, rtype, value string
		annotation          models.Annotation
		explanation         string
	}{
		{"", models.TypeA, box.PublicIP, models.Required,
			fmt.Sprintf("May have a different value. Sets the address %s resolves to for web hosting; it does not affect mail delivery.", domain)},
		{"www", models.TypeA, box.PublicIP, models.Optional,
			fmt.Sprintf("Sets the address www.%s resolves to, e.g. for web hosting.", domain)},
		{"", models.TypeAAAA, box.PublicIPv6, models.Optional,
			fmt.Sprintf("Sets the IPv6 address %s resolves to, e.g. for web hosting.", domain)},
		{"www", models.TypeAAAA, box.PublicIPv6, models.Optional,
			fmt.Sprintf("Sets the IPv6 address www.%s resolves to, e.g. for web hosting.", domain)},
	}
	for _, d := range defaults {
		if strings.TrimSpace(d.value) == "" {
			continue
		}
		if !isZone && d.qname == "www" {
			continue
		}
		if !z.has(d.qname, d.rtype, "") {
			z.add(d.qname, d.rtype, d.value, d.annotation, d.explanation)
		}
	}

	dkimName, dkimValue, err := s.Sources.DKIMRecord(ctx)
	if err != nil {
		return nil, err
	}
	z.add(dkimName, models.TypeTXT, dkimValue, models.Recommended,
		fmt.Sprintf("Lets recipients verify that the box sent @%s mail.", domain))

	z.add("_dmarc", models.TypeTXT, "v=DMARC1; p=quarantine", models.Optional,
		fmt.Sprintf("Mail claiming to be from @%s that did not come from the box should be quarantined.", domain))

	for _, qname := range z.resolvable() {
		if !z.has(qname, models.TypeTXT, "v=spf1 ") {
			z.add(qname, models.TypeTXT, "v=spf1 a mx -all", models.Recommended,
				"Prevents use of this name for unauthorised outbound mail.")
		}
		dmarc := "_dmarc"
		if qname != "" {
			dmarc += "." + qname
		}
		if !z.has(dmarc, models.TypeTXT, "v=DMARC1; ") {
			z.add(dmarc, models.TypeTXT, "v=DMARC1; p=reject", models.Recommended,
				"Prevents use of this name for outbound mail without a valid DKIM signature.")
		}
	}

	return z.records, nil
}

type zone struct {
	records []models.Record
}

func (z *zone) add(qname, rtype, value string, a models.Annotation, explanation string) {
	z.records = append(z.records, models.Record{
		QName:       qname,
		Type:        rtype,
		Value:       value,
		Annotation:  a,
		Explanation: explanation,
	})
}

func (z *zone) has(qname, rtype, prefix string) bool {
	for _, r := range z.records {
		if r.QName == qname && r.Type == rtype && r.HasPrefix(prefix) {
			return true
		}
	}
	return false
}

// resolvable lists the distinct names holding an A or AAAA record, sorted.
func (z *zone) resolvable() []string {
	seen := map[string]bool{}
	var names []string
	for _, r := range z.records {
		if r.Type != models.TypeA && r.Type != models.TypeAAAA {
			continue
		}
		if !seen[r.QName] {
			seen[r.QName] = true
			names = append(names, r.QName)
		}
	}
	sort.Strings(names)
	return names
}

// overridesFor returns the override records at or below domain, with names
// made relative and the "local" sentinel resolved. Blank values and local
// AAAA records on a box without IPv6 are dropped.
func overridesFor(domain string, overrides custom.Records, box Box) []models.Record {
	var out []models.Record
	for _, name := range overrides.Names() {
		if !domains.IsUnder(name, domain) {
			continue
		}
		qname := ""
		if name != domain {
			qname = strings.TrimSuffix(name, "."+domain)
		}
		values, _ := overrides.Get(name, box.PublicIPv6 != "")
		for _, v := range values {
			value := strings.TrimSpace(v.Value)
			if value == custom.Local {
				switch v.Type {
				case models.TypeA:
					value = box.PublicIP
				case models.TypeAAAA:
					value = box.PublicIPv6
				}
			}
			if value == "" {
				continue
			}
			out = append(out, models.Record{QName: qname, Type: v.Type, Value: value})
		}
	}
	return out
}

// SortRecords orders records by their reversed label sequence so the apex
// comes first and each name is followed by its own subnames. Records with
// the same name keep their relative order.
func SortRecords(records []models.Record) {
	keys := make(map[string][]string, len(records))
	for _, r := range records {
		if _, ok := keys[r.QName]; !ok {
			keys[r.QName] = reversedLabels(r.QName)
		}
	}
	sort.SliceStable(records, func(i, j int) bool {
		return lessLabels(keys[records[i].QName], keys[records[j].QName])
	})
}

func reversedLabels(qname string) []string {
	labels := dns.SplitDomainName(qname)
	for i, j := 0, len(labels)-1; i < j; i, j = i+1, j-1 {
		labels[i], labels[j] = labels[j], labels[i]
	}
	return labels
}

func lessLabels(a, b []string) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}
