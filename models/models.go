package models

// Record, zone file and annotation types shared by the synthesizer, the
// publication controller and the management surfaces.

import "strings"

// Record types the synthesizer emits.
const (
	TypeNS    = "NS"
	TypeA     = "A"
	TypeAAAA  = "AAAA"
	TypeMX    = "MX"
	TypeTXT   = "TXT"
	TypeTLSA  = "TLSA"
	TypeSSHFP = "SSHFP"
	TypeCNAME = "CNAME"
)

// Annotation classifies a record for display and override purposes.
type Annotation int

const (
	Internal Annotation = iota // only meaningful while the box itself serves the zone
	Required
	Recommended
	Optional
	UserSet
)

func (a Annotation) String() string {
	switch a {
	case Required:
		return "required"
	case Recommended:
		return "recommended"
	case Optional:
		return "optional"
	case UserSet:
		return "user-set"
	default:
		return "internal"
	}
}

// Record is one resource record of a zone. QName is relative to the zone
// apex; the empty string is the apex itself.
type Record struct {
	QName       string     `json:"qname"`
	Type        string     `json:"rtype"`
	Value       string     `json:"value"`
	Annotation  Annotation `json:"-"`
	Explanation string     `json:"explanation,omitempty"`
}

// Exposed reports whether the record is shown to users who host the zone
// elsewhere.
func (r Record) Exposed() bool {
	return r.Annotation != Internal
}

// FQDN expands the relative name against the zone apex.
func (r Record) FQDN(apex string) string {
	if r.QName == "" {
		return apex
	}
	return r.QName + "." + apex
}

// Requalify returns a copy of the record moved under label, as done when a
// subdomain's records are folded into its parent zone.
func (r Record) Requalify(label string) Record {
	if r.QName == "" {
		r.QName = label
	} else {
		r.QName = r.QName + "." + label
	}
	return r
}

// HasPrefix reports whether the record value starts with prefix.
func (r Record) HasPrefix(prefix string) bool {
	return strings.HasPrefix(r.Value, prefix)
}

// ZoneFile binds a zone apex to the file nsd loads it from.
type ZoneFile struct {
	Domain string `json:"domain"`
	File   string `json:"file"`
}

// ZoneRecords is the display form of a zone used by the records listing.
type ZoneRecords struct {
	Domain  string          `json:"domain"`
	Records []DisplayRecord `json:"records"`
}

// DisplayRecord is a record with its name expanded to a FQDN.
type DisplayRecord struct {
	QName       string `json:"qname"`
	Type        string `json:"rtype"`
	Value       string `json:"value"`
	Annotation  string `json:"annotation"`
	Explanation string `json:"explanation"`
}
