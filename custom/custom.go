// Package custom holds the user's DNS record overrides.
//
// The document maps a fully qualified name either to a bare string, which is
// shorthand for an A record, or to a mapping of record type to value:
//
//	www.example.com: 203.0.113.5
//	example.com:
//	  A: local
//	  TXT: "google-site-verification=..."
//
// The value "local" stands for the box's own address and is resolved when
// records are synthesized, not when they are stored.
package custom

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/miekg/dns"
	"gopkg.in/yaml.v3"

	"github.com/ajadi/boxdns/domains"
	"github.com/ajadi/boxdns/models"
)

// Local is the sentinel value meaning "this box's own address".
const Local = "local"

var (
	ErrNotManaged   = errors.New("not a managed domain")
	ErrInvalidType  = errors.New("unknown record type")
	ErrInvalidValue = errors.New("invalid record value")
)

// AllowedTypes are the record types users may override.
var AllowedTypes = []string{models.TypeA, models.TypeAAAA, models.TypeCNAME, models.TypeTXT}

// Entry is the value stored for one name: an ImplicitAddress or a RecordMap.
type Entry interface {
	values() []Value
}

// ImplicitAddress is the short form: a single A record value.
type ImplicitAddress string

// RecordMap is the long form: one value per record type.
type RecordMap map[string]string

// Value is one (type, value) pair of an entry.
type Value struct {
	Type  string `json:"rtype"`
	Value string `json:"value"`
}

func (a ImplicitAddress) values() []Value {
	return []Value{{Type: models.TypeA, Value: string(a)}}
}

func (m RecordMap) values() []Value {
	types := make([]string, 0, len(m))
	for rtype := range m {
		types = append(types, rtype)
	}
	sort.Strings(types)
	out := make([]Value, 0, len(types))
	for _, rtype := range types {
		out = append(out, Value{Type: rtype, Value: m[rtype]})
	}
	return out
}

// Records maps fully qualified names to their override entries.
type Records map[string]Entry

// Names returns the overridden names in sorted order.
func (r Records) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns the stored (type, value) pairs for name. The short form
// yields an implicit AAAA as well when it holds the Local sentinel and the
// box has IPv6.
func (r Records) Get(name string, hasIPv6 bool) ([]Value, bool) {
	entry, ok := r[name]
	if !ok {
		return nil, false
	}
	vals := entry.values()
	if addr, short := entry.(ImplicitAddress); short && string(addr) == Local && hasIPv6 {
		vals = append(vals, Value{Type: models.TypeAAAA, Value: Local})
	}
	return vals, true
}

// Set stores value for (qname, rtype) after validating it against the
// managed zone apexes. It reports whether the document changed.
func (r Records) Set(apexes []string, qname, rtype, value string) (bool, error) {
	return r.update(apexes, qname, rtype, &value)
}

// Delete removes (qname, rtype). It reports whether the document changed.
func (r Records) Delete(apexes []string, qname, rtype string) (bool, error) {
	return r.update(apexes, qname, rtype, nil)
}

func (r Records) update(apexes []string, qname, rtype string, value *string) (bool, error) {
	qname = domains.Normalize(qname)
	rtype = strings.ToUpper(strings.TrimSpace(rtype))

	if !domains.Valid(qname) {
		return false, fmt.Errorf("%q is not a valid domain name: %w", qname, ErrInvalidValue)
	}
	if _, ok := domains.ApexFor(qname, apexes); !ok {
		return false, fmt.Errorf("%s is not a domain name or a subdomain of a domain name managed by this box: %w", qname, ErrNotManaged)
	}
	if value != nil {
		v := strings.TrimSpace(*value)
		if err := validateValue(rtype, v); err != nil {
			return false, err
		}
		value = &v
	} else if !allowedType(rtype) {
		return false, fmt.Errorf("%q: %w", rtype, ErrInvalidType)
	}

	current, exists := r[qname]
	if !exists {
		switch {
		case value == nil:
			return false, nil
		case rtype == models.TypeA:
			r[qname] = ImplicitAddress(*value)
		default:
			r[qname] = RecordMap{rtype: *value}
		}
		return true, nil
	}

	switch entry := current.(type) {
	case ImplicitAddress:
		switch {
		case value == nil && rtype != models.TypeA:
			return false, nil
		case value == nil:
			delete(r, qname)
		case rtype == models.TypeA:
			if string(entry) == *value {
				return false, nil
			}
			r[qname] = ImplicitAddress(*value)
		default:
			r[qname] = RecordMap{models.TypeA: string(entry), rtype: *value}
		}

	case RecordMap:
		if value == nil {
			if _, ok := entry[rtype]; !ok {
				return false, nil
			}
			delete(entry, rtype)
			if len(entry) == 0 {
				delete(r, qname)
			}
			return true, nil
		}
		if old, ok := entry[rtype]; ok && old == *value {
			return false, nil
		}
		entry[rtype] = *value
	}
	return true, nil
}

var validate = validator.New()

func validateValue(rtype, value string) error {
	switch rtype {
	case models.TypeA, models.TypeAAAA:
		if value == Local {
			return nil
		}
		if validate.Var(value, "ip") != nil {
			return fmt.Errorf("%q is not an IP address: %w", value, ErrInvalidValue)
		}
		if rtype == models.TypeA && validate.Var(value, "ipv4") != nil {
			return fmt.Errorf("%q is an IPv6 address: %w", value, ErrInvalidValue)
		}
		if rtype == models.TypeAAAA && validate.Var(value, "ipv6") != nil {
			return fmt.Errorf("%q is an IPv4 address: %w", value, ErrInvalidValue)
		}
	case models.TypeCNAME:
		if value == "" {
			return fmt.Errorf("empty %s value: %w", rtype, ErrInvalidValue)
		}
		if !domains.Valid(strings.TrimSuffix(value, ".")) {
			return fmt.Errorf("%q is not a domain name: %w", value, ErrInvalidValue)
		}
	case models.TypeTXT:
		if value == "" {
			return fmt.Errorf("empty %s value: %w", rtype, ErrInvalidValue)
		}
		if strings.IndexFunc(value, unicode.IsControl) >= 0 {
			return fmt.Errorf("TXT value contains control characters: %w", ErrInvalidValue)
		}
	default:
		return fmt.Errorf("%q: %w", rtype, ErrInvalidType)
	}
	return nil
}

func allowedType(rtype string) bool {
	for _, t := range AllowedTypes {
		if t == rtype {
			return true
		}
	}
	return false
}

// DropInvalid removes the names and values that Set would reject, so a
// hand-edited document cannot put unparsable lines into a zone. Blank values
// are kept; they already mean "no override". It returns one message per
// removal.
func (r Records) DropInvalid() []string {
	var dropped []string
	for _, name := range r.Names() {
		if !domains.Valid(name) {
			dropped = append(dropped, fmt.Sprintf("%q: not a valid domain name", name))
			delete(r, name)
			continue
		}
		switch entry := r[name].(type) {
		case ImplicitAddress:
			v := strings.TrimSpace(string(entry))
			if v == "" {
				continue
			}
			if err := validateValue(models.TypeA, v); err != nil {
				dropped = append(dropped, fmt.Sprintf("%s: %v", name, err))
				delete(r, name)
			}
		case RecordMap:
			for _, rtype := range sortedKeys(entry) {
				v := strings.TrimSpace(entry[rtype])
				if v == "" {
					continue
				}
				if err := validateLoaded(rtype, v); err != nil {
					dropped = append(dropped, fmt.Sprintf("%s %s: %v", name, rtype, err))
					delete(entry, rtype)
				}
			}
			if len(entry) == 0 {
				delete(r, name)
			}
		}
	}
	return dropped
}

// validateLoaded checks a value read from the document. Types outside
// AllowedTypes cannot be set through Set but are still published when a
// hand-edited document names a real record type.
func validateLoaded(rtype, value string) error {
	if allowedType(rtype) {
		return validateValue(rtype, value)
	}
	if _, ok := dns.StringToType[rtype]; !ok {
		return fmt.Errorf("%q: %w", rtype, ErrInvalidType)
	}
	if strings.IndexFunc(value, unicode.IsControl) >= 0 {
		return fmt.Errorf("%s value contains control characters: %w", rtype, ErrInvalidValue)
	}
	return nil
}

func sortedKeys(m RecordMap) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// UnmarshalYAML decodes the short-form / long-form document.
func (r *Records) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("custom DNS document must be a mapping, got line %d", node.Line)
	}
	out := make(Records, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		name := domains.Normalize(node.Content[i].Value)
		val := node.Content[i+1]
		switch val.Kind {
		case yaml.ScalarNode:
			// "name: ~" leaves the name without overrides.
			if val.Tag == "!!null" {
				continue
			}
			out[name] = ImplicitAddress(val.Value)
		case yaml.MappingNode:
			var m map[string]string
			if err := val.Decode(&m); err != nil {
				return fmt.Errorf("records for %s: %w", name, err)
			}
			upper := make(RecordMap, len(m))
			for rtype, v := range m {
				upper[strings.ToUpper(rtype)] = v
			}
			out[name] = upper
		default:
			return fmt.Errorf("records for %s must be a string or a mapping (line %d)", name, val.Line)
		}
	}
	*r = out
	return nil
}

// MarshalYAML encodes entries back to their short or long form.
func (r Records) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, name := range r.Names() {
		key := &yaml.Node{Kind: yaml.ScalarNode, Value: name}
		var val yaml.Node
		switch entry := r[name].(type) {
		case ImplicitAddress:
			if err := val.Encode(string(entry)); err != nil {
				return nil, err
			}
		case RecordMap:
			if err := val.Encode(map[string]string(entry)); err != nil {
				return nil, err
			}
		}
		node.Content = append(node.Content, key, &val)
	}
	return node, nil
}
