// Package zonefile renders zones in nsd master file format and decides when a
// zone has to be rewritten and re-signed.
package zonefile

import (
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"

	"github.com/ajadi/boxdns/models"
	"github.com/ajadi/boxdns/utils"
)

// SignedSuffix is appended to a zone file name for its signed version.
const SignedSuffix = ".signed"

const serialPlaceholder = "__SERIAL__"

// The $ORIGIN line must not carry a trailing comment; ldns-signzone rejects it.
const header = `
$ORIGIN %[1]s.
$TTL 1800           ; default time to live

@ IN SOA ns1.%[2]s. hostmaster.%[2]s. (
           ` + serialPlaceholder + `     ; serial number
           7200     ; Refresh (secondary nameserver update interval)
           1800     ; Retry (when refresh fails, how often to try again)
           1209600  ; Expire (when refresh fails, how long secondary nameserver will keep records around anyway)
           1800     ; Negative TTL (how long negative responses are cached)
           )
`

var serialRe = regexp.MustCompile(`(\d+)\s*;\s*serial number`)

// ErrNoSignatures means a signed zone holds no RRSIG over its SOA.
var ErrNoSignatures = errors.New("no SOA signatures found")

// Render produces the zone text with the serial left as a placeholder.
// Record values are written as given, except TXT which is quoted.
func Render(apex, primary string, records []models.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, header, apex, primary)
	for _, r := range records {
		b.WriteString(r.QName)
		b.WriteString("\tIN\t")
		b.WriteString(r.Type)
		b.WriteString("\t")
		if r.Type == models.TypeTXT {
			b.WriteString(quoteTXT(r.Value))
		} else {
			b.WriteString(r.Value)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// quoteTXT quotes a TXT value, escaping quotes, backslashes and control
// characters so a value can never end the record line.
func quoteTXT(value string) string {
	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(value); i++ {
		c := value[i]
		switch {
		case c == '"' || c == '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		case c < 0x20 || c == 0x7f:
			fmt.Fprintf(&b, "\\%03d", c)
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// StripSerial replaces the serial of a rendered zone with the placeholder
// and returns it. ok is false when the text carries no serial.
func StripSerial(text string) (content string, serial uint64, ok bool) {
	loc := serialRe.FindStringSubmatchIndex(text)
	if loc == nil {
		return text, 0, false
	}
	serial, err := strconv.ParseUint(text[loc[2]:loc[3]], 10, 64)
	if err != nil {
		return text, 0, false
	}
	return text[:loc[0]] + serialPlaceholder + "     ; serial number" + text[loc[1]:], serial, true
}

// NextSerial returns the serial for a zone written at now: the date in
// YYYYMMDD00 form, or previous+1 when that would not increase the serial.
func NextSerial(now time.Time, previous uint64, hasPrevious bool) uint64 {
	candidate, _ := strconv.ParseUint(now.Format("20060102")+"00", 10, 64)
	if hasPrevious && previous >= candidate {
		return previous + 1
	}
	return candidate
}

// SignedZone is what the re-sign decision needs from a signed zone.
type SignedZone struct {
	Serial    uint32
	HasSerial bool
	Expiry    time.Time
}

// ReadSigned parses a signed zone for its SOA serial and the earliest
// expiration of the RRSIG records covering SOA.
func ReadSigned(r io.Reader, file string) (SignedZone, error) {
	zp := dns.NewZoneParser(r, "", file)
	var z SignedZone
	found := false
	for rr, ok := zp.Next(); ok; rr, ok = zp.Next() {
		switch rec := rr.(type) {
		case *dns.SOA:
			z.Serial = rec.Serial
			z.HasSerial = true
		case *dns.RRSIG:
			if rec.TypeCovered != dns.TypeSOA {
				continue
			}
			exp := time.Unix(int64(rec.Expiration), 0).UTC()
			if !found || exp.Before(z.Expiry) {
				z.Expiry = exp
				found = true
			}
		}
	}
	if err := zp.Err(); err != nil {
		return SignedZone{}, fmt.Errorf("parsing %s: %w", file, err)
	}
	if !found {
		return z, ErrNoSignatures
	}
	return z, nil
}

// SignatureExpiry returns the earliest expiration of the RRSIG records
// covering SOA in a signed zone.
func SignatureExpiry(r io.Reader, file string) (time.Time, error) {
	z, err := ReadSigned(r, file)
	if err != nil {
		return time.Time{}, err
	}
	return z.Expiry, nil
}

// Publisher writes zone files and owns the serial lifecycle.
type Publisher struct {
	Now          func() time.Time
	ResignWindow time.Duration
}

// NewPublisher creates a Publisher using the wall clock.
func NewPublisher(resignWindow time.Duration) *Publisher {
	return &Publisher{Now: time.Now, ResignWindow: resignWindow}
}

func (p *Publisher) now() time.Time {
	if p.Now == nil {
		return time.Now()
	}
	return p.Now()
}

// NeedsResign reports whether the signed version of path is missing,
// unreadable, built from another serial than the unsigned zone's, or close
// enough to expiry that the zone has to be signed again regardless of
// content changes. reason is set when it returns true.
func (p *Publisher) NeedsResign(path string, serial uint64) (bool, string) {
	signed := path + SignedSuffix
	f, err := os.Open(signed)
	if err != nil {
		if os.IsNotExist(err) {
			return true, "no signed zone"
		}
		return true, err.Error()
	}
	defer f.Close()

	z, err := ReadSigned(f, signed)
	if err != nil {
		return true, err.Error()
	}
	if !z.HasSerial || uint64(z.Serial) != serial {
		return true, fmt.Sprintf("signed zone has serial %d, zone file has %d", z.Serial, serial)
	}
	if z.Expiry.Sub(p.now()) < p.ResignWindow {
		return true, "signatures expire " + z.Expiry.Format(time.RFC3339)
	}
	return false, ""
}

// Publish renders the zone and writes it to path when its content differs
// from the file on disk (serial aside), when the signatures need renewing,
// or when force is set. It reports whether the file was written, in which
// case the zone must be signed again.
func (p *Publisher) Publish(apex, primary, path string, records []models.Record, force bool) (bool, error) {
	zone := Render(apex, primary, records)
	log := logrus.WithFields(logrus.Fields{"zone": apex, "file": path})

	existing, exists, err := utils.ReadFileIfExists(path)
	if err != nil {
		return false, err
	}

	var previous uint64
	hasPrevious := false
	if exists {
		var content string
		content, previous, hasPrevious = StripSerial(existing)
		if hasPrevious && content == zone && !force {
			// Text left unsigned by a failed signing run has a serial the
			// signed zone does not carry.
			resign, reason := p.NeedsResign(path, previous)
			if !resign {
				log.Debug("Zone unchanged")
				return false, nil
			}
			log.WithFields(logrus.Fields{"reason": reason}).Info("Zone needs to be signed again")
		}
	}

	serial := NextSerial(p.now(), previous, hasPrevious)
	zone = strings.Replace(zone, serialPlaceholder, strconv.FormatUint(serial, 10), 1)
	if err := utils.WriteFile(path, zone, 0644); err != nil {
		return false, err
	}
	log.WithFields(logrus.Fields{"serial": serial, "forced": force}).Info("Zone file written")
	return true, nil
}
