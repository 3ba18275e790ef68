package synth

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/ajadi/boxdns/custom"
	"github.com/ajadi/boxdns/models"
)

type fakeSources struct {
	tlsa    string
	sshfp   []string
	dkimErr error
}

func (f fakeSources) TLSARecord(ctx context.Context) (string, error) { return f.tlsa, nil }

func (f fakeSources) SSHFPRecords(ctx context.Context) ([]string, error) { return f.sshfp, nil }

func (f fakeSources) DKIMRecord(ctx context.Context) (string, string, error) {
	if f.dkimErr != nil {
		return "", "", f.dkimErr
	}
	return "mail._domainkey", "v=DKIM1; k=rsa; p=ABC", nil
}

func newSynth(ipv6 string) *Synthesizer {
	return &Synthesizer{
		Box: Box{PrimaryHostname: "box.example.com", PublicIP: "192.0.2.1", PublicIPv6: ipv6},
		Sources: fakeSources{
			tlsa:  "3 0 1 abcd",
			sshfp: []string{"1 2 ( AAAA )", "3 2 ( BBBB )"},
		},
	}
}

func find(records []models.Record, qname, rtype string) []models.Record {
	var out []models.Record
	for _, r := range records {
		if r.QName == qname && r.Type == rtype {
			out = append(out, r)
		}
	}
	return out
}

func TestBuildZoneFoldsSubdomains(t *testing.T) {
	s := newSynth("")
	all := []string{"example.com", "mail.example.com", "box.example.com"}

	records, err := s.BuildZone(context.Background(), "example.com", all, custom.Records{})
	if err != nil {
		t.Fatal(err)
	}

	checks := []struct {
		qname, rtype, value string
	}{
		{"", "NS", "ns1.box.example.com."},
		{"", "MX", "10 box.example.com."},
		{"", "TXT", "v=spf1 mx -all"},
		{"_dmarc", "TXT", "v=DMARC1; p=quarantine"},
		{"mail._domainkey", "TXT", "v=DKIM1; k=rsa; p=ABC"},
		{"mail", "MX", "10 box.example.com."},
		{"mail._domainkey.mail", "TXT", "v=DKIM1; k=rsa; p=ABC"},
		{"box", "A", "192.0.2.1"},
		{"_25._tcp.box", "TLSA", "3 0 1 abcd"},
		{"box", "SSHFP", "3 2 ( BBBB )"},
		{"ns1.box", "A", "192.0.2.1"},
	}
	for _, c := range checks {
		found := false
		for _, r := range find(records, c.qname, c.rtype) {
			if r.Value == c.value {
				found = true
			}
		}
		if !found {
			t.Errorf("missing %s %s %s", c.qname, c.rtype, c.value)
		}
	}

	if got := find(records, "mail", "NS"); len(got) != 0 {
		t.Errorf("folded subdomain has NS records: %v", got)
	}
	if got := find(records, "www.mail", "A"); len(got) != 0 {
		t.Errorf("folded subdomain has a default www: %v", got)
	}
	if got := find(records, "mail", "TXT"); len(got) != 1 {
		t.Errorf("mail TXT = %v, want only its own SPF", got)
	}
	if got := find(records, "", "AAAA"); len(got) != 0 {
		t.Errorf("AAAA default emitted without IPv6: %v", got)
	}
	if records[0].QName != "" {
		t.Errorf("first record is %q, want apex", records[0].QName)
	}
}

func TestOverridePrecedence(t *testing.T) {
	s := newSynth("2001:db8::1")
	overrides := custom.Records{
		"example.com":       custom.RecordMap{"A": "203.0.113.9", "TXT": "v=spf1 include:_spf.example.net -all"},
		"www.example.com":   custom.ImplicitAddress("local"),
		"blank.example.com": custom.RecordMap{"CNAME": "  "},
	}

	records, err := s.BuildZone(context.Background(), "example.com", []string{"example.com"}, overrides)
	if err != nil {
		t.Fatal(err)
	}

	apexA := find(records, "", "A")
	if len(apexA) != 1 || apexA[0].Value != "203.0.113.9" || apexA[0].Annotation != models.UserSet {
		t.Errorf("apex A = %+v, want single user-set override", apexA)
	}

	// The built-in SPF already holds (apex, TXT), so the user's TXT is dropped.
	apexTXT := find(records, "", "TXT")
	if len(apexTXT) != 1 || apexTXT[0].Value != "v=spf1 mx -all" {
		t.Errorf("apex TXT = %+v, want built-in SPF to win", apexTXT)
	}

	wwwA := find(records, "www", "A")
	if len(wwwA) != 1 || wwwA[0].Value != "192.0.2.1" || wwwA[0].Annotation != models.UserSet {
		t.Errorf("www A = %+v, want local resolved to public IP", wwwA)
	}
	wwwAAAA := find(records, "www", "AAAA")
	if len(wwwAAAA) != 1 || wwwAAAA[0].Value != "2001:db8::1" || wwwAAAA[0].Annotation != models.UserSet {
		t.Errorf("www AAAA = %+v, want implicit local AAAA", wwwAAAA)
	}

	if got := find(records, "blank", "CNAME"); len(got) != 0 {
		t.Errorf("blank override emitted: %v", got)
	}
}

func TestStrictPolicyBackstop(t *testing.T) {
	s := newSynth("")
	overrides := custom.Records{
		"web.example.com":    custom.ImplicitAddress("198.51.100.7"),
		"signed.example.com": custom.RecordMap{"A": "198.51.100.8", "TXT": "v=spf1 include:example.net -all"},
	}

	records, err := s.BuildZone(context.Background(), "example.com", []string{"example.com"}, overrides)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		qname string
		want  []string
	}{
		{"web", []string{"v=spf1 a mx -all"}},
		{"_dmarc.web", []string{"v=DMARC1; p=reject"}},
		{"www", []string{"v=spf1 a mx -all"}},
		{"signed", []string{"v=spf1 include:example.net -all"}},
		{"_dmarc.signed", []string{"v=DMARC1; p=reject"}},
		{"", []string{"v=spf1 mx -all"}},
		{"_dmarc", []string{"v=DMARC1; p=quarantine"}},
	}
	for _, tt := range tests {
		var got []string
		for _, r := range find(records, tt.qname, "TXT") {
			got = append(got, r.Value)
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("TXT at %q = %v, want %v", tt.qname, got, tt.want)
		}
	}
}

func TestBuildZoneMissingDKIM(t *testing.T) {
	s := newSynth("")
	s.Sources = fakeSources{dkimErr: errors.New("no DKIM")}
	if _, err := s.BuildZone(context.Background(), "example.com", []string{"example.com"}, nil); err == nil {
		t.Error("expected missing DKIM record to fail the build")
	}
}

func TestSortRecords(t *testing.T) {
	records := []models.Record{
		{QName: "www", Type: "A"},
		{QName: "_dmarc.www", Type: "TXT"},
		{QName: "", Type: "MX"},
		{QName: "a.b", Type: "A"},
		{QName: "b", Type: "A"},
		{QName: "", Type: "NS"},
		{QName: "_dmarc", Type: "TXT"},
	}
	SortRecords(records)

	var got []string
	for _, r := range records {
		got = append(got, r.QName+"/"+r.Type)
	}
	want := []string{"/MX", "/NS", "_dmarc/TXT", "b/A", "a.b/A", "www/A", "_dmarc.www/TXT"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SortRecords = %v, want %v", got, want)
	}
}
