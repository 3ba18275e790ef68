package domains

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
)

func TestValid(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"example.com", true},
		{"_dmarc.mail.example.com", true},
		{"*.example.com", true},
		{"xn--bcher-kva.example", true},
		{"", false},
		{".example.com", false},
		{"a..example.com", false},
		{"a b.example.com", false},
		{"a b\n@ in ns evil.\nx.example.com", false},
		{"www.*.example.com", false},
		{"x\\.y.example.com", false},
	}
	for _, tt := range tests {
		if got := Valid(tt.name); got != tt.want {
			t.Errorf("Valid(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestZoneApexes(t *testing.T) {
	tests := []struct {
		name  string
		input []string
		want  []string
	}{
		{
			name:  "subdomain folded into parent",
			input: []string{"mail.example.com", "example.com"},
			want:  []string{"example.com"},
		},
		{
			name:  "siblings stay separate",
			input: []string{"a.example.com", "b.example.com"},
			want:  []string{"a.example.com", "b.example.com"},
		},
		{
			name:  "suffix without label boundary is not a parent",
			input: []string{"example.com", "myexample.com"},
			want:  []string{"example.com", "myexample.com"},
		},
		{
			name:  "deep nesting",
			input: []string{"x.y.example.org", "y.example.org", "example.org", "box.example.net"},
			want:  []string{"example.org", "box.example.net"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ZoneApexes(tt.input)
			if len(got) != len(tt.want) {
				t.Fatalf("ZoneApexes(%v) = %v, want %v", tt.input, got, tt.want)
			}
			set := map[string]bool{}
			for _, g := range got {
				set[g] = true
			}
			for _, w := range tt.want {
				if !set[w] {
					t.Errorf("ZoneApexes(%v) = %v, missing %s", tt.input, got, w)
				}
			}
		})
	}
}

func TestZoneApexesCoverage(t *testing.T) {
	input := []string{
		"example.com", "www.example.com", "a.b.example.com", "b.example.com",
		"example.net", "mail.example.net", "box.example.org", "other.org",
	}
	apexes := ZoneApexes(input)

	for i, a := range apexes {
		for j, b := range apexes {
			if i != j && IsSubdomainOf(a, b) {
				t.Errorf("apex %s is below apex %s", a, b)
			}
		}
	}

	for _, name := range input {
		n := 0
		for _, apex := range apexes {
			if IsUnder(name, apex) {
				n++
			}
		}
		if n != 1 {
			t.Errorf("%s covered by %d apexes, want 1", name, n)
		}
	}
}

func TestPrimarySorter(t *testing.T) {
	sorter := PrimarySorter("box.example.com")
	got := sorter([]string{
		"zzz.org", "example.com", "box.example.com", "aaa.net",
		"sub.box.example.com", "www.aaa.net",
	})
	want := []string{
		"box.example.com", "sub.box.example.com",
		"example.com",
		"aaa.net", "www.aaa.net", "zzz.org",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("PrimarySorter() = %v, want %v", got, want)
	}
}

func TestZones(t *testing.T) {
	zones := Zones([]string{"mail.example.com", "example.com", "box.example.net"}, PrimarySorter("box.example.net"))
	if len(zones) != 2 {
		t.Fatalf("got %d zones, want 2", len(zones))
	}
	if zones[0].Domain != "box.example.net" || zones[0].File != "box.example.net.txt" {
		t.Errorf("first zone = %+v", zones[0])
	}
	if zones[1].Domain != "example.com" {
		t.Errorf("second zone = %+v", zones[1])
	}
}

func TestMailDomainSource(t *testing.T) {
	db, err := OpenDatabase("sqlite", filepath.Join(t.TempDir(), "users.sqlite"))
	if err != nil {
		t.Fatalf("OpenDatabase: %v", err)
	}
	defer db.Close()

	for _, stmt := range []string{
		"CREATE TABLE users (id INTEGER PRIMARY KEY AUTOINCREMENT, email TEXT NOT NULL UNIQUE)",
		"CREATE TABLE aliases (id INTEGER PRIMARY KEY AUTOINCREMENT, source TEXT NOT NULL UNIQUE)",
		"INSERT INTO users (email) VALUES ('me@Example.com'), ('you@example.com')",
		"INSERT INTO aliases (source) VALUES ('postmaster@mail.example.com'), ('@catchall.example.net'), ('broken')",
	} {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("exec %q: %v", stmt, err)
		}
	}

	src := &MailDomainSource{DB: db, PrimaryHostname: "box.example.com"}
	got, err := src.ListManagedDomains(context.Background())
	if err != nil {
		t.Fatalf("ListManagedDomains: %v", err)
	}
	want := []string{"box.example.com", "catchall.example.net", "example.com", "mail.example.com"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ListManagedDomains() = %v, want %v", got, want)
	}
}
