package confgen

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ajadi/boxdns/models"
)

var zones = []models.ZoneFile{
	{Domain: "box.example.com", File: "box.example.com.txt.signed"},
	{Domain: "example.com", File: "example.com.txt.signed"},
}

var managed = []string{"box.example.com", "example.com", "mail.example.com"}

func TestNSDConf(t *testing.T) {
	got := NSDConf("/etc/nsd/zones", []string{"10.0.0.2", "", "fd00::2"}, zones)
	want := `
server:
  hide-version: yes

  # identify the server (CH TXT ID.SERVER entry).
  identity: ""

  # The directory for zonefile: files.
  zonesdir: "/etc/nsd/zones"
  ip-address: 10.0.0.2
  ip-address: fd00::2

zone:
	name: box.example.com
	zonefile: box.example.com.txt.signed

zone:
	name: example.com
	zonefile: example.com.txt.signed
`
	if got != want {
		t.Errorf("NSDConf =\n%s\nwant\n%s", got, want)
	}
}

func TestWriteNSDConf(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nsd.conf")
	for i, want := range []bool{true, false} {
		changed, err := WriteNSDConf(path, "/etc/nsd/zones", nil, zones)
		if err != nil {
			t.Fatal(err)
		}
		if changed != want {
			t.Errorf("write %d: changed = %v, want %v", i, changed, want)
		}
	}
}

func TestWriteOpenDKIMTables(t *testing.T) {
	dir := t.TempDir()
	keyFile := filepath.Join(dir, "mail.private")

	changed, err := WriteOpenDKIMTables(dir, keyFile, zones, managed)
	if err != nil || changed {
		t.Fatalf("without key: changed = %v, err = %v", changed, err)
	}
	if _, err := os.Stat(filepath.Join(dir, "KeyTable")); !os.IsNotExist(err) {
		t.Error("KeyTable written without a DKIM key")
	}

	if err := os.WriteFile(keyFile, []byte("key"), 0600); err != nil {
		t.Fatal(err)
	}
	changed, err = WriteOpenDKIMTables(dir, keyFile, zones, managed)
	if err != nil || !changed {
		t.Fatalf("first write: changed = %v, err = %v", changed, err)
	}
	changed, _ = WriteOpenDKIMTables(dir, keyFile, zones, managed)
	if changed {
		t.Error("second write reported a change")
	}

	data, _ := os.ReadFile(filepath.Join(dir, "SigningTable"))
	if string(data) != "*@box.example.com box.example.com\n*@example.com example.com\n*@mail.example.com mail.example.com\n" {
		t.Errorf("SigningTable = %q", data)
	}
	data, _ = os.ReadFile(filepath.Join(dir, "KeyTable"))
	want := "box.example.com box.example.com:mail:" + keyFile + "\n" +
		"example.com example.com:mail:" + keyFile + "\n" +
		"mail.example.com mail.example.com:mail:" + keyFile + "\n"
	if string(data) != want {
		t.Errorf("KeyTable = %q, want %q", data, want)
	}
}
