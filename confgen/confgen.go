// Package confgen renders the nsd and OpenDKIM configuration derived from the
// zone set.
package confgen

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/ajadi/boxdns/domains"
	"github.com/ajadi/boxdns/models"
	"github.com/ajadi/boxdns/utils"
)

const nsdHeader = `
server:
  hide-version: yes

  # identify the server (CH TXT ID.SERVER entry).
  identity: ""

  # The directory for zonefile: files.
  zonesdir: "%s"
`

// NSDConf renders nsd.conf for zones. nsd binds only to the given addresses.
func NSDConf(zonesDir string, listen []string, zones []models.ZoneFile) string {
	var b strings.Builder
	fmt.Fprintf(&b, nsdHeader, zonesDir)
	for _, ip := range listen {
		if ip == "" {
			continue
		}
		fmt.Fprintf(&b, "  ip-address: %s\n", ip)
	}
	for _, z := range zones {
		fmt.Fprintf(&b, "\nzone:\n\tname: %s\n\tzonefile: %s\n", z.Domain, z.File)
	}
	return b.String()
}

// WriteNSDConf writes nsd.conf when it changed.
func WriteNSDConf(path, zonesDir string, listen []string, zones []models.ZoneFile) (bool, error) {
	return utils.WriteFileIfChanged(path, NSDConf(zonesDir, listen, zones), 0644)
}

// OpenDKIMTables renders the SigningTable and KeyTable mapping every managed
// domain to a same-named key using the box's single private key. Domains are
// listed per zone, apex first, so mail domains folded into a parent zone are
// signed too.
func OpenDKIMTables(keyFile string, zones []models.ZoneFile, all []string) (signingTable, keyTable string) {
	var st, kt strings.Builder
	seen := map[string]bool{}
	for _, z := range zones {
		for _, name := range append([]string{z.Domain}, domains.SubdomainsOf(z.Domain, all)...) {
			if seen[name] {
				continue
			}
			seen[name] = true
			fmt.Fprintf(&st, "*@%s %s\n", name, name)
			fmt.Fprintf(&kt, "%s %s:mail:%s\n", name, name, keyFile)
		}
	}
	return st.String(), kt.String()
}

// WriteOpenDKIMTables writes both tables into dir. Nothing is written when
// the private key does not exist, which means OpenDKIM is not set up.
func WriteOpenDKIMTables(dir, keyFile string, zones []models.ZoneFile, all []string) (bool, error) {
	if _, err := os.Stat(keyFile); err != nil {
		if os.IsNotExist(err) {
			logrus.WithFields(logrus.Fields{"key": keyFile}).
				Warn("DKIM private key not found; skipping OpenDKIM tables")
			return false, nil
		}
		return false, err
	}

	signingTable, keyTable := OpenDKIMTables(keyFile, zones, all)
	changed := false
	for _, f := range []struct{ name, content string }{
		{"SigningTable", signingTable},
		{"KeyTable", keyTable},
	} {
		wrote, err := utils.WriteFileIfChanged(filepath.Join(dir, f.name), f.content, 0644)
		if err != nil {
			return false, err
		}
		changed = changed || wrote
	}
	return changed, nil
}
