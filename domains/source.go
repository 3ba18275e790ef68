package domains

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// OpenDatabase opens the mail user database. dbType is "sqlite" or
// "postgres".
func OpenDatabase(dbType, dsn string) (*sql.DB, error) {
	var (
		db  *sql.DB
		err error
	)
	switch dbType {
	case "postgres":
		db, err = sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres: %w", err)
		}
	case "sqlite":
		db, err = sql.Open("sqlite3", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown DB_TYPE: %s", dbType)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// MailDomainSource derives the managed domains from the mail users and
// aliases tables, always adding the primary hostname.
type MailDomainSource struct {
	DB              *sql.DB
	PrimaryHostname string
}

// ListManagedDomains returns the sorted, de-duplicated domain set.
func (s *MailDomainSource) ListManagedDomains(ctx context.Context) ([]string, error) {
	set := map[string]struct{}{
		Normalize(s.PrimaryHostname): {},
	}

	for _, query := range []string{
		"SELECT email FROM users",
		"SELECT source FROM aliases",
	} {
		if err := s.collect(ctx, query, set); err != nil {
			return nil, err
		}
	}

	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MailDomainSource) collect(ctx context.Context, query string, set map[string]struct{}) error {
	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("error querying mail domains: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var address string
		if err := rows.Scan(&address); err != nil {
			return fmt.Errorf("error reading mail address: %w", err)
		}
		at := strings.LastIndex(address, "@")
		if at < 0 {
			continue
		}
		domain := Normalize(address[at+1:])
		if !Valid(domain) {
			logrus.WithFields(logrus.Fields{"address": address}).
				Warn("Skipping mail address with an invalid domain")
			continue
		}
		set[domain] = struct{}{}
	}
	return rows.Err()
}
