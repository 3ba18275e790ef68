package utils

import (
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
)

// InitializeSentry sets up Sentry when a DSN is configured. Reporting is
// optional, so a bad DSN only logs.
func InitializeSentry(dsn string) bool {
	if dsn == "" {
		logrus.Debug("SENTRY_DSN is empty; Sentry not initialized")
		return false
	}
	if err := sentry.Init(sentry.ClientOptions{Dsn: dsn}); err != nil {
		logrus.WithFields(logrus.Fields{"error": err}).Error("sentry.Init failed")
		return false
	}
	return true
}

// CaptureError reports an error to Sentry. It is a no-op for nil errors and
// when Sentry was never initialized.
func CaptureError(err error) {
	if err == nil || sentry.CurrentHub().Client() == nil {
		return
	}
	sentry.CaptureException(err)
	sentry.Flush(2 * time.Second)
}
