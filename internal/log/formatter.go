// Package log holds the logrus formatting shared by list_sync binaries.
package log

import (
	"github.com/sirupsen/logrus"
)

// TimestampFormat is used for every log line
const TimestampFormat = "2006-01-02 15:04:05"

// NewFormatter returns a text formatter with full timestamps and sorted fields
// so that run_id, source and worker line up across entries
func NewFormatter(noColors bool) logrus.Formatter {
	return &logrus.TextFormatter{
		DisableColors:    noColors,
		FullTimestamp:    true,
		TimestampFormat:  TimestampFormat,
		QuoteEmptyFields: true,
		PadLevelText:     true,
	}
}
