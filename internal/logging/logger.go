// Package logging provides the substrate's structured logging setup. The
// logger is always handed to components as an injected sink (a
// *logrus.Entry), never touched as process-wide global state, per
// spec.md §9's "global state" design note.
package logging

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// New builds a JSON-formatted logrus entry at the given level, tagged
// with the component name so multi-process deployments (manager,
// broker, one process per module) can be told apart in aggregated logs.
func New(level, component string) *logrus.Entry {
	logger := logrus.New()

	logLevel, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	logger.SetOutput(os.Stdout)

	return logger.WithField("component", component)
}
