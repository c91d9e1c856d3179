// Package logging configures the process-wide logrus logger used across
// the coordinator: JSON output, level from configuration, and the
// structured field names the approval engine's state-machine transitions
// attach to every entry.
package logging

import (
	"github.com/sirupsen/logrus"
)

// Field names attached at each state-machine transition, kept as
// constants so callers spell them consistently.
const (
	FieldChainID = "chain_id"
	FieldTxHash  = "tx_hash"
	FieldState   = "state"
)

// New builds a logrus.Logger with JSON formatting and the given level
// name (case-insensitive; falls back to Info on a value
// logrus.ParseLevel rejects).
func New(levelName string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	level, err := logrus.ParseLevel(levelName)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}
