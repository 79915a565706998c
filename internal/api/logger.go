package api

import (
	"strings"

	"github.com/rs/zerolog"
)

// restyLogger sends resty's own diagnostics to zerolog. The terminal
// belongs to the UI, so nothing may go to stderr.
type restyLogger struct {
	log zerolog.Logger
}

func (l restyLogger) Errorf(format string, v ...any) {
	l.log.Error().Msgf(strings.TrimSpace(format), v...)
}

func (l restyLogger) Warnf(format string, v ...any) {
	l.log.Warn().Msgf(strings.TrimSpace(format), v...)
}

func (l restyLogger) Debugf(format string, v ...any) {
	l.log.Debug().Msgf(strings.TrimSpace(format), v...)
}
