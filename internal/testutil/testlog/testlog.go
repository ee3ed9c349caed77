package testlog

import (
	"testing"

	"github.com/danmuck/memxfer/internal/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Start configures the test log profile and returns a logger scoped to t.
func Start(t *testing.T) zerolog.Logger {
	t.Helper()
	logging.ConfigureTests()
	log.Info().Str("test", t.Name()).Msg("start")
	return log.Logger.With().Str("test", t.Name()).Logger()
}
