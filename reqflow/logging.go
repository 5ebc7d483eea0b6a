package reqflow

import (
	"os"

	"github.com/rs/zerolog"
)

// defaultLogger is the package-level fallback used when a Client is built
// without WithLogger.
var defaultLogger = zerolog.New(os.Stdout).With().Timestamp().Logger().Level(zerolog.InfoLevel)
