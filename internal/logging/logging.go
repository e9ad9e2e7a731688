// Package logging wires a single process-wide go-kit logger, used at every
// call site as level.Error(logging.Logger).Log("msg", ..., "err", err).
package logging

import (
	"fmt"
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Logger is the process-wide structured logger. Init replaces it; until
// Init is called it defaults to a logfmt logger at info level so that
// packages used from tests never see a nil logger.
var Logger = newLogger("info")

// Init (re)configures Logger at the given level ("debug", "info", "warn",
// "error"). Called once from each binary's main after config parse.
func Init(levelStr string) error {
	lg := newLogger(levelStr)
	if lg == nil {
		return fmt.Errorf("invalid log level %q", levelStr)
	}
	Logger = lg
	return nil
}

func newLogger(levelStr string) log.Logger {
	base := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	base = log.With(base, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)

	var opt level.Option
	switch levelStr {
	case "debug":
		opt = level.AllowDebug()
	case "info", "":
		opt = level.AllowInfo()
	case "warn":
		opt = level.AllowWarn()
	case "error":
		opt = level.AllowError()
	default:
		return nil
	}
	return level.NewFilter(base, opt)
}
