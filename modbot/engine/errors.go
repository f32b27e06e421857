package engine

import (
	"errors"
	"log/slog"

	"github.com/queuebot/queuebot/platform"
)

// Logs a failed step or action at a severity matching the kind of failure, and reports whether it was transient.
//
// Transient failures (server errors, throttling, timeouts) are expected and logged at info. Permission failures are warnings. Anything else is an error.
func ProcessError(logger *slog.Logger, msg string, err error) bool {
	if err == nil {
		return false
	}
	if platform.IsTransient(err) {
		var perr *platform.Error
		if errors.As(err, &perr) && perr.Ratelimit != nil {
			logger.Info(msg, "err", err, "transient", true, "ratelimitReset", perr.Ratelimit.Reset)
		} else {
			logger.Info(msg, "err", err, "transient", true)
		}
		return true
	}
	if platform.IsPermission(err) {
		logger.Warn(msg, "err", err, "permission", true)
		return false
	}
	logger.Error(msg, "err", err)
	return false
}
