package modelgateway

import (
	"errors"
	"strings"

	"constructionrag/internal/pipelineerrors"
)

// transientMarkers are substrings that show up in provider SDK error
// messages (OpenAI, Anthropic, Google all format "status %d"-style errors
// the same way the teacher's client.go does) for conditions worth retrying:
// rate limiting, timeouts, and upstream 5xx.
var transientMarkers = []string{
	"429",
	"rate limit",
	"too many requests",
	"timeout",
	"deadline exceeded",
	"connection reset",
	"econnreset",
	"temporarily unavailable",
	"503",
	"502",
	"500",
	"overloaded",
}

// WrapProviderError classifies a raw provider SDK error as transient
// (worth a retry) or a hard ModelError, and wraps it with pipelineerrors so
// the Gateway's retry loop and upstream callers can branch on Kind. Provider
// adapter packages call this at their SDK boundary.
func WrapProviderError(step string, err error) error {
	if err == nil {
		return nil
	}
	if pipelineerrors.IsTransient(err) {
		return err
	}
	if isTransientMessage(err) {
		return pipelineerrors.Transient(step, err)
	}
	return pipelineerrors.Model(step, err)
}

func isTransientMessage(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}
