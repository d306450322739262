package netutil

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
)

// Listen binds preferred and returns the listener. When preferred is busy and
// autoFallback is set, each candidate is tried in order instead. The returned
// listener is already bound, so the address cannot be taken between selection
// and serving.
func Listen(preferred string, candidates []string, autoFallback bool) (net.Listener, error) {
	if preferred != "" {
		ln, err := net.Listen("tcp", preferred)
		if err == nil {
			return ln, nil
		}
		if !autoFallback {
			return nil, fmt.Errorf("preferred bind address in use: %s: %w", preferred, err)
		}
		slog.Warn("preferred bind address unavailable, trying candidates", "addr", preferred, "error", err)
	}

	for _, addr := range candidates {
		if addr == "" || addr == preferred {
			continue
		}
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			slog.Debug("bind candidate unavailable", "addr", addr, "error", err)
			continue
		}
		return ln, nil
	}

	return nil, errors.New("no available api bind addresses")
}
