package cdp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
)

// maxLoggedFrame bounds how much of a frame debug logs carry. Screenshot
// replies run to megabytes of base64.
const maxLoggedFrame = 512

// truncateFrame cuts in to maxBytes. When it does, it also reports the
// original size and a sha256 of the full frame.
func truncateFrame(in []byte, maxBytes int) ([]byte, bool, int, string) {
	if maxBytes <= 0 || len(in) <= maxBytes {
		return in, false, len(in), ""
	}
	sum := sha256.Sum256(in)
	return in[:maxBytes], true, len(in), hex.EncodeToString(sum[:])
}

func logFrame(msg string, data []byte, args ...any) {
	if !slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	head, truncated, size, sum := truncateFrame(data, maxLoggedFrame)
	args = append(args, "frame", string(head), "bytes", size)
	if truncated {
		args = append(args, "truncated", true, "sha256", sum)
	}
	slog.Debug(msg, args...)
}
