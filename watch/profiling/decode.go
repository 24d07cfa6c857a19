package profiling

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/pprof/profile"

	"github.com/Emyrk/callgraph/callgraph"
)

const (
	FormatPprof  = "pprof"
	FormatFolded = "folded"
)

// FormatFromPath guesses the profile format from the file extension.
func FormatFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".folded", ".collapsed", ".txt":
		return FormatFolded
	default:
		return FormatPprof
	}
}

// Decode reads a profile in the given format.
func Decode(r io.Reader, format string) (*profile.Profile, error) {
	switch format {
	case FormatFolded:
		return New().ConvertFolded(r)
	case FormatPprof:
		return callgraph.ParseProfile(r)
	default:
		return nil, fmt.Errorf("unknown profile format %q", format)
	}
}
