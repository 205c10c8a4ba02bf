// Package version carries build metadata injected with -ldflags -X.
package version

import (
	"fmt"
	"io"
	"runtime"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// GoVersion returns the Go runtime version string.
func GoVersion() string { return runtime.Version() }

// Fprint writes the version block for binary to w.
func Fprint(w io.Writer, binary string) {
	fmt.Fprintf(w, "%s %s\n", binary, Version)
	fmt.Fprintf(w, "  commit:     %s\n", GitCommit)
	fmt.Fprintf(w, "  built:      %s\n", BuildTime)
	fmt.Fprintf(w, "  go version: %s\n", GoVersion())
}
