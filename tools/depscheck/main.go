// Command depscheck enforces the package layering: only the session, the
// HTTP surface and the app wiring may import the session package, and
// nothing below the app may import it.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
)

const modulePrefix = "kartsync/server/internal/"

type packageInfo struct {
	ImportPath string
	Imports    []string
}

// upper lists packages and who may import them.
var upper = map[string][]string{
	"netgame": {"net", "app"},
	"net":     {"app"},
	"app":     {},
}

func main() {
	cmd := exec.Command("go", "list", "-json", "./internal/...")
	cmd.Env = os.Environ()
	output, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			os.Stderr.Write(exitErr.Stderr)
		}
		fmt.Fprintf(os.Stderr, "depscheck: failed to list packages: %v\n", err)
		os.Exit(1)
	}

	decoder := json.NewDecoder(bytes.NewReader(output))

	var violations []string
	for {
		var pkg packageInfo
		if err := decoder.Decode(&pkg); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			fmt.Fprintf(os.Stderr, "depscheck: failed to decode package info: %v\n", err)
			os.Exit(1)
		}
		violations = append(violations, check(pkg)...)
	}

	if len(violations) > 0 {
		sort.Strings(violations)
		fmt.Fprintln(os.Stderr, "depscheck: found forbidden imports:")
		for _, violation := range violations {
			fmt.Fprintf(os.Stderr, "  %s\n", violation)
		}
		os.Exit(1)
	}
}

func check(pkg packageInfo) []string {
	from := topLevel(pkg.ImportPath)
	var out []string
	for _, imp := range pkg.Imports {
		to := topLevel(imp)
		allowed, guarded := upper[to]
		if !guarded || to == from {
			continue
		}
		ok := false
		for _, a := range allowed {
			if a == from {
				ok = true
				break
			}
		}
		if !ok {
			out = append(out, fmt.Sprintf("%s -> %s", pkg.ImportPath, imp))
		}
	}
	return out
}

// topLevel returns the first path element below internal/, or "" for
// packages outside it.
func topLevel(path string) string {
	rest, ok := strings.CutPrefix(path, modulePrefix)
	if !ok {
		return ""
	}
	top, _, _ := strings.Cut(rest, "/")
	return top
}
