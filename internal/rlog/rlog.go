// Package rlog is the daemon's verbose-logging gate: a package-level
// Printf that is a no-op unless enabled, toggled by an environment
// variable or a -v flag. Every other ambient concern in this tree
// reaches for a pack-vetted third-party library; this one deliberately
// doesn't, because no structured logger
// appears anywhere in this dependency tree), and copying a
// internal/debug idiom verbatim is more faithful here than introducing
// a library the corpus never reaches for.
package rlog

import (
	"log"
	"os"
	"strconv"
)

// EnvVar enables verbose logging when set to a truthy value, mirroring
// a PAT_DEBUG-style env var.
const EnvVar = "HOLYRIG_DEBUG"

const prefix = "[DEBUG] "

var enabled bool

func init() {
	enabled, _ = strconv.ParseBool(os.Getenv(EnvVar))
}

// Enabled reports whether verbose logging is currently on.
func Enabled() bool { return enabled }

// SetEnabled overrides the environment-derived setting, for a -v/-debug
// flag parsed after init runs.
func SetEnabled(v bool) { enabled = v }

// Printf logs a verbose-only message. A no-op when verbose logging is
// disabled.
func Printf(format string, v ...any) {
	if !enabled {
		return
	}
	log.Printf(prefix+format, v...)
}
