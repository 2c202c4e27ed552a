//nolint:gochecknoglobals // allow global variables
package config

import "fmt"

// Build metadata, set with -ldflags "-X" at build time.
var (
	Version        = "0.0.0"
	CommitHash     = ""
	BuildTimestamp = ""
	Branch         = ""
)

// VersionString describes the running build. Development builds carry no
// commit hash. The main branch is left out since release binaries are built
// from it.
func VersionString() string {
	if CommitHash == "" {
		return "soroban-sandbox dev"
	}
	if Branch == "" || Branch == "main" {
		return fmt.Sprintf("soroban-sandbox %s (%s)", Version, CommitHash)
	}
	return fmt.Sprintf("soroban-sandbox %s (%s) %s", Version, CommitHash, Branch)
}
