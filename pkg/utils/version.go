// Package utils provides bespoke, one off utils that don't make sense to be
// their own package
package utils

// Build metadata, set with -ldflags at release time.
var (
	Version   = "dev"
	Sha       = "HEAD"
	Buildtime = "dev"
)

// VersionString renders the build metadata on one line.
func VersionString() string {
	return "sseview " + Version + " (" + Sha + ", built " + Buildtime + ")"
}
