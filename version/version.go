// Package version holds the build version, overridden at link time with
// -ldflags "-X github.com/lumenml/lumen/version.Version=...".
package version

var Version = "0.0.0"
