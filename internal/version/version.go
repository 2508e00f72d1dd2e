// Package version carries the build version stamped into release
// binaries via -ldflags.
package version

var Version = "dev"
