package version

import "runtime"

// Build holds the build identifier, injected via -ldflags "-X gw-resize/pkg/version.Build=...". Default "dev".
var Build = "dev"

// String renders the build with the Go toolchain that produced it.
func String(binary string) string {
	return binary + " " + Build + " (" + runtime.Version() + ")"
}
