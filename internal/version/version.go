package version

import "strings"

var version = "dev"

// String returns the build version for the current binary.
func String() string {
	return version
}

// Display returns a display-friendly version string. Release versions get a
// "v" prefix; special values like "dev" pass through.
func Display() string {
	v := version
	if v == "" || v == "dev" {
		return v
	}
	if !strings.HasPrefix(v, "v") {
		return "v" + v
	}
	return v
}
