// Package platform maps the Go runtime's OS identifiers to the names build scripts
// traditionally compare against ("Windows", "Darwin", "Linux", ...).
package platform

import (
	"runtime"
	"strings"
)

// Name identifies an operating system the way uname-style tooling reports it.
type Name string

const (
	Windows Name = "Windows"
	Darwin  Name = "Darwin"
	Linux   Name = "Linux"
	FreeBSD Name = "FreeBSD"
	OpenBSD Name = "OpenBSD"
	NetBSD  Name = "NetBSD"
)

var goosNames = map[string]Name{
	"windows": Windows,
	"darwin":  Darwin,
	"linux":   Linux,
	"freebsd": FreeBSD,
	"openbsd": OpenBSD,
	"netbsd":  NetBSD,
}

// Detect returns the name of the host operating system.
func Detect() Name {
	return FromGOOS(runtime.GOOS)
}

// FromGOOS converts a GOOS value. Unknown values are capitalised.
func FromGOOS(goos string) Name {
	if name, ok := goosNames[goos]; ok {
		return name
	}

	if goos == "" {
		return ""
	}

	return Name(strings.ToUpper(goos[:1]) + goos[1:])
}

// Key returns the lowercase identifier used for condition variables (i.e. "windows").
func (n Name) Key() string {
	for goos, name := range goosNames {
		if name == n {
			return goos
		}
	}

	return strings.ToLower(string(n))
}

func (n Name) String() string {
	return string(n)
}
