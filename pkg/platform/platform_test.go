package platform

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromGOOS(t *testing.T) {
	tests := []struct {
		goos string
		want Name
	}{
		{"windows", Windows},
		{"darwin", Darwin},
		{"linux", Linux},
		{"freebsd", FreeBSD},
		{"plan9", Name("Plan9")},
		{"", Name("")},
	}

	for _, tt := range tests {
		t.Run(tt.goos, func(t *testing.T) {
			assert.Equal(t, tt.want, FromGOOS(tt.goos))
		})
	}
}

func TestDetectMatchesRuntime(t *testing.T) {
	assert.Equal(t, FromGOOS(runtime.GOOS), Detect())
}

func TestKeyRoundTrip(t *testing.T) {
	assert.Equal(t, "windows", Windows.Key())
	assert.Equal(t, "darwin", Darwin.Key())
	assert.Equal(t, "plan9", Name("Plan9").Key())
}
