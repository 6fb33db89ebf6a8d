package metrics

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseOSRelease(t *testing.T) {
	assert.Equal(t, "Debian GNU/Linux 12 (bookworm)", parseOSRelease(`PRETTY_NAME="Debian GNU/Linux 12 (bookworm)"
NAME="Debian GNU/Linux"
VERSION="12 (bookworm)"`))
	assert.Equal(t, "Alpine Linux 3.19", parseOSRelease("NAME=\"Alpine Linux\"\nVERSION=3.19\n"))
	assert.Equal(t, "linux", parseOSRelease("garbage"))
}

func TestHost(t *testing.T) {
	h := Host()
	assert.Equal(t, runtime.GOOS, h.OS)
	assert.Equal(t, runtime.NumCPU(), h.CPUs)
	assert.NotEmpty(t, h.Hostname)
	assert.Equal(t, h, Host())
}
