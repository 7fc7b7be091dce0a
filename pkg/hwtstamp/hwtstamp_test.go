package hwtstamp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestRxFilter(t *testing.T) {
	assert.Equal(t, "all", RxAll.String())
	assert.Equal(t, "none", RxNone.String())
	assert.Equal(t, "RxFilter(5)", RxFilter(5).String())

	assert.Equal(t, int32(unix.HWTSTAMP_FILTER_ALL), RxAll.kernel())
	assert.Equal(t, int32(unix.HWTSTAMP_FILTER_NONE), RxNone.kernel())

	assert.Equal(t, RxNone, fromKernel(unix.HWTSTAMP_FILTER_NONE))
	assert.Equal(t, RxAll, fromKernel(unix.HWTSTAMP_FILTER_PTP_V2_EVENT))
}

func TestConfigureMissingInterface(t *testing.T) {
	err := Configure("nanoping-nope0", true, RxAll)
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "nanoping-nope0", ce.Interface)
	assert.Contains(t, err.Error(), "nanoping-nope0")
}

func TestQueryMissingInterface(t *testing.T) {
	_, _, err := Query("nanoping-nope0")
	var ce *ConfigError
	assert.ErrorAs(t, err, &ce)
}

func TestLookupLoopback(t *testing.T) {
	link, ip, err := Lookup("lo")
	if err != nil {
		t.Skipf("netlink unavailable: %v", err)
	}
	assert.Equal(t, "lo", link.Attrs().Name)
	if ip != nil {
		assert.True(t, ip.IsLoopback())
	}
}
