package ping

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPingCacheGetSet(t *testing.T) {
	c := NewCache()
	ip := net.ParseIP("2001:db8::1")

	_, found := c.Get(ip)
	require.False(t, found)

	c.Set(ip, false)
	ok, found := c.Get(ip)
	require.True(t, found)
	require.False(t, ok)
}

func TestPingCacheEvictsLRU(t *testing.T) {
	c := NewCache()
	for i := 0; i < cacheCapacity+10; i++ {
		ip := net.IPv4(10, 0, byte(i>>8), byte(i))
		c.Set(ip, true)
	}
	require.LessOrEqual(t, len(c.items), cacheCapacity)

	// The very first entries should have been evicted.
	_, found := c.Get(net.IPv4(10, 0, 0, 0))
	require.False(t, found)
}

func TestSeqWrapsWithoutZero(t *testing.T) {
	for i := 0; i < 0x10000; i++ {
		s := nextSeq()
		require.NotZero(t, s)
		require.LessOrEqual(t, s, uint16(0xFFFE))
	}
}
