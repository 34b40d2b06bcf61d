package handler

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodePTRNameV4(t *testing.T) {
	ip, ok := decodePTRName("4.3.2.1.in-addr.arpa.")
	require.True(t, ok)
	require.Equal(t, "1.2.3.4", ip.String())
}

func TestDecodePTRNameV4Invalid(t *testing.T) {
	_, ok := decodePTRName("4.3.2.in-addr.arpa.")
	require.False(t, ok)
}

func TestDecodePTRNameV6RoundTrips(t *testing.T) {
	want := net.ParseIP("2001:db8::1")
	arpa := reverseV6Name(want)

	got, ok := decodePTRName(arpa)
	require.True(t, ok)
	require.True(t, want.Equal(got), "got %s want %s", got, want)
}

func TestDecodePTRNameUnknownSuffix(t *testing.T) {
	_, ok := decodePTRName("www.example.com.")
	require.False(t, ok)
}

// reverseV6Name builds the standard nibble-reversed ip6.arpa name for ip,
// mirroring what a real PTR query for that address would look like.
func reverseV6Name(ip net.IP) string {
	ip16 := ip.To16()
	var sb []byte
	for i := len(ip16) - 1; i >= 0; i-- {
		hi := "0123456789abcdef"[ip16[i]>>4]
		lo := "0123456789abcdef"[ip16[i]&0xf]
		sb = append(sb, lo, '.', hi, '.')
	}
	return string(sb) + "ip6.arpa."
}
