package cache

import (
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

func aRecord(name string, ttl uint32) dns.RR {
	return &dns.A{
		Hdr: dns.RR_Header{Name: name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: ttl},
		A:   []byte{93, 184, 216, 34},
	}
}

func TestPutThenGet(t *testing.T) {
	c := New("t1", 10)
	c.Put("example.com.", []dns.RR{aRecord("example.com.", 300)})

	rrs, ok := c.Get("example.com.", dns.TypeA)
	require.True(t, ok)
	require.Len(t, rrs, 1)
	require.Equal(t, uint32(300), rrs[0].Header().Ttl)
}

func TestGetNeverReturnsExpired(t *testing.T) {
	c := New("t2", 10)
	fake := time.Now()
	c.now = func() time.Time { return fake }
	c.Put("example.com.", []dns.RR{aRecord("example.com.", 1)})

	fake = fake.Add(2 * time.Second)
	_, ok := c.Get("example.com.", dns.TypeA)
	require.False(t, ok)
	require.Equal(t, 0, c.Len())
}

func TestTypeFilter(t *testing.T) {
	c := New("t3", 10)
	c.Put("example.com.", []dns.RR{aRecord("example.com.", 300)})
	_, ok := c.Get("example.com.", dns.TypeAAAA)
	require.False(t, ok)
}

func TestDisabledCacheIsNoop(t *testing.T) {
	c := New("t4", 0)
	require.False(t, c.Enabled())
	c.Put("example.com.", []dns.RR{aRecord("example.com.", 300)})
	_, ok := c.Get("example.com.", dns.TypeA)
	require.False(t, ok)
}

func TestLRUEvictsOldestOnCapacity(t *testing.T) {
	c := New("t5", 2)
	c.Put("a.com.", []dns.RR{aRecord("a.com.", 300)})
	c.Put("b.com.", []dns.RR{aRecord("b.com.", 300)})
	c.Put("c.com.", []dns.RR{aRecord("c.com.", 300)})

	require.Equal(t, 2, c.Len())
	_, ok := c.Get("a.com.", dns.TypeA)
	require.False(t, ok, "least recently used key should have been evicted")
	_, ok = c.Get("c.com.", dns.TypeA)
	require.True(t, ok)
}
