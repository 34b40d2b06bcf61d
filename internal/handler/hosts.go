package handler

import (
	"net"
	"strconv"
	"strings"

	"github.com/miekg/dns"
)

// hostOverrideTTL is the fixed TTL stamped on any answer synthesized from
// local host overrides.
const hostOverrideTTL = 1

// localHosts implements pipeline stage 2: PTR/A/AAAA overrides from the
// group's (falling back to default) host table. Other query types are
// skipped. Returns the accumulated answers and whether any were produced.
func (h *Handler) localHosts(req *dns.Msg) ([]dns.RR, bool) {
	var answers []dns.RR
	for _, q := range req.Question {
		switch q.Qtype {
		case dns.TypePTR:
			ip, ok := decodePTRName(q.Name)
			if !ok {
				continue
			}
			if fqdn, ok := h.snapshot.LookupPTR(h.group, ip); ok {
				answers = append(answers, &dns.PTR{
					Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypePTR, Class: dns.ClassINET, Ttl: hostOverrideTTL},
					Ptr: fqdn,
				})
			}
		case dns.TypeA:
			for _, ip := range h.snapshot.LookupA(h.group, q.Name) {
				answers = append(answers, &dns.A{
					Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: hostOverrideTTL},
					A:   ip,
				})
			}
		case dns.TypeAAAA:
			for _, ip := range h.snapshot.LookupAAAA(h.group, q.Name) {
				answers = append(answers, &dns.AAAA{
					Hdr:  dns.RR_Header{Name: q.Name, Rrtype: dns.TypeAAAA, Class: dns.ClassINET, Ttl: hostOverrideTTL},
					AAAA: ip,
				})
			}
		default:
			continue
		}
	}
	return answers, len(answers) > 0
}

// cacheLookup implements pipeline stage 3: for each A/AAAA question, consult
// the shared RR cache. Returns the concatenated hits across all questions.
func (h *Handler) cacheLookup(req *dns.Msg) ([]dns.RR, bool) {
	var answers []dns.RR
	for _, q := range req.Question {
		if q.Qtype != dns.TypeA && q.Qtype != dns.TypeAAAA {
			continue
		}
		if rrs, ok := h.deps.Cache.Get(q.Name, q.Qtype); ok {
			answers = append(answers, rrs...)
		}
	}
	return answers, len(answers) > 0
}

// cacheWriteBack implements the §9 resolved design note: forwarded A/AAAA
// answers are inserted into the shared RR cache, keyed by their own owner
// name, so a subsequent query for the same name can be served from stage 3.
func (h *Handler) cacheWriteBack(resp *dns.Msg) {
	if h.deps.Cache == nil || !h.deps.Cache.Enabled() {
		return
	}
	byName := make(map[string][]dns.RR)
	for _, rr := range resp.Answer {
		switch rr.Header().Rrtype {
		case dns.TypeA, dns.TypeAAAA:
			name := rr.Header().Name
			byName[name] = append(byName[name], rr)
		}
	}
	for name, rrs := range byName {
		h.deps.Cache.Put(name, rrs)
	}
}

// decodePTRName parses a query name under .in-addr.arpa. or .ip6.arpa. back
// into the address it encodes.
func decodePTRName(name string) (net.IP, bool) {
	name = strings.TrimSuffix(strings.ToLower(name), ".")
	switch {
	case strings.HasSuffix(name, ".in-addr.arpa"):
		return decodeV4PTR(strings.TrimSuffix(name, ".in-addr.arpa"))
	case strings.HasSuffix(name, ".ip6.arpa"):
		return decodeV6PTR(strings.TrimSuffix(name, ".ip6.arpa"))
	default:
		return nil, false
	}
}

func decodeV4PTR(reversed string) (net.IP, bool) {
	labels := strings.Split(reversed, ".")
	if len(labels) != 4 {
		return nil, false
	}
	octets := make([]byte, 4)
	for i, l := range labels {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 || n > 255 {
			return nil, false
		}
		// labels are in reverse order; octets[3-i] undoes that
		octets[3-i] = byte(n)
	}
	return net.IPv4(octets[0], octets[1], octets[2], octets[3]), true
}

// decodeV6PTR parses the 32 reversed nibbles of an ip6.arpa name into an
// IPv6 address, regrouping nibbles into 4-nibble (16-bit) words.
func decodeV6PTR(reversed string) (net.IP, bool) {
	nibbles := strings.Split(reversed, ".")
	if len(nibbles) != 32 {
		return nil, false
	}
	var hex [32]byte
	for i, n := range nibbles {
		if len(n) != 1 {
			return nil, false
		}
		// nibbles are in reverse order across the whole address
		hex[31-i] = n[0]
	}
	ip := make(net.IP, 16)
	for i := 0; i < 16; i++ {
		hi, ok1 := hexDigit(hex[i*2])
		lo, ok2 := hexDigit(hex[i*2+1])
		if !ok1 || !ok2 {
			return nil, false
		}
		ip[i] = hi<<4 | lo
	}
	return ip, true
}

func hexDigit(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	default:
		return 0, false
	}
}
