package config

import "net"

// hostTable is the per-group set of forward (FQDN -> IPs) and reverse
// (IP -> FQDN) host overrides.
type hostTable struct {
	forwardV4 map[string][]net.IP
	forwardV6 map[string][]net.IP
	reverse   map[string]string // canonical 16-byte IP string -> FQDN
}

func newHostTable() *hostTable {
	return &hostTable{
		forwardV4: make(map[string][]net.IP),
		forwardV6: make(map[string][]net.IP),
		reverse:   make(map[string]string),
	}
}

func (h *hostTable) add(e HostEntry) {
	fqdn := NormalizeFQDN(e.FQDN)
	if v4 := e.IP.To4(); v4 != nil {
		h.forwardV4[fqdn] = append(h.forwardV4[fqdn], v4)
	} else if v6 := e.IP.To16(); v6 != nil {
		h.forwardV6[fqdn] = append(h.forwardV6[fqdn], v6)
	}
	h.reverse[to16(e.IP).String()] = fqdn
}

// Snapshot is an immutable, fully-resolved view of the configuration in
// force. Published atomically by Accessor; handlers that hold a reference
// keep using it until they're done, even across a Reload.
type Snapshot struct {
	Groups   map[string]Group
	Servers  ServerPool
	Hosts    map[string]*hostTable
	AAAARules map[string][]AAAAResolutionRule
	Metadata Metadata
	Log      LogConfig
}

// GroupForIP returns the name of a non-default group whose ranges contain
// ip, or DefaultGroup if none match. Groups are scanned in map order, so when
// the ranges of several groups overlap, which of them is returned is not
// defined.
func (s *Snapshot) GroupForIP(ip net.IP) string {
	for name, g := range s.Groups {
		if name == DefaultGroup {
			continue
		}
		if g.Match(ip) {
			return name
		}
	}
	return DefaultGroup
}

// LookupA returns the IPv4 host overrides for fqdn, checking group then
// falling back to default.
func (s *Snapshot) LookupA(group, fqdn string) []net.IP {
	fqdn = NormalizeFQDN(fqdn)
	if t, ok := s.Hosts[group]; ok {
		if ips := t.forwardV4[fqdn]; len(ips) > 0 {
			return ips
		}
	}
	if group != DefaultGroup {
		if t, ok := s.Hosts[DefaultGroup]; ok {
			return t.forwardV4[fqdn]
		}
	}
	return nil
}

// LookupAAAA returns the IPv6 host overrides for fqdn, checking group then
// falling back to default.
func (s *Snapshot) LookupAAAA(group, fqdn string) []net.IP {
	fqdn = NormalizeFQDN(fqdn)
	if t, ok := s.Hosts[group]; ok {
		if ips := t.forwardV6[fqdn]; len(ips) > 0 {
			return ips
		}
	}
	if group != DefaultGroup {
		if t, ok := s.Hosts[DefaultGroup]; ok {
			return t.forwardV6[fqdn]
		}
	}
	return nil
}

// LookupPTR returns the hostname override for ip, checking group then
// falling back to default.
func (s *Snapshot) LookupPTR(group string, ip net.IP) (string, bool) {
	key := to16(ip).String()
	if t, ok := s.Hosts[group]; ok {
		if fqdn, ok := t.reverse[key]; ok {
			return fqdn, true
		}
	}
	if group != DefaultGroup {
		if t, ok := s.Hosts[DefaultGroup]; ok {
			if fqdn, ok := t.reverse[key]; ok {
				return fqdn, true
			}
		}
	}
	return "", false
}

// AAAARulesFor returns the ordered rule list for a group followed by the
// default group's rule list; group-specific rules are evaluated first,
// default rules act as the fallback chain.
func (s *Snapshot) AAAARulesFor(group string) []AAAAResolutionRule {
	var rules []AAAAResolutionRule
	rules = append(rules, s.AAAARules[group]...)
	if group != DefaultGroup {
		rules = append(rules, s.AAAARules[DefaultGroup]...)
	}
	return rules
}
