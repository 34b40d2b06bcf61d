package handler

import (
	"net"
	"sync"

	"github.com/miekg/dns"

	"github.com/tonitrnel/pomelo-dns/internal/config"
	"github.com/tonitrnel/pomelo-dns/internal/ping"
)

// filterAAAA implements pipeline stage 5: every AAAA answer is evaluated
// concurrently against the group-then-default resolution rule chain;
// non-AAAA records are kept unconditionally. Answers are rewritten in place,
// preserving their original order, even though evaluation runs in parallel.
func (h *Handler) filterAAAA(resp *dns.Msg) {
	hasAAAAQuestion := false
	for _, q := range resp.Question {
		if q.Qtype == dns.TypeAAAA {
			hasAAAAQuestion = true
			break
		}
	}
	if !hasAAAAQuestion {
		return
	}

	rules := h.snapshot.AAAARulesFor(h.group)
	decisions := make([]bool, len(resp.Answer))

	var wg sync.WaitGroup
	for i, rr := range resp.Answer {
		aaaa, ok := rr.(*dns.AAAA)
		if !ok {
			decisions[i] = true
			continue
		}
		wg.Add(1)
		go func(i int, aaaa *dns.AAAA) {
			defer wg.Done()
			decisions[i] = h.evaluateAAAARules(rules, aaaa.Hdr.Name, aaaa.AAAA)
		}(i, aaaa)
	}
	wg.Wait()

	filtered := resp.Answer[:0]
	for i, rr := range resp.Answer {
		if decisions[i] {
			filtered = append(filtered, rr)
		}
	}
	resp.Answer = filtered
}

// evaluateAAAARules scans rules in order; the first rule whose payload
// matches domain decides the record. A rule whose payload doesn't match is
// skipped. No match allows the record.
func (h *Handler) evaluateAAAARules(rules []config.AAAAResolutionRule, domain string, ip net.IP) bool {
	for _, rule := range rules {
		if !rule.Payload.Match(domain) {
			continue
		}
		switch rule.Directive {
		case config.DirectiveAllow:
			return true
		case config.DirectiveDeny:
			return false
		case config.DirectivePingable:
			return h.evaluatePingable(ip)
		case config.DirectiveCountry:
			return h.evaluateCountry(ip, rule.Country)
		default:
			return false
		}
	}
	return true
}

func (h *Handler) evaluatePingable(ip net.IP) bool {
	if h.deps.PingCache != nil {
		if ok, found := h.deps.PingCache.Get(ip); found {
			return ok
		}
	}
	if h.deps.Metrics != nil {
		h.deps.Metrics.PingProbes.Add(1)
	}
	ok := ping.Ping(ip, pingProbeTimeout)
	if h.deps.PingCache != nil {
		h.deps.PingCache.Set(ip, ok)
	}
	return ok
}

func (h *Handler) evaluateCountry(ip net.IP, want string) bool {
	if h.deps.GeoDB == nil {
		return false
	}
	iso, ok := h.deps.GeoDB.CountryISO(ip)
	if !ok {
		return false
	}
	return iso == want
}
