package reflector

import (
	"fmt"
	"strings"

	"github.com/miekg/dns"
)

// trimDot removes leading and trailing dots from a DNS name, normalizing
// wire names against the configured filter fragments.
func trimDot(s string) string {
	return strings.Trim(s, ".")
}

// NameFilter matches relay payloads against a set of record-name
// fragments. A payload matches when any question or resource record name
// contains any configured fragment; an empty filter matches everything.
//
// Fragments are normalized once at construction: lower-cased and
// stripped of surrounding dots.
type NameFilter struct {
	fragments []string
}

// NewNameFilter builds a filter from name fragments, e.g.
// "_googlecast._tcp" or a plain hostname. Empty fragments are dropped.
func NewNameFilter(names ...string) *NameFilter {
	f := &NameFilter{}
	for _, n := range names {
		n = strings.ToLower(trimDot(n))
		if n != "" {
			f.fragments = append(f.fragments, n)
		}
	}
	return f
}

// Empty reports whether the filter has no fragments and therefore
// matches every payload.
func (f *NameFilter) Empty() bool {
	return f == nil || len(f.fragments) == 0
}

// Match reports whether the payload should be relayed. Payloads that do
// not parse as DNS messages pass unfiltered: the relay is byte-level and
// must not drop traffic it cannot interpret.
func (f *NameFilter) Match(payload []byte) bool {
	if f.Empty() {
		return true
	}

	var msg dns.Msg
	if err := msg.Unpack(payload); err != nil {
		return true
	}

	for _, q := range msg.Question {
		if f.matchName(q.Name) {
			return true
		}
	}
	for _, section := range [][]dns.RR{msg.Answer, msg.Ns, msg.Extra} {
		for _, rr := range section {
			if f.matchName(rr.Header().Name) {
				return true
			}
		}
	}
	return false
}

func (f *NameFilter) matchName(name string) bool {
	name = strings.ToLower(trimDot(name))
	for _, frag := range f.fragments {
		if strings.Contains(name, frag) {
			return true
		}
	}
	return false
}

// messageSummary renders a compact one-line description of a DNS payload
// for debug logging.
func messageSummary(payload []byte) string {
	var msg dns.Msg
	if err := msg.Unpack(payload); err != nil {
		return fmt.Sprintf("opaque payload (%d bytes)", len(payload))
	}

	if !msg.Response {
		var qs []string
		for _, q := range msg.Question {
			qs = append(qs, fmt.Sprintf("%s (%s)", q.Name, dns.TypeToString[q.Qtype]))
		}
		return summarize("questions", qs)
	}

	var rs []string
	records := append(append([]dns.RR{}, msg.Answer...), msg.Extra...)
	for _, rr := range records {
		rs = append(rs, fmt.Sprintf("%s (%s)", rr.Header().Name, dns.TypeToString[rr.Header().Rrtype]))
	}
	return summarize("records", rs)
}

func summarize(kind string, items []string) string {
	if len(items) == 0 {
		return "no " + kind
	}
	if len(items) > 3 {
		return fmt.Sprintf("%s: [%s ... +%d more]", kind, strings.Join(items[:3], ", "), len(items)-3)
	}
	return fmt.Sprintf("%s: [%s]", kind, strings.Join(items, ", "))
}
