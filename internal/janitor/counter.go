package janitor

import (
	"fmt"
	"sort"
	"strings"
)

// Counter accumulates per-label counts for one clean-up run. Labels follow
// the scheme resources-processed, <endpoint>-with-ttl, <endpoint>-with-expiry,
// <endpoint>-deleted and rule-<id>-matches.
type Counter map[string]int

// Update merges other into c by summation.
func (c Counter) Update(other Counter) {
	for label, n := range other {
		c[label] += n
	}
}

// Summary renders "label=count" pairs sorted by label.
func (c Counter) Summary() string {
	labels := make([]string, 0, len(c))
	for label := range c {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	parts := make([]string, 0, len(labels))
	for _, label := range labels {
		parts = append(parts, fmt.Sprintf("%s=%d", label, c[label]))
	}
	return strings.Join(parts, ", ")
}
