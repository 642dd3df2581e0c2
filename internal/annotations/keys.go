// Package annotations defines the annotation keys that kube-janitor reads
// from and writes to cluster objects.
//
// Annotations are the only persisted state of the janitor: there is no
// database, and every decision is re-derived from the object's current
// annotations and timestamps on each run. This is what makes a crashed or
// interrupted run safe to repeat.
package annotations

const (
	// TTL holds a relative time-to-live (e.g. "15m", "2d", "1w", or the
	// literal "forever"). When present it takes precedence over any rule.
	TTL = "janitor/ttl"

	// Expiry holds an absolute deletion time ("2006-01-02T15:04:05Z").
	// Evaluated independently of TTL.
	Expiry = "janitor/expires"

	// Notified marks that the one-time pre-delete warning was already sent.
	Notified = "janitor/notified"

	// NotifiedValue is the literal written to the Notified annotation.
	NotifiedValue = "yes"
)
