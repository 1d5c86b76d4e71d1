package stream

import (
	"fmt"

	"logmux/src/internal/core"
	"logmux/src/internal/filter"
	"logmux/src/internal/source"
)

// Multiplexer funnels records from any number of tailers into a single
// subscription, applying the subscription's predicate on the way in.
// Offer runs on tailer poll goroutines and must never block.
type Multiplexer struct {
	sub  *Subscription
	pred *filter.Predicate
}

func (m *Multiplexer) Offer(rec core.LogRecord) {
	if !m.pred.Matches(rec) {
		return
	}
	m.sub.Enqueue(rec)
}

// Open acquires every named source and wires a new subscription to
// them through a multiplexer. Any unknown or invalid name rejects the
// whole request before anything is acquired, and acquisition itself is
// all-or-nothing: a failure on any source releases the ones already
// acquired. Tailers are only attached once every acquisition has
// succeeded, so a rejected request never delivers a partial record set.
func Open(reg *source.Registry, names []string, pred *filter.Predicate, queueSize int64) (*Subscription, error) {
	names = dedupe(names)

	for _, name := range names {
		if err := reg.Resolve(name); err != nil {
			return nil, err
		}
	}

	sub := newSubscription(names, pred.String(), queueSize)
	mux := &Multiplexer{sub: sub, pred: pred}

	tailers := make([]*source.Tailer, 0, len(names))
	for _, name := range names {
		t, err := reg.Acquire(name)
		if err != nil {
			for i := range tailers {
				reg.Release(names[i])
			}
			return nil, fmt.Errorf("failed to acquire source %q: %w", name, err)
		}
		tailers = append(tailers, t)
	}

	for _, t := range tailers {
		t.Attach(mux)
	}
	sub.stop = func() {
		for i, t := range tailers {
			t.Detach(mux)
			reg.Release(names[i])
		}
	}
	return sub, nil
}

// Repeated names would double-deliver through duplicate attachments
func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}
