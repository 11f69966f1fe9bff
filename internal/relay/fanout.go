package relay

import (
	"github.com/rs/zerolog/log"
)

// Fanout pushes a payload to every live connection of a class and evicts the
// ones whose transport failed. It never returns an error: per-connection
// failures are absorbed, logged, and surfaced through OnEvict.
type Fanout struct {
	// OnEvict, when set, is called once per connection evicted by a failed
	// send, after the fanout pass completes.
	OnEvict func(rec Record, err error)
}

func NewFanout() *Fanout {
	return &Fanout{}
}

// Send delivers payload to every connection of class in reg and returns the
// number of successful deliveries. Failed connections are collected during
// the pass and evicted after it completes, so the iteration set is never
// mutated mid-pass. A slow or failing consumer cannot block the others.
func (f *Fanout) Send(reg *Registry, class Class, payload []byte) int {
	records := reg.ofClass(class)
	if len(records) == 0 {
		return 0
	}

	type failure struct {
		rec Record
		err error
	}
	var failed []failure
	delivered := 0

	for _, rec := range records {
		if err := rec.Conn.Send(payload); err != nil {
			failed = append(failed, failure{rec: rec, err: err})
			continue
		}
		delivered++
	}

	for _, fl := range failed {
		reg.Unregister(fl.rec.ID)
		fl.rec.Conn.Close()
		log.Warn().Str("conn", fl.rec.ID).Err(fl.err).Msg("consumer evicted after failed send")
		if f.OnEvict != nil {
			f.OnEvict(fl.rec, fl.err)
		}
	}
	return delivered
}
