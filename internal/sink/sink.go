// Package sink dispatches records from the channel to their named
// destination: a Kafka topic or stdout.
package sink

import (
	"github.com/sirupsen/logrus"

	"github.com/coldtail/spoold/internal/channel"
	"github.com/coldtail/spoold/internal/record"
)

// Sink delivers one record to its destination. Implementations log and
// drop on failure; there is no retry at this layer (see Kafka's comment on
// why that is the sink's own policy, not the proxy's).
type Sink interface {
	Process(r record.Record)
}

// Proxy holds the named set of sinks loaded from configuration and
// dispatches records pulled off the channel to them by name.
type Proxy struct {
	sinks map[string]Sink
	ch    *channel.Channel
	log   logrus.FieldLogger
	done  chan struct{}
}

// NewProxy creates a Proxy over the given sink table and channel.
func NewProxy(sinks map[string]Sink, ch *channel.Channel, log logrus.FieldLogger) *Proxy {
	return &Proxy{
		sinks: sinks,
		ch:    ch,
		log:   log,
		done:  make(chan struct{}),
	}
}

// Run pulls items off the channel until it observes the stop sentinel while
// shuttingDown reports true, dispatching each record to its named sink.
//
// An unknown sink name is a configuration error, not a transient failure:
// the record is logged and dropped, with no retry.
func (p *Proxy) Run(shuttingDown func() bool) {
	defer close(p.done)
	for {
		item := p.ch.Get()
		if item.Stop {
			if shuttingDown() {
				return
			}
			continue
		}

		r := item.Record
		s, ok := p.sinks[r.SinkName]
		if !ok {
			p.log.WithField("sink", r.SinkName).WithField("file", r.Filename).
				Error("record references unknown sink, dropping")
			continue
		}
		s.Process(r)
	}
}

// Done returns a channel closed once Run has returned.
func (p *Proxy) Done() <-chan struct{} {
	return p.done
}
