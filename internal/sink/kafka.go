package sink

import (
	"time"

	"github.com/Shopify/sarama"
	"github.com/sirupsen/logrus"

	"github.com/coldtail/spoold/internal/record"
)

const kafkaAckTimeout = 10 * time.Second

// Kafka publishes each record to a Kafka topic using the same wire format as
// Stdout ("filename: payload"), no key, default partitioning.
//
// A producer is built fresh and torn down again on every send rather than
// kept open across calls; see DESIGN.md for the tradeoff against a
// longer-lived, batching producer.
type Kafka struct {
	servers []string
	topic   string
	config  *sarama.Config
	log     logrus.FieldLogger
}

// NewKafka creates a Kafka sink targeting topic on the given bootstrap
// servers.
func NewKafka(servers []string, topic string, log logrus.FieldLogger) *Kafka {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Timeout = kafkaAckTimeout
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	return &Kafka{
		servers: servers,
		topic:   topic,
		config:  config,
		log:     log,
	}
}

// Process sends r to the configured topic and waits up to 10s for the
// broker's acknowledgement. On failure the record is logged and dropped —
// this layer does not retry; a broker outage is treated as transient,
// recovered from by continuing with the next record rather than blocking
// the tailing engine.
func (k *Kafka) Process(r record.Record) {
	producer, err := sarama.NewSyncProducer(k.servers, k.config)
	if err != nil {
		k.log.WithError(err).WithField("file", r.Filename).Error("kafka sink: failed to connect")
		return
	}
	defer producer.Close()

	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Value: sarama.ByteEncoder(r.Formatted()),
	}

	partition, offset, err := producer.SendMessage(msg)
	if err != nil {
		k.log.WithError(err).WithField("file", r.Filename).WithField("topic", k.topic).
			Error("kafka sink: send failed, dropping record")
		return
	}

	k.log.WithFields(logrus.Fields{
		"topic":     k.topic,
		"partition": partition,
		"offset":    offset,
	}).Debug("kafka sink: record delivered")
}
