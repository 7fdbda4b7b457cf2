package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/segmentio/kafka-go"
	logger "github.com/sirupsen/logrus"
)

// KafkaSink drains a bus subscription into a Kafka topic. Events are keyed
// by account and symbol so one account's stream stays ordered within a
// partition.
type KafkaSink struct {
	writer      *kafka.Writer
	ch          <-chan *Event
	unsubscribe func()
	wg          sync.WaitGroup
}

// NewKafkaSink subscribes to the bus and builds the topic writer. Call Start
// to begin draining.
func NewKafkaSink(bus *Bus, cfg Config) *KafkaSink {
	ch, unsubscribe := bus.Subscribe()

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
	}

	logger.WithFields(map[string]interface{}{
		"component": "KafkaSink",
		"brokers":   cfg.KafkaBrokers,
		"topic":     cfg.KafkaTopic,
	}).Info("Kafka event sink configured")

	return &KafkaSink{
		writer:      writer,
		ch:          ch,
		unsubscribe: unsubscribe,
	}
}

// Start drains events until the context is canceled or the bus closes.
func (s *KafkaSink) Start(ctx context.Context) {
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-s.ch:
				if !ok {
					return
				}
				s.write(ctx, event)
			}
		}
	}()
}

func (s *KafkaSink) write(ctx context.Context, event *Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		logger.WithError(err).Error("Failed to marshal event for Kafka")
		return
	}

	msg := kafka.Message{
		Key:   []byte(fmt.Sprintf("%d:%s", event.AccountID, event.Symbol)),
		Value: payload,
	}

	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		logger.WithFields(map[string]interface{}{
			"component": "KafkaSink",
			"event":     event.Type,
		}).WithError(err).Error("Failed to write event to Kafka")
	}
}

// Close unsubscribes from the bus, waits for the drain loop, and closes the
// writer.
func (s *KafkaSink) Close() error {
	s.unsubscribe()
	s.wg.Wait()
	return s.writer.Close()
}
