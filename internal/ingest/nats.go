package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"fleetalert/internal/config"
	"fleetalert/internal/domain"

	"github.com/nats-io/nats.go"
)

// AlertSink accepts decoded inbound alert requests.
// Params: context and create request.
// Returns: created alert or lifecycle error.
type AlertSink interface {
	CreateAlert(ctx context.Context, req domain.CreateAlertRequest) (domain.Alert, error)
}

// NATSSubscriber consumes alert events via a JetStream queue consumer and
// forwards them to the lifecycle sink.
// Params: NATS connection, JetStream queue subscription, and alert sink.
// Returns: NATS ingest lifecycle handle.
type NATSSubscriber struct {
	nc     *nats.Conn
	sub    *nats.Subscription
	logger *slog.Logger
}

// NewNATSSubscriber creates a JetStream queue consumer for alert ingestion.
// Malformed payloads are acked and dropped; sink failures trigger delayed
// redelivery.
// Params: ingest NATS config, sink, and logger.
// Returns: started subscriber or initialization error.
func NewNATSSubscriber(cfg config.NATSIngestConfig, sink AlertSink, logger *slog.Logger) (*NATSSubscriber, error) {
	nc, err := nats.Connect(strings.Join(cfg.URL, ","))
	if err != nil {
		return nil, fmt.Errorf("connect nats ingest: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init for ingest: %w", err)
	}

	subscriber := &NATSSubscriber{
		nc:     nc,
		logger: logger,
	}
	ackWait := time.Duration(cfg.AckWaitSec) * time.Second
	nackDelay := time.Duration(cfg.NackDelayMS) * time.Millisecond
	subOpts := []nats.SubOpt{
		nats.BindStream(cfg.Stream),
		nats.Durable(cfg.ConsumerName),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.AckWait(ackWait),
		nats.MaxDeliver(cfg.MaxDeliver),
		nats.MaxAckPending(cfg.MaxAckPending),
		nats.DeliverAll(),
	}
	sub, err := js.QueueSubscribe(cfg.Subject, cfg.DeliverGroup, func(message *nats.Msg) {
		request, decodeErr := domain.DecodeCreateAlertRequest(message.Data)
		if decodeErr == nil {
			decodeErr = request.Validate()
		}
		if decodeErr != nil {
			if logger != nil {
				logger.Warn("nats ingest decode failed", "subject", message.Subject, "error", decodeErr.Error())
			}
			subscriber.ackMessage(message, "decode")
			return
		}
		if _, createErr := sink.CreateAlert(context.Background(), request); createErr != nil {
			if logger != nil {
				logger.Error("nats ingest create failed", "subject", message.Subject, "error", createErr.Error())
			}
			subscriber.nackMessage(message, nackDelay)
			return
		}
		subscriber.ackMessage(message, "processed")
	}, subOpts...)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("queue subscribe %q/%q: %w", cfg.Subject, cfg.DeliverGroup, err)
	}
	subscriber.sub = sub
	return subscriber, nil
}

// ackMessage acknowledges a processed/invalid message and logs ack failures.
// Params: JetStream message and short reason.
// Returns: none.
func (s *NATSSubscriber) ackMessage(message *nats.Msg, reason string) {
	if message == nil {
		return
	}
	if err := message.Ack(); err != nil && s.logger != nil {
		s.logger.Warn("nats ingest ack failed", "subject", message.Subject, "reason", reason, "error", err.Error())
	}
}

// nackMessage asks JetStream to redeliver a message and logs nack failures.
// Params: JetStream message and optional delay.
// Returns: none.
func (s *NATSSubscriber) nackMessage(message *nats.Msg, delay time.Duration) {
	if message == nil {
		return
	}
	var err error
	if delay > 0 {
		err = message.NakWithDelay(delay)
	} else {
		err = message.Nak()
	}
	if err != nil && s.logger != nil {
		s.logger.Warn("nats ingest nack failed", "subject", message.Subject, "error", err.Error())
	}
}

// Close stops the NATS subscription and closes the connection.
// Params: none.
// Returns: close error from subscription drain.
func (s *NATSSubscriber) Close() error {
	if s.sub != nil {
		if err := s.sub.Drain(); err != nil {
			s.nc.Close()
			return err
		}
	}
	s.nc.Close()
	return nil
}
