package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/microshop/orders/internal/config"
	"github.com/microshop/orders/pkg/errorbank"
)

// Header names used on request/reply messages.
const (
	HeaderCorrelationID = "correlation_id"
	HeaderReplyTo       = "reply_to"
)

// NewCaller builds the configured RPC caller. The inproc driver returns a Bus
// with this service's own router mounted on its request topic, which keeps the
// full dispatch path testable without brokers.
func NewCaller(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger, router *Router) (Caller, error) {
	switch cfg.Messaging.Driver {
	case "inproc":
		logger.Info("rpc using in-process bus")
		bus := NewBus()
		bus.Mount(cfg.Messaging.RPC.RequestTopic, router)
		return bus, nil
	case "kafka":
		return newKafkaCaller(lc, cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported messaging driver: %s", cfg.Messaging.Driver)
	}
}

// kafkaCaller performs request/reply over Kafka topics. Requests carry a
// correlation id and the caller's reply topic in headers; a single background
// loop routes replies to the pending request table.
type kafkaCaller struct {
	writer     *kafka.Writer
	reader     *kafka.Reader
	replyTopic string
	timeout    time.Duration
	logger     *zap.Logger

	mu      sync.Mutex
	pending map[string]chan Reply

	cancel context.CancelFunc
	done   chan struct{}
}

func newKafkaCaller(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (Caller, error) {
	kcfg := cfg.Messaging.Kafka

	writer := &kafka.Writer{
		Addr:         kafka.TCP(kcfg.Brokers...),
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		Logger:       kafkaLogger{logger: logger},
		ErrorLogger:  kafkaLogger{logger: logger},
	}

	// Every instance must observe every reply, so the reply reader joins a
	// group unique to this process.
	group := fmt.Sprintf("%s-replies-%s", kcfg.ClientID, uuid.NewString()[:8])
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        kcfg.Brokers,
		GroupID:        group,
		Topic:          cfg.Messaging.RPC.ReplyTopic,
		MinBytes:       kcfg.MinBytes,
		MaxBytes:       kcfg.MaxBytes,
		CommitInterval: kcfg.CommitInterval,
		Dialer: &kafka.Dialer{
			Timeout:  kcfg.ConnectTimeout,
			ClientID: kcfg.ClientID,
		},
	})

	caller := &kafkaCaller{
		writer:     writer,
		reader:     reader,
		replyTopic: cfg.Messaging.RPC.ReplyTopic,
		timeout:    cfg.Messaging.RPC.Timeout,
		logger:     logger,
		pending:    make(map[string]chan Reply),
		done:       make(chan struct{}),
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			loopCtx, cancel := context.WithCancel(context.Background())
			caller.cancel = cancel
			go caller.replyLoop(loopCtx)
			logger.Info("rpc caller started", zap.String("reply_topic", caller.replyTopic))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if caller.cancel != nil {
				caller.cancel()
			}
			select {
			case <-caller.done:
			case <-ctx.Done():
			}
			if err := writer.Close(); err != nil {
				return err
			}
			return reader.Close()
		},
	})

	return caller, nil
}

// Call publishes the command envelope and blocks until the correlated reply
// arrives, the context ends, or the configured timeout elapses.
func (c *kafkaCaller) Call(ctx context.Context, topic, cmd string, payload, result any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return errorbank.Internal("encode request", errorbank.WithCause(err))
	}
	value, err := json.Marshal(Envelope{Cmd: cmd, Data: data})
	if err != nil {
		return errorbank.Internal("encode envelope", errorbank.WithCause(err))
	}

	corrID := uuid.NewString()
	ch := make(chan Reply, 1)
	c.mu.Lock()
	c.pending[corrID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, corrID)
		c.mu.Unlock()
	}()

	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(corrID),
		Value: value,
		Headers: []kafka.Header{
			{Key: HeaderCorrelationID, Value: []byte(corrID)},
			{Key: HeaderReplyTo, Value: []byte(c.replyTopic)},
		},
	}
	if err := c.writer.WriteMessages(ctx, msg); err != nil {
		return errorbank.FailedDependency(fmt.Sprintf("publish %s request", cmd), errorbank.WithCause(err))
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case rep := <-ch:
		return decodeReply(rep, result)
	case <-ctx.Done():
		return errorbank.FailedDependency(fmt.Sprintf("%s call canceled", cmd), errorbank.WithCause(ctx.Err()))
	case <-timer.C:
		return errorbank.FailedDependency(fmt.Sprintf("%s call timed out after %s", cmd, c.timeout))
	}
}

func (c *kafkaCaller) replyLoop(ctx context.Context) {
	defer close(c.done)
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			c.logger.Error("rpc reply fetch failed", zap.Error(err))

			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		corrID := headerValue(msg.Headers, HeaderCorrelationID)
		if corrID == "" {
			corrID = string(msg.Key)
		}

		c.mu.Lock()
		ch, ok := c.pending[corrID]
		c.mu.Unlock()
		if ok {
			var rep Reply
			if err := json.Unmarshal(msg.Value, &rep); err != nil {
				rep = Reply{Error: wireErrorFrom(errorbank.Internal("decode reply frame", errorbank.WithCause(err)))}
			}
			select {
			case ch <- rep:
			default:
			}
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Warn("rpc reply commit failed", zap.Error(err))
		}
	}
}

func headerValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

type kafkaLogger struct {
	logger *zap.Logger
}

func (k kafkaLogger) Printf(msg string, args ...interface{}) {
	k.logger.Sugar().Debugf(msg, args...)
}
