package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/microshop/orders/internal/config"
	rpcbus "github.com/microshop/orders/internal/rpc"
)

// Module exposes the inbound command server lifecycle to Fx.
var Module = fx.Module("rpc_server",
	fx.Invoke(Run),
)

// Engine consumes command envelopes from the service request topic and writes
// correlated replies back to each caller's reply topic.
type Engine struct {
	cfg    config.Config
	router *rpcbus.Router
	logger *zap.Logger

	reader *kafka.Reader
	writer *kafka.Writer
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Run wires the engine into the application lifecycle. With the inproc driver
// the caller dispatches directly on the router, so no consumer is started.
func Run(lc fx.Lifecycle, cfg config.Config, router *rpcbus.Router, logger *zap.Logger) {
	if cfg.Messaging.Driver != "kafka" {
		logger.Info("rpc server running in-process; kafka consumer disabled")
		return
	}

	engine := &Engine{cfg: cfg, router: router, logger: logger}

	lc.Append(fx.Hook{
		OnStart: engine.start,
		OnStop:  engine.stop,
	})
}

func (e *Engine) start(ctx context.Context) error {
	kcfg := e.cfg.Messaging.Kafka
	rpcCfg := e.cfg.Messaging.RPC

	e.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:        kcfg.Brokers,
		GroupID:        e.cfg.Messaging.ConsumerGroup,
		Topic:          rpcCfg.RequestTopic,
		MinBytes:       kcfg.MinBytes,
		MaxBytes:       kcfg.MaxBytes,
		CommitInterval: kcfg.CommitInterval,
		Dialer: &kafka.Dialer{
			Timeout:  kcfg.ConnectTimeout,
			ClientID: kcfg.ClientID,
		},
	})
	e.writer = &kafka.Writer{
		Addr:         kafka.TCP(kcfg.Brokers...),
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	workers := rpcCfg.Workers
	for i := 0; i < workers; i++ {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.consumeLoop(runCtx)
		}()
	}

	e.logger.Info("rpc server started",
		zap.String("topic", rpcCfg.RequestTopic),
		zap.Int("workers", workers),
		zap.Strings("commands", e.router.Commands()),
	)
	return nil
}

func (e *Engine) stop(ctx context.Context) error {
	if e.cancel == nil {
		return nil
	}
	e.cancel()
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
	}

	if err := e.writer.Close(); err != nil {
		return err
	}
	return e.reader.Close()
}

func (e *Engine) consumeLoop(ctx context.Context) {
	for {
		msg, err := e.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			e.logger.Error("rpc request fetch failed", zap.Error(err))

			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		e.handle(ctx, msg)

		if err := e.reader.CommitMessages(ctx, msg); err != nil {
			e.logger.Warn("rpc request commit failed", zap.Error(err))
		}
	}
}

// handle dispatches one request envelope. Commands are processed at most once
// from the dispatcher's point of view: malformed frames and missing reply
// addresses are logged and dropped rather than retried.
func (e *Engine) handle(ctx context.Context, msg kafka.Message) {
	replyTo := headerValue(msg.Headers, rpcbus.HeaderReplyTo)
	corrID := headerValue(msg.Headers, rpcbus.HeaderCorrelationID)
	if corrID == "" {
		corrID = string(msg.Key)
	}

	var env rpcbus.Envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		e.logger.Error("rpc request frame malformed", zap.Error(err), zap.Int64("offset", msg.Offset))
		return
	}

	rep := e.router.Dispatch(ctx, env)
	if rep.Error != nil {
		e.logger.Warn("command failed",
			zap.String("cmd", env.Cmd),
			zap.String("kind", rep.Error.Kind),
			zap.String("message", rep.Error.Message),
		)
	}

	if replyTo == "" {
		e.logger.Warn("rpc request without reply_to header", zap.String("cmd", env.Cmd))
		return
	}

	value, err := json.Marshal(rep)
	if err != nil {
		e.logger.Error("rpc reply encode failed", zap.Error(err))
		return
	}
	out := kafka.Message{
		Topic: replyTo,
		Key:   []byte(corrID),
		Value: value,
		Headers: []kafka.Header{
			{Key: rpcbus.HeaderCorrelationID, Value: []byte(corrID)},
		},
	}
	if err := e.writer.WriteMessages(ctx, out); err != nil {
		e.logger.Error("rpc reply publish failed", zap.Error(err), zap.String("cmd", env.Cmd))
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
