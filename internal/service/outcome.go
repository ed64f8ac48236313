package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/papertrader/internal/domain"
	"github.com/alanyoungcy/papertrader/internal/metrics"
	"github.com/alanyoungcy/papertrader/internal/notify"
)

// Bus names shared with the dashboard and downstream consumers.
const (
	OutcomeStream   = "trade_outcomes"
	OutcomeChannel  = "outcomes"
	PositionChannel = "positions"
)

// sinkTimeout bounds each outcome sink independently of the caller.
const sinkTimeout = 10 * time.Second

// OutcomeKey is the object path of an archived outcome.
func OutcomeKey(o domain.TradeOutcome) string {
	t := o.ClosedAt.UTC()
	return fmt.Sprintf("outcomes/%04d/%02d/%02d/%s-%s.json", t.Year(), t.Month(), t.Day(), o.Instrument, o.TradeID)
}

// OutcomePublisher fans a closed trade out to the durable stream, the
// pub/sub channel, the journal, the object archive and the notifier. Every
// sink except the bus is optional. Publish returns at once; sinks run in the
// background and their failures are only logged.
type OutcomePublisher struct {
	bus      domain.SignalBus
	journal  domain.OutcomeStore
	archive  domain.BlobWriter
	notifier EventNotifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// NewOutcomePublisher creates an OutcomePublisher. journal, archive and
// notifier may be nil.
func NewOutcomePublisher(bus domain.SignalBus, journal domain.OutcomeStore, archive domain.BlobWriter, notifier EventNotifier, m *metrics.Metrics, logger *slog.Logger) *OutcomePublisher {
	return &OutcomePublisher{
		bus:      bus,
		journal:  journal,
		archive:  archive,
		notifier: notifier,
		metrics:  m,
		logger:   logger.With(slog.String("component", "outcome_publisher")),
	}
}

// Publish emits o to every sink.
func (p *OutcomePublisher) Publish(ctx context.Context, o domain.TradeOutcome) {
	payload, err := json.Marshal(o)
	if err != nil {
		p.logger.ErrorContext(ctx, "outcome_publisher: encode failed",
			slog.String("trade_id", o.TradeID),
			slog.String("error", err.Error()),
		)
		return
	}

	base := context.WithoutCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(base, "stream", o, func(ctx context.Context) error {
			return p.bus.StreamAppend(ctx, OutcomeStream, payload)
		})
		p.run(base, "channel", o, func(ctx context.Context) error {
			return p.bus.Publish(ctx, OutcomeChannel, payload)
		})
		if p.journal != nil {
			p.run(base, "journal", o, func(ctx context.Context) error {
				return p.journal.Insert(ctx, o)
			})
		}
		if p.archive != nil {
			p.run(base, "archive", o, func(ctx context.Context) error {
				return p.archive.Put(ctx, OutcomeKey(o), bytes.NewReader(payload), "application/json")
			})
		}
		if p.notifier != nil {
			p.run(base, "notifier", o, func(ctx context.Context) error {
				title, msg := notify.ClosedMessage(o)
				return p.notifier.Notify(ctx, notify.EventTradeClosed, title, msg)
			})
		}
	}()
}

func (p *OutcomePublisher) run(ctx context.Context, sink string, o domain.TradeOutcome, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(ctx, sinkTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		p.metrics.SinkFailed(sink)
		p.logger.WarnContext(ctx, "outcome_publisher: sink failed",
			slog.String("sink", sink),
			slog.String("trade_id", o.TradeID),
			slog.String("instrument", o.Instrument),
			slog.String("error", err.Error()),
		)
	}
}

// Wait blocks until every in-flight Publish has finished.
func (p *OutcomePublisher) Wait() {
	p.wg.Wait()
}

// LiveUpdates broadcasts Position records on PositionChannel.
type LiveUpdates struct {
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewLiveUpdates creates a LiveUpdates sink.
func NewLiveUpdates(bus domain.SignalBus, logger *slog.Logger) *LiveUpdates {
	return &LiveUpdates{bus: bus, logger: logger.With(slog.String("component", "live_updates"))}
}

// Broadcast publishes pos. Failures are logged.
func (l *LiveUpdates) Broadcast(ctx context.Context, pos domain.Position) {
	payload, err := json.Marshal(pos)
	if err == nil {
		err = l.bus.Publish(ctx, PositionChannel, payload)
	}
	if err != nil {
		l.logger.DebugContext(ctx, "live_updates: broadcast failed",
			slog.String("instrument", pos.Instrument),
			slog.String("error", err.Error()),
		)
	}
}
