package notify

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/xtrntr/meetswap/internal/models"
)

const defaultQueueSize = 1024

// Directory resolves a recipient's preferences
type Directory interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
}

// Message is a rendered notification ready for a sink
type Message struct {
	RecipientID string `json:"recipient_id"`
	Language    string `json:"language"`
	Text        string `json:"text"`
	Event       Event  `json:"event"`
}

// Sink delivers rendered messages, e.g. to a push provider or a websocket
type Sink interface {
	Deliver(ctx context.Context, msg Message) error
}

// Dispatcher queues events and delivers them on a background worker
type Dispatcher struct {
	queue   chan Event
	dir     Directory
	sinks   []Sink
	logger  *slog.Logger
	dropped atomic.Int64
}

// NewDispatcher creates a dispatcher with a bounded queue
func NewDispatcher(dir Directory, logger *slog.Logger, queueSize int, sinks ...Sink) *Dispatcher {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		queue:  make(chan Event, queueSize),
		dir:    dir,
		sinks:  sinks,
		logger: logger,
	}
}

// Publish enqueues evt without blocking; a full queue drops it
func (d *Dispatcher) Publish(evt Event) {
	select {
	case d.queue <- evt:
	default:
		d.dropped.Add(1)
		d.logger.Warn("notification queue full, dropping event",
			"type", evt.Type, "listing_id", evt.ListingID, "recipient_id", evt.RecipientID)
	}
}

// Dropped returns the number of events lost to a full queue
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Run delivers queued events until ctx is cancelled, then drains what is left
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case evt := <-d.queue:
			d.deliver(ctx, evt)
		case <-ctx.Done():
			d.drain()
			return
		}
	}
}

func (d *Dispatcher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case evt := <-d.queue:
			d.deliver(ctx, evt)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, evt Event) {
	lang := defaultLanguage
	if d.dir != nil && evt.RecipientID != "" {
		u, err := d.dir.GetUser(ctx, evt.RecipientID)
		if err != nil {
			d.logger.Warn("failed to resolve notification recipient", "recipient_id", evt.RecipientID, "error", err)
		} else if u.Language != "" {
			lang = u.Language
		}
	}
	msg := Message{
		RecipientID: evt.RecipientID,
		Language:    lang,
		Text:        Render(evt, lang),
		Event:       evt,
	}
	for _, sink := range d.sinks {
		if err := sink.Deliver(ctx, msg); err != nil {
			d.logger.Warn("notification delivery failed",
				"type", evt.Type, "recipient_id", evt.RecipientID, "error", err)
		}
	}
}

// LogSink writes every message to the log; it stands in for a mobile push provider
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Deliver(ctx context.Context, msg Message) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("push notification",
		"recipient_id", msg.RecipientID,
		"language", msg.Language,
		"type", msg.Event.Type,
		"listing_id", msg.Event.ListingID,
		"text", msg.Text)
	return nil
}
