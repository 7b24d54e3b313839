package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/caseloom/caseloom/internal/config"
	"github.com/caseloom/caseloom/internal/logfields"
	"github.com/caseloom/caseloom/internal/metrics"
)

const (
	mirrorQueueSize      = 256
	mirrorPublishTimeout = 5 * time.Second
)

// Mirror forwards progress events to a NATS JetStream subject so external
// consumers can follow pipeline activity. Forwarding is fire-and-forget:
// a slow or absent broker never affects local subscribers.
type Mirror struct {
	conn     *nats.Conn
	js       jetstream.JetStream
	prefix   string
	queue    chan Event
	done     chan struct{}
	mu       sync.RWMutex
	closed   bool
	logger   *slog.Logger
	recorder metrics.Recorder
}

// NewMirror connects to the configured broker and ensures the progress stream
// exists. The returned mirror is already running.
func NewMirror(cfg config.EventsConfig, logger *slog.Logger, recorder metrics.Recorder) (*Mirror, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}

	conn, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName(cfg.SubjectPrefix),
		Subjects: []string{cfg.SubjectPrefix + ".>"},
		MaxAge:   24 * time.Hour,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ensure progress stream: %w", err)
	}

	m := &Mirror{
		conn:     conn,
		js:       js,
		prefix:   cfg.SubjectPrefix,
		queue:    make(chan Event, mirrorQueueSize),
		done:     make(chan struct{}),
		logger:   logger,
		recorder: recorder,
	}
	go m.run()

	logger.Info("progress mirror connected",
		slog.String("url", cfg.NATSURL),
		slog.String("subject_prefix", cfg.SubjectPrefix))
	return m, nil
}

// Offer queues an event for forwarding. Full queue or closed mirror means the
// event is silently dropped from the mirror stream.
func (m *Mirror) Offer(e Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return
	}
	select {
	case m.queue <- e:
	default:
		m.recorder.IncMirrorFailure()
		m.logger.Debug("progress mirror queue full, event dropped", logfields.CaseID(e.CaseID))
	}
}

func (m *Mirror) run() {
	defer close(m.done)
	for e := range m.queue {
		m.publishOne(e)
	}
}

func (m *Mirror) publishOne(e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		m.recorder.IncMirrorFailure()
		m.logger.Warn("marshal progress event for mirror", logfields.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), mirrorPublishTimeout)
	defer cancel()

	subject := m.prefix + "." + e.CaseID
	if _, err := m.js.Publish(ctx, subject, data); err != nil {
		m.recorder.IncMirrorFailure()
		m.logger.Warn("publish progress event to mirror",
			logfields.CaseID(e.CaseID), logfields.Error(err))
	}
}

// Close drains queued events and closes the broker connection.
func (m *Mirror) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.queue)
	m.mu.Unlock()

	<-m.done
	m.conn.Close()
}

// streamName derives a JetStream-safe stream name from the subject prefix.
func streamName(prefix string) string {
	return strings.ToUpper(strings.ReplaceAll(prefix, ".", "_"))
}
