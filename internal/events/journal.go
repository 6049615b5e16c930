// Package events publishes lifecycle saga progress to NATS.
//
// Events are published to subjects:
//   - {prefix}.{owner_id}.{saga_id}.started
//   - {prefix}.{owner_id}.{saga_id}.step
//   - {prefix}.{owner_id}.{saga_id}.warning
//   - {prefix}.{owner_id}.{saga_id}.completed
//
// Publishing is fire-and-forget. A journal never fails the saga it
// describes.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/fyrsmithlabs/collectiond/internal/config"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "lifecycle"

// Event kinds.
const (
	EventStarted   = "started"
	EventStep      = "step"
	EventWarning   = "warning"
	EventCompleted = "completed"
)

// Event is the JSON payload of every journal message.
type Event struct {
	SagaID     string    `json:"saga_id"`
	Saga       string    `json:"saga"`
	OwnerID    string    `json:"owner_id"`
	Event      string    `json:"event"`
	Step       string    `json:"step,omitempty"`
	Store      string    `json:"store,omitempty"`
	Message    string    `json:"message,omitempty"`
	ResourceID string    `json:"resource_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Journal records saga events.
type Journal interface {
	// Begin starts a saga and returns the handle its events go through.
	Begin(ctx context.Context, saga, ownerID, resourceID string) *Saga
	Close()
}

type publisher interface {
	publish(e Event)
}

// Saga is a handle for one running saga. A nil *Saga is valid and drops
// every event.
type Saga struct {
	id         string
	name       string
	ownerID    string
	resourceID string
	pub        publisher
}

// ID returns the saga id, or "" for a nil saga.
func (s *Saga) ID() string {
	if s == nil {
		return ""
	}
	return s.id
}

// Step records a completed step.
func (s *Saga) Step(step, store string) {
	s.emit(EventStep, step, store, "")
}

// Warning records a step that failed without aborting the saga.
func (s *Saga) Warning(step, store, message string) {
	s.emit(EventWarning, step, store, message)
}

// Complete records the saga outcome.
func (s *Saga) Complete(outcome string) {
	s.emit(EventCompleted, "", "", outcome)
}

func (s *Saga) emit(kind, step, store, message string) {
	if s == nil || s.pub == nil {
		return
	}
	s.pub.publish(Event{
		SagaID:     s.id,
		Saga:       s.name,
		OwnerID:    s.ownerID,
		Event:      kind,
		Step:       step,
		Store:      store,
		Message:    message,
		ResourceID: s.resourceID,
		Timestamp:  time.Now().UTC(),
	})
}

// NATSJournal publishes saga events over a NATS connection.
type NATSJournal struct {
	nc     *nats.Conn
	prefix string
	owned  bool
	logger *zap.Logger
}

// NewNATSJournal wraps an existing connection. The caller keeps ownership
// of nc.
func NewNATSJournal(nc *nats.Conn, prefix string, logger *zap.Logger) *NATSJournal {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSJournal{nc: nc, prefix: prefix, logger: logger}
}

// Begin implements Journal.
func (j *NATSJournal) Begin(_ context.Context, saga, ownerID, resourceID string) *Saga {
	s := &Saga{
		id:         uuid.New().String(),
		name:       saga,
		ownerID:    ownerID,
		resourceID: resourceID,
		pub:        j,
	}
	s.emit(EventStarted, "", "", "")
	return s
}

func (j *NATSJournal) publish(e Event) {
	subject := Subject(j.prefix, e.OwnerID, e.SagaID, e.Event)
	data, err := json.Marshal(e)
	if err != nil {
		j.logger.Debug("marshal saga event", zap.Error(err))
		return
	}
	if err := j.nc.Publish(subject, data); err != nil {
		j.logger.Debug("publish saga event",
			zap.String("subject", subject),
			zap.Error(err),
		)
	}
}

// Close drains the connection if the journal opened it.
func (j *NATSJournal) Close() {
	if j.owned && j.nc != nil {
		if err := j.nc.Drain(); err != nil {
			j.nc.Close()
		}
	}
}

// Subject builds the NATS subject for a saga event.
func Subject(prefix, ownerID, sagaID, event string) string {
	return fmt.Sprintf("%s.%s.%s.%s", prefix, SanitizeToken(ownerID), sagaID, event)
}

// SanitizeToken makes s safe for use as a single NATS subject token.
func SanitizeToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		if r == '.' || r == '*' || r == '>' || unicode.IsSpace(r) {
			return '_'
		}
		return r
	}, s)
}

// Nop is a Journal that drops everything.
type Nop struct{}

// Begin implements Journal.
func (Nop) Begin(context.Context, string, string, string) *Saga {
	return &Saga{id: uuid.New().String()}
}

// Close implements Journal.
func (Nop) Close() {}

// New connects to NATS when events are enabled and returns a no-op
// journal otherwise.
func New(cfg config.EventsConfig, logger *zap.Logger) (Journal, error) {
	if !cfg.Enabled {
		return Nop{}, nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(cfg.NATSURL,
		nats.Name("collectiond"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	j := NewNATSJournal(nc, cfg.SubjectPrefix, logger)
	j.owned = true
	return j, nil
}
