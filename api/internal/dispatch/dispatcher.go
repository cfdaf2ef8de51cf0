// Package dispatch turns transport events into store writes, session
// updates and pipeline runs, and outcomes into reply text.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"media-relay/api/internal/artifact"
	"media-relay/api/internal/media"
	"media-relay/api/internal/pipeline"
	"media-relay/api/internal/session"
)

// Sender delivers a reply to a chat. Delivery is best effort.
type Sender interface {
	Send(ctx context.Context, chat int64, text string) error
}

// HealthChecker reports the processing service status for /hello.
type HealthChecker interface {
	Health(ctx context.Context) (string, error)
}

// HealthFunc adapts a function to HealthChecker.
type HealthFunc func(ctx context.Context) (string, error)

func (f HealthFunc) Health(ctx context.Context) (string, error) { return f(ctx) }

type Options struct {
	Store    artifact.Store
	Sessions *session.Table
	Pipeline *pipeline.Pipeline
	Health   HealthChecker
	Sender   Sender
	Logger   *slog.Logger
}

type Dispatcher struct {
	store    artifact.Store
	sessions *session.Table
	pipe     *pipeline.Pipeline
	health   HealthChecker
	out      Sender
	logger   *slog.Logger

	mu     sync.Mutex
	queues map[media.UserID]*queue
	wg     sync.WaitGroup
}

type queue struct {
	pending []queued
}

type queued struct {
	ctx context.Context
	ev  Event
}

func New(o Options) *Dispatcher {
	if o.Sessions == nil {
		o.Sessions = session.NewTable()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return &Dispatcher{
		store:    o.Store,
		sessions: o.Sessions,
		pipe:     o.Pipeline,
		health:   o.Health,
		out:      o.Sender,
		logger:   o.Logger,
		queues:   make(map[media.UserID]*queue),
	}
}

// Sessions exposes the session table.
func (d *Dispatcher) Sessions() *session.Table { return d.sessions }

// Submit queues ev behind the user's earlier events and returns immediately.
// Events of different users are handled concurrently.
func (d *Dispatcher) Submit(ctx context.Context, ev Event) {
	user := ev.from()

	d.mu.Lock()
	q, running := d.queues[user]
	if !running {
		q = &queue{}
		d.queues[user] = q
		d.wg.Add(1)
	}
	q.pending = append(q.pending, queued{ctx: ctx, ev: ev})
	d.mu.Unlock()

	if !running {
		go d.drain(user, q)
	}
}

// Wait blocks until every submitted event has been handled.
func (d *Dispatcher) Wait() { d.wg.Wait() }

func (d *Dispatcher) drain(user media.UserID, q *queue) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		if len(q.pending) == 0 {
			delete(d.queues, user)
			d.mu.Unlock()
			return
		}
		next := q.pending[0]
		q.pending = q.pending[1:]
		d.mu.Unlock()

		d.Handle(next.ctx, next.ev)
	}
}

// Handle processes one event synchronously.
func (d *Dispatcher) Handle(ctx context.Context, ev Event) {
	switch e := ev.(type) {
	case PhotoUpload:
		d.handleUpload(ctx, media.Photo, e.User, e.Chat, e.Load)
	case VoiceUpload:
		d.handleUpload(ctx, media.Voice, e.User, e.Chat, e.Load)
	case Command:
		d.handleCommand(ctx, e)
	default:
		panic(fmt.Sprintf("dispatch: unhandled event %T", ev))
	}
}

func (d *Dispatcher) handleUpload(ctx context.Context, kind media.Kind, user media.UserID, chat int64, load Loader) {
	if load == nil {
		d.send(ctx, chat, uploadFailedText(kind, errors.New("no data")))
		return
	}
	data, err := load(ctx)
	if err != nil {
		d.logger.WarnContext(ctx, "download failed", "user", user, "kind", kind, "err", err)
		d.send(ctx, chat, uploadFailedText(kind, err))
		return
	}
	id, err := d.store.Put(ctx, kind, user, data)
	if err != nil {
		d.logger.ErrorContext(ctx, "store put failed", "user", user, "kind", kind, "err", err)
		d.send(ctx, chat, uploadFailedText(kind, err))
		return
	}
	// сессию обновляем только после успешной записи
	d.sessions.Record(user, kind, id)
	d.logger.InfoContext(ctx, "upload stored", "user", user, "kind", kind, "id", id, "bytes", len(data))
	d.send(ctx, chat, uploadedText(kind, id))
}

func (d *Dispatcher) handleCommand(ctx context.Context, e Command) {
	switch ParseCommand(e.Name) {
	case CmdStart:
		d.send(ctx, e.Chat, startText())
	case CmdHelp:
		d.send(ctx, e.Chat, HelpText)
	case CmdHello:
		d.send(ctx, e.Chat, d.hello(ctx))
	case CmdOCR:
		d.runPipeline(ctx, e, pipeline.OCR)
	case CmdTranscribe:
		d.runPipeline(ctx, e, pipeline.Transcribe)
	default:
		d.send(ctx, e.Chat, unknownCommandText(e.Name))
	}
}

func (d *Dispatcher) hello(ctx context.Context) string {
	if d.health == nil {
		return healthText("", errors.New("health check not configured"))
	}
	status, err := d.health.Health(ctx)
	if err != nil {
		d.logger.WarnContext(ctx, "health check failed", "err", err)
	}
	return healthText(status, err)
}

func (d *Dispatcher) runPipeline(ctx context.Context, e Command, cmd pipeline.Command) {
	out := d.pipe.Run(ctx, cmd, d.sessions.Get(e.User))
	if f, ok := out.(pipeline.EngineFailure); ok {
		d.logger.WarnContext(ctx, "command failed", "user", e.User, "command", cmd, "kind", f.Kind, "detail", f.Detail)
	}
	d.send(ctx, e.Chat, render(cmd, out))
}

func (d *Dispatcher) send(ctx context.Context, chat int64, text string) {
	if d.out == nil {
		return
	}
	if err := d.out.Send(ctx, chat, text); err != nil {
		d.logger.WarnContext(ctx, "send failed", "chat", chat, "err", err)
	}
}
