// Package pipeline turns a command plus a session snapshot into an Outcome.
//
// A run goes Resolve → Fetch → Invoke and stops at the first terminal
// outcome. Nothing here formats user-facing text.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"media-relay/api/internal/engine"
	"media-relay/api/internal/media"
	"media-relay/api/internal/session"
)

// DetailArtifactMissing is the failure detail when a session points at an
// artifact the store no longer has.
const DetailArtifactMissing = "artifact missing"

type Command int

const (
	OCR Command = iota + 1
	Transcribe
)

func (c Command) String() string {
	switch c {
	case OCR:
		return "ocr"
	case Transcribe:
		return "transcribe"
	default:
		return fmt.Sprintf("command(%d)", int(c))
	}
}

// Kind is the media kind the command operates on.
func (c Command) Kind() media.Kind {
	switch c {
	case OCR:
		return media.Photo
	case Transcribe:
		return media.Voice
	}
	panic(fmt.Sprintf("pipeline: unhandled command %v", c))
}

// Outcome is one of Success, NoArtifact or EngineFailure.
type Outcome interface {
	outcome()
}

type Success struct {
	Text string
}

type NoArtifact struct {
	Kind media.Kind
}

type EngineFailure struct {
	Kind   media.Kind
	Detail string
}

func (Success) outcome()       {}
func (NoArtifact) outcome()    {}
func (EngineFailure) outcome() {}

// Lookup is the read side of an artifact store.
type Lookup interface {
	Get(ctx context.Context, id media.ArtifactID) (media.Artifact, bool, error)
}

// Engines runs the adapters. *engine.Adapter implements it.
type Engines interface {
	RunOCR(ctx context.Context, image []byte) (engine.Recognition, error)
	RunTranscription(ctx context.Context, audio []byte) (engine.Transcription, error)
}

type Pipeline struct {
	Store   Lookup
	Engines Engines
}

func New(store Lookup, engines Engines) *Pipeline {
	return &Pipeline{Store: store, Engines: engines}
}

// Target is a resolved command: the artifact id is fixed at resolution, so a
// newer upload arriving mid-run does not change what is processed.
type Target struct {
	Command Command
	ID      media.ArtifactID
}

// Resolve picks the artifact for cmd from state. A non-nil Outcome is
// terminal.
func Resolve(cmd Command, state session.State) (Target, Outcome) {
	kind := cmd.Kind()
	id, ok := session.LastOf(state, kind)
	if !ok {
		return Target{}, NoArtifact{Kind: kind}
	}
	return Target{Command: cmd, ID: id}, nil
}

// Run executes cmd against the state snapshot.
func (p *Pipeline) Run(ctx context.Context, cmd Command, state session.State) Outcome {
	t, out := Resolve(cmd, state)
	if out != nil {
		return out
	}
	return p.Execute(ctx, t)
}

// Execute does Fetch and Invoke for an already resolved target.
func (p *Pipeline) Execute(ctx context.Context, t Target) Outcome {
	kind := t.Command.Kind()

	a, ok, err := p.Store.Get(ctx, t.ID)
	switch {
	case err != nil:
		return EngineFailure{Kind: kind, Detail: "artifact store: " + err.Error()}
	case !ok, a.Kind != kind:
		return EngineFailure{Kind: kind, Detail: DetailArtifactMissing}
	}

	ctx = engine.WithOwner(ctx, a.Owner)
	var text string
	switch t.Command {
	case OCR:
		var res engine.Recognition
		res, err = p.Engines.RunOCR(ctx, a.Data)
		text = res.Text
	case Transcribe:
		var res engine.Transcription
		res, err = p.Engines.RunTranscription(ctx, a.Data)
		text = res.Text
	}
	if err != nil {
		return EngineFailure{Kind: kind, Detail: detailOf(err)}
	}
	return Success{Text: strings.TrimSpace(text)}
}

func detailOf(err error) string {
	var f *engine.Failure
	if errors.As(err, &f) {
		return f.Detail()
	}
	return err.Error()
}
