package listsync

import (
	"context"

	"github.com/jrsteele09/safe-zone-client/freshness"
	"github.com/jrsteele09/safe-zone-client/mibs"
	"github.com/rs/zerolog/log"
)

// Mutator changes messages on the server.
type Mutator interface {
	Create(ctx context.Context, m mibs.Message) (string, error)
	Update(ctx context.Context, m mibs.Message) (string, error)
	Delete(ctx context.Context, messageID int) (string, error)
}

type EditorOption func(*Editor)

// WithChangeMarker also touches the marker at path after every successful
// change, so watchers in other processes refetch.
func WithChangeMarker(path string) EditorOption {
	return func(e *Editor) { e.marker = path }
}

// Editor applies changes and marks the list stale when they succeed.
type Editor struct {
	api    Mutator
	flag   *freshness.Flag
	marker string
}

func NewEditor(api Mutator, flag *freshness.Flag, opts ...EditorOption) *Editor {
	e := &Editor{api: api, flag: flag}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Editor) Create(ctx context.Context, m mibs.Message) (string, error) {
	return e.apply(e.api.Create(ctx, m))
}

func (e *Editor) Update(ctx context.Context, m mibs.Message) (string, error) {
	return e.apply(e.api.Update(ctx, m))
}

func (e *Editor) Delete(ctx context.Context, messageID int) (string, error) {
	return e.apply(e.api.Delete(ctx, messageID))
}

func (e *Editor) apply(reply string, err error) (string, error) {
	if err != nil {
		return "", err
	}
	e.flag.MarkStale()
	if e.marker != "" {
		// The change already happened; a missing marker only delays other
		// watchers until their next poll.
		if err := TouchMarker(e.marker); err != nil {
			log.Warn().Err(err).Msg("Failed to signal list change")
		}
	}
	return reply, nil
}
