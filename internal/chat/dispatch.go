package chat

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// Backend is the analysis service the controller talks to.
type Backend interface {
	// Chat sends one query. sessionID is empty before the backend has
	// assigned one. Any transport, status, or shape problem is an error.
	Chat(ctx context.Context, query, sessionID string) (Result, error)

	// Dashboard fetches the opaque dashboard payload.
	Dashboard(ctx context.Context) (json.RawMessage, error)
}

// ResultApplier receives the terminal outcome of a turn.
type ResultApplier interface {
	ApplyAssistantResult(Result)
	ApplyAssistantFailure()
}

// Dispatcher performs exactly one backend request per accepted turn and
// resolves it into one store mutation. It trusts its caller to have checked
// the busy guard.
type Dispatcher struct {
	backend Backend
	log     *zap.Logger
}

// NewDispatcher creates a Dispatcher. A nil logger disables logging.
func NewDispatcher(backend Backend, log *zap.Logger) (*Dispatcher, error) {
	if backend == nil {
		return nil, fmt.Errorf("chat: dispatcher: backend is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{backend: backend, log: log}, nil
}

// Dispatch sends query with sessionID and applies the outcome to a. Failures
// of any kind collapse into ApplyAssistantFailure; the cause is logged and
// returned for the caller's own bookkeeping.
func (d *Dispatcher) Dispatch(ctx context.Context, a ResultApplier, query, sessionID string) error {
	res, err := d.backend.Chat(ctx, query, sessionID)
	if err != nil {
		d.log.Error("chat turn failed",
			zap.String("backend_session", sessionID),
			zap.Int("query_len", len(query)),
			zap.Error(err))
		a.ApplyAssistantFailure()
		return err
	}
	d.log.Debug("chat turn answered",
		zap.String("backend_session", res.SessionID),
		zap.Int("answer_len", len(res.Answer)),
		zap.Int("citation_groups", len(res.Citations)))
	a.ApplyAssistantResult(res)
	return nil
}
