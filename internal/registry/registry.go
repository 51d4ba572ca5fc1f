// Package registry keeps the live conversational sessions of a costdesk
// process. Every session is a chat.Controller under a string key (a browser
// tab uuid, a "channel:thread" pair, a terminal). Session state is mirrored
// into the registry database while the session lives and deleted when it
// ends.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/zulandar/costdesk/internal/chat"
	"github.com/zulandar/costdesk/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// mirrorBuffer sizes the event channel of each mirror goroutine.
const mirrorBuffer = 256

var (
	// ErrNotFound is returned for keys with no live session.
	ErrNotFound = errors.New("registry: session not found")
	// ErrClosed is returned once the registry has shut down.
	ErrClosed = errors.New("registry: closed")
)

// Opts holds parameters for creating a Registry.
type Opts struct {
	DB          *gorm.DB     // required; already migrated
	Backend     chat.Backend // required
	Log         *zap.Logger
	IdleTimeout time.Duration // 0 disables reaping
	// BaseContext is handed to every controller. It is cancelled only on
	// shutdown.
	BaseContext context.Context
}

// Registry owns the live controllers.
type Registry struct {
	db      *gorm.DB
	backend chat.Backend
	log     *zap.Logger
	idle    time.Duration
	base    context.Context

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
}

type entry struct {
	ctrl *chat.Controller
	done chan struct{} // closed when the mirror goroutine exits
}

// New creates a Registry.
func New(opts Opts) (*Registry, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("registry: db is required")
	}
	if opts.Backend == nil {
		return nil, fmt.Errorf("registry: backend is required")
	}
	if opts.IdleTimeout < 0 {
		return nil, fmt.Errorf("registry: idle timeout must not be negative")
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	base := opts.BaseContext
	if base == nil {
		base = context.Background()
	}
	return &Registry{
		db:      opts.DB,
		backend: opts.Backend,
		log:     log,
		idle:    opts.IdleTimeout,
		base:    base,
		entries: make(map[string]*entry),
	}, nil
}

// Open returns the live session for key, creating it on first use. created
// reports whether a new session was opened.
func (r *Registry) Open(key, surface string) (ctrl *chat.Controller, created bool, err error) {
	if key == "" {
		return nil, false, fmt.Errorf("registry: key is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, false, ErrClosed
	}
	if e, ok := r.entries[key]; ok {
		return e.ctrl, false, nil
	}

	ctrl, err = chat.NewController(chat.ControllerOpts{
		Key:         key,
		Backend:     r.backend,
		Log:         r.log,
		BaseContext: r.base,
	})
	if err != nil {
		return nil, false, fmt.Errorf("registry: open %s: %w", key, err)
	}

	now := time.Now()
	row := models.ChatSession{
		Key:          key,
		Surface:      surface,
		ActiveView:   string(chat.ViewChat),
		LastActivity: now,
	}
	if err := r.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
		return nil, false, fmt.Errorf("registry: open %s: insert: %w", key, err)
	}
	// Rows left behind by an earlier session under the same key.
	if err := r.db.Where("session_key = ?", key).Delete(&models.ChatTurn{}).Error; err != nil {
		return nil, false, fmt.Errorf("registry: open %s: clear turns: %w", key, err)
	}

	// The subscription ends when the controller closes.
	events, _ := ctrl.Subscribe(mirrorBuffer)
	e := &entry{ctrl: ctrl, done: make(chan struct{})}
	r.entries[key] = e
	go r.mirror(key, ctrl, events, e.done)

	r.log.Info("session opened", zap.String("session_key", key), zap.String("surface", surface))
	return ctrl, true, nil
}

// Get returns the live session for key.
func (r *Registry) Get(key string) (*chat.Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		return nil, false
	}
	return e.ctrl, true
}

// Keys returns the keys of every live session, sorted.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close ends the session under key. The controller stops accepting triggers,
// in-flight requests are awaited and their outcomes dropped, subscribers are
// released, and the session's rows are deleted.
func (r *Registry) Close(key string) error {
	r.mu.Lock()
	e, ok := r.entries[key]
	if ok {
		delete(r.entries, key)
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	e.ctrl.Close()
	return r.finishEntry(key, e)
}

// finishEntry waits for the mirror of a closed controller to drain and
// deletes the session's rows.
func (r *Registry) finishEntry(key string, e *entry) error {
	<-e.done

	err := r.deleteRows(key)
	if err != nil {
		r.log.Error("session rows not deleted", zap.String("session_key", key), zap.Error(err))
	}
	r.log.Info("session closed", zap.String("session_key", key))
	return err
}

// List returns the mirrored rows of the live sessions, most recently active
// first.
func (r *Registry) List(ctx context.Context) ([]models.ChatSession, error) {
	var rows []models.ChatSession
	if err := r.db.WithContext(ctx).Order("last_activity DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("registry: list: %w", err)
	}
	return rows, nil
}

// Turns returns the mirrored history of one session, in order.
func (r *Registry) Turns(ctx context.Context, key string) ([]models.ChatTurn, error) {
	var turns []models.ChatTurn
	if err := r.db.WithContext(ctx).Where("session_key = ?", key).Order("sequence").Find(&turns).Error; err != nil {
		return nil, fmt.Errorf("registry: turns %s: %w", key, err)
	}
	return turns, nil
}

// Shutdown closes every live session. The registry refuses new sessions
// afterwards.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	r.closed = true
	entries := r.entries
	r.entries = make(map[string]*entry)
	r.mu.Unlock()

	for key, e := range entries {
		e.ctrl.Close()
		_ = r.finishEntry(key, e)
	}
}

// mirror writes session snapshots to the database until the controller
// closes or the subscription ends.
func (r *Registry) mirror(key string, ctrl *chat.Controller, events <-chan chat.Event, done chan struct{}) {
	defer close(done)
	synced := 0
	for evt := range events {
		n, err := r.sync(key, ctrl.LastActivity(), evt, synced)
		if err != nil {
			r.log.Warn("session mirror failed", zap.String("session_key", key),
				zap.String("event", string(evt.Kind)), zap.Error(err))
			continue
		}
		synced = n
	}
}

// sync writes one snapshot. synced is the number of turns already stored;
// the new count is returned.
func (r *Registry) sync(key string, lastActivity time.Time, evt chat.Event, synced int) (int, error) {
	s := evt.Session
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if evt.Kind == chat.EventReset || len(s.History) < synced {
			if err := tx.Where("session_key = ?", key).Delete(&models.ChatTurn{}).Error; err != nil {
				return err
			}
			synced = 0
		}
		for i := synced; i < len(s.History); i++ {
			turn, err := toTurn(key, i+1, s.History[i])
			if err != nil {
				return err
			}
			if err := tx.Create(&turn).Error; err != nil {
				return err
			}
		}
		return tx.Model(&models.ChatSession{}).Where("session_key = ?", key).Updates(map[string]interface{}{
			"backend_session_id": s.ID,
			"active_view":        string(s.ActiveView),
			"busy":               s.Busy,
			"message_count":      len(s.History),
			"last_activity":      lastActivity,
		}).Error
	})
	if err != nil {
		return synced, err
	}
	return len(s.History), nil
}

func toTurn(key string, seq int, m chat.Message) (models.ChatTurn, error) {
	cites := m.Citations
	if cites == nil {
		cites = []chat.Citation{}
	}
	data, err := json.Marshal(cites)
	if err != nil {
		return models.ChatTurn{}, fmt.Errorf("marshal citations: %w", err)
	}
	return models.ChatTurn{
		SessionKey: key,
		Sequence:   seq,
		Sender:     string(m.Sender),
		Text:       m.Text,
		Citations:  string(data),
	}, nil
}

func (r *Registry) deleteRows(key string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_key = ?", key).Delete(&models.ChatTurn{}).Error; err != nil {
			return fmt.Errorf("registry: delete turns %s: %w", key, err)
		}
		if err := tx.Where("session_key = ?", key).Delete(&models.ChatSession{}).Error; err != nil {
			return fmt.Errorf("registry: delete session %s: %w", key, err)
		}
		return nil
	})
}
