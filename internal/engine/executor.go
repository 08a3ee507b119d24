// Package engine interprets source flows and owns the authoritative
// in-memory runtime state for every source. Fetches are serialized per
// source; state transitions are mirrored best-effort into the
// persistence sink and broadcast to registered listeners.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/Evoltonnac/quota-board/internal/auth"
	"github.com/Evoltonnac/quota-board/internal/secrets"
	"github.com/Evoltonnac/quota-board/internal/store"
	"github.com/Evoltonnac/quota-board/pkg/api"
	"github.com/Evoltonnac/quota-board/pkg/log"
)

type (
	// Listener receives a copy of every applied state transition
	Listener func(api.SourceState)

	// Executor runs source flows. In-memory state is authoritative;
	// the sink mirror is best-effort
	Executor struct {
		secrets *secrets.Store
		sink    *store.Store
		auth    *auth.Manager
		client  *resty.Client
		lua     *LuaEnv

		mu     sync.RWMutex
		states map[api.SourceID]*api.SourceState
		locks  sync.Map

		lmu       sync.RWMutex
		listeners []Listener

		clock func() time.Time
	}
)

// New creates an executor. A nil lua environment disables script steps
func New(
	sec *secrets.Store, sink *store.Store, authMgr *auth.Manager,
	client *resty.Client, lua *LuaEnv,
) *Executor {
	return &Executor{
		secrets: sec,
		sink:    sink,
		auth:    authMgr,
		client:  client,
		lua:     lua,
		states:  map[api.SourceID]*api.SourceState{},
		clock:   time.Now,
	}
}

// WithClock overrides the executor's time source
func (x *Executor) WithClock(clock func() time.Time) *Executor {
	x.clock = clock
	return x
}

// AddListener registers a callback invoked on every state transition
func (x *Executor) AddListener(l Listener) {
	x.lmu.Lock()
	defer x.lmu.Unlock()
	x.listeners = append(x.listeners, l)
}

// FetchSource runs one fetch for the source, serialized against other
// fetches of the same source. The outcome lands in the source's runtime
// state: active on success, suspended with an interaction request when
// a credential is missing, error otherwise
func (x *Executor) FetchSource(
	ctx context.Context, def *api.SourceDefinition,
) {
	lock := x.sourceLock(def.ID)
	lock.Lock()
	defer lock.Unlock()

	logger := slog.With(
		log.SourceID(def.ID),
		log.RunID(uuid.NewString()),
	)

	if !def.IsEnabled() {
		x.setState(ctx, def.ID, api.StatusDisabled, "Source is disabled", nil)
		return
	}

	x.setState(ctx, def.ID, api.StatusActive, "Starting fetch...", nil)

	err := x.fetch(ctx, def, logger)
	if err == nil {
		return
	}

	var rse *auth.RequiredSecretError
	if errors.As(err, &rse) {
		logger.Warn("Fetch suspended",
			log.StepID(rse.StepID),
			slog.String("interaction", string(rse.Interaction)))
		x.setState(
			ctx, def.ID, api.StatusSuspended, err.Error(), rse.Request(),
		)
		return
	}

	logger.Error("Fetch failed", log.Error(err))
	if serr := x.sink.SetError(ctx, def.ID, err.Error()); serr != nil {
		logger.Warn("Failed to persist fetch error", log.Error(serr))
	}
	x.setState(ctx, def.ID, api.StatusError, err.Error(), nil)
}

func (x *Executor) fetch(
	ctx context.Context, def *api.SourceDefinition, logger *slog.Logger,
) error {
	if len(def.Flow) == 0 {
		if err := x.auth.CheckCredentials(ctx, def); err != nil {
			return err
		}
		x.setState(ctx, def.ID, api.StatusActive, "Fetch completed", nil)
		return nil
	}

	data, err := x.runFlow(ctx, def, logger)
	if err != nil {
		return err
	}

	if err := x.sink.UpsertData(ctx, def.ID, data); err != nil {
		logger.Warn("Failed to persist fetch data", log.Error(err))
	}
	x.setState(
		ctx, def.ID, api.StatusActive, "Flow execution completed", nil,
	)
	return nil
}

// SourceState returns a copy of the source's runtime state, creating
// the default active state on first access
func (x *Executor) SourceState(id api.SourceID) api.SourceState {
	x.mu.Lock()
	defer x.mu.Unlock()

	st, ok := x.states[id]
	if !ok {
		st = api.NewSourceState(id)
		st.LastUpdated = x.clock()
		x.states[id] = st
	}
	return *st
}

// UpdateSourceState applies an externally driven state transition, such
// as a user interaction response
func (x *Executor) UpdateSourceState(
	ctx context.Context, id api.SourceID, status api.SourceStatus,
	message string, interaction *api.InteractionRequest,
) {
	x.setState(ctx, id, status, message, interaction)
}

// AllStates returns a copy of every known source state
func (x *Executor) AllStates() []api.SourceState {
	x.mu.RLock()
	defer x.mu.RUnlock()

	res := make([]api.SourceState, 0, len(x.states))
	for _, st := range x.states {
		res = append(res, *st)
	}
	return res
}

func (x *Executor) setState(
	ctx context.Context, id api.SourceID, status api.SourceStatus,
	message string, interaction *api.InteractionRequest,
) {
	x.mu.Lock()
	st, ok := x.states[id]
	if !ok {
		st = api.NewSourceState(id)
		x.states[id] = st
	}
	st.Status = status
	st.Message = message
	st.Interaction = interaction
	st.LastUpdated = x.clock()
	snapshot := *st
	x.mu.Unlock()

	slog.Info("State transition",
		log.SourceID(id),
		log.Status(status),
		slog.String("message", message))

	if err := x.sink.SetState(
		ctx, id, status, message, interaction,
	); err != nil {
		slog.Warn("Failed to mirror state",
			log.SourceID(id),
			log.Error(err))
	}

	x.notify(snapshot)
}

func (x *Executor) notify(st api.SourceState) {
	x.lmu.RLock()
	listeners := x.listeners
	x.lmu.RUnlock()

	for _, l := range listeners {
		l(st)
	}
}

func (x *Executor) sourceLock(id api.SourceID) *sync.Mutex {
	lock, _ := x.locks.LoadOrStore(id, &sync.Mutex{})
	return lock.(*sync.Mutex)
}
