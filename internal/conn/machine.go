// HealthBridge - Oseer Health Data Sync Client
// Copyright 2026 Oseer Algorithmics (oseer-algo)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oseer-algo/oseer-healthbridge-sub001

package conn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/api"
	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/config"
	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/logging"
	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/models"
	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/store"
	syncengine "github.com/oseer-algo/oseer-healthbridge-sub001/internal/sync"
)

// AuthBackend is the slice of the API client the machine needs for the
// handoff and token lifecycle.
type AuthBackend interface {
	GenerateMobileHandoff(ctx context.Context, deviceID, purpose, session string) (string, error)
	CheckHandoffStatus(ctx context.Context, deviceID string) (*api.HandoffResult, error)
	ValidateToken(ctx context.Context, token string) (bool, error)
	SetToken(token string)
}

// Syncer runs sync windows. Implemented by the sync engine.
type Syncer interface {
	RunPriority(ctx context.Context, userID string) syncengine.Result
	RunHistoricalChunk(ctx context.Context, userID string, chunkIndex int) syncengine.Result
	StartHistoricalBackfill() (int, bool, error)
}

// ChunkEnqueuer schedules a historical chunk on the durable background
// queue.
type ChunkEnqueuer interface {
	EnqueueHistoricalSyncChunk(userID string, chunkIndex int) error
}

// RealtimeControl lets the machine tear the realtime subscription down
// on disconnect.
type RealtimeControl interface {
	Unsubscribe()
}

type eventKind int

const (
	evConnectWeb eventKind = iota
	evConnectToken
	evTokenValidated
	evHandoffStarted
	evHandoffPoll
	evHandoffConfirmed
	evHandoffTimeout
	evHandoffFailed
	evPerformSync
	evSyncResult
	evContinueHistorical
	evChunkResult
	evRealtime
	evDisconnect
)

type event struct {
	kind     eventKind
	token    string
	userID   string
	valid    bool
	err      error
	result   syncengine.Result
	realtime models.Event
}

// Machine is the connection state machine. One instance per process;
// Run owns all state mutation.
type Machine struct {
	cfg    config.SyncConfig
	store  *store.Store
	auth   AuthBackend
	engine Syncer

	queue    ChunkEnqueuer
	realtime RealtimeControl

	events   chan event
	syncSlot chan struct{}
	timers   *timerSet

	mu    sync.RWMutex
	state ConnectionState

	now func() time.Time
}

// New creates a machine in the disconnected state. Queue and realtime
// collaborators are optional and attached separately because they are
// built after the machine during wiring.
func New(cfg config.SyncConfig, st *store.Store, auth AuthBackend, engine Syncer) *Machine {
	m := &Machine{
		cfg:      cfg,
		store:    st,
		auth:     auth,
		engine:   engine,
		events:   make(chan event, 64),
		syncSlot: make(chan struct{}, 1),
		timers:   newTimerSet(),
		state:    ConnectionState{Status: StatusDisconnected},
		now:      time.Now,
	}
	m.syncSlot <- struct{}{}
	if id, err := st.UserID(); err == nil {
		m.state.UserID = id
	}
	if id, err := st.DeviceID(); err == nil {
		m.state.DeviceID = id
	}
	// A restart after the first completed analysis resumes in the
	// calibrating phase instead of looking brand new.
	if st.ProfileComplete() {
		m.state.WellnessPhase = WellnessCalibrating
	}
	return m
}

// AttachQueue installs the durable background queue used as the
// historical sync durability fallback.
func (m *Machine) AttachQueue(q ChunkEnqueuer) { m.queue = q }

// AttachRealtime installs the realtime subscription controller.
func (m *Machine) AttachRealtime(r RealtimeControl) { m.realtime = r }

// State returns a copy of the current connection state.
func (m *Machine) State() ConnectionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// ConnectToWeb starts the out-of-band web handoff flow.
func (m *Machine) ConnectToWeb() { m.post(event{kind: evConnectWeb}) }

// Connect validates and installs an existing connection token.
func (m *Machine) Connect(token string) { m.post(event{kind: evConnectToken, token: token}) }

// PerformSync requests a priority sync. A request while a sync is in
// flight is dropped, never queued.
func (m *Machine) PerformSync() { m.post(event{kind: evPerformSync}) }

// ContinueHistorical starts (or resumes) the chunked historical
// backfill.
func (m *Machine) ContinueHistorical() { m.post(event{kind: evContinueHistorical}) }

// Disconnect tears the connection down from any state. It never fails.
func (m *Machine) Disconnect() { m.post(event{kind: evDisconnect}) }

// SetRealtimeStatus mirrors the realtime channel's lifecycle state into
// the observable connection state. Leaf field, no transition semantics.
func (m *Machine) SetRealtimeStatus(status string) {
	m.mutate(func(s *ConnectionState) { s.RealtimeStatus = status })
}

// ReportProgress publishes sync progress into the observable state.
// Progress is a leaf field with no transition semantics, so it updates
// under the state lock directly instead of flooding the dispatch loop.
func (m *Machine) ReportProgress(p models.SyncProgress) {
	m.mutate(func(s *ConnectionState) { s.Progress = p })
}

// HandleRealtimeEvent feeds a normalized realtime event into the
// machine. Called by the realtime layer's dispatcher.
func (m *Machine) HandleRealtimeEvent(ev models.Event) {
	m.post(event{kind: evRealtime, realtime: ev})
}

func (m *Machine) post(ev event) {
	select {
	case m.events <- ev:
	default:
		logging.Warn().Int("kind", int(ev.kind)).Msg("event channel full, dropping event")
	}
}

// Run drains the event channel until ctx is cancelled. All transitions
// execute here, on this one goroutine.
func (m *Machine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			m.timers.cancelAll()
			return ctx.Err()
		case ev := <-m.events:
			m.dispatch(ctx, ev)
		}
	}
}

// dispatch routes one event. A panic in any handler is contained here
// and mapped to syncFailed; it must never kill the loop.
func (m *Machine) dispatch(ctx context.Context, ev event) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error().Any("panic", r).Msg("state machine handler panicked")
			m.mutate(func(s *ConnectionState) {
				s.Status = StatusSyncFailed
				s.IsSyncing = false
				s.ErrorMessage = "an internal error interrupted the sync, please try again"
			})
		}
	}()

	switch ev.kind {
	case evConnectWeb:
		m.handleConnectWeb(ctx)
	case evConnectToken:
		m.handleConnectToken(ctx, ev.token)
	case evTokenValidated:
		m.handleTokenValidated(ev)
	case evHandoffStarted:
		m.handleHandoffStarted()
	case evHandoffPoll:
		m.handleHandoffPoll(ctx)
	case evHandoffConfirmed:
		m.handleHandoffConfirmed(ev.token, ev.userID)
	case evHandoffTimeout:
		m.handleHandoffTimeout()
	case evHandoffFailed:
		m.fail(fmt.Sprintf("could not start web connection: %v", ev.err))
	case evPerformSync:
		m.handlePerformSync(ctx)
	case evSyncResult:
		m.handleSyncResult(ev.result)
	case evContinueHistorical:
		m.handleContinueHistorical(ctx)
	case evChunkResult:
		m.handleChunkResult(ev.result)
	case evRealtime:
		m.handleRealtime(ev.realtime)
	case evDisconnect:
		m.handleDisconnect()
	}
}

func (m *Machine) mutate(fn func(*ConnectionState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.state)
}

// enterState sets the status and cancels every timer that is not valid
// in the new state.
func (m *Machine) enterState(status Status) {
	m.mutate(func(s *ConnectionState) { s.Status = status })
	switch status {
	case StatusAwaitingHandoff:
		m.timers.cancelExcept(timerHandoffPoll, timerHandoffTimeout)
	default:
		m.timers.cancelAll()
	}
}

func (m *Machine) fail(message string) {
	m.enterState(StatusError)
	m.mutate(func(s *ConnectionState) {
		s.ErrorMessage = message
		s.IsAwaitingWebValidation = false
	})
	logging.Warn().Str("message", message).Msg("connection entered error state")
}

func (m *Machine) handleConnectWeb(ctx context.Context) {
	deviceID := m.ensureDeviceID()
	m.enterState(StatusConnecting)
	m.mutate(func(s *ConnectionState) {
		s.IsAwaitingWebValidation = true
		s.ErrorMessage = ""
	})

	go func() {
		if _, err := m.auth.GenerateMobileHandoff(ctx, deviceID, "connect", ""); err != nil {
			m.post(event{kind: evHandoffFailed, err: err})
			return
		}
		m.post(event{kind: evHandoffStarted})
	}()
}

func (m *Machine) handleHandoffStarted() {
	if m.State().Status != StatusConnecting {
		return
	}
	m.enterState(StatusAwaitingHandoff)
	m.timers.set(timerHandoffPoll, m.cfg.HandoffPollInterval, func() {
		m.post(event{kind: evHandoffPoll})
	})
	m.timers.set(timerHandoffTimeout, m.cfg.HandoffTimeout, func() {
		m.post(event{kind: evHandoffTimeout})
	})
}

// handleHandoffPoll is the correctness backstop for the best-effort
// realtime "connection established" event: it asks the backend directly
// and synthesizes the same confirmation.
func (m *Machine) handleHandoffPoll(ctx context.Context) {
	if m.State().Status != StatusAwaitingHandoff {
		return
	}
	// Rearm first so polling continues at a fixed cadence regardless of
	// how long the round-trip takes.
	m.timers.set(timerHandoffPoll, m.cfg.HandoffPollInterval, func() {
		m.post(event{kind: evHandoffPoll})
	})

	deviceID := m.State().DeviceID
	go func() {
		res, err := m.auth.CheckHandoffStatus(ctx, deviceID)
		if err != nil {
			logging.Debug().Err(err).Msg("handoff status poll failed, will poll again")
			return
		}
		if res.Status == api.HandoffCompleted && res.ConnectionToken != "" {
			m.post(event{kind: evHandoffConfirmed, token: res.ConnectionToken, userID: res.UserID})
		}
	}()
}

func (m *Machine) handleHandoffConfirmed(token, userID string) {
	st := m.State().Status
	if st != StatusAwaitingHandoff && st != StatusConnecting && st != StatusValidatingToken {
		return
	}
	m.persistCredential(token)
	m.auth.SetToken(token)
	if userID != "" {
		m.adoptUserID(userID)
	}
	m.enterState(StatusConnected)
	m.mutate(func(s *ConnectionState) {
		s.ConnectionToken = token
		s.IsAwaitingWebValidation = false
		s.ErrorMessage = ""
	})
	logging.Info().Msg("handoff confirmed, connection established")

	// A fresh connection immediately syncs the priority window.
	m.post(event{kind: evPerformSync})
}

func (m *Machine) handleHandoffTimeout() {
	if m.State().Status != StatusAwaitingHandoff {
		return
	}
	m.fail("web connection timed out, open the link again to retry")
}

func (m *Machine) handleConnectToken(ctx context.Context, token string) {
	m.enterState(StatusValidatingToken)
	go func() {
		valid, err := m.auth.ValidateToken(ctx, token)
		m.post(event{kind: evTokenValidated, token: token, valid: valid, err: err})
	}()
}

func (m *Machine) handleTokenValidated(ev event) {
	if m.State().Status != StatusValidatingToken {
		return
	}
	if ev.err != nil {
		m.recordCredentialHealth(false)
		m.fail(fmt.Sprintf("token validation failed: %v", ev.err))
		return
	}
	if !ev.valid {
		m.recordCredentialHealth(false)
		m.fail("stored connection is no longer valid, reconnect required")
		return
	}
	m.recordCredentialHealth(true)
	m.handleHandoffConfirmed(ev.token, ev.userID)
}

// adoptUserID persists the backend-assigned user id and mirrors it into
// the observable state. Upload attribution, idempotency keys, and the
// background queue all read it from the store.
func (m *Machine) adoptUserID(userID string) {
	if err := m.store.SetUserID(userID); err != nil {
		logging.Warn().Err(err).Msg("persist user id")
	}
	m.mutate(func(s *ConnectionState) { s.UserID = userID })
}

// recordCredentialHealth updates the stored credential's error counter
// and health band. Best-effort: a missing or unreadable credential is
// not an error here.
func (m *Machine) recordCredentialHealth(success bool) {
	cred, err := m.store.LoadCredential()
	if err != nil {
		return
	}
	if success {
		cred.RecordSuccess(m.now())
	} else {
		cred.RecordError()
	}
	if cred.IsExpired(m.now()) {
		cred.Health = models.CredentialExpired
	}
	if err := m.store.SaveCredential(cred); err != nil {
		logging.Debug().Err(err).Msg("update credential health")
	}
}

// handlePerformSync acquires the single-slot sync lock and runs the
// priority window. A second request while the slot is taken is dropped.
func (m *Machine) handlePerformSync(ctx context.Context) {
	select {
	case <-m.syncSlot:
	default:
		logging.Debug().Msg("sync already in flight, dropping perform-sync request")
		return
	}

	m.enterState(StatusSyncing)
	m.mutate(func(s *ConnectionState) {
		s.IsSyncing = true
		s.ErrorMessage = ""
	})

	userID := m.State().UserID
	go func() {
		// The slot is released on every path out of the engine; the
		// engine itself converts panics into failure results.
		res := m.engine.RunPriority(ctx, userID)
		m.syncSlot <- struct{}{}
		m.post(event{kind: evSyncResult, result: res})
	}()
}

func (m *Machine) handleSyncResult(res syncengine.Result) {
	if m.State().Status != StatusSyncing {
		// Stale result, e.g. a disconnect raced the running sync.
		return
	}
	m.mutate(func(s *ConnectionState) {
		s.IsSyncing = false
		s.Progress.MetricsFound = res.MetricsFound
	})

	switch res.Outcome {
	case syncengine.OutcomeInsufficientData:
		m.enterState(StatusHistoricalSyncReady)
		m.mutate(func(s *ConnectionState) {
			s.ErrorMessage = insufficientDataMessage(res)
		})
	case syncengine.OutcomeFailure:
		m.enterState(StatusSyncFailed)
		m.mutate(func(s *ConnectionState) {
			s.ErrorMessage = fmt.Sprintf("sync failed, please try again later: %v", res.Err)
		})
	case syncengine.OutcomeSuccess:
		// Uploads landed; analysis completion arrives via realtime or
		// the polling backstop.
		m.enterState(StatusProcessing)
		m.mutate(func(s *ConnectionState) { s.LastSyncTime = m.now() })
	}
}

func (m *Machine) handleContinueHistorical(ctx context.Context) {
	chunk, more, err := m.engine.StartHistoricalBackfill()
	if err != nil {
		m.fail(fmt.Sprintf("could not read sync progress: %v", err))
		return
	}
	if !more {
		m.enterState(StatusComplete)
		return
	}

	select {
	case <-m.syncSlot:
	default:
		logging.Debug().Msg("sync already in flight, dropping historical request")
		return
	}

	m.enterState(StatusHistoricalSyncInProgress)
	m.mutate(func(s *ConnectionState) { s.IsSyncing = true })

	userID := m.State().UserID
	// Durability fallback: the background queue re-runs this chunk if
	// the process dies mid-flight; the checkpoint makes the replay a
	// no-op when the in-process run wins.
	if m.queue != nil {
		if err := m.queue.EnqueueHistoricalSyncChunk(userID, chunk); err != nil {
			logging.Warn().Err(err).Int("chunk", chunk).Msg("enqueue background chunk failed")
		}
	}

	go func() {
		res := m.engine.RunHistoricalChunk(ctx, userID, chunk)
		m.syncSlot <- struct{}{}
		m.post(event{kind: evChunkResult, result: res})
	}()
}

func (m *Machine) handleChunkResult(res syncengine.Result) {
	if m.State().Status != StatusHistoricalSyncInProgress {
		return
	}
	m.mutate(func(s *ConnectionState) { s.IsSyncing = false })

	switch {
	case res.Outcome == syncengine.OutcomeFailure:
		m.enterState(StatusSyncFailed)
		m.mutate(func(s *ConnectionState) {
			s.ErrorMessage = fmt.Sprintf("historical sync failed, it will resume automatically: %v", res.Err)
		})
	case res.HistoricalComplete:
		m.enterState(StatusComplete)
		m.mutate(func(s *ConnectionState) {
			s.LastSyncTime = m.now()
			s.WellnessPhase = WellnessEstablished
		})
	default:
		// Chain the next chunk.
		m.post(event{kind: evContinueHistorical})
	}
}

func (m *Machine) handleRealtime(ev models.Event) {
	switch ev.Type {
	case models.EventConnectionEstablished:
		if ev.ConnectionToken != "" {
			m.handleHandoffConfirmed(ev.ConnectionToken, ev.UserID)
		}
	case models.EventSyncComplete:
		st := m.State().Status
		if st == StatusProcessing || st == StatusSyncing {
			m.enterState(StatusPrioritySyncComplete)
			m.mutate(func(s *ConnectionState) { s.WellnessPhase = WellnessCalibrating })
			// First completed analysis marks onboarding as done.
			if err := m.store.SetProfileComplete(true); err != nil {
				logging.Warn().Err(err).Msg("persist profile completion")
			}
		}
	}
}

// handleDisconnect tears everything down. It is reachable from every
// state and must never fail, so every step is best-effort.
func (m *Machine) handleDisconnect() {
	defer func() {
		if r := recover(); r != nil {
			logging.Error().Any("panic", r).Msg("disconnect cleanup panicked, forcing disconnected state")
		}
		m.mutate(func(s *ConnectionState) {
			*s = ConnectionState{
				Status:   StatusDisconnected,
				UserID:   s.UserID,
				DeviceID: s.DeviceID,
			}
		})
	}()

	m.enterState(StatusDisconnecting)
	m.timers.cancelAll()
	if m.realtime != nil {
		m.realtime.Unsubscribe()
	}
	m.auth.SetToken("")
	if err := m.store.Reset(); err != nil {
		logging.Warn().Err(err).Msg("store reset during disconnect")
	}
	logging.Info().Msg("disconnected")
}

func (m *Machine) persistCredential(token string) {
	cred := &models.ConnectionCredential{
		Token:               token,
		GenerationTimestamp: m.now(),
		ExpiryDate:          api.TokenExpiry(token),
		DeviceBinding:       m.State().DeviceID,
		Health:              models.CredentialHealthy,
	}
	if err := m.store.SaveCredential(cred); err != nil && !errors.Is(err, store.ErrNoEncryptor) {
		logging.Warn().Err(err).Msg("persist connection credential")
	}
}

func (m *Machine) ensureDeviceID() string {
	if id := m.State().DeviceID; id != "" {
		return id
	}
	id := uuid.NewString()
	if err := m.store.SetDeviceID(id); err != nil {
		logging.Warn().Err(err).Msg("persist device id")
	}
	m.mutate(func(s *ConnectionState) { s.DeviceID = id })
	return id
}

func insufficientDataMessage(res syncengine.Result) string {
	missing := ""
	for _, required := range models.RequiredPriorityMetrics {
		if !res.MetricsFound[required] {
			if missing != "" {
				missing += ", "
			}
			missing += string(required)
		}
	}
	if missing == "" {
		return "not enough recent health data to analyze yet"
	}
	return fmt.Sprintf("not enough recent health data to analyze yet (missing: %s)", missing)
}
