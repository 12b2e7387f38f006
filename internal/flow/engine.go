package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/BTreeMap/InsureGuide/internal/advisor"
	"github.com/BTreeMap/InsureGuide/internal/config"
	"github.com/BTreeMap/InsureGuide/internal/genai"
	"github.com/BTreeMap/InsureGuide/internal/models"
	"github.com/BTreeMap/InsureGuide/internal/store"
	"github.com/google/uuid"
)

var (
	// ErrSessionNotFound is returned for unknown session ids.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionClosed is returned when a finished conversation gets a reply.
	ErrSessionClosed = errors.New("session is closed")
	// ErrIterationLimit is the failure of a turn that keeps transitioning
	// without asking the user anything.
	ErrIterationLimit = errors.New("too many workflow transitions in one turn")
)

const escalationMessage = "It seems we're having trouble with this question, so let's take a step back."

// JobKindExtractProfile is the queued job that merges the facts stated in a
// reply into the session profile.
const JobKindExtractProfile = "extract_profile"

// Engine runs conversations. Turns of one session are serialized; different
// sessions run concurrently.
type Engine struct {
	cfg   config.FlowConfig
	deps  Deps
	state StateManager
	steps map[StepID]stepFunc
	now   func() time.Time
	newID func() string
	queue store.JobRepo

	mu         sync.Mutex
	locks      map[string]*sync.Mutex
	background sync.WaitGroup
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithClock sets the clock used for timestamps.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithSessionIDs sets the session id generator.
func WithSessionIDs(newID func() string) EngineOption {
	return func(e *Engine) { e.newID = newID }
}

// WithJobQueue runs profile extractions as durable jobs on queue. Without a
// queue they run in goroutines of this process.
func WithJobQueue(queue store.JobRepo) EngineOption {
	return func(e *Engine) { e.queue = queue }
}

// NewEngine creates an Engine.
func NewEngine(cfg config.FlowConfig, state StateManager, deps Deps, opts ...EngineOption) *Engine {
	e := &Engine{
		cfg:   cfg,
		deps:  deps,
		state: state,
		now:   time.Now,
		newID: uuid.NewString,
		locks: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.steps = map[StepID]stepFunc{
		StepSupervisor:                 e.supervisor,
		StepDispatch:                   e.dispatch,
		StepProceed:                    e.proceed,
		StepGreeting:                   e.greeting,
		StepPersonalInfo:               e.personalInfo,
		StepHealthInfo:                 e.healthInfo,
		StepOnboardingConfirmation:     e.onboardingConfirmation,
		StepPreferences:                e.preferences,
		StepPolicyMatch:                e.policyMatch,
		StepQueryHandling:              e.queryHandling,
		StepRecommendationConfirmation: e.recommendationConfirmation,
		StepPolicyInfo:                 e.policyInfo,
		StepPolicyComparison:           e.policyComparison,
	}
	return e
}

// Start opens a new session and returns its greeting.
func (e *Engine) Start(ctx context.Context) (Turn, error) {
	s := &Session{ID: e.newID(), Profile: models.NewUserProfile(), CreatedAt: e.now()}
	unlock := e.lockSession(s.ID)
	defer unlock()

	slog.Info("Engine.Start: new session", "sessionID", s.ID)
	return e.turn(ctx, s, func(ctx context.Context, r *run) {
		r.loop(ctx, StepSupervisor, stepInput{})
	})
}

// Resume delivers the user's reply to the session's pending suspension and
// runs the conversation until it needs the user again.
func (e *Engine) Resume(ctx context.Context, sessionID, reply string) (Turn, error) {
	unlock := e.lockSession(sessionID)
	defer unlock()

	s, err := e.load(ctx, sessionID)
	if err != nil {
		return Turn{}, err
	}
	if s.Done {
		return Turn{}, ErrSessionClosed
	}
	return e.turn(ctx, s, func(ctx context.Context, r *run) {
		step, in := r.deliver(ctx, reply)
		r.loop(ctx, step, in)
	})
}

// turn runs body against s within the turn deadline, saves the session and
// starts the background work the turn scheduled.
func (e *Engine) turn(ctx context.Context, s *Session, body func(context.Context, *run)) (Turn, error) {
	start := e.now()
	if e.cfg.TurnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.TurnTimeout)
		defer cancel()
	}
	log := &genai.RecoveryLog{}
	ctx = genai.WithRecoveryLog(ctx, log)

	r := &run{e: e, s: s, log: log}
	body(ctx, r)
	r.finish()

	if err := e.save(s); err != nil {
		turnsTotal.WithLabelValues("error").Inc()
		return Turn{}, err
	}
	e.scheduleExtractions(r.extractions)

	result := "ok"
	if r.failed {
		result = "fallback"
	}
	turnsTotal.WithLabelValues(result).Inc()
	turnDuration.Observe(e.now().Sub(start).Seconds())
	return r.turn, nil
}

// Session returns the stored session.
func (e *Engine) Session(ctx context.Context, sessionID string) (*Session, error) {
	return e.load(ctx, sessionID)
}

// Delete removes a session.
func (e *Engine) Delete(ctx context.Context, sessionID string) error {
	unlock := e.lockSession(sessionID)
	defer unlock()

	if _, err := e.load(ctx, sessionID); err != nil {
		return err
	}
	if err := e.state.ResetState(ctx, sessionID, FlowTypeConversation); err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	e.mu.Lock()
	delete(e.locks, sessionID)
	e.mu.Unlock()
	return nil
}

// PurgeIdle removes sessions not updated for longer than idle and returns how
// many were removed. A session that takes a turn while the sweep runs is kept.
func (e *Engine) PurgeIdle(ctx context.Context, idle time.Duration) (int, error) {
	states, err := e.state.ListStates(ctx, FlowTypeConversation)
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}
	cutoff := e.now().Add(-idle)
	purged := 0
	for _, fs := range states {
		if err := ctx.Err(); err != nil {
			return purged, err
		}
		if !fs.UpdatedAt.Before(cutoff) {
			continue
		}
		ok, err := e.purgeIfIdle(ctx, fs.SessionID, cutoff)
		if err != nil {
			return purged, err
		}
		if ok {
			purged++
		}
	}
	sessionsPurged.Add(float64(purged))
	if purged > 0 {
		slog.Info("Engine.PurgeIdle: removed idle sessions", "count", purged, "idle", idle)
	}
	return purged, nil
}

func (e *Engine) purgeIfIdle(ctx context.Context, sessionID string, cutoff time.Time) (bool, error) {
	unlock := e.lockSession(sessionID)
	defer unlock()

	fs, err := e.state.LoadState(ctx, sessionID, FlowTypeConversation)
	if err != nil {
		return false, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if fs == nil || !fs.UpdatedAt.Before(cutoff) {
		return false, nil
	}
	if err := e.state.ResetState(ctx, sessionID, FlowTypeConversation); err != nil {
		return false, fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	e.mu.Lock()
	delete(e.locks, sessionID)
	e.mu.Unlock()
	return true, nil
}

// Wait blocks until in-process profile extractions have finished. Queued
// extraction jobs are not waited for.
func (e *Engine) Wait() {
	e.background.Wait()
}

func (e *Engine) lockSession(id string) func() {
	e.mu.Lock()
	l, ok := e.locks[id]
	if !ok {
		l = &sync.Mutex{}
		e.locks[id] = l
	}
	e.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (e *Engine) load(ctx context.Context, sessionID string) (*Session, error) {
	fs, err := e.state.LoadState(ctx, sessionID, FlowTypeConversation)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if fs == nil {
		return nil, ErrSessionNotFound
	}
	return decodeSession(fs)
}

func decodeSession(fs *models.FlowState) (*Session, error) {
	s := &Session{
		ID:        fs.SessionID,
		Profile:   models.NewUserProfile(),
		ReturnTo:  StepID(fs.StateData[DataKeyReturnTo]),
		Done:      fs.StateData[DataKeyDone] == "true",
		CreatedAt: fs.CreatedAt,
	}
	if raw := fs.StateData[DataKeyProfile]; raw != "" {
		if err := json.Unmarshal([]byte(raw), s.Profile); err != nil {
			return nil, fmt.Errorf("decode profile of session %s: %w", fs.SessionID, err)
		}
	}
	if raw := fs.StateData[DataKeySuspension]; raw != "" {
		var sp Suspension
		if err := json.Unmarshal([]byte(raw), &sp); err != nil {
			return nil, fmt.Errorf("decode suspension of session %s: %w", fs.SessionID, err)
		}
		s.Pending = &sp
	}
	return s, nil
}

// save stores the session. Stores do not take a context, so a turn that ran
// out of time is still saved.
func (e *Engine) save(s *Session) error {
	profile, err := json.Marshal(s.Profile)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	data := map[string]string{
		DataKeyProfile:  string(profile),
		DataKeyReturnTo: string(s.ReturnTo),
		DataKeyDone:     strconv.FormatBool(s.Done),
	}
	state := "done"
	if s.Pending != nil {
		raw, err := json.Marshal(s.Pending)
		if err != nil {
			return fmt.Errorf("encode suspension: %w", err)
		}
		data[DataKeySuspension] = string(raw)
		state = string(s.Pending.Step)
	}
	if err := e.state.SaveState(context.Background(), s.ID, FlowTypeConversation, state, data); err != nil {
		slog.Error("Engine.save: failed to save session", "sessionID", s.ID, "error", err)
		return fmt.Errorf("save session %s: %w", s.ID, err)
	}
	return nil
}

// extractionJob is a pending background profile extraction.
type extractionJob struct {
	SessionID string              `json:"session_id"`
	Text      string              `json:"text"`
	Snapshot  *models.UserProfile `json:"snapshot"`
}

// scheduleExtractions queues the extractions a turn asked for. A failed
// enqueue falls back to extracting in process.
func (e *Engine) scheduleExtractions(jobs []extractionJob) {
	for _, job := range jobs {
		if e.queue != nil {
			payload, err := json.Marshal(job)
			if err == nil {
				if _, err = e.queue.EnqueueJob(JobKindExtractProfile, time.Now(), string(payload), ""); err == nil {
					continue
				}
			}
			slog.Warn("Engine.scheduleExtractions: enqueue failed, extracting in process", "sessionID", job.SessionID, "error", err)
		}
		e.background.Add(1)
		go func(job extractionJob) {
			defer e.background.Done()
			e.extractProfile(context.Background(), job)
		}(job)
	}
}

// RegisterJobs installs the engine's job handlers on runner.
func (e *Engine) RegisterJobs(runner *store.JobRunner) {
	runner.Register(JobKindExtractProfile, e.runExtractionJob)
}

func (e *Engine) runExtractionJob(ctx context.Context, payload string) error {
	var job extractionJob
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		slog.Error("Engine.runExtractionJob: unreadable payload dropped", "error", err)
		return nil
	}
	if job.Snapshot == nil {
		job.Snapshot = models.NewUserProfile()
	}
	return e.extractProfile(ctx, job)
}

// extractProfile merges the facts stated in job.Text into the stored profile.
// The model call runs outside the session lock; the merge takes it so a turn
// in progress is not overwritten.
func (e *Engine) extractProfile(ctx context.Context, job extractionJob) error {
	if e.deps.Extractor == nil {
		return nil
	}
	if e.cfg.ExtractionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.ExtractionTimeout)
		defer cancel()
	}

	update, err := e.deps.Extractor.Extract(ctx, job.Text, job.Snapshot)
	if err != nil {
		slog.Warn("Engine.extractProfile: extraction failed", "sessionID", job.SessionID, "error", err)
		extractionsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("extract profile of session %s: %w", job.SessionID, err)
	}
	if update.IsEmpty() {
		extractionsTotal.WithLabelValues("empty").Inc()
		return nil
	}

	unlock := e.lockSession(job.SessionID)
	defer unlock()
	raw, err := e.state.GetStateData(ctx, job.SessionID, FlowTypeConversation, DataKeyProfile)
	if err != nil {
		extractionsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("load profile of session %s: %w", job.SessionID, err)
	}
	if raw == "" {
		slog.Info("Engine.extractProfile: session gone, extraction dropped", "sessionID", job.SessionID)
		extractionsTotal.WithLabelValues("dropped").Inc()
		return nil
	}
	profile := models.NewUserProfile()
	if err := json.Unmarshal([]byte(raw), profile); err != nil {
		slog.Warn("Engine.extractProfile: stored profile unreadable", "sessionID", job.SessionID, "error", err)
		extractionsTotal.WithLabelValues("error").Inc()
		return nil
	}
	models.UpdateState(profile, update)
	out, err := json.Marshal(profile)
	if err != nil {
		extractionsTotal.WithLabelValues("error").Inc()
		return nil
	}
	if err := e.state.SetStateData(ctx, job.SessionID, FlowTypeConversation, DataKeyProfile, string(out)); err != nil {
		slog.Error("Engine.extractProfile: failed to save profile", "sessionID", job.SessionID, "error", err)
		extractionsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("save profile of session %s: %w", job.SessionID, err)
	}
	slog.Debug("Engine.extractProfile: profile updated", "sessionID", job.SessionID)
	extractionsTotal.WithLabelValues("merged").Inc()
	return nil
}

// run is the state of one turn.
type run struct {
	e   *Engine
	s   *Session
	log *genai.RecoveryLog

	turn        Turn
	lastPrompt  string
	failed      bool
	extractions []extractionJob
}

// deliver consumes the pending suspension with reply and returns where the
// turn continues.
func (r *run) deliver(ctx context.Context, reply string) (StepID, stepInput) {
	sp := r.s.Pending
	r.s.Pending = nil
	r.s.Profile.Messages = append(r.s.Profile.Messages, "User: "+reply)
	if sp == nil {
		slog.Warn("Engine.deliver: session had no pending prompt", "sessionID", r.s.ID)
		return StepSupervisor, stepInput{}
	}
	r.lastPrompt = sp.Prompt

	if sp.Precheck && r.e.cfg.Precheck && r.e.deps.Prechecker != nil {
		res := r.e.deps.Prechecker.Check(ctx, sp.Prompt, reply)
		if res.Kind == advisor.ReplyQuestion || res.Kind == advisor.ReplyHandoff {
			slog.Info("Engine.deliver: reply diverted", "sessionID", r.s.ID, "step", sp.Step, "kind", res.Kind, "target", res.Target)
			key := BindUserQuery
			if res.Target == models.WorkflowPolicyComparison {
				key = BindIntentQuery
			}
			r.s.ReturnTo = sp.Step
			return r.transfer(&Handoff{Target: res.Target, Reason: res.Reason, Context: map[string]string{key: reply}}), stepInput{}
		}
	}

	switch {
	case sp.Bind != "":
		models.Apply(r.s.Profile, bindPatch(sp.Bind, reply))
		return sp.Step, stepInput{}
	case sp.Reenter:
		return sp.Step, stepInput{}
	}
	return sp.Step, stepInput{reply: &reply, context: sp.Context, attempts: sp.Attempts}
}

func bindPatch(field, value string) models.Patch {
	var patch models.Patch
	switch field {
	case BindIntentQuery:
		patch.UserIntentQuery = models.Text(value)
	case BindUserQuery:
		patch.UserQuery = models.Text(value)
	}
	return patch
}

// loop runs steps until one suspends or the conversation ends.
func (r *run) loop(ctx context.Context, step StepID, in stepInput) {
	for i := 0; ; i++ {
		if i >= r.e.cfg.MaxIterations {
			r.fail(&FallbackError{Step: step, Category: genai.CategoryExecutionError, Err: ErrIterationLimit})
			return
		}
		fn, ok := r.e.steps[step]
		if !ok {
			r.fail(&FallbackError{Step: step, Category: genai.CategoryExecutionError, Err: fmt.Errorf("unknown step %q", step)})
			return
		}

		r.s.Profile.CurrentWorkflow = step.Workflow()
		slog.Debug("Engine.loop: entering step", "sessionID", r.s.ID, "step", step, "fresh", in.fresh())
		out, err := fn(ctx, r.s, in)
		if err != nil {
			r.fail(newFallbackError(step, err))
			return
		}
		r.apply(step, out.Patch, out.Say)
		if out.Extract != "" {
			r.extractLater(out.Extract)
		}

		switch {
		case out.Suspend != nil:
			sp := out.Suspend
			if sp.Step == "" {
				sp.Step = step
			}
			if sp.Attempts >= r.e.cfg.MaxReasks {
				r.escalate(step, sp.Attempts)
				step, in = StepSupervisor, stepInput{}
				continue
			}
			r.suspend(sp)
			return
		case out.Handoff != nil:
			step, in = r.transfer(out.Handoff), stepInput{}
		case out.Return:
			target := r.s.ReturnTo
			if target == "" {
				target = StepSupervisor
			}
			r.s.ReturnTo = ""
			slog.Debug("Engine.loop: returning", "sessionID", r.s.ID, "from", step, "to", target)
			step, in = target, stepInput{}
		case out.Done:
			slog.Info("Engine.loop: conversation complete", "sessionID", r.s.ID)
			r.s.Done = true
			r.s.Pending = nil
			r.turn.Done = true
			return
		default:
			step, in = out.Next, stepInput{}
		}
	}
}

// apply records one transition.
func (r *run) apply(step StepID, patch models.Patch, say []string) {
	for _, msg := range say {
		patch.Say("Assistant: " + msg)
		r.turn.Messages = append(r.turn.Messages, msg)
	}
	models.Apply(r.s.Profile, patch)
	r.s.Profile.InteractionCount++
	transitionsTotal.WithLabelValues(string(step)).Inc()
}

func (r *run) suspend(sp *Suspension) {
	r.s.Pending = sp
	r.s.Profile.Messages = append(r.s.Profile.Messages, "Assistant: "+sp.Prompt)
	r.turn.Prompt = sp.Prompt
	r.turn.Step = sp.Step
	slog.Debug("Engine.suspend: awaiting reply", "sessionID", r.s.ID, "step", sp.Step, "attempts", sp.Attempts)
}

// transfer hands the conversation to another workflow and returns its entry step.
func (r *run) transfer(h *Handoff) StepID {
	reason := h.Reason
	if reason == "" {
		reason = "Specialized assistance"
	}
	var patch models.Patch
	for key, value := range h.Context {
		switch key {
		case BindUserQuery:
			patch.UserQuery = models.Text(value)
		case BindIntentQuery:
			patch.UserIntentQuery = models.Text(value)
		}
	}
	patch.Say(fmt.Sprintf("System: Successfully transferred to %s. Reason: %s", h.Target, reason))
	models.Apply(r.s.Profile, patch)
	r.s.Profile.InteractionCount++
	handoffsTotal.WithLabelValues(string(h.Target)).Inc()
	slog.Info("Engine.transfer: handing off", "sessionID", r.s.ID, "target", h.Target, "reason", reason)
	return entryStep(h.Target)
}

// escalate gives up on a field the user keeps answering invalidly.
func (r *run) escalate(step StepID, attempts int) {
	slog.Warn("Engine.escalate: too many invalid replies, returning to supervisor", "sessionID", r.s.ID, "step", step, "attempts", attempts)
	escalationsTotal.Inc()
	var patch models.Patch
	patch.UserIntentQuery = models.Cleared[*string]()
	r.s.ReturnTo = ""
	r.apply(step, patch, []string{escalationMessage})
}

// fail hands a step failure to the fallback handler and suspends with its
// message.
func (r *run) fail(fe *FallbackError) {
	r.failed = true
	resp := fallbackFor(fe)
	var patch models.Patch
	if resp.silent {
		slog.Info("Engine.fail: interrupted step, resuming", "sessionID", r.s.ID, "step", fe.Step, "error", fe.Err)
		prompt := r.lastPrompt
		if prompt == "" {
			prompt = GenericFallbackMessage
		}
		r.apply(fe.Step, patch, nil)
		r.suspend(&Suspension{Step: fe.Step, Prompt: prompt, Reenter: true})
		return
	}

	slog.Error("Engine.fail: step failed", "sessionID", r.s.ID, "step", fe.Step, "category", fe.Category, "error", fe.Err)
	fallbacksTotal.WithLabelValues(string(fe.Category)).Inc()
	patch.Fallback = models.Some(fallbackRecord(fe, resp, r.log.Entries(), r.e.now().UTC().Format(time.RFC3339)))
	r.apply(fe.Step, patch, nil)
	r.suspend(fallbackSuspension(fe.Step, resp.message))
}

// finish fills in the turn summary and records in-place recoveries of a turn
// that did not fail.
func (r *run) finish() {
	if !r.failed {
		if record, ok := recoveryRecord(r.log.Entries(), r.e.now().UTC().Format(time.RFC3339)); ok {
			r.s.Profile.Fallback = record
		}
	}
	r.turn.SessionID = r.s.ID
	r.turn.Workflow = r.s.Profile.CurrentWorkflow
}

// extractLater schedules a background profile extraction of text.
func (r *run) extractLater(text string) {
	if r.e.deps.Extractor == nil {
		return
	}
	r.extractions = append(r.extractions, extractionJob{SessionID: r.s.ID, Text: text, Snapshot: r.s.Profile.Clone()})
}
