// Package reconnect owns the login retry policy: it decides when a login
// attempt runs, serialises attempts, and reports outcomes.
package reconnect

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/portalkeep/portalkeep/internal/config"
	"github.com/portalkeep/portalkeep/internal/config/store"
	"github.com/portalkeep/portalkeep/internal/eventbus"
	"github.com/portalkeep/portalkeep/internal/history"
	"github.com/portalkeep/portalkeep/internal/portal"
)

// Attempter performs a single classified login attempt.
type Attempter interface {
	Attempt(ctx context.Context, cfg *config.Config) portal.Outcome
}

// Recorder persists finished attempts. The history store satisfies it.
type Recorder interface {
	RecordAttempt(ctx context.Context, attempt history.Attempt) error
}

// State describes what the controller is currently doing.
type State string

const (
	StateIdle            State = "idle"
	StateAttemptInFlight State = "attempt_in_flight"
)

// Trigger names why an attempt was started.
type Trigger string

const (
	TriggerManual   Trigger = eventbus.TriggerManual
	TriggerReactive Trigger = eventbus.TriggerReactive
	TriggerPeriodic Trigger = eventbus.TriggerPeriodic
)

var (
	// ErrAttemptInFlight is returned when a manual login request arrives
	// while another attempt is still running.
	ErrAttemptInFlight = errors.New("reconnect: login attempt already in flight")

	// ErrAutoReconnectForced is returned when the configuration locks the
	// auto-reconnect toggle on.
	ErrAutoReconnectForced = errors.New("reconnect: auto-reconnect is forced on by configuration")

	// ErrInvalidInterval rejects out-of-range interval settings.
	ErrInvalidInterval = errors.New("reconnect: invalid interval")
)

// refusalMessage is published when an attempt is refused because the
// configuration still carries placeholder credentials.
const refusalMessage = "credentials not configured"

// reactiveRefusalWindow rate-limits refusal outcomes for reactive triggers.
// Probes fail every cycle on an unconfigured install; one published refusal
// per window keeps observers informed without flooding them.
const reactiveRefusalWindow = 5 * time.Minute

// Status is a point-in-time snapshot of the controller and its settings.
type Status struct {
	State                  State
	AutoReconnect          bool
	EffectiveAutoReconnect bool
	ForcedAutoReconnect    bool
	CheckInterval          int
	PeriodicLoginInterval  int
	CredentialsConfigured  bool
	Username               string
	// PeriodicLoginDue is the next scheduled unconditional login, zero when
	// the periodic timer is disabled.
	PeriodicLoginDue time.Time
	LastOutcome      *eventbus.LoginOutcomeEvent
	LastProbe        *eventbus.ProbeStatusEvent
}

type commandKind int

const (
	cmdLogin commandKind = iota
	cmdSetAutoReconnect
	cmdSetCheckInterval
	cmdSetPeriodicInterval
	cmdReloadConfig
)

type command struct {
	kind    commandKind
	enabled bool
	seconds int
	reply   chan commandReply
}

type commandReply struct {
	attemptID string
	err       error
}

type attemptResult struct {
	id      string
	trigger Trigger
	started time.Time
	outcome portal.Outcome
}

// Controller runs a single decision loop over login triggers. Manual
// requests, probe failures and the periodic timer all funnel into the same
// loop, which guarantees at most one attempt in flight and drops triggers
// that arrive while one is running.
type Controller struct {
	bus       *eventbus.Bus
	store     *store.Store
	attempter Attempter
	recorder  Recorder
	logger    *log.Logger
	lifecycle eventbus.ServiceLifecycle

	commands chan command
	results  chan attemptResult

	// timeUnit scales the configured periodic interval. Production uses
	// seconds; tests shrink it to keep timer cases fast.
	timeUnit time.Duration

	// lastReactiveRefusal is only touched from the run loop.
	lastReactiveRefusal time.Time

	mu           sync.Mutex
	state        State
	periodicNext time.Time
	lastOutcome  *eventbus.LoginOutcomeEvent
	lastProbe    *eventbus.ProbeStatusEvent
}

// Option customises the controller.
type Option func(*Controller)

// WithLogger overrides the logger.
func WithLogger(logger *log.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRecorder wires an attempt log. Without one, outcomes are only
// published on the bus.
func WithRecorder(recorder Recorder) Option {
	return func(c *Controller) {
		c.recorder = recorder
	}
}

// New constructs a controller over the given config store and attempter.
func New(bus *eventbus.Bus, cfgStore *store.Store, attempter Attempter, opts ...Option) *Controller {
	c := &Controller{
		bus:       bus,
		store:     cfgStore,
		attempter: attempter,
		logger:    log.Default(),
		commands:  make(chan command),
		results:   make(chan attemptResult, 1),
		timeUnit:  time.Second,
		state:     StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start launches the decision loop. Bus subscriptions are created here,
// before the loop goroutine runs, so events published as soon as Start
// returns are never missed.
func (c *Controller) Start(ctx context.Context) error {
	c.lifecycle.Start(ctx)
	probeSub := eventbus.SubscribeTo(c.bus, eventbus.Probe.Status,
		eventbus.WithSubscriptionName("reconnect.probe"))
	reloadSub := eventbus.SubscribeTo(c.bus, eventbus.Config.Reloaded,
		eventbus.WithSubscriptionName("reconnect.reload"))
	c.lifecycle.Go(func(ctx context.Context) {
		c.run(ctx, probeSub, reloadSub)
	})
	return nil
}

// Shutdown stops the loop and waits for it, including any in-flight attempt.
func (c *Controller) Shutdown(ctx context.Context) error {
	return c.lifecycle.Shutdown(ctx)
}

// RequestLogin asks for a manual login attempt. It returns the attempt ID,
// or ErrAttemptInFlight when another attempt is already running.
func (c *Controller) RequestLogin(ctx context.Context) (string, error) {
	reply, err := c.send(ctx, command{kind: cmdLogin})
	if err != nil {
		return "", err
	}
	return reply.attemptID, reply.err
}

// SetAutoReconnect updates and persists the auto-reconnect toggle. When the
// configuration forces auto-reconnect on, the change is rejected with
// ErrAutoReconnectForced.
func (c *Controller) SetAutoReconnect(ctx context.Context, enabled bool) error {
	reply, err := c.send(ctx, command{kind: cmdSetAutoReconnect, enabled: enabled})
	if err != nil {
		return err
	}
	return reply.err
}

// SetCheckInterval updates and persists the probe interval in seconds.
func (c *Controller) SetCheckInterval(ctx context.Context, seconds int) error {
	reply, err := c.send(ctx, command{kind: cmdSetCheckInterval, seconds: seconds})
	if err != nil {
		return err
	}
	return reply.err
}

// SetPeriodicLoginInterval updates and persists the unconditional re-login
// interval in seconds. Zero disables it. A pending timer is rescheduled
// immediately.
func (c *Controller) SetPeriodicLoginInterval(ctx context.Context, seconds int) error {
	reply, err := c.send(ctx, command{kind: cmdSetPeriodicInterval, seconds: seconds})
	if err != nil {
		return err
	}
	return reply.err
}

// RequestConfigReload re-reads the configuration file and announces the new
// snapshot on the bus.
func (c *Controller) RequestConfigReload(ctx context.Context) error {
	reply, err := c.send(ctx, command{kind: cmdReloadConfig})
	if err != nil {
		return err
	}
	return reply.err
}

// Status returns a snapshot of controller state and effective settings.
func (c *Controller) Status() Status {
	cfg := c.store.Current()

	c.mu.Lock()
	st := Status{
		State:            c.state,
		PeriodicLoginDue: c.periodicNext,
		LastOutcome:      c.lastOutcome,
		LastProbe:        c.lastProbe,
	}
	c.mu.Unlock()

	if cfg != nil {
		st.AutoReconnect = cfg.Settings.AutoReconnect
		st.EffectiveAutoReconnect = cfg.EffectiveAutoReconnect()
		st.ForcedAutoReconnect = cfg.Settings.ForcedAutoReconnect
		st.CheckInterval = cfg.Settings.CheckInterval
		st.PeriodicLoginInterval = cfg.Settings.PeriodicLoginInterval
		st.CredentialsConfigured = cfg.CredentialsConfigured()
		st.Username = cfg.Username()
	}
	return st
}

func (c *Controller) send(ctx context.Context, cmd command) (commandReply, error) {
	cmd.reply = make(chan commandReply, 1)

	loopCtx := c.lifecycle.Context()
	if loopCtx == nil {
		return commandReply{}, errors.New("reconnect: controller not started")
	}

	select {
	case c.commands <- cmd:
	case <-ctx.Done():
		return commandReply{}, ctx.Err()
	case <-loopCtx.Done():
		return commandReply{}, errors.New("reconnect: controller stopped")
	}

	select {
	case reply := <-cmd.reply:
		return reply, nil
	case <-ctx.Done():
		return commandReply{}, ctx.Err()
	}
}

func (c *Controller) run(ctx context.Context,
	probeSub *eventbus.TypedSubscription[eventbus.ProbeStatusEvent],
	reloadSub *eventbus.TypedSubscription[eventbus.ConfigReloadedEvent],
) {
	defer probeSub.Close()
	defer reloadSub.Close()

	var periodic *time.Timer
	var periodicC <-chan time.Time

	schedule := func() {
		if periodic != nil {
			periodic.Stop()
			periodic = nil
			periodicC = nil
		}
		cfg := c.store.Current()
		if cfg == nil || cfg.Settings.PeriodicLoginInterval <= 0 {
			c.mu.Lock()
			c.periodicNext = time.Time{}
			c.mu.Unlock()
			return
		}
		interval := time.Duration(cfg.Settings.PeriodicLoginInterval) * c.timeUnit
		periodic = time.NewTimer(interval)
		periodicC = periodic.C
		c.mu.Lock()
		c.periodicNext = time.Now().Add(interval)
		c.mu.Unlock()
	}
	schedule()
	defer func() {
		if periodic != nil {
			periodic.Stop()
		}
	}()

	probeC := probeSub.C()
	reloadC := reloadSub.C()

	for {
		select {
		case <-ctx.Done():
			return

		case cmd := <-c.commands:
			cmd.reply <- c.handleCommand(ctx, cmd, schedule)

		case env, ok := <-probeC:
			if !ok {
				probeC = nil
				continue
			}
			c.mu.Lock()
			probe := env.Payload
			c.lastProbe = &probe
			c.mu.Unlock()
			if !env.Payload.Reachable {
				c.maybeReconnect(ctx)
			}

		case _, ok := <-reloadC:
			if !ok {
				reloadC = nil
				continue
			}
			// A new snapshot may carry a different periodic interval.
			schedule()

		case <-periodicC:
			periodicC = nil
			if _, err := c.begin(ctx, TriggerPeriodic); err != nil {
				c.logger.Printf("[Reconnect] periodic login skipped: %v", err)
			}
			schedule()

		case res := <-c.results:
			c.finish(ctx, res)
		}
	}
}

func (c *Controller) handleCommand(ctx context.Context, cmd command, schedule func()) commandReply {
	switch cmd.kind {
	case cmdLogin:
		id, err := c.begin(ctx, TriggerManual)
		return commandReply{attemptID: id, err: err}

	case cmdSetAutoReconnect:
		cfg := c.store.Current()
		if cfg == nil {
			return commandReply{err: store.ErrNotLoaded}
		}
		if cfg.Settings.ForcedAutoReconnect {
			return commandReply{err: ErrAutoReconnectForced}
		}
		next := cfg.Clone()
		next.Settings.AutoReconnect = cmd.enabled
		return commandReply{err: c.store.Save(next)}

	case cmdSetCheckInterval:
		if cmd.seconds < 1 {
			return commandReply{err: fmt.Errorf("%w: check interval %d", ErrInvalidInterval, cmd.seconds)}
		}
		cfg := c.store.Current()
		if cfg == nil {
			return commandReply{err: store.ErrNotLoaded}
		}
		next := cfg.Clone()
		next.Settings.CheckInterval = cmd.seconds
		return commandReply{err: c.store.Save(next)}

	case cmdSetPeriodicInterval:
		if cmd.seconds < 0 {
			return commandReply{err: fmt.Errorf("%w: periodic login interval %d", ErrInvalidInterval, cmd.seconds)}
		}
		cfg := c.store.Current()
		if cfg == nil {
			return commandReply{err: store.ErrNotLoaded}
		}
		next := cfg.Clone()
		next.Settings.PeriodicLoginInterval = cmd.seconds
		if err := c.store.Save(next); err != nil {
			return commandReply{err: err}
		}
		schedule()
		return commandReply{}

	case cmdReloadConfig:
		if _, err := c.store.Reload(); err != nil {
			return commandReply{err: err}
		}
		eventbus.Publish(ctx, c.bus, eventbus.Config.Reloaded, eventbus.SourceReconnectController,
			eventbus.ConfigReloadedEvent{Path: c.store.Path()})
		schedule()
		return commandReply{}

	default:
		return commandReply{err: fmt.Errorf("reconnect: unknown command %d", cmd.kind)}
	}
}

// maybeReconnect reacts to a failed probe: start an attempt if auto
// reconnect is effectively enabled and nothing is already running.
func (c *Controller) maybeReconnect(ctx context.Context) {
	cfg := c.store.Current()
	if cfg == nil || !cfg.EffectiveAutoReconnect() {
		return
	}
	if !cfg.CredentialsConfigured() {
		// Publish at most one refusal outcome per window; further failed
		// probes within it are only logged.
		if time.Since(c.lastReactiveRefusal) < reactiveRefusalWindow {
			c.logger.Printf("[Reconnect] reactive login skipped: %s", refusalMessage)
			return
		}
		c.lastReactiveRefusal = time.Now()
	}
	if _, err := c.begin(ctx, TriggerReactive); err != nil {
		if !errors.Is(err, ErrAttemptInFlight) {
			c.logger.Printf("[Reconnect] reactive login skipped: %v", err)
		}
	}
}

// begin starts an attempt unless one is already running. Attempts with
// placeholder credentials are refused up front: a failure outcome is
// published without any network call.
func (c *Controller) begin(ctx context.Context, trigger Trigger) (string, error) {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		c.logger.Printf("[Reconnect] %s trigger dropped: attempt already in flight", trigger)
		return "", ErrAttemptInFlight
	}

	cfg := c.store.Current()
	if cfg == nil {
		c.mu.Unlock()
		return "", store.ErrNotLoaded
	}

	id := uuid.NewString()
	started := time.Now()

	if !cfg.CredentialsConfigured() {
		c.mu.Unlock()
		c.logger.Printf("[Reconnect] %s login refused: %s", trigger, refusalMessage)
		c.finish(ctx, attemptResult{
			id:      id,
			trigger: trigger,
			started: started,
			outcome: portal.Outcome{Status: portal.StatusFailure, Message: refusalMessage},
		})
		return id, nil
	}

	c.state = StateAttemptInFlight
	c.mu.Unlock()

	c.logger.Printf("[Reconnect] starting %s login attempt %s", trigger, id)

	c.lifecycle.Go(func(ctx context.Context) {
		outcome := c.attempter.Attempt(ctx, cfg)
		// Never blocks: capacity 1 and at most one attempt in flight.
		c.results <- attemptResult{id: id, trigger: trigger, started: started, outcome: outcome}
	})

	return id, nil
}

// finish records and publishes a completed attempt and returns to idle.
func (c *Controller) finish(ctx context.Context, res attemptResult) {
	finished := time.Now()

	event := eventbus.LoginOutcomeEvent{
		AttemptID:  res.id,
		Trigger:    string(res.trigger),
		Status:     string(res.outcome.Status),
		Message:    res.outcome.Message,
		StartedAt:  res.started.UTC(),
		FinishedAt: finished.UTC(),
	}

	c.mu.Lock()
	c.state = StateIdle
	c.lastOutcome = &event
	c.mu.Unlock()

	c.logger.Printf("[Reconnect] attempt %s finished: %s (%s)", res.id, event.Status, event.Message)

	if c.recorder != nil {
		recordCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := c.recorder.RecordAttempt(recordCtx, history.Attempt{
			ID:         event.AttemptID,
			Trigger:    event.Trigger,
			Status:     event.Status,
			Message:    event.Message,
			StartedAt:  event.StartedAt,
			FinishedAt: event.FinishedAt,
		}); err != nil {
			c.logger.Printf("[Reconnect] record attempt %s: %v", res.id, err)
		}
		cancel()
	}

	eventbus.PublishWithOpts(ctx, c.bus, eventbus.Login.Outcome, eventbus.SourceReconnectController,
		event, eventbus.WithCorrelationID(res.id))
}
