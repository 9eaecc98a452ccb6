package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/wybot-bridge/internal/infrastructure/config"
	"github.com/nerrad567/wybot-bridge/internal/transport"
	"github.com/nerrad567/wybot-bridge/internal/wybot"
)

// primingDelays are the post-connect status query offsets. Querying
// immediately after connect races the broker session; the staggered
// re-asks coax state out of devices on flaky links without an
// unbounded retry loop.
var primingDelays = []time.Duration{2 * time.Second, 8 * time.Second, 20 * time.Second}

// Transport is the asynchronous broker channel the coordinator
// consumes. Delivery is at-least-once with possible long gaps.
type Transport interface {
	Connect() error
	Reconnect()
	Close() error
	IsConnected() bool
	SubscribeTarget(targetID string) (bool, error)
	PublishQuery(targetID string, env wybot.Envelope) error
	PublishWrite(targetID string, env wybot.Envelope) error
	SetOnFrame(handler transport.FrameHandler)
	SetOnConnectionState(handler transport.ConnectionHandler)
}

// Loader fetches the device inventory. It returns an empty map on
// failure, never an error.
type Loader interface {
	Snapshot(ctx context.Context) map[string]*wybot.Group
}

// HistorySink records merged DP changes. Optional.
type HistorySink interface {
	Record(targetID string, dp wybot.DP, summary string, reportedTS int64) error
}

// TelemetrySink writes merged DP values to a time-series store.
// Optional; writes are fire-and-forget.
type TelemetrySink interface {
	WriteDP(targetID, model string, dp wybot.DP)
}

// Logger interface for coordinator diagnostics.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// Options tune the reconciliation behaviour. Zero values fall back to
// the defaults used in production.
type Options struct {
	// RefreshInterval drives the periodic transport health check.
	RefreshInterval time.Duration

	// OfflineTTL bounds the traffic-freshness fallback used when no
	// explicit presence signal has ever been recorded for a target.
	OfflineTTL time.Duration

	// PushDebounce is the notification coalescing window.
	PushDebounce time.Duration

	// ReconnectBackoff is the minimum gap between reconnect attempts.
	ReconnectBackoff time.Duration

	// DP0Delay separates a combined mode/duration write from its DP0
	// start/stop write. Sending both at once drops the start on some
	// firmwares.
	DP0Delay time.Duration

	// TSOffset is added to wall-clock time when issuing command
	// timestamps.
	TSOffset time.Duration
}

// OptionsFromConfig maps the coordinator section of the configuration
// into Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		RefreshInterval:  cfg.GetRefreshInterval(),
		OfflineTTL:       cfg.GetOfflineTTL(),
		PushDebounce:     cfg.GetPushDebounce(),
		ReconnectBackoff: cfg.GetReconnectBackoff(),
		DP0Delay:         cfg.GetDP0Delay(),
		TSOffset:         time.Duration(cfg.Coordinator.TSOffset) * time.Second,
	}
}

func (o Options) withDefaults() Options {
	if o.RefreshInterval <= 0 {
		o.RefreshInterval = 120 * time.Second
	}
	if o.OfflineTTL <= 0 {
		o.OfflineTTL = 180 * time.Second
	}
	if o.PushDebounce < 0 {
		o.PushDebounce = 0
	}
	if o.ReconnectBackoff <= 0 {
		o.ReconnectBackoff = 30 * time.Second
	}
	return o
}

// Coordinator reconciles inventory snapshots and telemetry into one
// consistent device view.
//
// Thread Safety:
//   - All exported methods are safe for concurrent use. Reads return
//     copies or scalars, never references into mutable state.
type Coordinator struct {
	opts      Options
	transport Transport
	loader    Loader

	logger   Logger
	loggerMu sync.RWMutex

	history   HistorySink
	telemetry TelemetrySink

	// mu serializes every mutation of the canonical state below.
	mu sync.Mutex

	// data is the canonical Group map, replaced wholesale by snapshots
	// and mutated in place by telemetry merges.
	data map[string]*wybot.Group

	// online holds the explicit tri-state flag per target id: a nil
	// entry value means tracked-but-unknown. Presence signals and
	// nothing else set it; plain telemetry only refreshes lastHeard.
	online    map[string]*bool
	lastHeard map[string]time.Time

	// Causal timestamp ratchets per target id, in device time.
	lastSeenTS map[string]int64
	lastSentTS map[string]int64

	connected     bool
	lastReconnect time.Time

	// Debounced notification state.
	pushScheduled bool
	pushTimer     *time.Timer
	subscribers   []func()

	// primeGen invalidates pending priming timers: a timer fires only
	// if the generation it captured is still current.
	primeGen    uint64
	primeTimers []*time.Timer

	// delayTimers holds pending split DP0 publishes.
	delayTimers map[*time.Timer]struct{}

	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}

	// now is swappable for tests.
	now func() time.Time
}

// New builds a coordinator. Call Start to connect the transport and
// load the initial inventory.
func New(t Transport, loader Loader, opts Options) *Coordinator {
	c := &Coordinator{
		opts:        opts.withDefaults(),
		transport:   t,
		loader:      loader,
		logger:      noopLogger{},
		data:        make(map[string]*wybot.Group),
		online:      make(map[string]*bool),
		lastHeard:   make(map[string]time.Time),
		lastSeenTS:  make(map[string]int64),
		lastSentTS:  make(map[string]int64),
		delayTimers: make(map[*time.Timer]struct{}),
		done:        make(chan struct{}),
		now:         time.Now,
	}

	t.SetOnFrame(c.handleFrame)
	t.SetOnConnectionState(c.handleConnectionState)

	return c
}

// SetLogger sets a logger for reconciliation diagnostics.
func (c *Coordinator) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// SetHistorySink attaches a DP change recorder.
func (c *Coordinator) SetHistorySink(sink HistorySink) {
	c.mu.Lock()
	c.history = sink
	c.mu.Unlock()
}

// SetTelemetrySink attaches a time-series writer.
func (c *Coordinator) SetTelemetrySink(sink TelemetrySink) {
	c.mu.Lock()
	c.telemetry = sink
	c.mu.Unlock()
}

// OnUpdate registers a callback invoked (debounced) after state
// changes. Callbacks run outside the coordinator lock and should read
// state through the accessor methods.
func (c *Coordinator) OnUpdate(fn func()) {
	c.mu.Lock()
	c.subscribers = append(c.subscribers, fn)
	c.mu.Unlock()
}

// Start connects the transport, loads the initial inventory, and
// begins the periodic health check. A transport connect failure is
// logged, not fatal: the session keeps retrying in the background and
// last-known state continues to be served.
func (c *Coordinator) Start(ctx context.Context) {
	if err := c.transport.Connect(); err != nil {
		c.getLogger().Warn("initial broker connect failed, retrying in background", "error", err)
	}

	c.RefreshSnapshot(ctx)

	runCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	go c.run(runCtx)
}

// run drives the periodic health check until Stop.
func (c *Coordinator) run(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.opts.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.healthTick()
		}
	}
}

// healthTick verifies transport connectivity and attempts a
// rate-limited reconnect when the session is down. Failures are
// logged, never escalated.
func (c *Coordinator) healthTick() {
	if c.transport.IsConnected() {
		return
	}
	c.maybeReconnect()
}

// maybeReconnect triggers a reconnect attempt, gated so attempts
// happen at most once per backoff window regardless of how many
// callers ask.
func (c *Coordinator) maybeReconnect() {
	c.mu.Lock()
	now := c.now()
	if c.stopped || now.Sub(c.lastReconnect) < c.opts.ReconnectBackoff {
		c.mu.Unlock()
		return
	}
	c.lastReconnect = now
	c.mu.Unlock()

	c.getLogger().Debug("attempting broker reconnect")
	go c.transport.Reconnect()
}

// Stop shuts the coordinator down: new frames are dropped, pending
// delayed work is cancelled, then the transport is closed, in that
// order.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true

	if c.pushTimer != nil {
		c.pushTimer.Stop()
		c.pushTimer = nil
	}
	c.pushScheduled = false

	for _, t := range c.primeTimers {
		t.Stop()
	}
	c.primeTimers = nil

	for t := range c.delayTimers {
		t.Stop()
	}
	c.delayTimers = make(map[*time.Timer]struct{})

	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-c.done
	}

	if err := c.transport.Close(); err != nil {
		c.getLogger().Warn("transport close failed", "error", err)
	}
}

// RefreshSnapshot fetches the inventory and replaces the canonical
// Group map wholesale, preserving online tracking for targets already
// known. An empty fetch result while state exists is treated as a
// failed fetch and the last good snapshot is kept.
func (c *Coordinator) RefreshSnapshot(ctx context.Context) {
	groups := c.loader.Snapshot(ctx)

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}

	if len(groups) == 0 && len(c.data) > 0 {
		c.mu.Unlock()
		c.getLogger().Warn("empty inventory snapshot, keeping last good state")
		return
	}

	c.data = groups

	var targets []string
	for _, g := range groups {
		for _, tid := range g.TargetIDs() {
			if _, tracked := c.online[tid]; !tracked {
				c.online[tid] = nil
			}
			targets = append(targets, tid)
		}
	}
	connected := c.connected
	c.mu.Unlock()

	c.getLogger().Info("inventory snapshot loaded", "groups", len(groups), "targets", len(targets))

	for _, tid := range targets {
		if _, err := c.transport.SubscribeTarget(tid); err != nil {
			c.getLogger().Debug("subscribe deferred", "target_id", tid, "error", err)
		}
		// Every subscribe, new or repeated, asks for fresh status.
		c.queryTarget(tid)
	}

	if connected {
		c.schedulePriming(targets)
	}

	c.requestPush()
}

// schedulePriming arms staggered status queries for the given
// targets. Timers capture the current generation and fire only while
// it is unchanged and the session is still up; a disconnect bumps the
// generation and strands them.
func (c *Coordinator) schedulePriming(targets []string) {
	if len(targets) == 0 {
		return
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	gen := c.primeGen
	for _, delay := range primingDelays {
		delay := delay
		timer := time.AfterFunc(delay, func() {
			c.firePriming(gen, targets)
		})
		c.primeTimers = append(c.primeTimers, timer)
	}
	c.mu.Unlock()
}

// firePriming re-checks its preconditions before querying: the
// connection must still be up and no disconnect may have superseded
// the generation the timer captured.
func (c *Coordinator) firePriming(gen uint64, targets []string) {
	c.mu.Lock()
	ok := !c.stopped && c.connected && gen == c.primeGen
	c.mu.Unlock()
	if !ok {
		return
	}

	for _, tid := range targets {
		c.queryTarget(tid)
	}
}

// queryTarget publishes the fixed status query with a fresh causal
// timestamp. Publish failures are logged and dropped.
func (c *Coordinator) queryTarget(targetID string) {
	env := wybot.NewQueryEnvelope()
	env.TS = c.nextTS(targetID)
	if err := c.transport.PublishQuery(targetID, env); err != nil {
		c.getLogger().Debug("status query failed", "target_id", targetID, "error", err)
	}
}

// handleConnectionState reacts to broker connect/disconnect events
// from the transport's I/O loop.
func (c *Coordinator) handleConnectionState(connected bool) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.connected = connected
	if !connected {
		// Strand pending priming timers.
		c.primeGen++
	}
	var targets []string
	if connected {
		for _, g := range c.data {
			targets = append(targets, g.TargetIDs()...)
		}
	}
	c.mu.Unlock()

	c.getLogger().Info("broker connection state", "connected", connected)

	if connected && len(targets) > 0 {
		c.schedulePriming(targets)
	}

	c.requestPush()
}

// requestPush schedules a debounced subscriber notification. At most
// one notification fires per window; the callbacks run after the
// window closes so they observe every merge that happened inside it.
func (c *Coordinator) requestPush() {
	c.mu.Lock()
	if c.stopped || c.pushScheduled {
		c.mu.Unlock()
		return
	}
	c.pushScheduled = true
	c.pushTimer = time.AfterFunc(c.opts.PushDebounce, c.firePush)
	c.mu.Unlock()
}

func (c *Coordinator) firePush() {
	c.mu.Lock()
	c.pushScheduled = false
	c.pushTimer = nil
	if c.stopped {
		c.mu.Unlock()
		return
	}
	subs := make([]func(), len(c.subscribers))
	copy(subs, c.subscribers)
	c.mu.Unlock()

	for _, fn := range subs {
		fn()
	}
}

// markHeard refreshes freshness for a target. The explicit online
// flag is left alone: ordinary traffic neither sets nor clears it,
// only presence signals do. While the flag is unknown, fresh traffic
// makes the target considered-online through the TTL fallback.
func (c *Coordinator) markHeard(targetID string) {
	c.lastHeard[targetID] = c.now()
	if _, tracked := c.online[targetID]; !tracked {
		c.online[targetID] = nil
	}
}

// setOnline records an explicit presence flag. nil records "signal
// received but unparsable", which leaves the previous flag alone.
func (c *Coordinator) setOnline(targetID string, online *bool) {
	if online == nil {
		return
	}
	v := *online
	c.online[targetID] = &v
	if v {
		c.lastHeard[targetID] = c.now()
	}
}

// nextTS issues the next causal timestamp for a target: strictly
// greater than everything seen from it and everything sent to it, and
// never behind the (offset-adjusted) wall clock.
func (c *Coordinator) nextTS(targetID string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextTSLocked(targetID)
}

func (c *Coordinator) nextTSLocked(targetID string) int64 {
	now := c.now().Add(c.opts.TSOffset).Unix()
	out := now
	if seen := c.lastSeenTS[targetID]; seen+1 > out {
		out = seen + 1
	}
	if sent := c.lastSentTS[targetID]; sent+1 > out {
		out = sent + 1
	}
	c.lastSentTS[targetID] = out
	return out
}

// noteSeenTS ratchets the highest timestamp observed from a target.
// Never regresses.
func (c *Coordinator) noteSeenTS(targetID string, ts int64) {
	if ts > c.lastSeenTS[targetID] {
		c.lastSeenTS[targetID] = ts
	}
}

func (c *Coordinator) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}
