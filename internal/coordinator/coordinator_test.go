package coordinator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/wybot-bridge/internal/transport"
	"github.com/nerrad567/wybot-bridge/internal/wybot"
)

// publishRec captures one publish with its arrival time.
type publishRec struct {
	target string
	env    wybot.Envelope
	at     time.Time
}

// fakeTransport implements Transport in-memory.
type fakeTransport struct {
	mu         sync.Mutex
	connected  bool
	subscribes map[string]int
	queries    []publishRec
	writes     []publishRec
	reconnects int

	onFrame transport.FrameHandler
	onConn  transport.ConnectionHandler
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		connected:  true,
		subscribes: make(map[string]int),
	}
}

func (f *fakeTransport) Connect() error { return nil }
func (f *fakeTransport) Close() error   { return nil }

func (f *fakeTransport) Reconnect() {
	f.mu.Lock()
	f.reconnects++
	f.mu.Unlock()
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) setConnected(v bool) {
	f.mu.Lock()
	f.connected = v
	f.mu.Unlock()
}

func (f *fakeTransport) SubscribeTarget(targetID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribes[targetID]++
	return f.subscribes[targetID] == 1, nil
}

func (f *fakeTransport) PublishQuery(targetID string, env wybot.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, publishRec{target: targetID, env: env, at: time.Now()})
	return nil
}

func (f *fakeTransport) PublishWrite(targetID string, env wybot.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, publishRec{target: targetID, env: env, at: time.Now()})
	return nil
}

func (f *fakeTransport) SetOnFrame(h transport.FrameHandler)           { f.onFrame = h }
func (f *fakeTransport) SetOnConnectionState(h transport.ConnectionHandler) { f.onConn = h }

func (f *fakeTransport) queryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

func (f *fakeTransport) writeRecords() []publishRec {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]publishRec, len(f.writes))
	copy(out, f.writes)
	return out
}

func (f *fakeTransport) reconnectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reconnects
}

// fakeLoader serves a fixed inventory.
type fakeLoader struct {
	groups map[string]*wybot.Group
}

func (f *fakeLoader) Snapshot(context.Context) map[string]*wybot.Group {
	out := make(map[string]*wybot.Group, len(f.groups))
	for id, g := range f.groups {
		out[id] = g.Clone()
	}
	return out
}

func inventory() map[string]*wybot.Group {
	return map[string]*wybot.Group{
		"g1": {
			ID:   "g1",
			Name: "Pool",
			Device: &wybot.Device{
				DeviceID:   "d1",
				DeviceName: "Garden Robot",
				DeviceType: "WY460",
			},
		},
	}
}

func testOptions() Options {
	return Options{
		RefreshInterval:  time.Hour, // keep the ticker out of tests
		OfflineTTL:       180 * time.Second,
		PushDebounce:     40 * time.Millisecond,
		ReconnectBackoff: 30 * time.Second,
		DP0Delay:         60 * time.Millisecond,
	}
}

func newTestCoordinator(t *testing.T) (*Coordinator, *fakeTransport) {
	t.Helper()
	ft := newFakeTransport()
	c := New(ft, &fakeLoader{groups: inventory()}, testOptions())
	t.Cleanup(c.Stop)
	return c, ft
}

func deliverData(ft *fakeTransport, targetID, payload string) {
	ft.onFrame(transport.KindData, targetID, transport.DataTopic(targetID), []byte(payload))
}

func deliverWill(ft *fakeTransport, targetID, payload string) {
	ft.onFrame(transport.KindWill, targetID, transport.WillTopic(targetID), []byte(payload))
}

func TestRefreshSnapshot_SubscribesAndQueries(t *testing.T) {
	c, ft := newTestCoordinator(t)

	c.RefreshSnapshot(context.Background())

	if ft.subscribes["d1"] != 1 {
		t.Errorf("subscribes[d1] = %d, want 1", ft.subscribes["d1"])
	}
	if ft.queryCount() != 1 {
		t.Errorf("queries = %d, want 1", ft.queryCount())
	}

	// A repeat refresh keeps topic state idempotent at the transport
	// but still triggers a fresh status query.
	c.RefreshSnapshot(context.Background())
	if ft.queryCount() != 2 {
		t.Errorf("queries after second refresh = %d, want 2", ft.queryCount())
	}

	if _, ok := c.Group("g1"); !ok {
		t.Error("expected group g1 in canonical state")
	}
}

func TestRefreshSnapshot_EmptyResultKeepsLastGood(t *testing.T) {
	ft := newFakeTransport()
	loader := &fakeLoader{groups: inventory()}
	c := New(ft, loader, testOptions())
	defer c.Stop()

	c.RefreshSnapshot(context.Background())

	loader.groups = nil
	c.RefreshSnapshot(context.Background())

	if _, ok := c.Group("g1"); !ok {
		t.Error("empty snapshot must not discard the last good inventory")
	}
}

func TestEndToEnd_TelemetryMerge(t *testing.T) {
	c, ft := newTestCoordinator(t)
	c.RefreshSnapshot(context.Background())

	deliverData(ft, "d1", `{"ts":100,"cmd":5,"dp":[{"id":1,"type":4,"len":1,"data":"03"}]}`)

	g, ok := c.Group("g1")
	if !ok {
		t.Fatal("group g1 missing")
	}
	mode, ok := g.CleaningMode()
	if !ok {
		t.Fatal("cleaning mode not merged")
	}
	if mode.Label != wybot.ModeStandardFullPool {
		t.Errorf("mode = %q, want %q", mode.Label, wybot.ModeStandardFullPool)
	}

	since, ok := c.SecondsSinceHeard("d1")
	if !ok {
		t.Fatal("expected d1 to have been heard")
	}
	if since > 1.0 {
		t.Errorf("seconds since heard = %f, want ~0", since)
	}
}

func TestTelemetry_EchoWithoutDataIsNotMerged(t *testing.T) {
	c, ft := newTestCoordinator(t)
	c.RefreshSnapshot(context.Background())

	deliverData(ft, "d1", `{"ts":50,"cmd":5,"dp":[{"id":0},{"id":1}]}`)

	g, _ := c.Group("g1")
	if _, ok := g.FindDP(wybot.DPCleaningMode); ok {
		t.Error("request echo must not merge DP state")
	}
	if _, ok := c.SecondsSinceHeard("d1"); !ok {
		t.Error("echo still counts as traffic for freshness")
	}
}

// reentrantSink reads coordinator state from inside Record, the way a
// slow sink sharing the process with API readers would.
type reentrantSink struct {
	c       *Coordinator
	records []string
	readOK  bool
}

func (s *reentrantSink) Record(targetID string, dp wybot.DP, summary string, reportedTS int64) error {
	s.records = append(s.records, summary)
	_, s.readOK = s.c.GroupByTarget(targetID)
	return nil
}

func TestHistorySink_CanReadStateWhileRecording(t *testing.T) {
	c, ft := newTestCoordinator(t)
	sink := &reentrantSink{c: c}
	c.SetHistorySink(sink)
	c.RefreshSnapshot(context.Background())

	done := make(chan struct{})
	go func() {
		deliverData(ft, "d1", `{"ts":100,"cmd":5,"dp":[{"id":1,"type":4,"len":1,"data":"03"}]}`)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("data frame stalled; sink must run outside the state mutex")
	}

	if len(sink.records) != 1 {
		t.Fatalf("records = %d, want 1", len(sink.records))
	}
	if !sink.readOK {
		t.Error("state read from inside the sink should see the target")
	}

	// The merge itself still landed.
	g, _ := c.Group("g1")
	if _, ok := g.FindDP(wybot.DPCleaningMode); !ok {
		t.Error("merge should complete alongside the sink call")
	}
}

func TestTelemetry_MalformedFrameDropped(t *testing.T) {
	c, ft := newTestCoordinator(t)
	c.RefreshSnapshot(context.Background())

	deliverData(ft, "d1", `not json at all`)

	g, _ := c.Group("g1")
	if _, ok := g.FindDP(wybot.DPCleaningMode); ok {
		t.Error("malformed frame must not merge state")
	}

	// Processing continues for subsequent frames.
	deliverData(ft, "d1", `{"ts":10,"cmd":5,"dp":[{"id":1,"type":4,"len":1,"data":"00"}]}`)
	g, _ = c.Group("g1")
	if _, ok := g.FindDP(wybot.DPCleaningMode); !ok {
		t.Error("later frames should still merge")
	}
}

func TestCausalTimestampMonotonicity(t *testing.T) {
	c, _ := newTestCoordinator(t)

	base := time.Unix(1_000_000, 0)
	c.now = func() time.Time { return base }

	issued := []int64{c.nextTS("d1")}

	note := func(ts int64) {
		c.mu.Lock()
		c.noteSeenTS("d1", ts)
		c.mu.Unlock()
	}

	note(2_000_000)
	issued = append(issued, c.nextTS("d1"))
	issued = append(issued, c.nextTS("d1"))
	note(1_500_000) // stale observation must not regress the ratchet
	issued = append(issued, c.nextTS("d1"))

	prev := int64(0)
	for i, ts := range issued {
		if ts <= prev {
			t.Errorf("issued[%d] = %d, not strictly greater than %d", i, ts, prev)
		}
		prev = ts
	}
	if issued[1] <= 2_000_000 {
		t.Errorf("issued[1] = %d, must exceed the observed 2000000", issued[1])
	}
	if issued[0] < base.Unix() {
		t.Errorf("issued[0] = %d, must be at least wall clock %d", issued[0], base.Unix())
	}
}

func TestDebounce_CoalescesToFinalState(t *testing.T) {
	c, ft := newTestCoordinator(t)
	c.RefreshSnapshot(context.Background())
	time.Sleep(100 * time.Millisecond) // drain the refresh push

	var mu sync.Mutex
	notified := 0
	c.OnUpdate(func() {
		mu.Lock()
		notified++
		mu.Unlock()
	})

	// Ten merges inside one window, alternating mode codes; the final
	// one wins.
	for i := 0; i < 10; i++ {
		data := "00"
		if i == 9 {
			data = "04"
		}
		deliverData(ft, "d1", fmt.Sprintf(`{"ts":%d,"cmd":5,"dp":[{"id":1,"type":4,"len":1,"data":"%s"}]}`, i+1, data))
	}

	time.Sleep(120 * time.Millisecond)

	mu.Lock()
	got := notified
	mu.Unlock()
	if got != 1 {
		t.Errorf("notifications = %d, want exactly 1", got)
	}

	g, _ := c.Group("g1")
	mode, _ := g.CleaningMode()
	if mode.Label != wybot.ModeWaterlineOnly {
		t.Errorf("notified state mode = %q, want the 10th merge %q", mode.Label, wybot.ModeWaterlineOnly)
	}
}

func TestDP0SplitDelay(t *testing.T) {
	c, ft := newTestCoordinator(t)
	c.RefreshSnapshot(context.Background())

	dp1, err := wybot.EncodeCleaningMode(wybot.ModeStandardFullPool)
	if err != nil {
		t.Fatal(err)
	}
	dp0 := wybot.StartCommand("WY460")

	start := time.Now()
	if err := c.SendCommand("g1", dp1, dp0); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}

	writes := ft.writeRecords()
	if len(writes) != 1 {
		t.Fatalf("immediate writes = %d, want 1", len(writes))
	}
	if len(writes[0].env.DP) != 1 || writes[0].env.DP[0].ID != wybot.DPCleaningMode {
		t.Errorf("immediate publish = %+v, want only the DP1 write", writes[0].env.DP)
	}

	time.Sleep(150 * time.Millisecond)

	writes = ft.writeRecords()
	if len(writes) != 2 {
		t.Fatalf("total writes = %d, want 2", len(writes))
	}
	second := writes[1]
	if len(second.env.DP) != 1 || second.env.DP[0].ID != wybot.DPCleaningStatus {
		t.Errorf("delayed publish = %+v, want only the DP0 write", second.env.DP)
	}
	if gap := second.at.Sub(start); gap < testOptions().DP0Delay {
		t.Errorf("DP0 published after %v, want at least %v", gap, testOptions().DP0Delay)
	}
	if second.env.TS <= writes[0].env.TS {
		t.Errorf("delayed ts %d not greater than immediate ts %d", second.env.TS, writes[0].env.TS)
	}
}

func TestSendCommand_SingleKindPublishesImmediately(t *testing.T) {
	c, ft := newTestCoordinator(t)
	c.RefreshSnapshot(context.Background())

	if err := c.SendCommand("g1", wybot.DockCommand()); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}

	writes := ft.writeRecords()
	if len(writes) != 1 {
		t.Fatalf("writes = %d, want 1", len(writes))
	}
	if writes[0].env.Cmd != wybot.CmdWrite {
		t.Errorf("cmd = %d, want %d", writes[0].env.Cmd, wybot.CmdWrite)
	}
}

func TestSendCommand_CallerMistakes(t *testing.T) {
	c, _ := newTestCoordinator(t)
	c.RefreshSnapshot(context.Background())

	if err := c.SendCommand("nope", wybot.DockCommand()); err != ErrUnknownGroup {
		t.Errorf("unknown group err = %v, want ErrUnknownGroup", err)
	}
	if err := c.SendCommand("g1"); err != ErrNoPayloads {
		t.Errorf("empty payloads err = %v, want ErrNoPayloads", err)
	}
}

func TestOnlineDerivation_TTLFallback(t *testing.T) {
	c, ft := newTestCoordinator(t)
	c.RefreshSnapshot(context.Background())

	base := time.Now()
	c.now = func() time.Time { return base }

	deliverData(ft, "d1", `{"ts":1,"cmd":5,"dp":[{"id":0,"type":4,"len":1,"data":"01"}]}`)

	// Fresh traffic, no explicit signal: considered online via TTL.
	online, ok := c.ConsideredOnline("d1")
	if !ok || !online {
		t.Errorf("fresh target considered online = %v %v, want true", online, ok)
	}
	if _, known := c.ExplicitOnline("d1"); known {
		t.Error("ordinary telemetry must not set the explicit flag")
	}

	// 200s later with TTL 180s: no longer considered online, explicit
	// flag still unknown.
	c.now = func() time.Time { return base.Add(200 * time.Second) }

	online, ok = c.ConsideredOnline("d1")
	if !ok {
		t.Fatal("target with traffic history must return a derived answer")
	}
	if online {
		t.Error("stale target must not be considered online")
	}
	if _, known := c.ExplicitOnline("d1"); known {
		t.Error("explicit flag must remain unknown without presence signals")
	}
}

func TestPresence_ExplicitFlagSticky(t *testing.T) {
	c, ft := newTestCoordinator(t)
	c.RefreshSnapshot(context.Background())

	deliverWill(ft, "d1", "offline")
	if online, known := c.ExplicitOnline("d1"); !known || online {
		t.Errorf("after offline will: %v %v, want explicit false", online, known)
	}

	// Ordinary telemetry refreshes freshness but never clears the
	// explicit offline.
	deliverData(ft, "d1", `{"ts":1,"cmd":5,"dp":[{"id":0,"type":4,"len":1,"data":"01"}]}`)
	if online, known := c.ExplicitOnline("d1"); !known || online {
		t.Error("telemetry must not clear an explicit offline flag")
	}
	if online, _ := c.ConsideredOnline("d1"); online {
		t.Error("explicit offline wins over fresh traffic")
	}

	deliverWill(ft, "d1", "online")
	if online, known := c.ExplicitOnline("d1"); !known || !online {
		t.Error("online will must set the explicit flag")
	}
}

func TestPresence_OnlineWillTriggersQuery(t *testing.T) {
	c, ft := newTestCoordinator(t)
	c.RefreshSnapshot(context.Background())
	ft.onConn(true)
	before := ft.queryCount()

	deliverWill(ft, "d1", "online")
	if got := ft.queryCount(); got != before+1 {
		t.Errorf("queries after online will = %d, want %d", got, before+1)
	}

	// Unparsable payload: freshness refreshed, no flag change, no query.
	deliverWill(ft, "d1", "garbled gibberish")
	if got := ft.queryCount(); got != before+1 {
		t.Errorf("queries after unparsable will = %d, want %d", got, before+1)
	}
}

func TestParseWillOnline(t *testing.T) {
	tests := []struct {
		payload string
		want    string
	}{
		{"1", "online"},
		{"online", "online"},
		{"TRUE", "online"},
		{"connected", "online"},
		{"0", "offline"},
		{"offline", "offline"},
		{"disconnected", "offline"},
		{"online:1", "online"},
		{"online=false", "offline"},
		{"", "unknown"},
		{"whatever", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.payload, func(t *testing.T) {
			if got := onlineString(parseWillOnline([]byte(tt.payload))); got != tt.want {
				t.Errorf("parseWillOnline(%q) = %s, want %s", tt.payload, got, tt.want)
			}
		})
	}
}

func TestPriming_AbortedBySupersession(t *testing.T) {
	c, ft := newTestCoordinator(t)
	c.RefreshSnapshot(context.Background())
	ft.onConn(true)
	before := ft.queryCount()

	// A disconnect bumps the generation; a priming timer armed before
	// it must not fire queries.
	c.mu.Lock()
	gen := c.primeGen
	c.mu.Unlock()

	ft.setConnected(false)
	ft.onConn(false)

	c.firePriming(gen, []string{"d1"})
	if got := ft.queryCount(); got != before {
		t.Errorf("queries after superseded priming = %d, want %d", got, before)
	}

	// Reconnect restores a current generation; firing that works.
	ft.setConnected(true)
	ft.onConn(true)
	c.mu.Lock()
	gen = c.primeGen
	c.mu.Unlock()

	c.firePriming(gen, []string{"d1"})
	if got := ft.queryCount(); got != before+1 {
		t.Errorf("queries after current priming = %d, want %d", got, before+1)
	}
}

func TestReconnect_RateLimited(t *testing.T) {
	c, ft := newTestCoordinator(t)
	ft.setConnected(false)

	base := time.Now()
	c.now = func() time.Time { return base }

	c.healthTick()
	c.healthTick()
	c.healthTick()
	time.Sleep(50 * time.Millisecond)

	if got := ft.reconnectCount(); got != 1 {
		t.Errorf("reconnects within backoff window = %d, want 1", got)
	}

	c.now = func() time.Time { return base.Add(31 * time.Second) }
	c.healthTick()
	time.Sleep(50 * time.Millisecond)

	if got := ft.reconnectCount(); got != 2 {
		t.Errorf("reconnects after backoff = %d, want 2", got)
	}
}

func TestStop_DropsFurtherFrames(t *testing.T) {
	ft := newFakeTransport()
	c := New(ft, &fakeLoader{groups: inventory()}, testOptions())
	c.RefreshSnapshot(context.Background())

	c.Stop()

	deliverData(ft, "d1", `{"ts":1,"cmd":5,"dp":[{"id":1,"type":4,"len":1,"data":"03"}]}`)
	if _, ok := c.SecondsSinceHeard("d1"); ok {
		t.Error("frames after Stop must be dropped")
	}

	if err := c.SendCommand("g1", wybot.DockCommand()); err != ErrStopped {
		t.Errorf("SendCommand after Stop = %v, want ErrStopped", err)
	}
}
