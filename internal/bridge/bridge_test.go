package bridge

import (
	"context"
	"math"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leandrodaf/midibridge/internal/diag"
	"github.com/leandrodaf/midibridge/internal/logger"
	"github.com/leandrodaf/midibridge/internal/profile"
	"github.com/leandrodaf/midibridge/sdk/contracts"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var (
	exposure    = contracts.MidiAddress{Channel: 1, Type: contracts.ControlChange, Number: 16}
	temperature = contracts.MidiAddress{Channel: 1, Type: contracts.ControlChange, Number: 17}
	pick        = contracts.MidiAddress{Channel: 0, Type: contracts.Note, Number: 36}
	unbound     = contracts.MidiAddress{Channel: 2, Type: contracts.ControlChange, Number: 5}
)

type commandRecorder struct {
	mu   sync.Mutex
	cmds []contracts.Command
	err  error
}

func (r *commandRecorder) Send(cmd contracts.Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.cmds = append(r.cmds, cmd)
	return nil
}

func (r *commandRecorder) commands() []contracts.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]contracts.Command(nil), r.cmds...)
}

type eventRecorder struct {
	mu     sync.Mutex
	events []contracts.MidiEvent
}

func (r *eventRecorder) Send(ev contracts.MidiEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *eventRecorder) sent() []contracts.MidiEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]contracts.MidiEvent(nil), r.events...)
}

// gatedSink blocks the first Send after armed is set until release is closed.
type gatedSink struct {
	eventRecorder
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func newGatedSink() *gatedSink {
	return &gatedSink{entered: make(chan struct{}, 1), release: make(chan struct{})}
}

func (g *gatedSink) Send(ev contracts.MidiEvent) error {
	if g.armed.CompareAndSwap(true, false) {
		g.entered <- struct{}{}
		<-g.release
	}
	return g.eventRecorder.Send(ev)
}

type fixture struct {
	options  *contracts.BridgeOptions
	counters *diag.Counters
	logs     *observer.ObservedLogs
	store    *profile.Store
}

func newFixture(t *testing.T, bindings ...contracts.CommandBinding) *fixture {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	counters := diag.NewCounters()
	options := &contracts.BridgeOptions{
		Logger:      logger.NewFromZap(zap.New(core)),
		Diagnostics: counters,
		ProfileDir:  t.TempDir(),
		Resolution:  127,
	}
	store := profile.NewStore(options)
	if _, err := store.Activate(contracts.Profile{Name: "develop", Bindings: bindings}); err != nil {
		t.Fatal(err)
	}
	return &fixture{options: options, counters: counters, logs: logs, store: store}
}

func TestInboundAbsoluteCommand(t *testing.T) {
	f := newFixture(t, contracts.CommandBinding{Address: exposure, Command: "develop.exposure"})
	sink := &commandRecorder{}
	in := NewInbound(f.options, f.store, sink)

	if !in.Handle(contracts.MidiEvent{Address: exposure, Value: 100, Timestamp: time.Now()}) {
		t.Fatal("bound event not forwarded")
	}
	cmds := sink.commands()
	if len(cmds) != 1 {
		t.Fatalf("got %d commands", len(cmds))
	}
	cmd := cmds[0]
	if cmd.ID != "develop.exposure" || math.Abs(cmd.Value-0.787) > 0.001 {
		t.Errorf("got %+v", cmd)
	}
	if cmd.Relative || cmd.Trigger || cmd.Generation != f.store.Current().ID {
		t.Errorf("flags %+v", cmd)
	}
}

func TestInboundUnboundCountsOnce(t *testing.T) {
	f := newFixture(t, contracts.CommandBinding{Address: exposure, Command: "develop.exposure"})
	sink := &commandRecorder{}
	in := NewInbound(f.options, f.store, sink)

	if in.Handle(contracts.MidiEvent{Address: unbound, Value: 10, Timestamp: time.Now()}) {
		t.Error("unbound event forwarded")
	}
	if len(sink.commands()) != 0 {
		t.Error("command emitted for unbound event")
	}
	if got := f.counters.Get(contracts.CounterUnboundEvents); got != 1 {
		t.Errorf("unbound_events = %d", got)
	}
	if f.logs.FilterMessage("Unbound MIDI event").Len() != 1 {
		t.Error("unbound event not logged")
	}
	if f.store.Current().States.Len() != 0 {
		t.Error("state created for unbound address")
	}
}

func TestInboundRelativeDelta(t *testing.T) {
	f := newFixture(t, contracts.CommandBinding{Address: temperature, Command: "develop.temperature", Mode: contracts.RelativeTwosComplement})
	sink := &commandRecorder{}
	in := NewInbound(f.options, f.store, sink)

	in.Handle(contracts.MidiEvent{Address: temperature, Value: 65, Timestamp: time.Now()})
	cmds := sink.commands()
	if len(cmds) != 1 || !cmds[0].Relative {
		t.Fatalf("got %+v", cmds)
	}
	if want := -63.0 / 127; math.Abs(cmds[0].Value-want) > 1e-9 {
		t.Errorf("delta = %v, want %v", cmds[0].Value, want)
	}
}

func TestInboundTriggerIgnoresRelease(t *testing.T) {
	f := newFixture(t, contracts.CommandBinding{Address: pick, Command: "Pick"})
	sink := &commandRecorder{}
	in := NewInbound(f.options, f.store, sink)

	now := time.Now()
	in.Handle(contracts.MidiEvent{Address: pick, Value: 100, Timestamp: now})
	in.Handle(contracts.MidiEvent{Address: pick, Value: 0, Timestamp: now.Add(time.Millisecond)})

	cmds := sink.commands()
	if len(cmds) != 1 || !cmds[0].Trigger || cmds[0].ID != "Pick" {
		t.Errorf("got %+v", cmds)
	}
	if f.counters.Get(contracts.CounterUnboundEvents) != 0 {
		t.Error("release counted as unbound")
	}
}

func TestInboundLogsRejectedTrigger(t *testing.T) {
	f := newFixture(t, contracts.CommandBinding{Address: pick, Command: "Pick"})
	sink := &commandRecorder{err: contracts.ErrChannelUnavailable}
	in := NewInbound(f.options, f.store, sink)

	if in.Handle(contracts.MidiEvent{Address: pick, Value: 127, Timestamp: time.Now()}) {
		t.Error("rejected trigger reported as forwarded")
	}
	if f.logs.FilterMessage("Trigger not delivered").Len() != 1 {
		t.Error("rejection not logged")
	}
}

func TestInboundRunPreservesOrder(t *testing.T) {
	f := newFixture(t, contracts.CommandBinding{Address: exposure, Command: "develop.exposure"})
	sink := &commandRecorder{}
	in := NewInbound(f.options, f.store, sink)

	events := make(chan contracts.MidiEvent, 128)
	start := time.Now()
	for v := 0; v < 128; v++ {
		events <- contracts.MidiEvent{Address: exposure, Value: v, Timestamp: start.Add(time.Duration(v) * time.Millisecond)}
	}
	close(events)
	in.Run(context.Background(), events)

	cmds := sink.commands()
	if len(cmds) != 128 {
		t.Fatalf("got %d commands", len(cmds))
	}
	for i := 1; i < len(cmds); i++ {
		if cmds[i].Value <= cmds[i-1].Value {
			t.Fatalf("command %d out of order: %v after %v", i, cmds[i].Value, cmds[i-1].Value)
		}
	}
	st, ok := f.store.Current().States.Lookup(exposure)
	if !ok || st.Applied() != 128 || st.LastValue() != 127 {
		t.Errorf("state not updated in order")
	}
}

func TestInboundUsesNewGenerationAfterSwap(t *testing.T) {
	f := newFixture(t, contracts.CommandBinding{Address: exposure, Command: "develop.exposure"})
	sink := &commandRecorder{}
	in := NewInbound(f.options, f.store, sink)

	in.Handle(contracts.MidiEvent{Address: exposure, Value: 10, Timestamp: time.Now()})
	gen, err := f.store.Activate(contracts.Profile{Name: "library", Bindings: []contracts.CommandBinding{
		{Address: exposure, Command: "library.rating"},
	}})
	if err != nil {
		t.Fatal(err)
	}
	in.Handle(contracts.MidiEvent{Address: exposure, Value: 10, Timestamp: time.Now()})

	cmds := sink.commands()
	if len(cmds) != 2 || cmds[1].ID != "library.rating" || cmds[1].Generation != gen.ID {
		t.Errorf("got %+v", cmds)
	}
}

func TestOutboundScalesFeedback(t *testing.T) {
	f := newFixture(t,
		contracts.CommandBinding{Address: exposure, Command: "develop.exposure"},
		contracts.CommandBinding{Address: temperature, Command: "develop.exposure", Direction: contracts.OutOnly},
	)
	port := &eventRecorder{}
	out := NewOutbound(f.options, f.store, port, nil)

	out.Handle(contracts.Notification{Kind: contracts.ParameterNotification, ID: "develop.exposure", Value: 0.5})
	sent := port.sent()
	if len(sent) != 2 {
		t.Fatalf("got %+v", sent)
	}
	for _, ev := range sent {
		if ev.Value != 64 {
			t.Errorf("%s value %d, want 64", ev.Address, ev.Value)
		}
	}
	if sent[0].Address != exposure || sent[1].Address != temperature {
		t.Errorf("addresses %s %s", sent[0].Address, sent[1].Address)
	}
}

func TestOutboundSkipsRelativeAndCountsUnresolved(t *testing.T) {
	f := newFixture(t, contracts.CommandBinding{Address: temperature, Command: "develop.temperature", Mode: contracts.RelativeBinaryOffset})
	port := &eventRecorder{}
	out := NewOutbound(f.options, f.store, port, nil)

	out.Handle(contracts.Notification{Kind: contracts.ParameterNotification, ID: "develop.temperature", Value: 0.3})
	out.Handle(contracts.Notification{Kind: contracts.ParameterNotification, ID: "develop.tint", Value: 0.3})

	if len(port.sent()) != 0 {
		t.Errorf("feedback sent: %+v", port.sent())
	}
	if got := f.counters.Get(contracts.CounterUnresolvedNotifications); got != 1 {
		t.Errorf("unresolved_notifications = %d", got)
	}
}

func TestOutboundResyncAfterSwitch(t *testing.T) {
	f := newFixture(t, contracts.CommandBinding{Address: exposure, Command: "develop.exposure"})
	port := &eventRecorder{}
	out := NewOutbound(f.options, f.store, port, nil)
	f.store.OnActivate(out.Resync)

	out.Handle(contracts.Notification{Kind: contracts.ParameterNotification, ID: "develop.exposure", Value: 1})

	next := contracts.Profile{Name: "second", Bindings: []contracts.CommandBinding{
		{Address: temperature, Command: "develop.exposure"},
	}}
	if err := (profile.YAMLPersister{}).SaveProfile(next, filepath.Join(f.options.ProfileDir, "second.yaml")); err != nil {
		t.Fatal(err)
	}
	out.Handle(contracts.Notification{Kind: contracts.SwitchProfileNotification, Text: "second"})

	if f.store.CurrentProfile().Name != "second" {
		t.Fatalf("profile %q still active", f.store.CurrentProfile().Name)
	}
	sent := port.sent()
	if len(sent) != 2 {
		t.Fatalf("got %+v", sent)
	}
	if sent[1].Address != temperature || sent[1].Value != 127 {
		t.Errorf("resync sent %+v", sent[1])
	}
}

func TestOutboundNotificationDuringResyncWins(t *testing.T) {
	f := newFixture(t, contracts.CommandBinding{Address: exposure, Command: "develop.exposure"})
	port := newGatedSink()
	out := NewOutbound(f.options, f.store, port, nil)

	out.Handle(contracts.Notification{Kind: contracts.ParameterNotification, ID: "develop.exposure", Value: 0.2})

	port.armed.Store(true)
	resynced := make(chan struct{})
	go func() {
		out.Resync(f.store.Current())
		close(resynced)
	}()
	<-port.entered

	handled := make(chan struct{})
	go func() {
		out.Handle(contracts.Notification{Kind: contracts.ParameterNotification, ID: "develop.exposure", Value: 0.9})
		close(handled)
	}()
	time.Sleep(20 * time.Millisecond)
	close(port.release)
	<-resynced
	<-handled

	sent := port.sent()
	last := sent[len(sent)-1]
	if last.Address != exposure || last.Value != 114 {
		t.Errorf("fader left at %+v, events %+v", last, sent)
	}
}

func TestOutboundSkipsSupersededResync(t *testing.T) {
	f := newFixture(t, contracts.CommandBinding{Address: exposure, Command: "develop.exposure"})
	port := &eventRecorder{}
	out := NewOutbound(f.options, f.store, port, nil)

	out.Handle(contracts.Notification{Kind: contracts.ParameterNotification, ID: "develop.exposure", Value: 1})
	old := f.store.Current()
	if _, err := f.store.Activate(contracts.Profile{Name: "second", Bindings: []contracts.CommandBinding{
		{Address: temperature, Command: "develop.exposure"},
	}}); err != nil {
		t.Fatal(err)
	}

	out.Resync(old)
	if got := port.sent(); len(got) != 1 {
		t.Fatalf("superseded generation replayed: %+v", got)
	}
	if f.logs.FilterMessage("Skipping resync of superseded generation").Len() != 1 {
		t.Error("skip not logged")
	}

	out.Resync(f.store.Current())
	sent := port.sent()
	if len(sent) != 2 || sent[1].Address != temperature || sent[1].Value != 127 {
		t.Errorf("current generation resync sent %+v", sent)
	}
}

func TestOutboundControlVerbs(t *testing.T) {
	f := newFixture(t)
	terminated := make(chan struct{}, 1)
	out := NewOutbound(f.options, f.store, &eventRecorder{}, func() { terminated <- struct{}{} })

	notifications := make(chan contracts.Notification, 4)
	notifications <- contracts.Notification{Kind: contracts.LogNotification, Text: "hello"}
	notifications <- contracts.Notification{Kind: contracts.SendKeyNotification, Text: "32Ctrl+Z"}
	notifications <- contracts.Notification{Kind: contracts.SwitchProfileNotification, Text: "missing"}
	notifications <- contracts.Notification{Kind: contracts.TerminateNotification}
	close(notifications)
	out.Run(context.Background(), notifications)

	select {
	case <-terminated:
	default:
		t.Error("terminate callback not called")
	}
	if f.logs.FilterMessage("Host message").FilterField(zap.String("text", "hello")).Len() != 1 {
		t.Error("host log not forwarded")
	}
	if f.logs.FilterMessage("Host profile switch failed").Len() != 1 {
		t.Error("failed switch not logged")
	}
	if f.store.CurrentProfile().Name != "develop" {
		t.Error("failed switch changed the profile")
	}
}

func TestScale(t *testing.T) {
	testcases := []struct {
		value float64
		max   int
		want  int
	}{
		{0.5, 127, 64},
		{0, 127, 0},
		{1, 127, 127},
		{-0.2, 127, 0},
		{1.5, 127, 127},
		{0.5, 16383, 8192},
		{math.NaN(), 127, 0},
	}
	for _, tc := range testcases {
		if got := Scale(tc.value, tc.max); got != tc.want {
			t.Errorf("Scale(%v, %d) = %d, want %d", tc.value, tc.max, got, tc.want)
		}
	}
}
