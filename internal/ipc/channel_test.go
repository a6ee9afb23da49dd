package ipc

import (
	"bufio"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/leandrodaf/midibridge/internal/diag"
	"github.com/leandrodaf/midibridge/internal/logger"
	"github.com/leandrodaf/midibridge/sdk/contracts"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeHost struct {
	ln    net.Listener
	conns chan net.Conn
}

func newFakeHost(t *testing.T) *fakeHost {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	h := &fakeHost{ln: ln, conns: make(chan net.Conn, 8)}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			h.conns <- conn
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		for {
			select {
			case c := <-h.conns:
				c.Close()
			default:
				return
			}
		}
	})
	return h
}

func (h *fakeHost) addr() string {
	return h.ln.Addr().String()
}

func (h *fakeHost) accept(t *testing.T) net.Conn {
	t.Helper()
	select {
	case c := <-h.conns:
		t.Cleanup(func() { c.Close() })
		return c
	case <-time.After(3 * time.Second):
		t.Fatal("bridge never connected")
	}
	return nil
}

func testOptions(addr string, counters *diag.Counters) *contracts.BridgeOptions {
	return &contracts.BridgeOptions{
		Logger:      logger.NewNopLogger(),
		Diagnostics: counters,
		HostAddress: addr,
		Backoff:     contracts.BackoffConfig{Min: 10 * time.Millisecond, Max: 50 * time.Millisecond, Multiplier: 2},
	}
}

// runChannel starts Run and stops it when the test ends.
func runChannel(t *testing.T, c *Channel) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readLine(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return line
}

func TestChannelFlushesQueuedCommandsInOrder(t *testing.T) {
	host := newFakeHost(t)
	counters := diag.NewCounters()
	c := NewChannel(testOptions(host.addr(), counters))

	for _, cmd := range []contracts.Command{
		{ID: "develop.exposure", Value: 100.0 / 127},
		{ID: "develop.contrast", Value: 0.25},
		{ID: "develop.temperature", Value: 2.0 / 127, Relative: true},
	} {
		if err := c.Send(cmd); err != nil {
			t.Fatalf("send %s: %v", cmd.ID, err)
		}
	}
	if c.Pending() != 3 {
		t.Fatalf("pending = %d", c.Pending())
	}
	runChannel(t, c)

	r := bufio.NewReader(host.accept(t))
	for _, want := range []string{
		"develop.exposure 0.787402\n",
		"develop.contrast 0.25\n",
		"develop.temperature +0.015748\n",
	} {
		if got := readLine(t, r); got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	}
	waitFor(t, "commands_sent", func() bool { return counters.Get(contracts.CounterCommandsSent) == 3 })
}

func TestChannelDeliversNotificationsInOrder(t *testing.T) {
	host := newFakeHost(t)
	c := NewChannel(testOptions(host.addr(), diag.NewCounters()))
	runChannel(t, c)

	conn := host.accept(t)
	if _, err := conn.Write([]byte("develop.exposure 0.5\r\nSwitchProfile Develop\n\nLog hi there\n")); err != nil {
		t.Fatal(err)
	}
	want := []contracts.Notification{
		{Kind: contracts.ParameterNotification, ID: "develop.exposure", Value: 0.5},
		{Kind: contracts.SwitchProfileNotification, Text: "Develop"},
		{Kind: contracts.LogNotification, Text: "hi there"},
	}
	for i, w := range want {
		select {
		case got := <-c.Notifications():
			if got != w {
				t.Errorf("notification %d: got %+v, want %+v", i, got, w)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("notification %d never arrived", i)
		}
	}
}

func TestChannelReconnectsAfterDesync(t *testing.T) {
	host := newFakeHost(t)
	counters := diag.NewCounters()
	core, logs := observer.New(zapcore.InfoLevel)
	opts := testOptions(host.addr(), counters)
	opts.Logger = logger.NewFromZap(zap.New(core))
	c := NewChannel(opts)
	runChannel(t, c)

	first := host.accept(t)
	first.Write([]byte("this is not a frame\n"))

	second := host.accept(t)
	if counters.Get(contracts.CounterProtocolDesyncs) != 1 {
		t.Errorf("protocol_desyncs = %d", counters.Get(contracts.CounterProtocolDesyncs))
	}
	if counters.Get(contracts.CounterReconnects) < 1 {
		t.Errorf("reconnects = %d", counters.Get(contracts.CounterReconnects))
	}
	if logs.FilterMessage("Host protocol desync; reconnecting").Len() != 1 {
		t.Errorf("desync not logged")
	}

	second.Write([]byte("develop.exposure 1\n"))
	select {
	case n := <-c.Notifications():
		if n.ID != "develop.exposure" || n.Value != 1 {
			t.Errorf("after reconnect got %+v", n)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no notification after reconnect")
	}
}

func TestChannelTriggerRequiresConnection(t *testing.T) {
	host := newFakeHost(t)
	counters := diag.NewCounters()
	c := NewChannel(testOptions(host.addr(), counters))

	err := c.Send(contracts.Command{ID: "Pick", Value: 1, Trigger: true})
	if !errors.Is(err, contracts.ErrChannelUnavailable) {
		t.Fatalf("trigger while disconnected: %v", err)
	}
	if counters.Get(contracts.CounterTriggersRejected) != 1 {
		t.Errorf("triggers_rejected = %d", counters.Get(contracts.CounterTriggersRejected))
	}
	if c.Pending() != 0 {
		t.Errorf("rejected trigger was queued")
	}

	runChannel(t, c)
	r := bufio.NewReader(host.accept(t))
	waitFor(t, "connected", func() bool { return c.State() == contracts.Connected })
	if err := c.Send(contracts.Command{ID: "Pick", Value: 1, Trigger: true}); err != nil {
		t.Fatalf("trigger while connected: %v", err)
	}
	if got := readLine(t, r); got != "Pick 1\n" {
		t.Errorf("got %q", got)
	}
}

func TestChannelSplitSockets(t *testing.T) {
	commands := newFakeHost(t)
	notifications := newFakeHost(t)
	opts := testOptions(commands.addr(), diag.NewCounters())
	opts.HostReceiveAddress = notifications.addr()
	c := NewChannel(opts)
	runChannel(t, c)

	cmdConn := commands.accept(t)
	noteConn := notifications.accept(t)
	waitFor(t, "connected", func() bool { return c.State() == contracts.Connected })

	// Acknowledgements on the command socket are discarded.
	cmdConn.Write([]byte("ok\n"))
	noteConn.Write([]byte("develop.exposure 0.25\n"))
	select {
	case n := <-c.Notifications():
		if n.ID != "develop.exposure" || n.Value != 0.25 {
			t.Errorf("got %+v", n)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no notification")
	}

	c.Send(contracts.Command{ID: "develop.exposure", Value: 0.5})
	if got := readLine(t, bufio.NewReader(cmdConn)); got != "develop.exposure 0.5\n" {
		t.Errorf("got %q", got)
	}
}

func TestChannelAckPacingCoalescesWhileHostBusy(t *testing.T) {
	commands := newFakeHost(t)
	notifications := newFakeHost(t)
	opts := testOptions(commands.addr(), diag.NewCounters())
	opts.HostReceiveAddress = notifications.addr()
	opts.AckTimeout = 5 * time.Second
	c := NewChannel(opts)
	runChannel(t, c)

	cmdConn := commands.accept(t)
	notifications.accept(t)
	waitFor(t, "connected", func() bool { return c.State() == contracts.Connected })
	r := bufio.NewReader(cmdConn)

	c.Send(contracts.Command{ID: "develop.exposure", Value: 0.1})
	if got := readLine(t, r); got != "develop.exposure 0.1\n" {
		t.Fatalf("got %q", got)
	}
	// The host has not answered, so these wait in the queue.
	for _, v := range []float64{0.2, 0.3, 0.4} {
		c.Send(contracts.Command{ID: "develop.exposure", Value: v})
	}
	c.Send(contracts.Command{ID: "develop.contrast", Value: 0.5})
	if c.Pending() != 2 {
		t.Errorf("pending = %d, want the exposure moves merged", c.Pending())
	}

	cmdConn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if line, err := r.ReadString('\n'); err == nil {
		t.Fatalf("sent %q before the host answered", line)
	}
	cmdConn.SetReadDeadline(time.Time{})

	for _, want := range []string{"develop.exposure 0.4\n", "develop.contrast 0.5\n"} {
		cmdConn.Write([]byte("ok\n"))
		if got := readLine(t, r); got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	}
}

func TestChannelAckPacingTimesOut(t *testing.T) {
	host := newFakeHost(t)
	core, logs := observer.New(zapcore.DebugLevel)
	opts := testOptions(host.addr(), diag.NewCounters())
	opts.Logger = logger.NewFromZap(zap.New(core))
	opts.AckTimeout = 50 * time.Millisecond
	c := NewChannel(opts)
	c.Send(contracts.Command{ID: "develop.exposure", Value: 0.25})
	c.Send(contracts.Command{ID: "develop.contrast", Value: 0.75})
	runChannel(t, c)

	r := bufio.NewReader(host.accept(t))
	if got := readLine(t, r); got != "develop.exposure 0.25\n" {
		t.Errorf("got %q", got)
	}
	start := time.Now()
	if got := readLine(t, r); got != "develop.contrast 0.75\n" {
		t.Errorf("got %q", got)
	}
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Errorf("second command sent after %v without waiting for an answer", elapsed)
	}
	waitFor(t, "timeout logged", func() bool {
		return logs.FilterMessage("Host did not acknowledge command in time").Len() > 0
	})
}

func TestChannelRunClosesNotifications(t *testing.T) {
	c := NewChannel(testOptions("127.0.0.1:1", diag.NewCounters()))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	waitFor(t, "first attempt", func() bool { return c.State() != contracts.Disconnected })
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return")
	}
	if _, ok := <-c.Notifications(); ok {
		t.Error("notifications still open")
	}
	if c.State() != contracts.Disconnected {
		t.Errorf("state = %s", c.State())
	}
	if err := c.Run(context.Background()); err == nil {
		t.Error("second Run accepted")
	}
}
