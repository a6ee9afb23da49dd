package bridge

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/leandrodaf/midibridge/internal/logger"
	"github.com/leandrodaf/midibridge/internal/midi/midiloop"
	"github.com/leandrodaf/midibridge/internal/profile"
	"github.com/leandrodaf/midibridge/sdk/contracts"
	"github.com/leandrodaf/midibridge/sdk/midi"
)

var exposure = contracts.MidiAddress{Channel: 1, Type: contracts.ControlChange, Number: 16}

func writeProfile(t *testing.T, dir, name string, bindings ...contracts.CommandBinding) string {
	t.Helper()
	path := filepath.Join(dir, name+".yaml")
	if err := (profile.YAMLPersister{}).SaveProfile(contracts.Profile{Name: name, Bindings: bindings}, path); err != nil {
		t.Fatal(err)
	}
	return path
}

func listen(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })
	return ln
}

func accept(t *testing.T, ln net.Listener) net.Conn {
	t.Helper()
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := ln.Accept()
		ch <- result{c, err}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			t.Fatal(r.err)
		}
		t.Cleanup(func() { r.conn.Close() })
		return r.conn
	case <-time.After(3 * time.Second):
		t.Fatal("bridge never connected")
	}
	return nil
}

func loopPort(t *testing.T, b *Bridge) *midiloop.Port {
	t.Helper()
	p, ok := b.Port().(*midiloop.Port)
	if !ok {
		t.Fatalf("port is %T", b.Port())
	}
	return p
}

func TestBridgeFullPipeline(t *testing.T) {
	dir := t.TempDir()
	path := writeProfile(t, dir, "develop", contracts.CommandBinding{Address: exposure, Command: "develop.exposure"})
	host := listen(t)

	b, err := NewBridge(
		contracts.WithLogger(logger.NewNopLogger()),
		contracts.WithDriver(midi.DriverLoop),
		contracts.WithDevices(midiloop.DefaultDevice, midiloop.DefaultDevice),
		contracts.WithHostAddress(host.Addr().String()),
		contracts.WithProfile(path, dir),
		contracts.WithStatusAddress("127.0.0.1:0"),
	)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer b.Stop()

	conn := accept(t, host)
	port := loopPort(t, b)
	if !port.Inject([]byte{0xB1, 16, 100}) {
		t.Fatal("loop input not open")
	}
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	if line != "develop.exposure 0.787402\n" {
		t.Errorf("host got %q", line)
	}

	conn.Write([]byte("develop.exposure 0.5\n"))
	select {
	case raw := <-port.Sent():
		if !bytes.Equal(raw, []byte{0xB1, 16, 64}) {
			t.Errorf("feedback % X", raw)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no feedback sent")
	}

	if b.StatusAddress() == "" || b.StatusAddress() == "127.0.0.1:0" {
		t.Errorf("status address %q", b.StatusAddress())
	}
	deadline := time.Now().Add(3 * time.Second)
	for b.Counters()[string(contracts.CounterCommandsSent)] != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("commands_sent = %d", b.Counters()[string(contracts.CounterCommandsSent)])
		}
		time.Sleep(5 * time.Millisecond)
	}

	conn.Write([]byte("TerminateApplication\n"))
	select {
	case <-b.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("terminate not signalled")
	}
	if err := b.Stop(); err != nil {
		t.Errorf("stop: %v", err)
	}
	if err := b.Stop(); err != nil {
		t.Errorf("second stop: %v", err)
	}
}

func TestBridgeReopensMissingDevice(t *testing.T) {
	b, err := NewBridge(
		contracts.WithLogger(logger.NewNopLogger()),
		contracts.WithDriver(midi.DriverLoop),
		contracts.WithDevices("pad", ""),
		contracts.WithHostAddress("127.0.0.1:1"),
		contracts.WithDeviceRefresh(10*time.Millisecond),
	)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer b.Stop()

	port := loopPort(t, b)
	if port.Status().InputOpen {
		t.Fatal("missing device reported open")
	}
	port.Plug("pad")
	waitOpen(t, port, true)

	port.Unplug("pad")
	waitOpen(t, port, false)
	port.Plug("pad")
	waitOpen(t, port, true)
}

func waitOpen(t *testing.T, port *midiloop.Port, want bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for port.Status().InputOpen != want {
		if time.Now().After(deadline) {
			t.Fatalf("input open never became %v", want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNewBridgeRejectsInvalidProfile(t *testing.T) {
	dir := t.TempDir()
	path := writeProfile(t, dir, "broken",
		contracts.CommandBinding{Address: exposure, Command: "a"},
		contracts.CommandBinding{Address: exposure, Command: "b"},
	)
	_, err := NewBridge(
		contracts.WithLogger(logger.NewNopLogger()),
		contracts.WithDriver(midi.DriverLoop),
		contracts.WithProfile(path, dir),
	)
	if !errors.Is(err, contracts.ErrInvalidBinding) {
		t.Errorf("got %v", err)
	}
}

func TestStartTwice(t *testing.T) {
	b, err := NewBridge(
		contracts.WithLogger(logger.NewNopLogger()),
		contracts.WithDriver(midi.DriverLoop),
		contracts.WithHostAddress("127.0.0.1:1"),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Stop()
	if err := b.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := b.Start(context.Background()); err == nil {
		t.Error("second start accepted")
	}
}

func TestDefaultOptions(t *testing.T) {
	o := applyDefaultOptions(contracts.WithLogger(logger.NewNopLogger()))
	if o.Diagnostics == nil || o.CoreMIDIConfig == nil || o.HostAddress == "" {
		t.Errorf("collaborators not defaulted: %+v", o)
	}
	if o.Resolution != DefaultResolution || o.DeviceRefresh != DefaultDeviceRefresh || o.ShutdownTimeout != DefaultShutdownTimeout {
		t.Errorf("defaults %+v", o)
	}
	if o.Acceleration.Window != DefaultAccelWindow || o.Acceleration.MaxFactor != DefaultAccelMaxFactor {
		t.Errorf("acceleration %+v", o.Acceleration)
	}
}
