// Package ipc connects the bridge to the host application over a line-oriented TCP protocol.
package ipc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/leandrodaf/midibridge/sdk/contracts"
	"go.uber.org/multierr"
)

const (
	defaultQueueSize = 256
	dialTimeout      = 2 * time.Second
	writeTimeout     = 5 * time.Second
	notifyBuffer     = 256
)

// Channel owns the host connection and its lifecycle:
// Disconnected -> Connecting -> Connected -> Reconnecting -> Connecting ...
//
// With a receive address configured, commands go out on one socket and notifications
// arrive on the other; the pair is one session and fails together.
type Channel struct {
	logger contracts.Logger
	diag   contracts.Diagnostics

	addr     string
	recvAddr string

	queue      *Queue
	backoff    *Backoff
	dialer     net.Dialer
	ackTimeout time.Duration

	state         atomic.Int32
	notifications chan contracts.Notification
	running       atomic.Bool
}

// NewChannel builds a channel from options. Nothing is dialled until Run.
func NewChannel(options *contracts.BridgeOptions) *Channel {
	size := options.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	return &Channel{
		logger:        options.Logger,
		diag:          options.Diagnostics,
		addr:          options.HostAddress,
		recvAddr:      options.HostReceiveAddress,
		queue:         NewQueue(size),
		backoff:       NewBackoff(options.Backoff),
		dialer:        net.Dialer{Timeout: dialTimeout},
		ackTimeout:    options.AckTimeout,
		notifications: make(chan contracts.Notification, notifyBuffer),
	}
}

// State returns the current connection state.
func (c *Channel) State() contracts.ConnectionState {
	return contracts.ConnectionState(c.state.Load())
}

// Notifications delivers host notifications in arrival order. It is closed when Run returns.
func (c *Channel) Notifications() <-chan contracts.Notification {
	return c.notifications
}

// Pending is the number of commands waiting for the connection.
func (c *Channel) Pending() int {
	return c.queue.Len()
}

// Send enqueues cmd without blocking. Continuous commands are always accepted, possibly
// evicting or merging with stale ones. A trigger fails with contracts.ErrChannelUnavailable
// when the channel is not connected or the buffer is full.
func (c *Channel) Send(cmd contracts.Command) error {
	if cmd.Trigger && c.State() != contracts.Connected {
		c.count(contracts.CounterTriggersRejected)
		return fmt.Errorf("%w: %s while %s", contracts.ErrChannelUnavailable, cmd.ID, c.State())
	}
	result, err := c.queue.Push(cmd)
	if err != nil {
		c.count(contracts.CounterTriggersRejected)
		return fmt.Errorf("%w: %s: send buffer full", err, cmd.ID)
	}
	switch result {
	case Queued:
		c.count(contracts.CounterCommandsQueued)
	case DroppedOldest, DroppedSelf:
		c.count(contracts.CounterCommandsQueued)
		c.count(contracts.CounterCommandsDropped)
		c.logger.Warn("Host send buffer full; dropped oldest command", c.logger.Field().String("command", string(cmd.ID)))
	}
	return nil
}

// Run connects and keeps reconnecting until ctx is cancelled. It must be called once.
func (c *Channel) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("ipc channel already running")
	}
	defer close(c.notifications)
	defer c.setState(contracts.Disconnected)

	for {
		c.setState(contracts.Connecting)
		sess, err := c.dial(ctx)
		if err == nil {
			c.setState(contracts.Connected)
			started := time.Now()
			err = c.serve(ctx, sess)
			c.backoff.Connected(time.Since(started))
		}
		if ctx.Err() != nil {
			return nil
		}

		c.setState(contracts.Reconnecting)
		c.count(contracts.CounterReconnects)
		delay := c.backoff.Next()
		c.logger.Warn("Host connection failed; retrying",
			c.logger.Field().Error("error", err),
			c.logger.Field().Duration("backoff", delay))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

type session struct {
	send net.Conn
	recv net.Conn // same as send for a duplex socket
}

func (s *session) split() bool {
	return s.recv != s.send
}

func (s *session) close() error {
	err := s.send.Close()
	if s.split() {
		err = multierr.Append(err, s.recv.Close())
	}
	return err
}

func (c *Channel) dial(ctx context.Context) (*session, error) {
	send, err := c.dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, err
	}
	if c.recvAddr == "" {
		return &session{send: send, recv: send}, nil
	}
	recv, err := c.dialer.DialContext(ctx, "tcp", c.recvAddr)
	if err != nil {
		send.Close()
		return nil, err
	}
	return &session{send: send, recv: recv}, nil
}

// serve runs the reader and writer of one session until either fails or ctx ends.
// Any data from the host on either socket counts as an acknowledgement.
func (c *Channel) serve(ctx context.Context, sess *session) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	acks := make(chan struct{}, 1)

	var wg sync.WaitGroup
	errc := make(chan error, 3)
	run := func(fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errc <- fn(ctx)
		}()
	}
	run(func(ctx context.Context) error { return c.readNotifications(ctx, sess.recv, acks) })
	run(func(ctx context.Context) error { return c.writeCommands(ctx, sess.send, acks) })
	if sess.split() {
		run(func(context.Context) error { return drain(sess.send, acks) })
	}

	var err error
	select {
	case err = <-errc:
	case <-ctx.Done():
	}
	cancel()
	if cerr := sess.close(); err == nil && ctx.Err() == nil {
		err = cerr
	}
	wg.Wait()
	if err == nil {
		err = io.EOF
	}
	return err
}

func (c *Channel) readNotifications(ctx context.Context, conn net.Conn, acks chan<- struct{}) error {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 512), MaxLineLength+2)
	for scanner.Scan() {
		signal(acks)
		line := scanner.Bytes()
		if len(line) == 0 || (len(line) == 1 && line[0] == '\r') {
			continue
		}
		n, err := DecodeNotification(line)
		if err != nil {
			c.count(contracts.CounterProtocolDesyncs)
			c.logger.Error("Host protocol desync; reconnecting", c.logger.Field().Error("error", err))
			return err
		}
		c.count(contracts.CounterNotificationsReceived)
		select {
		case c.notifications <- n:
		case <-ctx.Done():
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			c.count(contracts.CounterProtocolDesyncs)
			err = fmt.Errorf("%w: line exceeds %d bytes", contracts.ErrProtocolDesync, MaxLineLength)
			c.logger.Error("Host protocol desync; reconnecting", c.logger.Field().Error("error", err))
		}
		return err
	}
	return io.EOF
}

// writeCommands sends queued commands in order. With ack pacing on, it waits after each
// write for the host to answer, so commands queued meanwhile coalesce in the queue.
func (c *Channel) writeCommands(ctx context.Context, conn net.Conn, acks <-chan struct{}) error {
	for {
		cmd, ok := c.queue.Pop()
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-c.queue.Ready():
				continue
			}
		}
		line := EncodeCommand(cmd)
		// An ack that arrived before this write answers an earlier one.
		select {
		case <-acks:
		default:
		}
		if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
			c.requeue(cmd)
			return err
		}
		if _, err := conn.Write(line); err != nil {
			c.requeue(cmd)
			return err
		}
		c.count(contracts.CounterCommandsSent)

		if c.ackTimeout > 0 && !c.awaitAck(ctx, cmd, acks) {
			return nil
		}
	}
}

// awaitAck blocks until the host answers, the ack timeout elapses or ctx ends. It
// returns false only when ctx ended.
func (c *Channel) awaitAck(ctx context.Context, cmd contracts.Command, acks <-chan struct{}) bool {
	timer := time.NewTimer(c.ackTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-acks:
	case <-timer.C:
		c.logger.Debug("Host did not acknowledge command in time",
			c.logger.Field().String("command", string(cmd.ID)),
			c.logger.Field().Duration("timeout", c.ackTimeout))
	}
	return true
}

func (c *Channel) requeue(cmd contracts.Command) {
	if !c.queue.Requeue(cmd) {
		c.count(contracts.CounterCommandsDropped)
	}
}

// drain discards acknowledgements the host writes back on the command socket and
// signals each read on acks.
func drain(conn net.Conn, acks chan<- struct{}) error {
	buf := make([]byte, 512)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			signal(acks)
		}
		if err != nil {
			return err
		}
	}
}

func signal(ch chan<- struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (c *Channel) setState(s contracts.ConnectionState) {
	prev := contracts.ConnectionState(c.state.Swap(int32(s)))
	if prev == s {
		return
	}
	c.logger.Info("Host connection state changed",
		c.logger.Field().String("from", prev.String()),
		c.logger.Field().String("to", s.String()),
		c.logger.Field().String("address", c.addr))
}

func (c *Channel) count(counter contracts.Counter) {
	if c.diag != nil {
		c.diag.Add(counter, 1)
	}
}
