package transport

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-zeromq/zmq4"

	"github.com/ahmadhassan44/stream-orchestrator/pkg/protocol"
)

// RequestChannel is the request/reply channel to the computing environment.
// Exactly one request may be outstanding at a time.
type RequestChannel interface {
	// SendAndWait sends msg and waits for the reply. A zero timeout waits
	// indefinitely. On timeout the channel is released and
	// protocol.ErrTimeout is returned.
	SendAndWait(ctx context.Context, msg protocol.Message, timeout time.Duration) (protocol.Message, error)
	// Send sends msg without waiting for a reply.
	Send(ctx context.Context, msg protocol.Message) error
	Close() error
}

// ReportChannel is the inbound channel on which workers report.
type ReportChannel interface {
	Receive(ctx context.Context) (protocol.Message, error)
	ReplyAck(ctx context.Context, ack protocol.Message) error
	Close() error
}

type recvResult struct {
	msg zmq4.Msg
	err error
}

// recv runs a blocking Recv on its own goroutine so the caller can stop
// waiting on timeout or cancellation. The goroutine ends once the socket is
// closed.
func recv(sock zmq4.Socket) <-chan recvResult {
	ch := make(chan recvResult, 1)
	go func() {
		msg, err := sock.Recv()
		ch <- recvResult{msg: msg, err: err}
	}()
	return ch
}

// Requester is a ZeroMQ REQ socket connected to the computing environment.
type Requester struct {
	addr   string
	sock   zmq4.Socket
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

var _ RequestChannel = &Requester{}

// DialRequester connects a REQ socket to addr, retrying every retry until
// ctx is done. The computing environment may still be booting when this is
// called. No attempt outlives ctx.
func DialRequester(ctx context.Context, addr string, retry time.Duration) (*Requester, error) {
	for {
		r, err := dialOnce(ctx, addr)
		if err == nil {
			log.Printf("[Transport] Connected to %s", addr)
			return r, nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("dial %s: %w", addr, ctx.Err())
		}

		log.Printf("[Transport] Dial %s failed, retrying in %s: %v", addr, retry, err)
		timer := time.NewTimer(retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("dial %s: %w", addr, ctx.Err())
		case <-timer.C:
		}
	}
}

// dialOnce makes a single connection attempt. zmq4 retries internally and
// ignores the caller's context, so retries are disabled and the attempt is
// abandoned when ctx is done.
func dialOnce(ctx context.Context, addr string) (*Requester, error) {
	sockCtx, cancel := context.WithCancel(context.Background())
	sock := zmq4.NewReq(sockCtx, zmq4.WithDialerMaxRetries(0))

	done := make(chan error, 1)
	go func() { done <- sock.Dial(addr) }()

	select {
	case err := <-done:
		if err != nil {
			sock.Close()
			cancel()
			return nil, err
		}
		return &Requester{addr: addr, sock: sock, cancel: cancel}, nil
	case <-ctx.Done():
		// cancelling the socket context aborts the pending connect
		cancel()
		go func() {
			<-done
			sock.Close()
		}()
		return nil, ctx.Err()
	}
}

func (r *Requester) Send(ctx context.Context, msg protocol.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return protocol.ErrChannelClosed
	}
	if err := r.sock.SendMulti(zmq4.NewMsgFrom(msg.Frames()...)); err != nil {
		return fmt.Errorf("send %s: %w", msg, err)
	}
	return nil
}

func (r *Requester) SendAndWait(ctx context.Context, msg protocol.Message, timeout time.Duration) (protocol.Message, error) {
	if err := r.Send(ctx, msg); err != nil {
		return nil, err
	}

	if timeout > 0 {
		log.Printf("[Transport] Sent %s, waiting %s for answer", msg, timeout)
	} else {
		log.Printf("[Transport] Sent %s, waiting indefinitely for answer", msg)
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case res := <-recv(r.sock):
		if res.err != nil {
			return nil, fmt.Errorf("receive reply to %s: %w", msg, res.err)
		}
		reply := protocol.MessageFromFrames(res.msg.Frames)
		log.Printf("[Transport] Reply from %s: %s", r.addr, reply)
		return reply, nil
	case <-deadline:
		// A late reply could be attributed to the next request. Drop the session.
		r.Close()
		return nil, protocol.ErrTimeout
	case <-ctx.Done():
		r.Close()
		return nil, ctx.Err()
	}
}

// Close is idempotent.
func (r *Requester) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	err := r.sock.Close()
	r.cancel()
	return err
}

// Replier is a ZeroMQ REP socket workers report to.
type Replier struct {
	sock   zmq4.Socket
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

var _ ReportChannel = &Replier{}

// ListenReplier binds a REP socket, e.g. "tcp://*:2761".
func ListenReplier(endpoint string) (*Replier, error) {
	sockCtx, cancel := context.WithCancel(context.Background())
	sock := zmq4.NewRep(sockCtx)
	if err := sock.Listen(endpoint); err != nil {
		cancel()
		return nil, fmt.Errorf("listen %s: %w", endpoint, err)
	}
	log.Printf("[Transport] Listening for worker reports on %s", sock.Addr())
	return &Replier{sock: sock, cancel: cancel}, nil
}

// Addr is the bound address, useful when listening on port 0.
func (r *Replier) Addr() string {
	if a := r.sock.Addr(); a != nil {
		return a.String()
	}
	return ""
}

func (r *Replier) Receive(ctx context.Context) (protocol.Message, error) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return nil, protocol.ErrChannelClosed
	}

	select {
	case res := <-recv(r.sock):
		if res.err != nil {
			return nil, fmt.Errorf("receive report: %w", res.err)
		}
		return protocol.MessageFromFrames(res.msg.Frames), nil
	case <-ctx.Done():
		// The pending Recv would swallow the next report; the socket is unusable.
		r.Close()
		return nil, ctx.Err()
	}
}

func (r *Replier) ReplyAck(ctx context.Context, ack protocol.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return protocol.ErrChannelClosed
	}
	if err := r.sock.SendMulti(zmq4.NewMsgFrom(ack.Frames()...)); err != nil {
		return fmt.Errorf("send ack: %w", err)
	}
	return nil
}

func (r *Replier) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	err := r.sock.Close()
	r.cancel()
	return err
}
