package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ahmadhassan44/stream-orchestrator/pkg/protocol"
)

// scripted is one answer of fakeRequests: a reply or an error.
type scripted struct {
	reply protocol.Message
	err   error
}

type sentRequest struct {
	msg     protocol.Message
	timeout time.Duration
	waited  bool
}

// fakeRequests answers SendAndWait from a script, in order.
type fakeRequests struct {
	script []scripted
	sent   []sentRequest
	// 1 once closed; Close is idempotent like the real channel
	closeCalls int
}

func (f *fakeRequests) SendAndWait(ctx context.Context, msg protocol.Message, timeout time.Duration) (protocol.Message, error) {
	if f.closeCalls > 0 {
		return nil, protocol.ErrChannelClosed
	}
	f.sent = append(f.sent, sentRequest{msg: msg, timeout: timeout, waited: true})
	if len(f.script) == 0 {
		return nil, errors.New("no scripted reply")
	}
	next := f.script[0]
	f.script = f.script[1:]
	if errors.Is(next.err, protocol.ErrTimeout) {
		f.Close()
	}
	return next.reply, next.err
}

func (f *fakeRequests) Send(ctx context.Context, msg protocol.Message) error {
	if f.closeCalls > 0 {
		return protocol.ErrChannelClosed
	}
	f.sent = append(f.sent, sentRequest{msg: msg})
	return nil
}

func (f *fakeRequests) Close() error {
	if f.closeCalls == 0 {
		f.closeCalls++
	}
	return nil
}

func (f *fakeRequests) commands() []string {
	var cmds []string
	for _, s := range f.sent {
		cmds = append(cmds, s.msg.Command())
	}
	return cmds
}

// fakeReports hands out queued inbound messages and records acks.
type fakeReports struct {
	mu         sync.Mutex
	inbound    []protocol.Message
	acks       []protocol.Message
	closeCalls int
}

func (f *fakeReports) Receive(ctx context.Context) (protocol.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.inbound) == 0 {
		return nil, protocol.ErrChannelClosed
	}
	next := f.inbound[0]
	f.inbound = f.inbound[1:]
	return next, nil
}

func (f *fakeReports) ReplyAck(ctx context.Context, ack protocol.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks = append(f.acks, ack)
	return nil
}

func (f *fakeReports) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	return nil
}

type fakeWorker struct {
	name       string
	configured []string
	started    []string
	stopped    int
	startErr   error
}

func (w *fakeWorker) Name() string { return w.name }

func (w *fakeWorker) CreateConfiguration(ctx context.Context, target string) error {
	w.configured = append(w.configured, target)
	return nil
}

func (w *fakeWorker) Start(ctx context.Context, orchestratorIP, endpoint string) error {
	if w.startErr != nil {
		return w.startErr
	}
	w.started = append(w.started, orchestratorIP+"|"+endpoint)
	return nil
}

func (w *fakeWorker) Stop(ctx context.Context) error {
	w.stopped++
	return nil
}

// fakeWorkers records every worker it builds.
type fakeWorkers struct {
	built    map[string]*fakeWorker
	startErr map[string]error
}

func newFakeWorkers() *fakeWorkers {
	return &fakeWorkers{built: map[string]*fakeWorker{}, startErr: map[string]error{}}
}

func (f *fakeWorkers) factory(name string) Worker {
	w := &fakeWorker{name: name, startErr: f.startErr[name]}
	f.built[name] = w
	return w
}

type fakeExecutor struct {
	calls   []string
	failOn  string
	configN int
	zk      string
}

func (f *fakeExecutor) record(call string) error {
	f.calls = append(f.calls, call)
	if call == f.failOn {
		return errors.New(call + " failed")
	}
	return nil
}

func (f *fakeExecutor) StartDatastream(ctx context.Context) error {
	return f.record("start-datastream")
}

func (f *fakeExecutor) ConfigureDatastream(ctx context.Context, workerCount int, zookeeperHostport string) error {
	f.configN = workerCount
	f.zk = zookeeperHostport
	return f.record("configure-datastream")
}

func (f *fakeExecutor) StartComputingEnvironment(ctx context.Context) error {
	return f.record("start-compenv")
}

func (f *fakeExecutor) RunOnDataStreamManager(ctx context.Context, shellCommand string) error {
	return f.record("run:" + shellCommand)
}
