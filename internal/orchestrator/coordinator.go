package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"

	"github.com/ahmadhassan44/stream-orchestrator/internal/transport"
	"github.com/ahmadhassan44/stream-orchestrator/pkg/protocol"
)

// Worker is an independently running consumer of the computing environment's output.
type Worker interface {
	Name() string
	// CreateConfiguration writes the configuration shared by all workers.
	CreateConfiguration(ctx context.Context, target string) error
	Start(ctx context.Context, orchestratorIP, endpoint string) error
	Stop(ctx context.Context) error
}

// WorkerFactory builds the worker with the given name.
type WorkerFactory func(name string) Worker

type workerEntry struct {
	worker Worker
	status protocol.WorkerStatus
}

// Coordinator owns the worker set and the worker report channel.
type Coordinator struct {
	reports   transport.ReportChannel
	newWorker WorkerFactory
	prefix    string

	mu      sync.RWMutex // guards status for concurrent Records readers
	workers []*workerEntry
	byName  map[string]*workerEntry
}

func NewCoordinator(reports transport.ReportChannel, prefix string, newWorker WorkerFactory) *Coordinator {
	return &Coordinator{
		reports:   reports,
		newWorker: newWorker,
		prefix:    prefix,
		byName:    map[string]*workerEntry{},
	}
}

// Provision creates count workers named <prefix>0..<prefix>count-1. The
// first one is the designated configurator and writes the shared
// configuration for target before any worker is started.
func (c *Coordinator) Provision(ctx context.Context, count int, target string) ([]protocol.WorkerRecord, error) {
	if count < 1 {
		return nil, fmt.Errorf("invalid worker count: %d", count)
	}

	c.mu.Lock()
	if len(c.workers) > 0 {
		c.mu.Unlock()
		return nil, errors.New("workers already provisioned")
	}
	for i := 0; i < count; i++ {
		name := c.prefix + strconv.Itoa(i)
		e := &workerEntry{worker: c.newWorker(name), status: protocol.WorkerCreated}
		c.workers = append(c.workers, e)
		c.byName[name] = e
	}
	configurator := c.workers[0].worker
	c.mu.Unlock()

	log.Printf("[Coordinator] Provisioned %d worker(s), %s writes the configuration", count, configurator.Name())
	if err := configurator.CreateConfiguration(ctx, target); err != nil {
		return nil, fmt.Errorf("create configuration on %s: %w", configurator.Name(), err)
	}
	return c.Records(), nil
}

// StartAll starts every worker independently. A worker that fails to start
// stays CREATED and is logged; the run only fails here when none started.
func (c *Coordinator) StartAll(ctx context.Context, orchestratorIP, endpoint string) error {
	started := 0
	for _, e := range c.entries() {
		if err := e.worker.Start(ctx, orchestratorIP, endpoint); err != nil {
			log.Printf("[WARNING] Failed to start worker %s: %v", e.worker.Name(), err)
			continue
		}
		c.setStatus(e, protocol.WorkerStarted)
		started++
	}
	if started == 0 {
		return protocol.ErrNoWorkersStarted
	}
	log.Printf("[Coordinator] %d worker(s) started against %s", started, endpoint)
	return nil
}

// HandleReport acknowledges msg and decodes it. Every message gets exactly
// one acknowledgment, recognized or not. The returned error wraps
// ErrMalformedReport or ErrUnknownWorker for reports that do not end the run.
func (c *Coordinator) HandleReport(ctx context.Context, msg protocol.Message) (protocol.Report, error) {
	log.Printf("[Coordinator] Message from worker: %s", msg)
	if err := c.reports.ReplyAck(ctx, protocol.NewMessage(protocol.Ack)); err != nil {
		return protocol.Report{}, err
	}

	if msg.Command() != protocol.CmdFinished {
		return protocol.Report{}, fmt.Errorf("%w: %s", protocol.ErrMalformedReport, msg)
	}
	name, _ := msg.Arg(0)
	var rest protocol.Message
	if len(msg) > 2 {
		rest = msg[2:]
	}
	report := protocol.Report{Worker: name, Rest: rest}
	if !c.Known(name) {
		return report, fmt.Errorf("%w: received %s from %q but no record of this worker is found",
			protocol.ErrUnknownWorker, protocol.CmdFinished, name)
	}
	return report, nil
}

// AwaitCompletion blocks until a known worker reports FINISHED. Malformed
// reports and reports from unknown workers are logged and skipped.
func (c *Coordinator) AwaitCompletion(ctx context.Context) (protocol.Report, error) {
	for {
		msg, err := c.reports.Receive(ctx)
		if err != nil {
			return protocol.Report{}, fmt.Errorf("await worker report: %w", err)
		}
		report, err := c.HandleReport(ctx, msg)
		if err == nil {
			log.Printf("[Coordinator] Worker %s has finished processing its queue", report.Worker)
			return report, nil
		}
		if protocol.Fatal(err) {
			return protocol.Report{}, err
		}
		log.Printf("[ERROR] %v", err)
	}
}

// StopAllOn stops every worker, not only trigger, once trigger is known.
// An unknown trigger stops nobody. Stop failures are collected; each worker
// is still marked STOPPED.
func (c *Coordinator) StopAllOn(ctx context.Context, trigger string) error {
	if !c.Known(trigger) {
		return fmt.Errorf("%w: %q", protocol.ErrUnknownWorker, trigger)
	}
	log.Printf("[Coordinator] %s finished, shutting all workers down", trigger)

	var errs []error
	for _, e := range c.entries() {
		c.mu.RLock()
		running := e.status == protocol.WorkerStarted
		c.mu.RUnlock()
		if running {
			if err := e.worker.Stop(ctx); err != nil {
				errs = append(errs, fmt.Errorf("stop %s: %w", e.worker.Name(), err))
			}
		}
		c.setStatus(e, protocol.WorkerStopped)
	}
	return errors.Join(errs...)
}

func (c *Coordinator) Known(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.byName[name]
	return ok
}

// Records returns the workers in index order.
func (c *Coordinator) Records() []protocol.WorkerRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	records := make([]protocol.WorkerRecord, len(c.workers))
	for i, e := range c.workers {
		records[i] = protocol.WorkerRecord{Name: e.worker.Name(), Status: e.status}
	}
	return records
}

func (c *Coordinator) entries() []*workerEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*workerEntry(nil), c.workers...)
}

func (c *Coordinator) setStatus(e *workerEntry, s protocol.WorkerStatus) {
	c.mu.Lock()
	e.status = s
	c.mu.Unlock()
}
