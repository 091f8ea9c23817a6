package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ahmadhassan44/stream-orchestrator/internal/transport"
	"github.com/ahmadhassan44/stream-orchestrator/pkg/config"
	"github.com/ahmadhassan44/stream-orchestrator/pkg/protocol"
)

// Executor manages the infrastructure the run needs. Every call either
// completes or returns an error.
type Executor interface {
	StartDatastream(ctx context.Context) error
	ConfigureDatastream(ctx context.Context, workerCount int, zookeeperHostport string) error
	StartComputingEnvironment(ctx context.Context) error
	RunOnDataStreamManager(ctx context.Context, shellCommand string) error
}

// Dialer opens the request channel to the computing environment.
type Dialer func(ctx context.Context) (transport.RequestChannel, error)

type Options struct {
	TrainingURI          string
	TestURI              string
	RecommendationTarget string

	Workers        int
	Topic          string
	StartupTimeout time.Duration

	// Flume installation on the datastream manager
	FlumeConfigDir string
	FlumeLogDir    string
}

// flumeFeedCommand launches a flume agent streaming uri into kafka.
func flumeFeedCommand(opts Options, phase, uri string) string {
	return fmt.Sprintf(
		"flume-ng agent --conf %s/%s --name a1 --conf-file %s/idomaar-TO-kafka.conf -Didomaar.url=%s -Didomaar.sourceType=file",
		opts.FlumeLogDir, phase, opts.FlumeConfigDir, uri,
	)
}

// Sequencer drives one run through bootstrap, train, test, await-completion
// and shutdown. Construct one per run.
type Sequencer struct {
	run         *Run
	opts        Options
	executor    Executor
	endpoints   *config.Endpoints
	dial        Dialer
	reports     transport.ReportChannel
	coordinator *Coordinator

	requests transport.RequestChannel
	control  *Control
	// recommendation endpoint returned by TRAIN, handed to the workers
	endpoint string

	closeOnce sync.Once
	closeErr  error
}

func NewSequencer(opts Options, exec Executor, endpoints *config.Endpoints, dial Dialer, coordinator *Coordinator, reports transport.ReportChannel) *Sequencer {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Topic == "" {
		opts.Topic = "data"
	}
	if opts.StartupTimeout <= 0 {
		opts.StartupTimeout = 20 * time.Second
	}
	if opts.FlumeConfigDir == "" {
		opts.FlumeConfigDir = "/vagrant/flume-config/config"
	}
	if opts.FlumeLogDir == "" {
		opts.FlumeLogDir = "/vagrant/flume-config/log4j"
	}
	return &Sequencer{
		run:         NewRun(),
		opts:        opts,
		executor:    exec,
		endpoints:   endpoints,
		dial:        dial,
		reports:     reports,
		coordinator: coordinator,
	}
}

func (s *Sequencer) Run() *Run {
	return s.run
}

// WithRun makes the sequencer drive r, for callers that name resources
// after the run before it starts.
func (s *Sequencer) WithRun(r *Run) *Sequencer {
	s.run = r
	return s
}

// Status is a point-in-time view of the run.
type Status struct {
	RunID     string                  `json:"run_id"`
	Phase     protocol.Phase          `json:"phase"`
	History   []protocol.Phase        `json:"history"`
	Error     string                  `json:"error,omitempty"`
	StartedAt time.Time               `json:"started_at"`
	Workers   []protocol.WorkerRecord `json:"workers"`
}

func (s *Sequencer) Status() Status {
	st := Status{
		RunID:     s.run.ID,
		Phase:     s.run.Phase(),
		History:   s.run.History(),
		StartedAt: s.run.StartedAt,
		Workers:   s.coordinator.Records(),
	}
	if err := s.run.Err(); err != nil {
		st.Error = err.Error()
	}
	return st
}

// Execute runs the whole sequence. A fatal error moves the run to FAILED
// and is returned as a *protocol.PhaseError; there are no retries.
func (s *Sequencer) Execute(ctx context.Context) error {
	log.Printf("[Sequencer] Starting run %s", s.run.ID)
	steps := []struct {
		name string
		do   func(context.Context) error
		next protocol.Phase
	}{
		{"bootstrap", s.bootstrap, protocol.PhaseTraining},
		{"train", s.train, protocol.PhaseTesting},
		{"test", s.test, protocol.PhaseAwaitingWorkers},
		{"await workers", s.awaitWorkers, protocol.PhaseStopping},
		{"shutdown", s.shutdown, protocol.PhaseDone},
	}

	for _, step := range steps {
		if err := step.do(ctx); err != nil {
			return s.run.fail(fmt.Errorf("%s: %w", step.name, err))
		}
		if err := s.run.advance(step.next); err != nil {
			return s.run.fail(err)
		}
	}
	log.Printf("[Sequencer] Run %s done in %s", s.run.ID, time.Since(s.run.StartedAt).Round(time.Second))
	return nil
}

func (s *Sequencer) bootstrap(ctx context.Context) error {
	zk := s.endpoints.ZookeeperHostPort()
	if err := s.executor.StartDatastream(ctx); err != nil {
		return fmt.Errorf("start datastream: %w", err)
	}
	if err := s.executor.ConfigureDatastream(ctx, s.opts.Workers, zk); err != nil {
		return fmt.Errorf("configure datastream: %w", err)
	}
	if err := s.executor.StartComputingEnvironment(ctx); err != nil {
		return fmt.Errorf("start computing environment: %w", err)
	}

	// connecting and HELLO/READY share one startup window
	deadline := time.Now().Add(s.opts.StartupTimeout)
	dialCtx, cancel := context.WithDeadline(ctx, deadline)
	requests, err := s.dial(dialCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("%w: %w", protocol.ErrHandshakeFailed, err)
	}
	s.requests = requests
	s.control = NewControl(requests)

	remaining := time.Until(deadline)
	if remaining <= 0 {
		requests.Close()
		return fmt.Errorf("%w: connected after the %s startup window: %w",
			protocol.ErrHandshakeFailed, s.opts.StartupTimeout, protocol.ErrTimeout)
	}
	if err := s.control.Handshake(ctx, remaining); err != nil {
		return err
	}
	log.Printf("[Sequencer] Connected to computing environment, start feeding train data")
	return nil
}

func (s *Sequencer) train(ctx context.Context) error {
	log.Printf("[Sequencer] Starting data reader for training data uri=[%s]", s.opts.TrainingURI)
	if err := s.executor.RunOnDataStreamManager(ctx, flumeFeedCommand(s.opts, "training", s.opts.TrainingURI)); err != nil {
		return fmt.Errorf("feed training data: %w", err)
	}

	endpoint, err := s.control.Train(ctx, s.endpoints.ZookeeperHostPort(), s.opts.Topic)
	if err != nil {
		return err
	}
	log.Printf("[Sequencer] Received recommendation endpoint %s", endpoint)
	s.endpoint = endpoint
	return nil
}

func (s *Sequencer) test(ctx context.Context) error {
	if _, err := s.coordinator.Provision(ctx, s.opts.Workers, s.opts.RecommendationTarget); err != nil {
		return err
	}
	if err := s.coordinator.StartAll(ctx, s.endpoints.OrchestratorIP(), s.endpoint); err != nil {
		return err
	}

	log.Printf("[Sequencer] Start sending test data to queue, uri=[%s]", s.opts.TestURI)
	if err := s.executor.RunOnDataStreamManager(ctx, flumeFeedCommand(s.opts, "test", s.opts.TestURI)); err != nil {
		return fmt.Errorf("feed test data: %w", err)
	}
	return s.control.RequestTest(ctx)
}

func (s *Sequencer) awaitWorkers(ctx context.Context) error {
	log.Printf("[Sequencer] Waiting for FINISHED from %d worker(s)", s.opts.Workers)
	report, err := s.coordinator.AwaitCompletion(ctx)
	if err != nil {
		return err
	}
	if err := s.coordinator.StopAllOn(ctx, report.Worker); err != nil {
		// workers are done with their queue; a failed stop does not change the outcome
		log.Printf("[WARNING] Stopping workers: %v", err)
	}
	return nil
}

func (s *Sequencer) shutdown(ctx context.Context) error {
	if err := s.control.Shutdown(ctx); err != nil {
		return err
	}
	return s.Close()
}

// Close releases both channels. It is safe to call on every exit path and
// only acts once.
func (s *Sequencer) Close() error {
	s.closeOnce.Do(func() {
		log.Printf("[Sequencer] Orchestrator closing...")
		var errs []error
		if s.requests != nil {
			errs = append(errs, s.requests.Close())
		}
		if s.reports != nil {
			errs = append(errs, s.reports.Close())
		}
		s.closeErr = errors.Join(errs...)
		log.Printf("[Sequencer] Orchestrator shutdown.")
	})
	return s.closeErr
}
