package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"path/filepath"
	"strconv"

	"github.com/ahmadhassan44/stream-orchestrator/internal/executor"
	"github.com/ahmadhassan44/stream-orchestrator/internal/worker"
)

// Launcher runs worker processes and their flume agents. *executor.Docker
// implements it.
type Launcher interface {
	StartWorker(ctx context.Context, name string, env []string) (string, error)
	StopWorker(ctx context.Context, containerID string) error
	RunOnDataStreamManager(ctx context.Context, shellCommand string) error
}

var _ Launcher = &executor.Docker{}

// WorkerSettings is what container workers of one run share.
type WorkerSettings struct {
	// Shared flume configuration directory, mounted into the datastream manager
	ConfigDir string
	// Flume log4j configurations, one directory per agent
	LogDir string

	OrchestratorPort int
	// Worker i accepts events on IntakeBasePort+i
	IntakeBasePort int
	// Port of the delivery agent on the datastream manager
	DeliveryPort int
}

// ContainerWorker is a recommendation manager: a worker container fed by
// its own intake agent on the datastream manager.
type ContainerWorker struct {
	name       string
	launcher   Launcher
	settings   WorkerSettings
	intakePort int

	containerID string
}

var _ Worker = &ContainerWorker{}

func NewContainerWorker(name string, launcher Launcher, settings WorkerSettings, intakePort int) *ContainerWorker {
	return &ContainerWorker{
		name:       name,
		launcher:   launcher,
		settings:   settings,
		intakePort: intakePort,
	}
}

// ContainerWorkers returns a factory for workers sharing launcher and
// settings. Each worker built gets the next intake port.
func ContainerWorkers(launcher Launcher, settings WorkerSettings) WorkerFactory {
	next := 0
	return func(name string) Worker {
		w := NewContainerWorker(name, launcher, settings, settings.IntakeBasePort+next)
		next++
		return w
	}
}

func (w *ContainerWorker) Name() string {
	return w.name
}

func (w *ContainerWorker) configPath() string {
	return filepath.Join(w.settings.ConfigDir, worker.ConfigurationFile)
}

// agentCommand launches agent from the shared configuration, resolving its
// ${VAR} placeholder from env ("VAR=value").
func (w *ContainerWorker) agentCommand(agent, logName, env string) string {
	return fmt.Sprintf("%s flume-ng agent --conf %s/%s --name %s --conf-file %s %s",
		env, w.settings.LogDir, logName, agent, w.configPath(), worker.EnvResolver)
}

// CreateConfiguration writes the shared configuration and starts the
// delivery agent every worker sends recommendations to.
func (w *ContainerWorker) CreateConfiguration(ctx context.Context, target string) error {
	path, err := worker.WriteConfiguration(w.settings.ConfigDir, executor.RecommendationTopic, target)
	if err != nil {
		return err
	}
	log.Printf("[Worker] %s wrote shared configuration %s", w.name, path)

	cmd := w.agentCommand(worker.DeliveryAgent, "delivery",
		worker.DeliveryPortEnv+"="+strconv.Itoa(w.settings.DeliveryPort))
	if err := w.launcher.RunOnDataStreamManager(ctx, cmd); err != nil {
		return fmt.Errorf("start delivery agent: %w", err)
	}
	return nil
}

func (w *ContainerWorker) Start(ctx context.Context, orchestratorIP, endpoint string) error {
	if w.containerID != "" {
		return fmt.Errorf("worker %s already running in %s", w.name, w.containerID)
	}
	intakePort := strconv.Itoa(w.intakePort)
	env := []string{
		"WORKER_NAME=" + w.name,
		"ORCHESTRATOR_ADDRESS=tcp://" + net.JoinHostPort(orchestratorIP, strconv.Itoa(w.settings.OrchestratorPort)),
		"RECOMMENDATION_ENDPOINT=" + endpoint,
		"RECOMMENDATION_OUTPUT=http://" + net.JoinHostPort(orchestratorIP, strconv.Itoa(w.settings.DeliveryPort)),
		"WORKER_INTAKE_PORT=" + intakePort,
	}
	id, err := w.launcher.StartWorker(ctx, w.name, env)
	if err != nil {
		return err
	}

	// workers run on the host network, reachable at the orchestrator address
	intake := "http://" + net.JoinHostPort(orchestratorIP, intakePort) + worker.IntakePath
	cmd := w.agentCommand(worker.IntakeAgent, w.name, worker.IntakeEnv+"="+intake)
	if err := w.launcher.RunOnDataStreamManager(ctx, cmd); err != nil {
		// without its intake the worker would never see the end marker
		if stopErr := w.launcher.StopWorker(ctx, id); stopErr != nil {
			log.Printf("[WARNING] Failed to stop %s: %v", w.name, stopErr)
		}
		return fmt.Errorf("start intake agent for %s: %w", w.name, err)
	}
	w.containerID = id
	return nil
}

func (w *ContainerWorker) Stop(ctx context.Context) error {
	if w.containerID == "" {
		return errors.New("worker " + w.name + " is not running")
	}
	if err := w.launcher.StopWorker(ctx, w.containerID); err != nil {
		return err
	}
	w.containerID = ""
	return nil
}
