package executor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// RecommendationTopic is the kafka topic recommendation managers consume.
const RecommendationTopic = "recommendation-requests"

// dockerAPI is the part of the Docker client the executor uses.
type dockerAPI interface {
	Ping(ctx context.Context) (types.Ping, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerExecCreate(ctx context.Context, container string, config types.ExecConfig) (types.IDResponse, error)
	ContainerExecStart(ctx context.Context, execID string, config types.ExecStartCheck) error
	ContainerExecInspect(ctx context.Context, execID string) (types.ContainerExecInspect, error)
	Close() error
}

var _ dockerAPI = &client.Client{}

type Options struct {
	// Used to name containers; one run never shares containers with another
	RunID string

	DatastreamImage string
	CompEnvImage    string
	WorkerImage     string

	// Published host ports
	ZookeeperPort int
	CompEnvPort   int
	// Delivery agent port on the datastream manager, 0 if not published
	DeliveryPort int

	// Shared flume configuration, mounted into the datastream manager
	FlumeConfigDir string
}

// Docker runs the datastream manager, the computing environment and the
// workers as local containers.
type Docker struct {
	cli  dockerAPI
	opts Options

	// exec polling interval
	poll time.Duration

	mu           sync.Mutex
	datastreamID string
	containers   []string // every container created, in creation order
}

// NewDocker initializes the Docker client from the environment
func NewDocker(opts Options) (*Docker, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	return newDocker(cli, opts), nil
}

func newDocker(cli dockerAPI, opts Options) *Docker {
	return &Docker{cli: cli, opts: opts, poll: 500 * time.Millisecond}
}

// CheckConnectivity verifies we can talk to the Docker Daemon
func (d *Docker) CheckConnectivity(ctx context.Context) error {
	ping, err := d.cli.Ping(ctx)
	if err != nil {
		return fmt.Errorf("cannot connect to Docker daemon: %w", err)
	}
	log.Printf("[Executor] Docker daemon connected (API %s, %s)", ping.APIVersion, ping.OSType)
	return nil
}

func (d *Docker) containerName(role string) string {
	return fmt.Sprintf("idomaar-%s-%s", role, d.opts.RunID)
}

func (d *Docker) run(ctx context.Context, name string, config *container.Config, hostConfig *container.HostConfig) (string, error) {
	resp, err := d.cli.ContainerCreate(ctx, config, hostConfig, nil, nil, name)
	if err != nil {
		return "", fmt.Errorf("create %s failed: %w", name, err)
	}

	d.mu.Lock()
	d.containers = append(d.containers, resp.ID)
	d.mu.Unlock()

	if err := d.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("start %s failed: %w", name, err)
	}
	return resp.ID, nil
}

// publish maps each containerPort/tcp to the same host port. Zero ports are skipped.
func publish(ports ...int) (nat.PortSet, nat.PortMap) {
	exposed, bindings := nat.PortSet{}, nat.PortMap{}
	for _, port := range ports {
		if port == 0 {
			continue
		}
		p := nat.Port(strconv.Itoa(port) + "/tcp")
		exposed[p] = struct{}{}
		bindings[p] = []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: strconv.Itoa(port)}}
	}
	return exposed, bindings
}

// StartDatastream starts the datastream manager (kafka, zookeeper, flume).
func (d *Docker) StartDatastream(ctx context.Context) error {
	exposed, bindings := publish(d.opts.ZookeeperPort, d.opts.DeliveryPort)
	name := d.containerName("datastreammanager")
	log.Printf("[Executor] Starting datastream manager %s (zookeeper port %d)", name, d.opts.ZookeeperPort)

	config := &container.Config{
		Image:        d.opts.DatastreamImage,
		ExposedPorts: exposed,
	}
	hostConfig := &container.HostConfig{
		PortBindings: bindings,
	}
	if d.opts.FlumeConfigDir != "" {
		hostConfig.Binds = []string{d.opts.FlumeConfigDir + ":" + d.opts.FlumeConfigDir}
	}

	id, err := d.run(ctx, name, config, hostConfig)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.datastreamID = id
	d.mu.Unlock()
	return nil
}

// ConfigureDatastream creates the recommendation topic with one partition per worker.
func (d *Docker) ConfigureDatastream(ctx context.Context, workerCount int, zookeeperHostport string) error {
	if workerCount < 1 {
		return fmt.Errorf("invalid worker count: %d", workerCount)
	}
	cmd := fmt.Sprintf(
		"kafka-topics.sh --create --if-not-exists --zookeeper %s --replication-factor 1 --partitions %d --topic %s",
		zookeeperHostport, workerCount, RecommendationTopic,
	)
	log.Printf("[Executor] Configuring datastream: %s", cmd)
	return d.execWait(ctx, cmd)
}

// StartComputingEnvironment starts the computing environment, publishing its request port.
func (d *Docker) StartComputingEnvironment(ctx context.Context) error {
	exposed, bindings := publish(d.opts.CompEnvPort)
	name := d.containerName("computingenvironment")
	log.Printf("[Executor] Starting computing environment %s (port %d)", name, d.opts.CompEnvPort)

	_, err := d.run(ctx, name,
		&container.Config{Image: d.opts.CompEnvImage, ExposedPorts: exposed},
		&container.HostConfig{PortBindings: bindings},
	)
	return err
}

func (d *Docker) datastream() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.datastreamID == "" {
		return "", errors.New("datastream manager is not running")
	}
	return d.datastreamID, nil
}

func (d *Docker) exec(ctx context.Context, shellCommand string, detach bool) (string, error) {
	id, err := d.datastream()
	if err != nil {
		return "", err
	}
	resp, err := d.cli.ContainerExecCreate(ctx, id, types.ExecConfig{
		Cmd:    []string{"sh", "-c", shellCommand},
		Detach: detach,
	})
	if err != nil {
		return "", fmt.Errorf("exec create failed: %w", err)
	}
	if err := d.cli.ContainerExecStart(ctx, resp.ID, types.ExecStartCheck{Detach: detach}); err != nil {
		return "", fmt.Errorf("exec start failed: %w", err)
	}
	return resp.ID, nil
}

// RunOnDataStreamManager starts shellCommand inside the datastream manager
// without waiting for it; flume agents run until the container stops.
func (d *Docker) RunOnDataStreamManager(ctx context.Context, shellCommand string) error {
	log.Printf("[Executor] Running on datastream manager: %s", shellCommand)
	_, err := d.exec(ctx, shellCommand, true)
	return err
}

// execWait runs shellCommand and waits for a zero exit code.
func (d *Docker) execWait(ctx context.Context, shellCommand string) error {
	execID, err := d.exec(ctx, shellCommand, false)
	if err != nil {
		return err
	}
	ticker := time.NewTicker(d.poll)
	defer ticker.Stop()
	for {
		inspect, err := d.cli.ContainerExecInspect(ctx, execID)
		if err != nil {
			return fmt.Errorf("exec inspect failed: %w", err)
		}
		if !inspect.Running {
			if inspect.ExitCode != 0 {
				return fmt.Errorf("command %q exited with code %d", shellCommand, inspect.ExitCode)
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// StartWorker runs a worker container and returns its ID.
func (d *Docker) StartWorker(ctx context.Context, name string, env []string) (string, error) {
	log.Printf("[Executor] Spawning worker %s", name)
	return d.run(ctx, d.containerName(name),
		&container.Config{Image: d.opts.WorkerImage, Env: env},
		&container.HostConfig{NetworkMode: "host"},
	)
}

func (d *Docker) StopWorker(ctx context.Context, containerID string) error {
	timeout := 10
	if err := d.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("stop %s failed: %w", containerID, err)
	}
	return nil
}

// Close removes every container this executor created, newest first, and
// releases the client. Errors are logged and the first one returned.
func (d *Docker) Close(ctx context.Context) error {
	d.mu.Lock()
	containers := d.containers
	d.containers = nil
	d.mu.Unlock()

	var first error
	for i := len(containers) - 1; i >= 0; i-- {
		id := containers[i]
		if err := d.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
			log.Printf("[WARNING] Failed to remove container %s: %v", id, err)
			if first == nil {
				first = err
			}
		}
	}
	if err := d.cli.Close(); err != nil && first == nil {
		first = err
	}
	return first
}
