package executor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/require"
)

type created struct {
	name       string
	config     *container.Config
	hostConfig *container.HostConfig
}

type fakeDocker struct {
	created  []created
	started  []string
	stopped  []string
	removed  []string
	execs    []types.ExecConfig
	inspects []types.ContainerExecInspect // returned in order, last one repeats
	startErr error
	closed   bool
}

func (f *fakeDocker) Ping(ctx context.Context) (types.Ping, error) {
	return types.Ping{APIVersion: "1.45", OSType: "linux"}, nil
}

func (f *fakeDocker) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, _ *network.NetworkingConfig, _ *ocispec.Platform, name string) (container.CreateResponse, error) {
	f.created = append(f.created, created{name: name, config: config, hostConfig: hostConfig})
	return container.CreateResponse{ID: fmt.Sprintf("c%d", len(f.created))}, nil
}

func (f *fakeDocker) ContainerStart(ctx context.Context, id string, _ container.StartOptions) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started = append(f.started, id)
	return nil
}

func (f *fakeDocker) ContainerStop(ctx context.Context, id string, _ container.StopOptions) error {
	f.stopped = append(f.stopped, id)
	return nil
}

func (f *fakeDocker) ContainerRemove(ctx context.Context, id string, opts container.RemoveOptions) error {
	if !opts.Force {
		return errors.New("not forced")
	}
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeDocker) ContainerExecCreate(ctx context.Context, id string, config types.ExecConfig) (types.IDResponse, error) {
	f.execs = append(f.execs, config)
	return types.IDResponse{ID: fmt.Sprintf("exec%d", len(f.execs))}, nil
}

func (f *fakeDocker) ContainerExecStart(ctx context.Context, execID string, _ types.ExecStartCheck) error {
	return nil
}

func (f *fakeDocker) ContainerExecInspect(ctx context.Context, execID string) (types.ContainerExecInspect, error) {
	if len(f.inspects) == 0 {
		return types.ContainerExecInspect{}, nil
	}
	next := f.inspects[0]
	if len(f.inspects) > 1 {
		f.inspects = f.inspects[1:]
	}
	return next, nil
}

func (f *fakeDocker) Close() error {
	f.closed = true
	return nil
}

func newTestDocker(f *fakeDocker) *Docker {
	d := newDocker(f, Options{
		RunID:           "r1",
		DatastreamImage: "ds:latest",
		CompEnvImage:    "ce:latest",
		WorkerImage:     "w:latest",
		ZookeeperPort:   2181,
		CompEnvPort:     2760,
		DeliveryPort:    5140,
		FlumeConfigDir:  "/flume",
	})
	d.poll = time.Millisecond
	return d
}

func TestStartInfrastructure(t *testing.T) {
	f := &fakeDocker{}
	d := newTestDocker(f)
	ctx := context.Background()

	require.NoError(t, d.CheckConnectivity(ctx))
	require.NoError(t, d.StartDatastream(ctx))
	require.NoError(t, d.StartComputingEnvironment(ctx))

	require.Len(t, f.created, 2)
	require.Equal(t, "idomaar-datastreammanager-r1", f.created[0].name)
	require.Equal(t, "ds:latest", f.created[0].config.Image)
	require.Equal(t, []string{"/flume:/flume"}, f.created[0].hostConfig.Binds)
	require.Equal(t,
		[]nat.PortBinding{{HostIP: "0.0.0.0", HostPort: "2181"}},
		f.created[0].hostConfig.PortBindings[nat.Port("2181/tcp")])
	require.Contains(t, f.created[0].config.ExposedPorts, nat.Port("5140/tcp"), "delivery agent")
	require.Len(t, f.created[0].hostConfig.PortBindings, 2)

	require.Equal(t, "idomaar-computingenvironment-r1", f.created[1].name)
	require.Contains(t, f.created[1].config.ExposedPorts, nat.Port("2760/tcp"))
	require.Equal(t, []string{"c1", "c2"}, f.started)
}

func TestRunOnDataStreamManagerRequiresDatastream(t *testing.T) {
	d := newTestDocker(&fakeDocker{})
	err := d.RunOnDataStreamManager(context.Background(), "flume-ng agent")
	require.Error(t, err)
}

func TestRunOnDataStreamManagerDetaches(t *testing.T) {
	f := &fakeDocker{}
	d := newTestDocker(f)
	ctx := context.Background()
	require.NoError(t, d.StartDatastream(ctx))

	require.NoError(t, d.RunOnDataStreamManager(ctx, "flume-ng agent --name a1"))
	require.Len(t, f.execs, 1)
	require.True(t, f.execs[0].Detach)
	require.Equal(t, []string{"sh", "-c", "flume-ng agent --name a1"}, f.execs[0].Cmd)
}

func TestConfigureDatastream(t *testing.T) {
	tests := []struct {
		name     string
		workers  int
		inspects []types.ContainerExecInspect
		wantErr  bool
	}{
		{"success", 2, []types.ContainerExecInspect{{Running: true}, {Running: false, ExitCode: 0}}, false},
		{"non-zero exit", 1, []types.ContainerExecInspect{{Running: false, ExitCode: 3}}, true},
		{"no workers", 0, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeDocker{inspects: tt.inspects}
			d := newTestDocker(f)
			ctx := context.Background()
			require.NoError(t, d.StartDatastream(ctx))

			err := d.ConfigureDatastream(ctx, tt.workers, "10.0.0.1:2181")
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Len(t, f.execs, 1)
			require.Contains(t, f.execs[0].Cmd[2], "--partitions 2")
			require.Contains(t, f.execs[0].Cmd[2], "--zookeeper 10.0.0.1:2181")
		})
	}
}

func TestWorkerLifecycleAndClose(t *testing.T) {
	f := &fakeDocker{}
	d := newTestDocker(f)
	ctx := context.Background()

	require.NoError(t, d.StartDatastream(ctx))
	id, err := d.StartWorker(ctx, "RM0", []string{"WORKER_NAME=RM0"})
	require.NoError(t, err)
	require.Equal(t, "c2", id)
	require.Equal(t, []string{"WORKER_NAME=RM0"}, f.created[1].config.Env)

	require.NoError(t, d.StopWorker(ctx, id))
	require.Equal(t, []string{"c2"}, f.stopped)

	require.NoError(t, d.Close(ctx))
	require.Equal(t, []string{"c2", "c1"}, f.removed)
	require.True(t, f.closed)
}

func TestStartFailureStillCleanedUp(t *testing.T) {
	f := &fakeDocker{startErr: errors.New("boom")}
	d := newTestDocker(f)
	ctx := context.Background()

	require.Error(t, d.StartComputingEnvironment(ctx))
	require.NoError(t, d.Close(ctx))
	require.Equal(t, []string{"c1"}, f.removed)
}
