package voyager

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strconv"
	"time"

	dockertypes "github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/docker/go-units"
)

func decodeJSON(r io.Reader, v any) error {
	return json.NewDecoder(r).Decode(v)
}

// DockerClient is the slice of the Docker SDK ContainerManager needs. The
// real implementation wraps github.com/docker/docker/client; tests supply a
// fake.
type DockerClient interface {
	ImageInspectOrPull(ctx context.Context, ref string) error

	ContainerCreate(ctx context.Context, spec ContainerCreateSpec) (id string, err error)
	ContainerStart(ctx context.Context, id string) error
	ContainerStop(ctx context.Context, id string, timeoutSec int) error
	ContainerRemove(ctx context.Context, id string, force bool) error
	ContainerInspect(ctx context.Context, id string) (ContainerState, error)
	ContainerStats(ctx context.Context, id string) (ContainerStatsRaw, error)
	ContainerLogs(ctx context.Context, id string, tail int) (io.ReadCloser, error)
	ContainerExec(ctx context.Context, id string, cmd []string) (exitCode int, out []byte, err error)
	ContainerPause(ctx context.Context, id string) error
	ContainerUnpause(ctx context.Context, id string) error
	ContainerKill(ctx context.Context, id string, signal string) error
	ContainerWait(ctx context.Context, id string) (exitCode int64, err error)
}

// ContainerCreateSpec is a runtime-agnostic description of what to create.
type ContainerCreateSpec struct {
	Name        string
	Image       string
	Cmd         []string
	Env         []string
	CPULimit    string // e.g. "1.5" cores
	MemoryLimit string // e.g. "512m", "2g"
	PortBinding *PortBinding
	Mounts      []MountSpec
}

// MountSpec is a single bind mount.
type MountSpec struct {
	HostPath      string
	ContainerPath string
	ReadOnly      bool
}

// PortBinding maps one TCP container port to a host port.
type PortBinding struct {
	ContainerPort int
	HostPort      int
}

// ContainerState is the subset of container inspect state ContainerManager needs.
type ContainerState struct {
	Status     string // created, running, paused, exited, dead
	Running    bool
	ExitCode   int
	StartedAt  time.Time
	FinishedAt time.Time
}

// ContainerStatsRaw is a pre-parsed snapshot from the runtime's stats API.
type ContainerStatsRaw struct {
	CPUPercent float64
	MemoryRaw  string // e.g. "512MiB", as reported by the runtime
}

// realDockerClient adapts github.com/docker/docker/client to DockerClient.
type realDockerClient struct {
	cli *dockerclient.Client
}

// NewDockerClient opens a Docker client from the environment (DOCKER_HOST,
// TLS vars, etc. — the SDK's own conventions).
func NewDockerClient() (DockerClient, error) {
	cli, err := dockerclient.NewClientWithOpts(dockerclient.FromEnv, dockerclient.WithAPIVersionNegotiation())
	if err != nil {
		return nil, &ContainerError{Op: "dial", Msg: err.Error(), Err: err}
	}
	return &realDockerClient{cli: cli}, nil
}

func (d *realDockerClient) ImageInspectOrPull(ctx context.Context, ref string) error {
	if _, err := d.cli.ImageInspect(ctx, ref); err == nil {
		return nil
	}
	rc, err := d.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return &ContainerError{Op: "pull", Msg: ref, Err: err}
	}
	defer rc.Close()
	_, _ = io.Copy(io.Discard, rc)
	return nil
}

func toNanoCPUs(cpuLimit string) int64 {
	f, err := strconv.ParseFloat(cpuLimit, 64)
	if err != nil || f <= 0 {
		return 0
	}
	return int64(f * 1e9)
}

func toMemoryBytes(memLimit string) int64 {
	b, err := units.RAMInBytes(memLimit)
	if err != nil {
		return 0
	}
	return b
}

func natPortMap(pb *PortBinding) (nat.PortSet, nat.PortMap, error) {
	if pb == nil {
		return nil, nil, nil
	}
	port, err := nat.NewPort("tcp", strconv.Itoa(pb.ContainerPort))
	if err != nil {
		return nil, nil, &ContainerError{Op: "port-binding", Msg: err.Error(), Err: err}
	}
	exposed := nat.PortSet{port: struct{}{}}
	bindings := nat.PortMap{port: []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: strconv.Itoa(pb.HostPort)}}}
	return exposed, bindings, nil
}

func (d *realDockerClient) ContainerCreate(ctx context.Context, spec ContainerCreateSpec) (string, error) {
	exposed, bindings, err := natPortMap(spec.PortBinding)
	if err != nil {
		return "", err
	}

	binds := make([]string, 0, len(spec.Mounts))
	for _, m := range spec.Mounts {
		mode := "rw"
		if m.ReadOnly {
			mode = "ro"
		}
		binds = append(binds, m.HostPath+":"+m.ContainerPath+":"+mode)
	}

	cfg := &container.Config{
		Image:        spec.Image,
		Cmd:          spec.Cmd,
		Env:          spec.Env,
		ExposedPorts: exposed,
	}
	host := &container.HostConfig{
		Binds:        binds,
		PortBindings: bindings,
		Resources: container.Resources{
			NanoCPUs: toNanoCPUs(spec.CPULimit),
			Memory:   toMemoryBytes(spec.MemoryLimit),
		},
	}

	resp, err := d.cli.ContainerCreate(ctx, cfg, host, nil, nil, spec.Name)
	if err != nil {
		return "", &ContainerError{Op: "create", Msg: spec.Name, Err: err}
	}
	return resp.ID, nil
}

func (d *realDockerClient) ContainerStart(ctx context.Context, id string) error {
	if err := d.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return &ContainerError{Op: "start", Msg: id, Err: err}
	}
	return nil
}

func (d *realDockerClient) ContainerStop(ctx context.Context, id string, timeoutSec int) error {
	t := timeoutSec
	if err := d.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &t}); err != nil {
		return &ContainerError{Op: "stop", Msg: id, Err: err}
	}
	return nil
}

func (d *realDockerClient) ContainerRemove(ctx context.Context, id string, force bool) error {
	if err := d.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: force}); err != nil {
		return &ContainerError{Op: "remove", Msg: id, Err: err}
	}
	return nil
}

func (d *realDockerClient) ContainerInspect(ctx context.Context, id string) (ContainerState, error) {
	info, err := d.cli.ContainerInspect(ctx, id)
	if err != nil {
		return ContainerState{}, &ContainerError{Op: "inspect", Msg: id, Err: err}
	}
	st := ContainerState{Status: info.State.Status, Running: info.State.Running, ExitCode: info.State.ExitCode}
	if t, err := time.Parse(time.RFC3339Nano, info.State.StartedAt); err == nil {
		st.StartedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, info.State.FinishedAt); err == nil {
		st.FinishedAt = t
	}
	return st, nil
}

func (d *realDockerClient) ContainerStats(ctx context.Context, id string) (ContainerStatsRaw, error) {
	resp, err := d.cli.ContainerStatsOneShot(ctx, id)
	if err != nil {
		return ContainerStatsRaw{}, &ContainerError{Op: "stats", Msg: id, Err: err}
	}
	defer resp.Body.Close()
	var raw dockertypes.StatsJSON
	if err := decodeJSON(resp.Body, &raw); err != nil {
		return ContainerStatsRaw{}, &ContainerError{Op: "stats-decode", Msg: id, Err: err}
	}
	cpuPercent := computeCPUPercent(raw)
	memRaw := units.BytesSize(float64(raw.MemoryStats.Usage))
	return ContainerStatsRaw{CPUPercent: cpuPercent, MemoryRaw: memRaw}, nil
}

func computeCPUPercent(v dockertypes.StatsJSON) float64 {
	cpuDelta := float64(v.CPUStats.CPUUsage.TotalUsage) - float64(v.PreCPUStats.CPUUsage.TotalUsage)
	sysDelta := float64(v.CPUStats.SystemUsage) - float64(v.PreCPUStats.SystemUsage)
	if sysDelta <= 0 || cpuDelta <= 0 {
		return 0
	}
	onlineCPUs := float64(v.CPUStats.OnlineCPUs)
	if onlineCPUs == 0 {
		onlineCPUs = float64(len(v.CPUStats.CPUUsage.PercpuUsage))
	}
	if onlineCPUs == 0 {
		onlineCPUs = 1
	}
	return (cpuDelta / sysDelta) * onlineCPUs * 100.0
}

func (d *realDockerClient) ContainerLogs(ctx context.Context, id string, tail int) (io.ReadCloser, error) {
	opts := container.LogsOptions{ShowStdout: true, ShowStderr: true}
	if tail > 0 {
		opts.Tail = strconv.Itoa(tail)
	}
	rc, err := d.cli.ContainerLogs(ctx, id, opts)
	if err != nil {
		return nil, &ContainerError{Op: "logs", Msg: id, Err: err}
	}
	return rc, nil
}

func (d *realDockerClient) ContainerExec(ctx context.Context, id string, cmd []string) (int, []byte, error) {
	created, err := d.cli.ContainerExecCreate(ctx, id, container.ExecOptions{Cmd: cmd, AttachStdout: true, AttachStderr: true})
	if err != nil {
		return 0, nil, &ContainerError{Op: "exec-create", Msg: id, Err: err}
	}
	attach, err := d.cli.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return 0, nil, &ContainerError{Op: "exec-attach", Msg: id, Err: err}
	}
	defer attach.Close()
	var buf bytes.Buffer
	_, _ = io.Copy(&buf, attach.Reader)

	inspect, err := d.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return 0, buf.Bytes(), &ContainerError{Op: "exec-inspect", Msg: id, Err: err}
	}
	return inspect.ExitCode, buf.Bytes(), nil
}

func (d *realDockerClient) ContainerPause(ctx context.Context, id string) error {
	if err := d.cli.ContainerPause(ctx, id); err != nil {
		return &ContainerError{Op: "pause", Msg: id, Err: err}
	}
	return nil
}

func (d *realDockerClient) ContainerUnpause(ctx context.Context, id string) error {
	if err := d.cli.ContainerUnpause(ctx, id); err != nil {
		return &ContainerError{Op: "unpause", Msg: id, Err: err}
	}
	return nil
}

func (d *realDockerClient) ContainerKill(ctx context.Context, id string, signal string) error {
	if err := d.cli.ContainerKill(ctx, id, signal); err != nil {
		return &ContainerError{Op: "kill", Msg: id, Err: err}
	}
	return nil
}

func (d *realDockerClient) ContainerWait(ctx context.Context, id string) (int64, error) {
	statusCh, errCh := d.cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return 0, &ContainerError{Op: "wait", Msg: id, Err: err}
		}
	case st := <-statusCh:
		return st.StatusCode, nil
	case <-ctx.Done():
		return 0, &ContainerError{Op: "wait", Msg: id, Err: ctx.Err()}
	}
	return 0, nil
}
