package voyager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestContainerManager_AgainstLiveDocker exercises the real Docker SDK path.
// Skipped unless a daemon is reachable and short mode is off.
func TestContainerManager_AgainstLiveDocker(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping live-Docker test in short mode")
	}
	docker, err := NewDockerClient()
	if err != nil {
		t.Skipf("no Docker daemon reachable: %v", err)
	}
	cm := NewContainerManager(docker, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	require.NoError(t, cm.EnsureImage(ctx, "busybox"))

	id, err := cm.Create(ctx, ContainerCreateSpec{
		Name:  "voyager-live-test",
		Image: "busybox",
		Cmd:   []string{"sleep", "2"},
	})
	if err != nil {
		t.Skipf("container create failed, assuming no daemon: %v", err)
	}
	defer cm.Remove(context.Background(), id, true)

	require.NoError(t, cm.Start(ctx, id))
	exitCode, err := cm.Wait(ctx, id)
	require.NoError(t, err)
	require.Equal(t, int64(0), exitCode)
}
