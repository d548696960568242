package admin

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/errdefs"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTable struct {
	self    int
	leaders map[int]int
	threads map[int][]int
}

func (f *fakeTable) Self() int { return f.self }

func (f *fakeTable) Leader(pid int) (int, error) {
	l, ok := f.leaders[pid]
	if !ok {
		return 0, ErrNotFound
	}
	return l, nil
}

func (f *fakeTable) Threads(leader int) ([]int, error) {
	return f.threads[leader], nil
}

type fakeSetter struct {
	policies map[int]int
	fail     map[int]error
}

func (f *fakeSetter) SetPolicy(tid, policy int) error {
	if err := f.fail[tid]; err != nil {
		return err
	}
	f.policies[tid] = policy
	return nil
}

func newFakes() (*fakeTable, *fakeSetter) {
	table := &fakeTable{
		self:    10,
		leaders: map[int]int{10: 10, 11: 10, 20: 20, 21: 20, 22: 20},
		threads: map[int][]int{10: {10, 11}, 20: {20, 21, 22}},
	}
	return table, &fakeSetter{policies: map[int]int{}, fail: map[int]error{}}
}

func quietLogger() logrus.FieldLogger {
	logger, _ := test.NewNullLogger()
	return logger
}

func TestManagerStartAppliesToWholeGroup(t *testing.T) {
	table, setter := newFakes()
	m := NewManager(table, setter, WithLogger(quietLogger()))

	require.NoError(t, m.Start(21))
	assert.Equal(t, map[int]int{20: 7, 21: 7, 22: 7}, setter.policies)

	require.NoError(t, m.Stop(20))
	assert.Equal(t, map[int]int{20: 0, 21: 0, 22: 0}, setter.policies)
}

func TestManagerZeroMeansSelf(t *testing.T) {
	table, setter := newFakes()
	m := NewManager(table, setter, WithLogger(quietLogger()), WithPolicies(9, 1))

	require.NoError(t, m.Start(0))
	assert.Equal(t, map[int]int{10: 9, 11: 9}, setter.policies)
}

func TestManagerRejectsBadPIDs(t *testing.T) {
	table, setter := newFakes()
	m := NewManager(table, setter, WithLogger(quietLogger()))

	assert.ErrorIs(t, m.Start(-1), ErrInvalidPID)
	assert.ErrorIs(t, m.Stop(99), ErrNotFound)
	assert.Empty(t, setter.policies)
}

func TestManagerReturnsLastThreadResult(t *testing.T) {
	table, setter := newFakes()
	m := NewManager(table, setter, WithLogger(quietLogger()))

	failure := errors.New("operation not permitted")
	setter.fail[21] = failure
	assert.NoError(t, m.Start(20), "a later success overrides an earlier failure")

	setter.fail[22] = failure
	assert.ErrorIs(t, m.Start(20), failure)
	assert.Equal(t, 7, setter.policies[20])
}

func TestProcFS(t *testing.T) {
	root := t.TempDir()
	writeProc := func(pid string, tgid string, tasks ...string) {
		dir := filepath.Join(root, pid)
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "task"), 0o755))
		status := "Name:\tworker\nTgid:\t" + tgid + "\nPid:\t" + pid + "\n"
		require.NoError(t, os.WriteFile(filepath.Join(dir, "status"), []byte(status), 0o644))
		for _, tid := range tasks {
			require.NoError(t, os.MkdirAll(filepath.Join(dir, "task", tid), 0o755))
		}
	}
	writeProc("300", "300", "302", "300", "301")
	writeProc("301", "300")

	p := ProcFS{Root: root}

	leader, err := p.Leader(301)
	require.NoError(t, err)
	assert.Equal(t, 300, leader)

	tids, err := p.Threads(leader)
	require.NoError(t, err)
	assert.Equal(t, []int{300, 301, 302}, tids)

	_, err = p.Leader(404)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = p.Threads(404)
	assert.ErrorIs(t, err, ErrNotFound)
}

type fakeInspector struct {
	info types.ContainerJSON
	err  error
}

func (f fakeInspector) ContainerInspect(context.Context, string) (types.ContainerJSON, error) {
	return f.info, f.err
}

func TestDockerResolver(t *testing.T) {
	running := types.ContainerJSON{ContainerJSONBase: &types.ContainerJSONBase{
		State: &types.ContainerState{Running: true, Pid: 4242},
	}}
	pid, err := NewDockerResolverWith(fakeInspector{info: running}).PID(context.Background(), "bench")
	require.NoError(t, err)
	assert.Equal(t, 4242, pid)

	stopped := types.ContainerJSON{ContainerJSONBase: &types.ContainerJSONBase{
		State: &types.ContainerState{},
	}}
	_, err = NewDockerResolverWith(fakeInspector{info: stopped}).PID(context.Background(), "bench")
	assert.ErrorIs(t, err, ErrNotFound)

	missing := fakeInspector{err: errdefs.NotFound(errors.New("no such container"))}
	_, err = NewDockerResolverWith(missing).PID(context.Background(), "bench")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, NewDockerResolverWith(fakeInspector{}).Close())
}
