//go:build linux
// +build linux

package trace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antoxa-hide/procmon/pkg/procmon/logger"
	"github.com/antoxa-hide/procmon/pkg/procmon/proctable"
	"github.com/antoxa-hide/procmon/pkg/procmon/rules"
	"github.com/antoxa-hide/procmon/pkg/procmon/spawner"
)

type fakeProc struct {
	parent  map[int]int
	cmdline map[int]string
	uid     map[int]int
	mountNS map[int]proctable.MountNS
	threads map[int][]int
}

func (f *fakeProc) Parent(pid int) (int, bool)         { v, ok := f.parent[pid]; return v, ok }
func (f *fakeProc) Commandline(pid int) (string, bool) { v, ok := f.cmdline[pid]; return v, ok }
func (f *fakeProc) UID(pid int) (int, bool)             { v, ok := f.uid[pid]; return v, ok }
func (f *fakeProc) MountNS(pid int) (proctable.MountNS, bool) {
	v, ok := f.mountNS[pid]
	return v, ok
}
func (f *fakeProc) Threads(pid int) ([]int, error) { return f.threads[pid], nil }
func (f *fakeProc) AllPIDs() ([]int, error) {
	pids := make([]int, 0, len(f.cmdline))
	for pid := range f.cmdline {
		pids = append(pids, pid)
	}
	return pids, nil
}

type fakeLauncher struct {
	launched []int
}

func (l *fakeLauncher) Launch(_ context.Context, pid int) error {
	l.launched = append(l.launched, pid)
	return nil
}

func newTestMonitor(proc *fakeProc, store *rules.Store, launcher *fakeLauncher) *Monitor {
	spawners := spawner.New(proc, logger.Logger{}, []string{"zygote"})
	return New(Config{
		Proc:            proc,
		Rules:           store,
		Spawners:        spawners,
		Launcher:        launcher,
		Log:             logger.Logger{},
		SpawnerPrefixes: []string{"zygote"},
	})
}

// Scenario 1: baseline match.
func TestCheckPID_BaselineMatch(t *testing.T) {
	store := rules.NewStore()
	store.SetRules([]rules.Rule{{Package: "com.x", Process: "com.x"}})
	require.NoError(t, seedUidProcessMap(t, store, "com.x", 10123))

	proc := &fakeProc{
		cmdline: map[int]string{101: "com.x"},
		uid:     map[int]int{101: 1010123},
		mountNS: map[int]proctable.MountNS{101: {Dev: 5, Ino: 9}},
		threads: map[int][]int{101: {101}},
	}
	launcher := &fakeLauncher{}
	m := newTestMonitor(proc, store, launcher)
	m.spawners.InjectForTest(100, proctable.MountNS{Dev: 5, Ino: 7})

	v := m.checkPID(context.Background(), 101)

	assert.Equal(t, verdictTarget, v)
	assert.Equal(t, []int{101}, launcher.launched)
}

// Scenario 2: same-namespace child.
func TestCheckPID_SameNamespaceChild(t *testing.T) {
	store := rules.NewStore()
	store.SetRules([]rules.Rule{{Package: "com.x", Process: "com.x"}})
	require.NoError(t, seedUidProcessMap(t, store, "com.x", 10123))

	proc := &fakeProc{
		cmdline: map[int]string{101: "com.x"},
		uid:     map[int]int{101: 1010123},
		mountNS: map[int]proctable.MountNS{101: {Dev: 5, Ino: 7}},
		threads: map[int][]int{101: {101}},
	}
	launcher := &fakeLauncher{}
	m := newTestMonitor(proc, store, launcher)
	m.spawners.InjectForTest(100, proctable.MountNS{Dev: 5, Ino: 7})

	v := m.checkPID(context.Background(), 101)

	assert.Equal(t, verdictNotTarget, v)
	assert.Empty(t, launcher.launched)
}

// Scenario 3: zygote-like child.
func TestCheckPID_ZygoteLikeChild(t *testing.T) {
	store := rules.NewStore()
	proc := &fakeProc{
		cmdline: map[int]string{102: "zygote64"},
		threads: map[int][]int{102: {102}},
	}
	launcher := &fakeLauncher{}
	m := newTestMonitor(proc, store, launcher)

	v := m.checkPID(context.Background(), 102)

	assert.Equal(t, verdictNotTarget, v)
	assert.False(t, m.spawners.IsSpawner(102))
}

// Scenario 4: unrelated UID.
func TestCheckPID_UnrelatedUID(t *testing.T) {
	store := rules.NewStore()
	store.SetRules([]rules.Rule{{Package: "com.x", Process: "com.x"}})
	require.NoError(t, seedUidProcessMap(t, store, "com.x", 10123))

	proc := &fakeProc{
		cmdline: map[int]string{103: "com.x"},
		uid:     map[int]int{103: 1099999},
		threads: map[int][]int{103: {103}},
	}
	launcher := &fakeLauncher{}
	m := newTestMonitor(proc, store, launcher)

	v := m.checkPID(context.Background(), 103)

	assert.Equal(t, verdictNotTarget, v)
}

// Scenario 6: thread fan-out. Calls detachThreads directly; a real
// waitable/non-waitable distinction needs actual tracee threads, so this
// only asserts that every non-main thread is visited (none is waitable
// here, so each lands in the DetachSet) and the main PID is skipped.
func TestDetachThreads_VisitsAllNonMainThreads(t *testing.T) {
	proc := &fakeProc{
		threads: map[int][]int{101: {101, 151, 152}},
	}
	store := rules.NewStore()
	m := newTestMonitor(proc, store, &fakeLauncher{})

	m.detachThreads(101)
	// TryWait/tgkill on fake PIDs fail (they aren't real tracees);
	// detachThreads logs and swallows those failures rather than aborting.
	assert.True(t, m.detaching.Has(151))
	assert.True(t, m.detaching.Has(152))
	assert.False(t, m.detaching.Has(101))
}

// seedUidProcessMap seeds store's UidProcessMap by round-tripping a
// throwaway package database file, keeping tests independent of
// RefreshFromPackageDB's internal parsing details.
func seedUidProcessMap(t *testing.T, store *rules.Store, pkg string, uid int) error {
	t.Helper()
	path := filepath.Join(t.TempDir(), "packages.xml")
	line := fmt.Sprintf(`<package name=%q userId="%d">`+"\n", pkg, uid)
	if err := os.WriteFile(path, []byte(line), 0644); err != nil {
		return err
	}
	return store.RefreshFromPackageDB(path)
}
