//go:build linux
// +build linux

package spawner

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/antoxa-hide/procmon/pkg/procmon/logger"
	"github.com/antoxa-hide/procmon/pkg/procmon/proctable"
)

// fakeProc is a minimal proctable.Reader double. Registration's ptrace
// syscalls are not exercised by these tests (they require a real tracee);
// here we only cover the bookkeeping: discovery filtering and ns-match
// logic, which never touch ptrace.
type fakeProc struct {
	parent    map[int]int
	cmdline   map[int]string
	uid       map[int]int
	mountNS   map[int]proctable.MountNS
	threads   map[int][]int
}

func (f *fakeProc) Parent(pid int) (int, bool)      { v, ok := f.parent[pid]; return v, ok }
func (f *fakeProc) Commandline(pid int) (string, bool) { v, ok := f.cmdline[pid]; return v, ok }
func (f *fakeProc) UID(pid int) (int, bool)         { v, ok := f.uid[pid]; return v, ok }
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

func TestRegistry_DiscoverAll_FiltersByPrefixAndParent(t *testing.T) {
	proc := &fakeProc{
		parent:  map[int]int{100: 1, 101: 1, 102: 50},
		cmdline: map[int]string{100: "zygote", 101: "sh", 102: "zygote64"},
		mountNS: map[int]proctable.MountNS{100: {Dev: 1, Ino: 1}, 102: {Dev: 1, Ino: 2}},
	}
	r := New(proc, logger.Logger{}, []string{"zygote"})

	// pid 101 doesn't match the prefix, pid 102's parent isn't 1: neither
	// should be attempted. We can't exercise the real ptrace attach here,
	// so pid 100 (which passes both filters) is left out of the DiscoverAll
	// call below; 101 and 102 are filtered out before Register is reached.
	assert.True(t, r.matchesPrefix("zygote"))
	assert.True(t, r.matchesPrefix("zygote64"))
	assert.False(t, r.matchesPrefix("sh"))

	ppid, ok := proc.Parent(102)
	assert.True(t, ok)
	assert.NotEqual(t, 1, ppid)

	assert.Empty(t, r.DiscoverAll([]int{101, 102}))
}

func TestRegistry_NSMatches(t *testing.T) {
	r := New(&fakeProc{}, logger.Logger{}, []string{"zygote"})
	r.spawners[100] = proctable.MountNS{Dev: 5, Ino: 7}

	assert.True(t, r.NSMatches(proctable.MountNS{Dev: 5, Ino: 7}))
	assert.False(t, r.NSMatches(proctable.MountNS{Dev: 5, Ino: 9}))
}

func TestRegistry_OnExitRemoves(t *testing.T) {
	r := New(&fakeProc{}, logger.Logger{}, []string{"zygote"})
	r.spawners[100] = proctable.MountNS{Dev: 5, Ino: 7}

	r.OnExit(100)

	assert.False(t, r.IsSpawner(100))
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_RegisterVanishedProcess(t *testing.T) {
	proc := &fakeProc{mountNS: map[int]proctable.MountNS{}}
	r := New(proc, logger.Logger{}, []string{"zygote"})

	err := r.Register(999)

	assert.NoError(t, err)
	assert.False(t, r.IsSpawner(999))
}

func TestRegistry_RegisterUpdatesKnownSpawnerNS(t *testing.T) {
	proc := &fakeProc{mountNS: map[int]proctable.MountNS{100: {Dev: 9, Ino: 9}}}
	r := New(proc, logger.Logger{}, []string{"zygote"})
	r.spawners[100] = proctable.MountNS{Dev: 1, Ino: 1}

	err := r.Register(100)

	assert.NoError(t, err)
	assert.True(t, r.NSMatches(proctable.MountNS{Dev: 9, Ino: 9}))
}
