package fsm

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isodrop/isodrop/pkg/db"
	"github.com/isodrop/isodrop/pkg/workflow"
)

func TestRecorder_PhaseNamesAreStatuses(t *testing.T) {
	repo, err := db.NewRepository(filepath.Join(t.TempDir(), "isodrop.db"))
	require.NoError(t, err)
	defer repo.Close()

	run := &db.Run{Image: "/tmp/mygame.iso"}
	require.NoError(t, repo.Create(run))
	rec := NewRecorder(repo, run.ID)

	phases := []workflow.Phase{
		workflow.Idle, workflow.Mounting, workflow.ScanningFailed, workflow.AwaitingSelection,
		workflow.Launching, workflow.Cancelled, workflow.Completed, workflow.Failed,
	}
	for _, p := range phases {
		rec.Observe(workflow.State{Phase: p})
		got, err := repo.Get(run.ID)
		require.NoError(t, err)
		assert.Equal(t, p.String(), got.Status)
	}
}

func TestRecorder_TracksMount(t *testing.T) {
	repo, err := db.NewRepository(filepath.Join(t.TempDir(), "isodrop.db"))
	require.NoError(t, err)
	defer repo.Close()

	run := &db.Run{Image: "/tmp/mygame.iso"}
	require.NoError(t, repo.Create(run))
	rec := NewRecorder(repo, run.ID)

	rec.Observe(workflow.State{Phase: workflow.Mounting})
	rec.Observe(workflow.State{Phase: workflow.AwaitingSelection, Volume: "/Volumes/MYGAME"})

	mounted, err := repo.ListMounted()
	require.NoError(t, err)
	require.Len(t, mounted, 1)
	assert.Equal(t, "/Volumes/MYGAME", mounted[0].VolumePath)

	rec.Observe(workflow.State{Phase: workflow.Cancelled})

	mounted, err = repo.ListMounted()
	require.NoError(t, err)
	assert.Empty(t, mounted)

	got, _ := repo.Get(run.ID)
	assert.True(t, got.Detached)
	assert.Equal(t, db.StatusCancelled, got.Status)
}

func TestRecorder_MountBeforeEmptyScan(t *testing.T) {
	repo, err := db.NewRepository(filepath.Join(t.TempDir(), "isodrop.db"))
	require.NoError(t, err)
	defer repo.Close()

	run := &db.Run{Image: "/tmp/mygame.iso"}
	require.NoError(t, repo.Create(run))
	rec := NewRecorder(repo, run.ID)

	rec.Observe(workflow.State{Phase: workflow.Mounting})
	rec.Observe(workflow.State{Phase: workflow.Mounting, Volume: "/Volumes/MYGAME"})

	got, err := repo.Get(run.ID)
	require.NoError(t, err)
	assert.True(t, got.Mounted())
	assert.Equal(t, db.StatusMounting, got.Status)

	rec.Observe(workflow.State{Phase: workflow.ScanningFailed, Err: workflow.ErrNoExecutables})

	got, err = repo.Get(run.ID)
	require.NoError(t, err)
	assert.False(t, got.Mounted())
	assert.True(t, got.Detached)
	assert.Equal(t, db.StatusScanningFailed, got.Status)
}
