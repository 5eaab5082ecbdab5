package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"kbtasks/internal/task"
)

func TestSQLiteStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "db", "tasks.db")
	db, err := OpenSQLite(path)
	require.NoError(t, err)
	defer db.Close()

	clock := newFakeClock()
	s := New(Options{Persister: db, Now: clock.Now})
	wf := task.Task{
		ID:     "wf",
		Type:   task.TypeRunWorkflow,
		Status: task.StatusFailed,
		Input:  task.Input{Workflow: &task.WorkflowInput{WorkflowID: "summarize"}},
		Error:  &task.Error{Message: "boom", Code: "E1"},
	}
	s.AddTasks([]task.Task{parseTask("p", "kb", "d"), wf})
	require.NoError(t, s.Save(ctx))

	// a second save must replace, not append
	s.RemoveTask("p")
	require.NoError(t, s.Save(ctx))

	reloaded := New(Options{Persister: db})
	require.NoError(t, reloaded.Load(ctx))
	require.Equal(t, []string{"wf"}, ids(reloaded.List()))
	got, _ := reloaded.GetTask("wf")
	require.Equal(t, "summarize", got.Input.Workflow.WorkflowID)
	require.Equal(t, "E1", got.Error.Code)
}

func TestRedisStoreRoundTrip(t *testing.T) {
	addr := os.Getenv("KBTASKS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("KBTASKS_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	rs, err := DialRedis(ctx, addr, "kbtasks:test:"+t.Name())
	require.NoError(t, err)
	defer rs.Close()
	defer rs.client.Del(ctx, rs.key)

	s := New(Options{Persister: rs, AutoSave: true})
	s.AddTask(uploadTask("u", "kb"))

	reloaded := New(Options{Persister: rs})
	require.NoError(t, reloaded.Load(ctx))
	require.Equal(t, []string{"u"}, ids(reloaded.List()))
}
