package audit

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/opencode-ai/toolguard/internal/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decision(id, session, tool, behavior string) Record {
	return Record{DecisionMadeData: event.DecisionMadeData{
		DecisionID: id,
		SessionID:  session,
		ToolName:   tool,
		Behavior:   behavior,
	}}
}

func TestLog_AppendAndGet(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir)
	require.NoError(t, err)
	ctx := context.Background()

	rec := decision("01J000000000000000000000A1", "s1", "Bash", "deny")
	rec.Rule = "Bash(rm -rf:*)"
	rec.RuleScope = "projectSettings"

	stored, err := l.Append(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, "01J000000000000000000000A1", stored.ID)
	assert.False(t, stored.Time.IsZero())

	_, err = os.Stat(filepath.Join(dir, stored.ID+".json"))
	require.NoError(t, err, "record file was not created")

	got, err := l.Get(ctx, stored.ID)
	require.NoError(t, err)
	assert.Equal(t, "Bash(rm -rf:*)", got.Rule)
	assert.Equal(t, "projectSettings", got.RuleScope)
	assert.True(t, stored.Time.Equal(got.Time))
}

func TestLog_AppendGeneratesID(t *testing.T) {
	l, err := Open(t.TempDir())
	require.NoError(t, err)

	stored, err := l.Append(context.Background(), decision("", "", "Read", "allow"))
	require.NoError(t, err)
	assert.Len(t, stored.ID, 26)
}

func TestLog_AppendRejectsPathIDs(t *testing.T) {
	l, err := Open(t.TempDir())
	require.NoError(t, err)

	_, err = l.Append(context.Background(), decision("../escape", "", "Read", "allow"))
	assert.Error(t, err)
}

func TestLog_GetNotFound(t *testing.T) {
	l, err := Open(t.TempDir())
	require.NoError(t, err)

	_, err = l.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = l.Get(context.Background(), "../../etc/passwd")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLog_List(t *testing.T) {
	l, err := Open(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for i, r := range []Record{
		decision("a", "s1", "Bash", "deny"),
		decision("b", "s1", "Read", "allow"),
		decision("c", "s2", "Bash", "ask"),
		decision("d", "s1", "Bash", "allow"),
	} {
		r.Time = base.Add(time.Duration(i) * time.Minute)
		_, err := l.Append(ctx, r)
		require.NoError(t, err)
	}
	require.NoError(t, os.WriteFile(filepath.Join(l.Dir(), "garbage.json"), []byte("{"), 0644))

	ids := func(records []Record) []string {
		var out []string
		for _, r := range records {
			out = append(out, r.ID)
		}
		return out
	}

	all, err := l.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "c", "b", "a"}, ids(all))

	bySession, err := l.List(ctx, Filter{SessionID: "s1", ToolName: "Bash"})
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "a"}, ids(bySession))

	denied, err := l.List(ctx, Filter{Behavior: "deny"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(denied))

	recent, err := l.List(ctx, Filter{Since: base.Add(time.Minute), Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "c"}, ids(recent))
}

func TestLog_Prune(t *testing.T) {
	l, err := Open(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	old := decision("old", "", "Read", "allow")
	old.Time = time.Now().Add(-48 * time.Hour)
	_, err = l.Append(ctx, old)
	require.NoError(t, err)
	_, err = l.Append(ctx, decision("new", "", "Read", "allow"))
	require.NoError(t, err)

	removed, err := l.Prune(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = l.Get(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = l.Get(ctx, "new")
	assert.NoError(t, err)
}

func TestLog_ConcurrentAppend(t *testing.T) {
	l, err := Open(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Append(ctx, decision("", "s1", "Bash", "allow"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	records, err := l.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, records, 10)
}

func TestLog_Subscribe(t *testing.T) {
	event.Reset()
	l, err := Open(t.TempDir())
	require.NoError(t, err)

	unsub := l.Subscribe()
	defer unsub()

	event.PublishSync(event.Event{
		Type: event.DecisionMade,
		Data: event.DecisionMadeData{DecisionID: "01J0000000000000000000SUB1", ToolName: "WebFetch", Behavior: "deny"},
	})

	rec, err := l.Get(context.Background(), "01J0000000000000000000SUB1")
	require.NoError(t, err)
	assert.Equal(t, "WebFetch", rec.ToolName)
}
