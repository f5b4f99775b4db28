package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bdobrica/ghostai/common/version"
	"github.com/bdobrica/ghostai/internal/ghostai/app"
	"github.com/bdobrica/ghostai/internal/ghostai/config"
	"github.com/bdobrica/ghostai/internal/ghostai/llm"
	"github.com/bdobrica/ghostai/internal/ghostai/memory"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// seed writes two turns and a summary into a fresh database named by DB_PATH.
func seed(t *testing.T) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "memory.db")
	t.Setenv("DB_PATH", dbPath)
	t.Setenv("DATABASE_URL", "")

	ctx := context.Background()
	st, _, err := app.OpenStore(ctx, config.FromEnv(), nil)
	require.NoError(t, err)
	defer st.Close()

	ts := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, st.AppendTurn(ctx, "room", memory.NewTurn(llm.RoleUser, "Ana: hi", ts)))
	require.NoError(t, st.AppendTurn(ctx, "room", memory.NewTurn(llm.RoleAssistant, "hello Ana", ts.Add(time.Second))))
	_, err = st.AppendSummary(ctx, "room", "Ana said hi.", ts)
	require.NoError(t, err)
}

func TestHistory(t *testing.T) {
	seed(t)
	out, err := execute(t, "history", "room")
	require.NoError(t, err)
	assert.Contains(t, out, "user")
	assert.Contains(t, out, "Ana: hi")
	assert.Contains(t, out, "hello Ana")
	assert.Less(t, bytes.Index([]byte(out), []byte("Ana: hi")), bytes.Index([]byte(out), []byte("hello Ana")))

	out, err = execute(t, "history", "other")
	require.NoError(t, err)
	assert.Contains(t, out, "no stored turns")
}

func TestSummaries(t *testing.T) {
	seed(t)
	out, err := execute(t, "summaries", "room")
	require.NoError(t, err)
	assert.Contains(t, out, "#1")
	assert.Contains(t, out, "Ana said hi.")
}

func TestClear(t *testing.T) {
	seed(t)
	out, err := execute(t, "clear", "room")
	require.NoError(t, err)
	assert.Contains(t, out, "cleared room")

	out, err = execute(t, "history", "room")
	require.NoError(t, err)
	assert.Contains(t, out, "no stored turns")

	out, err = execute(t, "summaries", "room")
	require.NoError(t, err)
	assert.Contains(t, out, "no summaries")
}

func TestArgsAndVersion(t *testing.T) {
	_, err := execute(t, "history")
	assert.Error(t, err)

	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, version.Current().Version)
}

func TestServe_RejectsIncompleteConfig(t *testing.T) {
	t.Setenv("OPENROUTER_KEY", "")
	t.Setenv("MATRIX_HOMESERVER", "")
	_, err := execute(t, "serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OPENROUTER_KEY")
}
