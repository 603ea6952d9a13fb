package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/harun/goose/pkg/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) (*Store, string) {
	tempDir := t.TempDir()
	store, err := NewStore(tempDir)
	require.NoError(t, err)
	return store, tempDir
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name      string
		key       string
		shouldErr bool
	}{
		{"valid name", "r2d2", false},
		{"valid with dash", "test-session", false},
		{"empty name", "", true},
		{"path traversal", "../etc/passwd", true},
		{"forward slash", "test/session", true},
		{"backslash", "test\\session", true},
		{"null byte", "test\x00session", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.key)
			if tt.shouldErr {
				assert.ErrorIs(t, err, ErrInvalidName)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStore_AppendAndLoad(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	use, err := message.NewToolUse("call_1", "bash", map[string]interface{}{"command": "ls"})
	require.NoError(t, err)
	msgs := []message.Message{
		message.User("list files"),
		message.New(message.RoleAssistant, use),
		message.WithToolResults(message.ToolResult{ToolUseID: "call_1", Output: "a.txt"}),
	}

	require.NoError(t, store.Append(ctx, "test-session", msgs[0]))
	require.NoError(t, store.Append(ctx, "test-session", msgs[1:]...))
	assert.True(t, store.Exists("test-session"))

	loaded, err := store.Load(ctx, "test-session")
	require.NoError(t, err)
	require.Len(t, loaded, 3)
	for i := range msgs {
		assert.Equal(t, msgs[i].ID, loaded[i].ID)
		assert.Equal(t, msgs[i].Role, loaded[i].Role)
		assert.True(t, msgs[i].CreatedAt.Equal(loaded[i].CreatedAt))
		assert.Equal(t, msgs[i].Content, loaded[i].Content)
	}
}

func TestStore_LoadNonExistentSession(t *testing.T) {
	store, _ := setupTestStore(t)

	msgs, err := store.Load(context.Background(), "non-existent")
	assert.NoError(t, err)
	assert.Empty(t, msgs)
	assert.False(t, store.Exists("non-existent"))
}

func TestStore_LoadMalformedLine(t *testing.T) {
	store, tempDir := setupTestStore(t)

	valid := `{"id":"msg_1","role":"user","created_at":"2024-01-01T00:00:00Z","content":[{"type":"text","text":"hi"}]}`
	content := valid + "\n\ninvalid json line\n"
	require.NoError(t, os.WriteFile(filepath.Join(tempDir, "broken.jsonl"), []byte(content), 0600))

	_, err := store.Load(context.Background(), "broken")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersistence)

	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 3, perr.Line)
	assert.Equal(t, "load", perr.Op)
}

func TestStore_Rewrite(t *testing.T) {
	store, tempDir := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "s1", message.User("one"), message.Assistant("two"), message.User("three")))

	loaded, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	require.NoError(t, store.Rewrite(ctx, "s1", loaded[:2]))

	loaded, err = store.Load(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "two", loaded[1].Text())

	_, err = os.Stat(filepath.Join(tempDir, "s1.jsonl.tmp"))
	assert.True(t, os.IsNotExist(err))
}

func TestStore_Delete(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "test-session", message.User("Test")))
	require.NoError(t, store.Delete(ctx, "test-session"))

	_, err := os.Stat(store.Path("test-session"))
	assert.True(t, os.IsNotExist(err))

	// deleting again is fine
	assert.NoError(t, store.Delete(ctx, "test-session"))
	assert.ErrorIs(t, store.Delete(ctx, "../x"), ErrInvalidName)
}

func createSessions(t *testing.T, store *Store, names ...string) {
	t.Helper()
	base := time.Now().Add(-time.Hour)
	for i, name := range names {
		require.NoError(t, store.Append(context.Background(), name, message.User("hello")))
		mod := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, os.Chtimes(store.Path(name), mod, mod))
	}
}

func TestStore_ListNewestFirst(t *testing.T) {
	store, tempDir := setupTestStore(t)
	createSessions(t, store, "a1a1", "b2b2", "c3c3")
	require.NoError(t, os.WriteFile(filepath.Join(tempDir, "notes.txt"), []byte("x"), 0600))

	list, err := store.List()
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "c3c3", list[0].Name)
	assert.Equal(t, "b2b2", list[1].Name)
	assert.Equal(t, "a1a1", list[2].Name)
	assert.Greater(t, list[0].Size, int64(0))

	latest, err := store.Latest()
	require.NoError(t, err)
	assert.Equal(t, "c3c3", latest)
}

func TestStore_LatestEmpty(t *testing.T) {
	store, _ := setupTestStore(t)
	_, err := store.Latest()
	assert.ErrorIs(t, err, ErrNoSessions)
}

func TestStore_Clear(t *testing.T) {
	store, _ := setupTestStore(t)
	createSessions(t, store, "a1a1", "b2b2", "c3c3", "d4d4")

	removed, err := store.Clear(context.Background(), 2)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a1a1", "b2b2"}, removed)

	list, err := store.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "d4d4", list[0].Name)

	removed, err = store.Clear(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestStore_ConcurrentAppends(t *testing.T) {
	store, _ := setupTestStore(t)

	const numGoroutines = 10
	const messagesPerGoroutine = 10

	done := make(chan bool, numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			for j := 0; j < messagesPerGoroutine; j++ {
				err := store.Append(context.Background(), "concurrent-session", message.User(fmt.Sprintf("message %d-%d", id, j)))
				assert.NoError(t, err)
			}
			done <- true
		}(i)
	}
	for i := 0; i < numGoroutines; i++ {
		<-done
	}

	msgs, err := store.Load(context.Background(), "concurrent-session")
	assert.NoError(t, err)
	assert.Equal(t, numGoroutines*messagesPerGoroutine, len(msgs))
}

func TestGenerateName(t *testing.T) {
	pattern := regexp.MustCompile(`^[a-z][0-9][a-z][0-9]$`)
	for i := 0; i < 100; i++ {
		name, err := GenerateName()
		require.NoError(t, err)
		assert.Regexp(t, pattern, name)
		assert.NoError(t, ValidateName(name))
	}
}

func TestUniqueName(t *testing.T) {
	store, _ := setupTestStore(t)
	name, err := UniqueName(store)
	require.NoError(t, err)
	assert.False(t, store.Exists(name))
}
