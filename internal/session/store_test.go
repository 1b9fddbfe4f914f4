package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bastionhost/bastion-agent/internal/message"
)

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)

	created := time.Now().Truncate(time.Second)
	messages := []message.Message{
		message.NewUserText("status of web-1"),
		message.NewAssistantBlocks([]message.ContentBlock{message.NewText("web-1 is healthy")}),
	}
	sess := NewSession("abc123def456", messages, created)

	require.NoError(t, store.Save(sess))

	loaded, err := store.Load("abc123def456")
	require.NoError(t, err)
	require.Equal(t, sess.Messages, loaded.Messages)
	require.True(t, created.Equal(loaded.CreatedAt))
}

func TestStore_LoadMissingReturnsSessionNotFound(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)

	_, err = store.Load("doesnotexist")
	require.Error(t, err)
	var notFound *SessionNotFound
	require.ErrorAs(t, err, &notFound)
}

func TestStore_ListSkipsCorruptFilesAndSortsByUpdatedAt(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, nil)
	require.NoError(t, err)

	older := NewSession("sess0001old1", nil, time.Now().Add(-time.Hour))
	newer := NewSession("sess0002new1", nil, time.Now())
	require.NoError(t, store.Save(older))
	require.NoError(t, store.Save(newer))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "corrupt0001.json"), []byte("{not json"), 0644))

	sessions, err := store.List(0)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	require.Equal(t, "sess0002new1", sessions[0].ID)
	require.Equal(t, "sess0001old1", sessions[1].ID)
}

func TestStore_ListRespectsLimit(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, nil)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Save(NewSession(NewSessionID(), nil, time.Now())))
	}

	sessions, err := store.List(2)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
}

func TestStore_DeleteIsIdempotent(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)
	sess := NewSession("abc123def456", nil, time.Now())
	require.NoError(t, store.Save(sess))

	require.NoError(t, store.Delete("abc123def456"))
	require.NoError(t, store.Delete("abc123def456"))

	_, err = store.Load("abc123def456")
	require.Error(t, err)
}

func TestNewSessionID_Is12HexChars(t *testing.T) {
	id := NewSessionID()
	require.Len(t, id, 12)
	for _, r := range id {
		require.True(t, (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f'), "unexpected char %q in id %q", r, id)
	}
}
