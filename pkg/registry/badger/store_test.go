package badger

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gxav/droplock/pkg/registry"
)

func newTestStore(t *testing.T) (*Store, Options) {
	t.Helper()

	opts := Options{
		DataDir:  filepath.Join(t.TempDir(), "data"),
		FilesDir: filepath.Join(t.TempDir(), "files"),
	}
	s, err := Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s, opts
}

func TestRegisterUser(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	alice, err := s.RegisterUser(ctx, "alice")
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, alice.ID)
	assert.Equal(t, "alice", alice.Name)
	assert.False(t, alice.LastSeen.IsZero())

	// Same name must be rejected; a different name gets a different id.
	_, err = s.RegisterUser(ctx, "alice")
	assert.ErrorIs(t, err, registry.ErrNameTaken)

	bob, err := s.RegisterUser(ctx, "bob")
	require.NoError(t, err)
	assert.NotEqual(t, alice.ID, bob.ID)

	taken, err := s.NameInUse(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, taken)

	taken, err = s.NameInUse(ctx, "carol")
	require.NoError(t, err)
	assert.False(t, taken)
}

func TestRegisterUser_NamesAreCaseSensitive(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.RegisterUser(ctx, "alice")
	require.NoError(t, err)

	_, err = s.RegisterUser(ctx, "Alice")
	assert.NoError(t, err, "names are matched exactly, not case-folded")
}

func TestGetUser(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	alice, err := s.RegisterUser(ctx, "alice")
	require.NoError(t, err)

	got, err := s.GetUser(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, alice.Name, got.Name)

	_, err = s.GetUser(ctx, uuid.New())
	assert.ErrorIs(t, err, registry.ErrUserNotFound)
}

func TestSetKeysAndSessionKey(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	alice, err := s.RegisterUser(ctx, "alice")
	require.NoError(t, err)

	_, err = s.SessionKey(ctx, alice.ID)
	assert.ErrorIs(t, err, registry.ErrNoSessionKey, "no key before first exchange")

	pub := []byte{0x30, 0x81, 0x89, 0x02}
	key1 := []byte("0123456789abcdef")
	require.NoError(t, s.SetKeys(ctx, alice.ID, pub, key1))

	got, err := s.SessionKey(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, key1, got)

	// A second exchange replaces the previous key entirely.
	key2 := []byte("fedcba9876543210")
	require.NoError(t, s.SetKeys(ctx, alice.ID, pub, key2))

	got, err = s.SessionKey(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, key2, got)

	assert.ErrorIs(t, s.SetKeys(ctx, uuid.New(), pub, key1), registry.ErrUserNotFound)
}

func TestSessionKey_ReturnsCopy(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	alice, err := s.RegisterUser(ctx, "alice")
	require.NoError(t, err)
	require.NoError(t, s.SetKeys(ctx, alice.ID, nil, []byte("0123456789abcdef")))

	k1, err := s.SessionKey(ctx, alice.ID)
	require.NoError(t, err)
	k1[0] ^= 0xFF

	k2, err := s.SessionKey(ctx, alice.ID)
	require.NoError(t, err)
	assert.EqualValues(t, '0', k2[0], "callers must not be able to mutate the stored key")
}

func TestTouchLastSeen(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	alice, err := s.RegisterUser(ctx, "alice")
	require.NoError(t, err)

	when := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	require.NoError(t, s.TouchLastSeen(ctx, alice.ID, when))

	got, err := s.GetUser(ctx, alice.ID)
	require.NoError(t, err)
	assert.True(t, got.LastSeen.Equal(when))

	assert.ErrorIs(t, s.TouchLastSeen(ctx, uuid.New(), when), registry.ErrUserNotFound)
}

func TestFileSlotLifecycle(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	alice, err := s.RegisterUser(ctx, "alice")
	require.NoError(t, err)

	_, err = s.GetFile(ctx, alice.ID)
	assert.ErrorIs(t, err, registry.ErrNoFile)

	path, err := s.FilePath(alice.ID, "report.pdf")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("decrypted bytes"), 0o644))

	require.NoError(t, s.PutFile(ctx, &registry.File{
		OwnerID:     alice.ID,
		FileName:    "report.pdf",
		StoragePath: path,
	}))

	file, err := s.GetFile(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "report.pdf", file.FileName)
	assert.False(t, file.Verified)

	require.NoError(t, s.MarkFileVerified(ctx, alice.ID))
	file, err = s.GetFile(ctx, alice.ID)
	require.NoError(t, err)
	assert.True(t, file.Verified)

	// A new upload replaces the slot and resets verification.
	require.NoError(t, s.PutFile(ctx, &registry.File{
		OwnerID:     alice.ID,
		FileName:    "report-v2.pdf",
		StoragePath: path,
	}))
	file, err = s.GetFile(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "report-v2.pdf", file.FileName)
	assert.False(t, file.Verified)

	require.NoError(t, s.DeleteFile(ctx, alice.ID))
	_, err = s.GetFile(ctx, alice.ID)
	assert.ErrorIs(t, err, registry.ErrNoFile)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "backing bytes removed with the record")

	// Deleting an already-empty slot is a no-op.
	assert.NoError(t, s.DeleteFile(ctx, alice.ID))
}

func TestPutFile_RenameRemovesReplacedBytes(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	alice, err := s.RegisterUser(ctx, "alice")
	require.NoError(t, err)

	oldPath, err := s.FilePath(alice.ID, "draft.bin")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(oldPath, []byte("first upload"), 0o644))
	require.NoError(t, s.PutFile(ctx, &registry.File{
		OwnerID:     alice.ID,
		FileName:    "draft.bin",
		StoragePath: oldPath,
	}))

	// Replacing the slot under a new name must not leave the first upload's
	// bytes orphaned on disk.
	newPath, err := s.FilePath(alice.ID, "final.bin")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(newPath, []byte("second upload"), 0o644))
	require.NoError(t, s.PutFile(ctx, &registry.File{
		OwnerID:     alice.ID,
		FileName:    "final.bin",
		StoragePath: newPath,
	}))

	_, err = os.Stat(oldPath)
	assert.True(t, os.IsNotExist(err), "replaced bytes removed")
	_, err = os.Stat(newPath)
	assert.NoError(t, err)

	// A same-path replacement (retry of the same name) keeps the bytes.
	require.NoError(t, s.PutFile(ctx, &registry.File{
		OwnerID:     alice.ID,
		FileName:    "final.bin",
		StoragePath: newPath,
	}))
	_, err = os.Stat(newPath)
	assert.NoError(t, err)
}

func TestMarkFileVerified_EmptySlot(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	alice, err := s.RegisterUser(ctx, "alice")
	require.NoError(t, err)

	assert.ErrorIs(t, s.MarkFileVerified(ctx, alice.ID), registry.ErrNoFile)
}

func TestPutFile_UnknownOwner(t *testing.T) {
	s, _ := newTestStore(t)

	err := s.PutFile(context.Background(), &registry.File{
		OwnerID:  uuid.New(),
		FileName: "orphan.bin",
	})
	assert.ErrorIs(t, err, registry.ErrUserNotFound)
}

func TestFilePath(t *testing.T) {
	s, opts := newTestStore(t)

	id := uuid.New()
	path, err := s.FilePath(id, "notes.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(opts.FilesDir, id.String(), "notes.txt"), path)

	info, err := os.Stat(filepath.Dir(path))
	require.NoError(t, err)
	assert.True(t, info.IsDir(), "user directory created lazily")

	// Client-supplied names are reduced to their final path element.
	path, err = s.FilePath(id, "../../etc/passwd")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(opts.FilesDir, id.String(), "passwd"), path)

	_, err = s.FilePath(id, "..")
	assert.Error(t, err)
}

func TestLockSlot_Serializes(t *testing.T) {
	s, _ := newTestStore(t)
	id := uuid.New()

	unlock := s.LockSlot(id)

	acquired := make(chan struct{})
	go func() {
		u := s.LockSlot(id)
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("second acquisition succeeded while slot was held")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("slot lock never released")
	}
}

func TestListUsers_SortedByName(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"mallory", "alice", "bob"} {
		_, err := s.RegisterUser(ctx, name)
		require.NoError(t, err)
	}

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 3)
	assert.Equal(t, "alice", users[0].Name)
	assert.Equal(t, "bob", users[1].Name)
	assert.Equal(t, "mallory", users[2].Name)
}

func TestReopen_RebuildsIndex(t *testing.T) {
	opts := Options{
		DataDir:  filepath.Join(t.TempDir(), "data"),
		FilesDir: filepath.Join(t.TempDir(), "files"),
	}
	ctx := context.Background()

	s, err := Open(opts)
	require.NoError(t, err)

	alice, err := s.RegisterUser(ctx, "alice")
	require.NoError(t, err)
	require.NoError(t, s.SetKeys(ctx, alice.ID, []byte{0x30}, []byte("0123456789abcdef")))

	path, err := s.FilePath(alice.ID, "photo.jpg")
	require.NoError(t, err)
	require.NoError(t, s.PutFile(ctx, &registry.File{
		OwnerID:     alice.ID,
		FileName:    "photo.jpg",
		StoragePath: path,
	}))
	require.NoError(t, s.MarkFileVerified(ctx, alice.ID))
	require.NoError(t, s.Close())

	// Everything acknowledged before Close must survive the restart.
	s2, err := Open(opts)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.GetUser(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Name)

	key, err := s2.SessionKey(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("0123456789abcdef"), key)

	file, err := s2.GetFile(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "photo.jpg", file.FileName)
	assert.True(t, file.Verified)

	_, err = s2.RegisterUser(ctx, "alice")
	assert.ErrorIs(t, err, registry.ErrNameTaken, "name index rebuilt on open")
}

func TestConcurrentRegistrations(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	const n = 16
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := s.RegisterUser(ctx, "contested")
			errs <- err
		}()
	}

	var ok, taken int
	for i := 0; i < n; i++ {
		switch err := <-errs; {
		case err == nil:
			ok++
		case assert.ErrorIs(t, err, registry.ErrNameTaken):
			taken++
		}
	}
	assert.Equal(t, 1, ok, "exactly one registration of a contested name wins")
	assert.Equal(t, n-1, taken)
}
