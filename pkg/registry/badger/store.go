// Package badger implements the registry.Store interface on BadgerDB.
//
// Records are stored as JSON values under string-prefixed keys:
//
//	user:{uuid} - User record
//	name:{name} - uniqueness index: display name -> user id
//	file:{uuid} - File slot record, keyed by owner id
//
// A full in-memory index (users by id, ids by name, slots by owner) is
// rebuilt from the keyspace on Open and kept in lockstep with the database:
// every mutation commits to Badger while holding the store mutex, before the
// in-memory maps change and before the caller is acknowledged.
package badger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/gxav/droplock/internal/logger"
	"github.com/gxav/droplock/pkg/registry"
)

const (
	userPrefix = "user:"
	namePrefix = "name:"
	filePrefix = "file:"
)

// Options configures a badger-backed registry store.
type Options struct {
	// DataDir is the BadgerDB directory for user and file records.
	DataDir string

	// FilesDir is the root under which uploaded file bytes are stored,
	// namespaced per user id.
	FilesDir string
}

// Store is the BadgerDB-backed registry.
type Store struct {
	db       *badger.DB
	filesDir string

	// mu serializes every registry operation. The whole store sits behind
	// one mutual-exclusion boundary: lost updates (two same-name
	// registrations) and torn reads are structurally impossible.
	mu    sync.RWMutex
	users map[uuid.UUID]*registry.User
	names map[string]uuid.UUID
	files map[uuid.UUID]*registry.File

	// slots holds per-user locks serializing file-bytes writes against
	// delete/replace of the same slot.
	slotMu sync.Mutex
	slots  map[uuid.UUID]*sync.Mutex
}

var _ registry.Store = (*Store)(nil)

// Open opens (creating if necessary) the registry database and rebuilds the
// in-memory index from it. No session traffic may be served before Open
// returns.
func Open(opts Options) (*Store, error) {
	if err := os.MkdirAll(opts.FilesDir, 0o755); err != nil {
		return nil, fmt.Errorf("create files dir: %w", err)
	}

	db, err := badger.Open(badger.DefaultOptions(opts.DataDir).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open registry database: %w", err)
	}

	s := &Store{
		db:       db,
		filesDir: opts.FilesDir,
		users:    make(map[uuid.UUID]*registry.User),
		names:    make(map[string]uuid.UUID),
		files:    make(map[uuid.UUID]*registry.File),
		slots:    make(map[uuid.UUID]*sync.Mutex),
	}

	if err := s.loadIndex(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("rebuild registry index: %w", err)
	}

	logger.Info("Registry opened",
		"users", len(s.users),
		"file_slots", len(s.files),
		"data_dir", opts.DataDir,
		"files_dir", opts.FilesDir)

	return s, nil
}

// loadIndex scans the keyspace and reconstructs the in-memory maps.
func (s *Store) loadIndex() error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := item.Key()

			switch {
			case hasPrefix(key, userPrefix):
				var user registry.User
				if err := item.Value(func(val []byte) error {
					return json.Unmarshal(val, &user)
				}); err != nil {
					return fmt.Errorf("decode %s: %w", key, err)
				}
				u := user
				s.users[u.ID] = &u
				s.names[u.Name] = u.ID

			case hasPrefix(key, filePrefix):
				var file registry.File
				if err := item.Value(func(val []byte) error {
					return json.Unmarshal(val, &file)
				}); err != nil {
					return fmt.Errorf("decode %s: %w", key, err)
				}
				f := file
				s.files[f.OwnerID] = &f
			}
		}
		return nil
	})
}

func hasPrefix(key []byte, prefix string) bool {
	return len(key) >= len(prefix) && string(key[:len(prefix)]) == prefix
}

func keyUser(id uuid.UUID) []byte   { return []byte(userPrefix + id.String()) }
func keyName(name string) []byte    { return []byte(namePrefix + name) }
func keyFile(owner uuid.UUID) []byte { return []byte(filePrefix + owner.String()) }

// persistUser writes a user record (and its name index entry) in one
// transaction.
func (s *Store) persistUser(u *registry.User) error {
	val, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(keyUser(u.ID), val); err != nil {
			return err
		}
		return txn.Set(keyName(u.Name), u.ID[:])
	})
}

// RegisterUser creates a new user under a fresh id. Name uniqueness is
// enforced here, under the store lock, so concurrent registrations of the
// same name cannot both succeed.
func (s *Store) RegisterUser(ctx context.Context, name string) (*registry.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.names[name]; taken {
		return nil, registry.ErrNameTaken
	}

	id := uuid.New()
	if _, collision := s.users[id]; collision {
		// A duplicate v4 UUID means a broken randomness source, not a
		// runtime condition to recover from.
		return nil, fmt.Errorf("generated duplicate user id %s", id)
	}

	user := &registry.User{
		ID:       id,
		Name:     name,
		LastSeen: time.Now().UTC(),
	}

	if err := s.persistUser(user); err != nil {
		return nil, err
	}

	s.users[id] = user
	s.names[name] = id

	return copyUser(user), nil
}

// NameInUse reports whether a display name is already registered.
func (s *Store) NameInUse(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	_, taken := s.names[name]
	return taken, nil
}

// GetUser looks up a user by id.
func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*registry.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, registry.ErrUserNotFound
	}
	return copyUser(user), nil
}

// SetKeys replaces the user's public and session key pair. Each key exchange
// overwrites whatever keys were stored before.
func (s *Store) SetKeys(ctx context.Context, id uuid.UUID, publicKey, sessionKey []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return registry.ErrUserNotFound
	}

	updated := *user
	updated.PublicKey = append([]byte(nil), publicKey...)
	updated.SessionKey = append([]byte(nil), sessionKey...)

	if err := s.persistUser(&updated); err != nil {
		return err
	}

	s.users[id] = &updated
	return nil
}

// SessionKey returns a copy of the user's current session key.
func (s *Store) SessionKey(ctx context.Context, id uuid.UUID) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, registry.ErrUserNotFound
	}
	if len(user.SessionKey) == 0 {
		return nil, registry.ErrNoSessionKey
	}
	return append([]byte(nil), user.SessionKey...), nil
}

// TouchLastSeen records request activity for the user.
func (s *Store) TouchLastSeen(ctx context.Context, id uuid.UUID, when time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return registry.ErrUserNotFound
	}

	updated := *user
	updated.LastSeen = when.UTC()

	if err := s.persistUser(&updated); err != nil {
		return err
	}

	s.users[id] = &updated
	return nil
}

// PutFile creates or replaces the owner's file slot. Replacing a slot whose
// previous upload lived at a different path removes the old bytes.
func (s *Store) PutFile(ctx context.Context, file *registry.File) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[file.OwnerID]; !ok {
		return registry.ErrUserNotFound
	}

	prev := s.files[file.OwnerID]

	stored := *file
	val, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("encode file record: %w", err)
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keyFile(stored.OwnerID), val)
	}); err != nil {
		return err
	}

	s.files[stored.OwnerID] = &stored

	// A replacement under a different name would otherwise orphan the old
	// upload's bytes on disk.
	if prev != nil && prev.StoragePath != stored.StoragePath {
		if err := os.Remove(prev.StoragePath); err != nil && !os.IsNotExist(err) {
			logger.Warn("Failed to remove replaced file bytes",
				"path", prev.StoragePath, "owner", stored.OwnerID, "error", err)
		}
	}

	return nil
}

// GetFile returns the owner's current file slot.
func (s *Store) GetFile(ctx context.Context, ownerID uuid.UUID) (*registry.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	file, ok := s.files[ownerID]
	if !ok {
		return nil, registry.ErrNoFile
	}
	f := *file
	return &f, nil
}

// MarkFileVerified flips the slot's verified flag.
func (s *Store) MarkFileVerified(ctx context.Context, ownerID uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, ok := s.files[ownerID]
	if !ok {
		return registry.ErrNoFile
	}

	updated := *file
	updated.Verified = true

	val, err := json.Marshal(&updated)
	if err != nil {
		return fmt.Errorf("encode file record: %w", err)
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keyFile(ownerID), val)
	}); err != nil {
		return err
	}

	s.files[ownerID] = &updated
	return nil
}

// DeleteFile removes the slot record and its backing bytes. An empty slot is
// a no-op; callers hold the slot lock when bytes may be in flight.
func (s *Store) DeleteFile(ctx context.Context, ownerID uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, ok := s.files[ownerID]
	if !ok {
		return nil
	}

	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(keyFile(ownerID))
	}); err != nil {
		return err
	}
	delete(s.files, ownerID)

	if err := os.Remove(file.StoragePath); err != nil && !os.IsNotExist(err) {
		logger.Warn("Failed to remove stored file bytes",
			"path", file.StoragePath, "owner", ownerID, "error", err)
	}

	return nil
}

// FilePath resolves the storage location for an owner's file, creating the
// user's directory on first use. File names are client-controlled bytes, so
// only their final path element is used.
func (s *Store) FilePath(ownerID uuid.UUID, fileName string) (string, error) {
	userDir := filepath.Join(s.filesDir, ownerID.String())
	if err := os.MkdirAll(userDir, 0o755); err != nil {
		return "", fmt.Errorf("create user dir: %w", err)
	}

	base := filepath.Base(fileName)
	if base == "." || base == string(filepath.Separator) || base == ".." {
		return "", fmt.Errorf("file name %q resolves to no path element", fileName)
	}

	return filepath.Join(userDir, base), nil
}

// LockSlot acquires the owner's slot lock.
func (s *Store) LockSlot(ownerID uuid.UUID) func() {
	s.slotMu.Lock()
	lock, ok := s.slots[ownerID]
	if !ok {
		lock = &sync.Mutex{}
		s.slots[ownerID] = lock
	}
	s.slotMu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// ListUsers returns all registered users sorted by name.
func (s *Store) ListUsers(ctx context.Context) ([]*registry.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]*registry.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, copyUser(u))
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Name < users[j].Name })

	return users, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// copyUser returns a defensive copy; sessions must never share the indexed
// record.
func copyUser(u *registry.User) *registry.User {
	c := *u
	c.PublicKey = append([]byte(nil), u.PublicKey...)
	c.SessionKey = append([]byte(nil), u.SessionKey...)
	return &c
}
