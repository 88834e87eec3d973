// Package registry defines the shared user and transfer-slot registry that
// all client sessions operate through. The registry is the single
// synchronization boundary of the server: sessions never hold User or File
// records beyond one request, and every access goes through a Store
// implementation that serializes it against all concurrent callers.
package registry

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// User is a registered client.
type User struct {
	// ID is the 128-bit identifier assigned at registration. Never reused
	// or mutated.
	ID uuid.UUID `json:"id"`

	// Name is the unique display name (case-sensitive exact match),
	// immutable after registration.
	Name string `json:"name"`

	// PublicKey is the DER blob supplied at key exchange. Empty until the
	// first key exchange.
	PublicKey []byte `json:"public_key,omitempty"`

	// SessionKey is the current symmetric key. Regenerated on every key
	// exchange; each exchange invalidates the previous key.
	SessionKey []byte `json:"session_key,omitempty"`

	// LastSeen is updated on every authenticated request.
	LastSeen time.Time `json:"last_seen"`
}

// File is a user's single current-transfer slot. Users hold at most one;
// a new upload replaces the slot entirely.
type File struct {
	OwnerID     uuid.UUID `json:"owner_id"`
	FileName    string    `json:"file_name"`
	StoragePath string    `json:"storage_path"`
	Verified    bool      `json:"verified"`
}

var (
	// ErrNameTaken is returned when registering a name that already exists.
	ErrNameTaken = errors.New("user name already registered")

	// ErrUserNotFound is returned for lookups of unknown user ids.
	ErrUserNotFound = errors.New("user not found")

	// ErrNoSessionKey is returned when an upload arrives before any key
	// exchange established a session key.
	ErrNoSessionKey = errors.New("no session key established for user")

	// ErrNoFile is returned when a file operation targets an empty slot.
	ErrNoFile = errors.New("user has no file slot")
)

// Store is the durable user/file registry.
//
// Every method is atomic with respect to concurrent callers: two concurrent
// registrations of the same name cannot both succeed, and no reader observes
// a half-written record. Mutations are persisted before they return, so a
// positive acknowledgement never disagrees with durable storage after a
// crash. Implementations rebuild their in-memory index from durable storage
// on open, before any session traffic is accepted.
type Store interface {
	// RegisterUser creates a new user with a freshly generated id.
	// Returns ErrNameTaken if the name is already registered.
	RegisterUser(ctx context.Context, name string) (*User, error)

	// NameInUse reports whether a display name is already registered.
	NameInUse(ctx context.Context, name string) (bool, error)

	// GetUser looks up a user by id. Returns ErrUserNotFound if absent.
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)

	// SetKeys replaces a user's public key and session key pair.
	SetKeys(ctx context.Context, id uuid.UUID, publicKey, sessionKey []byte) error

	// SessionKey returns the user's current session key, or ErrNoSessionKey
	// if no key exchange has happened yet.
	SessionKey(ctx context.Context, id uuid.UUID) ([]byte, error)

	// TouchLastSeen records request activity for the user.
	TouchLastSeen(ctx context.Context, id uuid.UUID, when time.Time) error

	// PutFile creates or replaces the owner's file slot.
	PutFile(ctx context.Context, file *File) error

	// GetFile returns the owner's current file slot, or ErrNoFile.
	GetFile(ctx context.Context, ownerID uuid.UUID) (*File, error)

	// MarkFileVerified flips the slot's verified flag after a successful
	// checksum handshake. Returns ErrNoFile on an empty slot.
	MarkFileVerified(ctx context.Context, ownerID uuid.UUID) error

	// DeleteFile removes the slot record and its backing bytes.
	// Deleting an empty slot is a no-op.
	DeleteFile(ctx context.Context, ownerID uuid.UUID) error

	// FilePath resolves (and lazily creates) the namespaced storage
	// location for an owner's file.
	FilePath(ownerID uuid.UUID, fileName string) (string, error)

	// LockSlot serializes file-bytes writes against concurrent
	// delete/replace of the same user's slot. The returned function
	// releases the slot.
	LockSlot(ownerID uuid.UUID) (unlock func())

	// ListUsers returns all registered users, sorted by name.
	ListUsers(ctx context.Context) ([]*User, error)

	// Close releases the underlying storage.
	Close() error
}
