// Package store persists document snapshots and user credentials. The OT
// core performs no I/O; the hub hands snapshots here on a timer and at
// shutdown, and loads them when a document is first opened.
package store

import (
	"context"
	"sync"
	"time"
)

// Snapshot is a durably-storable (text, revision) pair for one document.
type Snapshot struct {
	DocID     string    `bson:"_id" json:"doc_id"`
	Text      string    `bson:"text" json:"text"`
	Rev       int       `bson:"rev" json:"rev"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

type SnapshotStore interface {
	// Load returns the stored snapshot for docID, with ok=false when the
	// document has never been saved.
	Load(ctx context.Context, docID string) (snap Snapshot, ok bool, err error)
	Save(ctx context.Context, snap Snapshot) error
}

type UserStore interface {
	// CreateUser stores a new user with a pre-hashed password. It returns
	// created=false when the username is taken.
	CreateUser(ctx context.Context, username, passwordHash string) (created bool, err error)
	// LookupUser returns the stored password hash for username.
	LookupUser(ctx context.Context, username string) (hash string, ok bool, err error)
}

// MemStore is an in-process store for tests and single-node runs without a
// database.
type MemStore struct {
	mu    sync.Mutex
	snaps map[string]Snapshot
	users map[string]string
}

func NewMemStore() *MemStore {
	return &MemStore{
		snaps: make(map[string]Snapshot),
		users: make(map[string]string),
	}
}

func (m *MemStore) Load(_ context.Context, docID string) (Snapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snaps[docID]
	return snap, ok, nil
}

func (m *MemStore) Save(_ context.Context, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[snap.DocID] = snap
	return nil
}

func (m *MemStore) CreateUser(_ context.Context, username, passwordHash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.users[username]; taken {
		return false, nil
	}
	m.users[username] = passwordHash
	return true, nil
}

func (m *MemStore) LookupUser(_ context.Context, username string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hash, ok := m.users[username]
	return hash, ok, nil
}
