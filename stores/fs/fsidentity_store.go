package fs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	sa "github.com/panyam/secretauth"
)

// indexEntry is the content of a username or provider index file
type indexEntry struct {
	IdentityID string    `json:"identity_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// FSIdentityStore implements sa.IdentityStore with JSON files.
//
// # File Structure
//
//	{StoragePath}/
//	├── identities/
//	│   └── <id>.json          # the Identity record
//	├── usernames/
//	│   └── <username>.json    # {"identity_id": ...}, normalized username
//	└── providers/
//	    └── <provider:subject>.json
//
// # Concurrency Model
//
// Index files are created with claimFile, so of two writers racing for the
// same username or provider id exactly one wins, even across processes. The
// loser removes the identity file it wrote and gets sa.ErrConflict. Updates
// to existing records are serialized by a mutex and are last-write-wins
// across processes.
type FSIdentityStore struct {
	StoragePath string
	mu          sync.Mutex
}

func NewFSIdentityStore(storagePath string) *FSIdentityStore {
	return &FSIdentityStore{StoragePath: storagePath}
}

func (s *FSIdentityStore) identityPath(id string) string {
	return filepath.Join(s.StoragePath, "identities", url.PathEscape(id)+".json")
}

func (s *FSIdentityStore) usernamePath(username string) string {
	return filepath.Join(s.StoragePath, "usernames", url.PathEscape(sa.NormalizeUsername(username))+".json")
}

func (s *FSIdentityStore) providerPath(providerID string) string {
	return filepath.Join(s.StoragePath, "providers", url.PathEscape(providerID)+".json")
}

func (s *FSIdentityStore) FindByID(ctx context.Context, id string) (*sa.Identity, error) {
	if id == "" {
		return nil, sa.ErrNotFound
	}
	data, err := os.ReadFile(s.identityPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, sa.ErrNotFound
		}
		return nil, err
	}
	var identity sa.Identity
	if err := json.Unmarshal(data, &identity); err != nil {
		return nil, fmt.Errorf("corrupt identity %s: %w", id, err)
	}
	return &identity, nil
}

func (s *FSIdentityStore) FindByUsername(ctx context.Context, username string) (*sa.Identity, error) {
	if strings.TrimSpace(username) == "" {
		return nil, sa.ErrNotFound
	}
	return s.findByIndex(ctx, s.usernamePath(username))
}

func (s *FSIdentityStore) FindByProviderID(ctx context.Context, providerID string) (*sa.Identity, error) {
	if providerID == "" {
		return nil, sa.ErrNotFound
	}
	return s.findByIndex(ctx, s.providerPath(providerID))
}

func (s *FSIdentityStore) findByIndex(ctx context.Context, path string) (*sa.Identity, error) {
	entry, err := readIndex(path)
	if err != nil {
		return nil, err
	}
	return s.FindByID(ctx, entry.IdentityID)
}

func (s *FSIdentityStore) Insert(ctx context.Context, identity *sa.Identity) error {
	if err := identity.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.identityPath(identity.ID)); err == nil {
		return sa.ErrConflict
	}
	if err := s.writeIdentity(identity); err != nil {
		return err
	}

	var claimed []string
	rollback := func() {
		for _, path := range claimed {
			os.Remove(path)
		}
		os.Remove(s.identityPath(identity.ID))
	}
	entry, _ := json.Marshal(indexEntry{IdentityID: identity.ID, CreatedAt: time.Now().UTC()})

	if strings.TrimSpace(identity.Username) != "" {
		path := s.usernamePath(identity.Username)
		if err := claimFile(path, entry); err != nil {
			rollback()
			return err
		}
		claimed = append(claimed, path)
	}
	if identity.ProviderID != "" {
		path := s.providerPath(identity.ProviderID)
		if err := claimFile(path, entry); err != nil {
			rollback()
			return err
		}
		claimed = append(claimed, path)
	}
	return nil
}

func (s *FSIdentityStore) UpdateSecret(ctx context.Context, id string, secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	identity, err := s.FindByID(ctx, id)
	if err != nil {
		return err
	}
	identity.Secret = &secret
	identity.UpdatedAt = time.Now().UTC()
	return s.writeIdentity(identity)
}

func (s *FSIdentityStore) UpdateLocalCredential(ctx context.Context, id string, username string, passwordHash string) error {
	if strings.TrimSpace(username) == "" || passwordHash == "" {
		return sa.ErrInvalidIdentity
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	identity, err := s.FindByID(ctx, id)
	if err != nil {
		return err
	}

	oldUsername := identity.Username
	renamed := sa.NormalizeUsername(oldUsername) != sa.NormalizeUsername(username)
	if renamed {
		path := s.usernamePath(username)
		entry, _ := json.Marshal(indexEntry{IdentityID: id, CreatedAt: time.Now().UTC()})
		if err := claimFile(path, entry); err != nil {
			if !errors.Is(err, sa.ErrConflict) {
				return err
			}
			// left behind by an earlier attempt for this same identity
			if owner, rerr := readIndex(path); rerr != nil || owner.IdentityID != id {
				return sa.ErrConflict
			}
		}
	}

	identity.Username = strings.TrimSpace(username)
	identity.PasswordHash = passwordHash
	identity.UpdatedAt = time.Now().UTC()
	if err := s.writeIdentity(identity); err != nil {
		return err
	}
	if renamed && strings.TrimSpace(oldUsername) != "" {
		if err := os.Remove(s.usernamePath(oldUsername)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

func (s *FSIdentityStore) ListWithSecrets(ctx context.Context) ([]*sa.Identity, error) {
	dir := filepath.Join(s.StoragePath, "identities")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*sa.Identity{}, nil
		}
		return nil, err
	}

	out := []*sa.Identity{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		var identity sa.Identity
		if err := json.Unmarshal(data, &identity); err != nil {
			continue
		}
		if identity.Secret != nil {
			out = append(out, &identity)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *FSIdentityStore) writeIdentity(identity *sa.Identity) error {
	path := s.identityPath(identity.ID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(identity, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomicFile(path, data)
}

func readIndex(path string) (*indexEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, sa.ErrNotFound
		}
		return nil, err
	}
	var entry indexEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("corrupt index %s: %w", filepath.Base(path), err)
	}
	return &entry, nil
}
