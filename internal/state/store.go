package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Store persists one WalletState per address under a directory, one JSON file
// each. File names are a pure function of the lowercased address, so Has, Load
// and Delete need no index.
type Store struct {
	dir string
}

func NewStore(dir string) (*Store, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("state directory required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(address string) string {
	return filepath.Join(s.dir, strings.ToLower(strings.TrimSpace(address))+".json")
}

// Load returns the stored state for address, or ok=false on first run.
func (s *Store) Load(address string) (*WalletState, bool, error) {
	b, err := os.ReadFile(s.path(address))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}

	var st WalletState
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, false, fmt.Errorf("parse state %s: %w", s.path(address), err)
	}
	return &st, true, nil
}

// Save writes the full state durably. Write-to-temp then rename: a crash
// mid-write never leaves a truncated record visible to a later Load.
func (s *Store) Save(st *WalletState) error {
	if st == nil || strings.TrimSpace(st.Address) == "" {
		return fmt.Errorf("state with address required")
	}

	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	path := s.path(st.Address)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Create initializes and persists a fresh idle record for address.
func (s *Store) Create(address string) (*WalletState, error) {
	now := time.Now().UTC()
	st := &WalletState{
		Address:   strings.ToLower(strings.TrimSpace(address)),
		Step:      StepIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Save(st); err != nil {
		return nil, err
	}
	return st, nil
}

// Update applies mutate, refreshes UpdatedAt and persists.
func (s *Store) Update(st *WalletState, mutate func(*WalletState)) error {
	if mutate != nil {
		mutate(st)
	}
	st.UpdatedAt = time.Now().UTC()
	return s.Save(st)
}

// Has reports whether a record exists for address.
func (s *Store) Has(address string) bool {
	_, err := os.Stat(s.path(address))
	return err == nil
}

// Delete removes the record for address. Deleting a missing record is not an
// error.
func (s *Store) Delete(address string) error {
	err := os.Remove(s.path(address))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// List returns every stored state, sorted by address.
func (s *Store) List() ([]*WalletState, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	var out []*WalletState
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		addr := strings.TrimSuffix(e.Name(), ".json")
		st, ok, err := s.Load(addr)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}
