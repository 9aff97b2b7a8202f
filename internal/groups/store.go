// Package groups persists storage groups as a single YAML document.
package groups

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"drivesync/internal/drive"
	"drivesync/internal/ds"
)

// DocumentVersion is written to every saved document.
const DocumentVersion = 1

var (
	ErrDuplicateAssignment = ds.ErrDuplicateAssignment
	ErrInvalidGroup        = ds.ErrInvalidGroup

	// ErrMalformedDocument is returned when the group document cannot be
	// parsed. It matches ds.ErrConfig.
	ErrMalformedDocument = fmt.Errorf("%w: malformed group document", ds.ErrConfig)
)

// Document is the persisted YAML root.
type Document struct {
	Version int             `yaml:"version"`
	Groups  []ds.DriveGroup `yaml:"groups"`
}

// Store implements ds.GroupStore on an afero filesystem. All reads are served
// from an in-memory cache; every mutation rewrites the whole document.
type Store struct {
	fs    afero.Fs
	path  string
	clock ds.Clock
	ids   ds.IDGenerator

	mu     sync.RWMutex
	groups []ds.DriveGroup
}

var _ ds.GroupStore = (*Store)(nil)

// Open loads the document at path. A missing document is an empty store.
func Open(fs afero.Fs, path string, clock ds.Clock, ids ds.IDGenerator) (*Store, error) {
	s := &Store{fs: fs, path: path, clock: clock, ids: ids}
	if err := s.Refresh(); err != nil {
		return nil, err
	}
	return s, nil
}

// Refresh re-reads the document to observe edits made by other processes.
func (s *Store) Refresh() error {
	groups, err := s.load()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.groups = groups
	s.mu.Unlock()
	return nil
}

func (s *Store) load() ([]ds.DriveGroup, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading group document: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}
	if doc.Version > DocumentVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrMalformedDocument, doc.Version)
	}
	for _, g := range doc.Groups {
		if g.ID == "" {
			return nil, fmt.Errorf("%w: group %q has no id", ErrMalformedDocument, g.Name)
		}
	}
	return doc.Groups, nil
}

// save writes groups atomically. The cache is only replaced when the write succeeds.
// Caller must hold s.mu.
func (s *Store) save(groups []ds.DriveGroup) error {
	data, err := yaml.Marshal(Document{Version: DocumentVersion, Groups: groups})
	if err != nil {
		return fmt.Errorf("encoding group document: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := s.fs.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating group document directory: %w", err)
	}

	tmp, err := afero.TempFile(s.fs, dir, ".groups-*.yaml")
	if err != nil {
		return fmt.Errorf("creating temp group document: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		s.fs.Remove(tmpName)
		return fmt.Errorf("writing group document: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		s.fs.Remove(tmpName)
		return fmt.Errorf("syncing group document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		s.fs.Remove(tmpName)
		return fmt.Errorf("closing group document: %w", err)
	}
	if err := s.fs.Rename(tmpName, s.path); err != nil {
		s.fs.Remove(tmpName)
		return fmt.Errorf("replacing group document: %w", err)
	}

	s.groups = groups
	return nil
}

// validate checks candidate against every group except the one with candidate's ID.
func validate(candidate ds.DriveGroup, existing []ds.DriveGroup) error {
	name := strings.TrimSpace(candidate.Name)
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidGroup)
	}
	if err := candidate.Master.Validate(); err != nil {
		return fmt.Errorf("%w: master: %v", ErrInvalidGroup, err)
	}
	if err := candidate.Backup.Validate(); err != nil {
		return fmt.Errorf("%w: backup: %v", ErrInvalidGroup, err)
	}
	if drive.Matches(candidate.Master, candidate.Backup) || drive.Matches(candidate.Backup, candidate.Master) {
		return fmt.Errorf("%w: master and backup are the same drive", ErrInvalidGroup)
	}

	for _, g := range existing {
		if g.ID == candidate.ID {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(g.Name), name) {
			return fmt.Errorf("%w: a group named %q already exists", ErrInvalidGroup, g.Name)
		}
		for _, id := range []drive.Identity{candidate.Master, candidate.Backup} {
			if drive.Matches(id, g.Master) || drive.Matches(id, g.Backup) {
				return fmt.Errorf("%w: %s belongs to group %q", ErrDuplicateAssignment, id, g.Name)
			}
		}
	}
	return nil
}

func (s *Store) Create(name, description string, master, backup drive.Identity) (*ds.DriveGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	g := ds.DriveGroup{
		ID:          s.ids.New(),
		Name:        strings.TrimSpace(name),
		Description: description,
		Master:      master,
		Backup:      backup,
		CreatedAt:   now,
		ModifiedAt:  now,
	}
	if err := validate(g, s.groups); err != nil {
		return nil, err
	}

	next := append(cloneGroups(s.groups), g)
	if err := s.save(next); err != nil {
		return nil, err
	}
	return &g, nil
}

// Update replaces the name, description and drives of an existing group.
func (s *Store) Update(group ds.DriveGroup) (*ds.DriveGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(group.ID)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", ds.ErrGroupNotFound, group.ID)
	}

	updated := s.groups[idx]
	updated.Name = strings.TrimSpace(group.Name)
	updated.Description = group.Description
	updated.Master = group.Master
	updated.Backup = group.Backup
	updated.ModifiedAt = s.clock.Now()

	if err := validate(updated, s.groups); err != nil {
		return nil, err
	}

	next := cloneGroups(s.groups)
	next[idx] = updated
	if err := s.save(next); err != nil {
		return nil, err
	}
	return &updated, nil
}

func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ds.ErrGroupNotFound, id)
	}

	next := make([]ds.DriveGroup, 0, len(s.groups)-1)
	next = append(next, s.groups[:idx]...)
	next = append(next, s.groups[idx+1:]...)
	return s.save(next)
}

func (s *Store) GetByID(id string) (*ds.DriveGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if idx := s.indexOf(id); idx >= 0 {
		g := s.groups[idx]
		return &g, nil
	}
	return nil, nil
}

func (s *Store) GetByName(name string) (*ds.DriveGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	name = strings.TrimSpace(name)
	for _, g := range s.groups {
		if strings.EqualFold(g.Name, name) {
			return &g, nil
		}
	}
	return nil, nil
}

func (s *Store) List() []ds.DriveGroup {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneGroups(s.groups)
}

func (s *Store) indexOf(id string) int {
	for i, g := range s.groups {
		if g.ID == id {
			return i
		}
	}
	return -1
}

func cloneGroups(groups []ds.DriveGroup) []ds.DriveGroup {
	out := make([]ds.DriveGroup, len(groups))
	copy(out, groups)
	return out
}
