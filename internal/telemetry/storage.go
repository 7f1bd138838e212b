// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jeranaias/conduit/internal/util"
)

// =============================================================================
// USAGE STORAGE
// =============================================================================

// UsageStorage persists session records as JSON files, one per session.
type UsageStorage struct {
	dir string
}

// NewUsageStorage creates a storage manager rooted at dir, defaulting
// to ~/.conduit/usage.
func NewUsageStorage(dir string) (*UsageStorage, error) {
	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(homeDir, ".conduit", "usage")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &UsageStorage{dir: dir}, nil
}

// Save persists one session record.
func (s *UsageStorage) Save(session *SessionUsage) error {
	if session == nil {
		return nil
	}
	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	path := filepath.Join(s.dir, session.ID+".json")
	if err := util.AtomicWriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

// Load reads one session record by ID.
func (s *UsageStorage) Load(id string) (*SessionUsage, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, id+".json"))
	if err != nil {
		return nil, err
	}
	var session SessionUsage
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("unmarshal session %s: %w", id, err)
	}
	return &session, nil
}

// List returns stored session IDs, newest first.
func (s *UsageStorage) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))
	return ids, nil
}
