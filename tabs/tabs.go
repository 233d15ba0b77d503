// Copyright 2026 The Lectern Authors
// SPDX-License-Identifier: Apache-2.0

// Package tabs mirrors the automation worker's browser tab set. The
// worker owns the real tabs; this state only changes through the three
// operations here, each of which notifies the worker before mutating
// local state so the mirror never runs ahead of reality.
package tabs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// ErrLastTab is returned when closing the only remaining tab. The
// worker always has at least one page; a zero-tab mirror would
// desynchronize immediately.
var ErrLastTab = errors.New("tabs: cannot close the last remaining tab")

// Notifier delivers tab commands to the automation worker.
type Notifier interface {
	NotifyOpen(ctx context.Context, tabID, name, url string) error
	NotifySwitch(ctx context.Context, tabID string) error
	NotifyClose(ctx context.Context, tabID string) error
}

// Tab is one mirrored browser tab.
type Tab struct {
	ID   string
	Name string
	URL  string
}

// Manager is the tab mirror. Safe for concurrent use.
type Manager struct {
	notifier Notifier
	logger   *slog.Logger

	mu     sync.Mutex
	tabs   map[string]Tab
	active string
}

// NewManager creates an empty Manager. A nil logger defaults to
// slog.Default().
func NewManager(notifier Notifier, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		notifier: notifier,
		logger:   logger,
		tabs:     make(map[string]Tab),
	}
}

// Open creates a tab: the local id is generated first, the worker is
// notified carrying that id, and only a successful notify adds the tab
// locally and makes it active. On notify failure nothing changes.
func (m *Manager) Open(ctx context.Context, name, url string) (Tab, error) {
	tab := Tab{ID: uuid.NewString(), Name: name, URL: url}

	if err := m.notifier.NotifyOpen(ctx, tab.ID, name, url); err != nil {
		return Tab{}, fmt.Errorf("opening tab %q: %w", name, err)
	}

	m.mu.Lock()
	m.tabs[tab.ID] = tab
	m.active = tab.ID
	m.mu.Unlock()

	m.logger.Info("tab opened", "tab_id", tab.ID, "name", name)
	return tab, nil
}

// Switch makes the tab active. Switching to the already-active tab is
// a no-op with no remote call.
func (m *Manager) Switch(ctx context.Context, tabID string) error {
	m.mu.Lock()
	if _, ok := m.tabs[tabID]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("tabs: unknown tab %s", tabID)
	}
	if m.active == tabID {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if err := m.notifier.NotifySwitch(ctx, tabID); err != nil {
		return fmt.Errorf("switching to tab %s: %w", tabID, err)
	}

	m.mu.Lock()
	// Re-check: the tab may have been closed while the notify was in
	// flight.
	if _, ok := m.tabs[tabID]; ok {
		m.active = tabID
	}
	m.mu.Unlock()
	return nil
}

// Close removes a tab. Closing the last remaining tab is rejected
// locally before any remote call. If the closed tab was active, some
// remaining tab becomes active.
func (m *Manager) Close(ctx context.Context, tabID string) error {
	m.mu.Lock()
	if _, ok := m.tabs[tabID]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("tabs: unknown tab %s", tabID)
	}
	if len(m.tabs) == 1 {
		m.mu.Unlock()
		return ErrLastTab
	}
	m.mu.Unlock()

	if err := m.notifier.NotifyClose(ctx, tabID); err != nil {
		return fmt.Errorf("closing tab %s: %w", tabID, err)
	}

	m.mu.Lock()
	delete(m.tabs, tabID)
	if m.active == tabID {
		for id := range m.tabs {
			m.active = id
			break
		}
	}
	newActive := m.active
	m.mu.Unlock()

	m.logger.Info("tab closed", "tab_id", tabID, "active", newActive)
	return nil
}

// Adopt seeds the mirror from the worker's initial tab announcement.
// It is only valid on an empty mirror; the announcement arrives once
// at session start, never as an ongoing mutation channel.
func (m *Manager) Adopt(tab Tab) error {
	if tab.ID == "" {
		return fmt.Errorf("tabs: announcement with empty tab id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.tabs) != 0 {
		return fmt.Errorf("tabs: announcement after tabs already exist")
	}
	m.tabs[tab.ID] = tab
	m.active = tab.ID
	return nil
}

// Active returns the active tab, if any.
func (m *Manager) Active() (Tab, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tab, ok := m.tabs[m.active]
	return tab, ok
}

// Tabs returns all tabs ordered by id.
func (m *Manager) Tabs() []Tab {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := make([]Tab, 0, len(m.tabs))
	for _, tab := range m.tabs {
		all = append(all, tab)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all
}
