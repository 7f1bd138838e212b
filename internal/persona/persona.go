// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package persona

import (
	"fmt"
	"sort"
	"sync"
)

// =============================================================================
// PERSONA TYPE
// =============================================================================

// Persona is a reusable system prompt plus routing preferences.
type Persona struct {
	Name         string
	Description  string
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
	// PreferredBackends are backend IDs spliced ahead of the router's
	// classified ordering. IDs unknown to the registry are ignored.
	PreferredBackends []string
}

// DefaultName is the persona active until one is selected.
const DefaultName = "general-assistant"

// =============================================================================
// MANAGER
// =============================================================================

// Manager stores available personas and tracks the active one.
// Safe for concurrent use.
type Manager struct {
	mu       sync.RWMutex
	personas map[string]Persona
	active   string
}

// NewManager creates a manager seeded with the built-in personas.
func NewManager() *Manager {
	m := &Manager{
		personas: make(map[string]Persona),
		active:   DefaultName,
	}
	for _, p := range builtins() {
		m.personas[p.Name] = p
	}
	return m
}

// Register adds or replaces a persona.
func (m *Manager) Register(p Persona) error {
	if p.Name == "" {
		return fmt.Errorf("persona name required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.personas[p.Name] = p
	return nil
}

// SetActive selects the active persona.
func (m *Manager) SetActive(name string) (Persona, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.personas[name]
	if !ok {
		return Persona{}, fmt.Errorf("unknown persona: %s", name)
	}
	m.active = name
	return p, nil
}

// Active returns the current persona.
func (m *Manager) Active() Persona {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.personas[m.active]
}

// Get returns a persona by name; an empty name returns the active one.
func (m *Manager) Get(name string) (Persona, error) {
	if name == "" {
		return m.Active(), nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.personas[name]
	if !ok {
		return Persona{}, fmt.Errorf("unknown persona: %s", name)
	}
	return p, nil
}

// Names lists available persona names, sorted.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.personas))
	for name := range m.personas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// builtins returns the built-in persona set.
func builtins() []Persona {
	return []Persona{
		{
			Name:        "general-assistant",
			Description: "Balanced general-purpose assistant.",
			SystemPrompt: "You are a helpful AI assistant. Provide clear, accurate, and concise answers. " +
				"Think step-by-step and explain reasoning briefly when helpful.",
			Temperature:       0.7,
			MaxTokens:         4000,
			PreferredBackends: []string{"openrouter"},
		},
		{
			Name:        "code-specialist",
			Description: "Expert at writing, reviewing, and debugging code.",
			SystemPrompt: "You are an expert software engineer. You write clean, idiomatic, well-tested code. " +
				"You follow best practices and explain design decisions briefly.",
			Temperature:       0.3,
			MaxTokens:         8000,
			PreferredBackends: []string{"openrouter"},
		},
		{
			Name:        "fast-parser",
			Description: "Focused on quick parsing and structured output.",
			SystemPrompt: "You are a fast, efficient parser. Extract structured information accurately and return " +
				"well-formatted JSON responses when possible.",
			Temperature:       0.2,
			MaxTokens:         2000,
			PreferredBackends: []string{"ollama"},
		},
		{
			Name:        "context-distiller",
			Description: "Distills large contexts into task-relevant summaries.",
			SystemPrompt: "You are a context distillation specialist. Read large amounts of context and extract only " +
				"the most relevant information for the current task. Focus on key decisions, unresolved issues, " +
				"critical facts, and recent changes.",
			Temperature:       0.3,
			MaxTokens:         4000,
			PreferredBackends: []string{"openrouter"},
		},
		{
			Name:              "local-coder",
			Description:       "Local model for quick coding tasks.",
			SystemPrompt:      "You are a concise coding assistant running locally. Provide practical code solutions without fluff.",
			Temperature:       0.3,
			MaxTokens:         2000,
			PreferredBackends: []string{"ollama"},
		},
		{
			Name:        "architect",
			Description: "Deep reasoning and system design.",
			SystemPrompt: "You are a senior software architect. Think thoroughly about trade-offs, scalability, " +
				"and maintainability. Provide detailed technical plans.",
			Temperature:       0.2,
			MaxTokens:         16000,
			PreferredBackends: []string{"openrouter"},
		},
	}
}
