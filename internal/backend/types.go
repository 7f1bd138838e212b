// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"context"
	"fmt"

	"github.com/jeranaias/conduit/internal/model"
)

// =============================================================================
// ADAPTER CONTRACT
// =============================================================================

// Params holds per-request generation parameters.
type Params struct {
	// Model overrides the adapter's default model when non-empty.
	Model string
	// Temperature is the sampling temperature (0 = adapter default).
	Temperature float64
	// MaxTokens limits the generated output (0 = adapter default).
	MaxTokens int
	// ExpectToolCall indicates the caller requested tool calling and
	// the final output must parse as a well-formed tool invocation.
	ExpectToolCall bool
}

// Usage reports token consumption for a completed request.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a normalized non-streaming chat response.
type Response struct {
	Content      string
	Model        string
	FinishReason string
	Usage        *Usage
}

// Chunk is a single normalized increment from a streamed response.
type Chunk struct {
	// Delta is the incremental content. Empty only on the final chunk.
	Delta string
	// Done marks the terminal chunk of the stream.
	Done bool
	// Usage is populated on the final chunk when the provider reports it.
	Usage *Usage
	// Model is the model that produced the chunk, when known.
	Model string
	// Err carries a mid-stream error; a chunk with Err set is terminal.
	Err error
}

// StreamFunc is called for each chunk received from an adapter stream.
type StreamFunc func(Chunk)

// ModelInfo describes one model offered by an adapter.
type ModelInfo struct {
	ID            string
	Name          string
	ContextTokens int
}

// HealthState is the last observed health of a backend.
type HealthState int

const (
	// StateHealthy means the last observed outcome was a success.
	StateHealthy HealthState = iota
	// StateDegraded means recent failures were observed but the
	// backend is still considered usable.
	StateDegraded
	// StateDown means the backend failed its last attempts and should
	// not be routed to until a success is observed.
	StateDown
)

// String returns the human-readable name of the health state.
func (s HealthState) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateDown:
		return "down"
	default:
		return fmt.Sprintf("HealthState(%d)", s)
	}
}

// Adapter is the normalized contract for one LLM provider.
//
// Implementations live in subpackages (openrouter, ollama) and must be
// safe for concurrent use: one adapter instance serves many in-flight
// requests.
type Adapter interface {
	// ID returns the stable backend identifier used in routing,
	// health tracking, and quota accounting.
	ID() string

	// Chat performs a non-streaming chat completion.
	Chat(ctx context.Context, messages []model.Message, params Params) (*Response, error)

	// Stream performs a streaming chat completion, invoking fn for
	// each normalized chunk. The final chunk has Done set. Stream
	// returns once the stream terminates or ctx is cancelled.
	Stream(ctx context.Context, messages []model.Message, params Params, fn StreamFunc) error

	// ListModels returns the models the provider currently offers.
	ListModels(ctx context.Context) ([]ModelInfo, error)

	// CheckHealth performs a lightweight availability probe.
	CheckHealth(ctx context.Context) (HealthState, error)
}

// =============================================================================
// BACKEND DESCRIPTOR
// =============================================================================

// BackendRole is the coarse capability role a backend plays in routing
// orderings. Roles, not IDs, are what task categories prefer; concrete
// backends declare which role they fill.
type BackendRole string

const (
	// RoleReasoner marks large cloud models suited to architecture
	// and planning work.
	RoleReasoner BackendRole = "reasoner"
	// RoleCoder marks models tuned for code generation and review.
	RoleCoder BackendRole = "coder"
	// RoleParser marks fast models suited to extraction and
	// structured-output tasks.
	RoleParser BackendRole = "parser"
	// RoleLocal marks resource-constrained local models.
	RoleLocal BackendRole = "local"
)

// Descriptor pairs an adapter with its declared capabilities.
type Descriptor struct {
	// ID is the backend identifier (matches Adapter.ID()).
	ID string
	// Adapter is the provider implementation.
	Adapter Adapter
	// Role is the routing role this backend fills.
	Role BackendRole
	// MaxContextTokens is the declared context window size.
	MaxContextTokens int
	// SupportsStreaming indicates the adapter can stream output.
	SupportsStreaming bool
	// SupportsTools indicates the adapter can perform tool calling.
	SupportsTools bool
}

// String returns a short description for logging.
func (d Descriptor) String() string {
	return fmt.Sprintf("%s (role=%s, ctx=%d)", d.ID, d.Role, d.MaxContextTokens)
}

// =============================================================================
// REGISTRY
// =============================================================================

// Registry is the ordered set of configured backends. It is built once
// at startup and read-only afterwards, so lookups need no locking.
type Registry struct {
	order []Descriptor
	byID  map[string]Descriptor
}

// NewRegistry creates a registry from the given descriptors.
// Descriptor order is preserved and used as the registration order.
func NewRegistry(descriptors ...Descriptor) *Registry {
	r := &Registry{
		order: make([]Descriptor, 0, len(descriptors)),
		byID:  make(map[string]Descriptor, len(descriptors)),
	}
	for _, d := range descriptors {
		if _, dup := r.byID[d.ID]; dup {
			continue
		}
		r.order = append(r.order, d)
		r.byID[d.ID] = d
	}
	return r
}

// Get returns the descriptor for a backend ID.
func (r *Registry) Get(id string) (Descriptor, bool) {
	d, ok := r.byID[id]
	return d, ok
}

// All returns the descriptors in registration order. The returned
// slice is a copy; callers may reorder it freely.
func (r *Registry) All() []Descriptor {
	out := make([]Descriptor, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of registered backends.
func (r *Registry) Len() int {
	return len(r.order)
}
