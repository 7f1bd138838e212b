// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package context

import (
	"context"
	"fmt"
	"strings"

	"github.com/jeranaias/conduit/internal/backend"
	"github.com/jeranaias/conduit/internal/model"
)

// =============================================================================
// DISTILLATION
// =============================================================================

const distillSystemPrompt = `You compress conversation history. Produce a dense summary that preserves:
- decisions made and their reasons
- code locations, file names, and identifiers mentioned
- errors encountered and how they were resolved
- unresolved questions and pending work
Write plain prose. No preamble, no headers, no commentary about the summarization itself.`

// DistillationResult is the synthetic summary that replaces a span of
// session-tier messages. The counts exist for diagnostics.
type DistillationResult struct {
	// Message is the synthetic system message carrying the summary.
	Message model.Message
	// SourceMessageCount is how many messages were compressed.
	SourceMessageCount int
	// ApproxTokenCount is the estimated size of the summary.
	ApproxTokenCount int
}

// Distiller compresses session history through a delegate backend.
// The delegate is an ordinary adapter with no special-cased type; it
// is expected to have a very large context window.
type Distiller struct {
	delegate backend.Adapter
	// model overrides the delegate's default model when non-empty.
	model string
	// maxSummaryTokens bounds the requested summary size.
	maxSummaryTokens int
}

// NewDistiller creates a distiller over a delegate adapter.
func NewDistiller(delegate backend.Adapter, modelName string, maxSummaryTokens int) *Distiller {
	if maxSummaryTokens <= 0 {
		maxSummaryTokens = 500
	}
	return &Distiller{delegate: delegate, model: modelName, maxSummaryTokens: maxSummaryTokens}
}

// Distill compresses the given session messages into one synthetic
// system message. Deterministic given the same delegate response.
func (d *Distiller) Distill(ctx context.Context, messages []model.Message, taskDescription string) (*DistillationResult, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("distill: no messages to compress")
	}

	prompt := buildDistillPrompt(messages, taskDescription)
	resp, err := d.delegate.Chat(ctx, []model.Message{
		model.NewSystemMessage(distillSystemPrompt),
		model.NewUserMessage(prompt),
	}, backend.Params{
		Model:       d.model,
		Temperature: 0.3,
		MaxTokens:   d.maxSummaryTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("distill delegate call: %w", err)
	}
	summary := strings.TrimSpace(resp.Content)
	if summary == "" {
		return nil, fmt.Errorf("distill: %w", backend.ErrEmptyResponse)
	}

	msg := model.NewSystemMessage("[Conversation summary] " + summary)
	return &DistillationResult{
		Message:            msg,
		SourceMessageCount: len(messages),
		ApproxTokenCount:   msg.EstimateTokens(),
	}, nil
}

// buildDistillPrompt renders the session transcript plus the current
// task so the summary biases toward what the conversation needs next.
func buildDistillPrompt(messages []model.Message, taskDescription string) string {
	var sb strings.Builder
	sb.WriteString("Summarize this conversation history:\n\n")
	for _, m := range messages {
		sb.WriteString(string(m.Role))
		sb.WriteString(": ")
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
	if taskDescription != "" {
		sb.WriteString("\nThe conversation is continuing with this task: ")
		sb.WriteString(taskDescription)
		sb.WriteString("\nWeight the summary toward information relevant to it.")
	}
	return sb.String()
}
