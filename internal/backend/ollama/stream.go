// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/jeranaias/conduit/internal/backend"
)

// =============================================================================
// NDJSON STREAM PROCESSING
// =============================================================================

// processStream reads NDJSON lines and emits normalized chunks. The
// final line has done=true and carries eval counts.
func processStream(ctx context.Context, body io.Reader, fn backend.StreamFunc) error {
	reader := bufio.NewReader(body)
	modelName := ""

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				if len(line) == 0 {
					// Stream ended without a done marker; the
					// coordinator's completeness check decides whether
					// the accumulated output is acceptable.
					fn(backend.Chunk{Done: true, Model: modelName})
					return nil
				}
				// Fall through to parse the unterminated last line.
			} else {
				return fmt.Errorf("read stream: %w", err)
			}
		}
		if len(line) == 0 {
			continue
		}

		var parsed chatLine
		if jsonErr := json.Unmarshal(line, &parsed); jsonErr != nil {
			// Skip malformed lines.
			if err == io.EOF {
				fn(backend.Chunk{Done: true, Model: modelName})
				return nil
			}
			continue
		}

		if parsed.Model != "" {
			modelName = parsed.Model
		}

		if parsed.Done {
			chunk := backend.Chunk{Done: true, Model: modelName}
			if parsed.PromptEvalCount > 0 || parsed.EvalCount > 0 {
				chunk.Usage = &backend.Usage{
					PromptTokens:     parsed.PromptEvalCount,
					CompletionTokens: parsed.EvalCount,
					TotalTokens:      parsed.PromptEvalCount + parsed.EvalCount,
				}
			}
			fn(chunk)
			return nil
		}

		if parsed.Message.Content != "" {
			fn(backend.Chunk{Delta: parsed.Message.Content, Model: modelName})
		}

		if err == io.EOF {
			fn(backend.Chunk{Done: true, Model: modelName})
			return nil
		}
	}
}
