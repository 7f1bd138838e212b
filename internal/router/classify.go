// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"strings"

	"github.com/jeranaias/conduit/internal/model"
)

// ============================================================================
// CLASSIFICATION
// ============================================================================

// Classifier derives a task category from a conversation. The keyword
// heuristic below is one implementation; tests inject deterministic
// categorizers through this interface.
type Classifier interface {
	Classify(messages []model.Message) TaskCategory
}

// ClassifierFunc adapts a plain function to the Classifier interface.
type ClassifierFunc func(messages []model.Message) TaskCategory

// Classify implements Classifier.
func (f ClassifierFunc) Classify(messages []model.Message) TaskCategory {
	return f(messages)
}

// Keyword families checked in priority order. Architecture wins over
// coding when both match ("design a function" is planning work first).
var (
	architectureKeywords = []string{
		"architect", "design", "plan", "roadmap", "structure",
		"trade-off", "tradeoff", "should i", "best approach",
		"pros and cons", "high-level", "system design",
	}
	codingKeywords = []string{
		"implement", "write code", "function", "refactor", "debug",
		"fix", "bug", "error", "compile", "test", "review",
		"class ", "method", "code",
	}
	parsingKeywords = []string{
		"parse", "extract", "convert", "format", "json", "yaml",
		"csv", "summarize", "list the", "transform",
	}
)

// KeywordClassifier categorizes the latest user message against three
// fixed keyword families. Absence of a match yields general. The
// result is advisory, never authoritative: persona preferences take
// precedence in ordering.
type KeywordClassifier struct{}

// NewKeywordClassifier creates the default keyword classifier.
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{}
}

// Classify implements Classifier.
func (k *KeywordClassifier) Classify(messages []model.Message) TaskCategory {
	query := strings.ToLower(model.LatestUserContent(messages))
	if query == "" {
		return CategoryGeneral
	}

	for _, kw := range architectureKeywords {
		if strings.Contains(query, kw) {
			return CategoryArchitecture
		}
	}
	for _, kw := range codingKeywords {
		if strings.Contains(query, kw) {
			return CategoryCoding
		}
	}
	for _, kw := range parsingKeywords {
		if strings.Contains(query, kw) {
			return CategoryParsing
		}
	}
	return CategoryGeneral
}
