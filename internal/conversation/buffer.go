// Package conversation maintains the two conversation histories kept per session:
// the unbounded full history and the bounded sliding window sent to the model.
//
// All functions return fresh slices and never modify their input.
package conversation

import "github.com/ashureev/heritage-guide/internal/domain"

// AppendTurn returns history with one trailing message added.
func AppendTurn(history []domain.Message, role domain.Role, content string) []domain.Message {
	out := make([]domain.Message, len(history), len(history)+1)
	copy(out, history)
	return append(out, domain.Message{Role: role, Content: content})
}

// TrimWindow bounds window to maxSize entries. The first entry is always kept
// and the most recent maxSize-1 entries follow it.
func TrimWindow(window []domain.Message, maxSize int) []domain.Message {
	if len(window) == 0 || len(window) <= maxSize {
		return clone(window)
	}
	if maxSize <= 1 {
		return clone(window[:1])
	}
	out := make([]domain.Message, 0, maxSize)
	out = append(out, window[0])
	return append(out, window[len(window)-(maxSize-1):]...)
}

// ReplaceSystemPrompt returns a window whose single system entry holds prompt,
// followed by the user and assistant entries of window in their original order.
func ReplaceSystemPrompt(window []domain.Message, prompt string) []domain.Message {
	out := make([]domain.Message, 0, len(window)+1)
	out = append(out, domain.Message{Role: domain.RoleSystem, Content: prompt})
	for _, m := range window {
		if m.Role == domain.RoleUser || m.Role == domain.RoleAssistant {
			out = append(out, m)
		}
	}
	return out
}

// LastRole returns the role of the final entry, or "" for an empty window.
func LastRole(window []domain.Message) domain.Role {
	if len(window) == 0 {
		return ""
	}
	return window[len(window)-1].Role
}

func clone(window []domain.Message) []domain.Message {
	out := make([]domain.Message, len(window))
	copy(out, window)
	return out
}
