package conversation

import (
	"testing"

	"github.com/ashureev/heritage-guide/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msg(role domain.Role, content string) domain.Message {
	return domain.Message{Role: role, Content: content}
}

func TestAppendTurnDoesNotMutateInput(t *testing.T) {
	history := []domain.Message{msg(domain.RoleSystem, "p")}

	out := AppendTurn(history, domain.RoleUser, "hello")

	require.Len(t, out, 2)
	assert.Len(t, history, 1)
	assert.Equal(t, msg(domain.RoleUser, "hello"), out[1])
}

func TestAppendTurnToEmptyHistory(t *testing.T) {
	out := AppendTurn(nil, domain.RoleUser, "hi")
	assert.Equal(t, []domain.Message{msg(domain.RoleUser, "hi")}, out)
}

func TestTrimWindowEmpty(t *testing.T) {
	for _, maxSize := range []int{-1, 0, 1, 10} {
		got := TrimWindow(nil, maxSize)
		assert.Empty(t, got, "maxSize %d", maxSize)
		assert.NotNil(t, got, "maxSize %d", maxSize)
	}
}

func TestTrimWindow(t *testing.T) {
	window := []domain.Message{
		msg(domain.RoleSystem, "p"),
		msg(domain.RoleUser, "u1"),
		msg(domain.RoleAssistant, "a1"),
		msg(domain.RoleUser, "u2"),
		msg(domain.RoleAssistant, "a2"),
		msg(domain.RoleUser, "u3"),
	}

	tests := []struct {
		name    string
		maxSize int
		want    []string
	}{
		{name: "under limit", maxSize: 10, want: []string{"p", "u1", "a1", "u2", "a2", "u3"}},
		{name: "exactly at limit", maxSize: 6, want: []string{"p", "u1", "a1", "u2", "a2", "u3"}},
		{name: "over limit keeps system and tail", maxSize: 4, want: []string{"p", "u2", "a2", "u3"}},
		{name: "size two", maxSize: 2, want: []string{"p", "u3"}},
		{name: "size one keeps only first", maxSize: 1, want: []string{"p"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TrimWindow(window, tt.maxSize)
			contents := make([]string, 0, len(got))
			for _, m := range got {
				contents = append(contents, m.Content)
			}
			assert.Equal(t, tt.want, contents)
			assert.LessOrEqual(t, len(got), max(tt.maxSize, 1))
		})
	}
	assert.Len(t, window, 6, "input must be untouched")
}

func TestReplaceSystemPrompt(t *testing.T) {
	window := []domain.Message{
		msg(domain.RoleSystem, "old"),
		msg(domain.RoleUser, "u1"),
		msg(domain.RoleSystem, "stray"),
		msg(domain.RoleAssistant, "a1"),
	}

	got := ReplaceSystemPrompt(window, "new")

	assert.Equal(t, []domain.Message{
		msg(domain.RoleSystem, "new"),
		msg(domain.RoleUser, "u1"),
		msg(domain.RoleAssistant, "a1"),
	}, got)
	assert.Equal(t, "old", window[0].Content)
}

func TestReplaceSystemPromptEmptyWindow(t *testing.T) {
	got := ReplaceSystemPrompt(nil, "only")
	assert.Equal(t, []domain.Message{msg(domain.RoleSystem, "only")}, got)
}

func TestLastRole(t *testing.T) {
	assert.Equal(t, domain.Role(""), LastRole(nil))
	assert.Equal(t, domain.RoleAssistant, LastRole([]domain.Message{msg(domain.RoleUser, "u"), msg(domain.RoleAssistant, "a")}))
}
