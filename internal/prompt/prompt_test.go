package prompt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ashureev/heritage-guide/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultDefinesEveryKind(t *testing.T) {
	set, err := Default()
	require.NoError(t, err)

	for _, kind := range Kinds {
		assert.Positive(t, set.Sampling(kind).MaxTokens, "kind %s", kind)
	}
	assert.Equal(t, 400, set.Sampling(KindChat).MaxTokens)
	assert.InDelta(t, 1.2, set.Sampling(KindChat).RepeatPenalty, 1e-9)
	assert.Equal(t, 256, set.Sampling(KindQuiz).MaxTokens)
	assert.InDelta(t, 8, set.Sampling(KindSummary).RepeatPenalty, 1e-9)
	assert.True(t, set.Sampling(KindInfo).IncludeAIFilters)
}

func TestChatSystemPromptNamesHeritage(t *testing.T) {
	set, err := Default()
	require.NoError(t, err)

	got := set.ChatSystemPrompt("경복궁")
	assert.Contains(t, got, "경복궁")
	assert.NotContains(t, got, "{heritage}")
}

func TestMessagesRendersSubject(t *testing.T) {
	set, err := Default()
	require.NoError(t, err)

	msgs, err := set.Messages(KindQuiz, "경복궁", "근정전")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.RoleSystem, msgs[0].Role)
	assert.Equal(t, domain.RoleUser, msgs[1].Role)
	assert.Equal(t, "근정전에 대한 퀴즈를 생성해주세요.", msgs[1].Content)

	msgs, err = set.Messages(KindMessageQuestions, "", "근정전은 정전입니다.")
	require.NoError(t, err)
	assert.Equal(t, "이전 대화 내용: 근정전은 정전입니다.\n해당 내용에 대한 추천 질문 3개를 생성해주세요.", msgs[1].Content)
}

func TestMessagesRejectsChatKind(t *testing.T) {
	set, err := Default()
	require.NoError(t, err)

	_, err = set.Messages(KindChat, "경복궁", "")
	assert.Error(t, err)
}

func TestParseRejectsIncompleteSet(t *testing.T) {
	_, err := Parse([]byte("chat:\n  system: hi\n  sampling:\n    max_tokens: 10\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing prompt")
}

func TestLoadOverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	override := strings.Join([]string{
		"info:",
		"  system: 짧게 설명하세요.",
		"  user: \"{subject} 소개\"",
		"  sampling:",
		"    max_tokens: 128",
		"    temperature: 0.2",
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(override), 0o600))

	set, err := Load(path)
	require.NoError(t, err)

	msgs, err := set.Messages(KindInfo, "", "향원정")
	require.NoError(t, err)
	assert.Equal(t, "향원정 소개", msgs[1].Content)
	assert.Equal(t, 128, set.Sampling(KindInfo).MaxTokens)
	assert.Equal(t, 256, set.Sampling(KindQuiz).MaxTokens)
}

func TestLoadUnknownKind(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("poem:\n  system: x\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadEmptyPath(t *testing.T) {
	set, err := Load("")
	require.NoError(t, err)
	assert.NotNil(t, set)
}
