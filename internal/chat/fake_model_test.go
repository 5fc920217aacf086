package chat

import (
	"context"
	"strings"
	"sync"

	"github.com/ashureev/heritage-guide/internal/clova"
	"github.com/ashureev/heritage-guide/internal/domain"
	"github.com/ashureev/heritage-guide/internal/prompt"
)

type fakeReply struct {
	text string
	err  error
}

// fakeModel answers from per-kind reply queues. The last reply of a queue
// repeats once the queue is drained.
type fakeModel struct {
	mu      sync.Mutex
	replies map[prompt.Kind][]fakeReply
	calls   map[prompt.Kind]int
	params  map[prompt.Kind]clova.SamplingParams
	chats   [][]domain.Message
	trim    func([]domain.Message) ([]domain.Message, error)
}

func newFakeModel() *fakeModel {
	return &fakeModel{
		replies: make(map[prompt.Kind][]fakeReply),
		calls:   make(map[prompt.Kind]int),
		params:  make(map[prompt.Kind]clova.SamplingParams),
	}
}

func (f *fakeModel) on(kind prompt.Kind, replies ...fakeReply) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[kind] = append(f.replies[kind], replies...)
}

func (f *fakeModel) callCount(kind prompt.Kind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[kind]
}

func (f *fakeModel) TrimWindow(_ context.Context, _ string, messages []domain.Message, _ int) ([]domain.Message, error) {
	if f.trim != nil {
		return f.trim(messages)
	}
	return append([]domain.Message(nil), messages...), nil
}

func (f *fakeModel) CompleteChat(_ context.Context, _ string, messages []domain.Message, params clova.SamplingParams) (string, error) {
	kind := classify(messages)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[kind]++
	f.params[kind] = params
	if kind == prompt.KindChat {
		f.chats = append(f.chats, append([]domain.Message(nil), messages...))
	}

	queue := f.replies[kind]
	if len(queue) == 0 {
		return "기본 응답", nil
	}
	r := queue[0]
	if len(queue) > 1 {
		f.replies[kind] = queue[1:]
	}
	return r.text, r.err
}

func classify(messages []domain.Message) prompt.Kind {
	last := messages[len(messages)-1].Content
	switch {
	case strings.Contains(last, "퀴즈를 생성"):
		return prompt.KindQuiz
	case strings.HasSuffix(last, "설명해주세요."):
		return prompt.KindInfo
	case strings.Contains(last, "흥미로운 추천 질문"):
		return prompt.KindRecommend
	case strings.HasPrefix(last, "이전 대화 내용"):
		return prompt.KindMessageQuestions
	case messages[0].Role == domain.RoleSystem && strings.Contains(messages[0].Content, "해시태그"):
		return prompt.KindSummary
	default:
		return prompt.KindChat
	}
}
