package summary

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ashureev/heritage-guide/internal/domain"
	"github.com/ashureev/heritage-guide/internal/prompt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractHashtags(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{name: "space separated", text: "#경복궁 #조선시대 #근정전", want: []string{"#경복궁", "#근정전", "#조선시대"}},
		{name: "duplicates collapse", text: "#경회루 #경회루\n#향원정", want: []string{"#경회루", "#향원정"}},
		{name: "space after hash", text: "# 광화문", want: []string{"#광화문"}},
		{name: "inner whitespace removed", text: "#조선 왕조\n#궁궐", want: []string{"#궁궐", "#조선왕조"}},
		{name: "tag runs to next hash", text: "관람 후기: #경복궁 방문, 정말 #조선시대 의 정취", want: []string{"#경복궁방문,정말", "#조선시대의정취"}},
		{name: "no tags", text: "해시태그가 없습니다", want: []string{}},
		{name: "bare hashes", text: "## #", want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractHashtags(tt.text))
		})
	}
}

func TestCourse(t *testing.T) {
	visited := []domain.VisitedBuilding{
		{Name: "광화문", Visited: true},
		{Name: "흥례문", Visited: false},
		{Name: "근정전", Visited: true},
	}
	assert.Equal(t, "광화문->근정전", Course(visited))
	assert.Equal(t, "", Course(nil))
}

type stubCompleter struct {
	kind    prompt.Kind
	subject string
	reply   string
	err     error
}

func (s *stubCompleter) Complete(_ context.Context, _ int64, kind prompt.Kind, _, subject string) (string, error) {
	s.kind = kind
	s.subject = subject
	return s.reply, s.err
}

type recordingStore struct {
	sessionID int64
	keywords  []string
	visited   []domain.VisitedBuilding
	at        time.Time
	err       error
}

func (r *recordingStore) SaveSummary(_ context.Context, sessionID int64, keywords []string, visited []domain.VisitedBuilding, at time.Time) error {
	r.sessionID = sessionID
	r.keywords = keywords
	r.visited = visited
	r.at = at
	return r.err
}

func TestGenerateAndPersist(t *testing.T) {
	model := &stubCompleter{reply: "#경복궁 #근정전 #경복궁"}
	store := &recordingStore{}
	gen := NewGenerator(model, store, nil)
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	gen.now = func() time.Time { return fixed }

	visited := []domain.VisitedBuilding{{Name: "광화문", Visited: true}, {Name: "근정전", Visited: true}}
	keywords, err := gen.GenerateAndPersist(context.Background(), 7, "경복궁", visited)

	require.NoError(t, err)
	assert.Equal(t, prompt.KindSummary, model.kind)
	assert.Equal(t, "광화문->근정전", model.subject)
	assert.Equal(t, []string{"#경복궁", "#근정전"}, keywords)
	assert.Equal(t, int64(7), store.sessionID)
	assert.Equal(t, keywords, store.keywords)
	assert.Equal(t, visited, store.visited)
	assert.Equal(t, fixed, store.at)
}

func TestGenerateAndPersistEmptyCourse(t *testing.T) {
	model := &stubCompleter{reply: "#unused"}
	store := &recordingStore{}
	gen := NewGenerator(model, store, nil)

	visited := []domain.VisitedBuilding{{Name: "광화문", Visited: false}}
	keywords, err := gen.GenerateAndPersist(context.Background(), 3, "경복궁", visited)

	require.NoError(t, err)
	assert.Empty(t, model.kind, "model must not be called")
	assert.NotNil(t, keywords)
	assert.Empty(t, keywords)
	assert.Equal(t, int64(3), store.sessionID)
	assert.Equal(t, visited, store.visited)
	assert.False(t, store.at.IsZero())
}

func TestGenerateAndPersistModelFailure(t *testing.T) {
	apiErr := &domain.APICallError{API: "chat-completion", StatusCode: 500, Message: "boom"}
	store := &recordingStore{}
	gen := NewGenerator(&stubCompleter{err: apiErr}, store, nil)

	_, err := gen.GenerateAndPersist(context.Background(), 1, "경복궁", nil)

	require.Error(t, err)
	assert.True(t, errors.As(err, new(*domain.APICallError)))
	assert.Zero(t, store.sessionID, "nothing persisted")
}

func TestGenerateAndPersistStoreFailure(t *testing.T) {
	gen := NewGenerator(&stubCompleter{reply: "#a"}, &recordingStore{err: errors.New("disk full")}, nil)

	_, err := gen.GenerateAndPersist(context.Background(), 1, "경복궁", nil)
	assert.ErrorContains(t, err, "save summary")
}
