package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"session not found", ErrSessionNotFound, KindNotFound},
		{"wrapped summary not found", fmt.Errorf("get: %w", ErrSummaryNotFound), KindNotFound},
		{"quota", ErrNoQuizAvailable, KindQuotaExhausted},
		{"ended session", ErrSessionEnded, KindValidation},
		{"empty message", ErrEmptyMessage, KindValidation},
		{"wrong heritage", ErrInvalidAssociation, KindValidation},
		{"quiz generation", fmt.Errorf("%w: 3 attempts", ErrQuizGeneration), KindInternal},
		{"empty reply", ErrInvalidModelReply, KindExternalAPI},
		{"api error", &APICallError{API: "chat completion", StatusCode: 401, Message: "unauthorized"}, KindExternalAPI},
		{"parse error", &QuizParsingError{Reason: "no answer"}, KindParsing},
		{"persistence", Persistence("insert", errors.New("disk")), KindPersistence},
		{"service wrapping api error", &ServiceError{Op: "x", Err: &APICallError{StatusCode: 500}}, KindExternalAPI},
		{"plain", errors.New("boom"), KindInternal},
		{"nil", nil, KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestIsClassified(t *testing.T) {
	assert.False(t, IsClassified(nil))
	assert.False(t, IsClassified(errors.New("boom")))
	assert.False(t, IsClassified(context.Canceled))
	assert.True(t, IsClassified(ErrSessionNotFound))
	assert.True(t, IsClassified(fmt.Errorf("%w: gave up", ErrQuizGeneration)))
	assert.True(t, IsClassified(&ServiceError{Op: "op", Err: errors.New("boom")}))
}

func TestPersistence(t *testing.T) {
	assert.NoError(t, Persistence("op", nil))

	cause := errors.New("database is locked")
	err := Persistence("update session", cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "store update session: database is locked", err.Error())
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "not_found", KindNotFound.String())
	assert.Equal(t, "quota_exhausted", KindQuotaExhausted.String())
	assert.Equal(t, "internal", Kind(99).String())
}
