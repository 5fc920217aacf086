package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashureev/heritage-guide/internal/clova"
	"github.com/ashureev/heritage-guide/internal/conversation"
	"github.com/ashureev/heritage-guide/internal/domain"
	"github.com/ashureev/heritage-guide/internal/prompt"
	"github.com/google/uuid"
)

// Model is the remote completion service.
type Model interface {
	TrimWindow(ctx context.Context, requestID string, messages []domain.Message, maxTokens int) ([]domain.Message, error)
	CompleteChat(ctx context.Context, requestID string, messages []domain.Message, params clova.SamplingParams) (string, error)
}

// Request describes one model invocation.
type Request struct {
	Kind         prompt.Kind
	SessionID    int64
	HeritageName string
	// Subject is the building name, course or previous reply the request is about.
	Subject string
	// Window is the sliding window including the new user turn. KindChat only.
	Window []domain.Message
}

// Result is the outcome of a model invocation.
type Result struct {
	Text string
	// Window is the remotely trimmed window the reply answers, without the reply itself. KindChat only.
	Window []domain.Message
}

// dispatcher routes every model request through one entry point.
type dispatcher struct {
	model           Model
	prompts         *prompt.Set
	windowMaxTokens int
	logger          *slog.Logger
}

// Invoke runs req against the model.
func (d *dispatcher) Invoke(ctx context.Context, req Request) (*Result, error) {
	switch req.Kind {
	case prompt.KindChat:
		return d.converse(ctx, req)
	case prompt.KindInfo, prompt.KindQuiz, prompt.KindRecommend, prompt.KindSummary, prompt.KindMessageQuestions:
		return d.oneShot(ctx, req)
	default:
		return nil, fmt.Errorf("unknown request kind %q", req.Kind)
	}
}

// Complete runs a one-shot request and returns the reply text.
func (d *dispatcher) Complete(ctx context.Context, sessionID int64, kind prompt.Kind, heritageName, subject string) (string, error) {
	res, err := d.Invoke(ctx, Request{Kind: kind, SessionID: sessionID, HeritageName: heritageName, Subject: subject})
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

func (d *dispatcher) converse(ctx context.Context, req Request) (*Result, error) {
	requestID := uuid.NewString()
	system := d.prompts.ChatSystemPrompt(req.HeritageName)

	window := conversation.ReplaceSystemPrompt(req.Window, system)
	trimmed, err := d.model.TrimWindow(ctx, requestID, window, d.windowMaxTokens)
	if err != nil {
		return nil, err
	}
	trimmed = conversation.ReplaceSystemPrompt(trimmed, system)

	var text string
	if conversation.LastRole(trimmed) == domain.RoleAssistant {
		// The trimming tool already produced the reply.
		text = trimmed[len(trimmed)-1].Content
		trimmed = trimmed[:len(trimmed)-1]
		d.logger.Debug("Reusing assistant reply from trimmed window", "session_id", req.SessionID, "request_id", requestID)
	} else {
		text, err = d.model.CompleteChat(ctx, requestID, trimmed, d.prompts.Sampling(prompt.KindChat))
		if err != nil {
			return nil, err
		}
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, domain.ErrInvalidModelReply
	}
	return &Result{Text: text, Window: trimmed}, nil
}

func (d *dispatcher) oneShot(ctx context.Context, req Request) (*Result, error) {
	messages, err := d.prompts.Messages(req.Kind, req.HeritageName, req.Subject)
	if err != nil {
		return nil, err
	}

	requestID := uuid.NewString()
	text, err := d.model.CompleteChat(ctx, requestID, messages, d.prompts.Sampling(req.Kind))
	if err != nil {
		return nil, err
	}
	d.logger.Debug("Model request completed",
		"kind", req.Kind,
		"session_id", req.SessionID,
		"request_id", requestID,
		"reply_length", len(text),
	)

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, domain.ErrInvalidModelReply
	}
	return &Result{Text: text}, nil
}
