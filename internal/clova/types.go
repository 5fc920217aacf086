package clova

import "github.com/ashureev/heritage-guide/internal/domain"

// SamplingParams are the generation settings sent with a completion request.
type SamplingParams struct {
	MaxTokens        int      `json:"maxTokens" yaml:"max_tokens"`
	Temperature      float64  `json:"temperature" yaml:"temperature"`
	TopK             int      `json:"topK" yaml:"top_k"`
	TopP             float64  `json:"topP" yaml:"top_p"`
	RepeatPenalty    float64  `json:"repeatPenalty" yaml:"repeat_penalty"`
	StopBefore       []string `json:"stopBefore" yaml:"stop_before"`
	IncludeAIFilters bool     `json:"includeAiFilters" yaml:"include_ai_filters"`
	Seed             int      `json:"seed" yaml:"seed"`
}

type completionRequest struct {
	Messages []domain.Message `json:"messages"`
	SamplingParams
}

type completionResponse struct {
	Status *responseStatus `json:"status"`
	Result struct {
		Message *domain.Message `json:"message"`
	} `json:"result"`
	Choices []struct {
		Message domain.Message `json:"message"`
	} `json:"choices"`
}

type trimRequest struct {
	Messages  []domain.Message `json:"messages"`
	MaxTokens int              `json:"maxTokens"`
}

type trimResponse struct {
	Status *responseStatus `json:"status"`
	Result struct {
		Messages []domain.Message `json:"messages"`
	} `json:"result"`
}

type responseStatus struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Status *responseStatus `json:"status"`
}
