// Package quiz turns free-form model output into a structured multiple-choice question.
package quiz

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/ashureev/heritage-guide/internal/domain"
)

// MaxOptions is the largest number of choices kept from a reply.
const MaxOptions = 5

var (
	optionPattern         = regexp.MustCompile(`^\d+번\.\s*(.+)$`)
	answerPattern         = regexp.MustCompile(`정답\s*:?\s*(\d+)(번)?`)
	answerFallbackPattern = regexp.MustCompile(`(?s)정답.*?(\d+)`)
	explanationPattern    = regexp.MustCompile(`(?s)해설\s*:?\s*(.+)$`)
)

// Parsed is a quiz extracted from model output.
type Parsed struct {
	Question    string
	Options     []string
	Answer      string
	Explanation string
}

// Parse extracts a quiz from text. Text is expected to hold the question on
// its first line, "N번." options, a "정답" line and a "해설" section.
func Parse(text string) (*Parsed, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, parseErr("empty reply")
	}
	lines := strings.Split(text, "\n")

	q := &Parsed{Question: strings.TrimSpace(lines[0])}

	for _, line := range lines[1:] {
		if len(q.Options) == MaxOptions {
			break
		}
		if m := optionPattern.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			q.Options = append(q.Options, strings.TrimSpace(m[1]))
		}
	}
	if len(q.Options) < 2 {
		return nil, parseErr("fewer than 2 options")
	}

	if m := answerPattern.FindStringSubmatch(text); m != nil {
		q.Answer = m[1]
	} else if m := answerFallbackPattern.FindStringSubmatch(text); m != nil {
		q.Answer = m[1]
	} else {
		return nil, parseErr("answer not found")
	}
	n, err := strconv.Atoi(q.Answer)
	if err != nil {
		return nil, parseErr("answer is not a number")
	}
	if n > len(q.Options) {
		return nil, parseErr("answer " + q.Answer + " exceeds option count " + strconv.Itoa(len(q.Options)))
	}

	if m := explanationPattern.FindStringSubmatch(text); m != nil {
		q.Explanation = strings.TrimSpace(m[1])
	} else if parts := strings.SplitN(text, "설명", 2); len(parts) == 2 {
		q.Explanation = strings.TrimSpace(parts[1])
	}

	switch {
	case q.Question == "":
		return nil, parseErr("question is empty")
	case q.Explanation == "":
		return nil, parseErr("explanation not found")
	}
	return q, nil
}

// Validate reports whether q is complete enough to be shown to a user.
func Validate(q *Parsed) error {
	switch {
	case q == nil:
		return parseErr("no quiz")
	case strings.TrimSpace(q.Question) == "":
		return parseErr("question is empty")
	case len(q.Options) < 2:
		return parseErr("fewer than 2 options")
	case !isDigits(q.Answer):
		return parseErr("answer is not a number")
	case strings.TrimSpace(q.Explanation) == "":
		return parseErr("explanation is empty")
	}
	return nil
}

// AnswerNumber returns the 1-based answer index.
func (q *Parsed) AnswerNumber() int {
	n, _ := strconv.Atoi(q.Answer)
	return n
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func parseErr(reason string) error {
	return &domain.QuizParsingError{Reason: reason}
}
