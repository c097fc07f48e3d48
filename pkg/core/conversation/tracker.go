// Package conversation tracks what was said during a call: the
// transcript, a keyword-derived intent and sentiment, and entities the
// caller mentioned. The result is exported as contact attributes at
// call teardown.
package conversation

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Attribute value limits imposed by the contact-attribute store.
const (
	maxSummaryLen    = 256
	maxTranscriptLen = 1024
)

// Turn is one utterance in the conversation.
type Turn struct {
	Speaker   string // "user" or "assistant"
	Text      string
	Timestamp time.Time
}

// Tracker accumulates conversation data for one call. Safe for
// concurrent use: transcript fragments arrive from the event dispatch
// goroutine while attribute reads happen at teardown.
type Tracker struct {
	logger *slog.Logger

	mu        sync.Mutex
	turns     []Turn
	startTime time.Time
	intent    string
	sentiment string
	entities  map[string]string

	now func() time.Time
}

// NewTracker creates a tracker with the conversation clock started.
func NewTracker(logger *slog.Logger) *Tracker {
	return newTracker(logger, time.Now)
}

func newTracker(logger *slog.Logger, now func() time.Time) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		logger:    logger,
		startTime: now(),
		intent:    "unknown",
		sentiment: "neutral",
		entities:  make(map[string]string),
		now:       now,
	}
}

// AddUserTurn records caller speech and updates intent, sentiment, and
// entity extraction from it.
func (t *Tracker) AddUserTurn(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.turns = append(t.turns, Turn{Speaker: "user", Text: text, Timestamp: t.now()})
	t.analyzeLocked(text)
}

// AddAssistantTurn records model speech.
func (t *Tracker) AddAssistantTurn(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.turns = append(t.turns, Turn{Speaker: "assistant", Text: text, Timestamp: t.now()})
}

func (t *Tracker) analyzeLocked(text string) {
	if intent := detectIntent(text); intent != "unknown" {
		t.intent = intent
		t.logger.Info("detected intent", "intent", intent)
	}
	if sentiment := detectSentiment(text); sentiment != "neutral" {
		t.sentiment = sentiment
		t.logger.Info("detected sentiment", "sentiment", sentiment)
	}
	for key, value := range extractEntities(text) {
		t.entities[key] = value
	}
}

var intentPatterns = []struct {
	intent  string
	pattern *regexp.Regexp
}{
	{"billing_inquiry", regexp.MustCompile(`\b(bill|billing|payment|pay|invoice|charge|fee)\b`)},
	{"account_management", regexp.MustCompile(`\b(account|password|username|login|reset|update|change)\b`)},
	{"technical_support", regexp.MustCompile(`\b(problem|issue|error|not work|broken|fix|help|support)\b`)},
	{"order_status", regexp.MustCompile(`\b(order|shipping|delivery|track|package|receive)\b`)},
	{"cancellation_request", regexp.MustCompile(`\b(cancel|refund|return|money back)\b`)},
	{"general_inquiry", regexp.MustCompile(`\b(what|how|when|where|why|information|tell me|explain)\b`)},
	{"greeting", regexp.MustCompile(`\b(hello|hi|hey|good morning|good afternoon|good evening)\b`)},
	{"farewell", regexp.MustCompile(`\b(bye|goodbye|thank|thanks|have a good)\b`)},
}

func detectIntent(text string) string {
	lower := strings.ToLower(text)
	for _, entry := range intentPatterns {
		if entry.pattern.MatchString(lower) {
			return entry.intent
		}
	}
	return "unknown"
}

var negativeWords = []string{
	"angry", "frustrated", "upset", "disappointed", "terrible", "horrible",
	"awful", "bad", "worst", "hate", "annoying", "unacceptable", "useless",
}

var positiveWords = []string{
	"happy", "great", "excellent", "wonderful", "amazing", "love", "perfect",
	"good", "best", "thank", "thanks", "appreciate", "helpful",
}

func detectSentiment(text string) string {
	lower := strings.ToLower(text)
	negative := countMatches(lower, negativeWords)
	positive := countMatches(lower, positiveWords)

	switch {
	case negative > positive && negative >= 1:
		return "negative"
	case positive > negative && positive >= 1:
		return "positive"
	default:
		return "neutral"
	}
}

func countMatches(text string, words []string) int {
	count := 0
	for _, w := range words {
		if strings.Contains(text, w) {
			count++
		}
	}
	return count
}

var (
	phoneEntityPattern   = regexp.MustCompile(`\b\d{3}[-.]?\d{3}[-.]?\d{4}\b`)
	emailEntityPattern   = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	accountEntityPattern = regexp.MustCompile(`(?i)\baccount\s*(?:number|#)?\s*:?\s*(\d{6,12})\b`)
	orderEntityPattern   = regexp.MustCompile(`(?i)\border\s*(?:number|#)?\s*:?\s*([A-Z0-9]{6,15})\b`)
)

func extractEntities(text string) map[string]string {
	entities := make(map[string]string)
	if m := phoneEntityPattern.FindString(text); m != "" {
		entities["phone_number"] = m
	}
	if m := emailEntityPattern.FindString(text); m != "" {
		entities["email"] = m
	}
	if m := accountEntityPattern.FindStringSubmatch(text); m != nil {
		entities["account_number"] = m[1]
	}
	if m := orderEntityPattern.FindStringSubmatch(text); m != nil {
		entities["order_number"] = m[1]
	}
	return entities
}

// Transcript renders the full conversation, one line per turn.
func (t *Tracker) Transcript() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return renderTurns(t.turns)
}

// Summary renders at most maxTurns leading turns, noting how many were
// omitted.
func (t *Tracker) Summary(maxTurns int) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if maxTurns >= len(t.turns) {
		return renderTurns(t.turns)
	}
	var b strings.Builder
	b.WriteString(renderTurns(t.turns[:maxTurns]))
	fmt.Fprintf(&b, "... (%d more turns)\n", len(t.turns)-maxTurns)
	return b.String()
}

func renderTurns(turns []Turn) string {
	var b strings.Builder
	for _, turn := range turns {
		speaker := "Assistant"
		if turn.Speaker == "user" {
			speaker = "Customer"
		}
		b.WriteString(speaker)
		b.WriteString(": ")
		b.WriteString(turn.Text)
		b.WriteByte('\n')
	}
	return b.String()
}

// Intent returns the current detected intent.
func (t *Tracker) Intent() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.intent
}

// Sentiment returns the current detected sentiment.
func (t *Tracker) Sentiment() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sentiment
}

// Entities returns a copy of the extracted entities.
func (t *Tracker) Entities() map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]string, len(t.entities))
	for k, v := range t.entities {
		out[k] = v
	}
	return out
}

// TurnCount returns how many utterances were recorded.
func (t *Tracker) TurnCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.turns)
}

// Attributes exports the conversation as contact attributes, truncating
// values to the store's limits. All keys carry the Nova_ prefix.
func (t *Tracker) Attributes() map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()

	attrs := map[string]string{
		"Nova_ConversationStartTime": t.startTime.UTC().Format(time.RFC3339),
		"Nova_ConversationDuration":  fmt.Sprintf("%d", int(t.now().Sub(t.startTime).Seconds())),
		"Nova_TurnCount":             fmt.Sprintf("%d", len(t.turns)),
		"Nova_Intent":                t.intent,
		"Nova_Sentiment":             t.sentiment,
	}

	for key, value := range t.entities {
		attrs["Nova_Entity_"+key] = value
	}

	summary := t.summaryLocked(3)
	if len(summary) > maxSummaryLen {
		summary = summary[:maxSummaryLen-3] + "..."
	}
	attrs["Nova_ConversationSummary"] = summary

	transcript := renderTurns(t.turns)
	if len(transcript) <= maxTranscriptLen {
		attrs["Nova_Transcript"] = transcript
	} else {
		attrs["Nova_Transcript"] = "See CloudWatch Logs for full transcript"
		t.logger.Info("transcript exceeds attribute limit, see logs", "chars", len(transcript))
	}

	return attrs
}

func (t *Tracker) summaryLocked(maxTurns int) string {
	if maxTurns >= len(t.turns) {
		return renderTurns(t.turns)
	}
	var b strings.Builder
	b.WriteString(renderTurns(t.turns[:maxTurns]))
	fmt.Fprintf(&b, "... (%d more turns)\n", len(t.turns)-maxTurns)
	return b.String()
}
