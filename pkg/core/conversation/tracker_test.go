package conversation

import (
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTranscriptOrderAndSpeakers(t *testing.T) {
	tr := NewTracker(testLogger())
	tr.AddUserTurn("Hello there")
	tr.AddAssistantTurn("Hi, how can I help?")
	tr.AddUserTurn("  ")

	got := tr.Transcript()
	want := "Customer: Hello there\nAssistant: Hi, how can I help?\n"
	if got != want {
		t.Fatalf("transcript = %q, want %q", got, want)
	}
	if tr.TurnCount() != 2 {
		t.Fatalf("turn count = %d, want 2 (blank turn dropped)", tr.TurnCount())
	}
}

func TestIntentDetection(t *testing.T) {
	cases := []struct {
		text, intent string
	}{
		{"I have a question about my bill", "billing_inquiry"},
		{"I need to reset my password", "account_management"},
		{"my phone is broken and nothing works", "technical_support"},
		{"where is my order", "order_status"},
		{"I want to cancel my subscription", "cancellation_request"},
		{"hello", "greeting"},
	}
	for _, tc := range cases {
		tr := NewTracker(testLogger())
		tr.AddUserTurn(tc.text)
		if got := tr.Intent(); got != tc.intent {
			t.Errorf("intent for %q = %q, want %q", tc.text, got, tc.intent)
		}
	}
}

func TestIntentSticksOnceDetected(t *testing.T) {
	tr := NewTracker(testLogger())
	tr.AddUserTurn("I want to cancel")
	tr.AddUserTurn("mmm hmm yes")
	if got := tr.Intent(); got != "cancellation_request" {
		t.Fatalf("intent = %q, want cancellation_request retained", got)
	}
}

func TestSentimentDetection(t *testing.T) {
	tr := NewTracker(testLogger())
	tr.AddUserTurn("this is terrible and I am frustrated")
	if got := tr.Sentiment(); got != "negative" {
		t.Fatalf("sentiment = %q, want negative", got)
	}

	tr2 := NewTracker(testLogger())
	tr2.AddUserTurn("that was great, thanks, very helpful")
	if got := tr2.Sentiment(); got != "positive" {
		t.Fatalf("sentiment = %q, want positive", got)
	}
}

func TestEntityExtraction(t *testing.T) {
	tr := NewTracker(testLogger())
	tr.AddUserTurn("my number is 443-538-3548 and my email is jo@example.com, account number 12345678")

	entities := tr.Entities()
	if entities["phone_number"] != "443-538-3548" {
		t.Errorf("phone_number = %q", entities["phone_number"])
	}
	if entities["email"] != "jo@example.com" {
		t.Errorf("email = %q", entities["email"])
	}
	if entities["account_number"] != "12345678" {
		t.Errorf("account_number = %q", entities["account_number"])
	}
}

func TestAttributesPrefixedAndTruncated(t *testing.T) {
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := fixed
	tr := newTracker(testLogger(), func() time.Time { return clock })

	long := strings.Repeat("blah ", 100)
	for i := 0; i < 10; i++ {
		tr.AddUserTurn(long)
	}
	clock = fixed.Add(45 * time.Second)

	attrs := tr.Attributes()

	for key := range attrs {
		if !strings.HasPrefix(key, "Nova_") {
			t.Errorf("attribute %q missing Nova_ prefix", key)
		}
	}
	if attrs["Nova_ConversationDuration"] != "45" {
		t.Errorf("duration = %q, want 45", attrs["Nova_ConversationDuration"])
	}
	if attrs["Nova_TurnCount"] != "10" {
		t.Errorf("turn count = %q, want 10", attrs["Nova_TurnCount"])
	}
	if len(attrs["Nova_ConversationSummary"]) > 256 {
		t.Errorf("summary length %d exceeds 256", len(attrs["Nova_ConversationSummary"]))
	}
	if !strings.HasSuffix(attrs["Nova_ConversationSummary"], "...") {
		t.Error("truncated summary should end with ellipsis")
	}
	if attrs["Nova_Transcript"] != "See CloudWatch Logs for full transcript" {
		t.Errorf("oversized transcript not redirected: %q", attrs["Nova_Transcript"])
	}
}

func TestAttributesShortTranscriptInline(t *testing.T) {
	tr := NewTracker(testLogger())
	tr.AddUserTurn("hi")
	tr.AddAssistantTurn("hello")

	attrs := tr.Attributes()
	if !strings.Contains(attrs["Nova_Transcript"], "Customer: hi") {
		t.Errorf("transcript not inlined: %q", attrs["Nova_Transcript"])
	}
}

func TestSummaryOmissionNote(t *testing.T) {
	tr := NewTracker(testLogger())
	for i := 0; i < 5; i++ {
		tr.AddUserTurn("turn")
	}
	summary := tr.Summary(3)
	if !strings.Contains(summary, "(2 more turns)") {
		t.Fatalf("summary = %q, want omission note", summary)
	}
}
