package history

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/a9lim/shannon/internal/provider"
)

// fakeLLM returns a canned summary and counts calls.
type fakeLLM struct {
	summary string
	calls   int
	fail    bool
}

func (f *fakeLLM) Complete(ctx context.Context, req *provider.CompletionRequest) (*provider.CompletionResponse, error) {
	f.calls++
	if f.fail {
		return nil, context.DeadlineExceeded
	}
	return &provider.CompletionResponse{Content: f.summary, StopReason: provider.StopEndTurn}, nil
}

func (f *fakeLLM) Stream(ctx context.Context, req *provider.CompletionRequest, fn func(string)) error {
	return nil
}

func (f *fakeLLM) CountTokens(text string) int { return len(text) / 4 }
func (f *fakeLLM) Close() error                { return nil }

func newTestStore(t *testing.T, llm provider.LLMProvider) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "context.db"), llm)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendAndOrder(t *testing.T) {
	s := newTestStore(t, &fakeLLM{})

	_ = s.Append("discord", "ch1", "user", "first")
	_ = s.Append("discord", "ch1", "assistant", "second")
	_ = s.Append("discord", "ch2", "user", "other channel")

	msgs, err := s.Context("discord", "ch1")
	if err != nil {
		t.Fatalf("Context: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	if msgs[0].Content != "first" || msgs[1].Content != "second" {
		t.Errorf("order broken: %q, %q", msgs[0].Content, msgs[1].Content)
	}
	if msgs[0].TokenEstimate == 0 {
		t.Error("token estimate not recorded")
	}
}

func TestClear(t *testing.T) {
	s := newTestStore(t, &fakeLLM{})
	_ = s.Append("discord", "ch1", "user", "a")
	_ = s.Append("discord", "ch1", "user", "b")

	count, err := s.Clear("discord", "ch1")
	if err != nil || count != 2 {
		t.Fatalf("Clear = (%d, %v), want (2, nil)", count, err)
	}
	msgs, _ := s.Context("discord", "ch1")
	if len(msgs) != 0 {
		t.Errorf("messages after clear = %d", len(msgs))
	}
}

func TestStats(t *testing.T) {
	s := newTestStore(t, &fakeLLM{})
	_ = s.Append("discord", "ch1", "user", "hello world")

	st, err := s.Stats("discord", "ch1")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.MessageCount != 1 || st.TotalChars != len("hello world") {
		t.Errorf("stats = %+v", st)
	}
}

func TestSummarizeReplacesOldestHalf(t *testing.T) {
	llm := &fakeLLM{summary: "They talked about the weather."}
	s := newTestStore(t, llm)

	for i := 0; i < 50; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		_ = s.Append("discord", "ch1", role, strings.Repeat("x", 10)+string(rune('a'+i%26)))
	}
	before, _ := s.Context("discord", "ch1")

	summary, err := s.Summarize(context.Background(), "discord", "ch1")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if summary != "They talked about the weather." {
		t.Errorf("summary = %q", summary)
	}

	after, _ := s.Context("discord", "ch1")
	if len(after) != 26 {
		t.Fatalf("messages after = %d, want 26 (25 recent + 1 summary)", len(after))
	}
	if after[0].Role != "system" || !strings.Contains(after[0].Content, "They talked about the weather.") {
		t.Errorf("first row = %+v, want system summary", after[0])
	}
	// The preserved suffix is bit-identical to the pre-summarize tail.
	for i := 0; i < 25; i++ {
		if after[1+i].Content != before[25+i].Content || after[1+i].ID != before[25+i].ID {
			t.Fatalf("preserved row %d mutated", i)
		}
	}
	if len(after) > len(before) {
		t.Error("summarization grew the context")
	}
}

func TestSummarizeSmallContextNoOp(t *testing.T) {
	llm := &fakeLLM{summary: "unused"}
	s := newTestStore(t, llm)
	_ = s.Append("discord", "ch1", "user", "hi")
	_ = s.Append("discord", "ch1", "assistant", "hello")

	summary, err := s.Summarize(context.Background(), "discord", "ch1")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if summary != "" {
		t.Errorf("summary = %q, want empty (no-op)", summary)
	}
	if llm.calls != 0 {
		t.Errorf("LLM calls = %d, want 0", llm.calls)
	}

	msgs, _ := s.Context("discord", "ch1")
	if len(msgs) != 2 {
		t.Errorf("messages = %d, want 2 untouched", len(msgs))
	}
}

func TestSummarizeIdempotentOnSummarized(t *testing.T) {
	llm := &fakeLLM{summary: "short"}
	s := newTestStore(t, llm)
	for i := 0; i < 6; i++ {
		_ = s.Append("discord", "ch1", "user", "msg")
	}
	if _, err := s.Summarize(context.Background(), "discord", "ch1"); err != nil {
		t.Fatal(err)
	}
	// 3 user rows + 1 system row remain; a second pass is a no-op.
	if summary, err := s.Summarize(context.Background(), "discord", "ch1"); err != nil || summary != "" {
		t.Fatalf("second Summarize = (%q, %v), want no-op", summary, err)
	}
}

func TestSummarizeFailureLeavesLogIntact(t *testing.T) {
	llm := &fakeLLM{fail: true}
	s := newTestStore(t, llm)
	for i := 0; i < 10; i++ {
		_ = s.Append("discord", "ch1", "user", "msg")
	}

	if _, err := s.Summarize(context.Background(), "discord", "ch1"); err == nil {
		t.Fatal("expected an error")
	}
	msgs, _ := s.Context("discord", "ch1")
	if len(msgs) != 10 {
		t.Errorf("messages = %d, want 10 untouched", len(msgs))
	}
}

func TestSummarizeSkipsSystemRows(t *testing.T) {
	llm := &fakeLLM{summary: "s"}
	s := newTestStore(t, llm)
	_ = s.Append("discord", "ch1", "system", "[Previous conversation summary: old]")
	for i := 0; i < 8; i++ {
		_ = s.Append("discord", "ch1", "user", "msg")
	}

	if _, err := s.Summarize(context.Background(), "discord", "ch1"); err != nil {
		t.Fatal(err)
	}
	msgs, _ := s.Context("discord", "ch1")
	// 8 non-system rows: oldest 4 replaced by 1 summary; old system row kept.
	if len(msgs) != 6 {
		t.Fatalf("messages = %d, want 6", len(msgs))
	}
	if msgs[0].Content != "[Previous conversation summary: old]" {
		t.Errorf("pre-existing system row not preserved in place: %+v", msgs[0])
	}
}
