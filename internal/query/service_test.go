package query

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/docquery/internal/model"
	"github.com/hitoshi/docquery/internal/quota"
	"github.com/hitoshi/docquery/internal/repository"
)

// --- モック定義 ---

type mockGenerator struct {
	generateFn func(ctx context.Context, prompt string) (string, error)
	calls      int
	lastPrompt string
}

func (m *mockGenerator) GenerateContent(ctx context.Context, prompt string) (string, error) {
	m.calls++
	m.lastPrompt = prompt
	if m.generateFn != nil {
		return m.generateFn(ctx, prompt)
	}
	return "an answer", nil
}

// fakeCounter はusersテーブルの条件付きUPDATEと同じ規則でメモリ上の回数を進める。
type fakeCounter struct {
	mu        sync.Mutex
	count     int
	lastReset time.Time
	calls     int
	err       error
}

func (f *fakeCounter) IncrementDailyCount(_ context.Context, _ string, w repository.UsageWindow, limit int) (int, time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return 0, time.Time{}, f.err
	}
	inWindow := !f.lastReset.Before(w.Start) && f.lastReset.Before(w.End)
	if !inWindow {
		f.count = 1
		f.lastReset = w.Now
		return f.count, f.lastReset, nil
	}
	if f.count >= limit {
		return 0, time.Time{}, repository.ErrQuotaExhausted
	}
	f.count++
	return f.count, f.lastReset, nil
}

var fixedNow = time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)

func newTestService(gen AnswerGenerator, counter UsageCounter) *Service {
	s := NewService(gen, counter, quota.NewTracker(time.UTC), 0, nil, nil)
	s.now = func() time.Time { return fixedNow }
	return s
}

func assertDailyLimit(t *testing.T, err error, limit int, plan model.Plan) {
	t.Helper()
	var limitErr *model.DailyLimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("expected *model.DailyLimitError, got %v", err)
	}
	if limitErr.DailyLimit != limit || limitErr.Plan != plan {
		t.Errorf("got limit=%d plan=%q, want %d/%q", limitErr.DailyLimit, limitErr.Plan, limit, plan)
	}
}

// --- Ask ---

func TestAsk_Success_IncrementsAndReturnsUsage(t *testing.T) {
	gen := &mockGenerator{}
	counter := &fakeCounter{count: 3, lastReset: fixedNow.Add(-time.Hour)}
	user := &model.User{ID: "u1", Plan: model.PlanFree, DailyCount: 3, LastResetDate: fixedNow.Add(-time.Hour)}

	ans, err := newTestService(gen, counter).Ask(context.Background(), user, "doc text", "what?")
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}
	if ans.Text != "an answer" {
		t.Errorf("Text = %q", ans.Text)
	}
	u := ans.Usage
	if u.UsedToday != 4 || u.Remaining != 6 || u.DailyLimit != 10 || u.Plan != model.PlanFree {
		t.Errorf("unexpected usage: %+v", u)
	}
	if counter.calls != 1 {
		t.Errorf("counter calls = %d, want 1", counter.calls)
	}
}

func TestAsk_FreePlan11thQuery_RejectedWithoutUpstreamCall(t *testing.T) {
	gen := &mockGenerator{}
	counter := &fakeCounter{count: 10, lastReset: fixedNow.Add(-time.Hour)}
	user := &model.User{ID: "u1", Plan: model.PlanFree, DailyCount: 10, LastResetDate: fixedNow.Add(-time.Hour)}

	_, err := newTestService(gen, counter).Ask(context.Background(), user, "doc", "q")
	assertDailyLimit(t, err, 10, model.PlanFree)

	if gen.calls != 0 {
		t.Errorf("upstream should not be called, calls = %d", gen.calls)
	}
	if counter.calls != 0 || counter.count != 10 {
		t.Errorf("count must stay 10 without writes, got count=%d calls=%d", counter.count, counter.calls)
	}
}

func TestAsk_YesterdayAtLimit_FirstQueryTodaySucceeds(t *testing.T) {
	yesterday := fixedNow.AddDate(0, 0, -1)
	counter := &fakeCounter{count: 10, lastReset: yesterday}
	user := &model.User{ID: "u1", Plan: model.PlanFree, DailyCount: 10, LastResetDate: yesterday}

	ans, err := newTestService(&mockGenerator{}, counter).Ask(context.Background(), user, "doc", "q")
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}
	if ans.Usage.UsedToday != 1 || counter.count != 1 {
		t.Errorf("count should restart at 1, usage=%+v stored=%d", ans.Usage, counter.count)
	}
	if !ans.Usage.ResetAt.Equal(fixedNow) || !counter.lastReset.Equal(fixedNow) {
		t.Errorf("reset date should be today, got %v / %v", ans.Usage.ResetAt, counter.lastReset)
	}
}

func TestAsk_PremiumPlusNeverRejectedAndPersistsNothing(t *testing.T) {
	counter := &fakeCounter{}
	user := &model.User{ID: "u1", Plan: model.PlanPremiumPlus, DailyCount: 5000, LastResetDate: fixedNow}

	ans, err := newTestService(&mockGenerator{}, counter).Ask(context.Background(), user, "doc", "q")
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}
	if !ans.Usage.Unlimited || ans.Usage.Plan != model.PlanPremiumPlus {
		t.Errorf("unexpected usage: %+v", ans.Usage)
	}
	if counter.calls != 0 {
		t.Errorf("premiumPlus should not write usage, calls = %d", counter.calls)
	}
}

func TestAsk_ConcurrentRequestTookLastSlot_AnswerDiscarded(t *testing.T) {
	gen := &mockGenerator{}
	// 読み込み時点では9回だが、書き込み時点では別リクエストが10回目を消費済み
	counter := &fakeCounter{count: 10, lastReset: fixedNow.Add(-time.Hour)}
	user := &model.User{ID: "u1", Plan: model.PlanFree, DailyCount: 9, LastResetDate: fixedNow.Add(-time.Hour)}

	ans, err := newTestService(gen, counter).Ask(context.Background(), user, "doc", "q")
	assertDailyLimit(t, err, 10, model.PlanFree)
	if ans != nil {
		t.Errorf("answer should be discarded, got %+v", ans)
	}
	if gen.calls != 1 {
		t.Errorf("upstream calls = %d, want 1", gen.calls)
	}
	if counter.count != 10 {
		t.Errorf("count = %d, want 10", counter.count)
	}
}

func TestAsk_UpstreamError_NoQuotaMutation(t *testing.T) {
	gen := &mockGenerator{
		generateFn: func(_ context.Context, _ string) (string, error) {
			return "", errors.New("503 from upstream")
		},
	}
	counter := &fakeCounter{count: 2, lastReset: fixedNow}
	user := &model.User{ID: "u1", Plan: model.PlanFree, DailyCount: 2, LastResetDate: fixedNow}

	_, err := newTestService(gen, counter).Ask(context.Background(), user, "doc", "q")

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeUpstreamUnavailable {
		t.Fatalf("expected UPSTREAM_UNAVAILABLE, got %v", err)
	}
	if counter.calls != 0 || counter.count != 2 {
		t.Errorf("usage must not change on upstream failure, count=%d calls=%d", counter.count, counter.calls)
	}
}

func TestAsk_EmptyAnswer_UsesFallback(t *testing.T) {
	gen := &mockGenerator{
		generateFn: func(_ context.Context, _ string) (string, error) { return "  \n", nil },
	}
	user := &model.User{ID: "u1", Plan: model.PlanPremium, LastResetDate: fixedNow}

	ans, err := newTestService(gen, &fakeCounter{lastReset: fixedNow}).Ask(context.Background(), user, "doc", "q")
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}
	if ans.Text != NoResponseAnswer {
		t.Errorf("Text = %q, want %q", ans.Text, NoResponseAnswer)
	}
	if ans.Usage.DailyLimit != 50 {
		t.Errorf("DailyLimit = %d, want 50", ans.Usage.DailyLimit)
	}
}

func TestAsk_MissingFields(t *testing.T) {
	gen := &mockGenerator{}
	svc := newTestService(gen, &fakeCounter{})
	user := &model.User{ID: "u1", Plan: model.PlanFree, LastResetDate: fixedNow}

	for _, tc := range []struct{ doc, q string }{{"", "q"}, {"doc", ""}, {"  ", "q"}} {
		_, err := svc.Ask(context.Background(), user, tc.doc, tc.q)
		var apiErr *model.APIError
		if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeMissingFields {
			t.Errorf("Ask(%q, %q): expected MISSING_FIELDS, got %v", tc.doc, tc.q, err)
		}
	}
	if gen.calls != 0 {
		t.Errorf("upstream should not be called, calls = %d", gen.calls)
	}
}

func TestAsk_CounterError_IsWrapped(t *testing.T) {
	dbErr := errors.New("db down")
	user := &model.User{ID: "u1", Plan: model.PlanFree, LastResetDate: fixedNow}

	_, err := newTestService(&mockGenerator{}, &fakeCounter{err: dbErr}).Ask(context.Background(), user, "doc", "q")
	if !errors.Is(err, dbErr) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestAsk_TruncatesDocumentInPrompt(t *testing.T) {
	gen := &mockGenerator{}
	svc := newTestService(gen, &fakeCounter{lastReset: fixedNow})
	svc.maxChars = 5
	user := &model.User{ID: "u1", Plan: model.PlanFree, LastResetDate: fixedNow}

	if _, err := svc.Ask(context.Background(), user, "abcdefghij", "q"); err != nil {
		t.Fatalf("Ask failed: %v", err)
	}
	if !strings.Contains(gen.lastPrompt, "\"\"\"\nabcde\n\"\"\"") {
		t.Errorf("prompt should contain truncated document, got:\n%s", gen.lastPrompt)
	}
	if strings.Contains(gen.lastPrompt, "abcdef") {
		t.Error("prompt should not contain text beyond the limit")
	}
}

func TestAsk_EmptyPlanTreatedAsFree(t *testing.T) {
	user := &model.User{ID: "u1", DailyCount: 10, LastResetDate: fixedNow}

	_, err := newTestService(&mockGenerator{}, &fakeCounter{}).Ask(context.Background(), user, "doc", "q")
	assertDailyLimit(t, err, 10, model.PlanFree)
}

// --- Truncate / BuildPrompt ---

func TestTruncate_CountsRunes(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello", 3, "hel"},
		{"日本語テキスト", 3, "日本語"},
		{"abc", 0, "abc"},
	}
	for _, tt := range tests {
		if got := Truncate(tt.in, tt.max); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}

func TestBuildPrompt_Format(t *testing.T) {
	got := BuildPrompt("DOC", "Why?")
	want := "You are an assistant answering questions about a PDF document.\n" +
		"Here is the document content:\n" +
		"\"\"\"\n" +
		"DOC\n" +
		"\"\"\"\n" +
		"Question: Why?\n" +
		"Answer:"
	if got != want {
		t.Errorf("BuildPrompt mismatch:\n got: %q\nwant: %q", got, want)
	}
}
