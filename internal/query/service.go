// Package query はPDF本文に対する質問をGeminiに中継し、1日の利用回数を管理する。
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/docquery/internal/metrics"
	"github.com/hitoshi/docquery/internal/model"
	"github.com/hitoshi/docquery/internal/quota"
	"github.com/hitoshi/docquery/internal/repository"
)

const (
	// DefaultMaxDocumentChars はプロンプトに含める本文の既定の最大文字数。
	DefaultMaxDocumentChars = 10000

	// NoResponseAnswer はGeminiが本文なしで応答した場合の回答。
	NoResponseAnswer = "No response from AI"
)

// AnswerGenerator はプロンプトから回答テキストを生成する。
type AnswerGenerator interface {
	GenerateContent(ctx context.Context, prompt string) (string, error)
}

// UsageCounter は当日の利用回数を条件付きで進める。
type UsageCounter interface {
	IncrementDailyCount(ctx context.Context, id string, window repository.UsageWindow, limit int) (int, time.Time, error)
}

// Answer は質問に対する回答と回答後の利用状況。
type Answer struct {
	Text  string
	Usage model.Usage
}

// Service は質問応答のビジネスロジックを提供する。
type Service struct {
	generator AnswerGenerator
	counter   UsageCounter
	tracker   *quota.Tracker
	maxChars  int
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
	now       func() time.Time
}

// NewService はServiceを生成する。maxCharsが0以下の場合はDefaultMaxDocumentCharsを使う。
func NewService(
	generator AnswerGenerator,
	counter UsageCounter,
	tracker *quota.Tracker,
	maxChars int,
	mc metrics.MetricsCollector,
	logger *slog.Logger,
) *Service {
	if maxChars <= 0 {
		maxChars = DefaultMaxDocumentChars
	}
	if mc == nil {
		mc = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		generator: generator,
		counter:   counter,
		tracker:   tracker,
		maxChars:  maxChars,
		metrics:   mc,
		logger:    logger,
		now:       time.Now,
	}
}

// Ask はユーザーの質問に回答する。
//
// 上限判定はGemini呼び出しの前に行い、利用回数の書き込みは回答取得後の条件付き更新で行う。
// 同時リクエストで上限を使い切られていた場合は回答を破棄してDailyLimitErrorを返す。
// premiumPlusは回数を書き込まない。
func (s *Service) Ask(ctx context.Context, user *model.User, pdfText, question string) (*Answer, error) {
	if strings.TrimSpace(pdfText) == "" || strings.TrimSpace(question) == "" {
		return nil, model.NewMissingFieldsError("PDF text and question are required")
	}

	plan := user.Plan
	if plan == "" {
		plan = model.PlanFree
	}

	decision := s.tracker.Evaluate(user, s.now())
	if !decision.Allowed {
		s.metrics.RecordQuery("limit_reached")
		return nil, model.NewDailyLimitError(decision.Limit, plan)
	}

	prompt := BuildPrompt(Truncate(pdfText, s.maxChars), question)

	start := time.Now()
	text, err := s.generator.GenerateContent(ctx, prompt)
	s.metrics.RecordUpstreamLatency(time.Since(start))
	if err != nil {
		s.metrics.RecordQuery("upstream_error")
		s.logger.Error("failed to get answer from gemini",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewUpstreamUnavailableError()
	}

	text = strings.TrimSpace(text)
	if text == "" {
		text = NoResponseAnswer
	}

	if decision.Unlimited {
		s.metrics.RecordQuery("answered")
		return &Answer{
			Text:  text,
			Usage: quota.Usage(plan, 0, true, decision.Count, decision.ResetAt),
		}, nil
	}

	now := s.now()
	count, resetAt, err := s.counter.IncrementDailyCount(ctx, user.ID, s.tracker.Window(now), decision.Limit)
	if errors.Is(err, repository.ErrQuotaExhausted) {
		s.metrics.RecordQuery("limit_reached_concurrent")
		s.logger.Info("daily limit consumed by a concurrent request",
			slog.String("user_id", user.ID),
		)
		return nil, model.NewDailyLimitError(decision.Limit, plan)
	}
	if err != nil {
		s.metrics.RecordQuery("error")
		return nil, fmt.Errorf("failed to record usage: %w", err)
	}

	s.metrics.RecordQuery("answered")
	return &Answer{
		Text:  text,
		Usage: quota.Usage(plan, decision.Limit, false, count, resetAt),
	}, nil
}

// Truncate はsを先頭からmaxChars文字（rune単位）に切り詰める。
func Truncate(s string, maxChars int) string {
	if maxChars <= 0 || utf8.RuneCountInString(s) <= maxChars {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxChars])
}

// BuildPrompt はGeminiに送るプロンプトを組み立てる。
func BuildPrompt(document, question string) string {
	var b strings.Builder
	b.WriteString("You are an assistant answering questions about a PDF document.\n")
	b.WriteString("Here is the document content:\n")
	b.WriteString("\"\"\"\n")
	b.WriteString(document)
	b.WriteString("\n\"\"\"\n")
	b.WriteString("Question: ")
	b.WriteString(question)
	b.WriteString("\nAnswer:")
	return b.String()
}
