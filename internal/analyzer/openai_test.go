package analyzer

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sashabaranov/go-openai"

	"channel-audit/internal/models"
	"channel-audit/internal/pipeline"
)

func newTestAnalyzer(t *testing.T, status int, content string) *OpenAI {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			http.Error(w, `{"error":{"message":"boom"}}`, status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"choices":[{"message":{"role":"assistant","content":%q}}]}`, content)
	}))
	t.Cleanup(srv.Close)

	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = srv.URL + "/v1"
	return NewOpenAI(openai.NewClientWithConfig(cfg), openai.GPT4)
}

func TestAnalyzeParsesStructuredReply(t *testing.T) {
	a := newTestAnalyzer(t, http.StatusOK,
		`{"summary":"growing channel","recommendations":["post weekly"],"service_notes":{"seo":"titles too long"}}`)

	report, err := a.Analyze(context.Background(), []models.Video{{VideoID: "vid-1", Title: "hello"}}, []string{"seo"})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if report.Summary != "growing channel" {
		t.Fatalf("summary not parsed: %+v", report)
	}
	if len(report.Recommendations) != 1 || report.Recommendations[0] != "post weekly" {
		t.Fatalf("recommendations not parsed: %+v", report)
	}
	if report.ServiceNotes["seo"] != "titles too long" {
		t.Fatalf("service notes not parsed: %+v", report)
	}
}

func TestAnalyzeKeepsPlainTextReply(t *testing.T) {
	a := newTestAnalyzer(t, http.StatusOK, "This channel posts irregularly.")

	report, err := a.Analyze(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if report.Summary != "This channel posts irregularly." {
		t.Fatalf("plain reply must become the summary: %+v", report)
	}
}

func TestAnalyzeUpstreamFailure(t *testing.T) {
	a := newTestAnalyzer(t, http.StatusInternalServerError, "")

	_, err := a.Analyze(context.Background(), nil, nil)
	if err == nil {
		t.Fatalf("expected analysis error")
	}
	if pipeline.KindOf(err, "") != pipeline.KindAnalysis {
		t.Fatalf("expected analysis kind, got %v", pipeline.KindOf(err, ""))
	}
}

func TestBuildPromptListsServices(t *testing.T) {
	prompt, err := buildPrompt([]models.Video{{VideoID: "vid-1", Title: "hello"}}, []string{"seo", "thumbnails"})
	if err != nil {
		t.Fatalf("build prompt: %v", err)
	}
	for _, want := range []string{"vid-1", "hello", "- seo", "- thumbnails"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestParseReportStripsCodeFence(t *testing.T) {
	report := parseReport("```json\n{\"summary\":\"ok\"}\n```")
	if report.Summary != "ok" {
		t.Fatalf("fenced JSON not parsed: %+v", report)
	}
}
