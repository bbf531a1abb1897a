// Package analyzer turns fetched video metadata into a structured
// audit report via a single chat completion.
package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"channel-audit/internal/models"
	"channel-audit/internal/pipeline"
)

const analysisPrompt = `You are a YouTube channel strategist. You will receive recent videos of a channel as JSON, plus a list of requested extra services.
Reply with a JSON object only, shaped as {"summary": string, "recommendations": [string], "service_notes": {service: string}}.
Base every observation on the provided titles, descriptions, and statistics. Include a service_notes entry for each requested service.`

// OpenAI is the analysis collaborator backed by the OpenAI chat API.
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI wraps an existing client. An empty model defaults to GPT-4.
func NewOpenAI(client *openai.Client, model string) *OpenAI {
	if model == "" {
		model = openai.GPT4
	}
	return &OpenAI{
		client: client,
		model:  model,
	}
}

// Analyze is a pure function over already-fetched videos: it performs
// no additional data gathering beyond the one completion call.
func (a *OpenAI) Analyze(ctx context.Context, videos []models.Video, services []string) (*models.Report, error) {
	prompt, err := buildPrompt(videos, services)
	if err != nil {
		return nil, pipeline.WrapError(pipeline.KindAnalysis, err)
	}

	resp, err := a.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: a.model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleSystem,
					Content: analysisPrompt,
				},
				{
					Role:    openai.ChatMessageRoleUser,
					Content: prompt,
				},
			},
		})
	if err != nil {
		return nil, pipeline.WrapError(pipeline.KindAnalysis, fmt.Errorf("fetch analysis: %w", err))
	}
	if len(resp.Choices) == 0 {
		return nil, pipeline.NewError(pipeline.KindAnalysis, "no completion choices returned")
	}

	return parseReport(resp.Choices[len(resp.Choices)-1].Message.Content), nil
}

func buildPrompt(videos []models.Video, services []string) (string, error) {
	videosJSON, err := json.Marshal(videos)
	if err != nil {
		return "", fmt.Errorf("marshal videos: %w", err)
	}
	var b strings.Builder
	b.WriteString("Videos:\n")
	b.Write(videosJSON)
	b.WriteString("\n\nRequested services:")
	if len(services) == 0 {
		b.WriteString(" none")
	}
	for _, s := range services {
		b.WriteString("\n- ")
		b.WriteString(s)
	}
	return b.String(), nil
}

// parseReport decodes the model reply. A reply that is not valid JSON
// is kept verbatim as the summary rather than failing the job.
func parseReport(content string) *models.Report {
	trimmed := strings.TrimSpace(content)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	var report models.Report
	if err := json.Unmarshal([]byte(trimmed), &report); err != nil || report.Summary == "" {
		return &models.Report{Summary: strings.TrimSpace(content)}
	}
	return &report
}
