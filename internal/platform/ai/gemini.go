package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const prescriptionPrompt = `Read the handwritten or printed prescription in this image and list the medicines it prescribes.
Reply with a JSON array only, one object per medicine:
[{"name": "", "dosage": "", "duration": "", "instructions": ""}]
Leave a field as "" when the prescription does not state it. Expand shorthand such as 1-0-1, OD, BID or TID into plain timings, and say whether to take it before or after meals when written. Ignore patient, doctor and contact details.`

// GeminiReader reads prescription images with a Gemini vision model.
type GeminiReader struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

func NewGeminiReader(ctx context.Context, apiKey, model string) (*GeminiReader, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	m := client.GenerativeModel(model)
	m.ResponseMIMEType = "application/json"
	return &GeminiReader{client: client, model: m}, nil
}

func (g *GeminiReader) ReadPrescription(ctx context.Context, image []byte, mimeType string) ([]Medicine, error) {
	resp, err := g.model.GenerateContent(ctx,
		genai.Blob{MIMEType: mimeType, Data: image},
		genai.Text(prescriptionPrompt),
	)
	if err != nil {
		return nil, fmt.Errorf("gemini generate content: %w", err)
	}
	text, err := responseText(resp)
	if err != nil {
		return nil, err
	}
	return ParseMedicines(text)
}

func (g *GeminiReader) Close() error {
	return g.client.Close()
}

// responseText joins the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("gemini returned no candidates")
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	if sb.Len() == 0 {
		return "", errors.New("gemini returned no text")
	}
	return sb.String(), nil
}
