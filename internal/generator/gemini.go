package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/kiesman99/mapstyle/internal/failure"
	"github.com/kiesman99/mapstyle/internal/logging"
)

// DefaultModel is the Gemini image model used for style transfer.
const DefaultModel = "gemini-2.5-flash-image"

// ContentGenerator is the part of the genai client the Gemini generator needs.
// *genai.Models satisfies it.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Gemini generates styled tiles with a Gemini image model.
type Gemini struct {
	models ContentGenerator
	model  string
	logger *slog.Logger
}

// NewGeminiClient creates a Gemini API client for apiKey.
func NewGeminiClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("%w: gemini api key is empty", failure.ErrConfiguration)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create gemini client: %v", failure.ErrConfiguration, err)
	}
	return client, nil
}

// NewGemini wraps models. An empty model selects DefaultModel.
func NewGemini(models ContentGenerator, model string, logger *slog.Logger) (*Gemini, error) {
	if models == nil {
		return nil, fmt.Errorf("%w: gemini models client is required", failure.ErrConfiguration)
	}
	if model == "" {
		model = DefaultModel
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Gemini{models: models, model: model, logger: logger}, nil
}

// Model returns the model name requests are sent to.
func (g *Gemini) Model() string { return g.model }

// Generate sends the source image followed by the prompt and returns the first
// inline image of the first candidate.
func (g *Gemini) Generate(ctx context.Context, req Request) (*Image, error) {
	if len(req.Image) == 0 {
		return nil, fmt.Errorf("%w: empty source image", failure.ErrDataIntegrity)
	}
	mimeType := req.MIMEType
	if mimeType == "" {
		mimeType = http.DetectContentType(req.Image)
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(req.Image, mimeType),
			genai.NewPartFromText(req.Prompt),
		}, genai.RoleUser),
	}

	g.logger.Debug("gemini generate", "model", g.model, "mime_type", mimeType, "bytes", len(req.Image))
	resp, err := g.models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return nil, classifyAPIError(ctx, err)
	}
	img, err := parseResponse(resp)
	if err != nil {
		return nil, err
	}
	if img.Text != "" {
		g.logger.Debug("gemini returned text with the image", "text", img.Text)
	}
	return img, nil
}

func parseResponse(resp *genai.GenerateContentResponse) (*Image, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		if resp != nil && resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return nil, fmt.Errorf("%w: prompt blocked: %s", ErrNoImage, resp.PromptFeedback.BlockReason)
		}
		return nil, fmt.Errorf("%w: no candidates", ErrNoImage)
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil {
		return nil, fmt.Errorf("%w: finish reason %q", ErrNoImage, candidate.FinishReason)
	}

	var text []string
	for _, part := range candidate.Content.Parts {
		if part == nil {
			continue
		}
		if part.InlineData != nil && len(part.InlineData.Data) > 0 {
			return &Image{
				Data:     part.InlineData.Data,
				MIMEType: part.InlineData.MIMEType,
				Text:     strings.Join(text, "\n"),
			}, nil
		}
		if part.Text != "" {
			text = append(text, part.Text)
		}
	}
	if len(text) > 0 {
		return nil, fmt.Errorf("%w: model answered with text: %.200s", ErrNoImage, strings.Join(text, " "))
	}
	return nil, fmt.Errorf("%w: finish reason %q", ErrNoImage, candidate.FinishReason)
}

// classifyAPIError maps genai errors onto the failure taxonomy. Rejected
// credentials and malformed requests will not get better on retry.
func classifyAPIError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	code := 0
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.Code
	case errors.As(err, &apiErrPtr) && apiErrPtr != nil:
		code = apiErrPtr.Code
	}

	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: gemini rejected credentials: %v", failure.ErrConfiguration, err)
	case code == http.StatusBadRequest || code == http.StatusNotFound:
		return fmt.Errorf("%w: gemini rejected request: %v", failure.ErrConfiguration, err)
	default:
		return fmt.Errorf("%w: gemini: %v", failure.ErrTransport, err)
	}
}
