package gcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"

	"github.com/Lllllllleong/assetmanifest/internal/models"
)

// --- Detection Model Prompts ---
const DetectorSystemPrompt = "You are a layout analysis tool. You locate visual assets (figures, photographs, diagrams, charts, drawings, logos) on a rendered document page. You must output your response as a valid JSON array."
const DetectorUserPrompt = `Find every distinct visual asset on the provided page image.

Follow these rules precisely:
1.  Return one JSON object per asset with exactly these keys:
    - "x", "y": the top-left corner of the asset, as fractions of the page width and height (0 to 1).
    - "w", "h": the width and height of the asset, as fractions of the page width and height (0 to 1).
    - "category": one short lowercase word such as "photo", "diagram", "chart", "table", "logo" or "drawing".
2.  Do not return boxes for plain body text, headers or footers.
3.  Boxes must not extend past the page.
4.  The final output MUST be a single, valid JSON array. Return [] when the page has no visual assets.`

// --- Tagging Model Prompts ---
const TaggerSystemPrompt = "You are a cataloguing assistant. You assign concise descriptive tags to images cropped from engineering and technical documents. You must output your response as a valid JSON object."
const TaggerUserPrompt = `Tag the provided image.

Return a single JSON object with exactly two keys:
- "tags": an array of 3 to 10 short lowercase tags describing what the image shows.
- "rationale": one or two sentences explaining the choice of tags.

Use the surrounding page text only as context; tag what is visible in the image.`

// --- OCR Model Prompts ---
const OCRSystemPrompt = "You are a document OCR engine. You transcribe the text of every page of a PDF document faithfully, preserving reading order. You must output your response as a valid JSON object."
const OCRUserPrompt = `Transcribe the provided PDF document.

Return a single JSON object with exactly two keys:
- "fullText": the complete text of the document.
- "pages": an array with one object per page, each with "pageNumber" (starting at 1) and "text".

Do not summarize, translate or correct the text.`

// --- Schema Extraction Model Prompts ---
const SchemaSystemPrompt = "You are a metadata extraction tool. You read a document and fill in a user supplied schema. You must output your response as valid JSON."
const SchemaUserPrompt = `Extract metadata from the document text below according to the schema that follows it.
Use null for any field the document does not state. Return only the JSON value.`

// VertexConfig names the models used for each task.
type VertexConfig struct {
	ProjectID      string
	Region         string
	DetectionModel string
	TaggingModel   string
	OCRModel       string
	SchemaModel    string
}

// VertexClient holds all pre-configured generative models for our app.
type VertexClient struct {
	DetectorModel *genai.GenerativeModel
	TaggerModel   *genai.GenerativeModel
	OCRModel      *genai.GenerativeModel
	SchemaModel   *genai.GenerativeModel
	baseClient    *genai.Client
}

// NewVertexClient creates a new client holding all necessary models.
func NewVertexClient(ctx context.Context, config VertexConfig) (*VertexClient, error) {
	if config.ProjectID == "" || config.Region == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}

	baseClient, err := genai.NewClient(ctx, config.ProjectID, config.Region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	return &VertexClient{
		DetectorModel: jsonModel(baseClient, orDefault(config.DetectionModel, "gemini-2.5-pro"), DetectorSystemPrompt),
		TaggerModel:   jsonModel(baseClient, orDefault(config.TaggingModel, "gemini-2.5-flash"), TaggerSystemPrompt),
		OCRModel:      jsonModel(baseClient, orDefault(config.OCRModel, "gemini-2.5-pro"), OCRSystemPrompt),
		SchemaModel:   jsonModel(baseClient, orDefault(config.SchemaModel, "gemini-2.5-pro"), SchemaSystemPrompt),
		baseClient:    baseClient,
	}, nil
}

func jsonModel(client *genai.Client, name, systemPrompt string) *genai.GenerativeModel {
	model := client.GenerativeModel(name)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(systemPrompt)},
	}
	model.GenerationConfig = genai.GenerationConfig{
		// Force JSON output. Every caller parses the response.
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.0),
	}
	model.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockNone},
	}
	return model
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

// Detect locates assets on a PNG page raster. Boxes are normalized to 0-1.
func (c *VertexClient) Detect(ctx context.Context, image []byte, rules string) ([]models.DetectedBox, error) {
	prompt := DetectorUserPrompt
	if strings.TrimSpace(rules) != "" {
		prompt += "\n\nAdditional detection rules from the user:\n" + rules
	}
	resp, err := c.DetectorModel.GenerateContent(ctx, genai.ImageData("png", image), genai.Text(prompt))
	if err != nil {
		return nil, fmt.Errorf("failed to generate detections from gemini: %w", err)
	}
	raw := extractJSONContent(resp)
	if raw == "" {
		return nil, fmt.Errorf("gemini returned an empty detection response")
	}
	var boxes []models.DetectedBox
	if err := json.Unmarshal([]byte(raw), &boxes); err != nil {
		return nil, fmt.Errorf("failed to parse detection JSON from model: %w", err)
	}
	return boxes, nil
}

// Tag describes one asset crop, using the page text as context.
func (c *VertexClient) Tag(ctx context.Context, image []byte, contextText, rules string) (models.TagResult, error) {
	prompt := TaggerUserPrompt
	if strings.TrimSpace(rules) != "" {
		prompt += "\n\nTagging rules from the user:\n" + rules
	}
	if strings.TrimSpace(contextText) != "" {
		prompt += "\n\nSurrounding page text:\n" + contextText
	}
	resp, err := c.TaggerModel.GenerateContent(ctx, genai.ImageData("png", image), genai.Text(prompt))
	if err != nil {
		return models.TagResult{}, fmt.Errorf("failed to generate tags from gemini: %w", err)
	}
	raw := extractJSONContent(resp)
	if raw == "" {
		return models.TagResult{}, fmt.Errorf("gemini returned an empty tagging response")
	}
	var result models.TagResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return models.TagResult{}, fmt.Errorf("failed to parse tagging JSON from model: %w", err)
	}
	return result, nil
}

// ProcessDocument runs OCR over the whole PDF.
func (c *VertexClient) ProcessDocument(ctx context.Context, pdf []byte) (models.DocumentResult, error) {
	filePart := genai.Blob{MIMEType: "application/pdf", Data: pdf}
	resp, err := c.OCRModel.GenerateContent(ctx, filePart, genai.Text(OCRUserPrompt))
	if err != nil {
		return models.DocumentResult{}, fmt.Errorf("failed to generate OCR text from gemini: %w", err)
	}
	raw := extractJSONContent(resp)
	if raw == "" {
		return models.DocumentResult{}, fmt.Errorf("gemini returned an empty OCR response")
	}
	return models.ParseDocumentResult([]byte(raw)), nil
}

// ExtractSchema fills schema from text and returns the raw JSON value.
func (c *VertexClient) ExtractSchema(ctx context.Context, text, schema string) ([]byte, error) {
	prompt := SchemaUserPrompt + "\n\nDOCUMENT:\n" + text + "\n\nSCHEMA:\n" + schema
	resp, err := c.SchemaModel.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return nil, fmt.Errorf("failed to generate schema results from gemini: %w", err)
	}
	raw := extractJSONContent(resp)
	if raw == "" {
		return nil, fmt.Errorf("gemini returned an empty schema response")
	}
	if !json.Valid([]byte(raw)) {
		return nil, fmt.Errorf("schema response from model is not valid JSON")
	}
	return []byte(raw), nil
}

func (c *VertexClient) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}

// extractJSONContent robustly gets the raw text content from the model response.
func extractJSONContent(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return StripFences(b.String())
}

// StripFences removes markdown code fences a model sometimes wraps JSON in.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
