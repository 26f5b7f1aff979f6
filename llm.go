package siseon

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/time/rate"
)

// GenerateRequest is one text generation call.
type GenerateRequest struct {
	Prompt      string
	System      string
	Temperature float64
	MaxTokens   int64
	// Schema, when set, asks for a structured JSON reply.
	Schema *ResponseSchema
}

// ResponseSchema describes the JSON object a structured reply must follow.
type ResponseSchema struct {
	Name        string
	Description string
	Schema      any
}

// TextGenerator produces text for a prompt. Replies are untrusted and may not parse.
type TextGenerator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// Embedder turns text into a dense vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

var (
	_ TextGenerator = (*OpenAIGenerator)(nil)
	_ Embedder      = (*OpenAIEmbedder)(nil)
)

// OpenAIGenerator calls the chat completions API.
type OpenAIGenerator struct {
	client  openai.Client
	model   string
	limiter *rate.Limiter
}

func NewOpenAIGenerator(apiKey, model string) *OpenAIGenerator {
	return &OpenAIGenerator{
		client:  openai.NewClient(option.WithAPIKey(apiKey)),
		model:   model,
		limiter: rate.NewLimiter(rate.Every(500*time.Millisecond), 1),
	}
}

// Generate sends the system and user messages and returns the first choice.
func (g *OpenAIGenerator) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", &ExternalCallError{Op: "chat completion", Err: fmt.Errorf("rate limiter: %w", err)}
	}

	var messages []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Messages:    messages,
		Model:       openai.ChatModel(g.model),
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(req.MaxTokens)
	}
	if req.Schema != nil {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        req.Schema.Name,
					Description: openai.String(req.Schema.Description),
					Schema:      req.Schema.Schema,
					Strict:      openai.Bool(true),
				},
			},
		}
	}

	chatCompletion, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", &ExternalCallError{Op: "chat completion", Err: err}
	}
	if len(chatCompletion.Choices) == 0 || chatCompletion.Choices[0].Message.Content == "" {
		return "", &ExternalCallError{Op: "chat completion", Err: fmt.Errorf("no content in response")}
	}
	return chatCompletion.Choices[0].Message.Content, nil
}

// OpenAIEmbedder calls the embeddings API.
type OpenAIEmbedder struct {
	client  openai.Client
	model   string
	limiter *rate.Limiter
}

func NewOpenAIEmbedder(apiKey, model string) *OpenAIEmbedder {
	return &OpenAIEmbedder{
		client:  openai.NewClient(option.WithAPIKey(apiKey)),
		model:   model,
		limiter: rate.NewLimiter(rate.Every(100*time.Millisecond), 1),
	}
}

// Embed returns the embedding of text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, &ExternalCallError{Op: "embedding", Err: fmt.Errorf("rate limiter: %w", err)}
	}

	embedding, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(text),
		},
		Model:          openai.EmbeddingModel(e.model),
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	})
	if err != nil {
		return nil, &ExternalCallError{Op: "embedding", Err: err}
	}
	if len(embedding.Data) == 0 {
		return nil, &ExternalCallError{Op: "embedding", Err: fmt.Errorf("no embedding data in response")}
	}
	return embedding.Data[0].Embedding, nil
}

// reflectSchema builds a strict JSON schema for v, suitable for structured outputs.
func reflectSchema(v any) (any, error) {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	schemaObj := reflector.Reflect(v)
	if schemaObj.Type == "" {
		schemaObj.Type = "object"
	}

	// Round trip through JSON so the SDK serializes a plain map.
	schemaBytes, err := json.Marshal(schemaObj)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	var schema map[string]any
	if err := json.Unmarshal(schemaBytes, &schema); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schema: %w", err)
	}
	return schema, nil
}
