package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"

	"github.com/xhad/gitagpt/internal/models"
	"github.com/xhad/gitagpt/internal/types"
)

// ChatConfig represents the configuration for a chat engine.
type ChatConfig struct {
	Provider    string // ollama, googleai or openai
	Model       string
	Temperature float64
	MaxTokens   int
	BaseURL     string // Ollama server URL, or an OpenAI-compatible endpoint
	APIKey      string
	Timeout     time.Duration
	RateLimit   float64 // requests per second, shared by all turns
}

// ChatEngine is the generative model adapter used for every chat turn.
type ChatEngine struct {
	config  ChatConfig
	llm     llms.Model
	limiter *rate.Limiter
}

// NewWithConfig creates a new ChatEngine with the given configuration.
func NewWithConfig(ctx context.Context, config ChatConfig) (*ChatEngine, error) {
	if config.Provider == "" {
		config.Provider = "ollama"
	}

	var (
		model llms.Model
		err   error
	)
	switch config.Provider {
	case "ollama":
		if config.Model == "" {
			config.Model = "mistral" // Default Ollama model
		}
		if config.BaseURL == "" {
			config.BaseURL = "http://localhost:11434" // Default Ollama URL
		}
		model, err = ollama.New(ollama.WithModel(config.Model), ollama.WithServerURL(config.BaseURL))

	case "googleai":
		if config.Model == "" {
			config.Model = "gemini-2.0-flash"
		}
		model, err = googleai.New(ctx, googleai.WithAPIKey(config.APIKey), googleai.WithDefaultModel(config.Model))

	case "openai":
		if config.Model == "" {
			config.Model = "gpt-4o-mini"
		}
		opts := []openai.Option{openai.WithModel(config.Model), openai.WithToken(config.APIKey)}
		if config.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(config.BaseURL))
		}
		model, err = openai.New(opts...)

	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", config.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}

	return NewWithModel(config, model)
}

// NewWithModel wraps an already constructed model.
func NewWithModel(config ChatConfig, model llms.Model) (*ChatEngine, error) {
	if model == nil {
		return nil, fmt.Errorf("model is required")
	}
	if config.Temperature < 0 || config.Temperature > 2 {
		return nil, fmt.Errorf("temperature must be between 0 and 2")
	}
	if config.MaxTokens < 0 {
		return nil, fmt.Errorf("max tokens cannot be negative")
	} else if config.MaxTokens == 0 {
		config.MaxTokens = 2000
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if config.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RateLimit), 1)
	}

	return &ChatEngine{
		config:  config,
		llm:     model,
		limiter: limiter,
	}, nil
}

// Generate sends the message sequence to the model and returns the reply.
// When onChunk is non-nil the reply is also streamed through it as it is
// produced; an error from onChunk aborts generation.
func (ce *ChatEngine) Generate(ctx context.Context, messages []models.Message, onChunk func(string) error) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, ce.config.Timeout)
	defer cancel()

	if err := ce.limiter.Wait(ctx); err != nil {
		return "", types.NewError(types.KindGeneration, "generate", fmt.Errorf("rate limiter: %w", err))
	}

	content := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		content = append(content, llms.TextParts(messageType(m.Role), m.Content))
	}

	opts := []llms.CallOption{
		llms.WithMaxTokens(ce.config.MaxTokens),
		llms.WithTemperature(ce.config.Temperature),
	}
	if onChunk != nil {
		opts = append(opts, llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			return onChunk(string(chunk))
		}))
	}

	response, err := ce.llm.GenerateContent(ctx, content, opts...)
	if err != nil {
		return "", types.NewError(types.KindGeneration, "generate", fmt.Errorf("chat error: %w", err))
	}
	if response == nil || len(response.Choices) == 0 || response.Choices[0] == nil {
		return "", types.NewError(types.KindGeneration, "generate", fmt.Errorf("no response from LLM"))
	}

	return response.Choices[0].Content, nil
}

func (ce *ChatEngine) Model() string {
	return ce.config.Model
}

func messageType(role models.Role) llms.ChatMessageType {
	switch role {
	case models.RoleSystem:
		return llms.ChatMessageTypeSystem
	case models.RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}
