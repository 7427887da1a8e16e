package llm_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/xhad/gitagpt/internal/models"
	"github.com/xhad/gitagpt/internal/types"
	"github.com/xhad/gitagpt/pkg/llm"
)

type fakeModel struct {
	reply    string
	chunks   []string
	err      error
	delay    time.Duration
	messages []llms.MessageContent
	options  llms.CallOptions
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.messages = messages
	for _, opt := range options {
		opt(&f.options)
	}

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}

	if f.options.StreamingFunc != nil {
		for _, c := range f.chunks {
			if err := f.options.StreamingFunc(ctx, []byte(c)); err != nil {
				return nil, err
			}
		}
	}

	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: f.reply}},
	}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func TestNewWithModel(t *testing.T) {
	tests := []struct {
		name    string
		config  llm.ChatConfig
		wantErr bool
	}{
		{"defaults", llm.ChatConfig{}, false},
		{"valid", llm.ChatConfig{Temperature: 0.5, MaxTokens: 1000}, false},
		{"bad temperature", llm.ChatConfig{Temperature: 2.5}, true},
		{"negative tokens", llm.ChatConfig{MaxTokens: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, err := llm.NewWithModel(tt.config, &fakeModel{})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.NotNil(t, engine)
		})
	}

	_, err := llm.NewWithModel(llm.ChatConfig{}, nil)
	assert.Error(t, err)
}

func TestNewWithConfigUnsupportedProvider(t *testing.T) {
	_, err := llm.NewWithConfig(context.Background(), llm.ChatConfig{Provider: "parrot"})
	assert.Error(t, err)
}

func TestGenerate(t *testing.T) {
	model := &fakeModel{reply: "Perform your duty [BG 2.47]."}
	engine, err := llm.NewWithModel(llm.ChatConfig{Temperature: 0.3, MaxTokens: 512}, model)
	require.NoError(t, err)

	reply, err := engine.Generate(context.Background(), []models.Message{
		models.SystemMessage("persona"),
		models.UserMessage("What is my duty?"),
		models.AssistantMessage("earlier answer"),
		models.SystemMessage("context"),
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Perform your duty [BG 2.47].", reply)

	require.Len(t, model.messages, 4)
	assert.Equal(t, llms.ChatMessageTypeSystem, model.messages[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, model.messages[1].Role)
	assert.Equal(t, llms.ChatMessageTypeAI, model.messages[2].Role)
	assert.Equal(t, llms.ChatMessageTypeSystem, model.messages[3].Role)
	assert.Equal(t, llms.TextContent{Text: "What is my duty?"}, model.messages[1].Parts[0])

	assert.Equal(t, 512, model.options.MaxTokens)
	assert.Equal(t, 0.3, model.options.Temperature)
	assert.Nil(t, model.options.StreamingFunc)
}

func TestGenerateStreaming(t *testing.T) {
	model := &fakeModel{reply: "Be steady.", chunks: []string{"Be ", "steady."}}
	engine, err := llm.NewWithModel(llm.ChatConfig{}, model)
	require.NoError(t, err)

	var got []string
	reply, err := engine.Generate(context.Background(), []models.Message{models.UserMessage("hi")}, func(chunk string) error {
		got = append(got, chunk)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Be steady.", reply)
	assert.Equal(t, []string{"Be ", "steady."}, got)
}

func TestGenerateStreamingAbort(t *testing.T) {
	model := &fakeModel{reply: "x", chunks: []string{"a", "b"}}
	engine, err := llm.NewWithModel(llm.ChatConfig{}, model)
	require.NoError(t, err)

	stop := errors.New("client gone")
	_, err = engine.Generate(context.Background(), []models.Message{models.UserMessage("hi")}, func(string) error {
		return stop
	})
	assert.ErrorIs(t, err, stop)
}

func TestGenerateErrors(t *testing.T) {
	t.Run("model failure", func(t *testing.T) {
		engine, err := llm.NewWithModel(llm.ChatConfig{}, &fakeModel{err: errors.New("connection refused")})
		require.NoError(t, err)

		_, err = engine.Generate(context.Background(), []models.Message{models.UserMessage("hi")}, nil)
		require.Error(t, err)
		assert.Equal(t, types.KindGeneration, types.KindOf(err))
	})

	t.Run("timeout", func(t *testing.T) {
		engine, err := llm.NewWithModel(llm.ChatConfig{Timeout: 20 * time.Millisecond}, &fakeModel{delay: time.Second})
		require.NoError(t, err)

		_, err = engine.Generate(context.Background(), []models.Message{models.UserMessage("hi")}, nil)
		require.Error(t, err)
		assert.Equal(t, types.KindGeneration, types.KindOf(err))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
