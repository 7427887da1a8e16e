package prompt_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/gitagpt/internal/models"
	"github.com/xhad/gitagpt/pkg/prompt"
)

func verse(id, content string) models.Document {
	return models.Document{Content: content, Metadata: map[string]string{models.MetaVerseID: id}}
}

func TestNewWithConfigDefaults(t *testing.T) {
	a := prompt.NewWithConfig(prompt.AssemblerConfig{Persona: "   "})
	assert.Equal(t, prompt.DefaultPersona("BG"), a.Persona())
	assert.Contains(t, a.Persona(), "[BG X.Y]")

	sb := prompt.NewWithConfig(prompt.AssemblerConfig{CitationPrefix: "SB"})
	assert.Contains(t, sb.Persona(), "[SB X.Y]")
	assert.Contains(t, sb.Persona(), "[SB Chapter.Verse]")
	assert.NotContains(t, sb.Persona(), "[BG")

	custom := prompt.NewWithConfig(prompt.AssemblerConfig{Persona: "You are a patient guide."})
	assert.Equal(t, "You are a patient guide.", custom.Persona())
}

func TestEnsurePersona(t *testing.T) {
	a := prompt.NewWithConfig(prompt.AssemblerConfig{Persona: "persona"})

	t.Run("empty history", func(t *testing.T) {
		msgs := a.EnsurePersona(nil)
		require.Len(t, msgs, 1)
		assert.Equal(t, models.RoleSystem, msgs[0].Role)
		assert.Equal(t, "persona", msgs[0].Content)
	})

	t.Run("idempotent", func(t *testing.T) {
		history := []models.Message{models.UserMessage("What is dharma?")}

		once := a.EnsurePersona(history)
		twice := a.EnsurePersona(once)

		require.Len(t, twice, 2)
		assert.Equal(t, once, twice)
		assert.Len(t, history, 1, "input must not be modified")
	})
}

func TestAssemble(t *testing.T) {
	a := prompt.NewWithConfig(prompt.AssemblerConfig{Persona: "persona"})
	docs := []models.Document{
		verse("BG 2.47", "You have a right to perform your prescribed duty."),
		{Content: "Chapter 3\n\nKarma-yoga"},
	}

	history := []models.Message{
		models.SystemMessage("persona"),
		models.UserMessage("What is dharma?"),
		models.AssistantMessage("Dear soul, know this..."),
		models.UserMessage("And karma?"),
	}

	msgs := a.Assemble(history, docs)
	require.Len(t, msgs, 5)

	assert.Equal(t, "persona", msgs[0].Content)
	assert.Equal(t, "And karma?", msgs[3].Content)

	ctx := msgs[4]
	assert.Equal(t, models.RoleSystem, ctx.Role)
	assert.True(t, strings.HasPrefix(ctx.Content, "Relevant Bhagavad-gītā verses for citation:\n\n"))
	assert.Contains(t, ctx.Content, "[BG 2.47]: You have a right to perform your prescribed duty.\n\n[Source 2]: Chapter 3\n\nKarma-yoga")
	assert.True(t, strings.HasSuffix(ctx.Content, "cite them properly in the format [BG Chapter.Verse]."))

	again := a.Assemble(msgs[:4], docs)
	personas := 0
	for _, m := range again {
		if m.Content == "persona" {
			personas++
		}
	}
	assert.Equal(t, 1, personas)
}

func TestAssembleWithoutContext(t *testing.T) {
	a := prompt.NewWithConfig(prompt.AssemblerConfig{})

	tests := []struct {
		name    string
		history []models.Message
		docs    []models.Document
		want    int
	}{
		{
			name:    "no documents",
			history: []models.Message{models.UserMessage("hello")},
			want:    2,
		},
		{
			name:    "no user message",
			history: []models.Message{models.AssistantMessage("hello")},
			docs:    []models.Document{verse("BG 1.1", "text")},
			want:    2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs := a.Assemble(tt.history, tt.docs)
			assert.Len(t, msgs, tt.want)
			assert.Equal(t, prompt.DefaultPersona("BG"), msgs[0].Content)
		})
	}
}

func TestContextTruncation(t *testing.T) {
	a := prompt.NewWithConfig(prompt.AssemblerConfig{MaxContextChars: 10, CitationPrefix: "SB"})

	msg, ok := a.ContextMessage([]models.Document{verse("SB 1.2.6", "ātmā suprasīdati and more")})
	require.True(t, ok)
	assert.Contains(t, msg.Content, "[SB 1.2.6]: ātmā supra...")
	assert.Contains(t, msg.Content, "[SB Chapter.Verse]")
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 800, "short"},
		{"exactly", 7, "exactly"},
		{"abcdefgh", 3, "abc..."},
		{"कर्मण्येवाधिकारस्ते", 4, "कर्म..."},
		{"unbounded", 0, "unbounded"},
	}

	for _, tt := range tests {
		got := prompt.Truncate(tt.in, tt.max)
		assert.Equal(t, tt.want, got)
		assert.True(t, utf8.ValidString(got))
	}
}

func TestLastUserMessage(t *testing.T) {
	_, ok := prompt.LastUserMessage(nil)
	assert.False(t, ok)

	got, ok := prompt.LastUserMessage([]models.Message{
		models.UserMessage("first"),
		models.AssistantMessage("reply"),
		models.UserMessage("second"),
		models.SystemMessage("context"),
	})
	assert.True(t, ok)
	assert.Equal(t, "second", got)
}
