package lyrics

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLLM struct {
	name    string
	answer  string
	err     error
	calls   int
	lastSys string
	lastUsr string
}

func (f *fakeLLM) Generate(_ context.Context, systemPrompt, userPrompt string) (string, error) {
	f.calls++
	f.lastSys = systemPrompt
	f.lastUsr = userPrompt
	return f.answer, f.err
}

func (f *fakeLLM) Name() string { return f.name }

func TestExtractBlocks(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantLyr   string
		wantStyle string
	}{
		{
			name:      "two blocks",
			raw:       "ТЕКСТ ПЕСНИ:\n```[verse]\nстрока один```\n\nPROMPT ДЛЯ SUNO:\n```dream pop, female vocals```",
			wantLyr:   "[verse]\nстрока один",
			wantStyle: "dream pop, female vocals",
		},
		{
			name:    "one block",
			raw:     "```только текст```",
			wantLyr: "только текст",
		},
		{
			name:    "no blocks falls back to whole answer",
			raw:     "просто текст без ограждений",
			wantLyr: "просто текст без ограждений",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lyr, style := ExtractBlocks(tt.raw)
			assert.Equal(t, tt.wantLyr, lyr)
			assert.Equal(t, tt.wantStyle, style)
		})
	}
}

func TestGenerate_FallsThroughChain(t *testing.T) {
	broken := &fakeLLM{name: "gpt-5.1@comet", err: errors.New("boom")}
	working := &fakeLLM{name: "gpt-5-mini", answer: "```текст```\n```style```"}

	gen := NewGenerator(broken, working)
	pack, err := gen.Generate(context.Background(), Request{Story: "история"})
	require.NoError(t, err)

	assert.Equal(t, 1, broken.calls)
	assert.Equal(t, 1, working.calls)
	assert.Equal(t, "gpt-5-mini", pack.UsedModel)
	assert.Equal(t, "текст", pack.Lyrics)
	assert.Equal(t, "style", pack.StylePrompt)
	assert.NotEmpty(t, pack.NegativePrompt)
}

func TestGenerate_AllBackendsFailed(t *testing.T) {
	gen := NewGenerator(&fakeLLM{name: "a", err: errors.New("x")}, &fakeLLM{name: "b", err: errors.New("y")})
	_, err := gen.Generate(context.Background(), Request{Story: "история"})
	assert.ErrorIs(t, err, ErrAllBackendsFailed)
}

func TestGenerate_EditPromptCarriesContext(t *testing.T) {
	llm := &fakeLLM{name: "m", answer: "```x```"}
	gen := NewGenerator(llm)

	_, err := gen.Generate(context.Background(), Request{
		Story:      "про брата",
		PrevLyrics: "старый текст",
		ClientEdit: "сделай веселее",
	})
	require.NoError(t, err)

	assert.Contains(t, llm.lastUsr, "про брата")
	assert.Contains(t, llm.lastUsr, "старый текст")
	assert.Contains(t, llm.lastUsr, "сделай веселее")
	assert.Contains(t, llm.lastUsr, "НЕ начинай заново")
}

func TestGenerate_FirstVersionPrompt(t *testing.T) {
	llm := &fakeLLM{name: "m", answer: "```x```"}
	gen := NewGenerator(llm)

	_, err := gen.Generate(context.Background(), Request{Story: "про сестру"})
	require.NoError(t, err)

	assert.Contains(t, llm.lastUsr, "ПЕРВУЮ версию")
	assert.Contains(t, llm.lastUsr, "про сестру")
	assert.NotContains(t, llm.lastUsr, "ПРЕДЫДУЩИЙ ТЕКСТ")
	assert.Equal(t, SystemPrompt, llm.lastSys)
}

func TestCollapseAnnotations(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"[Verse - melancholic, male vocal]", "[verse]"},
		{"[Chorus - big, anthemic]", "[chorus]"},
		{"[Pre-Chorus - soft]", "[pre-chorus]"},
		{"[Bridge]", "[bridge]"},
		{"[Guitar Solo - wild]", "[guitar]"},
		{"обычный текст", "обычный текст"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CollapseAnnotations(tt.in), tt.in)
	}
}

func TestFirstLineTitle(t *testing.T) {
	assert.Equal(t, "Custom Track", FirstLineTitle(""))
	assert.Equal(t, "Custom Track", FirstLineTitle("  \n\n "))
	assert.Equal(t, "Первая строка", FirstLineTitle("Первая строка\nВторая строка"))

	long := strings.Repeat("я", 100)
	title := FirstLineTitle(long)
	assert.Equal(t, 60, len([]rune(title)))
}
