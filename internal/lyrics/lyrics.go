// Package lyrics turns a user's story into a song pack: lyrics plus a Suno
// style prompt, extracted from the raw answer of whichever LLM backend in the
// fallback chain responds first.
package lyrics

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/songbot-dev/songbot/internal/provider"
)

// ErrAllBackendsFailed is returned when every LLM in the chain failed.
var ErrAllBackendsFailed = errors.New("all llm backends failed")

// SystemPrompt is the shared instruction set for lyric generation. The model
// must answer with two fenced blocks: the song text, then the Suno style
// prompt (English, no names, with the mandatory quality tail).
const SystemPrompt = `Пишем тексты песен для людей по их небольшим предысториям. Текст песни на русском, ` +
	`аннотации блоков (куплет, припев, бридж) на английском в квадратных скобках через дефис, ` +
	`например [verse - melancholic, radio effect, male]. Цифры прописывать буквами. ` +
	`Структура песни свободная, исходя из истории и вайба клиента; рифмы сильные, текст с душой. ` +
	`Если клиент прислал готовый стих длиннее шестнадцати строк — сохранить его текст, только разметить блоки. ` +
	`Выводить строго два блока: сначала 'ТЕКСТ ПЕСНИ:' и code block c текстом, затем 'PROMPT ДЛЯ SUNO:' и ` +
	`code block со стилем на английском без имён, в конце промпта хвост качества: high quality song, ` +
	`crystal clean quality, best quality voice, best quality music, best quality instruments, ` +
	`high sample rate 2822400 Hz quality song, perfect quality mixing, perfect sound panning, ` +
	`excellent sound equalization, professional sound mastering (-9 lufs), output level -0.2db.`

// negativePrompt is appended to every music submission.
const negativePrompt = "bad low quality, mutated robotic voice, dirty poor mixing and mastering, " +
	"bad low quality, noisy, slurred speech, lifeless, unnatural tone, low sampling rate, " +
	"artificial grainy crackling cheap sound."

// Pack is one generated artifact set. The fields are always stored together.
type Pack struct {
	Lyrics         string
	StylePrompt    string
	NegativePrompt string
	UsedModel      string
	Raw            string
}

// Request describes what to generate. PrevLyrics and ClientEdit are both set
// on the edit flow and both empty on the first version.
type Request struct {
	Story      string
	PrevLyrics string
	ClientEdit string
}

// Generator runs a request down an ordered chain of LLM backends.
type Generator struct {
	Chain []provider.LLMProvider
}

// NewGenerator builds a generator over the given fallback chain.
func NewGenerator(chain ...provider.LLMProvider) *Generator {
	return &Generator{Chain: chain}
}

// Generate produces a song pack, falling through the chain until a backend
// answers. The edit flow passes story, previous lyrics and the client's
// instructions so the model updates in place instead of starting over.
func (g *Generator) Generate(ctx context.Context, req Request) (*Pack, error) {
	userPrompt := buildUserPrompt(req)

	var raw, usedModel string
	for _, llm := range g.Chain {
		answer, err := llm.Generate(ctx, SystemPrompt, userPrompt)
		if err != nil {
			log.Printf("lyrics: backend %s failed: %v", llm.Name(), err)
			continue
		}
		raw = answer
		usedModel = llm.Name()
		break
	}
	if raw == "" {
		return nil, ErrAllBackendsFailed
	}

	lyricsText, stylePrompt := ExtractBlocks(raw)
	log.Printf("lyrics: song text generated with model %s", usedModel)

	return &Pack{
		Lyrics:         lyricsText,
		StylePrompt:    stylePrompt,
		NegativePrompt: negativePrompt,
		UsedModel:      usedModel,
		Raw:            raw,
	}, nil
}

func buildUserPrompt(req Request) string {
	if req.PrevLyrics != "" && req.ClientEdit != "" {
		return fmt.Sprintf(
			"У клиента уже есть черновик песни. Твоя задача — ОБНОВИТЬ текст и Suno-промпт по правкам клиента. "+
				"НЕ начинай заново. Сохрани историю, имена, вайб.\n\n"+
				"ИСТОРИЯ:\n%s\n\nПРЕДЫДУЩИЙ ТЕКСТ:\n%s\n\nПРАВКИ КЛИЕНТА:\n%s\n\n"+
				"Выведи строго два блока: сначала 'ТЕКСТ ПЕСНИ:' + ```...```, затем пустая строка, затем "+
				"'PROMPT ДЛЯ SUNO:' + ```...``` (англ, без имён), как указано в правилах.",
			req.Story, req.PrevLyrics, req.ClientEdit,
		)
	}
	return fmt.Sprintf(
		"Нужно написать ПЕРВУЮ версию песни по истории клиента.\n\n"+
			"ИСТОРИЯ:\n%s\n\n"+
			"Соблюдай формат: 'ТЕКСТ ПЕСНИ:' + ```...```, пустая строка, 'PROMPT ДЛЯ SUNO:' + ```...``` "+
			"(англ, без имён), и в конце промпта добавь обязательный хвост качества.",
		req.Story,
	)
}

var fencedBlockRe = regexp.MustCompile("(?s)```(.*?)```")

// ExtractBlocks pulls the two fenced blocks out of a raw model answer: the
// first is the lyrics, the second the style prompt. With no blocks at all the
// whole answer is treated as lyrics.
func ExtractBlocks(raw string) (lyricsText, stylePrompt string) {
	matches := fencedBlockRe.FindAllStringSubmatch(raw, -1)

	if len(matches) >= 1 {
		lyricsText = strings.TrimSpace(matches[0][1])
	}
	if len(matches) >= 2 {
		stylePrompt = strings.TrimSpace(matches[1][1])
	}

	if lyricsText == "" {
		lyricsText = raw
	}

	return lyricsText, stylePrompt
}

var annotationRe = regexp.MustCompile(`\[(.*?)\]`)

var canonicalSections = map[string]bool{
	"verse": true, "chorus": true, "bridge": true, "intro": true, "outro": true,
	"pre-chorus": true, "post-chorus": true, "pre chorus": true, "post chorus": true,
}

// CollapseAnnotations shortens [verse - melancholic, male] style annotations
// to [verse] for the user-facing copy of the lyrics.
func CollapseAnnotations(text string) string {
	return annotationRe.ReplaceAllStringFunc(text, func(m string) string {
		inside := strings.TrimSuffix(strings.TrimPrefix(m, "["), "]")
		head := strings.TrimSpace(strings.SplitN(inside, "-", 2)[0])
		headLow := strings.ToLower(head)
		if canonicalSections[headLow] {
			return "[" + strings.ReplaceAll(headLow, " ", "-") + "]"
		}
		fields := strings.Fields(head)
		if len(fields) == 0 {
			return m
		}
		return "[" + strings.ToLower(fields[0]) + "]"
	})
}

// FirstLineTitle guesses a track title from the first lyrics line.
func FirstLineTitle(lyricsText string) string {
	trimmed := strings.TrimSpace(lyricsText)
	if trimmed == "" {
		return "Custom Track"
	}
	first := strings.SplitN(trimmed, "\n", 2)[0]
	first = strings.TrimSpace(strings.ReplaceAll(first, "\r", " "))
	if r := []rune(first); len(r) > 60 {
		first = string(r[:60])
	}
	if first == "" {
		return "Custom Track"
	}
	return first
}
