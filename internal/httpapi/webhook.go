package httpapi

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/songbot-dev/songbot/internal/engine"
	"github.com/songbot-dev/songbot/internal/session"
)

// flow names the tier a route serves.
type flow struct {
	name        string // "main-basic", "premium-v2", "v1-mini"
	tier        session.Tier
	storyFields []string // story source priority per tier
	editFields  []string // button/edit source priority per tier
}

// payload is the raw webhook body. The platform sends fields as strings or
// nested objects depending on the form builder; objects are re-encoded to
// JSON text the way the forms historically behaved.
type payload map[string]any

func (p payload) str(keys ...string) string {
	for _, k := range keys {
		v, ok := p[k]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case string:
			if s := strings.TrimSpace(t); s != "" {
				return s
			}
		default:
			raw, err := json.Marshal(t)
			if err == nil && len(raw) > 0 && string(raw) != "{}" && string(raw) != "null" {
				return strings.TrimSpace(string(raw))
			}
		}
	}
	return ""
}

// mergeStory joins a form field with its "additional details" companion.
func mergeStory(form, dop string) string {
	switch {
	case form != "" && dop != "":
		return form + "\n" + dop
	case form != "":
		return form
	default:
		return dop
	}
}

func (s *Server) handleBasic(w http.ResponseWriter, r *http.Request) {
	// Budget tier: lyrics via OpenAI, music via FoxAI, form2/form3 ignored.
	s.processIncoming(w, r, flow{
		name: "main-basic",
		tier: session.Tier{
			Provider:    "foxai",
			UseCometLLM: false,
		},
		storyFields: []string{"base"},
		editFields:  []string{"compform"},
	})
}

func (s *Server) handlePremium(w http.ResponseWriter, r *http.Request) {
	// Premium tier: Comet LLM + Comet music when the key is usable,
	// otherwise the same careful fallback to OpenAI + FoxAI as basic.
	cometOK := s.cfg.CometUsable()
	providerName := "foxai"
	modelVersion := ""
	if s.cfg.Comet.UseComet && cometOK {
		providerName = "comet"
		modelVersion = s.cfg.Comet.ModelVersion
	}
	s.processIncoming(w, r, flow{
		name: "premium-v2",
		tier: session.Tier{
			Provider:     providerName,
			ModelVersion: modelVersion,
			LLMModel:     s.cfg.Comet.LLMModelPremium,
			UseCometLLM:  s.cfg.Comet.UseCometLLM && cometOK,
		},
		storyFields: []string{"pro", "base"},
		editFields:  []string{"compform2", "compform"},
	})
}

func (s *Server) handleMini(w http.ResponseWriter, r *http.Request) {
	cometOK := s.cfg.CometUsable()
	providerName := "foxai"
	modelVersion := ""
	if s.cfg.Comet.UseComet && cometOK {
		providerName = "comet"
		modelVersion = s.cfg.Comet.MiniModelVersion
	}
	s.processIncoming(w, r, flow{
		name: "v1-mini",
		tier: session.Tier{
			Provider:     providerName,
			ModelVersion: modelVersion,
			LLMModel:     s.cfg.Comet.LLMModelMini,
			UseCometLLM:  s.cfg.Comet.UseCometLLM && cometOK,
		},
		storyFields: []string{"mini", "base"},
		editFields:  []string{"compform3", "compform2", "compform"},
	})
}

// storyText picks the story source in the flow's priority order, then falls
// back to free text fields.
func (f flow) storyText(p payload) string {
	for _, group := range f.storyFields {
		var merged string
		switch group {
		case "base":
			merged = mergeStory(p.str("form"), p.str("formdop", "Formdop"))
		case "pro":
			merged = mergeStory(p.str("form2"), p.str("formdop2", "Formv2dop"))
		case "mini":
			merged = mergeStory(p.str("form3"), p.str("formdop3"))
		}
		if merged != "" {
			return merged
		}
	}
	return p.str("text", "last_prompt", "message")
}

func (f flow) editText(p payload) string {
	return p.str(f.editFields...)
}

// processIncoming is the shared webhook logic for every tier route.
func (s *Server) processIncoming(w http.ResponseWriter, r *http.Request, f flow) {
	var p payload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		log.Printf("http: %s invalid json: %v", f.name, err)
		writeJSON(w, http.StatusBadRequest, engine.Outcome{Error: "bad_json"})
		return
	}

	userID := p.str("cuid")
	if userID == "" {
		log.Printf("http: %s payload without cuid", f.name)
		writeJSON(w, http.StatusOK, engine.Outcome{Error: "no_cuid"})
		return
	}

	story := f.storyText(p)
	log.Printf("http: [%s] cuid=%s provider=%s comet_llm=%v", f.name, userID, f.tier.Provider, f.tier.UseCometLLM)

	existed := s.sessions.Touch(userID)

	if delay := engine.ParseReminderDelay(p.str("Type", "type")); delay > 0 {
		s.sessions.SetReminderDelay(userID, delay)
		log.Printf("http: [%s] cuid=%s reminder delay set to %s", f.name, userID, delay)
	}

	s.sessions.AffirmTier(userID, f.tier)

	ctx := r.Context()

	// New story beats everything else.
	if story != "" && s.sessions.IsNewStory(userID, story) {
		writeJSON(w, http.StatusOK, s.eng.OnNewStory(ctx, userID, story))
		return
	}

	if !existed {
		s.eng.GreetNoSession(ctx, userID)
		writeJSON(w, http.StatusOK, engine.Outcome{Error: "no_story_yet"})
		return
	}

	edit := f.editText(p)

	if strings.EqualFold(strings.TrimSpace(edit), "ГЕНЕРИРУЙ") {
		writeJSON(w, http.StatusOK, s.eng.OnGenerateCommand(ctx, userID))
		return
	}

	if edit != "" {
		writeJSON(w, http.StatusOK, s.eng.OnEditCommand(ctx, userID, edit))
		return
	}

	// Repeated story or bare ping.
	s.eng.NudgeUnchanged(ctx, userID)
	note := "no_changes"
	if story != "" {
		note = "repeat_story_no_changes"
	}
	writeJSON(w, http.StatusOK, engine.Outcome{OK: true, Note: note})
}

// handleSong is the local test endpoint: a raw story straight into the
// premium-style flow, no platform forms involved.
func (s *Server) handleSong(w http.ResponseWriter, r *http.Request) {
	var p payload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeJSON(w, http.StatusBadRequest, engine.Outcome{Error: "bad_json"})
		return
	}

	story := p.str("story")
	if story == "" {
		writeJSON(w, http.StatusBadRequest, engine.Outcome{Error: "no_story"})
		return
	}
	userID := p.str("cuid")
	if userID == "" {
		userID = "local.test"
	}

	s.sessions.Touch(userID)
	tier := session.Tier{Provider: s.defaultProvider(), UseCometLLM: s.cfg.Comet.UseCometLLM && s.cfg.CometUsable(), LLMModel: s.cfg.Comet.LLMModelPremium}
	if tier.Provider == "comet" {
		tier.ModelVersion = s.cfg.Comet.ModelVersion
	}
	s.sessions.AffirmTier(userID, tier)

	writeJSON(w, http.StatusOK, s.eng.OnNewStory(r.Context(), userID, story))
}
