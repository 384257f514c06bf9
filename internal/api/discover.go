package api

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/MrWong99/cluekeeper/internal/agent"
	"github.com/MrWong99/cluekeeper/internal/discovery"
	"github.com/MrWong99/cluekeeper/internal/scenario"
	"github.com/MrWong99/cluekeeper/pkg/provider/stt"
)

// multipartMemory is the part of an upload kept in memory before spilling
// to a temp file.
const multipartMemory = 8 << 20

type scenarioBody struct {
	Description string             `json:"description"`
	Metrics     map[string]float64 `json:"metrics"`
	Targets     map[string]float64 `json:"targets"`
	Modifiers   map[string]string  `json:"modifiers"`
}

type discoverRequest struct {
	SessionID        string            `json:"session_id"`
	AgentTitle       string            `json:"agent_title"`
	AgentDescription string            `json:"agent_description"`
	ScenarioSetting  string            `json:"scenario_setting"`
	Scenario         *scenarioBody     `json:"scenario"`
	MetricsGuide     map[string]string `json:"metrics_description"`
	TargetsGuide     map[string]string `json:"target_description"`
	Question         string            `json:"question"`
}

// missingInit lists the absent session fields in their documented order.
func (req *discoverRequest) missingInit() []string {
	var missing []string
	check := func(name string, present bool) {
		if !present {
			missing = append(missing, name)
		}
	}
	check("agent_title", strings.TrimSpace(req.AgentTitle) != "")
	check("agent_description", strings.TrimSpace(req.AgentDescription) != "")
	check("scenario_setting", strings.TrimSpace(req.ScenarioSetting) != "")
	check("scenario", req.Scenario != nil)
	check("metrics_description", req.MetricsGuide != nil)
	check("target_description", req.TargetsGuide != nil)
	return missing
}

func (req *discoverRequest) definition() scenario.Definition {
	def := scenario.Definition{
		Persona: scenario.Persona{
			Title:       req.AgentTitle,
			Description: req.AgentDescription,
			Setting:     req.ScenarioSetting,
		},
		MetricsGuide: req.MetricsGuide,
		TargetsGuide: req.TargetsGuide,
	}
	if req.Scenario != nil {
		def.Scenario = scenario.Scenario{
			Description: req.Scenario.Description,
			Metrics:     req.Scenario.Metrics,
			Targets:     req.Scenario.Targets,
			Modifiers:   req.Scenario.Modifiers,
		}
	}
	return def
}

type discoverResponse struct {
	SessionID string `json:"session_id"`
	*agent.Result
}

// Discover asks one question in a scenario session, creating the session
// from the request on first use.
func (h *Handler) Discover(w http.ResponseWriter, r *http.Request) {
	var req discoverRequest
	if !decode(w, r, &req) {
		return
	}

	sessions := h.app.Sessions()
	var missing []string
	if _, err := sessions.Get(req.SessionID); errors.Is(err, agent.ErrSessionNotFound) {
		missing = req.missingInit()
	}
	if strings.TrimSpace(req.Question) == "" {
		missing = append(missing, "question")
	}
	if len(missing) > 0 {
		fail(w, r, &MissingFieldsError{Fields: missing})
		return
	}

	sess, _, err := sessions.GetOrCreate(req.SessionID, func() (scenario.Definition, error) {
		return req.definition(), nil
	})
	if err != nil {
		fail(w, r, err)
		return
	}

	res, err := sess.Ask(r.Context(), req.Question)
	if err != nil {
		fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, discoverResponse{SessionID: sess.ID(), Result: res})
}

type statusResponse struct {
	SessionID     string           `json:"session_id"`
	Status        discovery.Status `json:"status"`
	AllDiscovered bool             `json:"all_discovered"`
	Discovered    []string         `json:"discovered"`
}

// DiscoverStatus reports the discovery progress of a session.
func (h *Handler) DiscoverStatus(w http.ResponseWriter, r *http.Request) {
	sess, err := h.app.Sessions().Get(r.URL.Query().Get("session_id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	discovered := sess.Discovered()
	if discovered == nil {
		discovered = []string{}
	}
	JSON(w, http.StatusOK, statusResponse{
		SessionID:     sess.ID(),
		Status:        sess.Status(),
		AllDiscovered: sess.AllDiscovered(),
		Discovered:    discovered,
	})
}

// ResetDiscover ends a session. The next /discover call for the same id
// starts over and must carry the session fields again.
func (h *Handler) ResetDiscover(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("session_id")
	if !h.app.Sessions().Delete(id) {
		fail(w, r, agent.ErrSessionNotFound)
		return
	}
	if id == "" {
		id = agent.DefaultSessionID
	}
	JSON(w, http.StatusOK, map[string]string{"session_id": id, "status": "reset"})
}

type transcribeResponse struct {
	discoverResponse
	Transcription string `json:"transcription"`

	// RawTranscription is what the speech model heard, set only when
	// correction changed it.
	RawTranscription string `json:"raw_transcription,omitempty"`
}

// TranscribeDiscover transcribes an uploaded question and asks it in a
// discover session. A missing session is created from the configured
// scenario.
func (h *Handler) TranscribeDiscover(w http.ResponseWriter, r *http.Request) {
	if limit := h.app.Config().Server.MaxUploadBytes; limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			fail(w, r, err)
			return
		}
		if !errors.Is(err, http.ErrNotMultipart) {
			Error(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
			return
		}
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		fail(w, r, &MissingFieldsError{Fields: []string{"audio"}})
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		fail(w, r, err)
		return
	}

	sess, _, err := h.app.Sessions().GetOrCreate(r.FormValue("session_id"), h.app.DefaultScenario)
	if err != nil {
		fail(w, r, err)
		return
	}

	tr, err := h.app.STT().Transcribe(r.Context(), stt.Audio{
		Data:     data,
		Filename: header.Filename,
		Language: r.FormValue("language"),
	})
	if err != nil {
		fail(w, r, err)
		return
	}

	question, raw := tr.Text, ""
	if !h.app.Config().Discover.Correction.Disabled {
		res := h.app.Corrector().Correct(tr.Text, sess.Catalog().Names())
		if len(res.Corrections) > 0 {
			question, raw = res.Corrected, tr.Text
		}
	}

	res, err := sess.Ask(r.Context(), question)
	if err != nil {
		fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, transcribeResponse{
		discoverResponse: discoverResponse{SessionID: sess.ID(), Result: res},
		Transcription:    question,
		RawTranscription: raw,
	})
}
