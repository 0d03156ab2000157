package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/salinlabs/salin-core/internal/session"
	"github.com/salinlabs/salin-core/internal/translate"
)

// Orchestrator is the session surface the API reads.
type Orchestrator interface {
	Status() session.Snapshot
}

// Translator runs one translation request.
type Translator interface {
	Invoke(ctx context.Context, req translate.Request) (translate.Result, error)
}

// Detector resolves a language code for raw text.
type Detector interface {
	Detect(ctx context.Context, text string) (string, error)
}

// AssistantAPI is the assistant surface exposed over HTTP.
type AssistantAPI interface {
	Available() bool
	Processing() bool
	Submit(ctx context.Context, query, outputLang string, online, speak bool)
}

// Speaker voices explicit speak requests.
type Speaker interface {
	Enqueue(text, language string)
}

// Server mounts the JSON API and the websocket hub.
type Server struct {
	session   Orchestrator
	pipeline  Translator
	detector  Detector
	assistant AssistantAPI
	speaker   Speaker
	hub       *Hub
	log       *slog.Logger
}

func NewServer(sess Orchestrator, pipeline Translator, detector Detector, assistant AssistantAPI, spk Speaker, hub *Hub, log *slog.Logger) *Server {
	return &Server{
		session:   sess,
		pipeline:  pipeline,
		detector:  detector,
		assistant: assistant,
		speaker:   spk,
		hub:       hub,
		log:       log.With(slog.String("component", "gateway")),
	}
}

// Register mounts every route on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/translate", s.handleTranslate)
	mux.HandleFunc("/api/detect-language", s.handleDetect)
	mux.HandleFunc("/api/speak", s.handleSpeak)
	mux.HandleFunc("/api/assistant", s.handleAssistant)
	mux.HandleFunc("/api/assistant-status", s.handleAssistantStatus)
	mux.HandleFunc("/api/command", s.handleCommand)
	mux.Handle("/ws", s.hub)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}
	writeJSON(w, http.StatusOK, s.session.Status())
}

type translateRequest struct {
	Text       string `json:"text"`
	SourceLang string `json:"source_lang"`
	TargetLang string `json:"target_lang"`
}

func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	var req translateRequest
	if !decodePost(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "no text provided")
		return
	}
	st := s.session.Status()
	if req.SourceLang == "" {
		req.SourceLang = st.InputLanguage
	}
	if req.TargetLang == "" {
		req.TargetLang = st.OutputLanguage
	}
	res, err := s.pipeline.Invoke(r.Context(), translate.Request{
		Text:       req.Text,
		SourceLang: req.SourceLang,
		TargetLang: req.TargetLang,
		Online:     st.Online,
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type detectRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	var req detectRequest
	if !decodePost(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "no text provided")
		return
	}
	lang, err := s.detector.Detect(r.Context(), req.Text)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"language": lang})
}

type speakRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	var req speakRequest
	if !decodePost(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "no text provided")
		return
	}
	if req.Language == "" {
		req.Language = s.session.Status().OutputLanguage
	}
	s.speaker.Enqueue(req.Text, req.Language)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

type assistantRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleAssistant(w http.ResponseWriter, r *http.Request) {
	var req assistantRequest
	if !decodePost(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "no query text provided")
		return
	}
	if !s.assistant.Available() {
		writeError(w, http.StatusServiceUnavailable, "assistant is not available")
		return
	}
	st := s.session.Status()
	go s.assistant.Submit(context.Background(), req.Text, st.OutputLanguage, st.Online, st.Kiosk)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "processing"})
}

func (s *Server) handleAssistantStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{
		"available":  s.assistant.Available(),
		"processing": s.assistant.Processing(),
	})
}

type commandRequest struct {
	Command string `json:"command"`
	Key     string `json:"key"`
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if !decodePost(w, r, &req) {
		return
	}
	var err error
	switch {
	case req.Command != "":
		err = s.hub.commands.DispatchNamed(r.Context(), req.Command)
	case req.Key != "":
		err = s.hub.commands.DispatchKey(r.Context(), req.Key)
	default:
		writeError(w, http.StatusBadRequest, "command or key required")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodePost(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
