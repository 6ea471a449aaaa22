package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/voicekit/speechd/internal/audio"
	"github.com/voicekit/speechd/internal/core"
	"github.com/voicekit/speechd/internal/generation"
	"github.com/voicekit/speechd/internal/script"
)

// speechRequest is the OpenAI-compatible payload for single-speaker speech.
type speechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format,omitempty"`
	Speed          float64 `json:"speed,omitempty"`
	Stream         bool    `json:"stream,omitempty"`
}

// generateRequest is the native multi-speaker payload. Voices assigns a
// registry voice to each speaker index in the script.
type generateRequest struct {
	Script            string   `json:"script"`
	Voices            []string `json:"voices"`
	CFGScale          float64  `json:"cfg_scale,omitempty"`
	InferenceSteps    int      `json:"inference_steps,omitempty"`
	DoSample          *bool    `json:"do_sample,omitempty"`
	Temperature       float64  `json:"temperature,omitempty"`
	TopP              float64  `json:"top_p,omitempty"`
	TopK              int      `json:"top_k,omitempty"`
	RepetitionPenalty float64  `json:"repetition_penalty,omitempty"`
	Seed              int64    `json:"seed,omitempty"`
	Format            string   `json:"format,omitempty"`
	Speed             float64  `json:"speed,omitempty"`
	Stream            bool     `json:"stream,omitempty"`
	StreamMode        string   `json:"stream_mode,omitempty"`
}

// handleSpeech serves the OpenAI-compatible endpoint. The input is treated as
// a single-speaker script; pause directives still apply.
func (s *Server) handleSpeech(w http.ResponseWriter, r *http.Request) {
	var req speechRequest

	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: invalid JSON body: %v", core.ErrValidation, err))

		return
	}

	if req.Input == "" {
		s.writeError(w, fmt.Errorf("%w: input is required", core.ErrValidation))

		return
	}

	voiceName := req.Voice
	if voiceName == "" {
		voiceName = s.registry.DefaultVoice()
	}

	format, err := s.resolveFormat(req.ResponseFormat)
	if err != nil {
		s.writeError(w, err)

		return
	}

	genReq := generation.Request{
		Script: script.FormatSingleSpeaker(req.Input),
		Voices: []string{voiceName},
		Speed:  req.Speed,
	}

	if req.Stream {
		s.streamChunked(w, r, genReq, format)

		return
	}

	s.respondBuffered(w, r, genReq, format)
}

// handleGenerate serves the native multi-speaker endpoint with optional
// streaming delivery.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest

	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: invalid JSON body: %v", core.ErrValidation, err))

		return
	}

	if req.Script == "" {
		s.writeError(w, fmt.Errorf("%w: script is required", core.ErrValidation))

		return
	}

	format, err := s.resolveFormat(req.Format)
	if err != nil {
		s.writeError(w, err)

		return
	}

	genReq := generation.Request{
		Script: req.Script,
		Voices: req.Voices,
		Speed:  req.Speed,
		Params: core.SynthesisParams{
			CFGScale:          req.CFGScale,
			InferenceSteps:    req.InferenceSteps,
			DoSample:          req.DoSample,
			Temperature:       req.Temperature,
			TopP:              req.TopP,
			TopK:              req.TopK,
			RepetitionPenalty: req.RepetitionPenalty,
			Seed:              req.Seed,
		},
	}

	if req.Stream {
		switch req.StreamMode {
		case streamModeSSE:
			s.streamSSE(w, r, genReq)
		case "", streamModeChunked:
			s.streamChunked(w, r, genReq, format)
		default:
			s.writeError(w, fmt.Errorf("%w: unknown stream_mode '%s'",
				core.ErrValidation, req.StreamMode))
		}

		return
	}

	s.respondBuffered(w, r, genReq, format)
}

// respondBuffered generates the full waveform, encodes it, and sends it as
// one response.
func (s *Server) respondBuffered(
	w http.ResponseWriter,
	r *http.Request,
	req generation.Request,
	format audio.Format,
) {
	pcm, rate, err := s.coordinator.Generate(r.Context(), req)
	if err != nil {
		s.writeError(w, err)

		return
	}

	encoded, err := audio.Encode(r.Context(), pcm, rate, format)
	if err != nil {
		s.writeError(w, err)

		return
	}

	w.Header().Set(headerContentType, format.ContentType())
	w.Header().Set(headerContentDisposition,
		fmt.Sprintf("attachment; filename=speech.%s", format))
	w.Header().Set(headerSampleRate, fmt.Sprintf("%d", rate))
	w.Header().Set(headerAudioDuration,
		fmt.Sprintf("%.3f", audio.Duration(pcm, rate)))

	_, err = w.Write(encoded)
	if err != nil {
		s.log.Warn("Failed to write audio response: %v", err)
	}
}

// resolveFormat parses the requested format, falling back to the configured
// default.
func (s *Server) resolveFormat(name string) (audio.Format, error) {
	if name == "" {
		return s.defaultFormat, nil
	}

	format, err := audio.ParseFormat(name)
	if err != nil {
		return "", fmt.Errorf("%w: unsupported format '%s'", core.ErrValidation, name)
	}

	return format, nil
}

// handleOpenAIVoices lists voice names in the flat shape OpenAI-style
// clients expect: aliases first, then preset names.
func (s *Server) handleOpenAIVoices(w http.ResponseWriter, _ *http.Request) {
	infos := s.registry.List()
	names := make([]string, 0, len(infos)*2)

	for _, info := range infos {
		names = append(names, info.Aliases...)
	}

	for _, info := range infos {
		if info.Available {
			names = append(names, info.Name)
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"voices": names})
}

// handleVoices lists full preset details.
func (s *Server) handleVoices(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"voices": s.registry.List()})
}
