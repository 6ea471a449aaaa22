// Package engine adapts the external neural synthesis backend to the
// core.SynthesisEngine contract over HTTP. The backend accepts conditioning
// text plus reference waveforms and streams raw little-endian float32 PCM
// back as it is generated.
package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/voicekit/speechd/internal/core"
)

// API endpoints and paths.
const (
	apiSynthesize = "/v1/synthesize"
	apiHealth     = "/health"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
	contentTypePCM    = "application/octet-stream"
)

// bytesPerSample is the wire size of one little-endian float32 sample.
const bytesPerSample = 4

// streamReadSize is the read buffer for the PCM response body.
const streamReadSize = 16384

// Error messages.
const (
	errTextCannotBeEmpty     = "conditioning text cannot be empty"
	errFmtBackendErrorDetail = "backend error (%s): %s (code: %s)"
	errFmtBackendNonOKStatus = "backend returned non-OK status: %s, body: %s"
	errFmtUnexpectedContent  = "unexpected content type: expected %s, got %s"
)

// synthesisRequest is the JSON payload sent to the backend. Voice waveforms
// travel as base64-encoded little-endian float32 buffers.
type synthesisRequest struct {
	Text              string   `json:"text"`
	VoiceSamples      []string `json:"voice_samples"`
	SampleRate        int      `json:"sample_rate"`
	CFGScale          float64  `json:"cfg_scale"`
	InferenceSteps    int      `json:"inference_steps"`
	DoSample          bool     `json:"do_sample"`
	Temperature       float64  `json:"temperature"`
	TopP              float64  `json:"top_p"`
	TopK              int      `json:"top_k"`
	RepetitionPenalty float64  `json:"repetition_penalty"`
	Seed              int64    `json:"seed,omitempty"`
}

// backendErrorResponse is the structured error body the backend returns on
// failed requests.
type backendErrorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

// HTTPEngine is a core.SynthesisEngine backed by the HTTP synthesis service.
type HTTPEngine struct {
	httpClient *http.Client
	baseURL    string
}

// NewHTTPEngine configures a client for the backend at baseURL. The timeout
// bounds each complete request, including the streamed body.
func NewHTTPEngine(baseURL string, timeout time.Duration) *HTTPEngine {
	return &HTTPEngine{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Synthesize sends one conditioning request and returns a stream of PCM
// frames. The stream must be closed by the caller; closing it before the
// backend finishes aborts the request body.
func (e *HTTPEngine) Synthesize(
	ctx context.Context,
	cond core.Conditioning,
	params core.SynthesisParams,
) (core.SynthesisStream, error) {
	if cond.Text == "" {
		return nil, fmt.Errorf("%w: %s", core.ErrValidation, errTextCannotBeEmpty)
	}

	requestBody, err := json.Marshal(buildRequest(cond, params))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal synthesis request: %w", err)
	}

	url := e.baseURL + apiSynthesize

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		url,
		bytes.NewBuffer(requestBody),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create synthesis request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, contentTypePCM)

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to reach backend at %s: %v",
			core.ErrEngine, e.baseURL, err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()

		return nil, e.parseErrorResponse(resp)
	}

	contentType := resp.Header.Get(headerContentType)
	if contentType != contentTypePCM {
		_ = resp.Body.Close()

		return nil, fmt.Errorf("%w: "+errFmtUnexpectedContent,
			core.ErrEngine, contentTypePCM, contentType)
	}

	return &pcmStream{
		body: resp.Body,
		buf:  make([]byte, streamReadSize),
	}, nil
}

// Ready verifies the backend is reachable and reports healthy. Callers should
// check readiness before accepting work to fail fast with clear diagnostics.
func (e *HTTPEngine) Ready(ctx context.Context) error {
	url := e.baseURL + apiHealth

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: health check failed for backend at %s: %v",
			core.ErrEngine, e.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health check failed with status: %s",
			core.ErrEngine, resp.Status)
	}

	return nil
}

// buildRequest converts the core conditioning and parameters to the wire
// payload.
func buildRequest(cond core.Conditioning, params core.SynthesisParams) synthesisRequest {
	voiceSamples := make([]string, 0, len(cond.VoiceSamples))
	for _, waveform := range cond.VoiceSamples {
		voiceSamples = append(voiceSamples, encodeWaveform(waveform))
	}

	return synthesisRequest{
		Text:              cond.Text,
		VoiceSamples:      voiceSamples,
		SampleRate:        cond.SampleRate,
		CFGScale:          params.CFGScale,
		InferenceSteps:    params.InferenceSteps,
		DoSample:          params.DoSample != nil && *params.DoSample,
		Temperature:       params.Temperature,
		TopP:              params.TopP,
		TopK:              params.TopK,
		RepetitionPenalty: params.RepetitionPenalty,
		Seed:              params.Seed,
	}
}

// encodeWaveform packs float32 samples as base64 little-endian bytes.
func encodeWaveform(waveform []float32) string {
	raw := make([]byte, len(waveform)*bytesPerSample)
	for i, sample := range waveform {
		binary.LittleEndian.PutUint32(raw[i*bytesPerSample:], math.Float32bits(sample))
	}

	return base64.StdEncoding.EncodeToString(raw)
}

// parseErrorResponse attempts to decode a structured JSON error from the
// backend, falling back to the raw body so diagnostics are never lost.
func (e *HTTPEngine) parseErrorResponse(resp *http.Response) error {
	var errorResp backendErrorResponse

	err := json.NewDecoder(resp.Body).Decode(&errorResp)
	if err == nil {
		return fmt.Errorf("%w: "+errFmtBackendErrorDetail,
			core.ErrEngine, resp.Status, errorResp.Detail, errorResp.ErrorCode)
	}

	body, _ := io.ReadAll(resp.Body)

	return fmt.Errorf("%w: "+errFmtBackendNonOKStatus,
		core.ErrEngine, resp.Status, string(body))
}

// pcmStream reads the backend's little-endian float32 body incrementally.
// Partial samples at read boundaries are carried over to the next call.
type pcmStream struct {
	body      io.ReadCloser
	buf       []byte
	remainder []byte
}

// Next returns the next batch of decoded samples, or io.EOF when the backend
// has finished the waveform.
func (s *pcmStream) Next() ([]float32, error) {
	for {
		n, err := s.body.Read(s.buf)
		if n > 0 {
			data := append(s.remainder, s.buf[:n]...)

			frames := len(data) / bytesPerSample
			if frames == 0 {
				s.remainder = data

				continue
			}

			s.remainder = append([]byte(nil), data[frames*bytesPerSample:]...)

			samples := make([]float32, frames)
			for i := range samples {
				bits := binary.LittleEndian.Uint32(data[i*bytesPerSample:])
				samples[i] = math.Float32frombits(bits)
			}

			return samples, nil
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				if len(s.remainder) != 0 {
					return nil, fmt.Errorf(
						"%w: truncated sample at end of stream (%d trailing bytes)",
						core.ErrEngine, len(s.remainder))
				}

				return nil, io.EOF
			}

			return nil, fmt.Errorf("%w: failed to read audio stream: %v", core.ErrEngine, err)
		}
	}
}

// Close releases the underlying response body.
func (s *pcmStream) Close() error {
	err := s.body.Close()
	if err != nil {
		return fmt.Errorf("failed to close audio stream: %w", err)
	}

	return nil
}
