package server

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/voicekit/speechd/internal/audio"
	"github.com/voicekit/speechd/internal/core"
	"github.com/voicekit/speechd/internal/generation"
)

// Streaming delivery modes.
const (
	streamModeSSE     = "sse"
	streamModeChunked = "chunked"
)

// streamingWAVDataSize is the placeholder RIFF data length for a stream whose
// final size is unknown when the header goes out.
const streamingWAVDataSize = 0xFFFFFFFF

// sseEvent is one server-sent message. Audio carries base64 16-bit PCM.
type sseEvent struct {
	ChunkID    int    `json:"chunk_id"`
	Audio      string `json:"audio,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Done       bool   `json:"done,omitempty"`
	Error      string `json:"error,omitempty"`
}

// streamSSE delivers audio as server-sent events: one base64 PCM event per
// chunk, then a done or error event.
func (s *Server) streamSSE(w http.ResponseWriter, r *http.Request, req generation.Request) {
	session, err := s.coordinator.Submit(r.Context(), req)
	if err != nil {
		s.writeError(w, err)

		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		session.Cancel()
		s.writeError(w, fmt.Errorf("%w: response writer does not support streaming",
			core.ErrValidation))

		return
	}

	w.Header().Set(headerContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for chunk := range session.Chunks() {
		event := sseEvent{ChunkID: chunk.Index}

		switch {
		case chunk.Err != nil:
			event.Error = chunk.Err.Error()
		case chunk.Final:
			event.Done = true
		default:
			event.Audio = base64.StdEncoding.EncodeToString(
				audio.FloatToPCM16Bytes(chunk.PCM))
			event.SampleRate = chunk.SampleRate
		}

		writeErr := writeSSEEvent(w, event)
		if writeErr != nil {
			s.log.Warn("SSE consumer went away for session %s: %v",
				session.ID, writeErr)
			session.Cancel()

			break
		}

		flusher.Flush()
	}
}

// writeSSEEvent serializes one event in text/event-stream framing.
func writeSSEEvent(w http.ResponseWriter, event sseEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal SSE event: %w", err)
	}

	_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
	if err != nil {
		return fmt.Errorf("failed to write SSE event: %w", err)
	}

	return nil
}

// streamChunked delivers audio progressively over chunked transfer encoding.
// Only framings that are valid when written incrementally are supported: raw
// 16-bit PCM, or a WAV stream with a placeholder length header.
func (s *Server) streamChunked(
	w http.ResponseWriter,
	r *http.Request,
	req generation.Request,
	format audio.Format,
) {
	if format != audio.FormatPCM && format != audio.FormatWAV {
		s.writeError(w, fmt.Errorf(
			"%w: format '%s' cannot be streamed, use pcm or wav (or stream_mode sse)",
			core.ErrValidation, format))

		return
	}

	session, err := s.coordinator.Submit(r.Context(), req)
	if err != nil {
		s.writeError(w, err)

		return
	}

	flusher, _ := w.(http.Flusher)

	w.Header().Set(headerContentType, format.ContentType())
	w.Header().Set(headerSampleRate, fmt.Sprintf("%d", core.InternalSampleRate))
	w.WriteHeader(http.StatusOK)

	if format == audio.FormatWAV {
		header := audio.WrapPCMAsWAV(nil, core.InternalSampleRate, 1, 16)
		patchStreamingWAVHeader(header)

		_, err = w.Write(header)
		if err != nil {
			session.Cancel()
			s.drain(session)

			return
		}
	}

	for chunk := range session.Chunks() {
		if chunk.Err != nil {
			// Headers are gone; all we can do is cut the stream short.
			s.log.Error("Streaming session %s failed: %v", session.ID, chunk.Err)

			return
		}

		if len(chunk.PCM) == 0 {
			continue
		}

		_, err = w.Write(audio.FloatToPCM16Bytes(chunk.PCM))
		if err != nil {
			s.log.Warn("Streaming consumer went away for session %s: %v",
				session.ID, err)
			session.Cancel()
			s.drain(session)

			return
		}

		if flusher != nil {
			flusher.Flush()
		}
	}
}

// drain consumes a cancelled session's remaining chunks so its producer can
// finish and release the generation lock.
func (s *Server) drain(session *generation.Session) {
	for range session.Chunks() {
	}
}

// patchStreamingWAVHeader rewrites the RIFF and data sizes to the streaming
// placeholder, the convention players accept for unbounded WAV streams.
func patchStreamingWAVHeader(header []byte) {
	putLE32(header[4:8], streamingWAVDataSize)
	putLE32(header[40:44], streamingWAVDataSize)
}

// putLE32 writes a uint32 in little-endian format.
func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
