package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/dunamismax/nanoimg/internal/nano"
)

const (
	HeaderInputBytes  = "X-Nanoimg-Input-Bytes"
	HeaderOutputBytes = "X-Nanoimg-Output-Bytes"
	HeaderChannels    = "X-Nanoimg-Channels"
	HeaderPreset      = "X-Nanoimg-Preset"
)

// handleOptimize runs the optimizer inline on the request body and answers
// with the encoded PNG.
func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	if s.optimizer == nil {
		writeError(w, http.StatusServiceUnavailable, "optimizer is unavailable")
		return
	}

	presetName := strings.TrimSpace(r.URL.Query().Get("preset"))
	if presetName == "" {
		presetName = s.defaultPreset
	}
	cfg, err := nano.Preset(presetName)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxUpload))
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "image exceeds upload limit of "+strconv.FormatInt(tooLarge.Limit, 10)+" bytes")
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	case len(body) == 0:
		writeError(w, http.StatusBadRequest, "request body must contain an image")
		return
	}

	result, err := s.optimizer.Optimize(r.Context(), nano.Request{InputBuffer: body, Config: &cfg})
	if err != nil {
		status := optimizeErrorStatus(err)
		if status == http.StatusInternalServerError {
			s.logger.Printf("optimize failed preset=%s input_bytes=%d err=%v", presetName, len(body), err)
		}
		s.metrics.observeOptimize(presetLabel(presetName), status, len(body), 0)
		writeError(w, status, err.Error())
		return
	}

	s.metrics.observeOptimize(presetLabel(presetName), http.StatusOK, result.InputBytes, result.OutputBytes)

	h := w.Header()
	h.Set("Content-Type", "image/png")
	h.Set("Content-Length", strconv.Itoa(len(result.Data)))
	h.Set(HeaderInputBytes, strconv.Itoa(result.InputBytes))
	h.Set(HeaderOutputBytes, strconv.Itoa(result.OutputBytes))
	h.Set(HeaderChannels, strconv.Itoa(result.Channels))
	h.Set(HeaderPreset, presetLabel(presetName))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func optimizeErrorStatus(err error) int {
	switch {
	case errors.Is(err, nano.ErrDecode):
		return http.StatusUnprocessableEntity
	case errors.Is(err, nano.ErrInvalidConfig), errors.Is(err, nano.ErrInvalidInputSpec):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func presetLabel(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return nano.PresetDefault
	}
	return name
}
