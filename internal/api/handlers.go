package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/certstack/delcert/internal/models"
	"github.com/certstack/delcert/internal/services"
)

// wireSequence is the request representation of one input sequence.
type wireSequence struct {
	ID      string       `json:"id"`
	Tokens  []int32      `json:"tokens"`
	Regions []wireRegion `json:"regions,omitempty"`
}

type wireRegion struct {
	Name  string `json:"name"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

func (w wireSequence) toModel() (models.Sequence, error) {
	if w.ID == "" {
		return models.Sequence{}, errors.New("sequence id is required")
	}
	seq := models.Sequence{ID: w.ID, Tokens: w.Tokens}
	for _, r := range w.Regions {
		seq.Regions = append(seq.Regions, models.ProtectedRegion{Name: r.Name, Start: r.Start, End: r.End})
	}
	if err := seq.ValidateRegions(); err != nil {
		return models.Sequence{}, fmt.Errorf("sequence %s: %w", w.ID, err)
	}
	return seq, nil
}

type certifyRequest struct {
	Sequences []wireSequence `json:"sequences"`
}

type certifyResponse struct {
	Results []models.CertificationResult `json:"results"`
}

type calibrateRequest struct {
	Sequences  []wireSequence `json:"sequences"`
	TargetFPR  float64        `json:"target_fpr"`
	Confidence float64        `json:"confidence"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type handlers struct {
	svc    *services.CertifierService
	logger *slog.Logger
}

func (h *handlers) certify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req certifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	seqs, err := decodeSequences(req.Sequences)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	results, err := h.svc.Certify(r.Context(), seqs)
	if err != nil {
		h.logger.Error("certification request failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "certification failed")
		return
	}
	writeJSON(w, http.StatusOK, certifyResponse{Results: results})
}

func (h *handlers) calibrate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req calibrateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	seqs, err := decodeSequences(req.Sequences)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	record, err := h.svc.Calibrate(r.Context(), seqs, req.TargetFPR, req.Confidence)
	if err != nil {
		h.logger.Error("calibration request failed", slog.Any("error", err))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (h *handlers) calibration(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	record, err := h.svc.LatestCalibration()
	if errors.Is(err, services.ErrNoCalibration) {
		writeError(w, http.StatusNotFound, "no calibration artifact")
		return
	}
	if err != nil {
		h.logger.Error("calibration lookup failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "calibration lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeSequences(wire []wireSequence) ([]models.Sequence, error) {
	if len(wire) == 0 {
		return nil, errors.New("at least one sequence is required")
	}
	seqs := make([]models.Sequence, 0, len(wire))
	for _, ws := range wire {
		seq, err := ws.toModel()
		if err != nil {
			return nil, err
		}
		seqs = append(seqs, seq)
	}
	return seqs, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
