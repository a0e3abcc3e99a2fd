package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/sanonone/wayfinder/pkg/engagement"
)

// ScanRequest is an anonymous anchor scan uploaded by a device. ScanID makes
// retried uploads idempotent; devices should generate it once per scan.
type ScanRequest struct {
	ScanID    string    `json:"scanId,omitempty" validate:"omitempty,max=64"`
	DeviceID  string    `json:"deviceId,omitempty" validate:"max=128"`
	AnchorID  string    `json:"anchorId" validate:"required,max=128"`
	BoothID   string    `json:"boothId,omitempty" validate:"max=128"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// ScanResponse tells the device whether this upload was the first delivery.
type ScanResponse struct {
	ScanID   string `json:"scanId"`
	Recorded bool   `json:"recorded"`
}

// ReportRequest is a finished engagement report uploaded by a device.
type ReportRequest struct {
	ID                     string    `json:"id,omitempty" validate:"omitempty,uuid"`
	TargetID               string    `json:"targetId" validate:"required,max=128"`
	StartTime              time.Time `json:"startTime" validate:"required"`
	DwellMinutes           float64   `json:"dwellMinutes" validate:"gte=0"`
	ActiveEngagementStatus bool      `json:"activeEngagementStatus"`
}

func (s *Server) handleRecordScan(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")

	var req ScanRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ev := engagement.ScanEvent{
		ScanID:    req.ScanID,
		DeviceID:  req.DeviceID,
		AnchorID:  req.AnchorID,
		EventID:   eventID,
		BoothID:   req.BoothID,
		Timestamp: req.Timestamp,
	}
	if ev.ScanID == "" {
		ev.ScanID = engagement.NewScanID()
	}
	recorded, err := s.scans.Record(r.Context(), ev)
	if err != nil {
		s.log.Error("recording scan failed", "anchor_id", req.AnchorID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "scan not stored, retry later")
		return
	}
	writeJSON(w, http.StatusAccepted, ScanResponse{ScanID: ev.ScanID, Recorded: recorded})
}

func (s *Server) handleDeliverReport(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")

	var req ReportRequest
	if !decodeBody(w, r, &req) {
		return
	}
	rep := engagement.Report{
		ID:                     req.ID,
		TargetID:               req.TargetID,
		EventID:                eventID,
		StartTime:              req.StartTime.UTC(),
		DwellMinutes:           req.DwellMinutes,
		ActiveEngagementStatus: req.ActiveEngagementStatus,
		CreatedAt:              time.Now().UTC(),
	}
	if rep.ID == "" {
		rep.ID = uuid.NewString()
	}
	if err := s.reports.Deliver(r.Context(), rep); err != nil {
		s.log.Error("storing engagement report failed", "target_id", req.TargetID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "report not stored, retry later")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": rep.ID})
}

// decodeBody reads a bounded, strict JSON body and validates it. It writes
// the 400 itself and reports whether the caller may continue.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	if err := requestValidate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}
