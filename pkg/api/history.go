package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/supporttools/GoSQLKeeper/pkg/database/metadata"
)

// historyResponse is the response structure for a history record
type historyResponse struct {
	ID           string     `json:"id"`
	ServerID     string     `json:"server_id"`
	JobID        string     `json:"job_id,omitempty"`
	Kind         string     `json:"kind"`
	Status       string     `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	FilePath     string     `json:"file_path,omitempty"`
	FileSize     int64      `json:"file_size"`
	SizeHuman    string     `json:"size_human,omitempty"`
	Description  string     `json:"description,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

func convertHistoryToResponse(rec *metadata.HistoryRecord) historyResponse {
	resp := historyResponse{
		ID:           rec.ID,
		ServerID:     rec.ServerID,
		Kind:         rec.Kind,
		Status:       rec.Status,
		StartedAt:    rec.StartedAt,
		CompletedAt:  rec.CompletedAt,
		FilePath:     rec.FilePath,
		FileSize:     rec.FileSize,
		Description:  rec.Description,
		ErrorMessage: rec.ErrorMessage,
	}
	if rec.JobID != nil {
		resp.JobID = *rec.JobID
	}
	if rec.FileSize > 0 {
		resp.SizeHuman = humanize.Bytes(uint64(rec.FileSize))
	}
	return resp
}

// handleHistory lists history records, newest first
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	if !h.requireMethod(w, r, http.MethodGet) {
		return
	}

	query := r.URL.Query()
	filter := metadata.HistoryFilter{
		JobID:    query.Get("job_id"),
		ServerID: query.Get("server_id"),
		Status:   query.Get("status"),
	}
	if limit := query.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			h.sendError(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		filter.Limit = n
	}

	records, err := h.Service.ListHistory(filter)
	if err != nil {
		h.sendFailure(w, err)
		return
	}

	response := make([]historyResponse, 0, len(records))
	for i := range records {
		response = append(response, convertHistoryToResponse(&records[i]))
	}
	h.sendOK(w, fmt.Sprintf("%d records", len(response)), response)
}

// handleRestore queues a restore from a successful backup
func (h *Handler) handleRestore(w http.ResponseWriter, r *http.Request) {
	if !h.requireMethod(w, r, http.MethodPost) {
		return
	}
	id, ok := h.requireID(w, r)
	if !ok {
		return
	}

	restoreID, err := h.Service.RestoreFrom(id)
	if err != nil {
		h.sendFailure(w, err)
		return
	}
	h.Logger.WithField("history_id", id).Infof("Restore queued as %s", restoreID)
	h.sendOK(w, "Restore started", map[string]string{"history_id": restoreID})
}

// handleDeleteHistory deletes a history record and optionally its file
func (h *Handler) handleDeleteHistory(w http.ResponseWriter, r *http.Request) {
	if !h.requireMethod(w, r, http.MethodPost) {
		return
	}
	id, ok := h.requireID(w, r)
	if !ok {
		return
	}
	deleteFile := r.URL.Query().Get("deleteFile") == "true"

	if err := h.Service.DeleteHistory(id, deleteFile); err != nil {
		h.sendFailure(w, err)
		return
	}
	h.Logger.WithField("history_id", id).Info("History record deleted")
	h.sendOK(w, "History record deleted", nil)
}
