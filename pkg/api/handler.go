// Package api exposes job, history, server and storage operations over JSON HTTP
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/supporttools/GoSQLKeeper/pkg/database/connection"
	"github.com/supporttools/GoSQLKeeper/pkg/database/metadata"
	"github.com/supporttools/GoSQLKeeper/pkg/outcome"
)

// Service is the set of backup operations the API exposes
type Service interface {
	ListJobs() ([]metadata.Job, error)
	GetJob(jobID string) (*metadata.Job, error)
	SaveJob(job *metadata.Job) error
	RunJobNow(jobID string) error
	ToggleJob(jobID string) (bool, error)
	DeleteJob(jobID string) error

	ListHistory(f metadata.HistoryFilter) ([]metadata.HistoryRecord, error)
	RestoreFrom(historyID string) (string, error)
	DeleteHistory(historyID string, deleteFile bool) error

	ListStorageProfiles() ([]metadata.StorageProfile, error)
	SaveStorageProfile(profile *metadata.StorageProfile) error
	SetDefaultStorageProfile(id string) error
	DeleteStorageProfile(id string) error

	ListServers() ([]metadata.ServerProfile, error)
	SaveServer(server *metadata.ServerProfile) error
	DeleteServer(serverID string) error
	TestServer(ctx context.Context, serverID string) outcome.Outcome
	TestParams(ctx context.Context, p connection.Params) outcome.Outcome
}

// Response is the envelope of every API response
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Handler serves the admin API
type Handler struct {
	Service Service
	Logger  *logrus.Logger
}

// NewHandler creates a new API handler
func NewHandler(svc Service, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.New()
	}
	return &Handler{
		Service: svc,
		Logger:  logger,
	}
}

// RegisterRoutes registers the API routes on the provided mux
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/servers", h.handleServers)
	mux.HandleFunc("/api/servers/test", h.handleTestServer)
	mux.HandleFunc("/api/servers/delete", h.handleDeleteServer)

	mux.HandleFunc("/api/jobs", h.handleJobs)
	mux.HandleFunc("/api/jobs/run", h.handleRunJob)
	mux.HandleFunc("/api/jobs/toggle", h.handleToggleJob)
	mux.HandleFunc("/api/jobs/delete", h.handleDeleteJob)

	mux.HandleFunc("/api/history", h.handleHistory)
	mux.HandleFunc("/api/history/restore", h.handleRestore)
	mux.HandleFunc("/api/history/delete", h.handleDeleteHistory)

	mux.HandleFunc("/api/storage", h.handleStorage)
	mux.HandleFunc("/api/storage/default", h.handleDefaultStorage)
	mux.HandleFunc("/api/storage/delete", h.handleDeleteStorage)
}

func (h *Handler) sendJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.Logger.Errorf("Failed to encode JSON response: %v", err)
	}
}

func (h *Handler) sendOK(w http.ResponseWriter, message string, data interface{}) {
	h.sendJSON(w, Response{Success: true, Message: message, Data: data}, http.StatusOK)
}

func (h *Handler) sendError(w http.ResponseWriter, message string, status int) {
	h.sendJSON(w, Response{Success: false, Message: message}, status)
}

// sendFailure maps err to a status code by its kind
func (h *Handler) sendFailure(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch outcome.KindOf(err) {
	case outcome.NotFound:
		status = http.StatusNotFound
	case outcome.Configuration, outcome.Precondition, outcome.Scheduling:
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		h.Logger.WithError(err).Error("API request failed")
	}
	h.sendError(w, err.Error(), status)
}

// requireMethod writes 405 and returns false unless r uses method
func (h *Handler) requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		h.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// requireID returns the id query parameter or writes 400
func (h *Handler) requireID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.URL.Query().Get("id")
	if id == "" {
		h.sendError(w, "Missing required parameter: id", http.StatusBadRequest)
		return "", false
	}
	return id, true
}
