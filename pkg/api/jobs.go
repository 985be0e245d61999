package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/supporttools/GoSQLKeeper/pkg/database/metadata"
)

// storageRequest is a destination as sent and returned by the API.
// Secrets are write-only.
type storageRequest struct {
	Kind            string `json:"kind"`
	Host            string `json:"host,omitempty"`
	Port            int    `json:"port,omitempty"`
	Username        string `json:"username,omitempty"`
	Password        string `json:"password,omitempty"`
	Path            string `json:"path,omitempty"`
	KeyFile         string `json:"key_file,omitempty"`
	CredentialsFile string `json:"credentials_file,omitempty"`
	FolderID        string `json:"folder_id,omitempty"`
	Bucket          string `json:"bucket,omitempty"`
	Region          string `json:"region,omitempty"`
	Endpoint        string `json:"endpoint,omitempty"`
	PathStyle       bool   `json:"path_style,omitempty"`
}

func (s storageRequest) settings() metadata.StorageSettings {
	return metadata.StorageSettings{
		Kind:            s.Kind,
		Host:            s.Host,
		Port:            s.Port,
		Username:        s.Username,
		Password:        s.Password,
		Path:            s.Path,
		KeyFile:         s.KeyFile,
		CredentialsFile: s.CredentialsFile,
		FolderID:        s.FolderID,
		Bucket:          s.Bucket,
		Region:          s.Region,
		Endpoint:        s.Endpoint,
		PathStyle:       s.PathStyle,
	}
}

func storageFromSettings(s metadata.StorageSettings) storageRequest {
	return storageRequest{
		Kind:            s.Kind,
		Host:            s.Host,
		Port:            s.Port,
		Username:        s.Username,
		Path:            s.Path,
		KeyFile:         s.KeyFile,
		CredentialsFile: s.CredentialsFile,
		FolderID:        s.FolderID,
		Bucket:          s.Bucket,
		Region:          s.Region,
		Endpoint:        s.Endpoint,
		PathStyle:       s.PathStyle,
	}
}

// jobRequest is the request structure for creating/updating a job
type jobRequest struct {
	ID               string         `json:"id,omitempty"`
	Name             string         `json:"name"`
	ServerID         string         `json:"server_id"`
	Frequency        string         `json:"frequency"`
	TimeOfDay        string         `json:"time_of_day"`
	DayOfWeek        *int           `json:"day_of_week,omitempty"`
	DayOfMonth       *int           `json:"day_of_month,omitempty"`
	Enabled          *bool          `json:"enabled,omitempty"`
	RetainCount      *int           `json:"retain_count,omitempty"`
	NotifyEnabled    bool           `json:"notify_enabled"`
	NotifyEmail      string         `json:"notify_email,omitempty"`
	StorageProfileID string         `json:"storage_profile_id,omitempty"`
	Storage          storageRequest `json:"storage"`
}

// jobResponse is the response structure for job information
type jobResponse struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	ServerID         string         `json:"server_id"`
	ServerName       string         `json:"server_name,omitempty"`
	Frequency        string         `json:"frequency"`
	TimeOfDay        string         `json:"time_of_day"`
	DayOfWeek        *int           `json:"day_of_week,omitempty"`
	DayOfMonth       *int           `json:"day_of_month,omitempty"`
	Enabled          bool           `json:"enabled"`
	RetainCount      int            `json:"retain_count"`
	NotifyEnabled    bool           `json:"notify_enabled"`
	NotifyEmail      string         `json:"notify_email,omitempty"`
	StorageProfileID string         `json:"storage_profile_id,omitempty"`
	Storage          storageRequest `json:"storage"`
	LastRun          *time.Time     `json:"last_run,omitempty"`
	NextRun          time.Time      `json:"next_run"`
}

func convertJobToResponse(job *metadata.Job) jobResponse {
	resp := jobResponse{
		ID:            job.ID,
		Name:          job.Name,
		ServerID:      job.ServerID,
		Frequency:     job.Frequency,
		TimeOfDay:     job.TimeOfDay,
		DayOfWeek:     job.DayOfWeek,
		DayOfMonth:    job.DayOfMonth,
		Enabled:       job.Enabled,
		RetainCount:   job.RetainCount,
		NotifyEnabled: job.NotifyEnabled,
		NotifyEmail:   job.NotifyEmail,
		Storage:       storageFromSettings(job.Storage),
		LastRun:       job.LastRun,
		NextRun:       job.NextRun,
	}
	if job.Server != nil {
		resp.ServerName = job.Server.Name
	}
	if job.StorageProfileID != nil {
		resp.StorageProfileID = *job.StorageProfileID
	}
	return resp
}

// handleJobs handles GET and POST requests for job management
func (h *Handler) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listJobs(w, r)
	case http.MethodPost:
		h.saveJob(w, r)
	default:
		h.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) listJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.Service.ListJobs()
	if err != nil {
		h.sendFailure(w, err)
		return
	}

	response := make([]jobResponse, 0, len(jobs))
	for i := range jobs {
		response = append(response, convertJobToResponse(&jobs[i]))
	}
	h.sendOK(w, fmt.Sprintf("%d jobs", len(response)), response)
}

func (h *Handler) saveJob(w http.ResponseWriter, r *http.Request) {
	var req jobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	job := &metadata.Job{
		Enabled:     true,
		RetainCount: 10,
	}
	if req.ID != "" {
		existing, err := h.Service.GetJob(req.ID)
		if err != nil {
			h.sendFailure(w, err)
			return
		}
		job = existing
		job.Server = nil
		job.StorageProfile = nil
	}

	job.Name = req.Name
	job.ServerID = req.ServerID
	job.Frequency = req.Frequency
	job.TimeOfDay = req.TimeOfDay
	job.DayOfWeek = req.DayOfWeek
	job.DayOfMonth = req.DayOfMonth
	job.NotifyEnabled = req.NotifyEnabled
	job.NotifyEmail = req.NotifyEmail
	if req.Enabled != nil {
		job.Enabled = *req.Enabled
	}
	if req.RetainCount != nil {
		job.RetainCount = *req.RetainCount
	}

	job.StorageProfileID = nil
	if req.StorageProfileID != "" {
		id := req.StorageProfileID
		job.StorageProfileID = &id
	}
	settings := req.Storage.settings()
	if settings.Password == "" {
		// an omitted password keeps the stored one
		settings.Password = job.Storage.Password
	}
	job.Storage = settings

	if err := h.Service.SaveJob(job); err != nil {
		h.sendFailure(w, err)
		return
	}

	h.Logger.WithFields(logrus.Fields{
		"job_id":    job.ID,
		"server_id": job.ServerID,
		"next_run":  job.NextRun.Format(time.RFC3339),
	}).Info("Job saved")
	h.sendOK(w, "Job saved", convertJobToResponse(job))
}

// handleRunJob queues an immediate run
func (h *Handler) handleRunJob(w http.ResponseWriter, r *http.Request) {
	if !h.requireMethod(w, r, http.MethodPost) {
		return
	}
	id, ok := h.requireID(w, r)
	if !ok {
		return
	}

	if err := h.Service.RunJobNow(id); err != nil {
		h.sendFailure(w, err)
		return
	}
	h.Logger.WithField("job_id", id).Info("Manual run queued")
	h.sendOK(w, "Backup job started", nil)
}

// handleToggleJob enables or disables a job
func (h *Handler) handleToggleJob(w http.ResponseWriter, r *http.Request) {
	if !h.requireMethod(w, r, http.MethodPost) {
		return
	}
	id, ok := h.requireID(w, r)
	if !ok {
		return
	}

	enabled, err := h.Service.ToggleJob(id)
	if err != nil {
		h.sendFailure(w, err)
		return
	}
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	h.Logger.WithField("job_id", id).Infof("Job %s", state)
	h.sendOK(w, "Job "+state, map[string]bool{"enabled": enabled})
}

// handleDeleteJob deletes a job, keeping its history
func (h *Handler) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	if !h.requireMethod(w, r, http.MethodPost) {
		return
	}
	id, ok := h.requireID(w, r)
	if !ok {
		return
	}

	if err := h.Service.DeleteJob(id); err != nil {
		h.sendFailure(w, err)
		return
	}
	h.Logger.WithField("job_id", id).Info("Job deleted")
	h.sendOK(w, "Job deleted", nil)
}
