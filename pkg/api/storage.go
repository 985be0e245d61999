package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/supporttools/GoSQLKeeper/pkg/database/metadata"
	"github.com/supporttools/GoSQLKeeper/pkg/storage/types"
)

// storageProfileRequest is the request structure for creating/updating a storage profile
type storageProfileRequest struct {
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name"`
	IsDefault bool           `json:"is_default,omitempty"`
	Settings  storageRequest `json:"settings"`
}

type storageProfileResponse struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	IsDefault   bool           `json:"is_default"`
	Description string         `json:"description"`
	Settings    storageRequest `json:"settings"`
}

func convertProfileToResponse(p *metadata.StorageProfile) storageProfileResponse {
	return storageProfileResponse{
		ID:          p.ID,
		Name:        p.Name,
		IsDefault:   p.IsDefault,
		Description: types.Describe(types.FromSettings(p.Settings)),
		Settings:    storageFromSettings(p.Settings),
	}
}

// handleStorage lists (GET) or saves (POST) storage profiles
func (h *Handler) handleStorage(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listStorage(w, r)
	case http.MethodPost:
		h.saveStorage(w, r)
	default:
		h.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) listStorage(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.Service.ListStorageProfiles()
	if err != nil {
		h.sendFailure(w, err)
		return
	}
	response := make([]storageProfileResponse, 0, len(profiles))
	for i := range profiles {
		response = append(response, convertProfileToResponse(&profiles[i]))
	}
	h.sendOK(w, fmt.Sprintf("%d storage profiles", len(response)), response)
}

// handleDefaultStorage makes one profile the default
func (h *Handler) handleDefaultStorage(w http.ResponseWriter, r *http.Request) {
	if !h.requireMethod(w, r, http.MethodPost) {
		return
	}
	id, ok := h.requireID(w, r)
	if !ok {
		return
	}

	if err := h.Service.SetDefaultStorageProfile(id); err != nil {
		h.sendFailure(w, err)
		return
	}
	h.Logger.WithField("storage_profile_id", id).Info("Default storage profile changed")
	h.sendOK(w, "Default storage profile updated", nil)
}

func (h *Handler) saveStorage(w http.ResponseWriter, r *http.Request) {
	var req storageProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	profile := &metadata.StorageProfile{
		ID:        req.ID,
		Name:      req.Name,
		IsDefault: req.IsDefault,
		Settings:  req.Settings.settings(),
	}
	if err := h.Service.SaveStorageProfile(profile); err != nil {
		h.sendFailure(w, err)
		return
	}
	h.Logger.WithField("storage_profile_id", profile.ID).Info("Storage profile saved")
	h.sendOK(w, "Storage profile saved", convertProfileToResponse(profile))
}

// handleDeleteStorage deletes a storage profile
func (h *Handler) handleDeleteStorage(w http.ResponseWriter, r *http.Request) {
	if !h.requireMethod(w, r, http.MethodPost) {
		return
	}
	id, ok := h.requireID(w, r)
	if !ok {
		return
	}

	if err := h.Service.DeleteStorageProfile(id); err != nil {
		h.sendFailure(w, err)
		return
	}
	h.Logger.WithField("storage_profile_id", id).Info("Storage profile deleted")
	h.sendOK(w, "Storage profile deleted", nil)
}
