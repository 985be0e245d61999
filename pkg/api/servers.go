package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/supporttools/GoSQLKeeper/pkg/database/connection"
	"github.com/supporttools/GoSQLKeeper/pkg/database/metadata"
	"github.com/supporttools/GoSQLKeeper/pkg/outcome"
)

// serverRequest is a server definition to save or probe
type serverRequest struct {
	ID             string `json:"id,omitempty"`
	Name           string `json:"name,omitempty"`
	ConnectionType string `json:"connection_type"`
	Host           string `json:"host"`
	Port           int    `json:"port,omitempty"`
	Username       string `json:"username"`
	Password       string `json:"password"`
	Database       string `json:"database,omitempty"`
	SSHHost        string `json:"ssh_host,omitempty"`
	SSHPort        int    `json:"ssh_port,omitempty"`
	SSHUsername    string `json:"ssh_username,omitempty"`
	SSHPassword    string `json:"ssh_password,omitempty"`
	SSHKeyFile     string `json:"ssh_key_file,omitempty"`
}

func (req serverRequest) params() (connection.Params, error) {
	engine, mode, err := metadata.ParseConnectionType(req.ConnectionType)
	if err != nil {
		return connection.Params{}, outcome.Wrap(outcome.Configuration, err, "")
	}
	port := req.Port
	if port == 0 {
		port = engine.DefaultPort()
	}
	return connection.Params{
		Engine:      engine,
		Mode:        mode,
		Host:        req.Host,
		Port:        port,
		Username:    req.Username,
		Password:    req.Password,
		Database:    req.Database,
		SSHHost:     req.SSHHost,
		SSHPort:     req.SSHPort,
		SSHUsername: req.SSHUsername,
		SSHPassword: req.SSHPassword,
		SSHKeyFile:  req.SSHKeyFile,
	}, nil
}

// profile converts the request into a server profile to save
func (req serverRequest) profile() (*metadata.ServerProfile, error) {
	p, err := req.params()
	if err != nil {
		return nil, err
	}
	return &metadata.ServerProfile{
		ID:          req.ID,
		Name:        req.Name,
		Engine:      p.Engine,
		Mode:        p.Mode,
		Host:        p.Host,
		Port:        p.Port,
		Username:    p.Username,
		Password:    p.Password,
		Database:    p.Database,
		SSHHost:     p.SSHHost,
		SSHPort:     p.SSHPort,
		SSHUsername: p.SSHUsername,
		SSHPassword: p.SSHPassword,
		SSHKeyFile:  p.SSHKeyFile,
	}, nil
}

// serverResponse is a saved server without its secrets
type serverResponse struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	ConnectionType    string     `json:"connection_type"`
	Host              string     `json:"host"`
	Port              int        `json:"port"`
	Username          string     `json:"username"`
	Database          string     `json:"database,omitempty"`
	SSHHost           string     `json:"ssh_host,omitempty"`
	SSHPort           int        `json:"ssh_port,omitempty"`
	SSHUsername       string     `json:"ssh_username,omitempty"`
	SSHKeyFile        string     `json:"ssh_key_file,omitempty"`
	LastStatus        *bool      `json:"last_status,omitempty"`
	LastStatusCheck   *time.Time `json:"last_status_check,omitempty"`
	LastStatusMessage string     `json:"last_status_message,omitempty"`
}

func convertServerToResponse(s *metadata.ServerProfile) serverResponse {
	return serverResponse{
		ID:                s.ID,
		Name:              s.Name,
		ConnectionType:    s.ConnectionType(),
		Host:              s.Host,
		Port:              s.Port,
		Username:          s.Username,
		Database:          s.Database,
		SSHHost:           s.SSHHost,
		SSHPort:           s.SSHPort,
		SSHUsername:       s.SSHUsername,
		SSHKeyFile:        s.SSHKeyFile,
		LastStatus:        s.LastStatus,
		LastStatusCheck:   s.LastStatusCheck,
		LastStatusMessage: s.LastStatusMessage,
	}
}

// handleServers lists (GET) or saves (POST) server profiles
func (h *Handler) handleServers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		servers, err := h.Service.ListServers()
		if err != nil {
			h.sendFailure(w, err)
			return
		}
		response := make([]serverResponse, 0, len(servers))
		for i := range servers {
			response = append(response, convertServerToResponse(&servers[i]))
		}
		h.sendOK(w, fmt.Sprintf("%d servers", len(response)), response)

	case http.MethodPost:
		var req serverRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.sendError(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
			return
		}
		server, err := req.profile()
		if err != nil {
			h.sendFailure(w, err)
			return
		}
		if err := h.Service.SaveServer(server); err != nil {
			h.sendFailure(w, err)
			return
		}
		h.Logger.WithFields(logrus.Fields{
			"server_id":       server.ID,
			"connection_type": server.ConnectionType(),
		}).Info("Server saved")
		h.sendOK(w, "Server saved", convertServerToResponse(server))

	default:
		h.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleDeleteServer deletes a server profile and its jobs
func (h *Handler) handleDeleteServer(w http.ResponseWriter, r *http.Request) {
	if !h.requireMethod(w, r, http.MethodPost) {
		return
	}
	id, ok := h.requireID(w, r)
	if !ok {
		return
	}

	if err := h.Service.DeleteServer(id); err != nil {
		h.sendFailure(w, err)
		return
	}
	h.Logger.WithField("server_id", id).Info("Server deleted")
	h.sendOK(w, "Server deleted", nil)
}

// handleTestServer probes a saved server (?id=) or the server in the body.
// A failed probe is still a 200 with success false.
func (h *Handler) handleTestServer(w http.ResponseWriter, r *http.Request) {
	if !h.requireMethod(w, r, http.MethodPost) {
		return
	}

	var result outcome.Outcome
	if id := r.URL.Query().Get("id"); id != "" {
		result = h.Service.TestServer(r.Context(), id)
		h.Logger.WithField("server_id", id).Debugf("Connection test: %s", result.Text())
	} else {
		var req serverRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.sendError(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
			return
		}
		p, err := req.params()
		if err != nil {
			h.sendFailure(w, err)
			return
		}
		result = h.Service.TestParams(r.Context(), p)
	}

	if f, ok := result.(*outcome.Failure); ok && f.Kind == outcome.NotFound {
		h.sendFailure(w, f)
		return
	}
	h.sendJSON(w, Response{Success: result.OK(), Message: result.Text()}, http.StatusOK)
}
