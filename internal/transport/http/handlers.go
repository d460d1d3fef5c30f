package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"

	"whosaid/internal/domain"
	"whosaid/internal/game"
)

// qrSize is the edge length of share QR codes in pixels
const qrSize = 320

// Response is a standard API response
type Response struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
}

// ErrorInfo contains error details
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CreateRoomRequest is the body of POST /api/rooms
type CreateRoomRequest struct {
	DisplayName string `json:"displayName"`
	TotalRounds int    `json:"totalRounds"`
}

// CreateRoomResponse is the response for room creation
type CreateRoomResponse struct {
	Room     domain.Summary `json:"room"`
	Passcode string         `json:"passcode"`
	ShareURL string         `json:"shareUrl"`
	PlayerID string         `json:"playerId"`
}

// JoinRoomRequest is the body of POST /api/rooms/:code/join
type JoinRoomRequest struct {
	Passcode    string `json:"passcode"`
	DisplayName string `json:"displayName"`
}

// JoinRoomResponse is the response for joining a room
type JoinRoomResponse struct {
	Room   domain.Summary `json:"room"`
	Player *domain.Player `json:"player"`
}

// ShareResponse carries the join parameters of a room
type ShareResponse struct {
	Code     string `json:"code"`
	Passcode string `json:"passcode"`
	URL      string `json:"url"`
}

// HealthResponse is the response for health check
type HealthResponse struct {
	Status string `json:"status"`
}

// StatsResponse is the response for stats endpoint
type StatsResponse struct {
	Rooms          int `json:"rooms"`
	LiveRooms      int `json:"liveRooms"`
	ConnectedUsers int `json:"connectedUsers"`
}

// handleCreateRoom handles POST /api/rooms
func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	userID, ok := s.identify(w, r)
	if !ok {
		return
	}
	var req CreateRoomRequest
	if !s.decode(w, r, &req) {
		return
	}

	room, err := s.hub.Service().CreateRoom(r.Context(), game.CreateRoomParams{
		HostID:      userID,
		HostName:    req.DisplayName,
		TotalRounds: req.TotalRounds,
	})
	if err != nil {
		s.sendDomainError(w, err)
		return
	}

	link := domain.ShareLink{Code: room.Code, Passcode: room.Passcode}
	shareURL, err := link.URL(s.baseURL(r))
	if err != nil {
		s.sendDomainError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, &Response{Success: true, Data: &CreateRoomResponse{
		Room:     room.ToSummary(),
		Passcode: room.Passcode,
		ShareURL: shareURL,
		PlayerID: userID,
	}})
}

// handleGetRoom handles GET /api/rooms/:code
func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	room, err := s.hub.Service().GetRoom(r.Context(), ps.ByName("code"))
	if err != nil {
		s.sendDomainError(w, err)
		return
	}
	s.sendSuccess(w, room.ToSummary())
}

// handleJoinRoom handles POST /api/rooms/:code/join
func (s *Server) handleJoinRoom(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	userID, ok := s.identify(w, r)
	if !ok {
		return
	}
	var req JoinRoomRequest
	if !s.decode(w, r, &req) {
		return
	}

	svc := s.hub.Service()
	player, err := svc.JoinRoom(r.Context(), ps.ByName("code"), req.Passcode, userID, req.DisplayName)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}
	room, err := svc.GetRoom(r.Context(), ps.ByName("code"))
	if err != nil {
		s.sendDomainError(w, err)
		return
	}

	s.sendSuccess(w, &JoinRoomResponse{Room: room.ToSummary(), Player: player})
}

// handleLeaveRoom handles POST /api/rooms/:code/leave
func (s *Server) handleLeaveRoom(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	userID, ok := s.identify(w, r)
	if !ok {
		return
	}
	if err := s.hub.Service().LeaveRoom(r.Context(), ps.ByName("code"), userID); err != nil {
		s.sendDomainError(w, err)
		return
	}
	s.sendSuccess(w, nil)
}

// handleEndRoom handles DELETE /api/rooms/:code
func (s *Server) handleEndRoom(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	userID, ok := s.identify(w, r)
	if !ok {
		return
	}
	if err := s.hub.Service().EndRoom(r.Context(), ps.ByName("code"), userID); err != nil {
		s.sendDomainError(w, err)
		return
	}
	s.sendSuccess(w, nil)
}

// handleShare handles GET /api/rooms/:code/share
func (s *Server) handleShare(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	share, ok := s.share(w, r, ps.ByName("code"))
	if !ok {
		return
	}
	s.sendSuccess(w, share)
}

// handleQR handles GET /api/rooms/:code/qr.png
func (s *Server) handleQR(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	share, ok := s.share(w, r, ps.ByName("code"))
	if !ok {
		return
	}

	png, err := qrcode.Encode(share.URL, qrcode.Medium, qrSize)
	if err != nil {
		s.logger.Error("qr generation failed", "roomCode", share.Code, "error", err)
		s.sendError(w, http.StatusInternalServerError, "INTERNAL", "qr generation failed")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(png)
}

func (s *Server) share(w http.ResponseWriter, r *http.Request, code string) (*ShareResponse, bool) {
	userID, ok := s.identify(w, r)
	if !ok {
		return nil, false
	}
	link, err := s.hub.Service().ShareLink(r.Context(), code, userID)
	if err != nil {
		s.sendDomainError(w, err)
		return nil, false
	}
	u, err := link.URL(s.baseURL(r))
	if err != nil {
		s.sendDomainError(w, err)
		return nil, false
	}
	return &ShareResponse{Code: link.Code, Passcode: link.Passcode, URL: u}, true
}

// handleHealth handles GET /api/health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.sendSuccess(w, &HealthResponse{
		Status: "ok",
	})
}

// handleStats handles GET /api/stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	rooms, err := s.hub.Service().RoomCount(r.Context())
	if err != nil {
		s.sendDomainError(w, err)
		return
	}
	s.sendSuccess(w, &StatsResponse{
		Rooms:          rooms,
		LiveRooms:      s.hub.SessionCount(),
		ConnectedUsers: s.hub.ClientCount(),
	})
}

// identify resolves the caller or answers 401
func (s *Server) identify(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := s.identity.Identify(w, r)
	if err != nil {
		s.sendError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "authentication required")
		return "", false
	}
	return userID, true
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		s.sendError(w, http.StatusBadRequest, string(domain.CodeInvalidArgument), "invalid request body")
		return false
	}
	return true
}

// baseURL is the configured public URL or the one the request came in on
func (s *Server) baseURL(r *http.Request) string {
	if s.config.Server.PublicURL != "" {
		return s.config.Server.PublicURL
	}
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + r.Host + "/"
}

// statusFor maps a domain error code to an HTTP status
func statusFor(code domain.Code) int {
	switch code {
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeForbidden:
		return http.StatusForbidden
	case domain.CodeFull, domain.CodeAlreadyStarted, domain.CodeInvalidPhase, domain.CodeDuplicateSubmission:
		return http.StatusConflict
	case domain.CodeInvalidArgument:
		return http.StatusBadRequest
	case domain.CodeInvalidTarget, domain.CodeNotEnoughPlayers:
		return http.StatusUnprocessableEntity
	case domain.CodeStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// sendDomainError maps err to a status and error body
func (s *Server) sendDomainError(w http.ResponseWriter, err error) {
	code := domain.CodeOf(err)
	status := statusFor(code)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "code", code, "error", err)
	}
	payload := domain.ErrorPayloadFrom(err)
	s.sendError(w, status, payload.Code, payload.Message)
}

// sendSuccess sends a successful JSON response
func (s *Server) sendSuccess(w http.ResponseWriter, data any) {
	s.writeJSON(w, http.StatusOK, &Response{
		Success: true,
		Data:    data,
	})
}

// sendError sends an error JSON response
func (s *Server) sendError(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, &Response{
		Success: false,
		Error: &ErrorInfo{
			Code:    code,
			Message: message,
		},
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, resp *Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Debug("write response failed", "error", err)
	}
}
