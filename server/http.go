package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"starmsg/db"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Routes builds the HTTP surface: the JSON API, the websocket endpoint,
// uploaded media and prometheus metrics.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestLogger)

	authLimiter := newIPRateLimiter(s.config.AuthRateLimit, s.config.AuthRateBurst)

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(authLimiter.middleware)
			r.Post("/register", s.handleRegister)
			r.Post("/login", s.handleLogin)
		})

		r.Post("/search", s.handleSearch)
		r.Post("/add-friend", s.handleAddFriend)
		r.Post("/accept-friend", s.handleAcceptFriend)
		r.Post("/friends", s.handleFriends)
		r.Post("/messages", s.handleMessages)
		r.Post("/avatar", s.handleAvatar)
		r.Post("/upload", s.handleUpload)
	})

	r.Get("/ws", s.HandleWS)
	r.Handle("/media/*", http.StripPrefix("/media/", http.FileServer(http.Dir(s.media.Dir()))))
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))

	return r
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("[http] encode response: %v", err)
	}
}

func respondError(w http.ResponseWriter, message string) {
	// Ошибки бизнес-логики клиент различает по строке error, статус 200
	respondJSON(w, http.StatusOK, map[string]any{
		"success": false,
		"error":   message,
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, "invalid request body")
		return false
	}
	return true
}

type userSummary struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		respondError(w, "username and password required")
		return
	}

	exists, err := s.db.UserExists(req.Username)
	if err != nil {
		log.Printf("[auth] register %s: %v", req.Username, err)
		respondError(w, "internal error")
		return
	}
	if exists {
		respondError(w, "user already exists")
		return
	}

	id, err := s.db.CreateUser(req.Username, req.Password)
	if err != nil {
		log.Printf("[auth] register %s: %v", req.Username, err)
		respondError(w, "internal error")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"id":      id,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	valid, err := s.db.AuthenticateUser(req.Username, req.Password)
	if err != nil {
		log.Printf("[auth] login %s: %v", req.Username, err)
		respondError(w, "internal error")
		return
	}
	if !valid {
		respondError(w, "invalid username or password")
		return
	}

	user, err := s.db.GetUser(req.Username)
	if err != nil {
		log.Printf("[auth] login %s: %v", req.Username, err)
		respondError(w, "internal error")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"user": userSummary{
			ID:       user.ID,
			Username: user.Username,
			Avatar:   user.Avatar,
		},
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
		Me    string `json:"me"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	users, err := s.db.SearchUsers(req.Query, req.Me)
	if err != nil {
		log.Printf("[http] search %q: %v", req.Query, err)
		respondError(w, "internal error")
		return
	}

	results := make([]userSummary, 0, len(users))
	for _, u := range users {
		results = append(results, userSummary{ID: u.ID, Username: u.Username, Avatar: u.Avatar})
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"users":   results,
	})
}

func (s *Server) handleAddFriend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Me     string `json:"me"`
		Friend string `json:"friend"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if req.Me == "" || req.Friend == "" || req.Me == req.Friend {
		respondError(w, "invalid request")
		return
	}

	exists, err := s.db.UserExists(req.Friend)
	if err != nil {
		log.Printf("[friends] add %s->%s: %v", req.Me, req.Friend, err)
		respondError(w, "internal error")
		return
	}
	if !exists {
		respondError(w, "user not found")
		return
	}

	switch err := s.relations.Request(req.Me, req.Friend); {
	case err == nil:
		respondJSON(w, http.StatusOK, map[string]any{"success": true})
	case errors.Is(err, ErrAlreadyFriends):
		respondError(w, "already friends")
	case errors.Is(err, ErrRequestSent):
		respondError(w, "request already sent")
	default:
		log.Printf("[friends] add %s->%s: %v", req.Me, req.Friend, err)
		respondError(w, "internal error")
	}
}

func (s *Server) handleAcceptFriend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Me        string `json:"me"`
		Requester string `json:"requester"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	switch err := s.relations.Accept(req.Me, req.Requester); {
	case err == nil:
		respondJSON(w, http.StatusOK, map[string]any{"success": true})
	case errors.Is(err, ErrRequestNotFound):
		respondError(w, "request not found")
	default:
		log.Printf("[friends] accept %s<-%s: %v", req.Me, req.Requester, err)
		respondError(w, "internal error")
	}
}

type friendEntry struct {
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
	IsOnline bool   `json:"isOnline"`
}

func (s *Server) handleFriends(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Me string `json:"me"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	list, err := s.relations.List(req.Me)
	if err != nil {
		log.Printf("[friends] list %s: %v", req.Me, err)
		respondError(w, "internal error")
		return
	}

	friends := make([]friendEntry, 0, len(list.Accepted))
	for _, name := range list.Accepted {
		entry := friendEntry{Username: name}
		if user, err := s.db.GetUser(name); err == nil {
			entry.Avatar = user.Avatar
		}
		// Онлайн-статус накладываем из реестра живых соединений
		_, entry.IsOnline = s.registry.Lookup(name)
		friends = append(friends, entry)
	}

	incoming := list.IncomingPending
	if incoming == nil {
		incoming = []string{}
	}
	outgoing := list.OutgoingPending
	if outgoing == nil {
		outgoing = []string{}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"friends":  friends,
		"incoming": incoming,
		"outgoing": outgoing,
	})
}

type messageEntry struct {
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Text      string `json:"text"`
	Media     string `json:"media,omitempty"`
	Timestamp string `json:"timestamp"`
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Me      string `json:"me"`
		Contact string `json:"contact"`
		Offset  int    `json:"offset"`
		Limit   int    `json:"limit"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if req.Limit <= 0 {
		req.Limit = 100
	}

	messages, err := s.db.GetMessages(req.Me, req.Contact, req.Offset, req.Limit)
	if err != nil {
		log.Printf("[http] messages %s/%s: %v", req.Me, req.Contact, err)
		respondError(w, "internal error")
		return
	}

	entries := make([]messageEntry, 0, len(messages))
	for _, m := range messages {
		entries = append(entries, messageEntry{
			Sender:    m.Sender,
			Recipient: m.Recipient,
			Text:      m.Text,
			Media:     m.Media,
			Timestamp: m.Timestamp.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"messages": entries,
	})
}

func (s *Server) handleAvatar(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		respondError(w, "invalid upload")
		return
	}

	username := r.FormValue("username")
	if username == "" {
		respondError(w, "username required")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, "file required")
		return
	}
	defer file.Close()

	name, err := s.media.Save(file, header.Filename, "avatars")
	if err != nil {
		if errors.Is(err, ErrUploadTooLarge) {
			respondError(w, "file too large")
			return
		}
		log.Printf("[media] avatar for %s: %v", username, err)
		respondError(w, "internal error")
		return
	}

	avatarURL := "/media/" + name
	if err := s.db.SetAvatar(username, avatarURL); err != nil {
		if errors.Is(err, db.ErrNoRows) {
			respondError(w, "user not found")
			return
		}
		log.Printf("[media] avatar for %s: %v", username, err)
		respondError(w, "internal error")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"avatar":  avatarURL,
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		respondError(w, "invalid upload")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, "file required")
		return
	}
	defer file.Close()

	name, err := s.media.Save(file, header.Filename, "uploads")
	if err != nil {
		if errors.Is(err, ErrUploadTooLarge) {
			respondError(w, "file too large")
			return
		}
		log.Printf("[media] upload: %v", err)
		respondError(w, "internal error")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"url":     "/media/" + name,
	})
}
