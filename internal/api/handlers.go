package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"studyai.dev/notes/internal/auth"
	"studyai.dev/notes/internal/core"
	"studyai.dev/notes/internal/ingest"
)

const (
	sessionCookie = "session"
	stateCookie   = "oauth_state"

	defaultMaxUpload = 32 << 20
	maxChatBody      = 64 << 10
)

type contextKey string

const sessionKey contextKey = "session"

// LoginProvider runs the OAuth authorization-code flow.
type LoginProvider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (auth.Identity, error)
}

type APIHandler struct {
	assistant *core.Assistant
	sessions  *core.SessionManager
	issuer    *auth.SessionIssuer
	login     LoginProvider
	maxUpload int64
	log       logrus.FieldLogger
}

// NewAPIHandler wires the HTTP surface. login may be nil, in which case the
// login routes answer 503.
func NewAPIHandler(assistant *core.Assistant, sessions *core.SessionManager, issuer *auth.SessionIssuer, login LoginProvider, log logrus.FieldLogger) *APIHandler {
	return &APIHandler{
		assistant: assistant,
		sessions:  sessions,
		issuer:    issuer,
		login:     login,
		maxUpload: defaultMaxUpload,
		log:       log,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeActionError maps orchestrator errors onto status codes.
func (h *APIHandler) writeActionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, core.ErrSessionBusy):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, core.ErrUnknownTask):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, core.ErrEmptyInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, core.ErrNotLoggedIn):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "request was cancelled")
	default:
		h.log.WithError(err).WithField("path", r.URL.Path).Error("Request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// resolveSession finds the live session for a request's cookie or bearer
// token. A valid token whose session was discarded resolves to nothing.
func (h *APIHandler) resolveSession(r *http.Request) (*core.Session, bool) {
	token := ""
	if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		token = strings.TrimPrefix(authHeader, "Bearer ")
	} else if c, err := r.Cookie(sessionCookie); err == nil {
		token = c.Value
	}
	if token == "" {
		return nil, false
	}

	claims, err := h.issuer.Validate(token)
	if err != nil {
		return nil, false
	}
	sess, ok := h.sessions.Get(claims.SessionID)
	if !ok || sess.UserID() != claims.Email {
		return nil, false
	}
	return sess, true
}

func (h *APIHandler) SessionAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := h.resolveSession(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "Please log in with Google to use the app.")
			return
		}
		ctx := context.WithValue(r.Context(), sessionKey, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionFrom(r *http.Request) *core.Session {
	sess, _ := r.Context().Value(sessionKey).(*core.Session)
	return sess
}

func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	if h.login == nil {
		writeError(w, http.StatusServiceUnavailable, auth.ErrNotConfigured.Error())
		return
	}

	state := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/auth",
		MaxAge:   int((10 * time.Minute).Seconds()),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.login.AuthCodeURL(state), http.StatusFound)
}

type loginResponse struct {
	Token string           `json:"token"`
	View  core.SessionView `json:"view"`
}

func (h *APIHandler) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	if h.login == nil {
		writeError(w, http.StatusServiceUnavailable, auth.ErrNotConfigured.Error())
		return
	}

	q := r.URL.Query()
	if msg := q.Get("error"); msg != "" {
		writeError(w, http.StatusUnauthorized, "Login was not completed: "+msg)
		return
	}
	state, err := r.Cookie(stateCookie)
	if err != nil || state.Value == "" || state.Value != q.Get("state") {
		writeError(w, http.StatusBadRequest, "Login state mismatch, please try again.")
		return
	}
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Value: "", Path: "/auth", MaxAge: -1})

	code := q.Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "Missing authorization code.")
		return
	}

	identity, err := h.login.Exchange(r.Context(), code)
	if err != nil {
		h.log.WithError(err).Warn("Login failed")
		writeError(w, http.StatusUnauthorized, "Login failed, please try again.")
		return
	}

	sess := h.sessions.Create(identity)
	log := h.log.WithFields(logrus.Fields{"user": sess.UserID(), "session": sess.ID})
	if err := h.assistant.EnsureReady(sess); err != nil {
		log.WithError(err).Warn("Session pipeline not ready")
	}

	token, err := h.issuer.Issue(sess.ID, identity)
	if err != nil {
		h.sessions.Delete(sess.ID)
		log.WithError(err).Error("Failed to issue session token")
		writeError(w, http.StatusInternalServerError, "Failed to start session")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  time.Now().Add(h.issuer.TTL()),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	log.Info("User logged in")
	writeJSON(w, http.StatusOK, loginResponse{Token: token, View: h.assistant.View(sess)})
}

func (h *APIHandler) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	if sess, ok := h.resolveSession(r); ok {
		h.sessions.Delete(sess.ID)
		h.log.WithFields(logrus.Fields{"user": sess.UserID(), "session": sess.ID}).Info("User logged out")
	}
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: "", Path: "/", MaxAge: -1})
	writeJSON(w, http.StatusOK, h.assistant.View(nil))
}

func (h *APIHandler) SessionHandler(w http.ResponseWriter, r *http.Request) {
	sess, _ := h.resolveSession(r)
	writeJSON(w, http.StatusOK, h.assistant.View(sess))
}

func (h *APIHandler) DocumentsHandler(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		writeError(w, http.StatusBadRequest, "Invalid upload: "+err.Error())
		return
	}

	var files []ingest.Blob
	if r.MultipartForm != nil {
		for _, fh := range r.MultipartForm.File["files"] {
			f, err := fh.Open()
			if err != nil {
				writeError(w, http.StatusBadRequest, "Invalid upload: "+err.Error())
				return
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				writeError(w, http.StatusBadRequest, "Invalid upload: "+err.Error())
				return
			}
			files = append(files, ingest.Blob{Name: fh.Filename, Data: data})
		}
	}

	var urls []string
	for _, v := range r.Form["urls"] {
		urls = append(urls, strings.Split(v, "\n")...)
	}

	report, err := h.assistant.ProcessDocuments(r.Context(), sess, files, urls)
	if err != nil {
		h.writeActionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type ChatRequest struct {
	Message string `json:"message"`
}

func (h *APIHandler) ChatHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBody)

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Message is too long.")
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	res, err := h.assistant.Chat(r.Context(), sessionFrom(r), req.Message)
	if err != nil {
		h.writeActionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *APIHandler) TaskHandler(w http.ResponseWriter, r *http.Request) {
	res, err := h.assistant.RunTask(r.Context(), sessionFrom(r), chi.URLParam(r, "task"))
	if err != nil {
		h.writeActionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *APIHandler) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	view, err := h.assistant.History(r.Context(), sessionFrom(r), limit)
	if err != nil {
		h.writeActionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}
