package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/pribylovaa/volunteer-hub/internal/models"
	"github.com/pribylovaa/volunteer-hub/internal/pkg/log"
	"github.com/pribylovaa/volunteer-hub/internal/service"
	"github.com/pribylovaa/volunteer-hub/internal/transport/http/apierrors"
	"github.com/pribylovaa/volunteer-hub/internal/transport/http/middleware"
)

// Действия POST /auth.
const (
	actionLogin     = "login"
	actionRegister  = "register"
	actionRefresh   = "refresh"
	actionLogout    = "logout"
	actionLogoutAll = "logout_all"
	oauthPrefix     = "oauth_"
)

// authRequest — тело POST /auth. Набор значимых полей зависит от action.
type authRequest struct {
	Action       string `json:"action"`
	Email        string `json:"email,omitempty"`
	Password     string `json:"password,omitempty"`
	Name         string `json:"name,omitempty"`
	Role         string `json:"role,omitempty"`
	Phone        string `json:"phone,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
}

// sessionResponse — ответ входа, регистрации и входа через провайдера.
type sessionResponse struct {
	Success      bool              `json:"success"`
	User         models.PublicUser `json:"user"`
	AccessToken  string            `json:"access_token"`
	RefreshToken string            `json:"refresh_token"`
}

type refreshResponse struct {
	Success      bool   `json:"success"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

type successResponse struct {
	Success bool `json:"success"`
}

type logoutAllResponse struct {
	Success bool `json:"success"`
	Revoked int  `json:"revoked"`
}

type verifyResponse struct {
	Valid  bool        `json:"valid"`
	UserID string      `json:"user_id,omitempty"`
	Role   models.Role `json:"role,omitempty"`
}

// Auth обрабатывает POST /auth, выбирая операцию по полю action.
func (h *Handlers) Auth(w http.ResponseWriter, r *http.Request) {
	var in authRequest
	if err := decodeBody(w, r, &in); err != nil {
		// выход не зависит от качества тела: cookie истекают в любом случае.
		if in.Action == actionLogout {
			log.From(r.Context()).Debug("logout_body_ignored", log.Err(err))
			h.logout(w, r, "")
			return
		}

		apierrors.WriteError(w, r, err)
		return
	}

	switch {
	case in.Action == actionLogin:
		sess, err := h.svc.Login(r.Context(), in.Email, in.Password)
		h.writeSession(w, r, actionLogin, sess, err)

	case in.Action == actionRegister:
		sess, err := h.svc.Register(r.Context(), service.RegisterInput{
			Name:     in.Name,
			Email:    in.Email,
			Password: in.Password,
			Role:     in.Role,
			Phone:    in.Phone,
		})
		h.writeSession(w, r, actionRegister, sess, err)

	case strings.HasPrefix(in.Action, oauthPrefix):
		provider := strings.TrimPrefix(in.Action, oauthPrefix)
		sess, err := h.svc.FederatedLogin(r.Context(), provider, in.IDToken)
		h.writeSession(w, r, "oauth", sess, err)

	case in.Action == actionRefresh:
		h.refresh(w, r, in.RefreshToken)

	case in.Action == actionLogout:
		h.logout(w, r, in.RefreshToken)

	case in.Action == actionLogoutAll:
		h.logoutAll.ServeHTTP(w, r)

	default:
		h.outcome(actionLabel(in.Action), apierrors.ErrBadRequest)
		apierrors.WriteError(w, r, fmt.Errorf("%w: unknown action", apierrors.ErrBadRequest))
	}
}

// writeSession ставит cookie и отвечает сессией. При ошибке cookie не ставятся.
func (h *Handlers) writeSession(w http.ResponseWriter, r *http.Request, action string, sess *models.Session, err error) {
	h.outcome(action, err)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	h.setAccessCookie(w, r, sess.Tokens.AccessToken)
	h.setRefreshCookie(w, r, sess.Tokens.RefreshToken)

	writeJSON(w, http.StatusOK, sessionResponse{
		Success:      true,
		User:         sess.User,
		AccessToken:  sess.Tokens.AccessToken,
		RefreshToken: sess.Tokens.RefreshToken,
	})
}

// refreshFrom берёт refresh-токен из cookie, иначе из тела.
func refreshFrom(r *http.Request, body string) string {
	if c, err := r.Cookie(RefreshCookie); err == nil && c.Value != "" {
		return c.Value
	}

	return body
}

func (h *Handlers) refresh(w http.ResponseWriter, r *http.Request, body string) {
	pair, err := h.svc.Refresh(r.Context(), refreshFrom(r, body))
	h.outcome(actionRefresh, err)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	h.setAccessCookie(w, r, pair.AccessToken)
	if pair.RefreshToken != "" {
		h.setRefreshCookie(w, r, pair.RefreshToken)
	}

	writeJSON(w, http.StatusOK, refreshResponse{
		Success:      true,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	})
}

// logout всегда отвечает 200 и истекает cookie, даже если отзыв не удался.
func (h *Handlers) logout(w http.ResponseWriter, r *http.Request, body string) {
	h.svc.Logout(r.Context(), refreshFrom(r, body))
	h.outcome(actionLogout, nil)

	h.clearCookies(w, r)
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (h *Handlers) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFrom(r.Context())

	uid, err := uuid.Parse(claims.UserID)
	if err != nil {
		h.outcome(actionLogoutAll, service.ErrInvalidToken)
		apierrors.WriteError(w, r, service.ErrInvalidToken)
		return
	}

	n, err := h.svc.LogoutAll(r.Context(), uid)
	h.outcome(actionLogoutAll, err)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	h.clearCookies(w, r)
	writeJSON(w, http.StatusOK, logoutAllResponse{Success: true, Revoked: n})
}

// Verify обрабатывает GET /auth?verify_token=1. Токен берётся из query token,
// cookie access_token или Authorization: Bearer. Побочных эффектов нет.
func (h *Handlers) Verify(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("verify_token") == "" {
		apierrors.WriteError(w, r, fmt.Errorf("%w: verify_token required", apierrors.ErrBadRequest))
		return
	}

	raw := r.URL.Query().Get("token")
	if raw == "" {
		raw = middleware.AccessToken(r)
	}

	v := h.svc.VerifyToken(r.Context(), raw)
	if !v.Valid {
		log.From(r.Context()).Debug("verify_token_invalid")
		writeJSON(w, http.StatusUnauthorized, verifyResponse{Valid: false})
		return
	}

	writeJSON(w, http.StatusOK, verifyResponse{
		Valid:  true,
		UserID: v.UserID.String(),
		Role:   v.Role,
	})
}
