// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/oklog/ulid/v2"

	"github.com/gatekeep/gatekeep/internal/auth"
	"github.com/gatekeep/gatekeep/pkg/errutil"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	UserID        string `json:"user_id"`
	DisplayName   string `json:"display_name"`
	EmailVerified *bool  `json:"email_verified,omitempty"`
}

type verifyEmailRequest struct {
	UserID string `json:"user_id"`
	Token  string `json:"token"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	UserID      string `json:"user_id"`
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !a.decode(w, r, &req) {
		return
	}

	res, err := a.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		a.writeServiceError(w, r, "login", err)
		return
	}

	a.cookies.writeSession(w, res.Session())
	verified := res.User.EmailVerified
	writeJSON(w, http.StatusOK, sessionResponse{
		UserID:        res.User.ID.String(),
		DisplayName:   res.User.DisplayName,
		EmailVerified: &verified,
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.authenticate(w, r)
	if !ok {
		return
	}
	userID, _ := sess.UserID()

	if err := a.svc.Logout(r.Context(), userID); err != nil {
		a.writeServiceError(w, r, "logout", err)
		return
	}
	a.cookies.clearSession(w)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.authenticate(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		UserID:      sess.SubjectHandle,
		DisplayName: sess.DisplayName,
	})
}

func (a *API) handleRequestVerification(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.authenticate(w, r)
	if !ok {
		return
	}
	userID, _ := sess.UserID()

	if err := a.svc.RequestEmailVerification(r.Context(), userID); err != nil {
		a.writeServiceError(w, r, "request email verification", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *API) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req verifyEmailRequest
	if !a.decode(w, r, &req) {
		return
	}
	userID, ok := parseUserID(w, req.UserID)
	if !ok {
		return
	}

	if err := a.svc.VerifyEmail(r.Context(), userID, req.Token); err != nil {
		a.writeServiceError(w, r, "verify email", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleForgotPassword answers 202 whether or not the account exists.
func (a *API) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if !a.decode(w, r, &req) {
		return
	}
	if req.Email == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "email is required")
		return
	}

	if err := a.svc.RequestPasswordReset(r.Context(), req.Email); err != nil {
		errutil.LogErrorContext(r.Context(), a.logger, "request password reset failed", err)
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *API) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !a.decode(w, r, &req) {
		return
	}
	userID, ok := parseUserID(w, req.UserID)
	if !ok {
		return
	}

	if err := a.svc.ResetPassword(r.Context(), userID, req.Token, req.NewPassword); err != nil {
		a.writeServiceError(w, r, "reset password", err)
		return
	}
	// Cookies of this browser belong to a session the reset just ended.
	a.cookies.clearSession(w)
	w.WriteHeader(http.StatusNoContent)
}

// authenticate checks the cookie session. On success a refreshed access
// token is written back; on failure the cookies are cleared and 401 sent.
func (a *API) authenticate(w http.ResponseWriter, r *http.Request) (auth.ClientSession, bool) {
	sess := readSession(r)
	before := sess.AccessToken

	ok, err := a.svc.CheckAuthenticated(r.Context(), &sess)
	if err != nil {
		a.writeServiceError(w, r, "check session", err)
		return sess, false
	}
	if !ok {
		a.cookies.clearSession(w)
		writeError(w, http.StatusUnauthorized, "unauthorized", msgUnauthorized)
		return sess, false
	}
	if sess.AccessToken != before {
		a.cookies.writeAccess(w, sess.AccessToken)
	}
	return sess, true
}

// decode reads a JSON body into v. It writes 400 and returns false when
// the body is not a single well-formed object of the expected shape.
func (a *API) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, a.maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "bad_request", "malformed request body")
		return false
	}
	if dec.Decode(&struct{}{}) != io.EOF {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed request body")
		return false
	}
	return true
}

// parseUserID rejects malformed IDs with the same response as a bad token.
func parseUserID(w http.ResponseWriter, raw string) (ulid.ULID, bool) {
	id, err := ulid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_token", msgInvalidToken)
		return ulid.ULID{}, false
	}
	return id, true
}
