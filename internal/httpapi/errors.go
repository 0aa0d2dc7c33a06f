// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gatekeep/gatekeep/internal/auth"
	"github.com/gatekeep/gatekeep/pkg/errutil"
)

// Client-facing messages. Credential and token failures share one
// message each so responses do not reveal which check failed.
const (
	msgInvalidCredentials = "invalid email or password"
	msgInvalidToken       = "invalid or expired token"
	msgUnauthorized       = "not authenticated"
	msgInternal           = "internal error"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // client may disconnect
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: code, Message: message})
}

// writeServiceError maps an engine error onto a response. Unknown errors
// are logged and reported as 500.
func (a *API) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch errutil.Code(err) {
	case auth.CodeInvalidCredentials:
		writeError(w, http.StatusUnauthorized, "invalid_credentials", msgInvalidCredentials)
	case auth.CodeAccountHasNoPassword:
		writeError(w, http.StatusConflict, "no_password", "account has no password; request a password reset")
	case auth.CodeOtpNotFoundOrExpired, auth.CodeOtpInvalidArgument, auth.CodeAccountNotFound:
		writeError(w, http.StatusBadRequest, "invalid_token", msgInvalidToken)
	case auth.CodeEmptyPassword:
		writeError(w, http.StatusBadRequest, "invalid_password", "password cannot be empty")
	case auth.CodeEmailAlreadyVerified:
		writeError(w, http.StatusConflict, "already_verified", "email is already verified")
	case auth.CodeTokenExpired, auth.CodeTokenInvalid:
		writeError(w, http.StatusUnauthorized, "unauthorized", msgUnauthorized)
	default:
		errutil.LogErrorContext(r.Context(), a.logger, op+" failed", err)
		writeError(w, http.StatusInternalServerError, "internal", msgInternal)
	}
}
