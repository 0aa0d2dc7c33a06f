// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package httpapi

import (
	"net/http"
	"net/url"
	"time"

	"github.com/gatekeep/gatekeep/internal/auth"
)

// Cookie names. The refresh token stays server-side and never gets one.
const (
	CookieAccess  = "gk_access"
	CookieSubject = "gk_subject"
	CookieName    = "gk_name"
)

// CookieOptions control how session cookies are written.
type CookieOptions struct {
	Secure bool
	Domain string
	// MaxAge is the lifetime of every session cookie. It should match the
	// refresh token TTL so an expired access token can still be refreshed.
	MaxAge time.Duration
}

func (o CookieOptions) withDefaults() CookieOptions {
	if o.MaxAge <= 0 {
		o.MaxAge = auth.DefaultRefreshTTL
	}
	return o
}

func (o CookieOptions) cookie(name, value, path string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   o.Domain,
		MaxAge:   maxAge,
		Secure:   o.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

// writeSession stores every field of sess.
func (o CookieOptions) writeSession(w http.ResponseWriter, sess auth.ClientSession) {
	age := int(o.MaxAge / time.Second)
	http.SetCookie(w, o.cookie(CookieAccess, sess.AccessToken, "/", age))
	http.SetCookie(w, o.cookie(CookieSubject, sess.SubjectHandle, "/", age))
	http.SetCookie(w, o.cookie(CookieName, url.QueryEscape(sess.DisplayName), "/", age))
}

// writeAccess replaces only the access token, after a refresh.
func (o CookieOptions) writeAccess(w http.ResponseWriter, token string) {
	http.SetCookie(w, o.cookie(CookieAccess, token, "/", int(o.MaxAge/time.Second)))
}

// clearSession expires every session cookie.
func (o CookieOptions) clearSession(w http.ResponseWriter) {
	http.SetCookie(w, o.cookie(CookieAccess, "", "/", -1))
	http.SetCookie(w, o.cookie(CookieSubject, "", "/", -1))
	http.SetCookie(w, o.cookie(CookieName, "", "/", -1))
}

// readSession rebuilds the client session from request cookies. Missing
// cookies leave their field empty.
func readSession(r *http.Request) auth.ClientSession {
	var sess auth.ClientSession
	if c, err := r.Cookie(CookieAccess); err == nil {
		sess.AccessToken = c.Value
	}
	if c, err := r.Cookie(CookieSubject); err == nil {
		sess.SubjectHandle = c.Value
	}
	if c, err := r.Cookie(CookieName); err == nil {
		if name, err := url.QueryUnescape(c.Value); err == nil {
			sess.DisplayName = name
		}
	}
	return sess
}
