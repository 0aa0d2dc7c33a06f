// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth

import "github.com/oklog/ulid/v2"

// ClientSession is the state a client carries between requests, usually
// in cookies. The engine fills it at login, reads it back on every
// check and rewrites AccessToken after a transparent refresh. It is never
// persisted server-side.
//
// The refresh token never travels with it; refresh always runs against
// the user's persisted slot.
type ClientSession struct {
	AccessToken   string
	DisplayName   string
	SubjectHandle string
}

// IsAnonymous reports whether the session lacks the identity fields.
func (s *ClientSession) IsAnonymous() bool {
	return s == nil || s.AccessToken == "" || s.SubjectHandle == ""
}

// UserID parses the subject handle.
func (s *ClientSession) UserID() (ulid.ULID, bool) {
	if s == nil {
		return ulid.ULID{}, false
	}
	id, err := ulid.Parse(s.SubjectHandle)
	if err != nil {
		return ulid.ULID{}, false
	}
	return id, true
}

// Clear drops every field.
func (s *ClientSession) Clear() {
	*s = ClientSession{}
}

// UserSummary is the public part of a user returned to callers.
type UserSummary struct {
	ID            ulid.ULID
	DisplayName   string
	EmailVerified bool
}

// LoginResult is the outcome of a successful login.
type LoginResult struct {
	AccessToken  string
	RefreshToken string
	User         UserSummary
}

// Session returns the client session a transport should store.
func (r *LoginResult) Session() ClientSession {
	return ClientSession{
		AccessToken:   r.AccessToken,
		DisplayName:   r.User.DisplayName,
		SubjectHandle: r.User.ID.String(),
	}
}

func summarize(u *User) UserSummary {
	return UserSummary{
		ID:            u.ID,
		DisplayName:   u.DisplayName,
		EmailVerified: u.EmailVerified,
	}
}
