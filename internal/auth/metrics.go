// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth

// Outcome labels recorded by a Recorder.
const (
	OutcomeSuccess            = "success"
	OutcomeInvalidCredentials = "invalid_credentials"
	OutcomeNoPassword         = "no_password"
	OutcomeError              = "error"
	OutcomeRefreshed          = "refreshed"
	OutcomeStale              = "stale"
	OutcomeInvalid            = "invalid"
	OutcomeLoggedOut          = "logged_out"
	OutcomeRejected           = "rejected"
	OutcomeLockedOut          = "locked_out"
)

// Recorder receives outcome counts from the engine.
type Recorder interface {
	RecordLogin(outcome string)
	RecordSessionCheck(outcome string)
	RecordOtp(purpose OtpPurpose, operation, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) RecordLogin(string)                   {}
func (nopRecorder) RecordSessionCheck(string)            {}
func (nopRecorder) RecordOtp(OtpPurpose, string, string) {}
