// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
)

// OtpDelivery is everything a Notifier needs to send a one-time token
// out of band.
type OtpDelivery struct {
	UserID      ulid.ULID
	Email       string
	DisplayName string
	Purpose     OtpPurpose
	Token       string
	ExpiresAt   time.Time
}

// Notifier delivers one-time tokens to their owner.
type Notifier interface {
	Deliver(ctx context.Context, d OtpDelivery) error
}

// LogNotifier writes deliveries to a logger instead of sending them.
// Intended for development; the token is logged at debug level only.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier. A nil logger uses slog.Default.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Deliver logs the delivery.
func (n *LogNotifier) Deliver(ctx context.Context, d OtpDelivery) error {
	n.logger.InfoContext(ctx, "otp issued",
		"user_id", d.UserID.String(),
		"purpose", string(d.Purpose),
		"expires_at", d.ExpiresAt,
	)
	n.logger.DebugContext(ctx, "otp token", "user_id", d.UserID.String(), "token", d.Token)
	return nil
}

var _ Notifier = (*LogNotifier)(nil)
