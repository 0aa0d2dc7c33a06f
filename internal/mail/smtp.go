// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

// Package mail delivers one-time tokens by email.
package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"log/slog"
	"net/url"
	"strings"
	"text/template"
	"time"

	gomail "github.com/go-mail/mail"
	"github.com/samber/oops"

	"github.com/gatekeep/gatekeep/internal/auth"
)

// Settings configures an SMTPNotifier.
type Settings struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// BaseURL is the public origin links in mail point at.
	BaseURL string
	Timeout time.Duration
}

// sender is the part of *gomail.Dialer the notifier uses.
type sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPNotifier implements auth.Notifier over SMTP.
type SMTPNotifier struct {
	sender  sender
	from    string
	baseURL *url.URL
	logger  *slog.Logger
}

// NewSMTPNotifier creates an SMTPNotifier. Port 465 uses implicit TLS;
// other ports negotiate STARTTLS when the server offers it.
func NewSMTPNotifier(s Settings, logger *slog.Logger) (*SMTPNotifier, error) {
	if s.Host == "" || s.From == "" {
		return nil, oops.Code("MAIL_CONFIG_INVALID").Errorf("smtp host and sender are required")
	}
	base, err := url.Parse(s.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, oops.Code("MAIL_CONFIG_INVALID").With("base_url", s.BaseURL).Errorf("base URL must be absolute")
	}

	d := gomail.NewDialer(s.Host, s.Port, s.Username, s.Password)
	d.TLSConfig = &tls.Config{ServerName: s.Host, MinVersion: tls.VersionTLS12}
	d.SSL = s.Port == 465
	if s.Timeout > 0 {
		d.Timeout = s.Timeout
	}

	return newNotifier(d, s.From, base, logger), nil
}

func newNotifier(snd sender, from string, base *url.URL, logger *slog.Logger) *SMTPNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &SMTPNotifier{sender: snd, from: from, baseURL: base, logger: logger}
}

// Deliver renders and sends the message for d.
func (n *SMTPNotifier) Deliver(ctx context.Context, d auth.OtpDelivery) error {
	if err := ctx.Err(); err != nil {
		return oops.Code(auth.CodeNotificationFailed).Wrap(err)
	}

	msg, err := n.compose(d)
	if err != nil {
		return err
	}

	if err := n.sender.DialAndSend(msg); err != nil {
		return oops.Code(auth.CodeNotificationFailed).
			With("operation", "smtp send").
			With("purpose", string(d.Purpose)).
			With("user_id", d.UserID.String()).
			Wrap(err)
	}

	n.logger.InfoContext(ctx, "otp mail sent",
		"user_id", d.UserID.String(),
		"purpose", string(d.Purpose),
	)
	return nil
}

func (n *SMTPNotifier) compose(d auth.OtpDelivery) (*gomail.Message, error) {
	tmpl, ok := templates[d.Purpose]
	if !ok {
		return nil, oops.Code(auth.CodeNotificationFailed).
			With("purpose", string(d.Purpose)).
			Errorf("no mail template for purpose")
	}

	var body bytes.Buffer
	if err := tmpl.body.Execute(&body, mailData{
		Name:      displayName(d),
		Link:      n.link(tmpl.path, d),
		Token:     d.Token,
		ExpiresAt: d.ExpiresAt.UTC().Format(time.RFC1123),
	}); err != nil {
		return nil, oops.Code(auth.CodeNotificationFailed).With("operation", "render mail").Wrap(err)
	}

	m := gomail.NewMessage(gomail.SetEncoding(gomail.Unencoded))
	m.SetHeader("From", n.from)
	m.SetAddressHeader("To", d.Email, d.DisplayName)
	m.SetHeader("Subject", tmpl.subject)
	m.SetBody("text/plain", body.String())
	return m, nil
}

// link builds <base>/<path>?user=<id>&token=<token>.
func (n *SMTPNotifier) link(path string, d auth.OtpDelivery) string {
	u := *n.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	q := url.Values{}
	q.Set("user", d.UserID.String())
	q.Set("token", d.Token)
	u.RawQuery = q.Encode()
	return u.String()
}

func displayName(d auth.OtpDelivery) string {
	if d.DisplayName != "" {
		return d.DisplayName
	}
	return d.Email
}

var _ auth.Notifier = (*SMTPNotifier)(nil)

type mailData struct {
	Name      string
	Link      string
	Token     string
	ExpiresAt string
}

type mailTemplate struct {
	subject string
	path    string
	body    *template.Template
}

var templates = map[auth.OtpPurpose]mailTemplate{
	auth.PurposeVerifyEmail: {
		subject: "Confirm your email address",
		path:    "/verify-email",
		body: template.Must(template.New("verify").Parse(`Hello {{.Name}},

Confirm your email address by opening this link:

{{.Link}}

The link expires at {{.ExpiresAt}}. If you did not create an account you can ignore this message.
`)),
	},
	auth.PurposeResetPassword: {
		subject: "Reset your password",
		path:    "/reset-password",
		body: template.Must(template.New("reset").Parse(`Hello {{.Name}},

Someone asked to reset the password for this account. To choose a new password open:

{{.Link}}

The link expires at {{.ExpiresAt}} and can be used once. If you did not ask for a reset you can ignore this message.
`)),
	},
}
