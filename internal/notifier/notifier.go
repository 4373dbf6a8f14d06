// Package notifier delivers the account emails: password reset,
// verification and welcome.
package notifier

import (
	"context"
	"fmt"
	"strings"
)

// Kinds of message, also sent to the relay so it can pick a template.
const (
	KindPasswordReset = "password_reset"
	KindVerification  = "email_verification"
	KindWelcome       = "welcome"
)

// Notifier sends account emails. Raw tokens only ever travel inside the
// message link.
type Notifier interface {
	SendPasswordReset(ctx context.Context, to, name, rawToken string) error
	SendVerification(ctx context.Context, to, name, rawToken string) error
	SendWelcome(ctx context.Context, to, name string) error
}

// Message is one composed email.
type Message struct {
	Kind    string `json:"kind"`
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
	Link    string `json:"link"`
}

// Transport hands a composed message to a delivery channel.
type Transport interface {
	Deliver(ctx context.Context, msg Message) error
}

// Mailer composes messages and passes them to a Transport.
type Mailer struct {
	transport Transport
	clientURL string
	from      string
}

// NewMailer creates a Mailer whose links point at clientURL.
func NewMailer(transport Transport, clientURL, from string) *Mailer {
	return &Mailer{
		transport: transport,
		clientURL: strings.TrimRight(clientURL, "/"),
		from:      from,
	}
}

func (m *Mailer) SendPasswordReset(ctx context.Context, to, name, rawToken string) error {
	link := m.clientURL + "/reset-password/" + rawToken
	return m.send(ctx, Message{
		Kind:    KindPasswordReset,
		To:      to,
		Subject: "Password Reset Request",
		Link:    link,
		Text: fmt.Sprintf("Hi %s,\n\nWe received a request to reset your password.\n"+
			"Visit this link to set a new password:\n%s\n\n"+
			"This link expires in 10 minutes. If you did not request a reset, ignore this email; "+
			"your password will remain unchanged.\n", greetingName(name), link),
	})
}

func (m *Mailer) SendVerification(ctx context.Context, to, name, rawToken string) error {
	link := m.clientURL + "/verify-email/" + rawToken
	return m.send(ctx, Message{
		Kind:    KindVerification,
		To:      to,
		Subject: "Verify Your Email",
		Link:    link,
		Text: fmt.Sprintf("Hi %s,\n\nPlease confirm your email address.\n"+
			"Click this link to verify:\n%s\n\nThis link expires in 24 hours.\n", greetingName(name), link),
	})
}

func (m *Mailer) SendWelcome(ctx context.Context, to, name string) error {
	link := m.clientURL + "/dashboard"
	return m.send(ctx, Message{
		Kind:    KindWelcome,
		To:      to,
		Subject: "Welcome!",
		Link:    link,
		Text:    fmt.Sprintf("Hi %s,\n\nYour account is ready. Visit %s to get started!\n", greetingName(name), link),
	})
}

func (m *Mailer) send(ctx context.Context, msg Message) error {
	msg.From = m.from
	if err := m.transport.Deliver(ctx, msg); err != nil {
		return fmt.Errorf("deliver %s email: %w", msg.Kind, err)
	}
	return nil
}

func greetingName(name string) string {
	if name == "" {
		return "there"
	}
	return name
}
