package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/md-rashed-zaman/eventoutbox/libs/events"
	"github.com/md-rashed-zaman/eventoutbox/libs/outbox"
	"github.com/md-rashed-zaman/eventoutbox/services/notification-service/internal/email"
)

var errUnexpectedPayload = errors.New("unexpected payload type")

// Mailer sends the welcome and invitation emails.
type Mailer struct {
	sender        email.Sender
	inviteBaseURL string
	logger        *slog.Logger
}

func NewMailer(sender email.Sender, inviteBaseURL string, logger *slog.Logger) *Mailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mailer{
		sender:        sender,
		inviteBaseURL: strings.TrimRight(inviteBaseURL, "/"),
		logger:        logger,
	}
}

func (m *Mailer) Register(p *Processor) {
	p.Handle(events.TypeUserCreated, m.welcome)
	p.Handle(events.TypeInvitationCreated, m.invitation)
}

func (m *Mailer) welcome(ctx context.Context, ev outbox.DomainEvent) error {
	pl, ok := ev.Payload.(*events.UserCreated)
	if !ok {
		return fmt.Errorf("%w: %T", errUnexpectedPayload, ev.Payload)
	}
	body, err := email.RenderWelcome(email.Welcome{
		FirstName: pl.FirstName,
		LastName:  pl.LastName,
		Email:     pl.Email,
	})
	if err != nil {
		return err
	}
	if err := m.sender.Send(pl.Email, email.WelcomeSubject, body); err != nil {
		return fmt.Errorf("send welcome email: %w", err)
	}
	m.logger.InfoContext(ctx, "welcome email sent", "user_id", ev.AggregateID)
	return nil
}

func (m *Mailer) invitation(ctx context.Context, ev outbox.DomainEvent) error {
	pl, ok := ev.Payload.(*events.InvitationCreated)
	if !ok {
		return fmt.Errorf("%w: %T", errUnexpectedPayload, ev.Payload)
	}
	body, err := email.RenderInvitation(email.Invitation{
		AcceptURL: m.inviteBaseURL + "/" + ev.AggregateID,
		ExpiresAt: pl.ExpiresAt,
	})
	if err != nil {
		return err
	}
	if err := m.sender.Send(pl.Email, email.InvitationSubject, body); err != nil {
		return fmt.Errorf("send invitation email: %w", err)
	}
	m.logger.InfoContext(ctx, "invitation email sent", "invitation_id", ev.AggregateID)
	return nil
}
