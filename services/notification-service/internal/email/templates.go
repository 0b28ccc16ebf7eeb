package email

import (
	"bytes"
	"text/template"
	"time"
)

var welcomeTmpl = template.Must(template.New("welcome").Parse(
	`Hi {{.FirstName}} {{.LastName}},

Your account has been created and you're all set to get started.

Your registered email is: {{.Email}}
`))

var invitationTmpl = template.Must(template.New("invitation").Parse(
	`You have been invited to join.

Accept the invitation here: {{.AcceptURL}}

This invitation expires on {{.ExpiresAt.UTC.Format "2006-01-02 15:04 MST"}}.
`))

type Welcome struct {
	FirstName string
	LastName  string
	Email     string
}

type Invitation struct {
	AcceptURL string
	ExpiresAt time.Time
}

const (
	WelcomeSubject    = "Welcome to Our Platform!"
	InvitationSubject = "You have been invited!"
)

func RenderWelcome(w Welcome) (string, error) {
	var b bytes.Buffer
	if err := welcomeTmpl.Execute(&b, w); err != nil {
		return "", err
	}
	return b.String(), nil
}

func RenderInvitation(inv Invitation) (string, error) {
	var b bytes.Buffer
	if err := invitationTmpl.Execute(&b, inv); err != nil {
		return "", err
	}
	return b.String(), nil
}
