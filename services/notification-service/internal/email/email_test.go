package email

import (
	"strings"
	"testing"
	"time"
)

func TestBuildMessageHeaders(t *testing.T) {
	msg := buildMessage("from@x", "to@y", "Hi\r\nBcc: evil@z", "body")
	if !strings.HasPrefix(msg, "From: from@x\r\nTo: to@y\r\nSubject: Hi Bcc: evil@z\r\n") {
		t.Fatalf("headers = %q", msg)
	}
	if !strings.HasSuffix(msg, "\r\n\r\nbody\r\n") {
		t.Fatalf("body = %q", msg)
	}
}

func TestRenderTemplates(t *testing.T) {
	body, err := RenderWelcome(Welcome{FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com"})
	if err != nil {
		t.Fatalf("RenderWelcome: %v", err)
	}
	if !strings.Contains(body, "Hi Ada Lovelace,") || !strings.Contains(body, "ada@example.com") {
		t.Fatalf("welcome = %q", body)
	}

	body, err = RenderInvitation(Invitation{
		AcceptURL: "https://app.example.com/invitations/inv-1",
		ExpiresAt: time.Date(2024, 5, 8, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("RenderInvitation: %v", err)
	}
	if !strings.Contains(body, "/invitations/inv-1") || !strings.Contains(body, "2024-05-08 12:00 UTC") {
		t.Fatalf("invitation = %q", body)
	}
}
