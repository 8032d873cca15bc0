package services

import (
	"fmt"
	"log"
	"strings"

	"intake_flow_go/config"

	"github.com/resend/resend-go/v2"
)

// Email represents a notification message.
type Email struct {
	To       []string
	Subject  string
	TextBody string
}

// Notifier sends best-effort staff notifications. A send failure is logged
// and never fails the operation that triggered it.
type Notifier struct {
	cfg *config.Config
}

// NewNotifier creates a notifier, or nil when no recipient is configured.
func NewNotifier(cfg *config.Config) *Notifier {
	if cfg.NotifyEmail == "" {
		log.Println("[INFO] NOTIFY_EMAIL not set; submission notifications disabled")
		return nil
	}
	return &Notifier{cfg: cfg}
}

// SubmissionReceivedAsync notifies staff that a submission was filed.
func (n *Notifier) SubmissionReceivedAsync(caseKey, formKey, name string) {
	email := &Email{
		To:      []string{n.cfg.NotifyEmail},
		Subject: fmt.Sprintf("New submission %s for case %s", formKey, caseKey),
		TextBody: fmt.Sprintf("A new form submission was stored.\n\nCase: %s\nForm: %s\nArtifact: %s\n",
			caseKey, formKey, name),
	}
	go n.send(email)
}

// MergeCompletedAsync notifies staff that a composite form is complete.
func (n *Notifier) MergeCompletedAsync(caseKey, formKey, name string) {
	email := &Email{
		To:      []string{n.cfg.NotifyEmail},
		Subject: fmt.Sprintf("Composite form %s completed for case %s", formKey, caseKey),
		TextBody: fmt.Sprintf("All parts of a composite form were merged.\n\nCase: %s\nForm: %s\nArtifact: %s\n",
			caseKey, formKey, name),
	}
	go n.send(email)
}

// send delivers via the Resend API. In test mode the email is logged to the
// console instead of sent.
func (n *Notifier) send(email *Email) {
	if n.cfg.EmailTestMode {
		logEmailToConsole(email)
		return
	}

	if n.cfg.ResendAPIKey == "" {
		log.Println("[WARNING] RESEND_API_KEY not configured; dropping notification")
		return
	}

	client := resend.NewClient(n.cfg.ResendAPIKey)
	params := &resend.SendEmailRequest{
		From:    fmt.Sprintf("%s <%s>", n.cfg.EmailFromName, n.cfg.EmailFrom),
		To:      email.To,
		Subject: email.Subject,
		Text:    email.TextBody,
	}
	if _, err := client.Emails.Send(params); err != nil {
		log.Printf("[WARNING] failed to send notification %q: %v", email.Subject, err)
		return
	}
	log.Printf("[INFO] notification sent: %s", email.Subject)
}

func logEmailToConsole(email *Email) {
	log.Printf("[INFO] email (test mode, not sent)\nTo: %s\nSubject: %s\n%s",
		strings.Join(email.To, ", "), email.Subject, email.TextBody)
}
