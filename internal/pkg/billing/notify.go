package billing

import (
	"fmt"
	"log"

	"github.com/quillhost/quillhost/app/models"
)

// Mailer sends a single email. The SMTP implementation lives in
// internal/pkg/mail; tests inject fakes.
type Mailer interface {
	Send(to, subject, body string) error
}

// MailerFunc adapts a plain send function to the Mailer interface.
type MailerFunc func(to, subject, body string) error

func (f MailerFunc) Send(to, subject, body string) error {
	return f(to, subject, body)
}

// Notifier delivers operator notifications for billing state changes. The
// enable path calls it at most once per false-to-true premium transition.
type Notifier interface {
	PremiumEnabled(user *models.User, source string)
	CancelScheduled(user *models.User)
}

// adminNotifier mails the operator address. Sends happen on a goroutine so
// the webhook dispatch path never waits on SMTP.
type adminNotifier struct {
	adminEmail string
	mailer     Mailer
}

// NewAdminNotifier creates a Notifier that emails the given operator
// address. With an empty address notifications are logged only.
func NewAdminNotifier(adminEmail string, mailer Mailer) Notifier {
	return &adminNotifier{adminEmail: adminEmail, mailer: mailer}
}

func (n *adminNotifier) PremiumEnabled(user *models.User, source string) {
	subject := fmt.Sprintf("New premium subscriber (%s): %s", source, user.Username)
	n.send(subject, user.BlogURL)
}

func (n *adminNotifier) CancelScheduled(user *models.User) {
	subject := fmt.Sprintf("Cancellation premium subscriber: %s", user.Username)
	n.send(subject, user.BlogURL)
}

func (n *adminNotifier) send(subject, body string) {
	if n.adminEmail == "" {
		log.Printf("admin notification (no ADMIN_EMAIL configured): %s", subject)
		return
	}
	go func() {
		if err := n.mailer.Send(n.adminEmail, subject, body); err != nil {
			log.Printf("admin notification %q failed: %v", subject, err)
		}
	}()
}
