// Package mailer sends outbound email over SMTP and classifies failures into
// transient and permanent so the delivery worker can apply the right retry
// policy.
package mailer

import (
	"errors"
	"fmt"
	"net/textproto"
	"time"

	"gopkg.in/mail.v2"
)

var (
	// ErrTransient marks failures worth retrying: timeouts, connection
	// problems, 4xx SMTP replies.
	ErrTransient = errors.New("transient mail delivery error")

	// ErrPermanent marks hard failures: 5xx SMTP replies such as a rejected
	// recipient. Retrying cannot help.
	ErrPermanent = errors.New("permanent mail delivery error")
)

type Client struct {
	smtpHost string
	smtpPort int
	username string
	password string
	from     string
	timeout  time.Duration
}

func NewClient(smtpHost string, smtpPort int, username, password, from string, timeout time.Duration) *Client {
	return &Client{
		smtpHost: smtpHost,
		smtpPort: smtpPort,
		username: username,
		password: password,
		from:     from,
		timeout:  timeout,
	}
}

// Send delivers one email. The returned error wraps ErrTransient or
// ErrPermanent.
func (c *Client) Send(to, subject, htmlBody, textBody string, headers map[string]string) error {
	message := mail.NewMessage()

	message.SetHeader("From", c.from)
	message.SetHeader("To", to)
	message.SetHeader("Subject", subject)
	for k, v := range headers {
		message.SetHeader(k, v)
	}

	message.SetBody("text/plain", textBody)
	if htmlBody != "" {
		message.AddAlternative("text/html", htmlBody)
	}

	dialer := mail.NewDialer(c.smtpHost, c.smtpPort, c.username, c.password)
	dialer.Timeout = c.timeout

	if err := dialer.DialAndSend(message); err != nil {
		return classify(err)
	}

	return nil
}

// classify maps an SMTP/network error onto the transient/permanent taxonomy.
// 5xx replies are permanent, everything else (4xx, dial and read failures) is
// transient.
func classify(err error) error {
	var proto *textproto.Error
	if errors.As(err, &proto) && proto.Code >= 500 {
		return fmt.Errorf("%w: %v", ErrPermanent, err)
	}

	return fmt.Errorf("%w: %v", ErrTransient, err)
}
