package mailer

import (
	"bytes"
	"fmt"
	"html/template"
	"net/url"
	"strings"
)

// RecoverySubject is the subject line of password recovery mail.
const RecoverySubject = "Password Recovery"

var recoveryHTML = template.Must(template.New("recovery").Parse(
	`<h1>Password recovery</h1>
<p>To finish password recovery please follow the link below:
    <a href="{{.Link}}">recovery password</a>
</p>
`))

// RecoveryLink builds the client URL that carries code.
func RecoveryLink(clientURL, code string) string {
	return strings.TrimRight(clientURL, "/") + "/password-recovery?recoveryCode=" + url.QueryEscape(code)
}

// RecoveryMessage renders the password recovery email for to.
func RecoveryMessage(clientURL, to, code string) (Message, error) {
	link := RecoveryLink(clientURL, code)

	var buf bytes.Buffer
	if err := recoveryHTML.Execute(&buf, struct{ Link string }{link}); err != nil {
		return Message{}, fmt.Errorf("mailer: render recovery: %w", err)
	}
	return Message{
		To:      to,
		Subject: RecoverySubject,
		HTML:    buf.String(),
		Text:    "To finish password recovery open: " + link + "\n",
	}, nil
}
