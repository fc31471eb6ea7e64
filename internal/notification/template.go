package notification

import (
	"bytes"
	"html/template"
)

// highPriorityPrefix is prepended to the subject of high-priority email.
const highPriorityPrefix = "[HIGH] "

// defaultSubject is used when metadata carries no subject.
const defaultSubject = "Notification"

// emailTmpl is the HTML wrapper applied to every outgoing email.
// {{.Subject}} and {{.Body}} are auto-escaped by html/template.
var emailTmpl = template.Must(template.New("email").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width,initial-scale=1.0">
  <title>{{.Subject}}</title>
</head>
<body style="margin:0;padding:0;background-color:#f3f4f6;font-family:Helvetica,Arial,sans-serif;">
  <table width="100%" cellpadding="0" cellspacing="0" role="presentation" style="padding:32px 12px;">
    <tr>
      <td align="center">
        <table width="560" cellpadding="0" cellspacing="0" role="presentation"
               style="max-width:560px;width:100%;background-color:#ffffff;border-radius:8px;">
          {{- if .High}}
          <tr>
            <td style="background-color:#b91c1c;color:#ffffff;padding:8px 32px;font-size:12px;
                       font-weight:700;letter-spacing:0.5px;border-radius:8px 8px 0 0;">HIGH PRIORITY</td>
          </tr>
          {{- end}}
          <tr>
            <td style="padding:24px 32px 8px 32px;font-size:18px;font-weight:600;color:#111827;">{{.Subject}}</td>
          </tr>
          <tr>
            <td style="padding:8px 32px 32px 32px;font-size:14px;line-height:1.6;color:#374151;
                       white-space:pre-wrap;word-break:break-word;">{{.Body}}</td>
          </tr>
        </table>
      </td>
    </tr>
  </table>
</body>
</html>
`))

// buildSubject returns the subject line for an email, marking high priority.
func buildSubject(subject string, high bool) string {
	if subject == "" {
		subject = defaultSubject
	}
	if high {
		return highPriorityPrefix + subject
	}
	return subject
}

// buildEmailHTML renders the HTML email template.
func buildEmailHTML(subject, body string, high bool) (string, error) {
	var buf bytes.Buffer
	err := emailTmpl.Execute(&buf, struct {
		Subject, Body string
		High          bool
	}{subject, body, high})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}
