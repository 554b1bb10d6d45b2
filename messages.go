package twofa

import (
	"bytes"
	"fmt"
	"html/template"
	"time"
)

type codeEmailKind string

const (
	codeEmailSignIn        codeEmailKind = "signin"
	codeEmailRegistration  codeEmailKind = "registration"
	codeEmailPasswordReset codeEmailKind = "password_reset"
	codeEmailEmailChange   codeEmailKind = "email_change"
)

var codeEmailIntro = map[codeEmailKind]string{
	codeEmailSignIn:        "Use this code to finish signing in.",
	codeEmailRegistration:  "Use this code to confirm your email address.",
	codeEmailPasswordReset: "Use this code to reset your password. If you did not ask for a reset you can ignore this message.",
	codeEmailEmailChange:   "Use this code to confirm your new email address.",
}

var codeEmailTemplate = template.Must(template.New("code").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #222;">
<p>{{if .Name}}Hello {{.Name}},{{else}}Hello,{{end}}</p>
<p>{{.Intro}}</p>
<p style="font-size: 28px; font-weight: bold; letter-spacing: 6px;">{{.Code}}</p>
<p>The code expires in {{.Minutes}} minutes.</p>
</body>
</html>
`))

func renderCodeEmail(kind codeEmailKind, name, code string, ttl time.Duration) (string, error) {
	intro, ok := codeEmailIntro[kind]
	if !ok {
		return "", fmt.Errorf("unknown email kind %q", kind)
	}
	minutes := int(ttl.Round(time.Minute) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}

	var buf bytes.Buffer
	err := codeEmailTemplate.Execute(&buf, map[string]any{
		"Name":    name,
		"Intro":   intro,
		"Code":    code,
		"Minutes": minutes,
	})
	if err != nil {
		return "", fmt.Errorf("execute email template: %w", err)
	}
	return buf.String(), nil
}
