// Package templates renders report emails.
package templates

import (
	"bytes"
	"fmt"
	"html/template"
)

type EmailLayoutProps struct {
	Preheader  string
	Title      string
	Content    string
	FooterText string
}

type emailTemplateData struct {
	Preheader  string
	Title      string
	Content    template.HTML
	FooterText string
}

var emailLayoutTemplate = template.Must(template.New("emailLayout").Parse(`<!doctype html>
<html lang="en">
  <head>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <meta http-equiv="Content-Type" content="text/html; charset=UTF-8">
    <title>{{.Title}}</title>
  </head>
  <body style="font-family: Helvetica, sans-serif; font-size: 15px; line-height: 1.4; background-color: #f4f5f6; margin: 0; padding: 24px;">
    <span style="display: none; max-height: 0; overflow: hidden;">{{.Preheader}}</span>
    <div style="max-width: 640px; margin: 0 auto; background: #ffffff; border: 1px solid #eaebed; border-radius: 12px; padding: 24px;">
      <h1 style="font-size: 20px; margin: 0 0 16px 0;">{{.Title}}</h1>
      {{.Content}}
    </div>
    <p style="text-align: center; color: #9a9ea6; font-size: 13px;">{{.FooterText}}</p>
  </body>
</html>`))

// GetEmailLayout wraps pre-rendered content in the common layout.
func GetEmailLayout(props EmailLayoutProps) (string, error) {
	footer := props.FooterText
	if footer == "" {
		footer = "Sent by visitstats"
	}

	data := emailTemplateData{
		Preheader:  props.Preheader,
		Title:      props.Title,
		Content:    template.HTML(props.Content),
		FooterText: footer,
	}

	var buf bytes.Buffer
	if err := emailLayoutTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render email layout: %w", err)
	}
	return buf.String(), nil
}
