package notify

import (
	htmltemplate "html/template"
	texttemplate "text/template"
)

const (
	ticketCreatedSubject = "New Jira Task Created: {{.TicketKey}}"
	testSubject          = "Test Email from Jira Automation System"
	footer               = "This is an automated notification from the IT Request Email Processing System."
)

type ticketCreatedData struct {
	TicketKey       string
	TicketURL       string
	OriginalSubject string
	From            string
	Created         string
	Footer          string
}

type testData struct {
	SentAt string
}

var (
	subjectTmpl = texttemplate.Must(texttemplate.New("subject").Parse(ticketCreatedSubject))

	ticketCreatedText = texttemplate.Must(texttemplate.New("ticket_created_text").Parse(`New Jira Task Created

Task ID: {{.TicketKey}}
Original Subject: {{.OriginalSubject}}
From: {{.From}}
Created: {{.Created}}

View Task: {{.TicketURL}}

{{.Footer}}
`))

	ticketCreatedHTML = htmltemplate.Must(htmltemplate.New("ticket_created_html").Parse(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <div style="background-color: #0052CC; color: white; padding: 20px; border-radius: 8px 8px 0 0;">
    <h2 style="margin: 0; font-size: 24px;">New Jira Task Created</h2>
  </div>
  <div style="background-color: #f4f5f7; padding: 20px; border: 1px solid #ddd; border-top: none;">
    <table style="width: 100%; border-collapse: collapse;">
      <tr><td style="padding: 8px 0; font-weight: bold;">Task ID:</td><td style="padding: 8px 0;">{{.TicketKey}}</td></tr>
      <tr><td style="padding: 8px 0; font-weight: bold;">Original Subject:</td><td style="padding: 8px 0;">{{.OriginalSubject}}</td></tr>
      <tr><td style="padding: 8px 0; font-weight: bold;">From:</td><td style="padding: 8px 0;">{{.From}}</td></tr>
      <tr><td style="padding: 8px 0; font-weight: bold;">Created:</td><td style="padding: 8px 0;">{{.Created}}</td></tr>
    </table>
    <div style="text-align: center; margin: 30px 0;">
      <a href="{{.TicketURL}}" style="background-color: #0052CC; color: white; padding: 12px 24px; text-decoration: none; border-radius: 6px; display: inline-block; font-weight: bold;">View Task in Jira</a>
    </div>
  </div>
  <p style="margin: 0; padding: 15px; color: #666; font-size: 12px; text-align: center;">{{.Footer}}</p>
</div>
`))

	testText = texttemplate.Must(texttemplate.New("test_text").Parse(`Test Email

This is a test email from the Jira Email Automation System.
If you received this email, the notification system is working correctly.

Test sent at: {{.SentAt}}
`))

	testHTML = htmltemplate.Must(htmltemplate.New("test_html").Parse(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <div style="background-color: #0052CC; color: white; padding: 20px; border-radius: 8px 8px 0 0;">
    <h2 style="margin: 0;">Test Email</h2>
  </div>
  <div style="padding: 20px; border: 1px solid #ddd; border-top: none; border-radius: 0 0 8px 8px;">
    <p>This is a test email from the Jira Email Automation System.</p>
    <p>If you received this email, the notification system is working correctly.</p>
    <p><strong>Test sent at:</strong> {{.SentAt}}</p>
  </div>
</div>
`))
)
