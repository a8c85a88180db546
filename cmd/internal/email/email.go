// Package email abstracts outbound mail behind a small Sender interface.
//
// The production implementation talks to the Resend API. Handlers depend
// on the interface only, so tests swap in a recorder and local runs can
// use the no-op sender when no API key is configured.
package email

import (
	"context"
	"fmt"
	"html"

	"github.com/resend/resend-go/v3"
)

// Sender delivers the two transactional messages the auth flows need.
type Sender interface {
	// SendResetCode mails a short numeric password-reset code. The code
	// is typed into the client by hand, so no link is included.
	SendResetCode(ctx context.Context, toEmail, code string) error

	// SendVerificationLink mails an email-verification link carrying an
	// opaque single-use token.
	SendVerificationLink(ctx context.Context, toEmail, token string) error
}

type resendSender struct {
	client    *resend.Client
	fromEmail string
	appURL    string
}

// NewResendSender builds a Sender backed by the Resend API.
//
// fromEmail must live under a domain verified in the Resend dashboard.
// appURL is the public base URL used to build verification links.
func NewResendSender(apiKey, fromEmail, appURL string) Sender {
	return &resendSender{
		client:    resend.NewClient(apiKey),
		fromEmail: fromEmail,
		appURL:    appURL,
	}
}

func (s *resendSender) SendResetCode(ctx context.Context, toEmail, code string) error {
	body := fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="margin:0;padding:24px;background:#f6f6f4;font-family:Georgia,serif;">
  <table width="100%%" cellpadding="0" cellspacing="0">
    <tr><td align="center">
      <table width="440" cellpadding="0" cellspacing="0" style="background:#ffffff;border-radius:8px;padding:32px;">
        <tr><td>
          <h1 style="font-size:20px;margin:0 0 16px 0;color:#1f2933;">ReadMemo</h1>
          <p style="font-size:15px;line-height:1.6;color:#3e4c59;margin:0 0 20px 0;">
            Use this code to reset your password. It expires in 10 minutes.
          </p>
          <p style="font-size:32px;letter-spacing:8px;font-weight:bold;color:#1f2933;margin:0 0 20px 0;">%s</p>
          <p style="font-size:13px;line-height:1.6;color:#7b8794;margin:0;">
            If you did not ask to reset your password, you can ignore this email.
          </p>
        </td></tr>
      </table>
    </td></tr>
  </table>
</body>
</html>`, html.EscapeString(code))

	return s.send(ctx, toEmail, "Your ReadMemo password reset code", body)
}

func (s *resendSender) SendVerificationLink(ctx context.Context, toEmail, token string) error {
	link := fmt.Sprintf("%s/verify-email?token=%s", s.appURL, token)

	body := fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="margin:0;padding:24px;background:#f6f6f4;font-family:Georgia,serif;">
  <table width="100%%" cellpadding="0" cellspacing="0">
    <tr><td align="center">
      <table width="440" cellpadding="0" cellspacing="0" style="background:#ffffff;border-radius:8px;padding:32px;">
        <tr><td>
          <h1 style="font-size:20px;margin:0 0 16px 0;color:#1f2933;">ReadMemo</h1>
          <p style="font-size:15px;line-height:1.6;color:#3e4c59;margin:0 0 20px 0;">
            Confirm your email address to finish setting up your account. The link is valid for 24 hours.
          </p>
          <table cellpadding="0" cellspacing="0" style="margin:0 0 20px 0;">
            <tr><td style="background:#2f6f4f;border-radius:6px;padding:12px 28px;">
              <a href="%s" style="color:#ffffff;text-decoration:none;font-size:15px;">Verify email</a>
            </td></tr>
          </table>
          <p style="font-size:13px;line-height:1.6;color:#7b8794;margin:0;word-break:break-all;">
            If the button does not work, copy and paste this link:<br>
            <a href="%s" style="color:#2f6f4f;">%s</a>
          </p>
        </td></tr>
      </table>
    </td></tr>
  </table>
</body>
</html>`, link, link, link)

	return s.send(ctx, toEmail, "Verify your ReadMemo email address", body)
}

func (s *resendSender) send(ctx context.Context, toEmail, subject, body string) error {
	params := &resend.SendEmailRequest{
		From:    fmt.Sprintf("ReadMemo <%s>", s.fromEmail),
		To:      []string{toEmail},
		Subject: subject,
		Html:    body,
	}
	if _, err := s.client.Emails.SendWithContext(ctx, params); err != nil {
		return fmt.Errorf("send %q email: %w", subject, err)
	}
	return nil
}

// NopSender discards all mail. Used when no provider is configured,
// typically in local development.
type NopSender struct{}

func (NopSender) SendResetCode(context.Context, string, string) error { return nil }

func (NopSender) SendVerificationLink(context.Context, string, string) error { return nil }
