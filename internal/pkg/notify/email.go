package notify

import (
	"fmt"
	"log/slog"
	"strings"

	"taskmaster/internal/config"
	"taskmaster/internal/pkg/metrics"

	"gopkg.in/gomail.v2"
)

// EmailNotifier 实现 SMTP 邮件发送。
type EmailNotifier struct {
	cfg       *config.EmailConfig
	publicURL string
	logger    *slog.Logger
}

// NewEmailNotifier 创建一个新的邮件发送器。
//
// publicURL 为 API 对外地址，用于拼接验证链接。
func NewEmailNotifier(cfg *config.EmailConfig, publicURL string, logger *slog.Logger) *EmailNotifier {
	return &EmailNotifier{
		cfg:       cfg,
		publicURL: strings.TrimRight(publicURL, "/"),
		logger:    logger,
	}
}

// SendVerificationEmail 发送邮箱验证邮件。
func (n *EmailNotifier) SendVerificationEmail(toEmail string, name string, token string) error {
	if err := n.checkConfig(toEmail); err != nil {
		return err
	}

	verifyURL := fmt.Sprintf("%s/api/v1/auth/verify-email/%s", n.publicURL, token)

	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.FromEmail)
	m.SetHeader("To", toEmail)
	m.SetHeader("Subject", "[TaskMaster] Verify your email address")
	m.SetBody("text/html", buildVerificationBody(name, verifyURL))

	d := gomail.NewDialer(n.cfg.SMTPHost, n.cfg.SMTPPort, n.cfg.SMTPUser, n.cfg.SMTPPass)
	if err := d.DialAndSend(m); err != nil {
		metrics.EmailFailedTotal.WithLabelValues("verification").Inc()
		return fmt.Errorf("send email: %w", err)
	}

	metrics.EmailSentTotal.WithLabelValues("verification").Inc()
	n.logger.Info("verification email sent", slog.String("to", toEmail))
	return nil
}

// SendWelcomeEmail 发送验证成功后的欢迎邮件。
func (n *EmailNotifier) SendWelcomeEmail(toEmail string, name string) error {
	if err := n.checkConfig(toEmail); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.FromEmail)
	m.SetHeader("To", toEmail)
	m.SetHeader("Subject", "[TaskMaster] Welcome aboard")
	m.SetBody("text/html", buildWelcomeBody(name))

	d := gomail.NewDialer(n.cfg.SMTPHost, n.cfg.SMTPPort, n.cfg.SMTPUser, n.cfg.SMTPPass)
	if err := d.DialAndSend(m); err != nil {
		metrics.EmailFailedTotal.WithLabelValues("welcome").Inc()
		return fmt.Errorf("send email: %w", err)
	}

	metrics.EmailSentTotal.WithLabelValues("welcome").Inc()
	n.logger.Info("welcome email sent", slog.String("to", toEmail))
	return nil
}

func (n *EmailNotifier) checkConfig(toEmail string) error {
	if n.cfg.SMTPHost == "" || n.cfg.SMTPUser == "" || n.cfg.FromEmail == "" {
		return fmt.Errorf("email config missing")
	}
	if strings.TrimSpace(toEmail) == "" {
		return fmt.Errorf("empty recipient")
	}
	return nil
}

func buildVerificationBody(name string, verifyURL string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; background: #f6f7fb; color: #1f2937;">
  <div style="max-width: 560px; margin: 24px auto; background: #ffffff; border-radius: 12px; border: 1px solid #e5e7eb; overflow: hidden;">
    <div style="background: #0f172a; color: #ffffff; padding: 16px 20px; font-weight: bold;">TaskMaster</div>
    <div style="padding: 20px;">
      <h2>Verify your email</h2>
      <p>Hi %s,</p>
      <p>Thanks for signing up. Click the button below to verify your email address and activate your account.</p>
      <div style="text-align:center; margin: 20px 0;">
        <a href="%s" style="display:inline-block; padding: 12px 20px; background: #22c55e; color: #fff; text-decoration: none; border-radius: 8px; font-weight: bold;">Verify Email</a>
      </div>
      <p style="font-size: 12px; color: #6b7280;">The link expires in 24 hours. If the button does not work, copy this URL into your browser:<br/>%s</p>
    </div>
  </div>
</body>
</html>`, name, verifyURL, verifyURL)
}

func buildWelcomeBody(name string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; background: #f6f7fb; color: #1f2937;">
  <div style="max-width: 560px; margin: 24px auto; background: #ffffff; border-radius: 12px; border: 1px solid #e5e7eb; overflow: hidden;">
    <div style="background: #0f172a; color: #ffffff; padding: 16px 20px; font-weight: bold;">TaskMaster</div>
    <div style="padding: 20px;">
      <h2>Welcome, %s!</h2>
      <p>Your email is verified and your account is ready. You can now log in and start managing your tasks.</p>
    </div>
  </div>
</body>
</html>`, name)
}
