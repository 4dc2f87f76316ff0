package services

import (
	"fmt"
	"html"
	"strings"

	"cursive-backend/config"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"
)

// PurchaseConfirmation is what the buyer receives after a completed purchase.
type PurchaseConfirmation struct {
	To            string
	BuyerName     string
	PurchaseID    string
	TotalLeads    int
	TotalPrice    decimal.Decimal
	PaymentMethod string
	DownloadURL   string
}

type Mailer interface {
	SendPurchaseConfirmation(msg PurchaseConfirmation) error
}

type emailService struct {
	dialer *gomail.Dialer
	from   string
}

// NewMailer returns an SMTP mailer, or a logging no-op when SMTP is not configured.
func NewMailer(cfg *config.SMTPConfig) Mailer {
	if !cfg.SMTPEnabled() {
		return logOnlyMailer{}
	}
	return &emailService{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password),
		from:   cfg.From,
	}
}

func (s *emailService) SendPurchaseConfirmation(msg PurchaseConfirmation) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", fmt.Sprintf("Your Cursive lead purchase (%d leads)", msg.TotalLeads))
	m.SetBody("text/html", renderPurchaseConfirmation(msg))

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send purchase confirmation: %w", err)
	}
	return nil
}

func renderPurchaseConfirmation(msg PurchaseConfirmation) string {
	name := strings.TrimSpace(msg.BuyerName)
	if name == "" {
		name = "there"
	}
	method := "account credits"
	if msg.PaymentMethod == "stripe" {
		method = "card"
	}
	return fmt.Sprintf(`
		<h2>Hi %s,</h2>
		<p>Your purchase of <strong>%d leads</strong> is complete.</p>
		<p>Total: <strong>$%s</strong> paid with %s.</p>
		<p><a href="%s">View your leads</a></p>
		<p>Purchase reference: %s</p>
		<p>Best regards,<br>The Cursive Team</p>
	`, html.EscapeString(name), msg.TotalLeads, msg.TotalPrice.StringFixed(2), method,
		html.EscapeString(msg.DownloadURL), html.EscapeString(msg.PurchaseID))
}

type logOnlyMailer struct{}

func (logOnlyMailer) SendPurchaseConfirmation(msg PurchaseConfirmation) error {
	logrus.WithFields(logrus.Fields{
		"purchase_id": msg.PurchaseID,
		"to":          msg.To,
	}).Info("SMTP not configured, skipping purchase confirmation email")
	return nil
}
