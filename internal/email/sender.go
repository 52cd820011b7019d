package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"marketplace-checkout/internal/config"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

type PaymentConfirmation struct {
	To           string
	ProductTitle string
	OrderID      string
	Amount       string
	Currency     string
	ReceiptURL   string
}

type Sender interface {
	SendPaymentConfirmation(ctx context.Context, msg *PaymentConfirmation) error
}

var confirmationTmpl = template.Must(template.New("confirmation").Parse(`<p>Thanks for your purchase!</p>
<p><strong>{{.ProductTitle}}</strong> is now available in your library.</p>
<p>Order {{.OrderID}}: {{.Amount}} {{.Currency}}</p>
{{if .ReceiptURL}}<p><a href="{{.ReceiptURL}}">View receipt</a></p>{{end}}`))

type smtpSender struct {
	from   string
	dialer *gomail.Dialer
}

type logSender struct {
	log *zap.Logger
}

// NewSender returns an SMTP sender, or one that only logs when no SMTP host
// is configured.
func NewSender(cfg *config.SMTP, log *zap.Logger) Sender {
	if cfg.Host == "" {
		return &logSender{log: log}
	}
	return &smtpSender{
		from:   cfg.From,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
	}
}

func (s *smtpSender) SendPaymentConfirmation(ctx context.Context, msg *PaymentConfirmation) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m, err := buildConfirmation(s.from, msg)
	if err != nil {
		return err
	}
	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("send confirmation email: %w", err)
	}
	return nil
}

func (s *logSender) SendPaymentConfirmation(_ context.Context, msg *PaymentConfirmation) error {
	s.log.Info("smtp not configured, skipping confirmation email",
		zap.String("to", msg.To),
		zap.String("order_id", msg.OrderID),
	)
	return nil
}

func buildConfirmation(from string, msg *PaymentConfirmation) (*gomail.Message, error) {
	if msg.To == "" {
		return nil, fmt.Errorf("confirmation email for order %s has no recipient", msg.OrderID)
	}

	var body bytes.Buffer
	if err := confirmationTmpl.Execute(&body, msg); err != nil {
		return nil, fmt.Errorf("render confirmation email: %w", err)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", from)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", "Your purchase: "+msg.ProductTitle)
	m.SetBody("text/html", body.String())
	return m, nil
}
