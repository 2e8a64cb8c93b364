package services

import (
	"fmt"
	"strings"

	"gopkg.in/gomail.v2"
)

// EmailGatewayService — доставка кода через SMS-to-email шлюз оператора
// (письмо на <номер>@<домен шлюза> уходит абоненту как SMS). Используется
// как запасной канал и в dev-окружениях вместо платного провайдера.
type EmailGatewayService struct {
	dialer        *gomail.Dialer
	from          string
	gatewayDomain string
}

func NewEmailGatewayService(smtpHost string, smtpPort int, smtpUser, smtpPassword, fromEmail, gatewayDomain string) *EmailGatewayService {
	return &EmailGatewayService{
		dialer:        gomail.NewDialer(smtpHost, smtpPort, smtpUser, smtpPassword),
		from:          fromEmail,
		gatewayDomain: gatewayDomain,
	}
}

// SendText — реализует SMSNotifier.
func (s *EmailGatewayService) SendText(to, text string) error {
	addr := strings.TrimPrefix(to, "+") + "@" + s.gatewayDomain

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", addr)
	m.SetHeader("Subject", "SMS")
	m.SetBody("text/plain", text)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("email gateway send to %s: %w", addr, err)
	}
	return nil
}
