package services

// SMSNotifier — канал доставки кода подтверждения. Ошибка доставки не
// фатальна для уже сохранённого состояния: токен остаётся валидным,
// вызывающий может сделать resend.
type SMSNotifier interface {
	SendText(to, text string) error
}

// NullNotifier — заглушка без доставки (тесты, окружения без SMS-провайдера).
type NullNotifier struct{}

func (NullNotifier) SendText(to, text string) error { return nil }
