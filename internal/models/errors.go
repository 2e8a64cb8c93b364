package models

import "strings"

// Коды доменных ошибок, которые вешаются на поля аккаунта.
const (
	ErrCodeAlreadyConfirmed          = "already_confirmed"
	ErrCodeConfirmationPeriodExpired = "confirmation_period_expired"
	ErrCodeNotFound                  = "not_found"
	ErrCodeTaken                     = "taken"
)

// FieldErrors — ошибки уровня поля (как validation errors у записи).
// Доменные отказы не бросаются как error, а копятся здесь — вызывающий
// смотрит Any()/On().
type FieldErrors map[string][]string

func (e *FieldErrors) Add(field, message string) {
	if *e == nil {
		*e = FieldErrors{}
	}
	(*e)[field] = append((*e)[field], message)
}

func (e FieldErrors) Any() bool {
	return len(e) > 0
}

func (e FieldErrors) On(field string) []string {
	if e == nil {
		return nil
	}
	return e[field]
}

// Has — есть ли на поле ошибка с данным кодом (сообщение может нести
// дополнение после кода, напр. "confirmation_period_expired: ...").
func (e FieldErrors) Has(field, code string) bool {
	for _, msg := range e.On(field) {
		if msg == code || strings.HasPrefix(msg, code+":") {
			return true
		}
	}
	return false
}

func (e FieldErrors) First() string {
	for _, msgs := range e {
		if len(msgs) > 0 {
			return msgs[0]
		}
	}
	return ""
}
