package models

import "time"

// Account — учётная запись с под-состоянием подтверждения номера телефона.
// PhoneNumber всегда хранит последний ПОДТВЕРЖДЁННЫЙ номер; пока смена номера
// ждёт переподтверждения, новый номер лежит в UnconfirmedPhoneNumber.
type Account struct {
	ID                      int64      `json:"id"`
	PhoneNumber             string     `json:"phone_number"`
	UnconfirmedPhoneNumber  *string    `json:"unconfirmed_phone_number,omitempty"`
	ConfirmationTokenDigest *string    `json:"-"` // наружу не отдаём
	ConfirmationSentAt      *time.Time `json:"confirmation_sent_at,omitempty"`
	ConfirmedAt             *time.Time `json:"confirmed_at,omitempty"`
	CreatedAt               time.Time  `json:"created_at"`
	UpdatedAt               time.Time  `json:"updated_at"`

	// ConfirmationToken — сырой токен, эхо для диагностики после confirm-by-token.
	// В БД никогда не пишется (хранится только дайджест).
	ConfirmationToken string `json:"-"`

	// Errors — доменные ошибки по полям (not_found, already_confirmed и т.п.).
	// Не персистентные, живут только в рамках текущей операции.
	Errors FieldErrors `json:"errors,omitempty"`
}

func (a *Account) Confirmed() bool {
	return a.ConfirmedAt != nil
}

// PendingReconfirmation — есть ли отложенная смена номера.
// Имеет смысл только для reconfirmable-типов аккаунтов; для остальных
// UnconfirmedPhoneNumber просто никогда не заполняется.
func (a *Account) PendingReconfirmation() bool {
	return a.UnconfirmedPhoneNumber != nil && *a.UnconfirmedPhoneNumber != ""
}

// Persisted — сохранён ли аккаунт в хранилище (placeholder-записи с ошибками
// поиска имеют ID == 0).
func (a *Account) Persisted() bool {
	return a.ID != 0
}
