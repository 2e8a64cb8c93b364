package services

import (
	"time"

	"smsconfirm/internal/models"
)

// ConfirmationSettings — политика подтверждения для типа аккаунта.
// Заполняется один раз из конфига при старте, дальше только читается.
type ConfirmationSettings struct {
	// Жёсткое окно подтверждения: по истечении токен недействителен и его
	// надо перегенерировать. 0 = окна нет.
	ConfirmWithin time.Duration
	// Grace-период, в течение которого неподтверждённый аккаунт ещё может
	// аутентифицироваться. nil = без ограничения.
	AllowUnconfirmedAccessFor *time.Duration
	// Требовать переподтверждение при смене номера (вместо немедленной замены).
	Reconfirmable bool
	// Поля, по которым ищем аккаунт для операций подтверждения.
	ConfirmationKeys []string

	// Троттлинг повторных отправок: не больше ResendLimit за ResendWindow.
	// ResendLimit <= 0 — без троттлинга.
	ResendLimit  int
	ResendWindow time.Duration
}

// ConfirmationRequired — нужно ли аккаунту подтверждение вообще.
func ConfirmationRequired(a *models.Account) bool {
	return !a.Confirmed()
}

// ConfirmationPeriodExpired — истекло ли окно подтверждения текущего токена.
// Если токен ещё ни разу не выдавался (ConfirmationSentAt == nil), считаем
// НЕ истёкшим: истечение — свойство выданного токена.
func ConfirmationPeriodExpired(a *models.Account, confirmWithin time.Duration, now time.Time) bool {
	if confirmWithin <= 0 {
		return false
	}
	if a.ConfirmationSentAt == nil {
		return false
	}
	return now.After(a.ConfirmationSentAt.Add(confirmWithin))
}

// ConfirmationPeriodValid — внутри ли grace-периода неподтверждённый аккаунт.
func ConfirmationPeriodValid(a *models.Account, allowUnconfirmedAccessFor *time.Duration, now time.Time) bool {
	if allowUnconfirmedAccessFor == nil {
		return true
	}
	return a.ConfirmationSentAt != nil &&
		!a.ConfirmationSentAt.Before(now.Add(-*allowUnconfirmedAccessFor))
}

// ActiveForAuthentication — можно ли пускать аккаунт в аутентификацию:
// подтверждение не требуется, либо уже подтверждён, либо ещё в grace-периоде.
func ActiveForAuthentication(a *models.Account, settings ConfirmationSettings, now time.Time) bool {
	return !ConfirmationRequired(a) ||
		a.Confirmed() ||
		ConfirmationPeriodValid(a, settings.AllowUnconfirmedAccessFor, now)
}

// PostponePhoneNumberChange — откладывать ли смену номера до переподтверждения.
func PostponePhoneNumberChange(settings ConfirmationSettings, phoneNumberChanged bool, newPhoneNumber string, bypass bool) bool {
	return settings.Reconfirmable && phoneNumberChanged && !bypass && newPhoneNumber != ""
}

// SendConfirmationNotification — слать ли уведомление с кодом.
func SendConfirmationNotification(a *models.Account, skip bool) bool {
	return ConfirmationRequired(a) && !skip && a.PhoneNumber != ""
}
