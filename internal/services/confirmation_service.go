package services

import (
	"errors"
	"fmt"
	"log"
	"time"

	"smsconfirm/internal/models"
	"smsconfirm/internal/repositories"
	"smsconfirm/internal/utils"
)

var (
	ErrInvalidPhoneNumber = errors.New("invalid phone number")
	ErrResendThrottled    = errors.New("resend throttled")
	// ErrDeliveryFailed — SMS не ушла. Состояние аккаунта уже закоммичено,
	// токен валиден, можно делать resend.
	ErrDeliveryFailed = errors.New("sms delivery failed")
)

// AccountOptions — флаги подавления на ОДНУ операцию. Явные параметры
// вызова, в аккаунте не хранятся и между вызовами не протекают.
type AccountOptions struct {
	// Сразу пометить подтверждённым: ни токена, ни уведомления (bypass).
	SkipConfirmation bool
	// Не слать уведомление; токен при этом генерируется как обычно.
	SkipConfirmationNotification bool
	// Сменить номер немедленно, без отложенного переподтверждения.
	SkipReconfirmation bool
}

// ConfirmationService — машина состояний подтверждения номера:
// unconfirmed -> (pending reconfirmation) -> confirmed. Сама состояние
// не хранит — мутирует аккаунт в памяти и коммитит через репозиторий.
type ConfirmationService struct {
	Repo          repositories.AccountRepository
	Tokens        *TokenService
	Settings      ConfirmationSettings
	Notifier      SMSNotifier
	Monitor       *MonitorService // может быть nil
	DefaultRegion string

	now func() time.Time // подмена времени в тестах
}

func NewConfirmationService(
	repo repositories.AccountRepository,
	tokens *TokenService,
	settings ConfirmationSettings,
	notifier SMSNotifier,
	monitor *MonitorService,
	defaultRegion string,
) *ConfirmationService {
	if notifier == nil {
		notifier = NullNotifier{}
	}
	return &ConfirmationService{
		Repo:          repo,
		Tokens:        tokens,
		Settings:      settings,
		Notifier:      notifier,
		Monitor:       monitor,
		DefaultRegion: defaultRegion,
	}
}

func (s *ConfirmationService) clock() time.Time {
	if s.now != nil {
		return s.now().UTC()
	}
	return time.Now().UTC()
}

func (s *ConfirmationService) confirmationKeys() []string {
	if len(s.Settings.ConfirmationKeys) > 0 {
		return s.Settings.ConfirmationKeys
	}
	return []string{"phone_number"}
}

// pendingAnyConfirmation — есть ли у аккаунта незакрытое подтверждение
// (первичное или переподтверждение смены номера).
func (s *ConfirmationService) pendingAnyConfirmation(a *models.Account) bool {
	return !a.Confirmed() || (s.Settings.Reconfirmable && a.PendingReconfirmation())
}

// generateConfirmationToken — новый токен в память аккаунта. Дайджест и
// sent_at меняются только вместе; старый токен неявно инвалидируется
// перезаписью.
func (s *ConfirmationService) generateConfirmationToken(a *models.Account) (string, error) {
	raw, digest, err := s.Tokens.Generate(ConfirmationTokenPurpose)
	if err != nil {
		return "", err
	}
	now := s.clock()
	a.ConfirmationTokenDigest = &digest
	a.ConfirmationSentAt = &now
	return raw, nil
}

// deliver — доставка сырого токена. Для pending-reconfirmation шлём на
// НОВЫЙ (ещё не подтверждённый) номер. Ошибку доставки не откатываем.
func (s *ConfirmationService) deliver(a *models.Account, raw string) error {
	target := a.PhoneNumber
	if a.PendingReconfirmation() {
		target = *a.UnconfirmedPhoneNumber
	}
	text := fmt.Sprintf("Код подтверждения: %s", raw)

	sendErr := s.Notifier.SendText(target, text)

	errMsg := ""
	if sendErr != nil {
		errMsg = sendErr.Error()
	}
	if logErr := s.Repo.LogDelivery(a.ID, target, s.clock(), sendErr == nil, errMsg); logErr != nil {
		log.Printf("[confirm][send] delivery log failed: account_id=%d err=%v", a.ID, logErr)
	}
	s.Monitor.DeliveryAttempted(target, text, sendErr)

	if sendErr != nil {
		log.Printf("[confirm][send][err] account_id=%d target=%s err=%v", a.ID, target, sendErr)
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, sendErr)
	}
	log.Printf("[confirm][send] ok account_id=%d target=%s", a.ID, target)
	return nil
}

// RegisterAccount — создание аккаунта. Если подтверждение требуется,
// токен генерируется ДО сохранения, уведомление уходит ПОСЛЕ (бывшие
// before_create/after_create, сделанные явными).
func (s *ConfirmationService) RegisterAccount(rawPhone string, opts AccountOptions) (*models.Account, error) {
	phone, err := utils.NormalizePhoneNumber(rawPhone, s.DefaultRegion)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPhoneNumber, err)
	}

	a := &models.Account{PhoneNumber: phone}

	var raw string
	if opts.SkipConfirmation {
		now := s.clock()
		a.ConfirmedAt = &now
	} else if ConfirmationRequired(a) {
		if raw, err = s.generateConfirmationToken(a); err != nil {
			return nil, err
		}
	}

	if err := s.Repo.Create(a); err != nil {
		if errors.Is(err, repositories.ErrPhoneNumberTaken) {
			a.Errors.Add("phone_number", models.ErrCodeTaken)
			return a, nil
		}
		return nil, err
	}
	log.Printf("[confirm][create] account_id=%d phone=%s", a.ID, a.PhoneNumber)

	if SendConfirmationNotification(a, opts.SkipConfirmationNotification) {
		if err := s.deliver(a, raw); err != nil {
			return a, err
		}
	}
	return a, nil
}

// UpdatePhoneNumber — смена номера. Для reconfirmable-типа новая смена
// откладывается: номер уезжает в unconfirmed_phone_number, подтверждённый
// номер остаётся на месте, генерируется свежий токен и уходит на НОВЫЙ
// номер. SkipReconfirmation меняет номер сразу (с проверкой уникальности).
func (s *ConfirmationService) UpdatePhoneNumber(a *models.Account, rawPhone string, opts AccountOptions) error {
	phone, err := utils.NormalizePhoneNumber(rawPhone, s.DefaultRegion)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPhoneNumber, err)
	}
	changed := phone != a.PhoneNumber

	if PostponePhoneNumberChange(s.Settings, changed, phone, opts.SkipReconfirmation) {
		a.UnconfirmedPhoneNumber = &phone
		raw, err := s.generateConfirmationToken(a)
		if err != nil {
			return err
		}
		// validate=false: подтверждённый номер не меняется
		if err := s.Repo.Update(a, false); err != nil {
			return err
		}
		log.Printf("[confirm][postpone] account_id=%d new_phone=%s", a.ID, phone)

		if s.reconfirmationRequired(a) && !opts.SkipConfirmationNotification {
			return s.deliver(a, raw)
		}
		return nil
	}

	if !changed {
		return nil
	}

	prev := a.PhoneNumber
	a.PhoneNumber = phone
	if err := s.Repo.Update(a, true); err != nil {
		a.PhoneNumber = prev
		if errors.Is(err, repositories.ErrPhoneNumberTaken) {
			a.Errors.Add("phone_number", models.ErrCodeTaken)
			return nil
		}
		return err
	}
	log.Printf("[confirm][phone-change] account_id=%d phone=%s (без переподтверждения)", a.ID, phone)
	return nil
}

func (s *ConfirmationService) reconfirmationRequired(a *models.Account) bool {
	return s.Settings.Reconfirmable && a.PendingReconfirmation() && a.PhoneNumber != ""
}

// Confirm — принять текущий токен. Доменные отказы (already_confirmed,
// confirmation_period_expired, taken) вешаются на a.Errors, возврат false
// без error. Коммит идёт через CAS по дайджесту: из двух конкурентных
// confirm с одним токеном пройдёт ровно один.
func (s *ConfirmationService) Confirm(a *models.Account) (bool, error) {
	if !s.pendingAnyConfirmation(a) {
		a.Errors.Add("phone_number", models.ErrCodeAlreadyConfirmed)
		return false, nil
	}
	now := s.clock()
	if ConfirmationPeriodExpired(a, s.Settings.ConfirmWithin, now) {
		a.Errors.Add("phone_number", fmt.Sprintf("%s: код нужно было подтвердить в течение %s",
			models.ErrCodeConfirmationPeriodExpired, s.Settings.ConfirmWithin))
		return false, nil
	}

	expected := ""
	if a.ConfirmationTokenDigest != nil {
		expected = *a.ConfirmationTokenDigest
	}

	prevPhone := a.PhoneNumber
	prevUnconfirmed := a.UnconfirmedPhoneNumber
	prevDigest := a.ConfirmationTokenDigest
	prevConfirmedAt := a.ConfirmedAt
	rollback := func() {
		a.PhoneNumber = prevPhone
		a.UnconfirmedPhoneNumber = prevUnconfirmed
		a.ConfirmationTokenDigest = prevDigest
		a.ConfirmedAt = prevConfirmedAt
	}

	validate := false
	if s.Settings.Reconfirmable && a.PendingReconfirmation() {
		// swap: подтверждаем отложенную смену номера, уникальность
		// нового номера перепроверяется при сохранении
		a.PhoneNumber = *a.UnconfirmedPhoneNumber
		a.UnconfirmedPhoneNumber = nil
		validate = true
	}
	a.ConfirmationTokenDigest = nil
	a.ConfirmedAt = &now

	ok, err := s.Repo.MarkConfirmed(a, expected, validate)
	if err != nil {
		rollback()
		if errors.Is(err, repositories.ErrPhoneNumberTaken) {
			a.Errors.Add("phone_number", models.ErrCodeTaken)
			return false, nil
		}
		return false, err
	}
	if !ok {
		// CAS не прошёл — конкурентный confirm успел первым
		rollback()
		a.Errors.Add("phone_number", models.ErrCodeAlreadyConfirmed)
		return false, nil
	}
	log.Printf("[confirm][ok] account_id=%d phone=%s", a.ID, a.PhoneNumber)
	return true, nil
}

// SendConfirmationInstructions — сгенерировать свежий токен (сырой токен
// живёт только в памяти этой операции), сохранить дайджест и отправить.
func (s *ConfirmationService) SendConfirmationInstructions(a *models.Account) error {
	raw, err := s.generateConfirmationToken(a)
	if err != nil {
		return err
	}
	if err := s.Repo.Update(a, false); err != nil {
		return err
	}
	return s.deliver(a, raw)
}

// ResendConfirmationInstructions — повторная отправка. Guard тот же, что у
// Confirm (already_confirmed, если подтверждать нечего). Окно истечения не
// проверяем: resend всегда перегенерирует токен, перезаписывая старый.
func (s *ConfirmationService) ResendConfirmationInstructions(a *models.Account) (bool, error) {
	if !s.pendingAnyConfirmation(a) {
		a.Errors.Add("phone_number", models.ErrCodeAlreadyConfirmed)
		return false, nil
	}

	if s.Settings.ResendLimit > 0 {
		cnt, err := s.Repo.CountDeliveriesSince(a.ID, s.clock().Add(-s.Settings.ResendWindow))
		if err != nil {
			return false, err
		}
		if cnt >= s.Settings.ResendLimit {
			return false, ErrResendThrottled
		}
	}

	if err := s.SendConfirmationInstructions(a); err != nil {
		if errors.Is(err, ErrDeliveryFailed) {
			// токен уже записан, аккаунт может подтвердиться или повторить
			return true, err
		}
		return false, err
	}
	return true, nil
}

// FindForConfirmationInstructions — найти аккаунт по атрибутам и повторно
// выслать код. Для reconfirmable сначала ищем по НЕподтверждённому номеру,
// потом по основному. Если никого нет — placeholder с not_found по ключам
// поиска (не ошибка).
func (s *ConfirmationService) FindForConfirmationInstructions(attributes map[string]string) (*models.Account, error) {
	lookup := attributes["phone_number"]

	phone, normErr := utils.NormalizePhoneNumber(lookup, s.DefaultRegion)

	var a *models.Account
	var err error
	if normErr == nil {
		if s.Settings.Reconfirmable {
			if a, err = s.Repo.GetByUnconfirmedPhoneNumber(phone); err != nil {
				return nil, err
			}
		}
		if a == nil {
			if a, err = s.Repo.GetByPhoneNumber(phone); err != nil {
				return nil, err
			}
		}
	}

	if a == nil {
		placeholder := &models.Account{PhoneNumber: lookup}
		for _, key := range s.confirmationKeys() {
			placeholder.Errors.Add(key, models.ErrCodeNotFound)
		}
		return placeholder, nil
	}

	_, err = s.ResendConfirmationInstructions(a)
	return a, err
}

// ConfirmByToken — принять сырой токен: дайджест, поиск по дайджесту,
// Confirm. На возвращённом аккаунте всегда эхо исходного сырого токена,
// дайджест наружу не отдаётся.
func (s *ConfirmationService) ConfirmByToken(raw string) (*models.Account, bool, error) {
	digest := s.Tokens.Digest(ConfirmationTokenPurpose, raw)

	a, err := s.Repo.GetByConfirmationTokenDigest(digest)
	if err != nil {
		return nil, false, err
	}
	if a == nil {
		placeholder := &models.Account{ConfirmationToken: raw}
		placeholder.Errors.Add("confirmation_token", models.ErrCodeNotFound)
		return placeholder, false, nil
	}

	ok, err := s.Confirm(a)
	a.ConfirmationToken = raw
	return a, ok, err
}

// SkipConfirmation — явный bypass: пометить подтверждённым без токена.
func (s *ConfirmationService) SkipConfirmation(a *models.Account) error {
	now := s.clock()
	prev := a.ConfirmedAt
	a.ConfirmedAt = &now
	if err := s.Repo.Update(a, false); err != nil {
		a.ConfirmedAt = prev
		return err
	}
	log.Printf("[confirm][bypass] account_id=%d", a.ID)
	return nil
}

func (s *ConfirmationService) GetAccount(id int64) (*models.Account, error) {
	return s.Repo.GetByID(id)
}

// ActiveForAuthentication — пускать ли аккаунт в аутентификацию.
func (s *ConfirmationService) ActiveForAuthentication(a *models.Account) bool {
	return ActiveForAuthentication(a, s.Settings, s.clock())
}

// InactiveMessage — причина неактивности для ответа клиенту.
func (s *ConfirmationService) InactiveMessage(a *models.Account) string {
	if !a.Confirmed() {
		return "unconfirmed"
	}
	return ""
}
