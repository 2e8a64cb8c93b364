package repositories

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"smsconfirm/internal/models"
)

// ErrPhoneNumberTaken — номер уже занят другим аккаунтом (доменная
// уникальность либо constraint в БД).
var ErrPhoneNumberTaken = errors.New("phone number already taken")

type AccountRepository interface {
	Create(a *models.Account) error
	GetByID(id int64) (*models.Account, error)
	GetByPhoneNumber(phone string) (*models.Account, error)
	GetByUnconfirmedPhoneNumber(phone string) (*models.Account, error)
	GetByConfirmationTokenDigest(digest string) (*models.Account, error)

	// Update — сохранить аккаунт; validate=true дополнительно проверяет
	// доменную уникальность номера перед записью.
	Update(a *models.Account, validate bool) error

	// MarkConfirmed — commit подтверждения через compare-and-swap по
	// хранимому дайджесту: два конкурентных confirm с одним токеном не
	// могут пройти оба. false без ошибки = дайджест уже не тот (нас
	// опередили).
	MarkConfirmed(a *models.Account, expectedDigest string, validate bool) (bool, error)

	// Журнал отправок: для троттлинга resend и аудита доставки.
	LogDelivery(accountID int64, target string, sentAt time.Time, delivered bool, deliveryError string) error
	CountDeliveriesSince(accountID int64, since time.Time) (int, error)
}

type accountRepository struct {
	DB *sql.DB
}

func NewAccountRepository(db *sql.DB) AccountRepository {
	return &accountRepository{DB: db}
}

const accountColumns = `id, phone_number, unconfirmed_phone_number, confirmation_token_digest, confirmation_sent_at, confirmed_at, created_at, updated_at`

func scanAccount(row *sql.Row) (*models.Account, error) {
	var a models.Account
	if err := row.Scan(
		&a.ID, &a.PhoneNumber, &a.UnconfirmedPhoneNumber, &a.ConfirmationTokenDigest,
		&a.ConfirmationSentAt, &a.ConfirmedAt, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}
	return &a, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func (r *accountRepository) Create(a *models.Account) error {
	const q = `
		INSERT INTO accounts (phone_number, unconfirmed_phone_number, confirmation_token_digest, confirmation_sent_at, confirmed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`
	err := r.DB.QueryRow(q,
		a.PhoneNumber, a.UnconfirmedPhoneNumber, a.ConfirmationTokenDigest,
		a.ConfirmationSentAt, a.ConfirmedAt,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrPhoneNumberTaken
		}
		return fmt.Errorf("account create: %w", err)
	}
	return nil
}

func (r *accountRepository) GetByID(id int64) (*models.Account, error) {
	return scanAccount(r.DB.QueryRow(
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
}

func (r *accountRepository) GetByPhoneNumber(phone string) (*models.Account, error) {
	return scanAccount(r.DB.QueryRow(
		`SELECT `+accountColumns+` FROM accounts WHERE phone_number = $1`, phone))
}

func (r *accountRepository) GetByUnconfirmedPhoneNumber(phone string) (*models.Account, error) {
	return scanAccount(r.DB.QueryRow(
		`SELECT `+accountColumns+` FROM accounts WHERE unconfirmed_phone_number = $1`, phone))
}

func (r *accountRepository) GetByConfirmationTokenDigest(digest string) (*models.Account, error) {
	return scanAccount(r.DB.QueryRow(
		`SELECT `+accountColumns+` FROM accounts WHERE confirmation_token_digest = $1`, digest))
}

// phoneNumberTakenByOther — доменная проверка уникальности (validate=true).
func (r *accountRepository) phoneNumberTakenByOther(phone string, selfID int64) (bool, error) {
	const q = `SELECT EXISTS(SELECT 1 FROM accounts WHERE phone_number = $1 AND id <> $2)`
	var taken bool
	if err := r.DB.QueryRow(q, phone, selfID).Scan(&taken); err != nil {
		return false, fmt.Errorf("phone uniqueness check: %w", err)
	}
	return taken, nil
}

func (r *accountRepository) Update(a *models.Account, validate bool) error {
	if validate {
		taken, err := r.phoneNumberTakenByOther(a.PhoneNumber, a.ID)
		if err != nil {
			return err
		}
		if taken {
			return ErrPhoneNumberTaken
		}
	}
	const q = `
		UPDATE accounts
		SET phone_number = $1, unconfirmed_phone_number = $2, confirmation_token_digest = $3,
		    confirmation_sent_at = $4, confirmed_at = $5, updated_at = NOW()
		WHERE id = $6
		RETURNING updated_at
	`
	err := r.DB.QueryRow(q,
		a.PhoneNumber, a.UnconfirmedPhoneNumber, a.ConfirmationTokenDigest,
		a.ConfirmationSentAt, a.ConfirmedAt, a.ID,
	).Scan(&a.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrPhoneNumberTaken
		}
		return fmt.Errorf("account update: %w", err)
	}
	return nil
}

func (r *accountRepository) MarkConfirmed(a *models.Account, expectedDigest string, validate bool) (bool, error) {
	if validate {
		taken, err := r.phoneNumberTakenByOther(a.PhoneNumber, a.ID)
		if err != nil {
			return false, err
		}
		if taken {
			return false, ErrPhoneNumberTaken
		}
	}

	// CAS по дайджесту: обновляем только если в БД всё ещё лежит тот токен,
	// который мы проверяли в памяти.
	q := `
		UPDATE accounts
		SET phone_number = $1, unconfirmed_phone_number = NULL, confirmation_token_digest = NULL,
		    confirmed_at = $2, updated_at = NOW()
		WHERE id = $3 AND confirmation_token_digest = $4
	`
	args := []interface{}{a.PhoneNumber, a.ConfirmedAt, a.ID, expectedDigest}
	if expectedDigest == "" {
		q = `
		UPDATE accounts
		SET phone_number = $1, unconfirmed_phone_number = NULL, confirmation_token_digest = NULL,
		    confirmed_at = $2, updated_at = NOW()
		WHERE id = $3 AND confirmation_token_digest IS NULL
	`
		args = args[:3]
	}

	res, err := r.DB.Exec(q, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return false, ErrPhoneNumberTaken
		}
		return false, fmt.Errorf("account mark confirmed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("account mark confirmed: %w", err)
	}
	return n == 1, nil
}

func (r *accountRepository) LogDelivery(accountID int64, target string, sentAt time.Time, delivered bool, deliveryError string) error {
	const q = `
		INSERT INTO confirmation_deliveries (account_id, target, sent_at, delivered, delivery_error)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := r.DB.Exec(q, accountID, target, sentAt, delivered, deliveryError); err != nil {
		return fmt.Errorf("log delivery: %w", err)
	}
	return nil
}

func (r *accountRepository) CountDeliveriesSince(accountID int64, since time.Time) (int, error) {
	const q = `SELECT COUNT(*) FROM confirmation_deliveries WHERE account_id = $1 AND sent_at >= $2`
	var c int
	if err := r.DB.QueryRow(q, accountID, since).Scan(&c); err != nil {
		return 0, fmt.Errorf("count deliveries: %w", err)
	}
	return c, nil
}
