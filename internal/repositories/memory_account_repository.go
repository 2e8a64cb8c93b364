package repositories

import (
	"fmt"
	"sync"
	"time"

	"smsconfirm/internal/models"
)

type deliveryRecord struct {
	accountID int64
	sentAt    time.Time
}

// MemoryAccountRepository — in-memory реализация с той же CAS-семантикой,
// что и в Postgres. Используется в тестах и в dry-run режиме без БД.
type MemoryAccountRepository struct {
	mu         sync.Mutex
	nextID     int64
	accounts   map[int64]*models.Account
	deliveries []deliveryRecord
}

func NewMemoryAccountRepository() *MemoryAccountRepository {
	return &MemoryAccountRepository{
		nextID:   1,
		accounts: map[int64]*models.Account{},
	}
}

// clone — храним собственные копии, чтобы мутации в памяти вызывающего не
// протекали в "хранилище" до Update/MarkConfirmed.
func clone(a *models.Account) *models.Account {
	if a == nil {
		return nil
	}
	c := *a
	if a.UnconfirmedPhoneNumber != nil {
		v := *a.UnconfirmedPhoneNumber
		c.UnconfirmedPhoneNumber = &v
	}
	if a.ConfirmationTokenDigest != nil {
		v := *a.ConfirmationTokenDigest
		c.ConfirmationTokenDigest = &v
	}
	if a.ConfirmationSentAt != nil {
		v := *a.ConfirmationSentAt
		c.ConfirmationSentAt = &v
	}
	if a.ConfirmedAt != nil {
		v := *a.ConfirmedAt
		c.ConfirmedAt = &v
	}
	c.Errors = nil
	c.ConfirmationToken = ""
	return &c
}

func (r *MemoryAccountRepository) phoneTakenLocked(phone string, selfID int64) bool {
	for _, a := range r.accounts {
		if a.ID != selfID && a.PhoneNumber == phone {
			return true
		}
	}
	return false
}

func (r *MemoryAccountRepository) Create(a *models.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phoneTakenLocked(a.PhoneNumber, 0) {
		return ErrPhoneNumberTaken
	}
	a.ID = r.nextID
	r.nextID++
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	r.accounts[a.ID] = clone(a)
	return nil
}

func (r *MemoryAccountRepository) GetByID(id int64) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return clone(r.accounts[id]), nil
}

func (r *MemoryAccountRepository) GetByPhoneNumber(phone string) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.accounts {
		if a.PhoneNumber == phone {
			return clone(a), nil
		}
	}
	return nil, nil
}

func (r *MemoryAccountRepository) GetByUnconfirmedPhoneNumber(phone string) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.accounts {
		if a.UnconfirmedPhoneNumber != nil && *a.UnconfirmedPhoneNumber == phone {
			return clone(a), nil
		}
	}
	return nil, nil
}

func (r *MemoryAccountRepository) GetByConfirmationTokenDigest(digest string) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.accounts {
		if a.ConfirmationTokenDigest != nil && *a.ConfirmationTokenDigest == digest {
			return clone(a), nil
		}
	}
	return nil, nil
}

func (r *MemoryAccountRepository) Update(a *models.Account, validate bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.accounts[a.ID]; !ok {
		return fmt.Errorf("account update: id=%d not found", a.ID)
	}
	if validate && r.phoneTakenLocked(a.PhoneNumber, a.ID) {
		return ErrPhoneNumberTaken
	}
	a.UpdatedAt = time.Now().UTC()
	stored := clone(a)
	stored.CreatedAt = r.accounts[a.ID].CreatedAt
	r.accounts[a.ID] = stored
	return nil
}

func (r *MemoryAccountRepository) MarkConfirmed(a *models.Account, expectedDigest string, validate bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.accounts[a.ID]
	if !ok {
		return false, fmt.Errorf("account mark confirmed: id=%d not found", a.ID)
	}
	if validate && r.phoneTakenLocked(a.PhoneNumber, a.ID) {
		return false, ErrPhoneNumberTaken
	}

	// CAS: хранимый дайджест должен совпадать с тем, что проверяли в памяти
	switch {
	case expectedDigest == "" && stored.ConfirmationTokenDigest != nil:
		return false, nil
	case expectedDigest != "" && (stored.ConfirmationTokenDigest == nil || *stored.ConfirmationTokenDigest != expectedDigest):
		return false, nil
	}

	stored.PhoneNumber = a.PhoneNumber
	stored.UnconfirmedPhoneNumber = nil
	stored.ConfirmationTokenDigest = nil
	stored.ConfirmedAt = a.ConfirmedAt
	stored.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *MemoryAccountRepository) LogDelivery(accountID int64, target string, sentAt time.Time, delivered bool, deliveryError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = append(r.deliveries, deliveryRecord{accountID: accountID, sentAt: sentAt})
	return nil
}

func (r *MemoryAccountRepository) CountDeliveriesSince(accountID int64, since time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := 0
	for _, d := range r.deliveries {
		if d.accountID == accountID && !d.sentAt.Before(since) {
			c++
		}
	}
	return c, nil
}
