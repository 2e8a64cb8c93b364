package services

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smsconfirm/internal/models"
	"smsconfirm/internal/repositories"
)

const (
	testPhone         = "+12125550123"
	testPhoneNew      = "+12125550124"
	testPhoneConflict = "+12125550125"
)

type sentMessage struct {
	To   string
	Text string
}

type recordingNotifier struct {
	mu       sync.Mutex
	sent     []sentMessage
	failWith error
}

func (n *recordingNotifier) SendText(to, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failWith != nil {
		return n.failWith
	}
	n.sent = append(n.sent, sentMessage{To: to, Text: text})
	return nil
}

func (n *recordingNotifier) last(t *testing.T) sentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.sent)
	return n.sent[len(n.sent)-1]
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

// rawTokenFrom — достаём сырой токен из текста SMS
func rawTokenFrom(t *testing.T, msg sentMessage) string {
	parts := strings.Split(msg.Text, ": ")
	require.Len(t, parts, 2)
	return parts[1]
}

func newTestService(settings ConfirmationSettings) (*ConfirmationService, *repositories.MemoryAccountRepository, *recordingNotifier) {
	repo := repositories.NewMemoryAccountRepository()
	notifier := &recordingNotifier{}
	svc := NewConfirmationService(
		repo,
		NewTokenService("test-secret"),
		settings,
		notifier,
		nil,
		"US",
	)
	return svc, repo, notifier
}

func reconfirmableSettings() ConfirmationSettings {
	return ConfirmationSettings{
		Reconfirmable: true,
		ConfirmWithin: 24 * time.Hour,
	}
}

func TestRegisterGeneratesTokenAndNotifies(t *testing.T) {
	svc, repo, notifier := newTestService(reconfirmableSettings())

	a, err := svc.RegisterAccount(testPhone, AccountOptions{})
	require.NoError(t, err)
	require.True(t, a.Persisted())
	assert.False(t, a.Errors.Any())

	require.NotNil(t, a.ConfirmationTokenDigest)
	require.NotNil(t, a.ConfirmationSentAt)
	assert.Nil(t, a.ConfirmedAt)

	msg := notifier.last(t)
	assert.Equal(t, testPhone, msg.To)

	// в SMS уходит сырой токен, в хранилище лежит его дайджест
	raw := rawTokenFrom(t, msg)
	assert.Equal(t, *a.ConfirmationTokenDigest, svc.Tokens.Digest(ConfirmationTokenPurpose, raw))

	stored, err := repo.GetByID(a.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ConfirmationTokenDigest)
	assert.Equal(t, *a.ConfirmationTokenDigest, *stored.ConfirmationTokenDigest)
}

func TestRegisterSkipConfirmationNotification(t *testing.T) {
	svc, _, notifier := newTestService(reconfirmableSettings())

	a, err := svc.RegisterAccount(testPhone, AccountOptions{SkipConfirmationNotification: true})
	require.NoError(t, err)

	// токен есть, уведомления нет
	assert.NotNil(t, a.ConfirmationTokenDigest)
	assert.Zero(t, notifier.count())
}

func TestRegisterSkipConfirmation(t *testing.T) {
	svc, _, notifier := newTestService(reconfirmableSettings())

	a, err := svc.RegisterAccount(testPhone, AccountOptions{SkipConfirmation: true})
	require.NoError(t, err)

	assert.NotNil(t, a.ConfirmedAt)
	assert.Nil(t, a.ConfirmationTokenDigest)
	assert.Zero(t, notifier.count())
}

func TestRegisterPhoneNumberTaken(t *testing.T) {
	svc, _, _ := newTestService(reconfirmableSettings())

	_, err := svc.RegisterAccount(testPhone, AccountOptions{})
	require.NoError(t, err)

	dup, err := svc.RegisterAccount(testPhone, AccountOptions{})
	require.NoError(t, err)
	assert.True(t, dup.Errors.Has("phone_number", models.ErrCodeTaken))
	assert.False(t, dup.Persisted())
}

func TestRegisterInvalidPhoneNumber(t *testing.T) {
	svc, _, _ := newTestService(reconfirmableSettings())

	_, err := svc.RegisterAccount("12345", AccountOptions{})
	assert.ErrorIs(t, err, ErrInvalidPhoneNumber)
}

func TestConfirmByToken(t *testing.T) {
	svc, repo, notifier := newTestService(reconfirmableSettings())

	a, err := svc.RegisterAccount(testPhone, AccountOptions{})
	require.NoError(t, err)
	raw := rawTokenFrom(t, notifier.last(t))

	confirmed, ok, err := svc.ConfirmByToken(raw)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, confirmed.Errors.Any())
	assert.Equal(t, raw, confirmed.ConfirmationToken) // эхо сырого токена

	stored, err := repo.GetByID(a.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.ConfirmationTokenDigest)
	assert.NotNil(t, stored.ConfirmedAt)
	assert.Equal(t, testPhone, stored.PhoneNumber)
}

func TestConfirmByTokenUnknown(t *testing.T) {
	svc, _, _ := newTestService(reconfirmableSettings())

	a, ok, err := svc.ConfirmByToken("definitely-wrong")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, a.Persisted())
	assert.True(t, a.Errors.Has("confirmation_token", models.ErrCodeNotFound))
	assert.Equal(t, "definitely-wrong", a.ConfirmationToken)
}

func TestConfirmByTokenExpired(t *testing.T) {
	svc, repo, notifier := newTestService(reconfirmableSettings())

	a, err := svc.RegisterAccount(testPhone, AccountOptions{})
	require.NoError(t, err)
	raw := rawTokenFrom(t, notifier.last(t))

	// 25 часов спустя при окне 24h
	svc.now = func() time.Time { return time.Now().Add(25 * time.Hour) }

	expired, ok, err := svc.ConfirmByToken(raw)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, expired.Errors.Has("phone_number", models.ErrCodeConfirmationPeriodExpired))

	// состояние не изменилось: токен на месте, аккаунт не подтверждён
	stored, err := repo.GetByID(a.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.ConfirmationTokenDigest)
	assert.Nil(t, stored.ConfirmedAt)
}

func TestConfirmAlreadyConfirmed(t *testing.T) {
	svc, repo, notifier := newTestService(reconfirmableSettings())

	a, err := svc.RegisterAccount(testPhone, AccountOptions{})
	require.NoError(t, err)
	raw := rawTokenFrom(t, notifier.last(t))

	_, ok, err := svc.ConfirmByToken(raw)
	require.NoError(t, err)
	require.True(t, ok)

	stored, err := repo.GetByID(a.ID)
	require.NoError(t, err)
	ok, err = svc.Confirm(stored)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, stored.Errors.Has("phone_number", models.ErrCodeAlreadyConfirmed))
}

func TestPhoneNumberChangePostponed(t *testing.T) {
	svc, repo, notifier := newTestService(reconfirmableSettings())

	a, err := svc.RegisterAccount(testPhone, AccountOptions{})
	require.NoError(t, err)
	raw1 := rawTokenFrom(t, notifier.last(t))
	_, ok, err := svc.ConfirmByToken(raw1)
	require.NoError(t, err)
	require.True(t, ok)

	a, err = repo.GetByID(a.ID)
	require.NoError(t, err)
	require.NoError(t, svc.UpdatePhoneNumber(a, testPhoneNew, AccountOptions{}))

	// смена отложена: подтверждённый номер на месте, новый ждёт кода
	stored, err := repo.GetByID(a.ID)
	require.NoError(t, err)
	assert.Equal(t, testPhone, stored.PhoneNumber)
	require.NotNil(t, stored.UnconfirmedPhoneNumber)
	assert.Equal(t, testPhoneNew, *stored.UnconfirmedPhoneNumber)
	require.NotNil(t, stored.ConfirmationTokenDigest)

	// код уходит на НОВЫЙ номер
	msg := notifier.last(t)
	assert.Equal(t, testPhoneNew, msg.To)

	// подтверждение свежим токеном делает swap
	raw2 := rawTokenFrom(t, msg)
	confirmed, ok, err := svc.ConfirmByToken(raw2)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, testPhoneNew, confirmed.PhoneNumber)
	assert.Nil(t, confirmed.UnconfirmedPhoneNumber)

	stored, err = repo.GetByID(a.ID)
	require.NoError(t, err)
	assert.Equal(t, testPhoneNew, stored.PhoneNumber)
	assert.Nil(t, stored.UnconfirmedPhoneNumber)
	assert.Nil(t, stored.ConfirmationTokenDigest)
	assert.NotNil(t, stored.ConfirmedAt)
}

func TestPhoneNumberChangeSkipReconfirmation(t *testing.T) {
	svc, repo, _ := newTestService(reconfirmableSettings())

	a, err := svc.RegisterAccount(testPhone, AccountOptions{SkipConfirmation: true})
	require.NoError(t, err)

	require.NoError(t, svc.UpdatePhoneNumber(a, testPhoneNew, AccountOptions{SkipReconfirmation: true}))

	stored, err := repo.GetByID(a.ID)
	require.NoError(t, err)
	assert.Equal(t, testPhoneNew, stored.PhoneNumber)
	assert.Nil(t, stored.UnconfirmedPhoneNumber)
}

func TestSwapConfirmUniquenessViolation(t *testing.T) {
	svc, repo, notifier := newTestService(reconfirmableSettings())

	// конфликтующий номер уже занят
	_, err := svc.RegisterAccount(testPhoneConflict, AccountOptions{SkipConfirmation: true})
	require.NoError(t, err)

	a, err := svc.RegisterAccount(testPhone, AccountOptions{SkipConfirmation: true})
	require.NoError(t, err)
	require.NoError(t, svc.UpdatePhoneNumber(a, testPhoneConflict, AccountOptions{}))

	raw := rawTokenFrom(t, notifier.last(t))
	failed, ok, err := svc.ConfirmByToken(raw)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, failed.Errors.Has("phone_number", models.ErrCodeTaken))

	// транзакция не закоммичена: номер и отложенная смена нетронуты
	stored, err := repo.GetByID(a.ID)
	require.NoError(t, err)
	assert.Equal(t, testPhone, stored.PhoneNumber)
	require.NotNil(t, stored.UnconfirmedPhoneNumber)
	assert.Equal(t, testPhoneConflict, *stored.UnconfirmedPhoneNumber)
	assert.NotNil(t, stored.ConfirmationTokenDigest)
}

func TestResendRegeneratesToken(t *testing.T) {
	svc, repo, notifier := newTestService(reconfirmableSettings())

	a, err := svc.RegisterAccount(testPhone, AccountOptions{})
	require.NoError(t, err)

	before, err := repo.GetByID(a.ID)
	require.NoError(t, err)

	ok, err := svc.ResendConfirmationInstructions(a)
	require.NoError(t, err)
	assert.True(t, ok)

	after, err := repo.GetByID(a.ID)
	require.NoError(t, err)
	assert.NotEqual(t, *before.ConfirmationTokenDigest, *after.ConfirmationTokenDigest)
	assert.False(t, after.ConfirmationSentAt.Before(*before.ConfirmationSentAt))

	// старый токен больше не работает
	oldRaw := rawTokenFrom(t, sentMessage{Text: notifier.sent[0].Text})
	_, ok, err = svc.ConfirmByToken(oldRaw)
	require.NoError(t, err)
	assert.False(t, ok)

	// новый работает
	newRaw := rawTokenFrom(t, notifier.last(t))
	_, ok, err = svc.ConfirmByToken(newRaw)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestResendOnConfirmedAccount(t *testing.T) {
	svc, repo, notifier := newTestService(reconfirmableSettings())

	a, err := svc.RegisterAccount(testPhone, AccountOptions{})
	require.NoError(t, err)
	_, ok, err := svc.ConfirmByToken(rawTokenFrom(t, notifier.last(t)))
	require.NoError(t, err)
	require.True(t, ok)

	stored, err := repo.GetByID(a.ID)
	require.NoError(t, err)
	ok, err = svc.ResendConfirmationInstructions(stored)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, stored.Errors.Has("phone_number", models.ErrCodeAlreadyConfirmed))
}

func TestResendThrottled(t *testing.T) {
	settings := reconfirmableSettings()
	settings.ResendLimit = 3
	settings.ResendWindow = 10 * time.Minute
	svc, _, _ := newTestService(settings)

	// регистрация — первая отправка
	a, err := svc.RegisterAccount(testPhone, AccountOptions{})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		ok, err := svc.ResendConfirmationInstructions(a)
		require.NoError(t, err)
		require.True(t, ok)
	}

	_, err = svc.ResendConfirmationInstructions(a)
	assert.ErrorIs(t, err, ErrResendThrottled)
}

func TestFindForConfirmationInstructions(t *testing.T) {
	svc, repo, notifier := newTestService(reconfirmableSettings())

	a, err := svc.RegisterAccount(testPhone, AccountOptions{})
	require.NoError(t, err)
	_, ok, err := svc.ConfirmByToken(rawTokenFrom(t, notifier.last(t)))
	require.NoError(t, err)
	require.True(t, ok)

	a, err = repo.GetByID(a.ID)
	require.NoError(t, err)
	require.NoError(t, svc.UpdatePhoneNumber(a, testPhoneNew, AccountOptions{}))

	// pending-аккаунт ищется по НЕподтверждённому номеру
	found, err := svc.FindForConfirmationInstructions(map[string]string{"phone_number": testPhoneNew})
	require.NoError(t, err)
	assert.True(t, found.Persisted())
	assert.Equal(t, a.ID, found.ID)
	assert.Equal(t, testPhoneNew, notifier.last(t).To)
}

func TestFindForConfirmationInstructionsNotFound(t *testing.T) {
	svc, _, _ := newTestService(reconfirmableSettings())

	found, err := svc.FindForConfirmationInstructions(map[string]string{"phone_number": "+12125550199"})
	require.NoError(t, err)
	assert.False(t, found.Persisted())
	assert.True(t, found.Errors.Has("phone_number", models.ErrCodeNotFound))
}

func TestDeliveryFailureKeepsToken(t *testing.T) {
	svc, repo, notifier := newTestService(reconfirmableSettings())
	notifier.failWith = errors.New("gateway down")

	a, err := svc.RegisterAccount(testPhone, AccountOptions{})
	assert.ErrorIs(t, err, ErrDeliveryFailed)
	require.True(t, a.Persisted())

	// токен записан несмотря на провал доставки
	stored, err := repo.GetByID(a.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ConfirmationTokenDigest)

	// и им можно подтвердиться
	notifier.failWith = nil
	ok, err := svc.ResendConfirmationInstructions(stored)
	require.NoError(t, err)
	require.True(t, ok)
	_, ok, err = svc.ConfirmByToken(rawTokenFrom(t, notifier.last(t)))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestConcurrentConfirmExactlyOneWins(t *testing.T) {
	svc, _, notifier := newTestService(reconfirmableSettings())

	_, err := svc.RegisterAccount(testPhone, AccountOptions{})
	require.NoError(t, err)
	raw := rawTokenFrom(t, notifier.last(t))

	const workers = 8
	var wg sync.WaitGroup
	results := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := svc.ConfirmByToken(raw)
			assert.NoError(t, err)
			results <- ok
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for ok := range results {
		if ok {
			wins++
		}
	}
	assert.Equal(t, 1, wins)
}

func TestSkipConfirmationBypass(t *testing.T) {
	svc, repo, _ := newTestService(reconfirmableSettings())

	a, err := svc.RegisterAccount(testPhone, AccountOptions{SkipConfirmationNotification: true})
	require.NoError(t, err)
	require.Nil(t, a.ConfirmedAt)

	require.NoError(t, svc.SkipConfirmation(a))

	stored, err := repo.GetByID(a.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.ConfirmedAt)
}

func TestActiveForAuthenticationService(t *testing.T) {
	settings := reconfirmableSettings()
	settings.AllowUnconfirmedAccessFor = durPtr(72 * time.Hour)
	svc, _, _ := newTestService(settings)

	a, err := svc.RegisterAccount(testPhone, AccountOptions{SkipConfirmationNotification: true})
	require.NoError(t, err)
	assert.True(t, svc.ActiveForAuthentication(a))
	assert.Equal(t, "unconfirmed", svc.InactiveMessage(a))

	// grace истёк
	svc.now = func() time.Time { return time.Now().Add(73 * time.Hour) }
	assert.False(t, svc.ActiveForAuthentication(a))
}
