package services

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

// ConfirmationTokenPurpose — назначение токена подтверждения номера.
// Ключ дайджеста выводится из секрета per-purpose, так что токены разных
// назначений несовместимы между собой.
const ConfirmationTokenPurpose = "confirmation_token"

const (
	tokenRandomBytes   = 15 // 20 символов после base64url
	tokenKeyIterations = 4096
	tokenKeyLength     = 32
)

// в сыром токене не должно быть л-образных символов, чтобы его можно было
// продиктовать/перенабрать без ошибок
var tokenCharFixer = strings.NewReplacer("l", "s", "I", "x", "O", "y", "0", "z")

// TokenService — генерация сырых токенов и их дайджестов для хранения.
// Дайджест детерминированный (HMAC-SHA256 с ключом из секрета и purpose),
// поэтому по нему можно искать запись в БД. Сырой токен никогда не пишется
// в хранилище.
type TokenService struct {
	secret []byte

	mu   sync.Mutex
	keys map[string][]byte // кэш ключей по purpose
}

func NewTokenService(secret string) *TokenService {
	if strings.TrimSpace(secret) == "" {
		panic("token secret is required")
	}
	return &TokenService{
		secret: []byte(secret),
		keys:   map[string][]byte{},
	}
}

// Generate — новый случайный токен и его дайджест.
// Ошибка источника случайности — фатальная, наружу как есть.
func (s *TokenService) Generate(purpose string) (raw string, digest string, err error) {
	b := make([]byte, tokenRandomBytes)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("token generate: %w", err)
	}
	raw = tokenCharFixer.Replace(base64.RawURLEncoding.EncodeToString(b))
	return raw, s.Digest(purpose, raw), nil
}

// Digest — детерминированный дайджест сырого токена, без побочных эффектов.
func (s *TokenService) Digest(purpose, raw string) string {
	mac := hmac.New(sha256.New, s.keyFor(purpose))
	mac.Write([]byte(raw))
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *TokenService) keyFor(purpose string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.keys[purpose]; ok {
		return k
	}
	k := pbkdf2.Key(s.secret, []byte(purpose), tokenKeyIterations, tokenKeyLength, sha256.New)
	s.keys[purpose] = k
	return k
}
