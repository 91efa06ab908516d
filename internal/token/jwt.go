package token

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/csnsor/bs-webpanel-sub000/internal/apperr"
)

const (
	kindSession = "session"
	kindForm    = "form"
)

// SessionClaims is the login session payload. Refreshing re-signs the
// profile fields but never rotates Key.
type SessionClaims struct {
	Kind        string `json:"knd"`
	Key         string `json:"key"`
	InternalID  string `json:"iid"`
	DiscordID   string `json:"uid,omitempty"`
	DiscordName string `json:"uname,omitempty"`
	RobloxID    string `json:"ruid,omitempty"`
	RobloxName  string `json:"runame,omitempty"`
	DisplayName string `json:"dname,omitempty"`
	Version     int64  `json:"ver,omitempty"`
	Epoch       int64  `json:"ep"`
	jwt.RegisteredClaims
}

// FormClaims binds a form token to one ban and one message-context snapshot.
type FormClaims struct {
	Kind          string `json:"knd"`
	Platform      string `json:"plt"`
	UserID        string `json:"uid"`
	BanFirstSeen  int64  `json:"bfs"`
	ContextDigest string `json:"ctx,omitempty"`
	jwt.RegisteredClaims
}

// Signer issues and verifies HS256 session and form tokens.
type Signer struct {
	secret     []byte
	sessionTTL time.Duration
	formTTL    time.Duration
	epoch      int64
	now        func() time.Time
}

func NewSigner(secret string, sessionTTL, formTTL time.Duration, epoch int64) (*Signer, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("session secret must be at least 16 bytes")
	}
	return &Signer{
		secret:     []byte(secret),
		sessionTTL: sessionTTL,
		formTTL:    formTTL,
		epoch:      epoch,
		now:        time.Now,
	}, nil
}

func (s *Signer) WithClock(now func() time.Time) *Signer {
	s.now = now
	return s
}

func (s *Signer) SessionTTL() time.Duration { return s.sessionTTL }

// SignSession stamps issued-at, expiry and the current epoch.
func (s *Signer) SignSession(c SessionClaims) (string, error) {
	now := s.now()
	c.Kind = kindSession
	c.Epoch = s.epoch
	c.IssuedAt = jwt.NewNumericDate(now)
	c.ExpiresAt = jwt.NewNumericDate(now.Add(s.sessionTTL))
	c.Subject = c.InternalID
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
}

// ParseSession rejects tokens from an older epoch, which forces a logout.
func (s *Signer) ParseSession(raw string) (*SessionClaims, error) {
	c := &SessionClaims{}
	if err := s.parse(raw, c); err != nil {
		return nil, err
	}
	if c.Kind != kindSession || c.Epoch < s.epoch {
		return nil, apperr.ErrInvalidToken
	}
	return c, nil
}

func (s *Signer) SignForm(c FormClaims) (string, error) {
	now := s.now()
	c.Kind = kindForm
	c.IssuedAt = jwt.NewNumericDate(now)
	c.ExpiresAt = jwt.NewNumericDate(now.Add(s.formTTL))
	c.Subject = c.UserID
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
}

func (s *Signer) ParseForm(raw string) (*FormClaims, error) {
	c := &FormClaims{}
	if err := s.parse(raw, c); err != nil {
		return nil, err
	}
	if c.Kind != kindForm {
		return nil, apperr.ErrInvalidToken
	}
	return c, nil
}

func (s *Signer) parse(raw string, claims jwt.Claims) error {
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return fmt.Errorf("%w: expired", apperr.ErrInvalidToken)
		}
		return fmt.Errorf("%w: %v", apperr.ErrInvalidToken, err)
	}
	return nil
}

// Hash is the durable idempotency key for a token.
func Hash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
