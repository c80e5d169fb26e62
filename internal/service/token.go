package service

import (
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/noah-isme/gema-eval-api/internal/models"
)

// TokenScopeSubmission marks tokens that authorize writes to a single submission.
const TokenScopeSubmission = "submission"

// TokenIssuer signs submission tokens handed out by the bootstrap operation.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer constructs an HMAC token issuer.
func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue returns a signed token whose subject is the submission id.
func (i *TokenIssuer) Issue(submission models.Submission) (string, time.Time, error) {
	issuedAt := i.now()
	expiresAt := issuedAt.Add(i.ttl)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":        strconv.FormatUint(uint64(submission.ID), 10),
		"attempt_id": submission.AttemptID,
		"scope":      TokenScopeSubmission,
		"iat":        issuedAt.Unix(),
		"exp":        expiresAt.Unix(),
	})

	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign submission token: %w", err)
	}
	return signed, expiresAt, nil
}
