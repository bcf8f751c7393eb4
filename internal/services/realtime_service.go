package services

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/Rogrei/diagnostik-chat/internal/utils"

	"github.com/golang-jwt/jwt/v5"
)

const (
	RealtimeSubject  = "web"
	RealtimeAudience = "realtime"
)

// RealtimeTokenService hands the browser the credential it uses to open a
// realtime voice session.
type RealtimeTokenService interface {
	Issue(ctx context.Context) (string, error)
}

type realtimeTokenService struct {
	issuer string
	key    *rsa.PrivateKey
	apiKey string
	ttl    time.Duration
	clock  func() time.Time
}

// NewRealtimeTokenService signs RS256 tokens when privateKeyBase64 holds a
// base64 encoded PEM key; otherwise Issue returns apiKey as is.
func NewRealtimeTokenService(issuer, privateKeyBase64, apiKey string, ttl time.Duration) (RealtimeTokenService, error) {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	s := &realtimeTokenService{issuer: issuer, apiKey: apiKey, ttl: ttl, clock: time.Now}

	if privateKeyBase64 = strings.TrimSpace(privateKeyBase64); privateKeyBase64 != "" {
		pemBytes, err := base64.StdEncoding.DecodeString(privateKeyBase64)
		if err != nil {
			return nil, fmt.Errorf("decode realtime private key: %w", err)
		}
		key, err := jwt.ParseRSAPrivateKeyFromPEM(pemBytes)
		if err != nil {
			return nil, fmt.Errorf("parse realtime private key: %w", err)
		}
		s.key = key
	}
	return s, nil
}

func (s *realtimeTokenService) Issue(ctx context.Context) (string, error) {
	const op = "RealtimeTokenService.Issue"

	if s.key == nil {
		if s.apiKey == "" {
			return "", utils.E(utils.CodeInternal, op, "OPENAI_API_KEY not configured", nil)
		}
		return s.apiKey, nil
	}

	now := s.clock().UTC()
	claims := jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   RealtimeSubject,
		Audience:  jwt.ClaimStrings{RealtimeAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.key)
	if err != nil {
		return "", utils.E(utils.CodeInternal, op, "failed to sign realtime token", err)
	}
	return token, nil
}
