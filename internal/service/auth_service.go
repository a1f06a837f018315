package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"net/mail"
	"strings"
	"time"

	"sneaker-store/internal/auth"
	"sneaker-store/internal/models"
	"sneaker-store/internal/notify"
	"sneaker-store/internal/redisclient"
	"sneaker-store/internal/util"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// AuthConfig holds the OTP settings
type AuthConfig struct {
	OTPTTL      time.Duration
	OTPAttempts int
	AdminEmails []string
}

// AuthService logs users in with emailed one-time codes
type AuthService struct {
	otps   OTPStore
	users  UserStore
	sender EmailSender
	tokens *auth.TokenManager
	cfg    AuthConfig
	admins map[string]bool
	logger *zap.Logger
}

// NewAuthService creates a new auth service
func NewAuthService(otps OTPStore, users UserStore, sender EmailSender, tokens *auth.TokenManager, cfg AuthConfig) *AuthService {
	admins := make(map[string]bool, len(cfg.AdminEmails))
	for _, e := range cfg.AdminEmails {
		admins[strings.ToLower(e)] = true
	}
	return &AuthService{
		otps:   otps,
		users:  users,
		sender: sender,
		tokens: tokens,
		cfg:    cfg,
		admins: admins,
		logger: util.GetLogger(),
	}
}

func normalizeEmail(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil || addr.Address != strings.TrimSpace(raw) {
		return "", validationError("a valid email address is required")
	}
	return strings.ToLower(addr.Address), nil
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// RequestOTP emails a fresh code to the address, replacing any pending one
func (s *AuthService) RequestOTP(ctx context.Context, rawEmail string) error {
	ctx, span := util.StartSpan(ctx, "AuthService.RequestOTP")
	defer span.End()

	email, err := normalizeEmail(rawEmail)
	if err != nil {
		return err
	}

	code, err := generateCode()
	if err != nil {
		return fmt.Errorf("failed to generate code: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash code: %w", err)
	}

	if err := s.otps.StoreOTP(ctx, email, string(hash), s.cfg.OTPTTL); err != nil {
		util.RecordError(span, err)
		return fmt.Errorf("failed to store code: %w", err)
	}

	subject, body := notify.OTPEmail(code, s.cfg.OTPTTL)
	if _, err := s.sender.SendEmail(ctx, email, subject, body); err != nil {
		util.NotificationsSentTotal.WithLabelValues("otp", "error").Inc()
		s.logger.Error("Failed to send login code", zap.String("email", email), zap.Error(err))
		return newError(KindGateway, CodeGatewayError, "could not send the login code, please try again", err)
	}

	util.NotificationsSentTotal.WithLabelValues("otp", "sent").Inc()
	util.OTPRequestsTotal.Inc()
	return nil
}

// LoginResponse carries the access token issued after a verified code
type LoginResponse struct {
	Success   bool         `json:"success"`
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	User      *models.User `json:"user"`
}

// VerifyOTP checks the code, consumes it and issues a token. Each call counts as one attempt.
func (s *AuthService) VerifyOTP(ctx context.Context, rawEmail, code string) (*LoginResponse, error) {
	ctx, span := util.StartSpan(ctx, "AuthService.VerifyOTP")
	defer span.End()

	email, err := normalizeEmail(rawEmail)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(code) == "" {
		return nil, validationError("otp is required")
	}

	outcome, hash, err := s.otps.ConsumeOTPAttempt(ctx, email, s.cfg.OTPAttempts)
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	switch outcome {
	case redisclient.OTPMissing:
		util.OTPVerificationsTotal.WithLabelValues("missing").Inc()
		return nil, newError(KindUnauthorized, CodeUnauthorized, "code expired or was never requested", nil)
	case redisclient.OTPExhausted:
		util.OTPVerificationsTotal.WithLabelValues("exhausted").Inc()
		return nil, newError(KindUnauthorized, CodeUnauthorized, "too many attempts, request a new code", nil)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(strings.TrimSpace(code))); err != nil {
		util.OTPVerificationsTotal.WithLabelValues("invalid").Inc()
		return nil, newError(KindUnauthorized, CodeUnauthorized, "invalid code", nil)
	}

	if err := s.otps.DeleteOTP(ctx, email); err != nil {
		s.logger.Warn("Failed to delete used code", zap.Error(err))
	}

	role := models.RoleCustomer
	if s.admins[email] {
		role = models.RoleAdmin
	}
	user, err := s.users.UpsertUser(ctx, email, role)
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := s.tokens.Issue(auth.Claims{UserID: user.ID, Email: user.Email, Role: user.Role})
	if err != nil {
		return nil, err
	}

	util.OTPVerificationsTotal.WithLabelValues("success").Inc()
	s.logger.Info("User logged in", zap.Int64("user_id", user.ID), zap.String("role", user.Role))

	return &LoginResponse{Success: true, Token: token, ExpiresAt: expiresAt, User: user}, nil
}
