package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("PAYMENT_HOLD_MINUTES", "")
	t.Setenv("KHALTI_BASE_URL", "")

	cfg := Load()

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 30*time.Minute, cfg.Business.PaymentHold)
	assert.Equal(t, "https://dev.khalti.com/api/v2", cfg.Khalti.BaseURL)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("KHALTI_BASE_URL", "https://khalti.com/api/v2/")
	t.Setenv("ADMIN_EMAILS", " Owner@Shop.com, ,ops@shop.com")
	t.Setenv("FRONTEND_URL", "https://shop.example/")
	t.Setenv("OTP_TTL_MINUTES", "2")

	cfg := Load()

	assert.Equal(t, "https://khalti.com/api/v2", cfg.Khalti.BaseURL)
	assert.Equal(t, []string{"owner@shop.com", "ops@shop.com"}, cfg.Auth.AdminEmails)
	assert.Equal(t, "https://shop.example", cfg.URLs.Frontend)
	assert.Equal(t, 2*time.Minute, cfg.Auth.OTPTTL)
}
