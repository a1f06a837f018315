package notify

import (
	"context"
	"testing"
	"time"

	"sneaker-store/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestFormatRupees(t *testing.T) {
	assert.Equal(t, "Rs. 20.00", FormatRupees(2000))
	assert.Equal(t, "Rs. 1,234.50", FormatRupees(123450))
	assert.Equal(t, "Rs. 1,000,000.05", FormatRupees(100000005))
	assert.Equal(t, "Rs. 0.00", FormatRupees(0))
	assert.Equal(t, "Rs. -5.00", FormatRupees(-500))
}

func TestOTPEmail(t *testing.T) {
	subject, body := OTPEmail("123456", 5*time.Minute)
	assert.Equal(t, "Your login code", subject)
	assert.Contains(t, body, "123456")
	assert.Contains(t, body, "5 minutes")
}

func TestOrderConfirmationEmail(t *testing.T) {
	lines := []models.OrderLine{{ProductName: "Air <Zoom>", Size: "9", Quantity: 2, TotalPrice: 200000}}

	subject, body := OrderConfirmationEmail(models.PaymentMethodKhalti, lines, 200000, "tx-1")
	assert.Equal(t, "Payment received", subject)
	assert.Contains(t, body, "Air &lt;Zoom&gt;")
	assert.Contains(t, body, "Rs. 2,000.00")
	assert.Contains(t, body, "tx-1")

	subject, body = OrderConfirmationEmail(models.PaymentMethodCOD, lines, 200000, "")
	assert.Equal(t, "Order placed: cash on delivery", subject)
	assert.NotContains(t, body, "Khalti transaction")
}

func TestSMTPSenderNotConfigured(t *testing.T) {
	s := NewSMTPSender("", "587", "", "", "")
	_, err := s.SendEmail(context.Background(), "a@b.c", "s", "b")
	assert.ErrorIs(t, err, ErrNotConfigured)
}
