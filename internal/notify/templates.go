package notify

import (
	"fmt"
	"html"
	"strings"
	"time"

	"sneaker-store/internal/models"

	"github.com/shopspring/decimal"
)

// FormatRupees renders a paisa amount as "Rs. 1,234.50"
func FormatRupees(paisa int64) string {
	amount := decimal.New(paisa, -2).StringFixed(2)

	sign := ""
	if strings.HasPrefix(amount, "-") {
		sign, amount = "-", amount[1:]
	}
	whole, frac, _ := strings.Cut(amount, ".")

	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return fmt.Sprintf("Rs. %s%s.%s", sign, b.String(), frac)
}

// OTPEmail builds the login code message
func OTPEmail(code string, ttl time.Duration) (subject, body string) {
	subject = "Your login code"
	body = fmt.Sprintf(
		"<p>Your one-time login code is <strong>%s</strong>.</p><p>It expires in %d minutes.</p>",
		html.EscapeString(code), int(ttl.Minutes()))
	return subject, body
}

// OrderConfirmationEmail builds the confirmation for a paid or cash-on-delivery order
func OrderConfirmationEmail(method string, lines []models.OrderLine, total int64, transactionID string) (subject, body string) {
	var b strings.Builder
	b.WriteString("<p>Thank you for your order.</p><table>")
	for _, l := range lines {
		fmt.Fprintf(&b, "<tr><td>%s</td><td>Size %s</td><td>x%d</td><td>%s</td></tr>",
			html.EscapeString(l.ProductName), html.EscapeString(l.Size), l.Quantity, FormatRupees(l.TotalPrice))
	}
	fmt.Fprintf(&b, "</table><p>Total: <strong>%s</strong></p>", FormatRupees(total))

	if method == models.PaymentMethodCOD {
		subject = "Order placed: cash on delivery"
		b.WriteString("<p>Please keep the amount ready at delivery.</p>")
	} else {
		subject = "Payment received"
		fmt.Fprintf(&b, "<p>Khalti transaction: %s</p>", html.EscapeString(transactionID))
	}
	return subject, b.String()
}
