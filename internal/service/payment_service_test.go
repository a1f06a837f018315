package service

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"sync"
	"testing"

	"sneaker-store/internal/khalti"
	"sneaker-store/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type paymentFixture struct {
	*checkoutFixture
	payments *PaymentService
}

func newPaymentFixture(t *testing.T) *paymentFixture {
	t.Helper()
	f := newCheckoutFixture(t)
	ps := NewPaymentService(f.store, f.store, f.store, f.store, f.gateway, f.events, "http://api.test")
	return &paymentFixture{checkoutFixture: f, payments: ps}
}

// checkout starts a khalti checkout and returns the callback the gateway would send for it
func (f *paymentFixture) checkout(t *testing.T, req *CheckoutRequest, txID string) Callback {
	t.Helper()
	resp, err := f.svc.InitiateKhalti(context.Background(), testUserID, req)
	require.NoError(t, err)

	pidx := resp.Payment.Pidx
	f.gateway.complete(pidx, txID, resp.OrderDetails.TotalPrice)

	q := url.Values{}
	q.Set("pidx", pidx)
	q.Set("transaction_id", txID)
	q.Set("amount", strconv.FormatInt(resp.OrderDetails.TotalPrice, 10))
	q.Set("purchase_order_id", strconv.FormatInt(resp.OrderDetails.PurchaseOrderID, 10))
	q.Set("status", "Completed")
	return CallbackFromQuery(q)
}

func TestCompleteKhalti_RecordsPaymentAndDecrements(t *testing.T) {
	f := newPaymentFixture(t)
	cb := f.checkout(t, cart(2, 2000), "tx-1")

	out := f.payments.CompleteKhalti(context.Background(), cb)
	assert.True(t, out.Success)
	assert.False(t, out.Replay)
	assert.Equal(t, "tx-1", out.TransactionID)

	assert.Equal(t, 3, f.store.stock(1, "9"))
	assert.Equal(t, 1, f.store.paymentCount())

	rec, err := f.store.GetPaymentByTransactionID(context.Background(), "tx-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2000), rec.Amount)
	assert.Equal(t, models.RecordStatusSuccess, rec.Status)
	assert.Equal(t, models.GatewayKhalti, rec.Gateway)
	assert.Contains(t, string(rec.CallbackQuery), "tx-1")
	assert.Contains(t, string(rec.VerificationPayload), "Completed")

	pi, err := f.store.GetPurchaseIntent(context.Background(), rec.PurchaseIntentID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, pi.PaymentStatus)

	require.Len(t, f.events.completed, 1)
	assert.Equal(t, "buyer@example.com", f.events.completed[0].Email)
}

func TestCompleteKhalti_ReplayIsIdempotent(t *testing.T) {
	f := newPaymentFixture(t)
	cb := f.checkout(t, cart(2, 2000), "tx-1")

	first := f.payments.CompleteKhalti(context.Background(), cb)
	second := f.payments.CompleteKhalti(context.Background(), cb)

	assert.True(t, first.Success)
	assert.True(t, second.Success)
	assert.True(t, second.Replay)
	assert.Equal(t, "tx-1", second.TransactionID)
	assert.Equal(t, 1, f.store.paymentCount())
	assert.Equal(t, 3, f.store.stock(1, "9"))
}

func TestCompleteKhalti_ConcurrentReplays(t *testing.T) {
	f := newPaymentFixture(t)
	cb := f.checkout(t, cart(2, 2000), "tx-1")

	var wg sync.WaitGroup
	outcomes := make([]Outcome, 5)
	for i := range outcomes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = f.payments.CompleteKhalti(context.Background(), cb)
		}(i)
	}
	wg.Wait()

	for _, out := range outcomes {
		assert.True(t, out.Success)
	}
	assert.Equal(t, 1, f.store.paymentCount())
	assert.Equal(t, 3, f.store.stock(1, "9"))
}

func TestCompleteKhalti_AdminMarkedCompletedBeforeCallback(t *testing.T) {
	f := newPaymentFixture(t)
	cb := f.checkout(t, cart(2, 2000), "tx-1")
	id, err := strconv.ParseInt(cb.PurchaseOrderID, 10, 64)
	require.NoError(t, err)

	orders := NewOrderService(f.store, f.store, "", 12, 100)
	_, err = orders.UpdateStatus(context.Background(), id, &UpdateOrderStatusRequest{PaymentStatus: models.PaymentStatusCompleted})
	require.NoError(t, err)

	out := f.payments.CompleteKhalti(context.Background(), cb)
	assert.True(t, out.Success)
	assert.False(t, out.Replay)
	assert.Equal(t, 1, f.store.paymentCount())
	assert.Equal(t, 3, f.store.stock(1, "9"))

	again := f.payments.CompleteKhalti(context.Background(), cb)
	assert.True(t, again.Replay)
	assert.Equal(t, 1, f.store.paymentCount())
	assert.Equal(t, 3, f.store.stock(1, "9"))
}

func TestCompleteKhalti_ReportedFailure(t *testing.T) {
	f := newPaymentFixture(t)
	cb := f.checkout(t, cart(2, 2000), "tx-1")
	cb.Status = "failed"

	out := f.payments.CompleteKhalti(context.Background(), cb)
	assert.False(t, out.Success)
	assert.Equal(t, ReasonInsufficientBalance, out.Reason)

	pi, err := f.store.GetPurchaseIntent(context.Background(), mustParse(t, cb.PurchaseOrderID))
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, pi.PaymentStatus)
	assert.Equal(t, 0, f.store.paymentCount())
	require.Len(t, f.events.failed, 1)
	assert.Equal(t, string(ReasonInsufficientBalance), f.events.failed[0].Reason)
}

func TestCompleteKhalti_AmountMismatch(t *testing.T) {
	f := newPaymentFixture(t)
	cb := f.checkout(t, cart(2, 2000), "tx-1")

	// the gateway verified 1500 for this pidx and the callback agrees
	f.gateway.complete(cb.Pidx, "tx-1", 1500)
	cb.Amount = "1500"

	out := f.payments.CompleteKhalti(context.Background(), cb)
	assert.False(t, out.Success)
	assert.Equal(t, ReasonIntentNotFoundMismatch, out.Reason)
	assert.Equal(t, 5, f.store.stock(1, "9"))
	assert.Equal(t, 0, f.store.paymentCount())
}

func TestCompleteKhalti_VerificationFailures(t *testing.T) {
	cases := map[string]func(f *paymentFixture, cb *Callback){
		"lookup error": func(f *paymentFixture, cb *Callback) {
			f.gateway.lookupErr = &khalti.GatewayError{HTTPStatus: 401, Detail: khalti.DetailInvalidCredentials}
		},
		"not completed": func(f *paymentFixture, cb *Callback) {
			f.gateway.lookups[cb.Pidx].Status = "Pending"
		},
		"transaction id differs": func(f *paymentFixture, cb *Callback) {
			cb.TransactionID = "forged"
		},
		"callback amount differs": func(f *paymentFixture, cb *Callback) {
			cb.Amount = "1"
		},
		"amount not a number": func(f *paymentFixture, cb *Callback) {
			cb.Amount = "20.00"
		},
		"missing pidx": func(f *paymentFixture, cb *Callback) {
			cb.Pidx = ""
		},
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			f := newPaymentFixture(t)
			cb := f.checkout(t, cart(2, 2000), "tx-1")
			mutate(f, &cb)

			out := f.payments.CompleteKhalti(context.Background(), cb)
			assert.False(t, out.Success)
			assert.Equal(t, ReasonVerificationFailed, out.Reason)
			assert.Equal(t, 5, f.store.stock(1, "9"))
			assert.Equal(t, 0, f.store.paymentCount())
		})
	}
}

func TestCompleteKhalti_UnknownPurchaseOrder(t *testing.T) {
	f := newPaymentFixture(t)
	cb := f.checkout(t, cart(2, 2000), "tx-1")
	cb.PurchaseOrderID = "424242"

	out := f.payments.CompleteKhalti(context.Background(), cb)
	assert.Equal(t, ReasonIntentNotFoundMismatch, out.Reason)
}

func TestCompleteKhalti_ProductRemoved(t *testing.T) {
	f := newPaymentFixture(t)
	cb := f.checkout(t, cart(2, 2000), "tx-1")
	require.NoError(t, f.store.RemoveProduct(context.Background(), 1))

	out := f.payments.CompleteKhalti(context.Background(), cb)
	assert.Equal(t, ReasonProductNotFound, out.Reason)
}

func TestCompleteKhalti_SizeRemoved(t *testing.T) {
	f := newPaymentFixture(t)
	cb := f.checkout(t, cart(2, 2000), "tx-1")
	f.store.addProduct(1, "Air Zoom", 1000, models.SizeStock{ProductID: 1, Size: "10", Quantity: 5})

	out := f.payments.CompleteKhalti(context.Background(), cb)
	assert.Equal(t, ReasonSizeNotFound, out.Reason)
}

func TestCompleteKhalti_StoreFailureIsServerError(t *testing.T) {
	f := newPaymentFixture(t)
	cb := f.checkout(t, cart(2, 2000), "tx-1")
	f.payments.payments = failingPayments{memStore: f.store}

	out := f.payments.CompleteKhalti(context.Background(), cb)
	assert.Equal(t, ReasonServerError, out.Reason)
}

type failingPayments struct {
	*memStore
}

func (failingPayments) GetPaymentByPidx(context.Context, string) (*models.PaymentRecord, error) {
	return nil, errors.New("connection reset")
}

func TestCompleteKhalti_ClampsAtZero(t *testing.T) {
	f := newPaymentFixture(t)
	cb := f.checkout(t, cart(3, 3000), "tx-1")

	// an admin sale elsewhere drained the size after checkout
	f.store.addProduct(1, "Air Zoom", 1000, models.SizeStock{ProductID: 1, Size: "9", Quantity: 1})

	out := f.payments.CompleteKhalti(context.Background(), cb)
	assert.True(t, out.Success)
	assert.Equal(t, 0, f.store.stock(1, "9"))
}

func TestCompleteKhalti_FrozenTotalSurvivesPriceChange(t *testing.T) {
	f := newPaymentFixture(t)
	cb := f.checkout(t, cart(2, 2000), "tx-1")
	f.store.setPrice(1, 5000)

	out := f.payments.CompleteKhalti(context.Background(), cb)
	require.True(t, out.Success)

	pi, err := f.store.GetPurchaseIntent(context.Background(), mustParse(t, cb.PurchaseOrderID))
	require.NoError(t, err)
	assert.Equal(t, int64(2000), pi.TotalPrice)
}

func TestCompleteKhalti_MultiLineCheckout(t *testing.T) {
	f := newPaymentFixture(t)
	f.store.addProduct(2, "Court Classic", 2500, models.SizeStock{ProductID: 2, Size: "10", Quantity: 2})

	cb := f.checkout(t, &CheckoutRequest{
		CartItems: []CartItem{
			{ProductID: 1, Size: "9", Quantity: 1},
			{ProductID: 2, Size: "10", Quantity: 2},
		},
		TotalPrice: 6000,
	}, "tx-9")

	out := f.payments.CompleteKhalti(context.Background(), cb)
	require.True(t, out.Success)
	assert.Equal(t, 4, f.store.stock(1, "9"))
	assert.Equal(t, 0, f.store.stock(2, "10"))
	assert.Equal(t, 1, f.store.paymentCount())

	details, err := f.payments.GetPaymentByTransactionID(context.Background(), "tx-9")
	require.NoError(t, err)
	assert.Len(t, details.OrderDetails.Items, 2)
	assert.Equal(t, int64(6000), details.OrderDetails.TotalPrice)
	for _, item := range details.OrderDetails.Items {
		assert.Equal(t, models.PaymentStatusCompleted, item.PaymentStatus)
	}
}

func TestGetPaymentByTransactionID_NotFound(t *testing.T) {
	f := newPaymentFixture(t)

	_, err := f.payments.GetPaymentByTransactionID(context.Background(), "missing")
	svcErr, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindNotFound, svcErr.Kind)
}

func mustParse(t *testing.T, s string) int64 {
	t.Helper()
	n, err := strconv.ParseInt(s, 10, 64)
	require.NoError(t, err)
	return n
}
