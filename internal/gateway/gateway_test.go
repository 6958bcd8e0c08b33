package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaymentClient_CreateCharge(t *testing.T) {
	var got chargeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/charges", r.URL.Path)
		assert.Equal(t, "Bearer secret-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"ch_1","transaction_id":987,"qr_code_base64":"aW1n","qr_code":"000201pix","status":"pending"}`))
	}))
	defer srv.Close()

	c := NewPaymentClient(srv.URL+"/", "secret-key", "pix@example.com", 30*time.Minute, Options{})
	charge, err := c.CreateCharge(context.Background(), decimal.RequireFromString("5"), "user-1", "Number rental")
	require.NoError(t, err)

	assert.Equal(t, "5.00", got.Value)
	assert.Equal(t, "pix@example.com", got.PixKey)
	assert.Equal(t, "user-1", got.Customer.TaxID)
	assert.Equal(t, 1800, got.ExpiresIn)

	assert.Equal(t, "ch_1", charge.ID)
	assert.Equal(t, "987", charge.TxID)
	assert.Equal(t, "aW1n", charge.QRImage)
	assert.Equal(t, "000201pix", charge.CopyPasteCode)
	assert.True(t, charge.Amount.Equal(decimal.RequireFromString("5")))
}

func TestPaymentClient_CreateChargeFallsBackToChargeID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"ch_2","brcode":"br","status":"pending"}`))
	}))
	defer srv.Close()

	c := NewPaymentClient(srv.URL, "k", "pix", 0, Options{})
	charge, err := c.CreateCharge(context.Background(), decimal.NewFromInt(10), "u", "top-up")
	require.NoError(t, err)
	assert.Equal(t, "ch_2", charge.TxID)
	assert.Equal(t, "br", charge.CopyPasteCode)
}

func TestPaymentClient_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"upstream 500", http.StatusInternalServerError, `{"message":"boom"}`},
		{"bad json", http.StatusOK, `not json`},
		{"missing id", http.StatusOK, `{"status":"pending"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewPaymentClient(srv.URL, "k", "pix", time.Hour, Options{})
			_, err := c.CreateCharge(context.Background(), decimal.NewFromInt(1), "u", "m")
			assert.ErrorIs(t, err, ErrProvider)
		})
	}
}

func TestPaymentClient_ChargeStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/charges/ch_9", r.URL.Path)
		w.Write([]byte(`{"id":"ch_9","status":"PAID"}`))
	}))
	defer srv.Close()

	c := NewPaymentClient(srv.URL, "k", "pix", time.Hour, Options{})
	st, err := c.ChargeStatus(context.Background(), "ch_9")
	require.NoError(t, err)
	assert.Equal(t, "ch_9", st.ID)
	assert.True(t, st.Paid)
}

func TestSignature(t *testing.T) {
	body := []byte(`{"event":"charge.paid"}`)
	sig := Sign("whsec", body)

	assert.True(t, VerifySignature("whsec", body, sig))
	assert.True(t, VerifySignature("whsec", body, " "+sig+"\n"))
	assert.False(t, VerifySignature("other", body, sig))
	assert.False(t, VerifySignature("whsec", []byte(`{"event":"charge.paid" }`), sig))
	assert.False(t, VerifySignature("whsec", body, "not-hex"))
	assert.False(t, VerifySignature("whsec", body, ""))
}

func TestIsPaidEvent(t *testing.T) {
	assert.True(t, IsPaidEvent("charge.paid"))
	assert.True(t, IsPaidEvent("charge.confirmed"))
	assert.False(t, IsPaidEvent("charge.created"))
	assert.False(t, IsPaidEvent("charge.expired"))
}

func TestNumberClient_PurchaseNumber(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		wantErr bool
	}{
		{"ok", "ACCESS_NUMBER:12345:5511999990000", false},
		{"no numbers", "NO_NUMBERS", true},
		{"no balance", "NO_BALANCE", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				q := r.URL.Query()
				assert.Equal(t, "getNumber", q.Get("action"))
				assert.Equal(t, "wa", q.Get("service"))
				assert.Equal(t, "73", q.Get("country"))
				assert.Equal(t, "sms-key", q.Get("api_key"))
				w.Write([]byte(tt.reply))
			}))
			defer srv.Close()

			c := NewNumberClient(srv.URL, "sms-key", "73", Options{})
			act, err := c.PurchaseNumber(context.Background(), "wa", "")
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrProvider)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "12345", act.ID)
			assert.Equal(t, "5511999990000", act.PhoneNumber)
		})
	}
}

func TestNumberClient_WaitForVerificationCode(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		switch {
		case n == 1:
			w.WriteHeader(http.StatusBadGateway)
		case n < 3:
			w.Write([]byte("STATUS_WAIT_CODE"))
		default:
			w.Write([]byte("STATUS_OK:482913"))
		}
	}))
	defer srv.Close()

	c := NewNumberClient(srv.URL, "k", "73", Options{})
	code, err := c.WaitForVerificationCode(context.Background(), "1", 5, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "482913", code)
	assert.Equal(t, int32(3), calls.Load())
}

func TestNumberClient_WaitForVerificationCodeTimesOut(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte("STATUS_WAIT_CODE"))
	}))
	defer srv.Close()

	c := NewNumberClient(srv.URL, "k", "73", Options{})
	_, err := c.WaitForVerificationCode(context.Background(), "1", 3, time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, int32(3), calls.Load())
}

func TestNumberClient_WaitForVerificationCodeStopsOnClosedActivation(t *testing.T) {
	for _, reply := range []string{"STATUS_CANCEL", "NO_ACTIVATION"} {
		t.Run(reply, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.Write([]byte(reply))
			}))
			defer srv.Close()

			c := NewNumberClient(srv.URL, "k", "73", Options{})
			_, err := c.WaitForVerificationCode(context.Background(), "1", 10, time.Millisecond)
			assert.ErrorIs(t, err, ErrActivationEnded)
			assert.ErrorIs(t, err, ErrProvider)
			assert.NotErrorIs(t, err, ErrTimeout)
			assert.Equal(t, int32(1), calls.Load())
		})
	}
}

func TestNumberClient_WaitForVerificationCodeCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("STATUS_WAIT_CODE"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewNumberClient(srv.URL, "k", "73", Options{})
	_, err := c.WaitForVerificationCode(ctx, "1", 100, time.Hour)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestNumberClient_SetStatus(t *testing.T) {
	var (
		mu       sync.Mutex
		statuses []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "setStatus", r.URL.Query().Get("action"))
		mu.Lock()
		statuses = append(statuses, r.URL.Query().Get("status"))
		mu.Unlock()
		w.Write([]byte("ACCESS_ACTIVATION"))
	}))
	defer srv.Close()

	c := NewNumberClient(srv.URL, "k", "73", Options{})
	require.NoError(t, c.ConfirmActivation(context.Background(), "1"))
	require.NoError(t, c.CancelActivation(context.Background(), "1"))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"6", "8"}, statuses)
}

func TestEngagementClient_CreateOrder(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    string
		wantErr bool
	}{
		{"numeric id", `{"order":23501}`, "23501", false},
		{"string id", `{"order":"abc"}`, "abc", false},
		{"error in 200", `{"error":"Incorrect service ID"}`, "", true},
		{"empty", `{}`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				var req engagementRequest
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				assert.Equal(t, "add", req.Action)
				assert.Equal(t, "eng-key", req.Key)
				assert.Equal(t, 500, req.Quantity)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewEngagementClient(srv.URL, "eng-key", Options{})
			id, err := c.CreateOrder(context.Background(), "101", "https://instagram.com/p/x", 500)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrProvider)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, id)
		})
	}
}

func TestEngagementClient_Services(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"service":101,"name":"Followers","category":"Instagram","rate":"0.90","min":"100","max":"10000"},
			{"service":"102","name":"Likes","category":"Instagram","rate":1.5,"min":50,"max":5000}
		]`))
	}))
	defer srv.Close()

	c := NewEngagementClient(srv.URL, "k", Options{})
	services, err := c.Services(context.Background())
	require.NoError(t, err)
	require.Len(t, services, 2)

	svc, ok := FindService(services, "101")
	require.True(t, ok)
	assert.Equal(t, 100, svc.Min)
	assert.Equal(t, 10000, svc.Max)
	assert.True(t, svc.PriceFor(1000).Equal(decimal.RequireFromString("0.90")))

	likes, ok := FindService(services, "102")
	require.True(t, ok)
	assert.Equal(t, 50, likes.Min)
	assert.True(t, likes.Rate.Equal(decimal.RequireFromString("1.5")))

	_, ok = FindService(services, "999")
	assert.False(t, ok)
}

func TestRateLimiterHonoursContext(t *testing.T) {
	c := newHTTPClient("test", Options{RPS: 0.001})
	require.NoError(t, c.limiter.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	req, _ := http.NewRequest(http.MethodGet, "http://127.0.0.1:1", nil)
	_, err := c.do(ctx, req)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrProvider)
}
