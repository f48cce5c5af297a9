package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mmeshcher/checkout-system/internal/model"
)

func TestCardProviderVerifyPayment(t *testing.T) {
	tests := []struct {
		name       string
		respStatus string
		want       model.PaymentStatus
	}{
		{name: "authorized", respStatus: "AUTHORIZED", want: model.PaymentStatusSucceeded},
		{name: "initialized", respStatus: "INITIALIZED", want: model.PaymentStatusPending},
		{name: "pending", respStatus: "PENDING", want: model.PaymentStatusPending},
		{name: "declined", respStatus: "DECLINED", want: model.PaymentStatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost || r.URL.Path != "/api/transactions/commit" {
					t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
				}
				var req cardCommitRequest
				if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
					t.Errorf("decode request: %v", err)
				}
				if req.Token != "tok-1" {
					t.Errorf("token = %s, want tok-1", req.Token)
				}
				json.NewEncoder(w).Encode(cardCommitResponse{Status: tt.respStatus, TransactionID: "T1"})
			}))
			defer srv.Close()

			p := NewCardProvider(srv.URL)
			result, err := p.VerifyPayment(context.Background(), VerifyParams{Token: "tok-1"})
			if err != nil {
				t.Fatalf("verify: %v", err)
			}
			if result.Status != tt.want {
				t.Errorf("status = %s, want %s", result.Status, tt.want)
			}
			if result.ProviderPaymentID != "T1" {
				t.Errorf("provider payment id = %s, want T1", result.ProviderPaymentID)
			}
		})
	}
}

func TestRedirectProviderVerifyPayment(t *testing.T) {
	tests := []struct {
		name       string
		respStatus string
		want       model.PaymentStatus
	}{
		{name: "done", respStatus: "done", want: model.PaymentStatusSucceeded},
		{name: "pending", respStatus: "pending", want: model.PaymentStatusPending},
		{name: "verifying", respStatus: "verifying", want: model.PaymentStatusPending},
		{name: "rejected", respStatus: "rejected", want: model.PaymentStatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/payments/S1" {
					t.Errorf("unexpected path: %s", r.URL.Path)
				}
				json.NewEncoder(w).Encode(redirectPaymentResponse{Status: tt.respStatus, PaymentID: "P1"})
			}))
			defer srv.Close()

			p := NewRedirectProvider(srv.URL)
			result, err := p.VerifyPayment(context.Background(), VerifyParams{SessionID: "S1"})
			if err != nil {
				t.Fatalf("verify: %v", err)
			}
			if result.Status != tt.want {
				t.Errorf("status = %s, want %s", result.Status, tt.want)
			}
			if result.ProviderPaymentID != "P1" {
				t.Errorf("provider payment id = %s, want P1", result.ProviderPaymentID)
			}
		})
	}
}

func TestWalletProviderVerifyPayment(t *testing.T) {
	tests := []struct {
		name      string
		respState string
		want      model.PaymentStatus
	}{
		{name: "completed", respState: "completed", want: model.PaymentStatusSucceeded},
		{name: "processing", respState: "processing", want: model.PaymentStatusPending},
		{name: "expired", respState: "expired", want: model.PaymentStatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/topups/W1" {
					t.Errorf("unexpected path: %s", r.URL.Path)
				}
				json.NewEncoder(w).Encode(walletTopupResponse{TopupID: "W1", State: tt.respState})
			}))
			defer srv.Close()

			p := NewWalletProvider(srv.URL)
			result, err := p.VerifyPayment(context.Background(), VerifyParams{PaymentID: "W1"})
			if err != nil {
				t.Fatalf("verify: %v", err)
			}
			if result.Status != tt.want {
				t.Errorf("status = %s, want %s", result.Status, tt.want)
			}
		})
	}
}

func TestVerifyPaymentServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewCardProvider(srv.URL)
	_, err := p.VerifyPayment(context.Background(), VerifyParams{Token: "tok"})
	if err == nil {
		t.Fatalf("expected error on 5xx")
	}
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("err = %v, want ErrProviderUnavailable", err)
	}
}

func TestVerifyPaymentConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	p := NewRedirectProvider(srv.URL)
	_, err := p.VerifyPayment(context.Background(), VerifyParams{SessionID: "S1"})
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("err = %v, want ErrProviderUnavailable", err)
	}
}

func TestRegistry(t *testing.T) {
	card := NewCardProvider("card.local")
	wallet := NewWalletProvider("wallet.local")
	r := NewRegistry(card, wallet)

	if got := r.Get("card"); got != card {
		t.Errorf("Get(card) returned wrong provider")
	}
	if got := r.Get("redirect"); got != nil {
		t.Errorf("Get(redirect) = %v, want nil", got)
	}
	if !r.IsAvailable("wallet") {
		t.Errorf("wallet must be available")
	}
	if r.IsAvailable("redirect") {
		t.Errorf("redirect must not be available")
	}

	names := r.Available()
	want := []string{"card", "wallet"}
	if len(names) != len(want) {
		t.Fatalf("available = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("available = %v, want %v", names, want)
		}
	}
}
