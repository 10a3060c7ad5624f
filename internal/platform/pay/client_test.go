package pay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"suemybrother/internal/platform/config"
	"suemybrother/internal/platform/models"
)

const paymentJSON = `{
	"payment_id": "pid-1",
	"payment_provider": "sandbox",
	"amount": 100,
	"reference": "%s",
	"description": "I, Jane, wish to sue my brother",
	"created_date": "2016-01-21T17:15:00Z",
	"state": {"status": "%s", "finished": %t, "message": "%s"},
	"_links": {
		"self": {"href": "%s/v1/payments/pid-1", "method": "GET"},
		"next_url": {"href": "https://pay.example.com/secure/abc", "method": "GET"}
	}
}`

func TestResponse_ApplyTo(t *testing.T) {
	var r Response
	raw := `{"payment_provider":"sandbox","description":"desc","created_date":"2016-01-21T17:15:00Z",
		"state":{"status":"failed","finished":true,"message":"Payment was cancelled by the user"},
		"_links":{"self":{"href":"https://pay/v1/payments/x"},"next_url":{"href":"https://pay/next"}}}`
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		t.Fatal(err)
	}

	p := &models.Payment{}
	if err := r.ApplyTo(p); err != nil {
		t.Fatalf("ApplyTo failed: %v", err)
	}

	want := time.Date(2016, 1, 21, 17, 15, 0, 0, time.UTC).Unix()
	if p.Provider != "sandbox" || p.Status != "failed" || !p.Finished ||
		p.StatusMsg != "Payment was cancelled by the user" || p.Description != "desc" ||
		p.CreatedAt != want || p.SelfURL != "https://pay/v1/payments/x" || p.NextURL != "https://pay/next" {
		t.Errorf("ApplyTo did not mirror response: %+v", p)
	}
}

func TestClient_CreatePayment(t *testing.T) {
	var got createRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/payments" {
			t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Errorf("Missing bearer token")
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(sprintfPayment(got.Reference, "created", false, "", "http://pay")))
	}))
	defer srv.Close()

	c := NewClient(config.PayConfig{BaseURL: srv.URL, APIKey: "key"}, srv.Client())
	p, err := c.CreatePayment(context.Background(), 100, "desc", "https://app/confirm/u", "ref-1")
	if err != nil {
		t.Fatalf("CreatePayment failed: %v", err)
	}

	if got.Amount != 100 || got.Reference != "ref-1" || got.ReturnURL != "https://app/confirm/u" {
		t.Errorf("Unexpected request body: %+v", got)
	}
	if p.Reference != "ref-1" || p.Amount != 100 || p.NextURL != "https://pay.example.com/secure/abc" {
		t.Errorf("Unexpected payment: %+v", p)
	}
	if p.Finished {
		t.Error("New payment must not be finished")
	}
}

func TestClient_CreatePayment_Rejected(t *testing.T) {
	for _, status := range []int{400, 422, 500} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			w.Write([]byte(`{"code":"P0102","field":"amount","description":"Invalid attribute value: amount"}`))
		}))

		c := NewClient(config.PayConfig{BaseURL: srv.URL, APIKey: "key"}, srv.Client())
		_, err := c.CreatePayment(context.Background(), 100, "desc", "https://app", "")

		var ce *CreationError
		if !errors.As(err, &ce) {
			t.Errorf("status %d: expected CreationError, got %v", status, err)
		} else if ce.StatusCode != status || ce.Code != "P0102" || ce.Field != "amount" || ce.Error() != "Invalid attribute value: amount" {
			t.Errorf("status %d: unexpected error %+v", status, ce)
		}
		srv.Close()
	}
}

func TestClient_Status(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"auth failed", 401, ``, ErrAuthFailed},
		{"not found", 404, ``, ErrPaymentNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			c := NewClient(config.PayConfig{BaseURL: srv.URL, APIKey: "key"}, srv.Client())
			_, err := c.Status(context.Background(), srv.URL+"/v1/payments/x")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	t.Run("server error carries description", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(500)
			w.Write([]byte(`{"code":"P0198","description":"Downstream system error"}`))
		}))
		defer srv.Close()

		c := NewClient(config.PayConfig{BaseURL: srv.URL, APIKey: "key"}, srv.Client())
		_, err := c.Status(context.Background(), srv.URL+"/v1/payments/x")
		var pe *Error
		if !errors.As(err, &pe) || pe.Description != "Downstream system error" {
			t.Errorf("Expected pay.Error with description, got %v", err)
		}
	})

	t.Run("success", func(t *testing.T) {
		var srv *httptest.Server
		srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(sprintfPayment("ref-1", "success", true, "", srv.URL)))
		}))
		defer srv.Close()

		c := NewClient(config.PayConfig{BaseURL: srv.URL, APIKey: "key"}, srv.Client())
		r, err := c.Status(context.Background(), srv.URL+"/v1/payments/pid-1")
		if err != nil {
			t.Fatal(err)
		}
		p := &models.Payment{Status: "created"}
		r.ApplyStatus(p)
		if !p.Succeeded() {
			t.Errorf("Expected succeeded payment, got %+v", p)
		}
	})
}

func sprintfPayment(ref, status string, finished bool, msg, base string) string {
	return fmt.Sprintf(paymentJSON, ref, status, finished, msg, base)
}
