package notify

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestTwilioClient_SendSMS(t *testing.T) {
	var gotPath, gotTo, gotFrom, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm() error = %v", err)
		}
		gotTo = r.PostFormValue("To")
		gotFrom = r.PostFormValue("From")
		gotBody = r.PostFormValue("Body")

		user, pass, ok := r.BasicAuth()
		if !ok || user != "AC123" || pass != "token" {
			t.Errorf("basic auth = (%q, %q, %v), want account credentials", user, pass, ok)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := NewTwilioClient("AC123", "token", "+15005550006")
	client.baseURL = server.URL

	err := client.SendSMS(context.Background(), "+12025550123", "Your code is 482913")
	if err != nil {
		t.Fatalf("SendSMS() error = %v", err)
	}
	if want := "/Accounts/AC123/Messages.json"; gotPath != want {
		t.Errorf("path = %q, want %q", gotPath, want)
	}
	if gotTo != "+12025550123" || gotFrom != "+15005550006" {
		t.Errorf("To/From = %q/%q", gotTo, gotFrom)
	}
	if !strings.Contains(gotBody, "482913") {
		t.Errorf("body = %q, want code included", gotBody)
	}
}

func TestTwilioClient_SendSMS_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code": 21211, "message": "Invalid 'To' Phone Number"}`))
	}))
	defer server.Close()

	client := NewTwilioClient("AC123", "token", "+15005550006")
	client.baseURL = server.URL

	err := client.SendSMS(context.Background(), "not-a-number", "hi")
	if !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("SendSMS() error = %v, want ErrDeliveryFailed", err)
	}
	if !strings.Contains(err.Error(), "21211") {
		t.Errorf("error %q should carry the provider response excerpt", err)
	}
}

func TestSendGridClient_SendEmail(t *testing.T) {
	var gotAuth, gotRaw string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		gotRaw = string(raw)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	client := NewSendGridClient("SG.key", "security@example.com", "Security")
	client.sendURL = server.URL

	err := client.SendEmail(context.Background(), "user@example.com", "Verification code", "Your code is 482913")
	if err != nil {
		t.Fatalf("SendEmail() error = %v", err)
	}
	if gotAuth != "Bearer SG.key" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	for _, want := range []string{"user@example.com", "Verification code", "482913", "text/plain"} {
		if !strings.Contains(gotRaw, want) {
			t.Errorf("payload %q missing %q", gotRaw, want)
		}
	}
}

func TestSendGridClient_SendEmail_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"errors":[{"message":"The provided authorization grant is invalid"}]}`))
	}))
	defer server.Close()

	client := NewSendGridClient("bad-key", "security@example.com", "Security")
	client.sendURL = server.URL

	err := client.SendEmail(context.Background(), "user@example.com", "s", "b")
	if !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("SendEmail() error = %v, want ErrDeliveryFailed", err)
	}
}
