package classify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jhalloran/mailsift/internal/mail"
)

func completionServer(t *testing.T, status int, body string, captured *chatRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if captured != nil {
			if err := json.NewDecoder(r.Body).Decode(captured); err != nil {
				t.Errorf("decode request: %v", err)
			}
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
}

func TestLLMClassifySendsChatPayload(t *testing.T) {
	var captured chatRequest
	srv := completionServer(t, http.StatusOK,
		`{"choices":[{"message":{"content":" Finance "}}]}`, &captured)
	defer srv.Close()

	c := NewLLMClient(srv.URL, "local-model", "")
	msg := mail.Message{
		Subject: "Invoice for March",
		From:    "Billing <billing@bank.com>",
		Date:    "Mon, 4 Mar 2024 09:00:00 +0000",
		Body:    "Please find attached",
	}
	text, err := c.Classify(context.Background(), msg, []string{"mybank.com is my bank"})
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if text != "Finance" {
		t.Fatalf("expected trimmed content, got %q", text)
	}

	if captured.Model != "local-model" {
		t.Fatalf("unexpected model: %q", captured.Model)
	}
	if captured.Temperature != 0.1 || captured.MaxTokens != 50 {
		t.Fatalf("unexpected sampling params: %+v", captured)
	}
	if len(captured.Messages) != 2 || captured.Messages[0].Role != "system" || captured.Messages[1].Role != "user" {
		t.Fatalf("unexpected message roles: %+v", captured.Messages)
	}
	if !strings.Contains(captured.Messages[0].Content, "mybank.com is my bank") {
		t.Fatalf("personal context missing from system prompt")
	}
	user := captured.Messages[1].Content
	for _, want := range []string{"Invoice for March", "billing@bank.com", "Please find attached"} {
		if !strings.Contains(user, want) {
			t.Fatalf("user prompt missing %q:\n%s", want, user)
		}
	}
}

func TestLLMClassifyExtractsBareAddress(t *testing.T) {
	var captured chatRequest
	srv := completionServer(t, http.StatusOK,
		`{"choices":[{"message":{"content":"Work"}}]}`, &captured)
	defer srv.Close()

	c := NewLLMClient(srv.URL, "", "")
	if _, err := c.Classify(context.Background(), mail.Message{From: "boss@corp.com"}, nil); err != nil {
		t.Fatalf("classify: %v", err)
	}
	if !strings.Contains(captured.Messages[1].Content, "From Email: boss@corp.com") {
		t.Fatalf("bare address not extracted:\n%s", captured.Messages[1].Content)
	}
}

func TestLLMClassifyNonSuccessStatus(t *testing.T) {
	srv := completionServer(t, http.StatusInternalServerError, `oops`, nil)
	defer srv.Close()

	c := NewLLMClient(srv.URL, "", "")
	_, err := c.Classify(context.Background(), mail.Message{}, nil)
	if err == nil || errors.Is(err, ErrMalformed) {
		t.Fatalf("expected transport-style error, got %v", err)
	}
}

func TestLLMClassifyEmptyChoicesIsMalformed(t *testing.T) {
	srv := completionServer(t, http.StatusOK, `{"choices":[]}`, nil)
	defer srv.Close()

	c := NewLLMClient(srv.URL, "", "")
	_, err := c.Classify(context.Background(), mail.Message{}, nil)
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestLLMClassifyUnreachableEndpoint(t *testing.T) {
	c := NewLLMClient("http://127.0.0.1:1/v1/chat/completions", "", "")
	_, err := c.Classify(context.Background(), mail.Message{}, nil)
	if err == nil || errors.Is(err, ErrMalformed) {
		t.Fatalf("expected connection error, got %v", err)
	}
}
