package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"orchid-tracker/internal/features/chat/ports"
	"orchid-tracker/internal/features/chat/service"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubCompleter returns a fixed reply or error.
type stubCompleter struct {
	reply string
	err   error
}

func (s *stubCompleter) Complete(ctx context.Context, transcript []ports.Message, prompt string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.reply, nil
}

func newChatApp(completer ports.Completer) *fiber.App {
	h := NewChatHandler(service.NewChatService(completer))

	app := fiber.New()
	app.Post("/chat", h.Chat)
	return app
}

func TestChatHandler_Chat_Success(t *testing.T) {
	app := newChatApp(&stubCompleter{reply: "Your parcel is on its way."})

	body, _ := json.Marshal(ChatRequest{
		Message: "Where is my parcel?",
		History: []ports.Message{{Role: ports.RoleUser, Text: "Hi"}},
	})
	req := httptest.NewRequest("POST", "/chat", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var result ChatResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, "Your parcel is on its way.", result.Reply)
}

func TestChatHandler_Chat_BackendErrorStillReplies(t *testing.T) {
	app := newChatApp(&stubCompleter{err: errors.New("quota exceeded")})

	body, _ := json.Marshal(ChatRequest{Message: "hello"})
	req := httptest.NewRequest("POST", "/chat", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	// Backend failures degrade to an apology, never an error status.
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var result ChatResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Contains(t, result.Reply, "I'm sorry")
}

func TestChatHandler_Chat_NoBackendConfigured(t *testing.T) {
	app := newChatApp(nil)

	body, _ := json.Marshal(ChatRequest{Message: "hello"})
	req := httptest.NewRequest("POST", "/chat", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var result ChatResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Contains(t, result.Reply, "not available")
}

func TestChatHandler_Chat_BadRequests(t *testing.T) {
	app := newChatApp(&stubCompleter{reply: "ok"})

	t.Run("InvalidBody", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/chat", bytes.NewReader([]byte("not-json")))
		req.Header.Set("Content-Type", "application/json")

		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	})

	t.Run("EmptyMessage", func(t *testing.T) {
		body, _ := json.Marshal(ChatRequest{Message: "   "})
		req := httptest.NewRequest("POST", "/chat", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")

		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	})
}
