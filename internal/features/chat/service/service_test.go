package service

import (
	"context"
	"errors"
	"testing"

	"orchid-tracker/internal/features/chat/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockCompleter is a mock implementation of ports.Completer
type MockCompleter struct {
	mock.Mock
}

func (m *MockCompleter) Complete(ctx context.Context, transcript []ports.Message, prompt string) (string, error) {
	args := m.Called(ctx, transcript, prompt)
	return args.String(0), args.Error(1)
}

func TestChatService_Reply(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		mockCompleter := new(MockCompleter)
		service := NewChatService(mockCompleter)

		transcript := []ports.Message{{Role: ports.RoleUser, Text: "Hi"}}
		mockCompleter.On("Complete", ctx, transcript, "Where is my parcel?").
			Return("Please enter your tracking number on the tracking page.", nil).Once()

		reply := service.Reply(ctx, transcript, "Where is my parcel?")
		assert.Equal(t, "Please enter your tracking number on the tracking page.", reply)
		mockCompleter.AssertExpectations(t)
	})

	t.Run("BackendErrorBecomesApology", func(t *testing.T) {
		mockCompleter := new(MockCompleter)
		service := NewChatService(mockCompleter)

		mockCompleter.On("Complete", ctx, mock.Anything, "hello").
			Return("", errors.New("quota exceeded")).Once()

		reply := service.Reply(ctx, nil, "hello")
		assert.Equal(t, errorReply, reply)
	})

	t.Run("NoBackendConfigured", func(t *testing.T) {
		service := NewChatService(nil)

		reply := service.Reply(ctx, nil, "hello")
		assert.Equal(t, unavailableReply, reply)
	})

	t.Run("EmptyMessage", func(t *testing.T) {
		mockCompleter := new(MockCompleter)
		service := NewChatService(mockCompleter)

		reply := service.Reply(ctx, nil, "   ")
		assert.Equal(t, errorReply, reply)
		mockCompleter.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("LongTranscriptTrimmed", func(t *testing.T) {
		mockCompleter := new(MockCompleter)
		service := NewChatService(mockCompleter)

		transcript := make([]ports.Message, 30)
		for i := range transcript {
			transcript[i] = ports.Message{Role: ports.RoleUser, Text: "turn"}
		}

		mockCompleter.On("Complete", ctx, mock.MatchedBy(func(msgs []ports.Message) bool {
			return len(msgs) == maxTranscriptTurns
		}), "hello").Return("ok", nil).Once()

		reply := service.Reply(ctx, transcript, "hello")
		assert.Equal(t, "ok", reply)
		mockCompleter.AssertExpectations(t)
	})
}
