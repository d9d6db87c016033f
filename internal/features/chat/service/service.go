package service

import (
	"context"
	"strings"

	"orchid-tracker/internal/core/logger"
	"orchid-tracker/internal/features/chat/ports"

	"go.uber.org/zap"
)

const (
	// unavailableReply is sent when no language-model backend is configured.
	unavailableReply = "I'm sorry, the support assistant is not available right now. " +
		"Please use the tracking page or contact Orchid Malaysia support directly."
	// errorReply is sent when the backend fails; the assistant never surfaces
	// raw errors to a customer.
	errorReply = "I'm sorry, I couldn't process that request. Please try again in a moment."

	maxTranscriptTurns = 20
)

// ChatService answers customer support questions. The completer may be nil
// when no API key is configured; the service then degrades to a fixed
// apology instead of failing.
type ChatService struct {
	completer ports.Completer
}

// NewChatService wires the service. A nil completer is allowed.
func NewChatService(completer ports.Completer) *ChatService {
	return &ChatService{completer: completer}
}

// Reply produces the assistant answer for one customer message. It never
// returns an error for backend problems; those collapse into an apology so
// the chat widget keeps working.
func (s *ChatService) Reply(ctx context.Context, transcript []ports.Message, message string) string {
	message = strings.TrimSpace(message)
	if message == "" {
		return errorReply
	}
	if s.completer == nil {
		return unavailableReply
	}

	if len(transcript) > maxTranscriptTurns {
		transcript = transcript[len(transcript)-maxTranscriptTurns:]
	}

	reply, err := s.completer.Complete(ctx, transcript, message)
	if err != nil {
		logger.Get().Warn("Chat completion failed", zap.Error(err))
		return errorReply
	}
	return reply
}
