package handler

import (
	"strings"

	"orchid-tracker/internal/features/chat/ports"
	"orchid-tracker/internal/features/chat/service"

	"github.com/gofiber/fiber/v2"
)

// ChatHandler handles the customer support chat endpoint.
type ChatHandler struct {
	chatService *service.ChatService
}

// NewChatHandler creates a new ChatHandler.
func NewChatHandler(chatService *service.ChatService) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
	}
}

// ChatRequest is the request body for one chat turn.
type ChatRequest struct {
	// Message is the customer's new message.
	Message string `json:"message"`
	// History is the prior transcript, oldest first.
	History []ports.Message `json:"history"`
}

// ChatResponse carries the assistant reply.
type ChatResponse struct {
	Reply string `json:"reply"`
}

// Chat godoc
// @Summary Ask the support assistant
// @Description Sends one customer message with the conversation history and returns the assistant reply
// @Tags chat
// @Accept json
// @Produce json
// @Param request body ChatRequest true "Message and transcript"
// @Success 200 {object} ChatResponse
// @Failure 400 {object} map[string]string
// @Router /chat [post]
func (h *ChatHandler) Chat(c *fiber.Ctx) error {
	var req ChatRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	if strings.TrimSpace(req.Message) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "message is required",
		})
	}

	reply := h.chatService.Reply(c.Context(), req.History, req.Message)
	return c.JSON(ChatResponse{Reply: reply})
}
