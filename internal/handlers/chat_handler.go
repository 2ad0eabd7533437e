package handlers

import (
	"context"
	"errors"

	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/RathijitAich/HomeChatBack/internal/models"
	"github.com/RathijitAich/HomeChatBack/internal/services"
	chatws "github.com/RathijitAich/HomeChatBack/internal/websocket"
)

type chatApplicationService interface {
	OpenSession(email, role string) (*services.ChatSession, error)
	ListConversations(ctx context.Context, session *services.ChatSession) ([]models.ConversationSummary, error)
	SelectConversation(ctx context.Context, session *services.ChatSession, partnerEmail string) ([]models.Message, error)
	SendMessage(ctx context.Context, session *services.ChatSession, receiverEmail, content string) (*models.Message, bool, error)
	StreamStatus() string
}

type ChatHandler struct {
	service chatApplicationService
	hub     *chatws.Hub
}

type sendMessageRequest struct {
	MessageContent string `json:"messageContent"`
}

func NewChatHandler(service chatApplicationService, hub *chatws.Hub) *ChatHandler {
	return &ChatHandler{
		service: service,
		hub:     hub,
	}
}

func (h *ChatHandler) sessionFromLocals(c *fiber.Ctx) (*services.ChatSession, error) {
	email, _ := c.Locals("session_email").(string)
	role, _ := c.Locals("session_role").(string)
	return h.service.OpenSession(email, role)
}

func (h *ChatHandler) ListConversations(c *fiber.Ctx) error {
	session, err := h.sessionFromLocals(c)
	if err != nil {
		return mapChatError(c, err)
	}

	conversations, err := h.service.ListConversations(c.Context(), session)
	if err != nil {
		if errors.Is(err, services.ErrConversationsUnavailable) {
			// Transient and uncached: render an empty sidebar with a notice
			// instead of a blocking error.
			return c.JSON(fiber.Map{
				"conversations": []models.ConversationSummary{},
				"notice":        "Conversations temporarily unavailable",
			})
		}
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"conversations": conversations})
}

func (h *ChatHandler) GetMessages(c *fiber.Ctx) error {
	session, err := h.sessionFromLocals(c)
	if err != nil {
		return mapChatError(c, err)
	}

	partner := c.Params("partner")
	messages, err := h.service.SelectConversation(c.Context(), session, partner)
	if err != nil {
		if errors.Is(err, services.ErrHistoryUnavailable) {
			// Transient and uncached: the view stays usable with an empty
			// list and a notice rather than a blocking error.
			return c.JSON(fiber.Map{
				"messages": []models.Message{},
				"notice":   "Message history temporarily unavailable",
			})
		}
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"messages": messages})
}

func (h *ChatHandler) SendMessage(c *fiber.Ctx) error {
	session, err := h.sessionFromLocals(c)
	if err != nil {
		return mapChatError(c, err)
	}

	var req sendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	created, queued, err := h.service.SendMessage(c.Context(), session, c.Params("partner"), req.MessageContent)
	if err != nil {
		return mapChatError(c, err)
	}

	if queued {
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "queued"})
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"message": created})
}

func (h *ChatHandler) StreamStatus(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": h.service.StreamStatus()})
}

func (h *ChatHandler) WebSocketAuth(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{"error": "WebSocket upgrade required"})
	}

	c.Locals("session_email", c.Query("email"))
	c.Locals("session_role", c.Query("role"))
	return c.Next()
}

func (h *ChatHandler) HandleWebSocket(conn *websocket.Conn) {
	email, _ := conn.Locals("session_email").(string)
	role, _ := conn.Locals("session_role").(string)

	session, err := h.service.OpenSession(email, role)
	if err != nil {
		_ = conn.Close()
		return
	}

	client := chatws.NewClient(h.hub, conn, session.ID)
	h.hub.Register(client)
	go client.WritePump()
	client.ReadPump(h.service, session)
}

func mapChatError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	case errors.Is(err, services.ErrInvalidInput):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
	case errors.Is(err, services.ErrSendInFlight):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "A send is already in flight"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to process chat request"})
	}
}
