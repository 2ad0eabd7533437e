package routes

import (
	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/RathijitAich/HomeChatBack/internal/config"
	"github.com/RathijitAich/HomeChatBack/internal/handlers"
	"github.com/RathijitAich/HomeChatBack/internal/middleware"
	"github.com/RathijitAich/HomeChatBack/internal/services"
	"github.com/RathijitAich/HomeChatBack/internal/store"
	"github.com/RathijitAich/HomeChatBack/internal/stream"
	chatws "github.com/RathijitAich/HomeChatBack/internal/websocket"
)

// RegisterRoutes wires the store client, event stream, session hub, and chat
// service together and mounts the gateway surface. The returned stream client
// is owned by the caller and must be closed on shutdown.
func RegisterRoutes(app *fiber.App, cfg *config.Config) (*stream.Client, error) {
	storeClient := store.NewClient(cfg)

	hub := chatws.NewHub()
	chatService := services.NewChatService(storeClient, hub)
	hub.OnEmpty = chatService.CloseSession
	go hub.Run()

	streamClient := stream.NewClient(cfg, chatService.HandleIncoming)
	if err := streamClient.Connect(); err != nil {
		return nil, err
	}
	chatService.AttachStream(streamClient)

	chatHandler := handlers.NewChatHandler(chatService, hub)

	api := app.Group("/api/v1", middleware.SessionRequired())

	conversations := api.Group("/conversations")
	conversations.Get("", chatHandler.ListConversations)
	conversations.Get("/:partner/messages", chatHandler.GetMessages)
	conversations.Post("/:partner/messages", chatHandler.SendMessage)

	api.Get("/stream/status", chatHandler.StreamStatus)

	app.Use("/ws", chatHandler.WebSocketAuth)
	app.Get("/ws", websocket.New(chatHandler.HandleWebSocket))

	return streamClient, nil
}
