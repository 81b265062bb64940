package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/livechat-service/internal/api/http/handlers"
	"github.com/spec-kit/livechat-service/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Conversations  *handlers.ConversationsHandler
	Tickets        *handlers.TicketsHandler
	Rooms          *handlers.RoomsHandler
	Notifications  *handlers.NotificationsHandler
	Images         *handlers.ImagesHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	api := app.Group("/api", cfg.AuthMiddleware.Handle, auth.RequireAnyRole())

	conversations := api.Group("/conversations")
	conversations.Get("", cfg.Conversations.List)
	conversations.Get("/:id", cfg.Conversations.Get)
	conversations.Get("/:id/messages", cfg.Conversations.Messages)
	conversations.Post("/:id/read", cfg.Conversations.MarkRead)
	conversations.Patch("/:id/status", auth.RequireOperator(), cfg.Conversations.UpdateStatus)
	conversations.Post("/:id/assign", auth.RequireOperator(), cfg.Conversations.Assign)
	conversations.Post("/:id/actions", auth.RequireOperator(), cfg.Conversations.ExecuteAction)

	api.Patch("/notes/:id", auth.RequireOperator(), cfg.Conversations.EditNote)

	tickets := api.Group("/tickets")
	tickets.Patch("/:id", auth.RequireOperator(), cfg.Tickets.UpdateTicket)
	tickets.Get("/:id/history", cfg.Tickets.History)

	rooms := api.Group("/rooms", auth.RequireOperator())
	rooms.Get("", cfg.Rooms.List)
	rooms.Get("/general", cfg.Rooms.General)
	rooms.Post("", cfg.Rooms.Create)
	rooms.Put("/:id/participants", cfg.Rooms.UpdateParticipants)
	rooms.Post("/:id/read", cfg.Rooms.MarkRead)
	rooms.Get("/:id/messages", cfg.Rooms.Messages)

	notifications := api.Group("/notifications")
	notifications.Get("", cfg.Notifications.List)
	notifications.Get("/unread", cfg.Notifications.Unread)
	notifications.Get("/unread/count", cfg.Notifications.UnreadCount)
	notifications.Patch("/read", cfg.Notifications.MarkManyRead)
	notifications.Patch("/conversations/:conversationId/read", cfg.Notifications.MarkConversationRead)
	notifications.Patch("/:id/read", cfg.Notifications.MarkRead)
	notifications.Delete("/read", cfg.Notifications.DeleteRead)
	notifications.Delete("/:id", cfg.Notifications.Delete)

	images := api.Group("/images")
	images.Post("", cfg.Images.Upload)
	images.Get("/:id", cfg.Images.Get)
}
