package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/bondsphere/backend/internal/middleware"
)

// Router holds all handlers and creates the chi router
type Router struct {
	Notifications *NotificationHandler
	Preferences   *PreferenceHandler
	Email         *EmailHandler
	Digests       *DigestHandler
	Chat          *ChatHandler
	Realtime      *RealtimeHandler
	Health        *HealthHandler
	Metrics       http.Handler

	Auth           middleware.TokenValidator
	AllowedOrigins []string
	Logger         *zap.Logger
}

func (rt *Router) Setup() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RecoveryMiddleware(rt.Logger))
	r.Use(middleware.LoggingMiddleware(rt.Logger))
	r.Use(middleware.CORSMiddleware(rt.AllowedOrigins))

	r.Route("/health", func(r chi.Router) {
		r.Get("/", rt.Health.Health)
		r.Get("/ready", rt.Health.Ready)
		r.Get("/live", rt.Health.Live)
	})
	if rt.Metrics != nil {
		r.Handle("/internal/metrics", rt.Metrics)
	}

	authenticated := middleware.AuthMiddleware(rt.Auth)

	r.With(authenticated).Get("/ws", rt.Realtime.Connect)

	r.Route("/api/v1", func(r chi.Router) {
		// provider callbacks authenticate by signature
		r.Post("/email/webhook", rt.Email.Webhook)

		r.Group(func(r chi.Router) {
			r.Use(authenticated)

			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", rt.Notifications.List)
				r.Delete("/", rt.Notifications.DeleteAll)
				r.Get("/unread", rt.Notifications.Unread)
				r.Get("/unread-count", rt.Notifications.UnreadCount)
				r.Get("/type/{type}", rt.Notifications.ByType)
				r.Put("/read-all", rt.Notifications.MarkAllRead)
				r.Post("/devices", rt.Notifications.RegisterDevice)
				r.Put("/{id}/read", rt.Notifications.MarkRead)
				r.Put("/{id}/action", rt.Notifications.MarkActionTaken)
				r.Delete("/{id}", rt.Notifications.Delete)
			})

			r.Route("/preferences/email", func(r chi.Router) {
				r.Get("/", rt.Preferences.Get)
				r.Put("/", rt.Preferences.Update)
				r.Post("/unsubscribe-all", rt.Preferences.UnsubscribeAll)
				r.Post("/resubscribe-all", rt.Preferences.ResubscribeAll)
			})

			r.Get("/digests/preview", rt.Digests.Preview)

			r.Get("/messages/{userId}", rt.Chat.GetConversation)
			r.Post("/messages/{userId}", rt.Chat.SendMessage)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAdmin)

				r.Get("/email/metrics", rt.Email.Metrics)
				r.Get("/email/queue/status", rt.Email.QueueStatus)
				r.Post("/email/queue/cleanup", rt.Email.QueueCleanup)

				r.Route("/admin", func(r chi.Router) {
					r.Post("/notifications", rt.Notifications.Create)
					r.Get("/notifications/{id}/attempts", rt.Notifications.Attempts)
					r.Post("/digests/{period}/send", rt.Digests.Send)
					r.Post("/email/send", rt.Email.Send)
				})
			})
		})
	})

	return r
}
