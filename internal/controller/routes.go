package controller

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/benbeisheim/chesssync-backend/internal/middleware"
	"github.com/benbeisheim/chesssync-backend/internal/service"
)

// SetupRoutes mounts the REST API under /api and the game websocket under /ws.
func SetupRoutes(app *fiber.App, gameService *service.GameService, allowedOrigins []string, logger *zap.Logger) {
	gameController := NewGameController(gameService, logger)
	wsController := NewWebSocketController(gameService, logger)

	// Set up WebSocket routes
	app.Use("/ws/*", middleware.EnsurePlayerID(logger))
	app.Get("/ws/game/:gameId",
		middleware.WebSocketUpgrade(gameService.GameExists, logger),
		websocket.New(wsController.HandleConnection, websocket.Config{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			Origins:         allowedOrigins,
		}))

	// Set up REST routes
	api := app.Group("/api", middleware.EnsurePlayerID(logger))
	api.Get("/positions", gameController.Positions)

	// Game routes
	gameRoutes := api.Group("/game")
	gameRoutes.Post("/create", gameController.CreateGame)
	gameRoutes.Post("/join/:gameId", gameController.JoinGame)
	gameRoutes.Get("/mine", gameController.MyGames)
	gameRoutes.Get("/open", gameController.OpenGames)
	gameRoutes.Get("/:gameId", gameController.GetGameState)
	gameRoutes.Get("/:gameId/legal", gameController.LegalMoves)
	gameRoutes.Post("/:gameId/move", gameController.MakeMove)
	gameRoutes.Post("/:gameId/promote", gameController.Promote)
	gameRoutes.Post("/:gameId/promote/cancel", gameController.CancelPromotion)
	gameRoutes.Post("/:gameId/retry", gameController.RetryWrite)
}
