package middleware

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/benbeisheim/chesssync-backend/internal/store"
)

// GameLookup reports whether a game can be watched.
type GameLookup func(ctx context.Context, gameID string) error

// WebSocketUpgrade admits websocket upgrades for existing games from identified
// players. The game and player ids are copied to the wsGameID and wsPlayerID
// locals, which survive the upgrade.
func WebSocketUpgrade(lookup GameLookup, logger *zap.Logger) fiber.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}

		gameID := c.Params("gameId")
		if gameID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "game ID is required",
			})
		}
		// set by EnsurePlayerID
		playerID, _ := c.Locals("playerID").(string)
		if playerID == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "player ID is required",
			})
		}

		if err := lookup(c.UserContext(), gameID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
					"error": "game not found",
				})
			}
			logger.Error("game lookup failed", zap.String("game_id", gameID), zap.Error(err))
			return fiber.ErrInternalServerError
		}

		c.Locals("wsGameID", gameID)
		c.Locals("wsPlayerID", playerID)
		return c.Next()
	}
}
