package controller

import (
	"github.com/gofiber/fiber/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/benbeisheim/chesssync-backend/internal/model"
	"github.com/benbeisheim/chesssync-backend/internal/service"
	"github.com/benbeisheim/chesssync-backend/internal/store"
	"github.com/benbeisheim/chesssync-backend/internal/ws"
)

type GameController struct {
	gameService *service.GameService
	logger      *zap.Logger
}

func NewGameController(gameService *service.GameService, logger *zap.Logger) *GameController {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GameController{gameService: gameService, logger: logger.Named("http")}
}

// errorStatus maps service and model errors onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, service.ErrNotInGame):
		return fiber.StatusForbidden
	case errors.Is(err, service.ErrSeatTaken),
		errors.Is(err, service.ErrNotYourTurn),
		errors.Is(err, service.ErrGameOver),
		errors.Is(err, service.ErrPromotionPending),
		errors.Is(err, model.ErrNoPendingPromotion):
		return fiber.StatusConflict
	case errors.Is(err, service.ErrIllegalMove):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, service.ErrUnknownPosition),
		errors.Is(err, model.ErrInvalidSquare),
		errors.Is(err, model.ErrInvalidPromotion):
		return fiber.StatusBadRequest
	}
	return fiber.StatusInternalServerError
}

func (gc *GameController) fail(c *fiber.Ctx, err error) error {
	status := errorStatus(err)
	msg := err.Error()
	if status == fiber.StatusInternalServerError {
		gc.logger.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
		msg = "internal error"
	}
	return c.Status(status).JSON(fiber.Map{
		"error": msg,
	})
}

func playerID(c *fiber.Ctx) string {
	id, _ := c.Locals("playerID").(string)
	return id
}

func (gc *GameController) CreateGame(c *fiber.Ctx) error {
	var req service.CreateGameRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid request body",
			})
		}
	}
	// a bad color or turn is reported as malformed state
	r, err := gc.gameService.CreateGame(c.UserContext(), playerID(c), req)
	if errors.Is(err, model.ErrMalformedState) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if err != nil {
		return gc.fail(c, err)
	}
	return c.JSON(fiber.Map{
		"message": "Game created",
		"game_id": r.ID,
	})
}

func (gc *GameController) JoinGame(c *fiber.Ctx) error {
	gameID := c.Params("gameId")
	var req struct {
		Name string `json:"name"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid request body",
			})
		}
	}

	color, err := gc.gameService.JoinGame(c.UserContext(), gameID, playerID(c), req.Name)
	if err != nil {
		return gc.fail(c, err)
	}
	return c.JSON(fiber.Map{
		"message": "Game joined",
		"color":   color.String(),
	})
}

func (gc *GameController) MyGames(c *fiber.Ctx) error {
	games, err := gc.gameService.MyGames(c.UserContext(), playerID(c))
	if err != nil {
		return gc.fail(c, err)
	}
	return c.JSON(fiber.Map{"games": games})
}

func (gc *GameController) OpenGames(c *fiber.Ctx) error {
	games, err := gc.gameService.OpenGames(c.UserContext(), playerID(c))
	if err != nil {
		return gc.fail(c, err)
	}
	return c.JSON(fiber.Map{"games": games})
}

func (gc *GameController) GetGameState(c *fiber.Ctx) error {
	view, err := gc.gameService.GetGame(c.UserContext(), c.Params("gameId"), playerID(c))
	if err != nil {
		return gc.fail(c, err)
	}
	return c.JSON(view)
}

func (gc *GameController) LegalMoves(c *fiber.Ctx) error {
	from := c.Query("from")
	markers, err := gc.gameService.LegalDestinations(c.UserContext(), c.Params("gameId"), from)
	if err != nil {
		return gc.fail(c, err)
	}
	return c.JSON(ws.LegalMovesReply{From: from, Destinations: markers})
}

func (gc *GameController) MakeMove(c *fiber.Ctx) error {
	var req ws.MovePayload
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	res, err := gc.gameService.HandleMove(c.UserContext(), c.Params("gameId"), playerID(c), req.From, req.To)
	if err != nil {
		return gc.fail(c, err)
	}
	return c.JSON(res)
}

func (gc *GameController) Promote(c *fiber.Ctx) error {
	var req ws.PromotePayload
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	res, err := gc.gameService.Promote(c.UserContext(), c.Params("gameId"), playerID(c), req.Piece)
	if err != nil {
		return gc.fail(c, err)
	}
	return c.JSON(res)
}

func (gc *GameController) CancelPromotion(c *fiber.Ctx) error {
	if err := gc.gameService.CancelPromotion(c.UserContext(), c.Params("gameId"), playerID(c)); err != nil {
		return gc.fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "cancelled"})
}

// RetryWrite re-attempts a move write the store rejected.
func (gc *GameController) RetryWrite(c *fiber.Ctx) error {
	ok, err := gc.gameService.RetryPending(c.UserContext(), c.Params("gameId"), playerID(c))
	if err != nil {
		return gc.fail(c, err)
	}
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "nothing to retry",
		})
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "retrying"})
}

func (gc *GameController) Positions(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"positions": gc.gameService.Positions()})
}
