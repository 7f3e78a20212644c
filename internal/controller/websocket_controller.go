package controller

import (
	"context"
	"encoding/json"

	"github.com/gofiber/websocket/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/benbeisheim/chesssync-backend/internal/service"
	"github.com/benbeisheim/chesssync-backend/internal/ws"
)

type WebSocketController struct {
	gameService *service.GameService
	logger      *zap.Logger
}

func NewWebSocketController(gameService *service.GameService, logger *zap.Logger) *WebSocketController {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocketController{
		gameService: gameService,
		logger:      logger.Named("ws"),
	}
}

// HandleConnection is called when a new WebSocket connection is established
func (wsc *WebSocketController) HandleConnection(c *websocket.Conn) {
	gameID, _ := c.Locals("wsGameID").(string)
	playerID, _ := c.Locals("wsPlayerID").(string)
	logger := wsc.logger.With(zap.String("game_id", gameID), zap.String("player_id", playerID))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Register this connection with the game; it gets the current state right away
	conn, err := wsc.gameService.RegisterConnection(ctx, gameID, playerID, c)
	if err != nil {
		logger.Warn("failed to register connection", zap.Error(err))
		_ = c.WriteJSON(errorMessage(err))
		_ = c.Close()
		return
	}
	defer wsc.gameService.UnregisterConnection(gameID, conn)
	logger.Debug("connection established")

	// Start message handling loop
	for {
		messageType, message, err := c.ReadMessage()
		if err != nil {
			logger.Debug("read ended", zap.Error(err))
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var msg ws.Message
		if err := json.Unmarshal(message, &msg); err != nil {
			logger.Debug("parse error", zap.Error(err))
			_ = conn.WriteJSON(errorMessage(errors.New("malformed message")))
			continue
		}

		reply, err := wsc.handleMessage(ctx, gameID, playerID, msg)
		if err != nil {
			logger.Debug("message rejected", zap.String("type", string(msg.Type)), zap.Error(err))
			reply = errorMessage(err)
		}
		if reply == nil {
			continue
		}
		if err := conn.WriteJSON(reply); err != nil {
			logger.Debug("write failed", zap.Error(err))
			return
		}
	}
}

// handleMessage runs one client message. Moves answer through the gameState
// broadcast, so only legalMoves produces a direct reply.
func (wsc *WebSocketController) handleMessage(ctx context.Context, gameID, playerID string, msg ws.Message) (interface{}, error) {
	switch msg.Type {
	case ws.MessageTypeMove:
		var move ws.MovePayload
		if err := json.Unmarshal(msg.Payload, &move); err != nil {
			return nil, err
		}
		_, err := wsc.gameService.HandleMove(ctx, gameID, playerID, move.From, move.To)
		return nil, err

	case ws.MessageTypePromote:
		var promote ws.PromotePayload
		if err := json.Unmarshal(msg.Payload, &promote); err != nil {
			return nil, err
		}
		_, err := wsc.gameService.Promote(ctx, gameID, playerID, promote.Piece)
		return nil, err

	case ws.MessageTypeLegalMoves:
		var req ws.LegalMovesPayload
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			return nil, err
		}
		markers, err := wsc.gameService.LegalDestinations(ctx, gameID, req.From)
		if err != nil {
			return nil, err
		}
		return ws.NewMessage(ws.MessageTypeLegalMoves, ws.LegalMovesReply{From: req.From, Destinations: markers})

	default:
		return nil, errors.Errorf("unknown message type: %s", msg.Type)
	}
}

func errorMessage(err error) ws.Message {
	msg, _ := ws.NewMessage(ws.MessageTypeError, ws.ErrorPayload{Error: err.Error()})
	return msg
}
