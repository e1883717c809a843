package server

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/ak-palla/saas-chatbot-sub001/internal/store"
)

type ConversationsHandler struct {
	Store *store.Store
}

func (h *ConversationsHandler) Register(g *echo.Group, secret []byte) {
	g.Use(func(next echo.HandlerFunc) echo.HandlerFunc { return withAuth(next, secret) })
	g.GET("/:id/messages", h.messages)
}

func (h *ConversationsHandler) messages(c echo.Context) error {
	userID := c.Get("user_id").(string)
	conv, err := h.Store.GetConversation(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	bot, err := h.Store.GetChatbot(c.Request().Context(), conv.ChatbotID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if bot.UserID != userID {
		return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
	}

	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	msgs, err := h.Store.ListMessages(c.Request().Context(), conv.ID, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]MessageResponse, len(msgs))
	for i, m := range msgs {
		out[i] = MessageResponse{
			ID:        m.ID,
			Seq:       m.Seq,
			Role:      m.Role,
			Content:   m.Content,
			Complete:  m.Complete,
			CreatedAt: m.CreatedAt,
		}
	}
	return c.JSON(http.StatusOK, out)
}
