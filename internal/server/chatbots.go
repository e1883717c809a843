package server

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ak-palla/saas-chatbot-sub001/internal/store"
)

type ChatbotsHandler struct {
	Store *store.Store
}

func (h *ChatbotsHandler) Register(g *echo.Group, secret []byte) {
	g.Use(func(next echo.HandlerFunc) echo.HandlerFunc { return withAuth(next, secret) })
	g.GET("", h.list)
	g.POST("", h.create)
	g.GET("/:id", h.get)
}

func (h *ChatbotsHandler) create(c echo.Context) error {
	userID := c.Get("user_id").(string)
	var req ChatbotCreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name required")
	}
	ragEnabled := true
	if req.RAGEnabled != nil {
		ragEnabled = *req.RAGEnabled
	}
	id, err := h.Store.CreateChatbot(c.Request().Context(), store.Chatbot{
		UserID:       userID,
		Name:         req.Name,
		SystemPrompt: req.SystemPrompt,
		Model:        req.Model,
		Temperature:  req.Temperature,
		RAGEnabled:   ragEnabled,
		Appearance:   req.Appearance,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, map[string]string{"id": id})
}

func (h *ChatbotsHandler) list(c echo.Context) error {
	userID := c.Get("user_id").(string)
	bots, err := h.Store.ListChatbots(c.Request().Context(), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]ChatbotResponse, len(bots))
	for i, b := range bots {
		out[i] = chatbotResponse(b)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *ChatbotsHandler) get(c echo.Context) error {
	bot, err := h.ownedChatbot(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, chatbotResponse(bot))
}

// ownedChatbot loads the chatbot from the path and enforces ownership.
func (h *ChatbotsHandler) ownedChatbot(c echo.Context) (store.Chatbot, error) {
	userID := c.Get("user_id").(string)
	bot, err := h.Store.GetChatbot(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Chatbot{}, echo.NewHTTPError(http.StatusNotFound, "chatbot not found")
		}
		return store.Chatbot{}, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if bot.UserID != userID {
		return store.Chatbot{}, echo.NewHTTPError(http.StatusNotFound, "chatbot not found")
	}
	return bot, nil
}

func chatbotResponse(b store.Chatbot) ChatbotResponse {
	return ChatbotResponse{
		ID:           b.ID,
		Name:         b.Name,
		SystemPrompt: b.SystemPrompt,
		Model:        b.Model,
		Temperature:  b.Temperature,
		RAGEnabled:   b.RAGEnabled,
		Appearance:   b.Appearance,
		CreatedAt:    b.CreatedAt,
	}
}
