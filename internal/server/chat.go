package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ak-palla/saas-chatbot-sub001/internal/chat"
	"github.com/ak-palla/saas-chatbot-sub001/internal/retrieval"
)

// TurnRunner is the engine surface the handler needs; tests stub it.
type TurnRunner interface {
	RunTurn(ctx context.Context, req chat.TurnRequest) (<-chan chat.Event, error)
}

type ChatHandler struct {
	Engine TurnRunner
	Bots   *ChatbotsHandler
}

func (h *ChatHandler) Register(g *echo.Group, secret []byte) {
	g.Use(func(next echo.HandlerFunc) echo.HandlerFunc { return withAuth(next, secret) })
	g.POST("/:id/chat", h.chat)
}

func (h *ChatHandler) chat(c echo.Context) error {
	bot, err := h.Bots.ownedChatbot(c)
	if err != nil {
		return err
	}
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Message == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message required")
	}
	useRAG := true
	if req.UseRAG != nil {
		useRAG = *req.UseRAG
	}

	events, err := h.Engine.RunTurn(c.Request().Context(), chat.TurnRequest{
		Bot:            bot,
		ConversationID: req.ConversationID,
		SessionID:      req.SessionID,
		UserID:         c.Get("user_id").(string),
		Message:        req.Message,
		UseRAG:         useRAG,
		Endpoint:       c.Path(),
	})
	if err != nil {
		if errors.Is(err, chat.ErrBudgetExceeded) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}

	if req.Stream {
		return h.stream(c, events)
	}
	return h.drain(c, events)
}

// drain collects the whole turn and answers with one JSON document.
func (h *ChatHandler) drain(c echo.Context, events <-chan chat.Event) error {
	var done *chat.Event
	for ev := range events {
		if ev.Err != nil {
			return echo.NewHTTPError(http.StatusBadGateway, ev.Err.Error())
		}
		if ev.Done {
			d := ev
			done = &d
		}
	}
	if done == nil {
		return echo.NewHTTPError(http.StatusBadGateway, "turn produced no result")
	}
	return c.JSON(http.StatusOK, ChatResponse{
		ConversationID: done.ConversationID,
		MessageID:      done.MessageID,
		Answer:         done.Answer,
		Sources:        chatSources(done.Sources),
		Usage: UsageBlock{
			PromptTokens:     done.Usage.PromptTokens,
			CompletionTokens: done.Usage.CompletionTokens,
			Cost:             done.Cost,
			Estimated:        done.Usage.Estimated,
		},
	})
}

// stream relays the turn as Server-Sent Events: zero or more "delta" frames,
// then exactly one "done" or "error" frame.
func (h *ChatHandler) stream(c echo.Context, events <-chan chat.Event) error {
	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)
	flusher, ok := resp.Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "streaming unsupported")
	}

	send := func(event string, payload interface{}) error {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if _, err := resp.Write([]byte("event: " + event + "\n")); err != nil {
			return err
		}
		if _, err := resp.Write([]byte("data: " + string(data) + "\n\n")); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	for ev := range events {
		switch {
		case ev.Err != nil:
			_ = send("error", HTTPError{Error: ev.Err.Error()})
			return nil
		case ev.Done:
			_ = send("done", streamDone{
				ConversationID: ev.ConversationID,
				MessageID:      ev.MessageID,
				Sources:        chatSources(ev.Sources),
				Usage: UsageBlock{
					PromptTokens:     ev.Usage.PromptTokens,
					CompletionTokens: ev.Usage.CompletionTokens,
					Cost:             ev.Cost,
					Estimated:        ev.Usage.Estimated,
				},
			})
			return nil
		default:
			if err := send("delta", streamDelta{Text: ev.Delta}); err != nil {
				// Client went away; the request context cancellation stops
				// the engine. Drain so the turn can finish persisting.
				for range events {
				}
				return nil
			}
		}
	}
	return nil
}

func chatSources(snippets []retrieval.Snippet) []ChatSource {
	if len(snippets) == 0 {
		return nil
	}
	out := make([]ChatSource, len(snippets))
	for i, s := range snippets {
		out[i] = ChatSource{
			ChunkID:    s.ChunkID,
			DocumentID: s.DocumentID,
			Filename:   s.Filename,
			Similarity: s.Similarity,
			Keyword:    s.Keyword,
		}
	}
	return out
}
