package server

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ak-palla/saas-chatbot-sub001/internal/ingest"
	"github.com/ak-palla/saas-chatbot-sub001/internal/retrieval"
	"github.com/ak-palla/saas-chatbot-sub001/internal/store"
)

// maxUploadBytes bounds one document upload.
const maxUploadBytes = 20 << 20

// ingestTimeout bounds background processing of one document.
const ingestTimeout = 5 * time.Minute

// DocumentProcessor ingests one uploaded document; tests stub it.
type DocumentProcessor interface {
	Process(ctx context.Context, doc store.Document) error
}

type DocumentsHandler struct {
	Store    *store.Store
	Ingestor DocumentProcessor
	Keyword  *retrieval.KeywordIndex
	Bots     *ChatbotsHandler
}

func (h *DocumentsHandler) Register(g *echo.Group, secret []byte) {
	g.Use(func(next echo.HandlerFunc) echo.HandlerFunc { return withAuth(next, secret) })
	g.GET("/:id/documents", h.list)
	g.POST("/:id/documents", h.upload)
	g.DELETE("/:id/documents/:doc_id", h.remove)
	g.POST("/:id/documents/:doc_id/reprocess", h.reprocess)
}

func (h *DocumentsHandler) upload(c echo.Context) error {
	bot, err := h.Bots.ownedChatbot(c)
	if err != nil {
		return err
	}

	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file field required")
	}
	if fh.Size > maxUploadBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "file too large")
	}
	f, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxUploadBytes+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if int64(len(data)) > maxUploadBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "file too large")
	}

	contentType := fh.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain"
	}
	text, err := ingest.NormalizeUpload(contentType, data)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	// Hash the raw bytes, not the normalized text, so re-uploads of the
	// same file dedupe regardless of normalizer changes.
	sum := sha256.Sum256(data)
	doc, err := h.Store.CreateDocument(c.Request().Context(), store.Document{
		ChatbotID:   bot.ID,
		Filename:    fh.Filename,
		ContentType: contentType,
		SizeBytes:   int64(len(data)),
		ContentHash: hex.EncodeToString(sum[:]),
		Content:     text,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if doc.Processed {
		// Duplicate upload; nothing to ingest.
		return c.JSON(http.StatusOK, documentResponse(doc))
	}

	go h.ingestAsync(doc)
	return c.JSON(http.StatusAccepted, documentResponse(doc))
}

func (h *DocumentsHandler) ingestAsync(doc store.Document) {
	ctx, cancel := context.WithTimeout(context.Background(), ingestTimeout)
	defer cancel()
	if err := h.Ingestor.Process(ctx, doc); err != nil {
		log.Printf("[server] ingesting document %s failed: %v", doc.ID, err)
	}
}

func (h *DocumentsHandler) list(c echo.Context) error {
	bot, err := h.Bots.ownedChatbot(c)
	if err != nil {
		return err
	}
	docs, err := h.Store.ListDocuments(c.Request().Context(), bot.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]DocumentResponse, len(docs))
	for i, d := range docs {
		out[i] = documentResponse(d)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *DocumentsHandler) remove(c echo.Context) error {
	bot, err := h.Bots.ownedChatbot(c)
	if err != nil {
		return err
	}
	doc, err := h.ownedDocument(c, bot)
	if err != nil {
		return err
	}
	if err := h.Store.DeleteDocument(c.Request().Context(), doc.ID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if h.Keyword != nil {
		if err := h.Keyword.RemoveDocument(bot.ID, doc.ID); err != nil {
			log.Printf("[server] dropping document %s from keyword index failed: %v", doc.ID, err)
		}
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *DocumentsHandler) reprocess(c echo.Context) error {
	bot, err := h.Bots.ownedChatbot(c)
	if err != nil {
		return err
	}
	doc, err := h.ownedDocument(c, bot)
	if err != nil {
		return err
	}
	if err := h.Store.MarkDocumentProcessed(c.Request().Context(), doc.ID, false, doc.Metadata); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	go h.ingestAsync(doc)
	return c.NoContent(http.StatusAccepted)
}

func (h *DocumentsHandler) ownedDocument(c echo.Context, bot store.Chatbot) (store.Document, error) {
	doc, err := h.Store.GetDocument(c.Request().Context(), c.Param("doc_id"))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Document{}, echo.NewHTTPError(http.StatusNotFound, "document not found")
		}
		return store.Document{}, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if doc.ChatbotID != bot.ID {
		return store.Document{}, echo.NewHTTPError(http.StatusNotFound, "document not found")
	}
	return doc, nil
}

func documentResponse(d store.Document) DocumentResponse {
	return DocumentResponse{
		ID:          d.ID,
		Filename:    d.Filename,
		ContentType: d.ContentType,
		SizeBytes:   d.SizeBytes,
		Processed:   d.Processed,
		Metadata:    d.Metadata,
		CreatedAt:   d.CreatedAt,
	}
}
