package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"

	"github.com/ak-palla/saas-chatbot-sub001/internal/store"
)

func TestConversationMessages(t *testing.T) {
	e := echo.New()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	getConv := regexp.QuoteMeta(`
SELECT id, chatbot_id, session_id, created_at, updated_at FROM conversations WHERE id=$1
`)
	now := time.Now()
	mock.ExpectQuery(getConv).WithArgs("conv-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "chatbot_id", "session_id", "created_at", "updated_at"}).
			AddRow("conv-1", "bot-1", "sess-1", now, now))
	expectGetChatbot(mock, "bot-1", "user-1")
	listAll := regexp.QuoteMeta(`
SELECT id, conversation_id, seq, role, content, complete, metadata, created_at
FROM messages WHERE conversation_id=$1 ORDER BY seq
`)
	rows := sqlmock.NewRows([]string{"id", "conversation_id", "seq", "role", "content", "complete", "metadata", "created_at"}).
		AddRow("m1", "conv-1", int64(1), "user", "hi", true, []byte(`{}`), now).
		AddRow("m2", "conv-1", int64(2), "assistant", "hello", true, []byte(`{}`), now)
	mock.ExpectQuery(listAll).WithArgs("conv-1").WillReturnRows(rows)

	handler := &ConversationsHandler{Store: &store.Store{DB: db}}

	req := httptest.NewRequest(http.MethodGet, "/api/conversations/conv-1/messages", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.Set("user_id", "user-1")
	ctx.SetParamNames("id")
	ctx.SetParamValues("conv-1")

	if err := handler.messages(ctx); err != nil {
		t.Fatalf("messages: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var out []MessageResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 2 || out[0].Seq != 1 || out[1].Role != "assistant" {
		t.Fatalf("unexpected messages: %+v", out)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestConversationMessagesForeignOwner(t *testing.T) {
	e := echo.New()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	getConv := regexp.QuoteMeta(`
SELECT id, chatbot_id, session_id, created_at, updated_at FROM conversations WHERE id=$1
`)
	now := time.Now()
	mock.ExpectQuery(getConv).WithArgs("conv-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "chatbot_id", "session_id", "created_at", "updated_at"}).
			AddRow("conv-1", "bot-1", "sess-1", now, now))
	expectGetChatbot(mock, "bot-1", "someone-else")

	handler := &ConversationsHandler{Store: &store.Store{DB: db}}

	req := httptest.NewRequest(http.MethodGet, "/api/conversations/conv-1/messages", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.Set("user_id", "user-1")
	ctx.SetParamNames("id")
	ctx.SetParamValues("conv-1")

	err = handler.messages(ctx)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
}
