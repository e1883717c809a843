package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// Store wraps the Postgres connection. Chunk embeddings live in pgvector
// columns; similarity queries use the cosine distance operator.
type Store struct {
	DB *sql.DB
}

// DefaultEmbeddingDimensions indicates the expected length of vectors stored
// in the document_chunks embedding column.
const DefaultEmbeddingDimensions = 1536

// Chatbot carries the per-bot configuration read at the start of every turn.
// Appearance is free-form JSON owned by the widget layer; it is stored and
// returned opaquely, never interpreted here.
type Chatbot struct {
	ID           string
	UserID       string
	Name         string
	SystemPrompt string
	Model        string
	Temperature  float64
	RAGEnabled   bool
	Appearance   json.RawMessage
	CreatedAt    time.Time
}

// Document is an uploaded knowledge-base source. Content is immutable once
// processed; a re-upload with different bytes creates a new Document.
type Document struct {
	ID          string
	ChatbotID   string
	Filename    string
	ContentType string
	SizeBytes   int64
	ContentHash string
	Content     string
	Processed   bool
	Metadata    map[string]interface{}
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ChunkRecord is one embedded slice of a document.
type ChunkRecord struct {
	ID         string
	DocumentID string
	ChunkIndex int
	Content    string
	Vector     []float32
	Metadata   map[string]interface{}
	CreatedAt  time.Time
}

// ChunkSearchResult is a similarity hit scoped to one chatbot's documents.
type ChunkSearchResult struct {
	ChunkID    string
	DocumentID string
	ChunkIndex int
	Content    string
	Filename   string
	Distance   float64
	Similarity float64
	Metadata   map[string]interface{}
	CreatedAt  time.Time
}

// Conversation groups an append-only message sequence for one chatbot.
type Conversation struct {
	ID        string
	ChatbotID string
	SessionID string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is one turn in a conversation. Seq is assigned by the database and
// strictly increases within a conversation; rows are never updated or deleted.
type Message struct {
	ID             string
	ConversationID string
	Seq            int64
	Role           string
	Content        string
	Complete       bool
	Metadata       map[string]interface{}
	CreatedAt      time.Time
}

// UsageRecord is one append-only ledger entry for billing.
type UsageRecord struct {
	ID               string
	UserID           string
	ChatbotID        string
	ConversationID   string
	Kind             string
	PromptTokens     int64
	CompletionTokens int64
	Cost             float64
	Endpoint         string
	Estimated        bool
	CreatedAt        time.Time
}

func New(ctx context.Context) (*Store, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		host := getenvDefault("POSTGRES_HOST", "localhost")
		port := getenvDefault("POSTGRES_PORT", "5432")
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		db := os.Getenv("POSTGRES_DB")
		ssl := getenvDefault("POSTGRES_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, ssl)
	}
	return NewWithDSN(ctx, dsn)
}

// NewWithDSN constructs the Store using an explicit Postgres DSN.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

// Chatbot operations

func (s *Store) CreateChatbot(ctx context.Context, bot Chatbot) (string, error) {
	if strings.TrimSpace(bot.UserID) == "" {
		return "", fmt.Errorf("user_id required")
	}
	if strings.TrimSpace(bot.Name) == "" {
		return "", fmt.Errorf("name required")
	}
	id := bot.ID
	if id == "" {
		id = uuid.NewString()
	}
	appearance := bot.Appearance
	if len(appearance) == 0 {
		appearance = json.RawMessage(`{}`)
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO chatbots (id, user_id, name, system_prompt, model, temperature, rag_enabled, appearance, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW())
`, id, bot.UserID, bot.Name, bot.SystemPrompt, bot.Model, bot.Temperature, bot.RAGEnabled, []byte(appearance))
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) GetChatbot(ctx context.Context, id string) (Chatbot, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT id, user_id, name, system_prompt, model, temperature, rag_enabled, appearance, created_at
FROM chatbots WHERE id=$1
`, id)
	var bot Chatbot
	var appearance []byte
	if err := row.Scan(&bot.ID, &bot.UserID, &bot.Name, &bot.SystemPrompt, &bot.Model, &bot.Temperature, &bot.RAGEnabled, &appearance, &bot.CreatedAt); err != nil {
		return Chatbot{}, err
	}
	bot.Appearance = appearance
	return bot, nil
}

func (s *Store) ListChatbots(ctx context.Context, userID string) ([]Chatbot, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, user_id, name, system_prompt, model, temperature, rag_enabled, appearance, created_at
FROM chatbots WHERE user_id=$1 ORDER BY created_at DESC
`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Chatbot
	for rows.Next() {
		var bot Chatbot
		var appearance []byte
		if err := rows.Scan(&bot.ID, &bot.UserID, &bot.Name, &bot.SystemPrompt, &bot.Model, &bot.Temperature, &bot.RAGEnabled, &appearance, &bot.CreatedAt); err != nil {
			return nil, err
		}
		bot.Appearance = appearance
		out = append(out, bot)
	}
	return out, rows.Err()
}

// Document operations

// CreateDocument inserts a document, deduplicating on (chatbot_id,
// content_hash): uploading identical bytes to the same chatbot returns the
// existing document unchanged.
func (s *Store) CreateDocument(ctx context.Context, doc Document) (Document, error) {
	if doc.ChatbotID == "" {
		return Document{}, fmt.Errorf("chatbot_id required")
	}
	if doc.ContentHash == "" {
		return Document{}, fmt.Errorf("content_hash required")
	}
	if existing, err := s.GetDocumentByHash(ctx, doc.ChatbotID, doc.ContentHash); err == nil {
		return existing, nil
	} else if err != sql.ErrNoRows {
		return Document{}, err
	}
	id := doc.ID
	if id == "" {
		id = uuid.NewString()
	}
	metaBytes, err := marshalMeta(doc.Metadata)
	if err != nil {
		return Document{}, err
	}
	row := s.DB.QueryRowContext(ctx, `
INSERT INTO documents (id, chatbot_id, filename, content_type, size_bytes, content_hash, content, processed, metadata, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,false,$8,NOW(),NOW())
RETURNING created_at, updated_at
`, id, doc.ChatbotID, doc.Filename, doc.ContentType, doc.SizeBytes, doc.ContentHash, doc.Content, metaBytes)
	if err := row.Scan(&doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return Document{}, err
	}
	doc.ID = id
	doc.Processed = false
	return doc, nil
}

func (s *Store) GetDocument(ctx context.Context, id string) (Document, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT id, chatbot_id, filename, content_type, size_bytes, content_hash, content, processed, metadata, created_at, updated_at
FROM documents WHERE id=$1
`, id)
	return scanDocument(row)
}

func (s *Store) GetDocumentByHash(ctx context.Context, chatbotID, hash string) (Document, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT id, chatbot_id, filename, content_type, size_bytes, content_hash, content, processed, metadata, created_at, updated_at
FROM documents WHERE chatbot_id=$1 AND content_hash=$2
`, chatbotID, hash)
	return scanDocument(row)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(row rowScanner) (Document, error) {
	var doc Document
	var metaBytes []byte
	if err := row.Scan(&doc.ID, &doc.ChatbotID, &doc.Filename, &doc.ContentType, &doc.SizeBytes, &doc.ContentHash, &doc.Content, &doc.Processed, &metaBytes, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return Document{}, err
	}
	if len(metaBytes) > 0 {
		_ = json.Unmarshal(metaBytes, &doc.Metadata)
	}
	return doc, nil
}

func (s *Store) ListDocuments(ctx context.Context, chatbotID string) ([]Document, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, chatbot_id, filename, content_type, size_bytes, content_hash, content, processed, metadata, created_at, updated_at
FROM documents WHERE chatbot_id=$1 ORDER BY created_at DESC
`, chatbotID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

// ListUnprocessedDocuments returns documents still waiting for (re)ingestion,
// oldest first, for the retry sweep.
func (s *Store) ListUnprocessedDocuments(ctx context.Context, limit int) ([]Document, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, chatbot_id, filename, content_type, size_bytes, content_hash, content, processed, metadata, created_at, updated_at
FROM documents WHERE processed=false ORDER BY created_at LIMIT $1
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

// MarkDocumentProcessed flips the processed flag and replaces the document
// metadata (used to record failed chunk counts).
func (s *Store) MarkDocumentProcessed(ctx context.Context, id string, processed bool, metadata map[string]interface{}) error {
	metaBytes, err := marshalMeta(metadata)
	if err != nil {
		return err
	}
	res, err := s.DB.ExecContext(ctx, `
UPDATE documents SET processed=$2, metadata=$3, updated_at=NOW() WHERE id=$1
`, id, processed, metaBytes)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteDocument removes a document and all of its chunks in one transaction.
func (s *Store) DeleteDocument(ctx context.Context, id string) (err error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err = tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id=$1`, id); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM documents WHERE id=$1`, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return tx.Commit()
}

// Chunk operations

// UpsertChunk stores or replaces a single chunk embedding. Idempotent on
// (document_id, chunk_index) so re-ingesting never duplicates entries.
func (s *Store) UpsertChunk(ctx context.Context, rec ChunkRecord) error {
	if rec.DocumentID == "" {
		return fmt.Errorf("document_id required")
	}
	if rec.ChunkIndex < 0 {
		return fmt.Errorf("chunk_index must be >= 0")
	}
	if len(rec.Vector) == 0 {
		return fmt.Errorf("embedding vector required")
	}
	vectorLiteral, err := encodeVectorLiteral(rec.Vector)
	if err != nil {
		return err
	}
	metaBytes, err := marshalMeta(rec.Metadata)
	if err != nil {
		return err
	}
	id := rec.ID
	if id == "" {
		id = uuid.NewString()
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO document_chunks (id, document_id, chunk_index, content, embedding, metadata, created_at)
VALUES ($1,$2,$3,$4,$5::vector,$6,NOW())
ON CONFLICT (document_id, chunk_index) DO UPDATE SET
  content = EXCLUDED.content,
  embedding = EXCLUDED.embedding,
  metadata = EXCLUDED.metadata,
  created_at = NOW();
`, id, rec.DocumentID, rec.ChunkIndex, rec.Content, vectorLiteral, metaBytes)
	return err
}

// ReplaceDocumentChunks swaps out all chunks for a document atomically.
// Passing an empty slice just clears the old chunks.
func (s *Store) ReplaceDocumentChunks(ctx context.Context, documentID string, records []ChunkRecord) (err error) {
	if documentID == "" {
		return fmt.Errorf("document_id required")
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err = tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id=$1`, documentID); err != nil {
		return fmt.Errorf("delete existing chunks: %w", err)
	}
	if len(records) == 0 {
		return tx.Commit()
	}
	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO document_chunks (id, document_id, chunk_index, content, embedding, metadata, created_at)
VALUES ($1,$2,$3,$4,$5::vector,$6,NOW());
`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, rec := range records {
		if rec.ChunkIndex < 0 {
			return fmt.Errorf("chunk_index must be >= 0")
		}
		if len(rec.Vector) == 0 {
			return fmt.Errorf("embedding vector required for chunk %d", rec.ChunkIndex)
		}
		vectorLiteral, err := encodeVectorLiteral(rec.Vector)
		if err != nil {
			return err
		}
		metaBytes, err := marshalMeta(rec.Metadata)
		if err != nil {
			return err
		}
		id := rec.ID
		if id == "" {
			id = uuid.NewString()
		}
		if _, err := stmt.ExecContext(ctx, id, documentID, rec.ChunkIndex, rec.Content, vectorLiteral, metaBytes); err != nil {
			return fmt.Errorf("insert chunk %d: %w", rec.ChunkIndex, err)
		}
	}
	return tx.Commit()
}

// SearchChunks returns up to k chunks for the chatbot's documents ordered by
// ascending cosine distance. Equal distances break by newest chunk first,
// then id, so rankings are stable. minSimilarity <= 0 disables the floor.
func (s *Store) SearchChunks(ctx context.Context, chatbotID string, vector []float32, k int, minSimilarity float64) ([]ChunkSearchResult, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("vector must not be empty")
	}
	if chatbotID == "" {
		return nil, fmt.Errorf("chatbot_id required")
	}
	if k <= 0 {
		k = 5
	}
	vecLiteral, err := encodeVectorLiteral(vector)
	if err != nil {
		return nil, err
	}
	maxDistance := 2.0
	if minSimilarity > 0 {
		maxDistance = math.Max(0, 1-minSimilarity)
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT c.id, c.document_id, c.chunk_index, c.content, c.metadata, c.created_at, d.filename, c.embedding <=> $1::vector AS distance
FROM document_chunks c
JOIN documents d ON d.id = c.document_id
WHERE d.chatbot_id = $2
  AND c.embedding <=> $1::vector <= $4
ORDER BY c.embedding <=> $1::vector, c.created_at DESC, c.id
LIMIT $3
`, vecLiteral, chatbotID, k, maxDistance)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var results []ChunkSearchResult
	for rows.Next() {
		var (
			res       ChunkSearchResult
			metaBytes []byte
		)
		if err := rows.Scan(&res.ChunkID, &res.DocumentID, &res.ChunkIndex, &res.Content, &metaBytes, &res.CreatedAt, &res.Filename, &res.Distance); err != nil {
			return nil, err
		}
		if len(metaBytes) > 0 {
			_ = json.Unmarshal(metaBytes, &res.Metadata)
		}
		res.Similarity = clampSimilarity(1 - res.Distance)
		results = append(results, res)
	}
	return results, rows.Err()
}

// CountChunks reports how many chunks are indexed for a chatbot.
func (s *Store) CountChunks(ctx context.Context, chatbotID string) (int64, error) {
	var n int64
	err := s.DB.QueryRowContext(ctx, `
SELECT COUNT(*) FROM document_chunks c JOIN documents d ON d.id = c.document_id WHERE d.chatbot_id = $1
`, chatbotID).Scan(&n)
	return n, err
}

// ChunkText is the minimal chunk projection used to rebuild the in-memory
// keyword index at startup.
type ChunkText struct {
	ChatbotID  string
	DocumentID string
	ChunkID    string
	Content    string
}

// ListChunkTexts streams every stored chunk's text, grouped by document.
func (s *Store) ListChunkTexts(ctx context.Context) ([]ChunkText, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT d.chatbot_id, c.document_id, c.id, c.content
FROM document_chunks c
JOIN documents d ON d.id = c.document_id
ORDER BY d.chatbot_id, c.document_id, c.chunk_index
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ChunkText
	for rows.Next() {
		var ct ChunkText
		if err := rows.Scan(&ct.ChatbotID, &ct.DocumentID, &ct.ChunkID, &ct.Content); err != nil {
			return nil, err
		}
		out = append(out, ct)
	}
	return out, rows.Err()
}

// Conversation operations

func (s *Store) CreateConversation(ctx context.Context, chatbotID, sessionID string) (Conversation, error) {
	if chatbotID == "" {
		return Conversation{}, fmt.Errorf("chatbot_id required")
	}
	conv := Conversation{ID: uuid.NewString(), ChatbotID: chatbotID, SessionID: sessionID}
	row := s.DB.QueryRowContext(ctx, `
INSERT INTO conversations (id, chatbot_id, session_id, created_at, updated_at)
VALUES ($1,$2,$3,NOW(),NOW())
RETURNING created_at, updated_at
`, conv.ID, conv.ChatbotID, conv.SessionID)
	if err := row.Scan(&conv.CreatedAt, &conv.UpdatedAt); err != nil {
		return Conversation{}, err
	}
	return conv, nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (Conversation, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT id, chatbot_id, session_id, created_at, updated_at FROM conversations WHERE id=$1
`, id)
	var conv Conversation
	if err := row.Scan(&conv.ID, &conv.ChatbotID, &conv.SessionID, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
		return Conversation{}, err
	}
	return conv, nil
}

// AppendMessage appends one message; seq is assigned by the sequence so order
// is monotonic under concurrent writers to different conversations. Messages
// are never edited or removed.
func (s *Store) AppendMessage(ctx context.Context, msg Message) (Message, error) {
	if msg.ConversationID == "" {
		return Message{}, fmt.Errorf("conversation_id required")
	}
	switch msg.Role {
	case "user", "assistant", "system":
	default:
		return Message{}, fmt.Errorf("invalid role %q", msg.Role)
	}
	id := msg.ID
	if id == "" {
		id = uuid.NewString()
	}
	metaBytes, err := marshalMeta(msg.Metadata)
	if err != nil {
		return Message{}, err
	}
	row := s.DB.QueryRowContext(ctx, `
INSERT INTO messages (id, conversation_id, role, content, complete, metadata, created_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW())
RETURNING seq, created_at
`, id, msg.ConversationID, msg.Role, msg.Content, msg.Complete, metaBytes)
	if err := row.Scan(&msg.Seq, &msg.CreatedAt); err != nil {
		return Message{}, err
	}
	msg.ID = id
	// The message row is committed; a failed touch must not make a
	// successful append look like a lost write.
	if _, err := s.DB.ExecContext(ctx, `UPDATE conversations SET updated_at=NOW() WHERE id=$1`, msg.ConversationID); err != nil {
		log.Printf("[store] touching conversation %s failed: %v", msg.ConversationID, err)
	}
	return msg, nil
}

// ListMessages returns a conversation's messages in append order. limit <= 0
// returns everything; otherwise the most recent limit messages, still oldest
// first.
func (s *Store) ListMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = s.DB.QueryContext(ctx, `
SELECT id, conversation_id, seq, role, content, complete, metadata, created_at FROM (
  SELECT id, conversation_id, seq, role, content, complete, metadata, created_at
  FROM messages WHERE conversation_id=$1 ORDER BY seq DESC LIMIT $2
) recent ORDER BY seq
`, conversationID, limit)
	} else {
		rows, err = s.DB.QueryContext(ctx, `
SELECT id, conversation_id, seq, role, content, complete, metadata, created_at
FROM messages WHERE conversation_id=$1 ORDER BY seq
`, conversationID)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Message
	for rows.Next() {
		var msg Message
		var metaBytes []byte
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Seq, &msg.Role, &msg.Content, &msg.Complete, &metaBytes, &msg.CreatedAt); err != nil {
			return nil, err
		}
		if len(metaBytes) > 0 {
			_ = json.Unmarshal(metaBytes, &msg.Metadata)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// Usage operations

// InsertUsageRecord appends one ledger entry. The ledger is append-only;
// there is deliberately no update or delete.
func (s *Store) InsertUsageRecord(ctx context.Context, rec UsageRecord) error {
	if rec.UserID == "" {
		return fmt.Errorf("user_id required")
	}
	if rec.Kind == "" {
		return fmt.Errorf("kind required")
	}
	id := rec.ID
	if id == "" {
		id = uuid.NewString()
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO usage_records (id, user_id, chatbot_id, conversation_id, kind, prompt_tokens, completion_tokens, cost, endpoint, estimated, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NOW())
`, id, rec.UserID, nullable(rec.ChatbotID), nullable(rec.ConversationID), rec.Kind, rec.PromptTokens, rec.CompletionTokens, rec.Cost, rec.Endpoint, rec.Estimated)
	return err
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func marshalMeta(m map[string]interface{}) ([]byte, error) {
	if m == nil {
		m = map[string]interface{}{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return b, nil
}

func clampSimilarity(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func encodeVectorLiteral(vec []float32) (string, error) {
	if len(vec) == 0 {
		return "", fmt.Errorf("vector must not be empty")
	}
	var builder strings.Builder
	builder.WriteByte('[')
	for i, f := range vec {
		if i > 0 {
			builder.WriteByte(',')
		}
		builder.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	builder.WriteByte(']')
	return builder.String(), nil
}
