package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func TestUpsertChunk(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	rec := ChunkRecord{
		ID:         "11111111-1111-1111-1111-111111111111",
		DocumentID: "doc-1",
		ChunkIndex: 0,
		Content:    "hello world",
		Vector:     []float32{0.1, 0.2},
		Metadata:   map[string]interface{}{"start": 0},
	}

	query := regexp.QuoteMeta(`
INSERT INTO document_chunks (id, document_id, chunk_index, content, embedding, metadata, created_at)
VALUES ($1,$2,$3,$4,$5::vector,$6,NOW())
ON CONFLICT (document_id, chunk_index) DO UPDATE SET
  content = EXCLUDED.content,
  embedding = EXCLUDED.embedding,
  metadata = EXCLUDED.metadata,
  created_at = NOW();
`)
	mock.ExpectExec(query).
		WithArgs(rec.ID, rec.DocumentID, rec.ChunkIndex, rec.Content, "[0.1,0.2]", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := st.UpsertChunk(context.Background(), rec); err != nil {
		t.Fatalf("UpsertChunk: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpsertChunkRejectsEmptyVector(t *testing.T) {
	st := &Store{}
	err := st.UpsertChunk(context.Background(), ChunkRecord{DocumentID: "doc-1", ChunkIndex: 0})
	if err == nil {
		t.Fatal("expected error for empty vector")
	}
}

func TestReplaceDocumentChunks(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	records := []ChunkRecord{
		{
			ID:         "22222222-2222-2222-2222-222222222222",
			DocumentID: "doc-1",
			ChunkIndex: 0,
			Content:    "first",
			Vector:     []float32{0.3, 0.4},
		},
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM document_chunks WHERE document_id=$1`)).
		WithArgs("doc-1").WillReturnResult(sqlmock.NewResult(0, 1))
	prep := mock.ExpectPrepare(regexp.QuoteMeta(`
INSERT INTO document_chunks (id, document_id, chunk_index, content, embedding, metadata, created_at)
VALUES ($1,$2,$3,$4,$5::vector,$6,NOW());
`))
	prep.ExpectExec().
		WithArgs("22222222-2222-2222-2222-222222222222", "doc-1", 0, "first", "[0.3,0.4]", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := st.ReplaceDocumentChunks(context.Background(), "doc-1", records); err != nil {
		t.Fatalf("ReplaceDocumentChunks: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestReplaceDocumentChunksEmptyClearsOnly(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM document_chunks WHERE document_id=$1`)).
		WithArgs("doc-1").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	if err := st.ReplaceDocumentChunks(context.Background(), "doc-1", nil); err != nil {
		t.Fatalf("ReplaceDocumentChunks: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSearchChunksScopedToChatbot(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	query := regexp.QuoteMeta(`
SELECT c.id, c.document_id, c.chunk_index, c.content, c.metadata, c.created_at, d.filename, c.embedding <=> $1::vector AS distance
FROM document_chunks c
JOIN documents d ON d.id = c.document_id
WHERE d.chatbot_id = $2
  AND c.embedding <=> $1::vector <= $4
ORDER BY c.embedding <=> $1::vector, c.created_at DESC, c.id
LIMIT $3
`)
	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "document_id", "chunk_index", "content", "metadata", "created_at", "filename", "distance"}).
		AddRow("chunk-1", "doc-1", 0, "hello world", []byte(`{"start":0}`), now, "guide.txt", 0.05).
		AddRow("chunk-2", "doc-1", 1, "hello again", []byte(`{"start":10}`), now, "guide.txt", 0.35)
	mock.ExpectQuery(query).
		WithArgs("[0.1,0.2]", "bot-1", 2, 0.75).
		WillReturnRows(rows)

	results, err := st.SearchChunks(context.Background(), "bot-1", []float32{0.1, 0.2}, 2, 0.25)
	if err != nil {
		t.Fatalf("SearchChunks: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ChunkID != "chunk-1" || results[0].Distance != 0.05 {
		t.Fatalf("unexpected first result: %+v", results[0])
	}
	if got, want := results[0].Similarity, 0.95; got != want {
		t.Fatalf("similarity = %v, want %v", got, want)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSearchChunksRequiresScope(t *testing.T) {
	st := &Store{}
	if _, err := st.SearchChunks(context.Background(), "", []float32{0.1}, 3, 0); err == nil {
		t.Fatal("expected error for missing chatbot scope")
	}
}

func TestEncodeVectorLiteral(t *testing.T) {
	lit, err := encodeVectorLiteral([]float32{1, -0.5, 0.25})
	if err != nil {
		t.Fatalf("encodeVectorLiteral: %v", err)
	}
	if lit != "[1,-0.5,0.25]" {
		t.Fatalf("unexpected literal: %s", lit)
	}
	if _, err := encodeVectorLiteral(nil); err == nil {
		t.Fatal("expected error for empty vector")
	}
}

func TestClampSimilarity(t *testing.T) {
	cases := []struct{ in, want float64 }{
		{-0.2, 0},
		{0.4, 0.4},
		{1.3, 1},
	}
	for _, tc := range cases {
		if got := clampSimilarity(tc.in); got != tc.want {
			t.Fatalf("clampSimilarity(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
