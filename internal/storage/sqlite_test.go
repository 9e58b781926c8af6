package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/gat45/usine-a-gaz/internal/models"
)

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	store, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStorage_Documents(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	doc := &models.Document{
		ID:       "doc1",
		Title:    "Title",
		Content:  "Content",
		Metadata: map[string]interface{}{"k": "v"},
	}
	if err := store.UpsertDocument(ctx, doc); err != nil {
		t.Fatal(err)
	}
	if doc.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}
	created := doc.CreatedAt

	got, err := store.GetDocument(ctx, "doc1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "Title" || got.Content != "Content" || got.Metadata["k"] != "v" {
		t.Errorf("got %+v", got)
	}

	doc2 := &models.Document{ID: "doc1", Title: "New", Content: "Changed"}
	if err := store.UpsertDocument(ctx, doc2); err != nil {
		t.Fatal(err)
	}
	got, _ = store.GetDocument(ctx, "doc1")
	if got.Title != "New" || !got.CreatedAt.Equal(created) {
		t.Errorf("upsert should replace fields and keep created_at: %+v", got)
	}
	if n, _ := store.CountDocuments(ctx); n != 1 {
		t.Errorf("CountDocuments=%d, want 1", n)
	}

	list, err := store.ListDocuments(ctx, 0, 10)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListDocuments = %v, %v", list, err)
	}

	if _, err := store.GetDocument(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetDocument missing err = %v, want ErrNotFound", err)
	}
	if err := store.DeleteDocument(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteDocument missing err = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStorage_Chunks(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	if err := store.UpsertDocument(ctx, &models.Document{ID: "d", Content: "x"}); err != nil {
		t.Fatal(err)
	}
	first := []*models.DocumentChunk{
		{ID: "c1", DocumentID: "d", Content: "one", ChunkIndex: 0},
		{ID: "c2", DocumentID: "d", Content: "two", ChunkIndex: 1, Overlap: 3},
	}
	if err := store.ReplaceChunks(ctx, "d", first); err != nil {
		t.Fatal(err)
	}
	chunks, err := store.GetChunksByDocumentID(ctx, "d")
	if err != nil || len(chunks) != 2 {
		t.Fatalf("GetChunksByDocumentID = %v, %v", chunks, err)
	}
	if chunks[1].Overlap != 3 {
		t.Errorf("overlap not stored: %+v", chunks[1])
	}

	second := []*models.DocumentChunk{{ID: "c3", DocumentID: "d", Content: "three", ChunkIndex: 0}}
	if err := store.ReplaceChunks(ctx, "d", second); err != nil {
		t.Fatal(err)
	}
	got, err := store.GetChunks(ctx, []string{"c1", "c3", "zz"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got["c3"] == nil {
		t.Errorf("GetChunks = %v", got)
	}
	if _, err := store.GetChunk(ctx, "c1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("replaced chunk should be gone, err = %v", err)
	}

	wrong := []*models.DocumentChunk{{ID: "c4", DocumentID: "other", Content: "x"}}
	if err := store.ReplaceChunks(ctx, "d", wrong); err == nil {
		t.Error("expected error for chunk of another document")
	}

	if err := store.DeleteDocument(ctx, "d"); err != nil {
		t.Fatal(err)
	}
	if n, _ := store.CountChunks(ctx); n != 0 {
		t.Errorf("CountChunks after delete = %d", n)
	}
}

func TestSQLiteStorage_Sessions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sessions.db")
	store, err := NewSQLiteStorage(path)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	rec := &models.SessionRecord{
		Key:     "alice",
		Options: map[string]string{"temperature": "0.2"},
		Turns: []models.Turn{
			{Role: models.RoleUser, Content: "hi", Tokens: 1, Timestamp: now},
			{Role: models.RoleAssistant, Content: "hello", Tokens: 2, Timestamp: now},
		},
		CreatedAt:    now,
		LastActiveAt: now,
	}
	if err := store.SaveSession(ctx, rec); err != nil {
		t.Fatal(err)
	}
	rec.Turns = rec.Turns[:1]
	if err := store.SaveSession(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveSession(ctx, &models.SessionRecord{Key: "bob", CreatedAt: now, LastActiveAt: now}); err != nil {
		t.Fatal(err)
	}
	store.Close()

	reopened, err := NewSQLiteStorage(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	recs, err := reopened.LoadSessions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 || recs[0].Key != "alice" || recs[1].Key != "bob" {
		t.Fatalf("LoadSessions = %+v", recs)
	}
	if len(recs[0].Turns) != 1 || recs[0].Turns[0].Content != "hi" || recs[0].Turns[0].Role != models.RoleUser {
		t.Errorf("turns = %+v", recs[0].Turns)
	}
	if recs[0].Options["temperature"] != "0.2" {
		t.Errorf("options = %v", recs[0].Options)
	}

	if err := reopened.DeleteSession(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	recs, _ = reopened.LoadSessions(ctx)
	if len(recs) != 1 {
		t.Errorf("after delete got %d sessions", len(recs))
	}
}

func TestSQLiteStorage_SchemaVersionGuard(t *testing.T) {
	path := filepath.Join(t.TempDir(), "v.db")
	store, err := NewSQLiteStorage(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.db.Exec(`UPDATE schema_meta SET value = '99' WHERE key = 'schema_version'`); err != nil {
		t.Fatal(err)
	}
	store.Close()
	if _, err := NewSQLiteStorage(path); err == nil {
		t.Error("expected error opening a database from a newer schema")
	}
}
