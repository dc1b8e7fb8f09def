package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"card-ledger/api/internal/card"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func TestCardRepoFindHit(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCardRepo(db, time.Hour)

	rows := sqlmock.NewRows([]string{"record_json", "created_at"}).
		AddRow([]byte(`{"chinese_name":"王小明","mobile":"0912345678"}`), time.Now())
	mock.ExpectQuery("from card_extractions").
		WithArgs("h1", "gemini-2.5-flash").
		WillReturnRows(rows)

	rec, ok, err := repo.Find(context.Background(), "h1", "gemini-2.5-flash")
	if err != nil || !ok {
		t.Fatalf("Find() = %v, %v; want hit", ok, err)
	}
	if rec.ChineseName != "王小明" || rec.Mobile != "0912345678" || rec.Email != "" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCardRepoFindMissAndStale(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCardRepo(db, time.Hour)

	mock.ExpectQuery("from card_extractions").
		WithArgs("missing", "m").
		WillReturnError(sql.ErrNoRows)
	if _, ok, err := repo.Find(context.Background(), "missing", "m"); ok || err != nil {
		t.Fatalf("expected clean miss, got ok=%v err=%v", ok, err)
	}

	stale := sqlmock.NewRows([]string{"record_json", "created_at"}).
		AddRow([]byte(`{"chinese_name":"舊"}`), time.Now().Add(-2*time.Hour))
	mock.ExpectQuery("from card_extractions").
		WithArgs("old", "m").
		WillReturnRows(stale)
	if _, ok, err := repo.Find(context.Background(), "old", "m"); ok || err != nil {
		t.Fatalf("expected stale entry to miss, got ok=%v err=%v", ok, err)
	}

	broken := sqlmock.NewRows([]string{"record_json", "created_at"}).
		AddRow([]byte(`not json`), time.Now())
	mock.ExpectQuery("from card_extractions").
		WithArgs("broken", "m").
		WillReturnRows(broken)
	if _, ok, err := repo.Find(context.Background(), "broken", "m"); ok || err != nil {
		t.Fatalf("expected broken entry to miss, got ok=%v err=%v", ok, err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCardRepoFindError(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCardRepo(db, 0)

	mock.ExpectQuery("from card_extractions").
		WillReturnError(errors.New("connection reset"))
	if _, _, err := repo.Find(context.Background(), "h", "m"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestCardRepoSave(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCardRepo(db, 0)

	mock.ExpectExec("insert into card_extractions").
		WithArgs("h1", "m", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Save(context.Background(), "h1", "m", card.Record{ChineseName: "王小明"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCardRepoPurge(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCardRepo(db, 0)

	if _, err := repo.PurgeOlderThan(context.Background(), 0); err == nil {
		t.Fatalf("expected error for zero age")
	}

	mock.ExpectExec("delete from card_extractions").
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 4))
	n, err := repo.PurgeOlderThan(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("PurgeOlderThan() error = %v", err)
	}
	if n != 4 {
		t.Fatalf("expected 4 purged rows, got %d", n)
	}
}

func TestSubmissionRepoInsertFillsDefaults(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSubmissionRepo(db)

	mock.ExpectExec("insert into submissions").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "web", "success", "", "abc", "名片_王小明_20260309_140507.jpg", "https://drive.example/abc", 3, "note").
		WillReturnResult(sqlmock.NewResult(0, 1))

	s := &Submission{
		Source:    "web",
		Status:    "success",
		ImageHash: "abc",
		FileName:  "名片_王小明_20260309_140507.jpg",
		Link:      "https://drive.example/abc",
		RowIndex:  3,
		Note:      "note",
	}
	if err := repo.Insert(context.Background(), s); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if s.ID == uuid.Nil || s.CreatedAt.IsZero() {
		t.Fatalf("expected id and timestamp to be set, got %+v", s)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSubmissionRepoRecent(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSubmissionRepo(db)

	id := uuid.New()
	rows := sqlmock.NewRows([]string{"id", "created_at", "source", "status", "error_kind", "image_hash", "file_name", "link", "row_index", "note"}).
		AddRow(id.String(), time.Now(), "telegram", "quota_exceeded", "quota_exceeded", "h", "", "", 0, "")
	mock.ExpectQuery("from submissions").
		WithArgs(50).
		WillReturnRows(rows)

	got, err := repo.Recent(context.Background(), 0)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != id || got[0].Status != "quota_exceeded" {
		t.Fatalf("unexpected submissions %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestEnsureSchema(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").
		WithArgs(int64(2026031001)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS card_extractions").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	if err := EnsureSchema(context.Background(), db); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSafeDSN(t *testing.T) {
	got := SafeDSN("postgres://cards:secret@db:5432/cards?sslmode=disable")
	if got != "host=db port=5432 db=cards user=cards" {
		t.Fatalf("unexpected summary %q", got)
	}
}
