package postgres

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/R3E-Network/marcasino/internal/app/domain/lottery"
	"github.com/R3E-Network/marcasino/internal/app/domain/random"
	"github.com/R3E-Network/marcasino/internal/app/domain/treasury"
	"github.com/R3E-Network/marcasino/internal/app/storage"
	"github.com/R3E-Network/marcasino/internal/platform/migrations"
	"github.com/lib/pq"
)

func TestUpdateRollsBackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO casino_balances").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	boom := errors.New("boom")
	err = New(db).Update(context.Background(), func(tx storage.Tx) error {
		if err := tx.PutBalance(context.Background(), "alice", treasury.NativeAsset, 100); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateReplaysSerializationFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO casino_balances").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit().WillReturnError(&pq.Error{Code: "40001", Message: "could not serialize access"})
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO casino_balances").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	calls := 0
	err = New(db).Update(context.Background(), func(tx storage.Tx) error {
		calls++
		return tx.PutBalance(context.Background(), "alice", treasury.NativeAsset, 100)
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateGivesUpAfterRepeatedDeadlocks(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()

	for i := 0; i < maxAttempts; i++ {
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO casino_balances").
			WillReturnError(&pq.Error{Code: "40P01", Message: "deadlock detected"})
		mock.ExpectRollback()
	}

	calls := 0
	err = New(db).Update(context.Background(), func(tx storage.Tx) error {
		calls++
		return tx.PutBalance(context.Background(), "alice", treasury.NativeAsset, 100)
	})
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != "40P01" {
		t.Fatalf("expected deadlock error, got %v", err)
	}
	if calls != maxAttempts {
		t.Fatalf("expected %d attempts, got %d", maxAttempts, calls)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestMissingRowsMapToNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT amount FROM casino_balances").
		WillReturnRows(sqlmock.NewRows([]string{"amount"}))
	mock.ExpectQuery("FROM casino_commitments").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectCommit()

	err = New(db).View(context.Background(), func(tx storage.Tx) error {
		bal, err := tx.GetBalance(context.Background(), "bob", treasury.NativeAsset)
		if err != nil || bal != 0 {
			t.Fatalf("expected zero balance, got %d %v", bal, err)
		}
		if _, err := tx.GetCommitment(context.Background(), "coin", "bob"); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := migrations.Apply(ctx, db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	store := New(db)
	roundID := uint64(time.Now().UnixNano())
	var id random.RequestID

	err = store.Update(ctx, func(tx storage.Tx) error {
		var err error
		if id, err = tx.NextRequestID(ctx); err != nil {
			return err
		}
		word := random.WordFromUint64(7)
		if err := tx.PutRandomRequest(ctx, random.Request{ID: id, Consumer: "lottery", NumWords: 1, CreatedAt: time.Now().UTC()}); err != nil {
			return err
		}
		if err := tx.PutRandomRequest(ctx, random.Request{ID: id, Consumer: "lottery", NumWords: 1, Fulfilled: true, Words: []random.Word{word}, CreatedAt: time.Now().UTC(), FulfilledAt: time.Now().UTC()}); err != nil {
			return err
		}
		if err := tx.PutRound(ctx, lottery.Round{ID: roundID, StartTime: time.Now().UTC()}); err != nil {
			return err
		}
		return tx.AppendTickets(ctx, lottery.TicketBatch{RoundID: roundID, FirstIndex: 0, Count: 3, Owner: "alice"})
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	err = store.View(ctx, func(tx storage.Tx) error {
		req, err := tx.GetRandomRequest(ctx, id)
		if err != nil {
			return err
		}
		if !req.Fulfilled || len(req.Words) != 1 || req.Words[0].Mod(10) != 7 {
			t.Fatalf("unexpected request: %+v", req)
		}
		owner, err := tx.TicketOwner(ctx, roundID, 2)
		if err != nil {
			return err
		}
		if owner != "alice" {
			t.Fatalf("unexpected owner %q", owner)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}
