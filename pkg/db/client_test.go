package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	pkgerrors "github.com/angelmondragon/packfinderz-settlement/pkg/errors"
)

type testModel struct {
	ID   int
	Name string
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(&testModel{}); err != nil {
		t.Fatalf("failed to migrate sqlite: %v", err)
	}
	return conn
}

func fastPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}
}

func TestWithTx_CommitsAndRollbacks(t *testing.T) {
	db := newTestDB(t)
	client := NewFromConn(db, fastPolicy())

	ctx := context.Background()
	if err := client.WithTx(ctx, func(tx *gorm.DB) error {
		return tx.Create(&testModel{Name: "committed"}).Error
	}); err != nil {
		t.Fatalf("WithTx commit failed: %v", err)
	}

	var count int64
	if err := db.Model(&testModel{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 record, got %d", count)
	}

	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&testModel{Name: "rolled"}).Error; err != nil {
			return err
		}
		return errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected WithTx to return an error")
	}
	if err := db.Model(&testModel{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed after rollback: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected rollback to leave 1 record, got %d", count)
	}
}

func TestWithTxOptions_RollsBackOnPanic(t *testing.T) {
	db := newTestDB(t)
	client := NewFromConn(db, fastPolicy())

	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Fatalf("expected panic to propagate")
			}
		}()
		_ = client.WithTxOptions(context.Background(), Serializable, func(tx *gorm.DB) error {
			if err := tx.Create(&testModel{Name: "panicked"}).Error; err != nil {
				return err
			}
			panic("kaboom")
		})
	}()

	var count int64
	if err := db.Model(&testModel{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected panic to roll back, found %d rows", count)
	}
}

func TestWithSerializableTx_RetriesDeadlocks(t *testing.T) {
	db := newTestDB(t)
	client := NewFromConn(db, fastPolicy())
	obs := &recordingObserver{}
	client.SetObserver(obs)

	attempts := 0
	err := client.WithSerializableTx(context.Background(), func(tx *gorm.DB) error {
		attempts++
		if err := tx.Create(&testModel{Name: "attempt"}).Error; err != nil {
			return err
		}
		if attempts < 3 {
			return &pgconn.PgError{Code: "40P01", Message: "deadlock detected"}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected third attempt to succeed: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	if obs.retries != 2 {
		t.Fatalf("expected 2 observed retries, got %d", obs.retries)
	}

	var count int64
	if err := db.Model(&testModel{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected only the successful attempt to persist, got %d rows", count)
	}
}

func TestWithSerializableTx_EscalatesAfterBudget(t *testing.T) {
	client := NewFromConn(newTestDB(t), fastPolicy())
	obs := &recordingObserver{}
	client.SetObserver(obs)

	attempts := 0
	err := client.WithSerializableTx(context.Background(), func(tx *gorm.DB) error {
		attempts++
		return &pgconn.PgError{Code: "40001", Message: "could not serialize access"}
	})
	if attempts != 3 {
		t.Fatalf("expected budget of 3 attempts, got %d", attempts)
	}
	if !pkgerrors.IsCode(err, pkgerrors.CodeTransaction) {
		t.Fatalf("expected escalation to transaction error, got %v", err)
	}
	if !IsSerializationFailure(err) {
		t.Fatalf("expected original cause preserved, got %v", err)
	}
	if obs.failures != 1 {
		t.Fatalf("expected one observed failure, got %d", obs.failures)
	}
}

func TestWithSerializableTx_DoesNotRetryBusinessErrors(t *testing.T) {
	client := NewFromConn(newTestDB(t), fastPolicy())

	attempts := 0
	sentinel := pkgerrors.New(pkgerrors.CodeStateConflict, "no eligible transactions")
	err := client.WithSerializableTx(context.Background(), func(tx *gorm.DB) error {
		attempts++
		return sentinel
	})
	if attempts != 1 {
		t.Fatalf("business errors must not be retried, got %d attempts", attempts)
	}
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel unchanged, got %v", err)
	}
}

func TestPing(t *testing.T) {
	client := NewFromConn(newTestDB(t), fastPolicy())
	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("unexpected ping error: %v", err)
	}
}

type recordingObserver struct {
	retries  int
	failures int
}

func (r *recordingObserver) ObserveTxRetry(int) { r.retries++ }
func (r *recordingObserver) ObserveTxFailure()  { r.failures++ }
