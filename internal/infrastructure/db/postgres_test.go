package db

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"stock-alarm/internal/infrastructure/config"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestConnect_Empty(t *testing.T) {
	db, err := Connect(context.Background(), config.DBConfig{DSN: ""})
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if db != nil {
		t.Error("expected nil db for empty DSN")
	}
}

func TestPing(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectPing()
	if err := Ping(context.Background(), db); err != nil {
		t.Fatalf("unexpected ping error: %v", err)
	}

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	if err := Ping(context.Background(), db); err == nil {
		t.Fatal("expected ping error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestMissingTables(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	for _, c := range []struct {
		table  string
		exists bool
	}{{"public.users", true}, {"public.watches", false}, {"public.evaluation_records", true}} {
		mock.ExpectQuery("SELECT to_regclass").
			WithArgs(c.table).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(c.exists))
	}

	missing, err := MissingTables(context.Background(), db)
	if err != nil {
		t.Fatalf("MissingTables failed: %v", err)
	}
	if !reflect.DeepEqual(missing, []string{"watches"}) {
		t.Errorf("expected [watches], got %v", missing)
	}

	mock.ExpectQuery("SELECT to_regclass").WithArgs("public.users").WillReturnError(errors.New("connection reset"))
	if _, err := MissingTables(context.Background(), db); err == nil {
		t.Fatal("expected query error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
