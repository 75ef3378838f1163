package db

import (
	"context"
	"testing"
)

func TestReadyCheck_Unconfigured(t *testing.T) {
	if err := ReadyCheck(nil)(context.Background()); err == nil {
		t.Fatalf("expected error for nil pool")
	}
	if err := ReadyCheck(&Pool{})(context.Background()); err == nil {
		t.Fatalf("expected error for empty pool")
	}
}

func TestOpen_InvalidURL(t *testing.T) {
	if _, err := Open(context.Background(), "postgres://%zz"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestOpen_InvalidPoolSize(t *testing.T) {
	t.Setenv("DB_MAX_CONNS", "zero")
	if _, err := Open(context.Background(), "postgres://user@localhost:5432/apptzone"); err == nil {
		t.Fatalf("expected config error")
	}
}
