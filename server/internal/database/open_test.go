package database

import (
	"context"
	"database/sql"
	"strings"
	"testing"
)

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "postgres://localhost/db")
	if err == nil || !strings.Contains(err.Error(), "unsupported driver") {
		t.Errorf("Open() error = %v, want unsupported driver", err)
	}
}

func TestDriversRegistered(t *testing.T) {
	drivers := map[string]bool{}
	for _, d := range sql.Drivers() {
		drivers[d] = true
	}
	for _, want := range []string{"postgres", "pgx"} {
		if !drivers[want] {
			t.Errorf("driver %q not registered", want)
		}
	}
}
