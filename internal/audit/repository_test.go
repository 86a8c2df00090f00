package audit

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/esp32-osc-core/internal/infrastructure/database"
	"github.com/nerrad567/esp32-osc-core/migrations"
)

func setupRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{Path: filepath.Join(t.TempDir(), "audit.db")})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

func TestRecord_GeneratesIDAndTime(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	e := &Entry{Device: "box-01", Command: "connect", Source: SourceAPI, Status: StatusAccepted}
	if err := repo.Record(ctx, e); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if !strings.HasPrefix(e.ID, "cmd-") {
		t.Errorf("ID = %q, want cmd- prefix", e.ID)
	}
	if e.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}

	res, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 1 || len(res.Entries) != 1 {
		t.Fatalf("List() = %+v, want one entry", res)
	}
	got := res.Entries[0]
	if got.ID != e.ID || got.Device != "box-01" || got.Command != "connect" || got.Error != "" || got.Params != nil {
		t.Errorf("entry = %+v", got)
	}
}

func TestRecord_ParamsAndError(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	err := repo.Record(ctx, &Entry{
		Device:  "box-01",
		Command: "motor_speed",
		Source:  SourceMQTT,
		Status:  StatusFailed,
		Error:   "device not found",
		Params:  map[string]any{"motor": 1, "speed": 0.5},
	})
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	res, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	got := res.Entries[0]
	if got.Error != "device not found" {
		t.Errorf("Error = %q", got.Error)
	}
	// JSON numbers come back as float64.
	if got.Params["motor"] != float64(1) || got.Params["speed"] != 0.5 {
		t.Errorf("Params = %v", got.Params)
	}
}

func TestList_FilterAndPaging(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, e := range []Entry{
		{Device: "box-01", Command: "connect", Source: SourceAPI, Status: StatusAccepted},
		{Device: "box-02", Command: "connect", Source: SourceMQTT, Status: StatusAccepted},
		{Device: "box-01", Command: "reboot", Source: SourceMQTT, Status: StatusFailed},
		{Device: "box-01", Command: "sleep", Source: SourceAPI, Status: StatusAccepted},
	} {
		e.CreatedAt = base.Add(time.Duration(i) * time.Second)
		if err := repo.Record(ctx, &e); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	tests := []struct {
		name      string
		filter    Filter
		wantTotal int
		wantFirst string
		wantLen   int
	}{
		{"all newest first", Filter{}, 4, "sleep", 4},
		{"by device", Filter{Device: "box-01"}, 3, "sleep", 3},
		{"by source", Filter{Source: SourceMQTT}, 2, "reboot", 2},
		{"by status", Filter{Status: StatusFailed}, 1, "reboot", 1},
		{"combined", Filter{Device: "box-01", Source: SourceAPI}, 2, "sleep", 2},
		{"paged", Filter{Limit: 2, Offset: 1}, 4, "reboot", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if res.Total != tt.wantTotal || len(res.Entries) != tt.wantLen {
				t.Fatalf("total = %d len = %d, want %d and %d", res.Total, len(res.Entries), tt.wantTotal, tt.wantLen)
			}
			if res.Entries[0].Command != tt.wantFirst {
				t.Errorf("first command = %q, want %q", res.Entries[0].Command, tt.wantFirst)
			}
		})
	}
}

func TestList_ClampsLimit(t *testing.T) {
	repo := setupRepo(t)

	res, err := repo.List(context.Background(), Filter{Limit: 1000, Offset: -5})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Limit != 200 || res.Offset != 0 {
		t.Errorf("limit = %d offset = %d, want 200 and 0", res.Limit, res.Offset)
	}
	if res.Entries == nil {
		t.Error("Entries should be an empty slice, not nil")
	}
}

func TestPruneBefore(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, cmd := range []string{"connect", "motor_speed", "disconnect"} {
		e := &Entry{
			Device:    "box-01",
			Command:   cmd,
			Source:    SourceAPI,
			Status:    StatusAccepted,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}
		if err := repo.Record(ctx, e); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	n, err := repo.PruneBefore(ctx, base.Add(90*time.Minute))
	if err != nil {
		t.Fatalf("PruneBefore() error = %v", err)
	}
	if n != 2 {
		t.Errorf("PruneBefore() removed %d, want 2", n)
	}

	res, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 1 || res.Entries[0].Command != "disconnect" {
		t.Errorf("remaining = %+v, want only disconnect", res.Entries)
	}
}
