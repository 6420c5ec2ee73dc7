package storage

import (
	"testing"

	"gorm.io/gorm"
)

func TestOpenAppliesMigrations(t *testing.T) {
	db, err := Open(MemoryDSN)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer Close(db)

	for _, table := range []string{"meetings", "transcript_segments", "domain_events"} {
		if !db.Migrator().HasTable(table) {
			t.Fatalf("table %s missing", table)
		}
	}

	m := NewMigrationManager(db)
	m.AddMigration(&dummyMigration{})
	pending, err := m.Pending()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0] != "999_dummy" {
		t.Fatalf("pending = %v", pending)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	db, err := Open(MemoryDSN)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer Close(db)

	if err := Migrate(db); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	history, err := NewMigrationManager(db).GetMigrationHistory()
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 {
		t.Fatalf("history has %d records, want 2", len(history))
	}
}

func TestRollbackMigration(t *testing.T) {
	db, err := Open(MemoryDSN)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer Close(db)

	m := NewMigrationManager(db)
	m.AddMigration(&dummyMigration{})
	if err := m.RunMigrations(); err != nil {
		t.Fatal(err)
	}
	if !db.Migrator().HasTable("dummy") {
		t.Fatal("dummy table not created")
	}
	if err := m.RollbackMigration("999_dummy"); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if db.Migrator().HasTable("dummy") {
		t.Fatal("dummy table still present")
	}
	if err := m.RollbackMigration("999_dummy"); err == nil {
		t.Fatal("rolling back twice should fail")
	}
}

type dummyMigration struct{}

func (dummyMigration) Version() string     { return "999_dummy" }
func (dummyMigration) Description() string { return "dummy" }

func (dummyMigration) Up(db *gorm.DB) error {
	return db.Exec(`CREATE TABLE dummy (id INTEGER PRIMARY KEY)`).Error
}

func (dummyMigration) Down(db *gorm.DB) error {
	return db.Exec(`DROP TABLE dummy`).Error
}
