package database

import (
	"os"
	"testing"
)

func cleanupFiles(path string) {
	os.Remove(path + ".db")
	os.Remove(path + ".tomb")
}

func TestDatabaseInsertAndSelect(t *testing.T) {
	path := "test_db_basic"
	defer cleanupFiles(path)

	db, err := Open(path)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	testData := []struct {
		key   uint32
		rowID uint32
	}{
		{100, 1},
		{50, 2},
		{200, 3},
		{75, 4},
		{150, 5},
	}
	for _, td := range testData {
		if err := db.Insert(td.key, td.rowID); err != nil {
			t.Fatalf("Failed to insert key=%d: %v", td.key, err)
		}
	}

	got, err := db.SelectRange(60, 160)
	if err != nil {
		t.Fatalf("SelectRange failed: %v", err)
	}
	// Keys 75, 100, 150 fall in range
	want := []uint32{4, 1, 5}
	if len(got) != len(want) {
		t.Fatalf("got %v, expected %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("rowId[%d] = %d, expected %d", i, got[i], want[i])
		}
	}

	keys, err := db.Keys()
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	if len(keys) != len(testData) {
		t.Errorf("Keys returned %d entries, expected %d", len(keys), len(testData))
	}
}

func TestDatabasePersistence(t *testing.T) {
	path := "test_db_persistence"
	defer cleanupFiles(path)

	{
		db, err := Open(path)
		if err != nil {
			t.Fatalf("Failed to open database: %v", err)
		}
		for i := uint32(0); i < 100; i++ {
			if err := db.Insert(i, i); err != nil {
				t.Fatalf("Failed to insert %d: %v", i, err)
			}
		}
		if _, err := db.DeleteRange(10, 19); err != nil {
			t.Fatalf("DeleteRange failed: %v", err)
		}
		if err := db.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}

	db, err := Open(path)
	if err != nil {
		t.Fatalf("Failed to reopen database: %v", err)
	}
	defer db.Close()

	got, err := db.SelectRange(0, 99)
	if err != nil {
		t.Fatalf("SelectRange after reopen failed: %v", err)
	}
	if len(got) != 90 {
		t.Fatalf("got %d rowIds after reopen, expected 90", len(got))
	}
	for _, rowID := range got {
		if rowID >= 10 && rowID <= 19 {
			t.Errorf("deleted row %d resurfaced after reopen", rowID)
		}
	}

	// Tombstones survived the restart too
	count, err := db.DeleteRange(10, 19)
	if err != nil {
		t.Fatalf("DeleteRange after reopen failed: %v", err)
	}
	if count != 0 {
		t.Errorf("DeleteRange after reopen removed %d, expected 0", count)
	}

	stats, err := db.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	t.Logf("Reopened database: %s", stats.String())
	if stats.DeletedRows != 10 {
		t.Errorf("DeletedRows = %d, expected 10", stats.DeletedRows)
	}
}

func TestDatabaseDeleteRange(t *testing.T) {
	path := "test_db_delete"
	defer cleanupFiles(path)

	db, err := Open(path)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	for i := uint32(1); i <= 10; i++ {
		if err := db.Insert(i*10, i); err != nil {
			t.Fatalf("Failed to insert: %v", err)
		}
	}

	count, err := db.DeleteRange(25, 65)
	if err != nil {
		t.Fatalf("DeleteRange failed: %v", err)
	}
	if count != 4 {
		t.Errorf("DeleteRange removed %d, expected 4 (keys 30,40,50,60)", count)
	}

	got, err := db.SelectRange(25, 65)
	if err != nil {
		t.Fatalf("SelectRange failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("deleted range still returns %v", got)
	}
}

func TestDatabaseSmallCache(t *testing.T) {
	path := "test_db_small_cache"
	defer cleanupFiles(path)

	db, err := Open(path, WithCacheSize(4))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	const n = 5000
	for i := uint32(0); i < n; i++ {
		if err := db.Insert(i, i); err != nil {
			t.Fatalf("Failed to insert %d: %v", i, err)
		}
	}
	if err := db.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	got, err := db.SelectRange(0, n)
	if err != nil {
		t.Fatalf("SelectRange failed: %v", err)
	}
	if len(got) != n {
		t.Fatalf("got %d rowIds, expected %d", len(got), n)
	}

	stats, err := db.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	t.Logf("Small cache database: %s", stats.String())
	if stats.TreeHeight < 2 {
		t.Errorf("TreeHeight = %d, expected a grown tree", stats.TreeHeight)
	}
}
