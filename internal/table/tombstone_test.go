package table

import "testing"

func TestTombstoneMarkAndCheck(t *testing.T) {
	ts := NewTombstoneStore()

	if ts.IsRowDeleted(5) {
		t.Error("row 5 should not be deleted in a fresh store")
	}

	ts.MarkRowDeleted(5)
	ts.MarkRowDeleted(1000)
	ts.MarkRowDeleted(5) // marking twice is a no-op

	if !ts.IsRowDeleted(5) {
		t.Error("row 5 should be deleted")
	}
	if !ts.IsRowDeleted(1000) {
		t.Error("row 1000 should be deleted")
	}
	if ts.IsRowDeleted(6) {
		t.Error("row 6 should not be deleted")
	}
	if ts.DeletedCount() != 2 {
		t.Errorf("DeletedCount = %d, expected 2", ts.DeletedCount())
	}

	ts.Reset()
	if ts.IsRowDeleted(5) || ts.DeletedCount() != 0 {
		t.Error("Reset did not clear the store")
	}
}

func TestTombstoneSerializeRoundTrip(t *testing.T) {
	ts := NewTombstoneStore()
	rows := []uint32{0, 63, 64, 65, 12345}
	for _, r := range rows {
		ts.MarkRowDeleted(r)
	}

	loaded, err := DeserializeTombstones(ts.Serialize())
	if err != nil {
		t.Fatalf("Failed to deserialize: %v", err)
	}

	for _, r := range rows {
		if !loaded.IsRowDeleted(r) {
			t.Errorf("row %d lost in round trip", r)
		}
	}
	if loaded.IsRowDeleted(1) {
		t.Error("row 1 should not be deleted after round trip")
	}
	if loaded.DeletedCount() != len(rows) {
		t.Errorf("DeletedCount = %d, expected %d", loaded.DeletedCount(), len(rows))
	}
}

func TestTombstoneDeserializeTruncated(t *testing.T) {
	if _, err := DeserializeTombstones([]byte{1, 2}); err == nil {
		t.Error("expected error on truncated header")
	}

	ts := NewTombstoneStore()
	ts.MarkRowDeleted(100)
	data := ts.Serialize()
	if _, err := DeserializeTombstones(data[:len(data)-1]); err == nil {
		t.Error("expected error on truncated body")
	}
}
