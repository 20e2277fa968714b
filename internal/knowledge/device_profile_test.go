package knowledge

import (
	"testing"

	"github.com/autoqa/agentcore/internal/agentstate"
)

func TestDeviceProfileUpsertAndExactLookup(t *testing.T) {
	store, err := NewDeviceProfileStore(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("NewDeviceProfileStore: %v", err)
	}

	if err := store.Upsert("device_1200x1754", 1200, 1754, "settings_icon", 100, 200, agentstate.SourceOCR); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	coord, ok := store.Lookup("device_1200x1754", "settings_icon")
	if !ok {
		t.Fatal("expected exact lookup to find the coordinate")
	}
	if coord.X != 100 || coord.Y != 200 {
		t.Fatalf("unexpected coordinate: %+v", coord)
	}
}

func TestDeviceProfileFuzzyLookupFallsBackOnSubstring(t *testing.T) {
	store, err := NewDeviceProfileStore(t.TempDir(), 0.5)
	if err != nil {
		t.Fatalf("NewDeviceProfileStore: %v", err)
	}
	if err := store.Upsert("device_1200x1754", 1200, 1754, "wifi_settings_icon", 50, 60, agentstate.SourceModel); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	coord, ok := store.Lookup("device_1200x1754", "wifi_settings")
	if !ok {
		t.Fatal("expected fuzzy lookup to find a substring match")
	}
	if coord.X != 50 || coord.Y != 60 {
		t.Fatalf("unexpected coordinate: %+v", coord)
	}
}

func TestDeviceProfileLookupMissReturnsFalse(t *testing.T) {
	store, err := NewDeviceProfileStore(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("NewDeviceProfileStore: %v", err)
	}
	if _, ok := store.Lookup("device_1200x1754", "nonexistent"); ok {
		t.Fatal("expected lookup miss on empty profile")
	}
}

func TestDeviceProfileDeleteRemovesExactEntry(t *testing.T) {
	store, err := NewDeviceProfileStore(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("NewDeviceProfileStore: %v", err)
	}
	_ = store.Upsert("device_1200x1754", 1200, 1754, "settings_icon", 100, 200, agentstate.SourceOCR)

	deleted, err := store.Delete("device_1200x1754", "settings_icon")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !deleted {
		t.Fatal("expected deletion to report true")
	}
	if _, ok := store.Lookup("device_1200x1754", "settings_icon"); ok {
		t.Fatal("expected the icon to be gone after deletion")
	}
}

func TestDeviceProfilePersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	store1, err := NewDeviceProfileStore(dir, 0)
	if err != nil {
		t.Fatalf("NewDeviceProfileStore: %v", err)
	}
	if err := store1.Upsert("device_1200x1754", 1200, 1754, "home_icon", 10, 20, agentstate.SourceGrid); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	store2, err := NewDeviceProfileStore(dir, 0)
	if err != nil {
		t.Fatalf("NewDeviceProfileStore: %v", err)
	}
	coord, ok := store2.Lookup("device_1200x1754", "home_icon")
	if !ok {
		t.Fatal("expected a fresh store instance to read the persisted profile")
	}
	if coord.X != 10 || coord.Y != 20 {
		t.Fatalf("unexpected coordinate: %+v", coord)
	}
}
