package corrections

import (
	"context"
	"testing"
	"time"

	"github.com/shoplens/shoplens/internal/database"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.NewDB(":memory:")
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(db)
}

func TestSaveAndLookup(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	err := store.Save(ctx, Correction{
		InputType:      InputText,
		InputValue:     "golf driver golf club",
		Stage:          "object_validation",
		ProductID:      "obj-1",
		CorrectionType: "object",
		OriginalValue:  "golf driver",
		CorrectedValue: "TaylorMade Qi10 Driver",
	})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Lookup(ctx, InputText, "golf driver golf club")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if got == nil {
		t.Fatal("Lookup returned nil for a saved correction")
	}
	if got.CorrectedValue != "TaylorMade Qi10 Driver" {
		t.Errorf("corrected value = %q", got.CorrectedValue)
	}
}

// Lookups key on normalized input: tracking noise and case differences must
// resolve to the same stored correction.
func TestLookupNormalizesInput(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	err := store.Save(ctx, Correction{
		InputType:      InputURL,
		InputValue:     "https://youtube.com/watch?v=abc123",
		Stage:          "product_validation",
		ProductID:      "prod-1",
		CorrectionType: "brand",
		OriginalValue:  "Taylor Made",
		CorrectedValue: "TaylorMade",
	})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Lookup(ctx, InputURL, "https://YOUTUBE.com/watch?v=abc123&utm_source=share")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if got == nil {
		t.Fatal("equivalent URL did not resolve the stored correction")
	}
}

func TestLookupReturnsMostRecent(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for i, value := range []string{"first fix", "second fix", "third fix"} {
		err := store.Save(ctx, Correction{
			InputType:      InputText,
			InputValue:     "golf driver",
			Stage:          "product_validation",
			ProductID:      "prod-1",
			CorrectionType: "name",
			OriginalValue:  "driver",
			CorrectedValue: value,
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	got, err := store.Lookup(ctx, InputText, "golf driver")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if got.CorrectedValue != "third fix" {
		t.Errorf("corrected value = %q, want the most recent entry", got.CorrectedValue)
	}
}

func TestLookupMissReturnsNil(t *testing.T) {
	store := testStore(t)

	got, err := store.Lookup(context.Background(), InputText, "never corrected")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if got != nil {
		t.Errorf("got = %+v, want nil on miss", got)
	}
}

// A nil store is legal: correction learning is optional and must not panic.
func TestNilStoreIsInert(t *testing.T) {
	var store *Store
	ctx := context.Background()

	store.SaveBestEffort(ctx, Correction{ProductID: "prod-1"})

	got, err := store.Lookup(ctx, InputText, "anything")
	if err != nil || got != nil {
		t.Errorf("nil store lookup = %+v, %v; want nil, nil", got, err)
	}
}

func TestRecentCorrectionsOrder(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for i := 0; i < 3; i++ {
		err := store.Save(ctx, Correction{
			InputType:      InputText,
			InputValue:     "golf driver",
			Stage:          "product_validation",
			ProductID:      "prod-1",
			CorrectionType: "name",
			OriginalValue:  "driver",
			CorrectedValue: string(rune('a' + i)),
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	recent, err := store.RecentCorrections(ctx, 2)
	if err != nil {
		t.Fatalf("RecentCorrections failed: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("recent = %d, want limit 2", len(recent))
	}
	if recent[0].CorrectedValue != "c" || recent[1].CorrectedValue != "b" {
		t.Errorf("order = %q, %q; want newest first", recent[0].CorrectedValue, recent[1].CorrectedValue)
	}
}
