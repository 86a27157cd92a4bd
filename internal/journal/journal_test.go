package journal

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/double-tu/blinko-to-obsidian/internal/models"
	"github.com/double-tu/blinko-to-obsidian/internal/testutil"
)

func TestDailyNotes_AppendsOncePerEntry(t *testing.T) {
	_, store := testutil.TestVault(t)
	loc := time.FixedZone("UTC+8", 8*3600)
	d := NewDailyNotes(store, "Journal", "YYYY-MM-DD", loc, nil)

	entries := []models.JournalEntry{
		{ID: 11, CreatedAt: time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC), FilePath: "Blinko/Flash/b-blinko-11.md"},
		{ID: 10, CreatedAt: time.Date(2024, 1, 2, 1, 0, 0, 0, time.UTC), FilePath: "Blinko/Flash/a-blinko-10.md"},
		// 20:00 UTC on Jan 2 is Jan 3 in UTC+8.
		{ID: 12, CreatedAt: time.Date(2024, 1, 2, 20, 0, 0, 0, time.UTC), FilePath: "Blinko/Flash/c-blinko-12.md"},
	}
	if err := d.Consume(context.Background(), entries); err != nil {
		t.Fatalf("Consume: %v", err)
	}

	got, err := store.Read("Journal/2024-01-02.md")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	want := "![[Blinko/Flash/a-blinko-10]]\n![[Blinko/Flash/b-blinko-11]]\n"
	if string(got) != want {
		t.Errorf("2024-01-02 = %q, want %q", got, want)
	}
	if next, err := store.Read("Journal/2024-01-03.md"); err != nil || !strings.Contains(string(next), "c-blinko-12") {
		t.Errorf("2024-01-03 = %q, %v", next, err)
	}

	if err := d.Consume(context.Background(), entries[:1]); err != nil {
		t.Fatalf("second Consume: %v", err)
	}
	again, _ := store.Read("Journal/2024-01-02.md")
	if string(again) != want {
		t.Errorf("re-consume changed the document: %q", again)
	}
}

func TestDailyNotes_KeepsExistingContent(t *testing.T) {
	_, store := testutil.TestVault(t)
	_ = store.Write("Journal/2024-05-01.md", []byte("# May Day\nwrote some things"))
	d := NewDailyNotes(store, "Journal", "", time.UTC, nil)

	err := d.Consume(context.Background(), []models.JournalEntry{
		{ID: 1, CreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), FilePath: "Blinko/x-blinko-1.md"},
	})
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	got, _ := store.Read("Journal/2024-05-01.md")
	if string(got) != "# May Day\nwrote some things\n![[Blinko/x-blinko-1]]\n" {
		t.Errorf("document = %q", got)
	}
}
