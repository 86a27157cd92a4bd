// Package journal embeds newly materialized default-type notes into
// date-keyed daily documents.
package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/double-tu/blinko-to-obsidian/internal/datefmt"
	"github.com/double-tu/blinko-to-obsidian/internal/models"
	"github.com/double-tu/blinko-to-obsidian/internal/storage"
)

// Consumer receives the journal entries produced by a sync pass.
type Consumer interface {
	Consume(ctx context.Context, entries []models.JournalEntry) error
}

// Nop discards entries.
type Nop struct{}

// Consume implements Consumer.
func (Nop) Consume(context.Context, []models.JournalEntry) error { return nil }

// DailyNotes appends an embed line per entry to <folder>/<date>.md, where
// date is the entry's creation day in loc. Re-consuming an entry leaves the
// document unchanged.
type DailyNotes struct {
	store      storage.Provider
	folder     string
	dateFormat string
	loc        *time.Location
	logger     *slog.Logger
}

// NewDailyNotes returns a consumer writing into folder.
func NewDailyNotes(store storage.Provider, folder, dateFormat string, loc *time.Location, logger *slog.Logger) *DailyNotes {
	if dateFormat == "" {
		dateFormat = "YYYY-MM-DD"
	}
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DailyNotes{
		store:      store,
		folder:     strings.Trim(folder, "/"),
		dateFormat: dateFormat,
		loc:        loc,
		logger:     logger,
	}
}

// Consume implements Consumer.
func (d *DailyNotes) Consume(_ context.Context, entries []models.JournalEntry) error {
	byDay := make(map[string][]models.JournalEntry)
	for _, e := range entries {
		day := datefmt.Format(e.CreatedAt.In(d.loc), d.dateFormat)
		byDay[day] = append(byDay[day], e)
	}

	days := make([]string, 0, len(byDay))
	for day := range byDay {
		days = append(days, day)
	}
	sort.Strings(days)

	var errs []error
	for _, day := range days {
		list := byDay[day]
		sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
		if err := d.appendDay(day, list); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *DailyNotes) appendDay(day string, entries []models.JournalEntry) error {
	target := path.Join(d.folder, day+".md")
	existing, err := d.store.Read(target)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("journal: read %s: %w", target, err)
	}

	doc := string(existing)
	added := 0
	for _, e := range entries {
		line := EmbedLine(e.FilePath)
		if strings.Contains(doc, line) {
			continue
		}
		if doc != "" && !strings.HasSuffix(doc, "\n") {
			doc += "\n"
		}
		doc += line + "\n"
		added++
	}
	if added == 0 {
		return nil
	}
	if err := d.store.Write(target, []byte(doc)); err != nil {
		return fmt.Errorf("journal: write %s: %w", target, err)
	}
	d.logger.Debug("journal: appended", slog.String("path", target), slog.Int("entries", added))
	return nil
}

// EmbedLine returns the wiki embed for a vault note path.
func EmbedLine(notePath string) string {
	return "![[" + strings.TrimSuffix(notePath, ".md") + "]]"
}
