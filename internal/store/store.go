// Package store persists recurring shifts in a single .xlsx workbook: one sheet
// per category plus a hidden sheet that records failures.
package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"autoshift/internal/config"
	appLog "autoshift/internal/log"
	"autoshift/internal/model"
)

// FailureSheet is the reserved, hidden sheet holding the failure log.
const FailureSheet = "_failures"

// maxFailures bounds the failure log; older rows are dropped first.
const maxFailures = 1000

// CollisionError reports that a new shift overlaps an existing one.
type CollisionError struct {
	Category string
	New      model.ShiftRecord
	Existing model.ShiftRecord
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("shift %s collides with existing shift %s in %q", e.New, e.Existing, e.Category)
}

func (e *CollisionError) Is(target error) bool {
	return target == model.ErrCollision
}

// workbook is the decoded content of the backing file.
type workbook struct {
	categories []model.Category
	failures   []model.Failure
}

func (w *workbook) index(name string) int {
	return slices.IndexFunc(w.categories, func(c model.Category) bool {
		return strings.EqualFold(c.Name, name)
	})
}

// Store is the shift store. All methods reload the workbook from disk, so
// edits made outside this process are picked up; every mutation rewrites the
// whole file atomically.
type Store struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// Open returns a store backed by path, creating (or repairing) the workbook
// if needed.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: store path is empty", model.ErrStorage)
	}
	s := &Store{path: config.ExpandHome(path), now: time.Now}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path is the backing workbook location.
func (s *Store) Path() string {
	return s.path
}

// ListCategories returns every category in workbook order with its shifts in
// canonical order.
func (s *Store) ListCategories() ([]model.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wb, err := s.load()
	if err != nil {
		return nil, err
	}
	return wb.categories, nil
}

// Snapshot is ListCategories keyed by category name.
func (s *Store) Snapshot() (map[string][]model.ShiftRecord, error) {
	cats, err := s.ListCategories()
	if err != nil {
		return nil, err
	}
	out := make(map[string][]model.ShiftRecord, len(cats))
	for _, c := range cats {
		out[c.Name] = c.Shifts
	}
	return out, nil
}

// AddShift inserts rec into category unless it overlaps an existing shift on
// the same day.
func (s *Store) AddShift(category string, rec model.ShiftRecord) error {
	if err := rec.Validate(); err != nil {
		s.record("add_shift", err)
		return err
	}
	return s.mutate("add_shift", func(wb *workbook) error {
		i := wb.index(category)
		if i < 0 {
			return fmt.Errorf("category %q: %w", category, model.ErrNotFound)
		}
		cat := &wb.categories[i]
		if err := checkCollision(cat, rec, nil); err != nil {
			return err
		}
		cat.Shifts = append(cat.Shifts, rec)
		sortShifts(cat.Shifts)
		return nil
	})
}

// ReplaceShift swaps old for rec in one step. The collision check ignores old,
// and nothing changes if rec collides with another shift.
func (s *Store) ReplaceShift(category string, old, rec model.ShiftRecord) error {
	if err := rec.Validate(); err != nil {
		s.record("replace_shift", err)
		return err
	}
	return s.mutate("replace_shift", func(wb *workbook) error {
		i := wb.index(category)
		if i < 0 {
			return fmt.Errorf("category %q: %w", category, model.ErrNotFound)
		}
		cat := &wb.categories[i]
		if !slices.Contains(cat.Shifts, old) {
			return fmt.Errorf("shift %s in %q: %w", old, category, model.ErrNotFound)
		}
		if err := checkCollision(cat, rec, &old); err != nil {
			return err
		}
		cat.Shifts = slices.DeleteFunc(cat.Shifts, func(r model.ShiftRecord) bool { return r == old })
		cat.Shifts = append(cat.Shifts, rec)
		sortShifts(cat.Shifts)
		return nil
	})
}

// DeleteShift removes every shift in category equal to matcher on all fields.
// A missing category or shift is not an error.
func (s *Store) DeleteShift(category string, matcher model.ShiftRecord) error {
	return s.mutate("delete_shift", func(wb *workbook) error {
		i := wb.index(category)
		if i < 0 {
			return nil
		}
		wb.categories[i].Shifts = slices.DeleteFunc(wb.categories[i].Shifts, func(r model.ShiftRecord) bool {
			return r == matcher
		})
		return nil
	})
}

// CreateCategory adds an empty category.
func (s *Store) CreateCategory(name string) error {
	clean, err := validateNewName(name)
	if err != nil {
		s.record("create_category", err)
		return err
	}
	return s.mutate("create_category", func(wb *workbook) error {
		if wb.index(clean) >= 0 {
			return fmt.Errorf("category %q: %w", clean, model.ErrDuplicate)
		}
		wb.categories = append(wb.categories, model.Category{Name: clean})
		return nil
	})
}

// CreateCategories bulk-creates categories from job titles read off the site.
// Titles are cut to MaxCategoryName; names that already exist or are invalid
// are skipped. It returns the names actually created.
func (s *Store) CreateCategories(names []string) ([]string, error) {
	var created []string
	err := s.mutate("create_categories", func(wb *workbook) error {
		for _, name := range names {
			clean, err := validateNewName(model.FitCategoryName(name))
			if err != nil {
				appLog.Info("store: skipping invalid category name", "name", name, "reason", err.Error())
				continue
			}
			if wb.index(clean) >= 0 {
				continue
			}
			wb.categories = append(wb.categories, model.Category{Name: clean})
			created = append(created, clean)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// DeleteCategory removes a category and all of its shifts.
func (s *Store) DeleteCategory(name string) error {
	return s.mutate("delete_category", func(wb *workbook) error {
		i := wb.index(name)
		if i < 0 {
			return fmt.Errorf("category %q: %w", name, model.ErrNotFound)
		}
		wb.categories = slices.Delete(wb.categories, i, i+1)
		return nil
	})
}

// LogFailure appends a row to the hidden failure sheet.
func (s *Store) LogFailure(operation string, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendFailureLocked(operation, cause)
}

func (s *Store) appendFailureLocked(operation string, cause error) error {
	wb, err := s.load()
	if err != nil {
		return err
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	wb.failures = append(wb.failures, model.Failure{
		Timestamp: s.now().UTC().Truncate(time.Second),
		Operation: operation,
		Message:   msg,
	})
	if n := len(wb.failures); n > maxFailures {
		wb.failures = wb.failures[n-maxFailures:]
	}
	return s.save(wb)
}

// Failures returns the persisted failure log, oldest first.
func (s *Store) Failures() ([]model.Failure, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wb, err := s.load()
	if err != nil {
		return nil, err
	}
	return wb.failures, nil
}

// mutate runs fn against a freshly loaded workbook and saves the result.
// Nothing is written when fn fails. Rejections are recorded in the failure log.
func (s *Store) mutate(op string, fn func(*workbook) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wb, err := s.load()
	if err != nil {
		return err
	}
	if err := fn(wb); err != nil {
		s.recordLocked(op, err)
		return err
	}
	return s.save(wb)
}

func (s *Store) record(op string, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordLocked(op, cause)
}

// recordLocked logs a rejected operation. Errors here are only logged.
func (s *Store) recordLocked(op string, cause error) {
	if err := s.appendFailureLocked(op, cause); err != nil {
		appLog.Error("store: failed to write failure log", err, "op", op)
	}
}

// load reads the workbook, healing a missing or corrupt file by writing a
// fresh empty one. Unreadable files and malformed rows are surfaced.
func (s *Store) load() (*workbook, error) {
	wb, err := readWorkbook(s.path)
	if err == nil {
		return wb, nil
	}

	switch {
	case errors.Is(err, fs.ErrNotExist):
		appLog.Info("store: workbook missing, creating", "path", s.path)
	case errors.Is(err, fs.ErrPermission), errors.Is(err, model.ErrStorage):
		return nil, err
	default:
		backup := fmt.Sprintf("%s.corrupt-%d", s.path, s.now().Unix())
		appLog.Error("store: workbook corrupt, reinitializing", err, "path", s.path, "backup", backup)
		if rerr := os.Rename(s.path, backup); rerr != nil {
			appLog.Error("store: failed to move corrupt workbook aside", rerr, "path", s.path)
		}
	}

	fresh := &workbook{}
	if err := s.save(fresh); err != nil {
		return nil, err
	}
	return fresh, nil
}

func (s *Store) save(wb *workbook) error {
	data, err := encodeWorkbook(wb)
	if err != nil {
		return fmt.Errorf("%w: encode workbook: %v", model.ErrStorage, err)
	}
	if err := config.WriteFileAtomic(s.path, data, 0o600); err != nil {
		return fmt.Errorf("%w: write %s: %v", model.ErrStorage, s.path, err)
	}
	return nil
}

func validateNewName(name string) (string, error) {
	clean, err := model.ValidateCategoryName(name)
	if err != nil {
		return "", err
	}
	if strings.EqualFold(clean, FailureSheet) {
		return "", fmt.Errorf("%w: %q is reserved", model.ErrValidation, clean)
	}
	return clean, nil
}

// checkCollision returns a CollisionError for the first shift in cat that
// overlaps rec. ignore, if set, is excluded from the check.
func checkCollision(cat *model.Category, rec model.ShiftRecord, ignore *model.ShiftRecord) error {
	for _, existing := range cat.Shifts {
		if ignore != nil && existing == *ignore {
			continue
		}
		if existing.Overlaps(rec) {
			return &CollisionError{Category: cat.Name, New: rec, Existing: existing}
		}
	}
	return nil
}

func sortShifts(shifts []model.ShiftRecord) {
	slices.SortStableFunc(shifts, func(a, b model.ShiftRecord) int {
		switch {
		case a.Less(b):
			return -1
		case b.Less(a):
			return 1
		default:
			return 0
		}
	})
}
