package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"autoshift/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "shift.xlsx"))
	require.NoError(t, err)
	return s
}

func shift(t *testing.T, day model.Weekday, start, end string) model.ShiftRecord {
	t.Helper()
	rec, err := model.NewShiftRecord(day, start, end, "")
	require.NoError(t, err)
	return rec
}

func shiftsOf(t *testing.T, s *Store, category string) []model.ShiftRecord {
	t.Helper()
	snap, err := s.Snapshot()
	require.NoError(t, err)
	shifts, ok := snap[category]
	require.True(t, ok, "category %q missing", category)
	return shifts
}

func TestOpenCreatesWellFormedWorkbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "shift.xlsx")
	s, err := Open(path)
	require.NoError(t, err)

	cats, err := s.ListCategories()
	require.NoError(t, err)
	assert.Empty(t, cats)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{FailureSheet}, f.GetSheetList())
}

func TestCollisionRejectedAndStoreUnchanged(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateCategory("Tutor"))
	require.NoError(t, s.AddShift("Tutor", shift(t, model.Monday, "9:00 AM", "5:00 PM")))
	before := shiftsOf(t, s, "Tutor")

	err := s.AddShift("Tutor", shift(t, model.Monday, "4:00 PM", "8:00 PM"))
	require.ErrorIs(t, err, model.ErrCollision)

	var ce *CollisionError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, model.MustClock("9:00 AM"), ce.Existing.Start)

	assert.Equal(t, before, shiftsOf(t, s, "Tutor"))
}

func TestTouchingShiftsBothPersistSorted(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateCategory("Tutor"))
	late := shift(t, model.Monday, "5:00 PM", "8:00 PM")
	early := shift(t, model.Monday, "9:00 AM", "5:00 PM")
	require.NoError(t, s.AddShift("Tutor", late))
	require.NoError(t, s.AddShift("Tutor", early))

	assert.Equal(t, []model.ShiftRecord{early, late}, shiftsOf(t, s, "Tutor"))
}

func TestSameTimeDifferentDayDoesNotCollide(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateCategory("Tutor"))
	require.NoError(t, s.AddShift("Tutor", shift(t, model.Monday, "9:00 AM", "5:00 PM")))
	require.NoError(t, s.AddShift("Tutor", shift(t, model.Tuesday, "9:00 AM", "5:00 PM")))
	assert.Len(t, shiftsOf(t, s, "Tutor"), 2)
}

func TestCategoriesAreIndependentForCollisions(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateCategory("Tutor"))
	require.NoError(t, s.CreateCategory("Lab"))
	require.NoError(t, s.AddShift("Tutor", shift(t, model.Friday, "1:00 PM", "3:00 PM")))
	require.NoError(t, s.AddShift("Lab", shift(t, model.Friday, "2:00 PM", "4:00 PM")))
}

func TestCanonicalOrderAfterAdds(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateCategory("Desk"))
	adds := []model.ShiftRecord{
		shift(t, model.Sunday, "1:00 PM", "2:00 PM"),
		shift(t, model.Wednesday, "3:00 PM", "4:00 PM"),
		shift(t, model.Monday, "6:00 PM", "7:00 PM"),
		shift(t, model.Wednesday, "8:00 AM", "9:00 AM"),
		shift(t, model.Monday, "12:00 AM", "1:00 AM"),
		shift(t, model.Saturday, "12:00 PM", "12:30 PM"),
	}
	for _, rec := range adds {
		require.NoError(t, s.AddShift("Desk", rec))
	}

	got := shiftsOf(t, s, "Desk")
	require.Len(t, got, len(adds))
	for i := 1; i < len(got); i++ {
		prev, cur := got[i-1], got[i]
		ordered := prev.Day < cur.Day || (prev.Day == cur.Day && prev.Start <= cur.Start)
		assert.True(t, ordered, "%s before %s", prev, cur)
	}
}

func TestAddDeleteRoundTrip(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateCategory("Tutor"))
	require.NoError(t, s.AddShift("Tutor", shift(t, model.Tuesday, "10:00 AM", "11:00 AM")))
	before := shiftsOf(t, s, "Tutor")

	rec, err := model.NewShiftRecord(model.Thursday, "1:00 PM", "2:30 PM", "review")
	require.NoError(t, err)
	require.NoError(t, s.AddShift("Tutor", rec))
	require.NoError(t, s.DeleteShift("Tutor", rec))

	assert.Equal(t, before, shiftsOf(t, s, "Tutor"))
}

func TestDeleteShiftRequiresAllFieldsToMatch(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateCategory("Tutor"))
	rec, err := model.NewShiftRecord(model.Thursday, "1:00 PM", "2:30 PM", "review")
	require.NoError(t, err)
	require.NoError(t, s.AddShift("Tutor", rec))

	other := rec
	other.Comment = ""
	require.NoError(t, s.DeleteShift("Tutor", other))
	assert.Len(t, shiftsOf(t, s, "Tutor"), 1)

	require.NoError(t, s.DeleteShift("Missing", rec))
}

func TestAddShiftUnknownCategory(t *testing.T) {
	s := newTestStore(t)
	err := s.AddShift("Nope", shift(t, model.Monday, "9:00 AM", "10:00 AM"))
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestAddShiftRejectsInvertedTimes(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateCategory("Tutor"))
	bad := model.ShiftRecord{Day: model.Monday, Start: model.MustClock("5:00 PM"), End: model.MustClock("9:00 AM")}
	assert.ErrorIs(t, s.AddShift("Tutor", bad), model.ErrValidation)
}

func TestReplaceShift(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateCategory("Tutor"))
	a := shift(t, model.Monday, "9:00 AM", "11:00 AM")
	b := shift(t, model.Monday, "1:00 PM", "3:00 PM")
	require.NoError(t, s.AddShift("Tutor", a))
	require.NoError(t, s.AddShift("Tutor", b))

	// Extending a into its own old slot is fine.
	wider := shift(t, model.Monday, "8:00 AM", "12:00 PM")
	require.NoError(t, s.ReplaceShift("Tutor", a, wider))
	assert.Equal(t, []model.ShiftRecord{wider, b}, shiftsOf(t, s, "Tutor"))

	// Overlapping b is rejected and nothing changes.
	clash := shift(t, model.Monday, "11:00 AM", "2:00 PM")
	assert.ErrorIs(t, s.ReplaceShift("Tutor", wider, clash), model.ErrCollision)
	assert.Equal(t, []model.ShiftRecord{wider, b}, shiftsOf(t, s, "Tutor"))

	assert.ErrorIs(t, s.ReplaceShift("Tutor", a, clash), model.ErrNotFound)
}

func TestCategoryLifecycle(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateCategory("Tutor"))
	assert.ErrorIs(t, s.CreateCategory("tutor"), model.ErrDuplicate)
	assert.ErrorIs(t, s.CreateCategory(FailureSheet), model.ErrValidation)
	assert.ErrorIs(t, s.CreateCategory("  "), model.ErrValidation)

	require.NoError(t, s.AddShift("Tutor", shift(t, model.Monday, "9:00 AM", "10:00 AM")))
	require.NoError(t, s.DeleteCategory("Tutor"))
	assert.ErrorIs(t, s.DeleteCategory("Tutor"), model.ErrNotFound)

	cats, err := s.ListCategories()
	require.NoError(t, err)
	assert.Empty(t, cats)
}

func TestEmptyCategoryPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shift.xlsx")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.CreateCategory("Empty One"))

	reopened, err := Open(path)
	require.NoError(t, err)
	cats, err := reopened.ListCategories()
	require.NoError(t, err)
	require.Len(t, cats, 1)
	assert.Equal(t, "Empty One", cats[0].Name)
	assert.Empty(t, cats[0].Shifts)
}

func TestCreateCategoriesBulk(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateCategory("Tutor"))

	created, err := s.CreateCategories([]string{"Tutor", "Lab Assistant [Chem]", "", "Library/Desk"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Lab Assistant Chem", "LibraryDesk"}, created)

	cats, err := s.ListCategories()
	require.NoError(t, err)
	names := make([]string, 0, len(cats))
	for _, c := range cats {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"Tutor", "Lab Assistant Chem", "LibraryDesk"}, names)
}

func TestCreateCategoriesShortensLongTitles(t *testing.T) {
	s := newTestStore(t)

	created, err := s.CreateCategories([]string{"Student Worker Library Circulation Desk"})
	require.NoError(t, err)
	require.Equal(t, []string{"Student Worker Library Circulat"}, created)

	cats, err := s.ListCategories()
	require.NoError(t, err)
	require.Len(t, cats, 1)
	assert.Equal(t, "Student Worker Library Circulat", cats[0].Name)

	// Syncing the same title again finds the shortened category.
	created, err = s.CreateCategories([]string{"Student Worker Library Circulation Desk"})
	require.NoError(t, err)
	assert.Empty(t, created)
}

func TestListPicksUpExternalEdits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shift.xlsx")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.CreateCategory("Tutor"))

	other, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, other.AddShift("Tutor", shift(t, model.Friday, "9:00 AM", "10:00 AM")))

	assert.Len(t, shiftsOf(t, s, "Tutor"), 1)
}

func TestCorruptWorkbookIsReinitialized(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shift.xlsx")
	require.NoError(t, os.WriteFile(path, []byte("definitely not a zip"), 0o600))

	s, err := Open(path)
	require.NoError(t, err)
	cats, err := s.ListCategories()
	require.NoError(t, err)
	assert.Empty(t, cats)

	matches, err := filepath.Glob(filepath.Join(dir, "shift.xlsx.corrupt-*"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestMalformedRowSurfacesStorageError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shift.xlsx")
	f := excelize.NewFile()
	require.NoError(t, f.SetSheetName("Sheet1", "Tutor"))
	require.NoError(t, f.SetSheetRow("Tutor", "A1", &[]any{"Day", "Start Time", "End Time", "Comment"}))
	require.NoError(t, f.SetSheetRow("Tutor", "A2", &[]any{"Monday", "25 o'clock", "5:00 PM"}))
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	_, err := Open(path)
	assert.ErrorIs(t, err, model.ErrStorage)
}

func TestReadsHandWrittenWorkbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shift.xlsx")
	f := excelize.NewFile()
	require.NoError(t, f.SetSheetName("Sheet1", "Lab"))
	require.NoError(t, f.SetSheetRow("Lab", "A1", &[]any{"Day", "Start Time", "End Time", "Comment"}))
	require.NoError(t, f.SetSheetRow("Lab", "A2", &[]any{"Wed", "1:00 PM", "2:00 PM"}))
	require.NoError(t, f.SetSheetRow("Lab", "A3", &[]any{"Monday", "8:00 AM", "9:00 AM", "open"}))
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	s, err := Open(path)
	require.NoError(t, err)
	got := shiftsOf(t, s, "Lab")
	require.Len(t, got, 2)
	assert.Equal(t, model.Monday, got[0].Day)
	assert.Equal(t, "open", got[0].Comment)
	assert.Equal(t, model.Wednesday, got[1].Day)
}

func TestFailureLogIsHiddenAndPersisted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shift.xlsx")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.CreateCategory("Tutor"))
	require.NoError(t, s.LogFailure("run", errors.New("login timed out")))
	_ = s.AddShift("Missing", shift(t, model.Monday, "9:00 AM", "10:00 AM"))

	failures, err := s.Failures()
	require.NoError(t, err)
	require.Len(t, failures, 2)
	assert.Equal(t, "run", failures[0].Operation)
	assert.Equal(t, "login timed out", failures[0].Message)
	assert.False(t, failures[0].Timestamp.IsZero())
	assert.Equal(t, "add_shift", failures[1].Operation)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	visible, err := f.GetSheetVisible(FailureSheet)
	require.NoError(t, err)
	assert.False(t, visible)
}

func TestConcurrentAddsSerialize(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateCategory("Tutor"))

	var wg sync.WaitGroup
	for h := 0; h < 8; h++ {
		wg.Add(1)
		go func(h int) {
			defer wg.Done()
			start := fmt.Sprintf("%d:00 AM", h+1)
			end := fmt.Sprintf("%d:30 AM", h+1)
			assert.NoError(t, s.AddShift("Tutor", shift(t, model.Monday, start, end)))
		}(h)
	}
	wg.Wait()
	assert.Len(t, shiftsOf(t, s, "Tutor"), 8)
}
