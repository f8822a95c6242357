package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"autoshift/internal/model"
)

// shiftFlags describe one weekly shift on the command line.
type shiftFlags struct {
	day, start, end, comment string
}

func (f *shiftFlags) register(cmd *cobra.Command, prefix, what string) {
	cmd.Flags().StringVar(&f.day, prefix+"day", "", "Day of week of the "+what+" (e.g. Monday)")
	cmd.Flags().StringVar(&f.start, prefix+"start", "", `Start time of the `+what+` (e.g. "9:00 AM")`)
	cmd.Flags().StringVar(&f.end, prefix+"end", "", `End time of the `+what+` (e.g. "11:00 AM")`)
	cmd.Flags().StringVar(&f.comment, prefix+"comment", "", "Comment of the "+what)
}

func (f *shiftFlags) record() (model.ShiftRecord, error) {
	day, err := model.ParseWeekday(f.day)
	if err != nil {
		return model.ShiftRecord{}, err
	}
	return model.NewShiftRecord(day, f.start, f.end, f.comment)
}

var (
	shiftCategory string
	shiftArgs     shiftFlags
	newShiftArgs  shiftFlags
)

// shiftsCmd manages the weekly shifts of a category
var shiftsCmd = &cobra.Command{
	Use:   "shifts",
	Short: "Manage weekly shifts",
	Long: `Add, edit or delete the weekly shifts of a category.

Times use a 12-hour clock with AM/PM, e.g. "9:00 AM". Two shifts on the same
day may touch (9-11 and 11-1) but not overlap.`,
}

var shiftsAddCmd = &cobra.Command{
	Use:     "add",
	Short:   "Add a weekly shift",
	Example: `  autoshift shifts add --category "Lab Assistant" --day Monday --start "9:00 AM" --end "11:00 AM"`,
	Args:    cobra.NoArgs,
	RunE:    runShiftsAdd,
}

var shiftsDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete a weekly shift",
	Args:  cobra.NoArgs,
	RunE:  runShiftsDelete,
}

var shiftsEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Replace a weekly shift",
	Example: `  autoshift shifts edit --category Lab --day Monday --start "9:00 AM" --end "11:00 AM" \
      --new-day Tuesday --new-start "9:00 AM" --new-end "12:00 PM"`,
	Args: cobra.NoArgs,
	RunE: runShiftsEdit,
}

func init() {
	for _, c := range []*cobra.Command{shiftsAddCmd, shiftsDeleteCmd, shiftsEditCmd} {
		c.Flags().StringVar(&shiftCategory, "category", "", "Category (job title)")
		_ = c.MarkFlagRequired("category")
		shiftArgs.register(c, "", "shift")
		_ = c.MarkFlagRequired("day")
		_ = c.MarkFlagRequired("start")
		_ = c.MarkFlagRequired("end")
	}
	newShiftArgs.register(shiftsEditCmd, "new-", "replacement shift")
	_ = shiftsEditCmd.MarkFlagRequired("new-day")
	_ = shiftsEditCmd.MarkFlagRequired("new-start")
	_ = shiftsEditCmd.MarkFlagRequired("new-end")

	shiftsCmd.AddCommand(shiftsAddCmd, shiftsDeleteCmd, shiftsEditCmd)
}

func runShiftsAdd(cmd *cobra.Command, _ []string) error {
	rec, err := shiftArgs.record()
	if err != nil {
		return err
	}
	a, err := openApp(conf)
	if err != nil {
		return err
	}
	if err := a.store.AddShift(shiftCategory, rec); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render(fmt.Sprintf("Added %s to %s", rec, shiftCategory)))
	return nil
}

func runShiftsDelete(cmd *cobra.Command, _ []string) error {
	rec, err := shiftArgs.record()
	if err != nil {
		return err
	}
	a, err := openApp(conf)
	if err != nil {
		return err
	}
	if err := a.store.DeleteShift(shiftCategory, rec); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render(fmt.Sprintf("Deleted %s from %s", rec, shiftCategory)))
	return nil
}

func runShiftsEdit(cmd *cobra.Command, _ []string) error {
	old, err := shiftArgs.record()
	if err != nil {
		return err
	}
	rec, err := newShiftArgs.record()
	if err != nil {
		return err
	}
	a, err := openApp(conf)
	if err != nil {
		return err
	}
	if err := a.store.ReplaceShift(shiftCategory, old, rec); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render(fmt.Sprintf("Replaced %s with %s in %s", old, rec, shiftCategory)))
	return nil
}
