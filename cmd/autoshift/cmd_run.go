package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"autoshift/internal/automation"
	"autoshift/internal/driver"
	appLog "autoshift/internal/log"
	"autoshift/internal/schedule"
)

var (
	rangeStart string
	rangeEnd   string
	assumeYes  bool
	asJSON     bool
	exportOut  string
)

// addRangeFlags registers --start/--end; both default to a range starting today.
func addRangeFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&rangeStart, "start", "", "First date (YYYY-MM-DD, default today)")
	cmd.Flags().StringVar(&rangeEnd, "end", "", "Last date, inclusive (YYYY-MM-DD, default today + schedule.horizon_days)")
}

func resolveRange() (string, string, error) {
	now := time.Now()
	start, end := rangeStart, rangeEnd
	if start == "" {
		start = now.Format(schedule.DateLayout)
	}
	if end == "" {
		end = now.AddDate(0, 0, conf.Schedule.HorizonDays).Format(schedule.DateLayout)
	}
	if _, _, err := schedule.ParseRange(start, end); err != nil {
		return "", "", err
	}
	return start, end, nil
}

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "List the shifts a run would enter",
	Args:  cobra.NoArgs,
	RunE:  runPreview,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the shifts in a date range as an iCalendar file",
	Args:  cobra.NoArgs,
	RunE:  runExport,
}

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Download a chromedriver matching the installed Chrome",
	Args:  cobra.NoArgs,
	RunE:  runProvision,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Enter shifts for a date range into the timesheet",
	Long: `Expands your weekly shifts over the date range, opens the timesheet in
Chrome and adds each shift once you have logged in.

Shifts that cannot be added (unknown job, date outside any pay period,
declined conflicts) are skipped and listed at the end.`,
	Example: `  autoshift run --start 2024-06-03 --end 2024-06-16`,
	Args:    cobra.NoArgs,
	RunE:    runRun,
}

func init() {
	for _, c := range []*cobra.Command{previewCmd, exportCmd, runCmd} {
		addRangeFlags(c)
	}
	previewCmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	exportCmd.Flags().StringVarP(&exportOut, "output", "o", "shifts.ics", "Output file (- for stdout)")
	runCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Do not ask before starting")
}

func runPreview(cmd *cobra.Command, _ []string) error {
	start, end, err := resolveRange()
	if err != nil {
		return err
	}
	a, err := openApp(conf)
	if err != nil {
		return err
	}
	cats, err := a.store.ListCategories()
	if err != nil {
		return err
	}
	occs := schedule.Expand(cats, start, end)

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(occs)
	}
	fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("%d shift(s) from %s to %s", len(occs), start, end)))
	for _, o := range occs {
		fmt.Fprintf(out, "  %s  %-6s-%-6s  %s %s\n", o.Date.Format("Mon 2006-01-02"), o.StartTime, o.EndTime, o.Category, mutedStyle.Render(o.Comment))
	}
	return nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	start, end, err := resolveRange()
	if err != nil {
		return err
	}
	a, err := openApp(conf)
	if err != nil {
		return err
	}
	cats, err := a.store.ListCategories()
	if err != nil {
		return err
	}
	occs := schedule.Expand(cats, start, end)

	if exportOut == "-" {
		return schedule.WriteICS(cmd.OutOrStdout(), occs, time.Local)
	}
	f, err := os.Create(exportOut)
	if err != nil {
		return err
	}
	if err := schedule.WriteICS(f, occs, time.Local); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render(fmt.Sprintf("Wrote %d shift(s) to %s", len(occs), exportOut)))
	return nil
}

func runProvision(cmd *cobra.Command, _ []string) error {
	a, err := openApp(conf)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	ctx := driver.WithProgress(cmd.Context(), func(msg string) {
		fmt.Fprintln(out, mutedStyle.Render(msg))
	})
	path, err := a.driver.EnsureDriver(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, okStyle.Render("chromedriver ready: "+path))
	return nil
}

func runRun(cmd *cobra.Command, _ []string) error {
	start, end, err := resolveRange()
	if err != nil {
		return err
	}
	a, err := openApp(conf)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	prompter := newConsolePrompter(cmd.InOrStdin(), out, conf.ConfirmTimeout(), assumeYes)
	engine := a.engine(conf, prompter, consoleNotifier{out: out})

	res, err := engine.Run(cmd.Context(), automation.RunRequest{Start: start, End: end})
	if res != nil && len(res.Skipped) > 0 {
		fmt.Fprintln(out, sectionStyle.Render(warnStyle.Render(fmt.Sprintf("%d shift(s) skipped:", len(res.Skipped)))))
		for _, s := range res.Skipped {
			fmt.Fprintf(out, "  %s  %s\n", s.Occurrence, mutedStyle.Render(s.Reason))
		}
	}
	if err != nil {
		appLog.Error("run failed", err)
		return err
	}
	if res.Outcome == automation.OutcomePartial {
		return errors.New("some shifts were skipped")
	}
	return nil
}
