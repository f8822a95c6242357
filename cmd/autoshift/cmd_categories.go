package main

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	appLog "autoshift/internal/log"
	"autoshift/internal/model"
)

// categoriesCmd manages the job categories (workbook sheets)
var categoriesCmd = &cobra.Command{
	Use:     "categories",
	Aliases: []string{"jobs"},
	Short:   "Manage job categories",
	Long: `Each category is one job title on the timesheet and one sheet in the
shift workbook.

Available subcommands:
  list   - Show every category and its shifts
  add    - Create an empty category
  delete - Delete a category and all of its shifts
  sync   - Log in and create a category for every job title on the timesheet`,
}

var categoriesListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show every category and its shifts",
	Args:  cobra.NoArgs,
	RunE:  runCategoriesList,
}

var categoriesAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create an empty category",
	Args:  cobra.ExactArgs(1),
	RunE:  runCategoriesAdd,
}

var categoriesDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a category and all of its shifts",
	Long: `Deletes the category and every shift in it. This cannot be undone, so you
are asked to confirm unless --yes is given.`,
	Args: cobra.ExactArgs(1),
	RunE: runCategoriesDelete,
}

var deleteYes bool

var categoriesSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Create categories from the job titles on the timesheet",
	Long: `Opens the timesheet in a browser, waits for you to log in, reads every
job title shown and creates a category for each one that does not exist yet.`,
	Args: cobra.NoArgs,
	RunE: runCategoriesSync,
}

func init() {
	categoriesDeleteCmd.Flags().BoolVarP(&deleteYes, "yes", "y", false, "Delete without asking")
	categoriesCmd.AddCommand(categoriesListCmd, categoriesAddCmd, categoriesDeleteCmd, categoriesSyncCmd)
}

func runCategoriesList(cmd *cobra.Command, _ []string) error {
	a, err := openApp(conf)
	if err != nil {
		return err
	}
	cats, err := a.store.ListCategories()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(cats) == 0 {
		fmt.Fprintln(out, mutedStyle.Render("No categories yet. Add one with `autoshift categories add <name>` or `autoshift categories sync`."))
		return nil
	}
	for _, c := range cats {
		fmt.Fprintln(out, sectionStyle.Render(titleStyle.Render(c.Name)))
		if len(c.Shifts) == 0 {
			fmt.Fprintln(out, mutedStyle.Render("  (no shifts)"))
			continue
		}
		fmt.Fprintf(out, "  %s\n", headerStyle.Render(fmt.Sprintf("%-10s %-9s %-9s %s", "Day", "Start", "End", "Comment")))
		for _, s := range c.Shifts {
			fmt.Fprintf(out, "  %-10s %-9s %-9s %s\n", s.Day, s.Start, s.End, s.Comment)
		}
	}
	return nil
}

func runCategoriesAdd(cmd *cobra.Command, args []string) error {
	a, err := openApp(conf)
	if err != nil {
		return err
	}
	if err := a.store.CreateCategory(args[0]); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render("Created category "+args[0]))
	return nil
}

func runCategoriesDelete(cmd *cobra.Command, args []string) error {
	a, err := openApp(conf)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	var ask func(context.Context, string) (bool, error)
	if !deleteYes {
		ask = newConsolePrompter(cmd.InOrStdin(), out, conf.ConfirmTimeout(), false).confirm
	}
	return deleteCategory(cmd.Context(), a.store, args[0], ask, out)
}

type categoryStore interface {
	ListCategories() ([]model.Category, error)
	DeleteCategory(name string) error
}

// deleteCategory removes a category once ask approves; a nil ask deletes
// without asking.
func deleteCategory(ctx context.Context, st categoryStore, name string, ask func(context.Context, string) (bool, error), out io.Writer) error {
	cats, err := st.ListCategories()
	if err != nil {
		return err
	}
	i := slices.IndexFunc(cats, func(c model.Category) bool { return strings.EqualFold(c.Name, name) })
	if i < 0 {
		return fmt.Errorf("category %q: %w", name, model.ErrNotFound)
	}
	cat := cats[i]

	if ask != nil {
		ok, err := ask(ctx, fmt.Sprintf("Delete %q and its %d shift(s)? This cannot be undone.", cat.Name, len(cat.Shifts)))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(out, mutedStyle.Render("Nothing deleted."))
			return nil
		}
	}

	if err := st.DeleteCategory(cat.Name); err != nil {
		return err
	}
	fmt.Fprintln(out, okStyle.Render("Deleted category "+cat.Name))
	return nil
}

func runCategoriesSync(cmd *cobra.Command, _ []string) error {
	a, err := openApp(conf)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	prompter := newConsolePrompter(cmd.InOrStdin(), out, conf.ConfirmTimeout(), true)
	engine := a.engine(conf, prompter, consoleNotifier{out: out})

	fmt.Fprintln(out, mutedStyle.Render("Log in to the timesheet in the browser window that opens."))
	names, err := engine.CollectCategories(cmd.Context())
	if err != nil {
		return err
	}
	created, err := a.store.CreateCategories(names)
	if err != nil {
		return err
	}
	appLog.Info("categories synced", "found", len(names), "created", len(created))
	for _, n := range names {
		mark := mutedStyle.Render("exists ")
		for _, c := range created {
			if c == n {
				mark = okStyle.Render("created")
			}
		}
		fmt.Fprintf(out, "  %s %s\n", mark, n)
	}
	return nil
}
