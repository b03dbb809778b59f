package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/pocketdo/pocketdo/internal/store"
	"github.com/pocketdo/pocketdo/internal/task"
	"github.com/pocketdo/pocketdo/internal/ui"
)

var (
	addDescription string
	addCategory    string
	addTags        []string
	addPriority    string
	addDue         string

	listAll bool
)

var addCmd = &cobra.Command{
	Use:     "add <title>",
	GroupID: "tasks",
	Short:   "Create a task",
	Long: `Create a task in the local store.

The task is created offline with a locally generated id and queued as a
pending change for the next sync cycle. Due dates accept natural language:

  pocketdo add "Buy milk" --due "tomorrow at 5pm"`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		st := openStore()
		defer st.Close()

		t := task.New(cfg.OwnerID, strings.Join(args, " "))
		t.Description = addDescription
		t.Category = addCategory
		t.Tags = addTags
		if addPriority != "" {
			t.Priority = task.Priority(addPriority)
		}

		if addDue != "" {
			due, err := parseNaturalTime(addDue)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			t.EndAt = &due
		}

		if err := st.UpsertLocal(context.Background(), t); err != nil {
			fmt.Fprintf(os.Stderr, "Error creating task: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Created %s\n", ui.RenderPass("✓"), ui.RenderTitle(t.Title))
		fmt.Printf("   id: %s\n", ui.RenderDim(t.ID))
		if t.EndAt != nil {
			fmt.Printf("   due: %s\n", t.EndAt.Local().Format("2006-01-02 15:04"))
		}
	},
}

var listCmd = &cobra.Command{
	Use:     "list",
	GroupID: "tasks",
	Short:   "List tasks",
	Long: `List active tasks, most recently updated first.

Completed tasks are hidden unless --all is given. Tombstoned (locally
deleted) tasks are never shown.`,
	Run: func(cmd *cobra.Command, args []string) {
		st := openStore()
		defer st.Close()

		tasks, err := st.QueryActive(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing tasks: %v\n", err)
			os.Exit(1)
		}

		shown := 0
		for _, t := range tasks {
			if t.Completed && !listAll {
				continue
			}
			shown++

			marker := " "
			if t.Completed {
				marker = ui.RenderPass("✓")
			}
			fmt.Printf("%s %s  %s\n", marker, ui.RenderTitle(t.Title),
				ui.RenderDim(shortID(t.ID)))
			fmt.Printf("   %s · %s", ui.RenderPriority(t.Priority),
				ui.RenderRecordStatus(t.Status))
			if t.Category != "" {
				fmt.Printf(" · %s", t.Category)
			}
			if len(t.Tags) > 0 {
				fmt.Printf(" · %s", strings.Join(t.Tags, ", "))
			}
			if t.EndAt != nil {
				fmt.Printf(" · due %s", t.EndAt.Local().Format("Jan 2 15:04"))
			}
			fmt.Println()
		}

		if shown == 0 {
			fmt.Printf("%s No tasks\n", ui.RenderDim("·"))
		}
	},
}

var (
	editTitle       string
	editDescription string
	editCategory    string
	editPriority    string
	editDue         string
)

var editCmd = &cobra.Command{
	Use:     "edit <id>",
	GroupID: "tasks",
	Short:   "Edit a task",
	Long: `Edit fields of an existing task.

Only the flags you pass are changed. The edit is applied locally and queued
as a pending change; if the server has a conflicting edit, the newer
timestamp wins on the next sync cycle.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		st := openStore()
		defer st.Close()

		t := mustResolve(st, args[0])

		if cmd.Flags().Changed("title") {
			t.Title = editTitle
		}
		if cmd.Flags().Changed("description") {
			t.Description = editDescription
		}
		if cmd.Flags().Changed("category") {
			t.Category = editCategory
		}
		if cmd.Flags().Changed("priority") {
			t.Priority = task.Priority(editPriority)
		}
		if cmd.Flags().Changed("due") {
			if editDue == "" {
				t.EndAt = nil
			} else {
				due, err := parseNaturalTime(editDue)
				if err != nil {
					fmt.Fprintf(os.Stderr, "Error: %v\n", err)
					os.Exit(1)
				}
				t.EndAt = &due
			}
		}

		if err := st.UpsertLocal(context.Background(), t); err != nil {
			fmt.Fprintf(os.Stderr, "Error updating task: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s Updated %s\n", ui.RenderPass("✓"), ui.RenderTitle(t.Title))
	},
}

var doneCmd = &cobra.Command{
	Use:     "done <id>",
	GroupID: "tasks",
	Short:   "Mark a task completed",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		st := openStore()
		defer st.Close()

		t := mustResolve(st, args[0])
		t.Completed = true

		if err := st.UpsertLocal(context.Background(), t); err != nil {
			fmt.Fprintf(os.Stderr, "Error updating task: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s Done: %s\n", ui.RenderPass("✓"), t.Title)
	},
}

var rmCmd = &cobra.Command{
	Use:     "rm <id>",
	GroupID: "tasks",
	Short:   "Delete a task",
	Long: `Delete a task.

The task becomes a tombstone: it disappears from listings immediately and
is purged once the server acknowledges the delete on the next sync cycle.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		st := openStore()
		defer st.Close()

		t := mustResolve(st, args[0])
		if err := st.MarkDeleted(context.Background(), t.ID); err != nil {
			fmt.Fprintf(os.Stderr, "Error deleting task: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s Deleted %s\n", ui.RenderPass("✓"), t.Title)
	},
}

// mustResolve finds a task by full id or unambiguous prefix.
func mustResolve(st *store.Store, id string) *task.Task {
	ctx := context.Background()

	t, err := st.Get(ctx, id)
	if err == nil {
		return t
	}
	if !errors.Is(err, store.ErrNotFound) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Prefix match against the active list.
	tasks, err := st.QueryActive(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var matches []*task.Task
	for _, cand := range tasks {
		if strings.HasPrefix(cand.ID, id) {
			matches = append(matches, cand)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0]
	case 0:
		fmt.Fprintf(os.Stderr, "Error: no task matches %q\n", id)
	default:
		fmt.Fprintf(os.Stderr, "Error: %q is ambiguous (%d matches)\n", id, len(matches))
	}
	os.Exit(1)
	return nil
}

// parseNaturalTime parses natural-language expressions like "tomorrow 5pm".
func parseNaturalTime(text string) (time.Time, error) {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	r, err := w.Parse(text, time.Now())
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse time %q: %w", text, err)
	}
	if r == nil {
		// Fall back to a plain date.
		if t, perr := time.ParseInLocation("2006-01-02", text, time.Local); perr == nil {
			return t, nil
		}
		return time.Time{}, fmt.Errorf("could not understand time %q", text)
	}
	return r.Time, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	addCmd.Flags().StringVarP(&addDescription, "description", "d", "", "task description")
	addCmd.Flags().StringVarP(&addCategory, "category", "c", "", "task category")
	addCmd.Flags().StringSliceVarP(&addTags, "tag", "t", nil, "task tags (repeatable)")
	addCmd.Flags().StringVarP(&addPriority, "priority", "p", "", "priority: low, medium, high")
	addCmd.Flags().StringVar(&addDue, "due", "", "due date (natural language)")

	listCmd.Flags().BoolVarP(&listAll, "all", "a", false, "include completed tasks")

	editCmd.Flags().StringVar(&editTitle, "title", "", "new title")
	editCmd.Flags().StringVarP(&editDescription, "description", "d", "", "new description")
	editCmd.Flags().StringVarP(&editCategory, "category", "c", "", "new category")
	editCmd.Flags().StringVarP(&editPriority, "priority", "p", "", "new priority: low, medium, high")
	editCmd.Flags().StringVar(&editDue, "due", "", "new due date (empty clears it)")

	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(doneCmd)
	rootCmd.AddCommand(rmCmd)
}
