package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BuzzLyutic/todo-store/internal/config"
	"github.com/BuzzLyutic/todo-store/internal/model"
	"github.com/BuzzLyutic/todo-store/internal/store"
)

// withApp opens the app for a short CLI command. Store open failures are
// returned instead of exiting from inside the logger.
func withApp(cmd *cobra.Command, cfg config.Config, fn func(ctx context.Context, a *app) error) error {
	logger := newLogger(cfg, false)
	defer logger.Sync()

	a, err := openApp(cmd.Context(), cfg, logger, store.WithFatalHandler(func(err error) {
		logger.Error("failed to open record store", zap.Error(err))
	}))
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(cmd.Context(), a)
}

func listCmd(cfg *config.Config) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List todos, newest first (seeds from the remote service on first run)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, *cfg, func(ctx context.Context, a *app) error {
				tasks, err := a.service.LoadInitial(ctx)
				if err != nil {
					return fmt.Errorf("load todos: %w", err)
				}
				return printTasks(cmd.OutOrStdout(), tasks, asJSON)
			})
		},
	}
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "output as JSON")
	return cmd
}

func searchCmd(cfg *config.Config) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Find todos by title or details, ignoring case and accents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, *cfg, func(ctx context.Context, a *app) error {
				tasks, err := a.service.Search(ctx, strings.Join(args, " "))
				if err != nil {
					return fmt.Errorf("search failed: %w", err)
				}
				return printTasks(cmd.OutOrStdout(), tasks, asJSON)
			})
		},
	}
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "output as JSON")
	return cmd
}

func addCmd(cfg *config.Config) *cobra.Command {
	var details string
	cmd := &cobra.Command{
		Use:   "add [title]",
		Short: "Add a todo",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, *cfg, func(ctx context.Context, a *app) error {
				var d *string
				if cmd.Flags().Changed("details") {
					d = &details
				}
				task, err := a.service.Create(ctx, strings.Join(args, " "), d)
				if err != nil {
					return fmt.Errorf("add todo: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added #%d\n", task.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&details, "details", "d", "", "details")
	return cmd
}

func editCmd(cfg *config.Config) *cobra.Command {
	var (
		title   string
		details string
	)
	cmd := &cobra.Command{
		Use:   "edit [id]",
		Short: "Change the title or details of a todo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var patch model.TaskPatch
			if cmd.Flags().Changed("title") {
				patch.Title = &title
			}
			if cmd.Flags().Changed("details") {
				patch.Details = &details
			}
			if patch.Title == nil && patch.Details == nil {
				return fmt.Errorf("nothing to change: pass --title or --details")
			}

			return withApp(cmd, *cfg, func(ctx context.Context, a *app) error {
				task, err := a.service.Update(ctx, id, patch)
				if err != nil {
					return fmt.Errorf("edit todo %d: %w", id, err)
				}
				return printTasks(cmd.OutOrStdout(), []model.Task{task}, false)
			})
		},
	}
	cmd.Flags().StringVarP(&title, "title", "t", "", "new title")
	cmd.Flags().StringVarP(&details, "details", "d", "", "new details, empty to clear")
	return cmd
}

func doneCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "done [id]",
		Short: "Toggle the completion of a todo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, *cfg, func(ctx context.Context, a *app) error {
				task, err := a.service.Toggle(ctx, id)
				if err != nil {
					return fmt.Errorf("toggle todo %d: %w", id, err)
				}
				return printTasks(cmd.OutOrStdout(), []model.Task{task}, false)
			})
		},
	}
}

func rmCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "rm [id]",
		Short: "Delete a todo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, *cfg, func(ctx context.Context, a *app) error {
				if err := a.service.Delete(ctx, id); err != nil {
					return fmt.Errorf("delete todo %d: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted #%d\n", id)
				return nil
			})
		},
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func printTasks(w io.Writer, tasks []model.Task, asJSON bool) error {
	if asJSON {
		if tasks == nil {
			tasks = []model.Task{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(tasks)
	}

	if len(tasks) == 0 {
		fmt.Fprintln(w, "No todos.")
		return nil
	}
	for _, t := range tasks {
		mark := " "
		if t.IsCompleted {
			mark = "x"
		}
		fmt.Fprintf(w, "[%s] %4d  %s\n", mark, t.ID, t.Title)
		if t.Details != nil {
			fmt.Fprintf(w, "           %s\n", *t.Details)
		}
	}
	return nil
}
