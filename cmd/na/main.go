package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"nextaction/internal/app"
	"nextaction/internal/config"
	"nextaction/internal/db"
	"nextaction/internal/domain"
	"nextaction/internal/engine"
	"nextaction/internal/ranking"
	"nextaction/internal/repo"
	"nextaction/internal/server"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "na",
	Short: "NextAction CLI",
	Long: `NextAction is a GTD backend with gated transitions.
Everything starts in the inbox. Clarifying an item into a next action runs it
through a quality gate: vague text is bounced back with reasons instead of
polluting your task list. Completion needs evidence, projects need a designated
next action before they can be active, and every decision lands in the audit
log.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("NEXTACTION")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local", "actor identifier for the audit log")
	rootCmd.PersistentFlags().Bool("force", false, "override a gate (recorded in the audit log)")
	rootCmd.PersistentFlags().String("override-reason", "", "why the gate is being overridden")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("force", rootCmd.PersistentFlags().Lookup("force"))
	_ = viper.BindPFlag("override-reason", rootCmd.PersistentFlags().Lookup("override-reason"))
}

func registerCommands() {
	rootCmd.AddCommand(captureCmd())
	rootCmd.AddCommand(inboxCmd())
	rootCmd.AddCommand(clarifyCmd())
	rootCmd.AddCommand(transitionCmd())
	rootCmd.AddCommand(nowCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(artifactCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(remindersCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(keyCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(versionCmd())
}

func transitionOpts() engine.TransitionOptions {
	return engine.TransitionOptions{
		Force:          viper.GetBool("force"),
		OverrideReason: viper.GetString("override-reason"),
	}
}

func captureCmd() *cobra.Command {
	var body, source string
	cmd := &cobra.Command{
		Use:   "capture <title>",
		Short: "Capture a thought into the inbox",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if source == "" {
					source = "cli"
				}
				it, err := a.Engine.Capture(ctx, args[0], body, source)
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
	cmd.Flags().StringVar(&body, "body", "", "free-form notes")
	cmd.Flags().StringVar(&source, "source", "", "capture source")
	return cmd
}

func inboxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inbox",
		Short: "List unclarified items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.Repo.ListItems(ctx, repo.ItemFilters{State: domain.StateInbox})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Source", "Captured"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.ID, it.Title, it.Source, it.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func clarifyCmd() *cobra.Command {
	var payload engine.TransitionPayload
	var disposition, actionText, taskContext, energy string
	var estimated int
	var dueDate, projectID, waitingOn, followUpAt string
	cmd := &cobra.Command{
		Use:   "clarify <item-id>",
		Short: "Clarify an inbox item into a GTD bucket",
		Long: `Dispositions: next_action, project, waiting, someday, reference, trash.
A next_action runs the quality gate; if the action text is vague the item is
parked in CLARIFYING with the reasons printed, ready for another try.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload.ActionText = actionText
			payload.Context = taskContext
			payload.Energy = energy
			if cmd.Flags().Changed("estimate") {
				payload.EstimatedMinutes = &estimated
			}
			payload.DueDate = optionalString(dueDate)
			payload.ProjectID = optionalString(projectID)
			payload.WaitingOn = optionalString(waitingOn)
			payload.FollowUpAt = optionalString(followUpAt)
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.Disposition(ctx, args[0], disposition, payload, viper.GetString("actor-id"), transitionOpts())
				if err != nil {
					return renderGateError(err, res)
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&disposition, "as", "", "disposition (next_action, project, waiting, someday, reference, trash)")
	cmd.Flags().StringVar(&actionText, "action", "", "concrete next action text")
	cmd.Flags().StringVar(&taskContext, "context", "", "context (calls, errands, computer, deep_work)")
	cmd.Flags().StringVar(&energy, "energy", "", "energy (low, medium, high)")
	cmd.Flags().IntVar(&estimated, "estimate", 0, "estimated minutes")
	cmd.Flags().StringVar(&dueDate, "due", "", "due date (RFC3339)")
	cmd.Flags().StringVar(&projectID, "project", "", "file the task under this project")
	cmd.Flags().StringVar(&waitingOn, "waiting-on", "", "who or what this is waiting on")
	cmd.Flags().StringVar(&followUpAt, "follow-up", "", "follow-up reminder time (RFC3339)")
	_ = cmd.MarkFlagRequired("as")
	return cmd
}

func transitionCmd() *cobra.Command {
	var payload engine.TransitionPayload
	var target, actionText, snoozedUntil, waitingOn, followUpAt string
	cmd := &cobra.Command{
		Use:   "transition <item-id>",
		Short: "Move an item to a target state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload.ActionText = actionText
			payload.SnoozedUntil = optionalString(snoozedUntil)
			payload.WaitingOn = optionalString(waitingOn)
			payload.FollowUpAt = optionalString(followUpAt)
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.ExecuteTransition(ctx, args[0], target, payload, viper.GetString("actor-id"), transitionOpts())
				if err != nil {
					return renderGateError(err, res)
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&target, "to", "", "target state (ACTIONABLE, DONE, SNOOZED, WAITING, ...)")
	cmd.Flags().StringVar(&actionText, "action", "", "action text for the ACTIONABLE gate")
	cmd.Flags().StringVar(&snoozedUntil, "until", "", "wake time for SNOOZED (RFC3339)")
	cmd.Flags().StringVar(&waitingOn, "waiting-on", "", "who or what this is waiting on")
	cmd.Flags().StringVar(&followUpAt, "follow-up", "", "follow-up reminder time (RFC3339)")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func nowCmd() *cobra.Command {
	var minutes int
	var energy, taskContext, mode string
	cmd := &cobra.Command{
		Use:   "now",
		Short: "What should I work on right now?",
		Long:  "Wakes due snoozes, then ranks every eligible task by urgency, importance, leverage, staleness, and quick-win potential.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if _, err := a.Engine.WakeSnoozedTasks(ctx); err != nil {
					return err
				}
				now := time.Now().UTC()
				cands, err := a.Engine.Repo.RankingCandidates(ctx, now)
				if err != nil {
					return err
				}
				opts := ranking.Options{
					Filters: ranking.Filters{
						TimeAvailable: minutes,
						Energy:        energy,
						Context:       taskContext,
					},
					Mode: mode,
				}
				ranked, excluded := ranking.Rank(now, cands, opts, a.RankCfg.Get())
				if viper.GetBool("json") {
					return printJSON(map[string]any{"ranked": ranked, "excluded": excluded})
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"#", "Action", "Context", "Energy", "Score", "Why"})
				for i, r := range ranked {
					tw.AppendRow(table.Row{i + 1, r.Task.ActionText, r.Task.Context, r.Task.Energy,
						fmt.Sprintf("%.1f", r.Score), strings.Join(r.ReasonTags, ", ")})
				}
				tw.Render()
				for _, ex := range excluded {
					fmt.Printf("excluded: %s (%s)\n", ex.Task.ActionText, ex.Reason)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&minutes, "time", 0, "minutes available")
	cmd.Flags().StringVar(&energy, "energy", "", "current energy (low, medium, high)")
	cmd.Flags().StringVar(&taskContext, "context", "", "current context (calls, errands, computer, deep_work)")
	cmd.Flags().StringVar(&mode, "mode", "", "filter mode (strict or soft)")
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Manage tasks"}
	task.AddCommand(taskListCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskPatchCmd())
	task.AddCommand(taskWakeCmd())
	return task
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				tasks, err := a.Engine.Repo.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Action", "Status", "Context", "Due", "Project"})
				for _, t := range tasks {
					due := ""
					if t.DueDate != nil {
						due = *t.DueDate
					}
					project := ""
					if t.ProjectID != nil {
						project = *t.ProjectID
					}
					tw.AppendRow(table.Row{t.ID, t.ActionText, t.Status, t.Context, due, project})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.ProjectID, "project", "", "project filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter (open, done)")
	return cmd
}

func taskShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.Repo.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskPatchCmd() *cobra.Command {
	var actionText, taskContext, energy, dueDate, snoozedUntil, projectID string
	var estimated, pinned, manualRank, priority int
	var clearDue, clearSnooze, clearPinned, clearManual, clearEstimate, clearProject bool
	cmd := &cobra.Command{
		Use:   "patch <id>",
		Short: "Edit task metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch engine.TaskPatch
			if cmd.Flags().Changed("action") {
				patch.ActionText = &actionText
			}
			if cmd.Flags().Changed("context") {
				patch.Context = &taskContext
			}
			if cmd.Flags().Changed("energy") {
				patch.Energy = &energy
			}
			if cmd.Flags().Changed("estimate") {
				patch.EstimatedMinutes = &estimated
			}
			if cmd.Flags().Changed("due") {
				patch.DueDate = &dueDate
			}
			if cmd.Flags().Changed("until") {
				patch.SnoozedUntil = &snoozedUntil
			}
			if cmd.Flags().Changed("pin") {
				patch.PinnedOrder = &pinned
			}
			if cmd.Flags().Changed("rank") {
				patch.ManualRank = &manualRank
			}
			if cmd.Flags().Changed("priority") {
				patch.Priority = &priority
			}
			if cmd.Flags().Changed("project") {
				patch.ProjectID = &projectID
			}
			patch.ClearDueDate = clearDue
			patch.ClearSnooze = clearSnooze
			patch.ClearPinned = clearPinned
			patch.ClearManualRank = clearManual
			patch.ClearEstimate = clearEstimate
			patch.ClearProject = clearProject
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.UpdateTask(ctx, args[0], patch)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&actionText, "action", "", "action text")
	cmd.Flags().StringVar(&taskContext, "context", "", "context")
	cmd.Flags().StringVar(&energy, "energy", "", "energy")
	cmd.Flags().IntVar(&estimated, "estimate", 0, "estimated minutes")
	cmd.Flags().StringVar(&dueDate, "due", "", "due date (RFC3339)")
	cmd.Flags().StringVar(&snoozedUntil, "until", "", "snooze wake time (RFC3339)")
	cmd.Flags().IntVar(&pinned, "pin", 0, "pinned order")
	cmd.Flags().IntVar(&manualRank, "rank", 0, "manual rank")
	cmd.Flags().IntVar(&priority, "priority", 0, "priority (0-10)")
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	cmd.Flags().BoolVar(&clearDue, "clear-due", false, "clear due date")
	cmd.Flags().BoolVar(&clearSnooze, "clear-snooze", false, "clear snooze")
	cmd.Flags().BoolVar(&clearPinned, "clear-pin", false, "clear pinned order")
	cmd.Flags().BoolVar(&clearManual, "clear-rank", false, "clear manual rank")
	cmd.Flags().BoolVar(&clearEstimate, "clear-estimate", false, "clear estimate")
	cmd.Flags().BoolVar(&clearProject, "clear-project", false, "detach from project")
	return cmd
}

func taskWakeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wake",
		Short: "Wake snoozed tasks whose time has come",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				n, err := a.Engine.WakeSnoozedTasks(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]int{"woke": n})
				}
				fmt.Printf("woke %d task(s)\n", n)
				return nil
			})
		},
	}
	return cmd
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectEditCmd())
	prj.AddCommand(projectStatusCmd())
	prj.AddCommand(projectCompleteCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var outcome, dueDate, themeTag string
	var priority int
	var focus bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.ProjectCreateOptions{
				OutcomeStatement: outcome,
				DueDate:          optionalString(dueDate),
				ThemeTag:         optionalString(themeTag),
				FocusThisWeek:    focus,
			}
			if cmd.Flags().Changed("priority") {
				opts.Priority = &priority
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.CreateProject(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&outcome, "outcome", "", "outcome statement (what done looks like)")
	cmd.Flags().StringVar(&dueDate, "due", "", "due date (RFC3339)")
	cmd.Flags().IntVar(&priority, "priority", 0, "priority (0-10)")
	cmd.Flags().BoolVar(&focus, "focus", false, "mark as this week's focus")
	cmd.Flags().StringVar(&themeTag, "theme", "", "theme tag")
	_ = cmd.MarkFlagRequired("outcome")
	return cmd
}

func projectListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				ps, err := a.Engine.Repo.ListProjects(ctx, status)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(ps)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Outcome", "Status", "Next action", "Focus"})
				for _, p := range ps {
					next := ""
					if p.NextActionTaskID != nil {
						next = *p.NextActionTaskID
					}
					tw.AppendRow(table.Row{p.ID, p.OutcomeStatement, p.Status, next, p.FocusThisWeek})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	return cmd
}

func projectShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.Repo.GetProject(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func projectEditCmd() *cobra.Command {
	var outcome, nextAction, dueDate, themeTag, waitingOn string
	var priority int
	var focus bool
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Edit a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch engine.ProjectPatch
			if cmd.Flags().Changed("outcome") {
				patch.OutcomeStatement = &outcome
			}
			if cmd.Flags().Changed("next-action") {
				patch.NextActionTaskID = &nextAction
			}
			if cmd.Flags().Changed("due") {
				patch.DueDate = &dueDate
			}
			if cmd.Flags().Changed("priority") {
				patch.Priority = &priority
			}
			if cmd.Flags().Changed("focus") {
				patch.FocusThisWeek = &focus
			}
			if cmd.Flags().Changed("theme") {
				patch.ThemeTag = &themeTag
			}
			if cmd.Flags().Changed("waiting-on") {
				patch.WaitingOn = &waitingOn
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.UpdateProject(ctx, args[0], patch, viper.GetString("actor-id"), transitionOpts())
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&outcome, "outcome", "", "outcome statement")
	cmd.Flags().StringVar(&nextAction, "next-action", "", "designated next action task id (empty clears)")
	cmd.Flags().StringVar(&dueDate, "due", "", "due date (RFC3339, empty clears)")
	cmd.Flags().IntVar(&priority, "priority", 0, "priority (0-10)")
	cmd.Flags().BoolVar(&focus, "focus", false, "mark as this week's focus")
	cmd.Flags().StringVar(&themeTag, "theme", "", "theme tag (empty clears)")
	cmd.Flags().StringVar(&waitingOn, "waiting-on", "", "who or what this is waiting on (empty clears)")
	return cmd
}

func projectStatusCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "status <id>",
		Short: "Change a project's status",
		Long:  "Moving a project to ACTIVE runs the readiness gate: a real outcome statement plus a designated, actionable, unsnoozed next action.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.SetProjectStatus(ctx, args[0], status, viper.GetString("actor-id"), transitionOpts())
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&status, "to", "", "new status")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func projectCompleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Mark a project done",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.CompleteProject(ctx, args[0], viper.GetString("actor-id"), transitionOpts())
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func artifactCmd() *cobra.Command {
	art := &cobra.Command{Use: "artifact", Short: "Manage evidence artifacts"}
	art.AddCommand(artifactAddCmd())
	art.AddCommand(artifactListCmd())
	return art
}

func artifactAddCmd() *cobra.Command {
	var artifactType, content, filePointer string
	cmd := &cobra.Command{
		Use:   "add <item-id>",
		Short: "Attach an artifact to an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if _, err := a.Engine.Repo.GetItem(ctx, args[0]); err != nil {
					return err
				}
				art := domain.Artifact{
					ID:           uuid.New().String(),
					ItemID:       args[0],
					ArtifactType: artifactType,
					Content:      optionalString(content),
					FilePointer:  optionalString(filePointer),
					CreatedAt:    time.Now().UTC().Format(time.RFC3339),
				}
				if err := a.Engine.Repo.InsertArtifact(ctx, art); err != nil {
					return err
				}
				return printJSONOrTable(art)
			})
		},
	}
	cmd.Flags().StringVar(&artifactType, "type", "note", "artifact type (draft, email, decision, note, file)")
	cmd.Flags().StringVar(&content, "content", "", "inline content")
	cmd.Flags().StringVar(&filePointer, "file", "", "file pointer")
	return cmd
}

func artifactListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <item-id>",
		Short: "List an item's artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				as, err := a.Engine.Repo.ListArtifactsByItem(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(as)
			})
		},
	}
	return cmd
}

func auditCmd() *cobra.Command {
	var itemID string
	var limit int
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the transition audit log",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				var entries []domain.AuditEntry
				var err error
				if itemID != "" {
					entries, err = a.Engine.Repo.ListAuditByItem(ctx, itemID)
				} else {
					entries, err = a.Engine.Repo.ListAudit(ctx, limit, 0)
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Item", "From", "To", "Decision", "Actor", "Reasons", "TS"})
				for _, e := range entries {
					tw.AppendRow(table.Row{e.ID, e.ItemID, e.FromState, e.ToStateAttempted, e.Decision,
						e.Actor, strings.Join(e.Reasons, "; "), e.TS})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&itemID, "item", "", "show history for one item")
	cmd.Flags().IntVar(&limit, "n", 20, "number of entries")
	return cmd
}

func remindersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reminders",
		Short: "List due reminders",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				rems, err := a.Engine.Repo.DueReminders(ctx, time.Now().UTC().Format(time.RFC3339))
				if err != nil {
					return err
				}
				return printJSONOrTable(rems)
			})
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Workspace configuration"}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configCheckCmd())
	cfg.AddCommand(configInvalidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default nextaction.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	}
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return printJSONOrTable(map[string]any{
					"config":  a.Config,
					"ranking": a.RankCfg.Get(),
				})
			})
		},
	}
	return cmd
}

func configCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the workspace config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			_ = cfg
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func configInvalidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invalidate",
		Short: "Reload the ranking config from disk",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				a.RankCfg.Invalidate()
				return printJSONOrTable(a.RankCfg.Get())
			})
		},
	}
	return cmd
}

func keyCmd() *cobra.Command {
	key := &cobra.Command{Use: "key", Short: "Manage API keys"}
	key.AddCommand(keyCreateCmd())
	key.AddCommand(keyListCmd())
	key.AddCommand(keyDeleteCmd())
	return key
}

func keyCreateCmd() *cobra.Command {
	var actorID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (printed once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actorID == "" {
				actorID = viper.GetString("actor-id")
			}
			raw := make([]byte, 32)
			if _, err := rand.Read(raw); err != nil {
				return err
			}
			secret := "na_" + hex.EncodeToString(raw)
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				k := domain.APIKey{
					ID:      uuid.New().String(),
					ActorID: actorID,
					Name:    name,
					KeyHash: repo.HashAPIKey(secret),
				}
				if err := a.Engine.Repo.InsertAPIKey(ctx, nil, k); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"id": k.ID, "actor_id": k.ActorID, "key": secret})
				}
				fmt.Printf("id: %s\nactor: %s\nkey: %s\n", k.ID, k.ActorID, secret)
				fmt.Println("store this key now; only its hash is kept")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor the key authenticates as")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func keyListCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				keys, err := a.Engine.Repo.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "filter by actor")
	return cmd
}

func keyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Engine.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if addr == "" {
					addr = a.Config.Server.Listen
				}
				if addr == "" {
					addr = "127.0.0.1:8787"
				}
				if basePath == "" {
					basePath = a.Config.Server.BasePath
				}
				if a.Config.Ranking.ConfigPath != "" {
					go func() {
						if err := a.RankCfg.Watch(ctx); err != nil {
							fmt.Fprintf(os.Stderr, "ranking config watch: %v\n", err)
						}
					}()
				}
				handler, err := server.New(server.Config{
					Engine:   a.Engine,
					RankCfg:  a.RankCfg,
					BasePath: basePath,
					Auth: server.AuthConfig{
						JWTSecret: a.Config.Auth.JWTSecret,
						Enforce:   a.Config.Auth.Enforce,
					},
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving NextAction API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to config)")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("na", version)
		},
	}
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// renderGateError prints a gate rejection with its reasons and the state the
// item landed in, then returns a plain error so the exit code is non-zero.
func renderGateError(err error, res engine.TransitionResult) error {
	var gerr *engine.GateError
	if !errors.As(err, &gerr) {
		return err
	}
	if viper.GetBool("json") {
		_ = printJSON(map[string]any{
			"gate":     gerr.Code,
			"reasons":  gerr.Reasons,
			"failures": gerr.Failures,
			"item":     res.Item,
		})
		return fmt.Errorf("gate rejected")
	}
	fmt.Printf("gate rejected: %s\n", gerr.Code)
	for _, r := range gerr.Reasons {
		fmt.Printf("  - %s\n", r)
	}
	if res.Item.ID != "" {
		fmt.Printf("item %s is now %s\n", res.Item.ID, res.Item.State)
	}
	return fmt.Errorf("gate rejected")
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
