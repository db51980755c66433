package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/cobuilders/inbox/internal/models"
	"github.com/spf13/cobra"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(_ context.Context, app *App) error {
				fmt.Fprintf(cmd.OutOrStdout(), "database ready: %s\n", app.DB.Path())
				return nil
			})
		},
	}
}

func newUseCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "use <user>",
		Short: "Select the user subsequent commands act as",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			viewer := strings.TrimSpace(args[0])
			if viewer == "" {
				return fmt.Errorf("user is required")
			}
			saved, err := opts.contexts.Load()
			if err != nil {
				return err
			}
			saved.SetViewer(viewer)
			if err := opts.contexts.Save(saved); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "now acting as %s\n", viewer)
			return nil
		},
	}
}

func newWhoamiCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the selected user and conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			saved, err := opts.contexts.Load()
			if err != nil {
				return err
			}
			if opts.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), saved)
			}
			fmt.Fprintln(cmd.OutOrStdout(), saved.String())
			return nil
		},
	}
}

func newProfileCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage user profiles",
	}

	var name, email string
	var emailNotifications bool
	set := &cobra.Command{
		Use:   "set <user>",
		Short: "Create or update a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			profile := &models.Profile{
				ID:                 strings.TrimSpace(args[0]),
				DisplayName:        name,
				Email:              email,
				EmailNotifications: emailNotifications,
			}
			return opts.withApp(cmd, func(ctx context.Context, app *App) error {
				if err := app.Profiles.Upsert(ctx, profile); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "profile %s saved\n", profile.ID)
				return nil
			})
		},
	}
	set.Flags().StringVar(&name, "name", "", "display name")
	set.Flags().StringVar(&email, "email", "", "email address")
	set.Flags().BoolVar(&emailNotifications, "email-notifications", false, "email on new messages")

	show := &cobra.Command{
		Use:   "show <user>",
		Short: "Show a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, app *App) error {
				profile, err := app.Profiles.Get(ctx, args[0])
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return writeJSON(cmd.OutOrStdout(), profile)
				}
				return writeTable(cmd.OutOrStdout(), nil, [][]string{
					{"id", profile.ID},
					{"name", profile.Name()},
					{"email", profile.Email},
					{"email notifications", formatYesNo(profile.EmailNotifications)},
				})
			})
		},
	}

	cmd.AddCommand(set, show)
	return cmd
}

func newApplicationCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "application",
		Aliases: []string{"app"},
		Short:   "Manage startup applications",
	}

	var app models.Application
	var status string
	create := &cobra.Command{
		Use:   "create <id>",
		Short: "Record an application to a startup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app.ID = strings.TrimSpace(args[0])
			app.Status = models.ApplicationStatus(strings.ToLower(strings.TrimSpace(status)))
			return opts.withApp(cmd, func(ctx context.Context, a *App) error {
				if err := a.Applications.Create(ctx, &app); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "application %s created\n", app.ID)
				return nil
			})
		},
	}
	create.Flags().StringVar(&app.StartupID, "startup", "", "startup id")
	create.Flags().StringVar(&app.StartupName, "startup-name", "", "startup display name")
	create.Flags().StringVar(&app.InitiatorID, "initiator", "", "user reviewing the application")
	create.Flags().StringVar(&app.ApplicantID, "applicant", "", "user who applied")
	create.Flags().StringVar(&status, "status", string(models.ApplicationStatusPending), "pending, accepted, rejected or withdrawn")
	_ = create.MarkFlagRequired("startup")
	_ = create.MarkFlagRequired("initiator")
	_ = create.MarkFlagRequired("applicant")

	setStatus := &cobra.Command{
		Use:   "status <id> <status>",
		Short: "Change an application's status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			next := models.ApplicationStatus(strings.ToLower(strings.TrimSpace(args[1])))
			return opts.withApp(cmd, func(ctx context.Context, a *App) error {
				if err := a.Applications.UpdateStatus(ctx, args[0], next); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "application %s is %s\n", args[0], next)
				return nil
			})
		},
	}

	cmd.AddCommand(create, setStatus)
	return cmd
}
