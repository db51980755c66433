package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/cobuilders/inbox/internal/config"
	"github.com/cobuilders/inbox/internal/db"
	"github.com/cobuilders/inbox/internal/events"
	"github.com/cobuilders/inbox/internal/messaging"
	"github.com/cobuilders/inbox/internal/notify"
)

// App wires the inbox core over a SQLite file for one command invocation.
type App struct {
	Config *config.Config

	DB            *db.DB
	Hub           *events.Hub
	Store         *db.Store
	Profiles      *db.ProfileRepository
	Applications  *db.ApplicationRepository
	Notifications *db.NotificationRepository
	Dispatcher    *notify.Dispatcher
	Service       *messaging.Service
}

// NewApp opens and migrates the database and builds the service.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	database, err := db.Open(db.Config{
		Path:           cfg.DatabasePath(),
		MaxConnections: cfg.Database.MaxConnections,
		BusyTimeoutMs:  cfg.Database.BusyTimeoutMs,
		WriteAttempts:  cfg.Database.WriteAttempts,
	})
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(ctx); err != nil {
		_ = database.Close()
		return nil, err
	}

	hub := events.NewHub()
	app := &App{
		Config:        cfg,
		DB:            database,
		Hub:           hub,
		Store:         db.NewStore(database, db.WithPublisher(hub)),
		Profiles:      db.NewProfileRepository(database),
		Applications:  db.NewApplicationRepository(database),
		Notifications: db.NewNotificationRepository(database),
	}

	opts := []messaging.Option{
		messaging.WithDirectory(app.Profiles),
		messaging.WithApplications(app.Applications),
		messaging.WithReadRetryBackoff(cfg.Messaging.ReadRetryBackoff),
		messaging.WithInboxDebounce(cfg.Messaging.InboxDebounce),
		messaging.WithMarkReadOnReceipt(cfg.Messaging.MarkReadOnReceipt),
		messaging.WithPreviewLength(cfg.Messaging.PreviewLength),
		messaging.WithAggregateConcurrency(cfg.Messaging.AggregateConcurrency),
	}

	if cfg.Notifications.Enabled {
		fanoutOpts := []notify.FanoutOption{notify.WithProfiles(app.Profiles)}
		if email := cfg.Notifications.Email; email.Enabled {
			mailer, err := notify.NewSMTPMailer(notify.SMTPConfig{
				Addr:     email.SMTPAddr,
				From:     email.From,
				Username: email.Username,
				Password: email.Password,
			})
			if err != nil {
				_ = database.Close()
				return nil, fmt.Errorf("configure email: %w", err)
			}
			fanoutOpts = append(fanoutOpts, notify.WithMailer(mailer))
		}
		app.Dispatcher = notify.NewDispatcher(notify.DispatcherConfig{
			Workers: cfg.Notifications.Workers,
			Timeout: cfg.Notifications.Timeout,
		}, notify.NewFanout(app.Notifications, fanoutOpts...))
		opts = append(opts, messaging.WithNotifier(app.Dispatcher))
	}

	app.Service, err = messaging.NewService(app.Store, hub, opts...)
	if err != nil {
		_ = database.Close()
		return nil, err
	}
	return app, nil
}

// Close drains pending notifications and closes the database.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Dispatcher != nil {
		if err := a.Dispatcher.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain notifications: %w", err))
		}
	}
	a.Hub.Close()
	if err := a.DB.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
