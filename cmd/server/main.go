package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/undarez/synexa-sub003/config"
	"github.com/undarez/synexa-sub003/internal/clients/caldav"
	"github.com/undarez/synexa-sub003/internal/connectors"
	"github.com/undarez/synexa-sub003/internal/connectors/hue"
	"github.com/undarez/synexa-sub003/internal/notify"
	"github.com/undarez/synexa-sub003/internal/scheduler"
	"github.com/undarez/synexa-sub003/internal/server"
	"github.com/undarez/synexa-sub003/internal/service"
	"github.com/undarez/synexa-sub003/internal/storage"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()

	store, err := storage.New(cfg.DatabasePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("storage init failed")
	}
	defer store.Close()

	owner, err := store.EnsureUser(cfg.OwnerEmail, cfg.OwnerName, cfg.TelegramChatID)
	if err != nil {
		logger.Fatal().Err(err).Msg("owner provisioning failed")
	}
	logger.Info().Int64("user", owner.ID).Str("email", owner.Email).Msg("owner ready")

	registry := connectors.NewRegistry()
	registry.Register("hue", hue.NewClient())

	var sender notify.Sender
	if cfg.NotifyEnabled() {
		tg, err := notify.NewTelegram(cfg.TelegramToken, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("telegram init failed")
		}
		sender = tg
	} else {
		logger.Warn().Msg("telegram not configured, notifications go to the log")
		sender = notify.NewLogSender(logger)
	}

	var publisher *caldav.Client
	if cfg.CalDAVEnabled() {
		publisher = caldav.NewClient(cfg.CalDAVURL, cfg.CalDAVUsername, cfg.CalDAVPassword, cfg.CalDAVCalendar)
	}

	reminderSvc := service.NewReminderService(store, cfg.Timezone, logger)
	deviceSvc := service.NewDeviceService(store, registry, logger)
	routineSvc := service.NewRoutineService(store, deviceSvc, logger)
	agendaSvc := service.NewAgendaService(reminderSvc, publisher, cfg.Timezone, logger)

	sched := scheduler.New(cfg, store, reminderSvc, routineSvc, agendaSvc, sender, logger)
	srv := server.New(cfg, store, reminderSvc, routineSvc, deviceSvc, agendaSvc, sched, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := sched.Start(ctx); err != nil {
			logger.Error().Err(err).Msg("scheduler error")
		}
	}()

	go func() {
		if err := srv.Start(ctx); err != nil {
			logger.Error().Err(err).Msg("server error")
		}
	}()

	logger.Info().Msg("synexa started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutting down")

	cancel()
	sched.Stop()

	// Give the HTTP server a moment to drain before the process exits.
	time.Sleep(500 * time.Millisecond)

	logger.Info().Msg("synexa stopped")
}
