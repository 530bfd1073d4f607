package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/MSLNZ/pr-omega-logger/internal/calibration"
	"github.com/MSLNZ/pr-omega-logger/internal/config"
	"github.com/MSLNZ/pr-omega-logger/internal/db"
	"github.com/MSLNZ/pr-omega-logger/internal/httpapi"
	"github.com/MSLNZ/pr-omega-logger/internal/modules/iserver"
	"github.com/MSLNZ/pr-omega-logger/internal/modules/iserver/service"
	iserverviews "github.com/MSLNZ/pr-omega-logger/internal/modules/iserver/views"
	"github.com/MSLNZ/pr-omega-logger/internal/mqtt"
	"github.com/MSLNZ/pr-omega-logger/internal/query"
	"github.com/MSLNZ/pr-omega-logger/internal/validate"
)

const slowStatement = 500 * time.Millisecond

// LoadFile reads the device file named by cfg and checks its directories.
func LoadFile(cfg config.Config) (config.File, error) {
	f, err := config.LoadFile(cfg.ConfigPath)
	if err != nil {
		return config.File{}, err
	}
	if err := f.CheckDirs(); err != nil {
		return config.File{}, err
	}
	return f, nil
}

func dbOptions(cfg config.Config, logger *slog.Logger) db.Options {
	return db.Options{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		SlowStatement:   slowStatement,
		SQLLogger:       logger.With("component", "sql"),
	}
}

// Run serves the API and dashboard and ingests telemetry until ctx is done.
func Run(ctx context.Context, cfg config.Config, version string, logger *slog.Logger) error {
	logger.Info("config loaded",
		"appEnv", cfg.AppEnv,
		"logLevel", cfg.LogLevel.String(),
		"httpAddr", cfg.HTTPAddr,
		"configPath", cfg.ConfigPath,
		"dbMaxOpenConns", cfg.MaxOpenConns,
		"dbMaxIdleConns", cfg.MaxIdleConns,
		"dbConnMaxLifetime", cfg.ConnMaxLifetime,
		"mqttBroker", cfg.MQTTBroker,
		"mqttPort", cfg.MQTTPort,
		"mqttTopicPrefix", cfg.MQTTTopicPrefix,
	)

	file, err := LoadFile(cfg)
	if err != nil {
		return err
	}
	catalog, err := calibration.NewCatalog(file)
	if err != nil {
		return err
	}
	logger.Info("calibration catalog loaded", "devices", len(catalog.Devices()), "configFile", file.Path)

	stores, err := service.OpenStores(ctx, catalog, dbOptions(cfg, logger), logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := stores.Close(); closeErr != nil {
			logger.Error("store close", "error", closeErr)
		}
	}()
	if err := stores.Ping(ctx); err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	logger.Info("database connection successful")

	if err := iserverviews.LoadTemplates(); err != nil {
		return err
	}

	client, err := mqtt.NewClient(cfg, logger)
	if err != nil {
		return err
	}
	validator, err := validate.New(file.Validator, client, logger)
	if err != nil {
		return err
	}

	engine := query.NewEngine(catalog, client, stores, file.DeviceTimeout.Duration(), logger)
	mux := httpapi.NewMux(stores, client)
	// The handler is set before Connect so that no telemetry delivered right
	// after CONNACK is lost.
	iserver.RegisterFeature(mux, iserver.Deps{
		Engine:    engine,
		Stores:    stores,
		Telemetry: client,
		Validator: validator,
		Dashboard: file.Dashboard,
		Version:   version,
		Logger:    logger,
	})

	// Use a short timeout for the initial connect so we don't block startup
	// when the broker is down; paho keeps retrying and the client subscribes
	// once it connects.
	connectCtx, connectCancel := context.WithTimeout(ctx, 5*time.Second)
	err = client.Connect(connectCtx)
	connectCancel()
	if err != nil {
		logger.Warn("mqtt connection failed (retrying in the background)", "error", err)
	}

	srv := httpapi.NewServer(cfg, mux, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", "addr", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		client.Disconnect()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("mqtt disconnecting")
	client.Disconnect()

	logger.Info("http shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	err = <-errCh
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return ctx.Err()
}
