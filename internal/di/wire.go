// Package di provides dependency injection wiring and initialization.
package di

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/fbmaciej/qrem/internal/config"
	"github.com/fbmaciej/qrem/internal/database"
	"github.com/fbmaciej/qrem/internal/modules/calibration"
	"github.com/fbmaciej/qrem/internal/modules/correction"
	"github.com/fbmaciej/qrem/internal/modules/noisemodel"
	"github.com/fbmaciej/qrem/internal/scheduler"
	"github.com/fbmaciej/qrem/internal/work"
)

// Container holds all initialized dependencies.
type Container struct {
	ModelsDB  *database.DB
	ResultsDB *database.DB

	CalibrationRepo *calibration.Repository
	ModelRepo       *noisemodel.Repository
	ResultRepo      *correction.Repository

	CalibrationService *calibration.Service
	Corrector          *correction.Corrector
	Pool               *work.Pool
	Scheduler          *scheduler.Scheduler
}

// Close releases the container's database connections.
func (c *Container) Close() {
	if c.ModelsDB != nil {
		_ = c.ModelsDB.Close()
	}
	if c.ResultsDB != nil {
		_ = c.ResultsDB.Close()
	}
}

// Wire initializes all dependencies and returns a fully configured container.
// Order of operations:
// 1. Initialize databases
// 2. Initialize repositories and schemas
// 3. Initialize services and the worker pool
// 4. Register maintenance jobs
func Wire(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	c := &Container{}

	if err := initDatabases(c, cfg); err != nil {
		return nil, err
	}
	if err := initRepositories(c, log); err != nil {
		c.Close()
		return nil, err
	}
	initServices(c, cfg, log)
	if err := registerJobs(c, cfg, log); err != nil {
		c.Close()
		return nil, err
	}

	log.Info().Msg("Dependency injection wiring completed successfully")
	return c, nil
}

func initDatabases(c *Container, cfg *config.Config) error {
	// models.db - calibration counts and noise-model snapshots
	modelsDB, err := database.New(database.Config{
		Path:    cfg.DataDir + "/models.db",
		Profile: database.ProfileStandard,
		Name:    "models",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize models database: %w", err)
	}
	c.ModelsDB = modelsDB

	// results.db - ephemeral correction results, pruned by retention
	resultsDB, err := database.New(database.Config{
		Path:    cfg.DataDir + "/results.db",
		Profile: database.ProfileCache,
		Name:    "results",
	})
	if err != nil {
		modelsDB.Close()
		return fmt.Errorf("failed to initialize results database: %w", err)
	}
	c.ResultsDB = resultsDB
	return nil
}

func initRepositories(c *Container, log zerolog.Logger) error {
	c.CalibrationRepo = calibration.NewRepository(c.ModelsDB.Conn(), log)
	if err := c.CalibrationRepo.InitSchema(); err != nil {
		return fmt.Errorf("failed to initialize calibration schema: %w", err)
	}

	c.ModelRepo = noisemodel.NewRepository(c.ModelsDB.Conn(), log)
	if err := c.ModelRepo.InitSchema(); err != nil {
		return fmt.Errorf("failed to initialize noise-model schema: %w", err)
	}

	c.ResultRepo = correction.NewRepository(c.ResultsDB.Conn(), log)
	if err := c.ResultRepo.InitSchema(); err != nil {
		return fmt.Errorf("failed to initialize correction schema: %w", err)
	}
	return nil
}

func initServices(c *Container, cfg *config.Config, log zerolog.Logger) {
	c.CalibrationService = calibration.NewService(c.CalibrationRepo, c.ModelRepo,
		calibration.ServiceConfig{
			MaxColumnDrift:     cfg.MaxColumnDrift,
			ExactModeThreshold: cfg.ExactModeThreshold,
		}, log)

	c.Corrector = correction.NewCorrector(correction.Defaults{
		SingularThreshold: cfg.SingularThreshold,
		Distance:          correction.Distance(cfg.DistanceMetric),
		Tolerance:         cfg.ConvergenceTolerance,
		MaxIterations:     cfg.MaxIterations,
	}, log)

	c.Pool = work.NewPool(c.Corrector, cfg.Workers, work.NewLogEmitter(log), log)
}

func registerJobs(c *Container, cfg *config.Config, log zerolog.Logger) error {
	c.Scheduler = scheduler.New(log)

	retention := scheduler.NewRetentionJob(c.ResultRepo, cfg.ResultRetentionDays, log)
	if err := c.Scheduler.AddJob("0 0 3 * * *", retention); err != nil {
		return fmt.Errorf("failed to register retention job: %w", err)
	}

	vacuum := scheduler.NewVacuumJob(log, c.ModelsDB.Conn(), c.ResultsDB.Conn())
	if err := c.Scheduler.AddJob("@every 1h", vacuum); err != nil {
		return fmt.Errorf("failed to register vacuum job: %w", err)
	}

	// Batch job snapshots live in memory; clients have an hour to collect
	// results before eviction.
	sweep := scheduler.NewSweepJob(c.Pool, time.Hour, log)
	if err := c.Scheduler.AddJob("@every 10m", sweep); err != nil {
		return fmt.Errorf("failed to register sweep job: %w", err)
	}
	return nil
}
