package di

import (
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mikey/sms-spam-filter/internal/adapters/notify"
	"github.com/mikey/sms-spam-filter/internal/config"
	"github.com/mikey/sms-spam-filter/internal/core"
	"github.com/mikey/sms-spam-filter/internal/factory"
	"github.com/mikey/sms-spam-filter/internal/logging"
	"github.com/mikey/sms-spam-filter/internal/reputation"
	"github.com/mikey/sms-spam-filter/internal/utils"
)

// BuildContainer creates and configures a dependency injection container
func BuildContainer(configFile string) (*dig.Container, error) {
	container := dig.New()

	// Register configuration
	if err := container.Provide(func() (*config.Config, error) {
		return config.New(configFile)
	}); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(logging.InitLogger); err != nil {
		return nil, err
	}

	if err := provideComponents(container); err != nil {
		return nil, err
	}
	return container, nil
}

// provideComponents registers everything below configuration and logging
func provideComponents(container *dig.Container) error {
	// Register factories
	if err := container.Provide(factory.NewTextProcessorFactory); err != nil {
		return err
	}
	if err := container.Provide(factory.NewStorageFactory); err != nil {
		return err
	}
	if err := container.Provide(factory.NewClassifierFactory); err != nil {
		return err
	}
	if err := container.Provide(factory.NewPreferencesFactory); err != nil {
		return err
	}
	if err := container.Provide(factory.NewFilterFactory); err != nil {
		return err
	}

	// Register text processor
	if err := container.Provide(func(f *factory.TextProcessorFactory) *utils.TextProcessor {
		return f.CreateTextProcessor()
	}); err != nil {
		return err
	}

	// Register storage and its message repository
	if err := container.Provide(func(f *factory.StorageFactory) (*factory.Storage, error) {
		return f.CreateStorage()
	}); err != nil {
		return err
	}
	if err := container.Provide(func(s *factory.Storage) core.MessageRepository {
		return s.Messages
	}); err != nil {
		return err
	}

	// Register reputation store
	if err := container.Provide(func(cfg *config.Config, s *factory.Storage, logger *zap.Logger) (*reputation.Store, error) {
		repCfg, err := cfg.GetReputation()
		if err != nil {
			return nil, err
		}
		return reputation.NewStore(s.Reputation, reputation.BreakerSettings{
			MaxRequests:         repCfg.Breaker.MaxRequests,
			Interval:            repCfg.Breaker.Interval,
			Timeout:             repCfg.Breaker.Timeout,
			ConsecutiveFailures: repCfg.Breaker.ConsecutiveFailures,
		}, logger), nil
	}); err != nil {
		return err
	}

	// Register classifier and hard rules
	if err := container.Provide(func(f *factory.ClassifierFactory) (core.Classifier, error) {
		return f.CreateClassifier()
	}); err != nil {
		return err
	}
	if err := container.Provide(func(f *factory.ClassifierFactory) core.HardRules {
		return f.CreateHardRules()
	}); err != nil {
		return err
	}

	// Register preferences
	if err := container.Provide(func(f *factory.PreferencesFactory) (core.PreferencesProvider, error) {
		return f.CreatePreferences()
	}); err != nil {
		return err
	}

	// Register notification router
	if err := container.Provide(notify.NewLogRouter); err != nil {
		return err
	}

	// Register classification service
	return container.Provide(func(
		cfg *config.Config,
		classifier core.Classifier,
		hardRules core.HardRules,
		storage *factory.Storage,
		rep *reputation.Store,
		prefs core.PreferencesProvider,
		router *notify.LogRouter,
		logger *zap.Logger,
	) *core.ClassificationService {
		return core.NewClassificationService(
			classifier,
			hardRules,
			storage.Messages,
			rep,
			storage.Audit,
			prefs,
			logger,
			core.WithNotificationRouter(router),
			core.WithBatchConcurrency(cfg.GetBatch().Concurrency),
		)
	})
}
