package factory

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/mikey/sms-spam-filter/internal/adapters/preferences"
	"github.com/mikey/sms-spam-filter/internal/config"
	"github.com/mikey/sms-spam-filter/internal/core"
)

// PreferencesFactory creates the user preferences provider
type PreferencesFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewPreferencesFactory creates a new preferences factory
func NewPreferencesFactory(cfg *config.Config, logger *zap.Logger) *PreferencesFactory {
	return &PreferencesFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreatePreferences returns a watched file provider when preferences.file is
// set, otherwise the values in the main configuration
func (f *PreferencesFactory) CreatePreferences() (core.PreferencesProvider, error) {
	prefsCfg := f.cfg.GetPreferences()

	if prefsCfg.File != "" {
		p, err := preferences.NewViper(prefsCfg.File, f.logger)
		if err != nil {
			return nil, err
		}
		if prefsCfg.Watch {
			p.Watch()
		}
		f.logger.Info("Loaded preferences file",
			zap.String("file", prefsCfg.File),
			zap.Bool("watch", prefsCfg.Watch))
		return p, nil
	}

	prefs, err := preferences.Parse(prefsCfg.FilteringMode, prefsCfg.SpamTolerance, prefsCfg.ImportantTypes, prefsCfg.FeedbackLearning)
	if err != nil {
		return nil, fmt.Errorf("invalid preferences: %w", err)
	}
	return preferences.NewStatic(prefs), nil
}
