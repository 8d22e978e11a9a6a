package factory

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/mikey/sms-spam-filter/internal/adapters/model"
	"github.com/mikey/sms-spam-filter/internal/config"
	"github.com/mikey/sms-spam-filter/internal/contextual"
	"github.com/mikey/sms-spam-filter/internal/core"
	"github.com/mikey/sms-spam-filter/internal/rules"
	"github.com/mikey/sms-spam-filter/internal/whitelist"
)

// Supported classifier types
const (
	ClassifierRule       = "rule"
	ClassifierContextual = "contextual"
	ClassifierModel      = "model"
)

// ClassifierFactory creates the classifier selected by configuration
type ClassifierFactory struct {
	cfg    *config.Config
	logger *zap.Logger
	recent contextual.RecentMessages
}

// NewClassifierFactory creates a new classifier factory. recent supplies the
// history used by the contextual classifier.
func NewClassifierFactory(cfg *config.Config, logger *zap.Logger, recent core.MessageRepository) *ClassifierFactory {
	return &ClassifierFactory{
		cfg:    cfg,
		logger: logger,
		recent: recent,
	}
}

// CreateClassifier creates a new classifier based on the configuration
func (f *ClassifierFactory) CreateClassifier() (core.Classifier, error) {
	classifierCfg := f.cfg.GetClassifier()

	switch classifierCfg.Type {
	case ClassifierRule:
		f.logger.Info("Using rule classifier")
		return rules.NewEngine(f.logger), nil
	case ClassifierContextual:
		ctxCfg, err := f.cfg.GetContext()
		if err != nil {
			return nil, fmt.Errorf("invalid context configuration: %w", err)
		}
		important := whitelist.NewChecker(ctxCfg.ImportantSenders, f.logger)
		refiner := contextual.NewRefiner(contextual.Config{
			Capacity:           ctxCfg.Capacity,
			BusinessHoursStart: ctxCfg.BusinessHoursStart,
			BusinessHoursEnd:   ctxCfg.BusinessHoursEnd,
			Location:           ctxCfg.Location,
			FrequencyWindow:    ctxCfg.FrequencyWindow,
			FrequencyLimit:     ctxCfg.FrequencyLimit,
		}, important, f.logger)

		f.logger.Info("Using contextual classifier",
			zap.Int("capacity", ctxCfg.Capacity),
			zap.Int("important_senders", len(important.Senders())))
		return contextual.NewClassifier(refiner, f.recent, contextual.ClassifierConfig{
			RecentWindow: ctxCfg.RecentWindow,
			RecentLimit:  ctxCfg.RecentLimit,
			Concurrency:  ctxCfg.Concurrency,
		}, f.logger), nil
	case ClassifierModel:
		weights, err := model.LoadWeights(classifierCfg.ModelPath)
		if err != nil {
			return nil, err
		}
		f.logger.Info("Using model classifier",
			zap.String("version", weights.Version),
			zap.Float64("review_threshold", weights.ReviewThreshold))
		return model.NewClassifier(weights, f.logger), nil
	default:
		return nil, fmt.Errorf("unsupported classifier type: %s", classifierCfg.Type)
	}
}

// CreateHardRules returns the rules every classifier's verdict is checked against
func (f *ClassifierFactory) CreateHardRules() core.HardRules {
	return rules.NewEngine(f.logger)
}
