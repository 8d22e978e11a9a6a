package factory

import (
	"io"

	"go.uber.org/zap"

	"github.com/mikey/sms-spam-filter/internal/adapters/filter"
	"github.com/mikey/sms-spam-filter/internal/core"
)

// FilterFactory creates message filters
type FilterFactory struct {
	logger  *zap.Logger
	service *core.ClassificationService
}

// NewFilterFactory creates a new filter factory
func NewFilterFactory(logger *zap.Logger, service *core.ClassificationService) *FilterFactory {
	return &FilterFactory{
		logger:  logger,
		service: service,
	}
}

// CreateMessageFilter creates the command-line filter writing to out
func (f *FilterFactory) CreateMessageFilter(out io.Writer, verbose bool) (*filter.CliFilter, error) {
	return filter.NewCliFilter(f.service, out, f.logger, verbose)
}
