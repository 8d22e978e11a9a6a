package filter

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mikey/sms-spam-filter/internal/core"
)

// CliFilter implements a command-line front end for message classification
type CliFilter struct {
	service *core.ClassificationService
	out     io.Writer
	logger  *zap.Logger
	verbose bool
}

// NewCliFilter creates a new CLI filter
func NewCliFilter(service *core.ClassificationService, out io.Writer, logger *zap.Logger, verbose bool) (*CliFilter, error) {
	return &CliFilter{
		service: service,
		out:     out,
		logger:  logger,
		verbose: verbose,
	}, nil
}

// ProcessMessage classifies a message and displays the result
func (f *CliFilter) ProcessMessage(ctx context.Context, msg *core.Message) (*core.Classification, error) {
	f.logger.Debug("Processing message", zap.String("sender", msg.Sender))

	fmt.Fprintf(f.out, "\n=== Message ===\n")
	fmt.Fprintf(f.out, "From: %s\n", msg.Sender)
	if f.verbose {
		fmt.Fprintf(f.out, "Body: %s\n", msg.Body)
	} else {
		fmt.Fprintf(f.out, "Body length: %d bytes\n", len(msg.Body))
	}

	startTime := time.Now()
	result, err := f.service.ClassifyAndStore(ctx, msg)
	duration := time.Since(startTime)
	if err != nil {
		f.logger.Warn("Message not stored", zap.Error(err))
		fmt.Fprintf(f.out, "Error: %v\n", err)
		return result, err
	}

	f.PrintResult(result)
	if f.verbose {
		fmt.Fprintf(f.out, "Processing time: %v\n", duration)
	}
	return result, nil
}

// PrintResult writes a verdict in the CLI's format
func (f *CliFilter) PrintResult(result *core.Classification) {
	fmt.Fprintf(f.out, "=== Result ===\n")
	if result.MessageID != 0 {
		fmt.Fprintf(f.out, "ID: %d\n", result.MessageID)
	}
	fmt.Fprintf(f.out, "Category: %s\n", result.Category)
	fmt.Fprintf(f.out, "Confidence: %.2f\n", result.Confidence)
	if result.Classifier != "" {
		fmt.Fprintf(f.out, "Classifier: %s\n", result.Classifier)
	}
	if len(result.Reasons) > 0 {
		fmt.Fprintf(f.out, "Reasons: %s\n", strings.Join(result.Reasons, "; "))
	}
}

// Start is a no-op for the CLI filter
func (f *CliFilter) Start() error {
	return nil
}

// Stop is a no-op for the CLI filter
func (f *CliFilter) Stop() error {
	return nil
}
