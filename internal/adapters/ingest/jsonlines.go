// Package ingest reads messages handed over by the platform layer.
package ingest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/mikey/sms-spam-filter/internal/core"
	"github.com/mikey/sms-spam-filter/internal/ports"
	"github.com/mikey/sms-spam-filter/internal/utils"
)

const maxLineSize = 1 << 20

// Record is one line of input
type Record struct {
	Sender    string    `json:"sender"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
	Outgoing  bool      `json:"outgoing,omitempty"`
	Important bool      `json:"important,omitempty"`
}

// JSONLines is a core message source reading one JSON record per line.
// Blank lines and lines starting with # are skipped.
type JSONLines struct {
	scanner *bufio.Scanner
	closer  io.Closer
	line    int
	text    *utils.TextProcessor
	maxBody int
	logger  *zap.Logger
}

// NewJSONLines reads records from r. Bodies longer than maxBody bytes are truncated when maxBody > 0.
func NewJSONLines(r io.Reader, text *utils.TextProcessor, maxBody int, logger *zap.Logger) *JSONLines {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	src := &JSONLines{
		scanner: scanner,
		text:    text,
		maxBody: maxBody,
		logger:  logger.Named("ingest"),
	}
	if c, ok := r.(io.Closer); ok {
		src.closer = c
	}
	return src
}

// Open reads records from path; "-" means standard input
func Open(path string, text *utils.TextProcessor, maxBody int, logger *zap.Logger) (*JSONLines, error) {
	if path == "-" {
		return NewJSONLines(io.NopCloser(os.Stdin), text, maxBody, logger), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return NewJSONLines(f, text, maxBody, logger), nil
}

// Next implements ports.MessageSource. A malformed line yields an error
// wrapping core.ErrValidation; the following call moves on to the next line.
func (s *JSONLines) Next(ctx context.Context) (*core.Message, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return nil, fmt.Errorf("failed to read input: %w", err)
			}
			return nil, io.EOF
		}
		s.line++

		line := strings.TrimSpace(s.scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", core.ErrValidation, s.line, err)
		}
		return s.toMessage(rec), nil
	}
}

func (s *JSONLines) toMessage(rec Record) *core.Message {
	body := rec.Body
	if s.text != nil {
		body = s.text.CleanBody(body)
		body = s.text.TruncateText(body, s.maxBody)
	}
	return &core.Message{
		Sender:      strings.TrimSpace(rec.Sender),
		Body:        body,
		Timestamp:   rec.Timestamp,
		IsOutgoing:  rec.Outgoing,
		IsImportant: rec.Important,
	}
}

// Close implements ports.MessageSource
func (s *JSONLines) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// ReadAll drains src. Malformed lines are logged and skipped.
func ReadAll(ctx context.Context, src ports.MessageSource, logger *zap.Logger) ([]*core.Message, error) {
	var msgs []*core.Message
	for {
		msg, err := src.Next(ctx)
		switch {
		case err == nil:
			msgs = append(msgs, msg)
		case errors.Is(err, io.EOF):
			return msgs, nil
		case errors.Is(err, core.ErrValidation):
			logger.Warn("Skipping malformed input", zap.Error(err))
		default:
			return msgs, err
		}
	}
}
