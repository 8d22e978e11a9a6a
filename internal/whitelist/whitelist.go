package whitelist

import (
	"strings"

	"go.uber.org/zap"

	"github.com/mikey/sms-spam-filter/internal/utils"
)

// Checker reports whether a sender ID belongs to a known-important sender
type Checker struct {
	senders []string
	logger  *zap.Logger
}

// NewChecker creates a new whitelist checker.
// Entries are sender IDs without the operator prefix ("HDFCBK", not "VM-HDFCBK").
func NewChecker(senders []string, logger *zap.Logger) *Checker {
	normalized := make([]string, 0, len(senders))
	for _, sender := range senders {
		if s := utils.SenderSuffix(sender); s != "" {
			normalized = append(normalized, s)
		}
	}

	if len(normalized) > 0 && logger != nil {
		logger.Info("Initialized important sender list", zap.Strings("senders", normalized))
	}

	return &Checker{
		senders: normalized,
		logger:  logger,
	}
}

// IsWhitelisted checks if the sender is on the important list.
// Operator prefixes are ignored so "AD-HDFCBK" and "VM-HDFCBK" both match "HDFCBK".
func (c *Checker) IsWhitelisted(sender string) bool {
	if c == nil || len(c.senders) == 0 {
		return false
	}

	suffix := utils.SenderSuffix(sender)
	for _, whitelisted := range c.senders {
		if strings.EqualFold(whitelisted, suffix) {
			if c.logger != nil {
				c.logger.Debug("Sender is whitelisted",
					zap.String("sender", sender),
					zap.String("entry", whitelisted))
			}
			return true
		}
	}

	return false
}

// Senders returns the normalized entries
func (c *Checker) Senders() []string {
	if c == nil {
		return nil
	}
	return append([]string(nil), c.senders...)
}
