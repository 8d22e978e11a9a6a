package rules

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/mikey/sms-spam-filter/internal/core"
	"github.com/mikey/sms-spam-filter/internal/utils"
)

// Name is the audit tag for verdicts produced by the rule engine
const Name = "rule"

// Reasons produced by the engine
const (
	ReasonOTP             = "OTP detected"
	ReasonAbuseWarning    = "Explicit spam warning"
	ReasonTransaction     = "Transaction message"
	ReasonKnownBank       = "Known bank sender"
	ReasonShortLink       = "Shortened link detected"
	ReasonNoSpamIndicator = "No spam indicators"
)

const (
	otpConfidence         = 0.95
	abuseConfidence       = 0.95
	transactionConfidence = 0.9
	bankSenderConfidence  = 0.85
	reviewConfidence      = 0.5
	maxSpamScore          = 100.0
	defaultThreshold      = 0.5
)

// Engine evaluates messages against the fixed pattern rules.
// It holds no mutable state and is safe for concurrent use.
type Engine struct {
	logger *zap.Logger
}

// NewEngine creates a new rule engine
func NewEngine(logger *zap.Logger) *Engine {
	return &Engine{
		logger: logger.Named("rules"),
	}
}

// Evaluate classifies a message. The same inputs always produce the same result.
func (e *Engine) Evaluate(sender, text string, prefs core.UserPreferences) *core.Classification {
	norm := utils.NormalizeText(text)

	if hard := hardVerdict(norm); hard != nil {
		return hard
	}

	shortLink := shortLinkPattern.MatchString(norm)

	// A short link in a "banking" message is the usual phishing shape
	if !shortLink {
		if transactionPattern.MatchString(norm) {
			return core.NewClassification(core.CategoryInbox, transactionConfidence, ReasonTransaction)
		}
		if isBankSender(sender) || bankBodyPattern.MatchString(norm) {
			return core.NewClassification(core.CategoryInbox, bankSenderConfidence, ReasonKnownBank)
		}
	}

	matches := keywordMatches(norm)
	if len(matches) >= 2 || shortLink {
		// 0.7 plus 0.05 per keyword, in twentieths so the steps are exact
		conf := math.Min(0.95, float64(14+len(matches))/20)
		result := core.NewClassification(core.CategorySpam, conf)
		if len(matches) > 0 {
			result.AddReason("Spam keywords found: " + strings.Join(matches, ", "))
		}
		if shortLink {
			result.AddReason(ReasonShortLink)
		}
		return result
	}

	return ScoreVerdict(spamScore(utils.SanitizeUTF8(text), norm), SpamThreshold(prefs.FilteringMode, prefs.SpamTolerance))
}

// ScoreVerdict turns a spam score into a verdict against threshold
func ScoreVerdict(score, threshold float64) *core.Classification {
	if threshold <= 0 {
		threshold = SpamThreshold(core.FilteringModerate, core.ToleranceModerate)
	}
	switch {
	case score >= threshold:
		return core.NewClassification(core.CategorySpam, 0.6+(score-threshold)/100,
			fmt.Sprintf("Spam score %.0f exceeds threshold %.0f", score, threshold))
	case score >= 0.6*threshold:
		return core.NewClassification(core.CategoryNeedsReview, reviewConfidence,
			fmt.Sprintf("Borderline spam score %.0f (threshold %.0f)", score, threshold))
	default:
		return core.NewClassification(core.CategoryInbox, 0.9-0.3*score/threshold, ReasonNoSpamIndicator)
	}
}

// HardOverride returns the one-time-code or abuse-warning verdict for a message,
// or nil when neither rule applies.
func (e *Engine) HardOverride(sender, body string) *core.Classification {
	return hardVerdict(utils.NormalizeText(body))
}

func hardVerdict(norm string) *core.Classification {
	if isOneTimeCode(norm) {
		c := core.NewClassification(core.CategoryInbox, otpConfidence, ReasonOTP)
		c.Hard = true
		return c
	}
	if isAbuseWarning(norm) {
		c := core.NewClassification(core.CategorySpam, abuseConfidence, ReasonAbuseWarning)
		c.Hard = true
		return c
	}
	return nil
}

// Name implements core.Classifier
func (e *Engine) Name() string {
	return Name
}

// Classify implements core.Classifier
func (e *Engine) Classify(ctx context.Context, msg *core.Message, prefs core.UserPreferences) (*core.Classification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	result := e.Evaluate(msg.Sender, msg.Body, prefs)
	result.MessageID = msg.ID
	result.Classifier = Name

	e.logger.Debug("Rule verdict",
		zap.String("sender", msg.Sender),
		zap.String("category", string(result.Category)),
		zap.Float64("confidence", result.Confidence))

	return result, nil
}

// ClassifyBatch implements core.Classifier. Rules do not depend on order.
func (e *Engine) ClassifyBatch(ctx context.Context, msgs []*core.Message, prefs core.UserPreferences) ([]*core.Classification, error) {
	results := make([]*core.Classification, len(msgs))
	for i, msg := range msgs {
		r, err := e.Classify(ctx, msg, prefs)
		if err != nil {
			return nil, err
		}
		results[i] = r
	}
	return results, nil
}

// LearnFromCorrection implements core.Classifier. The rule set is fixed.
func (e *Engine) LearnFromCorrection(ctx context.Context, msg *core.Message, previous, corrected core.Category) error {
	return nil
}

// ConfidenceThreshold implements core.Classifier
func (e *Engine) ConfidenceThreshold() float64 {
	return defaultThreshold
}

// IsOneTimeCode reports whether text carries a one-time code
func IsOneTimeCode(text string) bool {
	return isOneTimeCode(utils.NormalizeText(text))
}

func isOneTimeCode(norm string) bool {
	for _, p := range strongOTPPatterns {
		if p.MatchString(norm) {
			return true
		}
	}
	if promoCodePattern.MatchString(norm) {
		return false
	}
	return weakOTPPattern.MatchString(norm)
}

// IsAbuseWarning reports whether text carries an explicit spam or fraud warning
func IsAbuseWarning(text string) bool {
	return isAbuseWarning(utils.NormalizeText(text))
}

func isAbuseWarning(norm string) bool {
	for _, w := range abuseWarnings {
		if strings.Contains(norm, w) {
			return true
		}
	}
	return false
}

// HasBankingSignal reports whether the sender or text looks like a bank or a transaction alert
func HasBankingSignal(sender, text string) bool {
	norm := utils.NormalizeText(text)
	return transactionPattern.MatchString(norm) || isBankSender(sender) || bankBodyPattern.MatchString(norm)
}

// HasShortLink reports whether text contains a URL shortener link
func HasShortLink(text string) bool {
	return shortLinkPattern.MatchString(utils.NormalizeText(text))
}

// HasURL reports whether text contains any link
func HasURL(text string) bool {
	return urlPattern.MatchString(utils.NormalizeText(text))
}

func isBankSender(sender string) bool {
	suffix := strings.ToLower(utils.SenderSuffix(sender))
	if suffix == "" {
		return false
	}
	for _, token := range bankTokens {
		if strings.Contains(token, " ") {
			continue
		}
		if suffix == token || strings.HasPrefix(suffix, token) {
			return true
		}
	}
	return false
}

// SpamKeywordMatches returns the distinct spam keywords found in text, in table order
func SpamKeywordMatches(text string) []string {
	return keywordMatches(utils.NormalizeText(text))
}

func keywordMatches(norm string) []string {
	var matches []string
	for _, k := range spamKeywords {
		if k.pattern.MatchString(norm) {
			matches = append(matches, k.text)
		}
	}
	return matches
}

// SpamScore returns the weighted spam indicator score of text, between 0 and 100
func SpamScore(text string) float64 {
	clean := utils.SanitizeUTF8(text)
	return spamScore(clean, utils.NormalizeText(clean))
}

// spamScore needs the original text for the all-caps feature
func spamScore(raw, norm string) float64 {
	score := 0.0
	for _, k := range spamKeywords {
		if k.pattern.MatchString(norm) {
			score += k.weight
		}
	}

	if strings.Count(norm, "!") >= 2 {
		score += 10
	}
	if phonePattern.MatchString(norm) {
		score += 10
	}
	if len(allCapsWordPattern.FindAllString(raw, -1)) >= 3 {
		score += 10
	}
	if currencyPattern.MatchString(norm) {
		score += 5
	}

	return math.Min(score, maxSpamScore)
}

// SpamThreshold returns the score at which a message is considered spam for the given preferences.
// Unknown values are treated as moderate.
func SpamThreshold(mode core.FilteringMode, tolerance core.SpamTolerance) float64 {
	var base float64
	switch mode {
	case core.FilteringLenient:
		base = 70
	case core.FilteringStrict:
		base = 30
	default:
		base = 50
	}

	switch tolerance {
	case core.ToleranceLow:
		if mode == core.FilteringStrict {
			return base - 5
		}
		return base - 10
	case core.ToleranceHigh:
		return base + 10
	default:
		return base
	}
}

// MatchMessageTypes returns the message types whose keywords appear in text
func MatchMessageTypes(text string) []core.MessageType {
	norm := utils.NormalizeText(text)
	var types []core.MessageType
	for _, t := range messageTypeOrder {
		if messageTypePatterns[t].MatchString(norm) {
			types = append(types, t)
		}
	}
	return types
}
