// Package model provides an offline learned classifier: a linear token-weight
// model over six message classes, mapped onto the three dispositions.
package model

import (
	"context"
	_ "embed"
	"fmt"
	"math"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/mikey/sms-spam-filter/internal/core"
	"github.com/mikey/sms-spam-filter/internal/utils"
)

// Name is the audit tag of this classifier
const Name = "model"

// Class is one of the model's output classes
type Class string

const (
	ClassInbox       Class = "INBOX"
	ClassSpam        Class = "SPAM"
	ClassOTP         Class = "OTP"
	ClassBanking     Class = "BANKING"
	ClassEcommerce   Class = "ECOMMERCE"
	ClassNeedsReview Class = "NEEDS_REVIEW"
)

// Classes lists every class the model must score
var Classes = []Class{ClassInbox, ClassSpam, ClassOTP, ClassBanking, ClassEcommerce, ClassNeedsReview}

// Disposition maps a model class onto a message category
func Disposition(c Class) core.Category {
	switch c {
	case ClassSpam:
		return core.CategorySpam
	case ClassNeedsReview:
		return core.CategoryNeedsReview
	default:
		return core.CategoryInbox
	}
}

const (
	defaultReviewThreshold = 0.55
	defaultLearningRate    = 0.1
	maxReasonTokens        = 3
)

//go:embed default_model.json
var defaultModel []byte

// Weights is the on-disk form of the model
type Weights struct {
	Version         string                       `json:"version"`
	Classes         []Class                      `json:"classes"`
	ReviewThreshold float64                      `json:"review_threshold"`
	LearningRate    float64                      `json:"learning_rate"`
	Bias            map[Class]float64            `json:"bias"`
	Tokens          map[string]map[Class]float64 `json:"tokens"`
}

// LoadWeights reads weights from path, or the embedded defaults when path is empty
func LoadWeights(path string) (*Weights, error) {
	data := defaultModel
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read model %s: %w", path, err)
		}
	}
	return ParseWeights(data)
}

// ParseWeights decodes and validates model weights
func ParseWeights(data []byte) (*Weights, error) {
	var w Weights
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("failed to parse model: %w", err)
	}

	known := make(map[Class]bool, len(w.Classes))
	for _, c := range w.Classes {
		known[c] = true
	}
	for _, c := range Classes {
		if !known[c] {
			return nil, fmt.Errorf("model is missing class %s", c)
		}
	}
	for token, weights := range w.Tokens {
		for c := range weights {
			if !known[c] {
				return nil, fmt.Errorf("token %q has weight for unknown class %s", token, c)
			}
		}
	}

	if w.ReviewThreshold <= 0 || w.ReviewThreshold >= 1 {
		w.ReviewThreshold = defaultReviewThreshold
	}
	if w.LearningRate <= 0 {
		w.LearningRate = defaultLearningRate
	}
	if w.Bias == nil {
		w.Bias = make(map[Class]float64)
	}
	if w.Tokens == nil {
		w.Tokens = make(map[string]map[Class]float64)
	}
	return &w, nil
}

// Classifier scores messages with a token-weight model. Corrections adjust
// the weights in memory.
type Classifier struct {
	mu      sync.RWMutex
	weights *Weights
	logger  *zap.Logger
}

// NewClassifier creates a classifier over w
func NewClassifier(w *Weights, logger *zap.Logger) *Classifier {
	return &Classifier{
		weights: w,
		logger:  logger.Named("model"),
	}
}

// Name implements core.Classifier
func (c *Classifier) Name() string {
	return Name
}

// ConfidenceThreshold implements core.Classifier; it is the model's review threshold
func (c *Classifier) ConfidenceThreshold() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.weights.ReviewThreshold
}

// Prediction is the raw model output for one message
type Prediction struct {
	Probabilities map[Class]float64
	Top           Class
	Category      core.Category
	Confidence    float64
	Tokens        []string
}

// Predict scores text against every class
func (c *Classifier) Predict(text string) Prediction {
	tokens := Tokenize(text)

	c.mu.RLock()
	logits := c.logitsLocked(tokens)
	c.mu.RUnlock()

	probs := softmax(logits)

	p := Prediction{Probabilities: probs, Tokens: tokens}
	byCategory := make(map[core.Category]float64, 3)
	for _, cls := range Classes {
		byCategory[Disposition(cls)] += probs[cls]
		if p.Top == "" || probs[cls] > probs[p.Top] {
			p.Top = cls
		}
	}
	for _, cat := range []core.Category{core.CategoryInbox, core.CategorySpam, core.CategoryNeedsReview} {
		if byCategory[cat] > p.Confidence {
			p.Category = cat
			p.Confidence = byCategory[cat]
		}
	}
	return p
}

func (c *Classifier) logitsLocked(tokens []string) map[Class]float64 {
	logits := make(map[Class]float64, len(Classes))
	for _, cls := range Classes {
		logits[cls] = c.weights.Bias[cls]
	}
	for _, tok := range tokens {
		for cls, w := range c.weights.Tokens[tok] {
			logits[cls] += w
		}
	}
	return logits
}

func softmax(logits map[Class]float64) map[Class]float64 {
	maxLogit := math.Inf(-1)
	for _, v := range logits {
		maxLogit = math.Max(maxLogit, v)
	}
	sum := 0.0
	probs := make(map[Class]float64, len(logits))
	for cls, v := range logits {
		e := math.Exp(v - maxLogit)
		probs[cls] = e
		sum += e
	}
	for cls := range probs {
		probs[cls] /= sum
	}
	return probs
}

// Classify implements core.Classifier
func (c *Classifier) Classify(ctx context.Context, msg *core.Message, prefs core.UserPreferences) (*core.Classification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p := c.Predict(msg.Body)
	result := core.NewClassification(p.Category, p.Confidence,
		fmt.Sprintf("Model class %s (%.2f)", p.Top, p.Probabilities[p.Top]))
	if top := c.topTokens(p.Tokens, p.Top); len(top) > 0 {
		result.AddReason("Indicative words: " + strings.Join(top, ", "))
	}
	result.MessageID = msg.ID
	result.Classifier = Name

	c.logger.Debug("Message scored",
		zap.String("sender", msg.Sender),
		zap.String("class", string(p.Top)),
		zap.String("category", string(p.Category)),
		zap.Float64("confidence", p.Confidence))

	return result, nil
}

// topTokens returns the tokens pushing hardest towards cls
func (c *Classifier) topTokens(tokens []string, cls Class) []string {
	type contrib struct {
		token  string
		weight float64
	}

	c.mu.RLock()
	var contribs []contrib
	for _, tok := range tokens {
		if w := c.weights.Tokens[tok][cls]; w > 0 && !strings.HasPrefix(tok, "<") {
			contribs = append(contribs, contrib{tok, w})
		}
	}
	c.mu.RUnlock()

	sort.SliceStable(contribs, func(i, j int) bool { return contribs[i].weight > contribs[j].weight })
	if len(contribs) > maxReasonTokens {
		contribs = contribs[:maxReasonTokens]
	}
	out := make([]string, len(contribs))
	for i, ct := range contribs {
		out[i] = ct.token
	}
	return out
}

// ClassifyBatch implements core.Classifier
func (c *Classifier) ClassifyBatch(ctx context.Context, msgs []*core.Message, prefs core.UserPreferences) ([]*core.Classification, error) {
	results := make([]*core.Classification, len(msgs))
	for i, msg := range msgs {
		res, err := c.Classify(ctx, msg, prefs)
		if err != nil {
			return nil, err
		}
		results[i] = res
	}
	return results, nil
}

// LearnFromCorrection moves the message's token weights towards the corrected
// class and away from the class the model currently predicts
func (c *Classifier) LearnFromCorrection(ctx context.Context, msg *core.Message, previous, corrected core.Category) error {
	target, ok := targetClass(corrected)
	if !ok {
		return fmt.Errorf("%w: cannot learn category %q", core.ErrValidation, corrected)
	}

	tokens := Tokenize(msg.Body)
	if len(tokens) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	probs := softmax(c.logitsLocked(tokens))
	predicted := target
	for _, cls := range Classes {
		if probs[cls] > probs[predicted] {
			predicted = cls
		}
	}

	rate := c.weights.LearningRate
	for _, tok := range tokens {
		w, ok := c.weights.Tokens[tok]
		if !ok {
			w = make(map[Class]float64, 2)
			c.weights.Tokens[tok] = w
		}
		w[target] += rate
		if predicted != target {
			w[predicted] -= rate
		}
	}

	c.logger.Info("Model weights adjusted",
		zap.Int64("message_id", msg.ID),
		zap.String("target", string(target)),
		zap.String("predicted", string(predicted)),
		zap.Int("tokens", len(tokens)))

	return nil
}

func targetClass(cat core.Category) (Class, bool) {
	switch cat {
	case core.CategoryInbox:
		return ClassInbox, true
	case core.CategorySpam:
		return ClassSpam, true
	case core.CategoryNeedsReview:
		return ClassNeedsReview, true
	}
	return "", false
}

// Weight returns the current weight of token for cls
func (c *Classifier) Weight(token string, cls Class) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.weights.Tokens[token][cls]
}

var urlPattern = regexp.MustCompile(`(https?://\S+|www\.\S+|\b[a-z0-9-]+\.(com|in|ly|net|org|co|me)(/\S*)?)`)

// Tokenize returns the distinct tokens of text. Digit runs become <code>,
// <phone> or <num> and links become <url>.
func Tokenize(text string) []string {
	norm := utils.NormalizeText(text)

	var tokens []string
	seen := make(map[string]bool)
	add := func(tok string) {
		if !seen[tok] {
			seen[tok] = true
			tokens = append(tokens, tok)
		}
	}

	if urlPattern.MatchString(norm) {
		add("<url>")
		norm = urlPattern.ReplaceAllString(norm, " ")
	}

	words := strings.FieldsFunc(norm, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		add(digitToken(w))
	}
	return tokens
}

func digitToken(w string) string {
	for _, r := range w {
		if !unicode.IsDigit(r) {
			return w
		}
	}
	switch n := len(w); {
	case n >= 4 && n <= 8:
		return "<code>"
	case n >= 10:
		return "<phone>"
	default:
		return "<num>"
	}
}
