package contextual

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mikey/sms-spam-filter/internal/core"
)

// Name is the audit tag for verdicts produced by the contextual classifier
const Name = "contextual"

// RecentMessages reads a sender's recent messages, oldest first
type RecentMessages interface {
	RecentBySender(ctx context.Context, sender string, since time.Time, limit int) ([]*core.Message, error)
}

// ClassifierConfig controls how much history the classifier reads
type ClassifierConfig struct {
	RecentWindow time.Duration
	RecentLimit  int
	Concurrency  int
	ReviewBelow  float64
}

// Classifier adapts a Refiner to core.Classifier
type Classifier struct {
	refiner *Refiner
	recent  RecentMessages
	cfg     ClassifierConfig
	logger  *zap.Logger
	now     func() time.Time
}

// NewClassifier creates a contextual classifier. recent may be nil, in which
// case every message is classified without history.
func NewClassifier(refiner *Refiner, recent RecentMessages, cfg ClassifierConfig, logger *zap.Logger) *Classifier {
	if cfg.RecentWindow <= 0 {
		cfg.RecentWindow = time.Hour
	}
	if cfg.RecentLimit <= 0 {
		cfg.RecentLimit = 50
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.ReviewBelow <= 0 {
		cfg.ReviewBelow = 0.5
	}
	return &Classifier{
		refiner: refiner,
		recent:  recent,
		cfg:     cfg,
		logger:  logger.Named("contextual-classifier"),
		now:     time.Now,
	}
}

// Refiner returns the underlying refiner
func (c *Classifier) Refiner() *Refiner {
	return c.refiner
}

// Name implements core.Classifier
func (c *Classifier) Name() string {
	return Name
}

// Classify implements core.Classifier
func (c *Classifier) Classify(ctx context.Context, msg *core.Message, prefs core.UserPreferences) (*core.Classification, error) {
	return c.classify(ctx, msg, prefs, true)
}

// Explain re-evaluates msg without changing the refiner's state
func (c *Classifier) Explain(ctx context.Context, msg *core.Message, prefs core.UserPreferences) (*core.Classification, error) {
	return c.classify(ctx, msg, prefs, false)
}

func (c *Classifier) classify(ctx context.Context, msg *core.Message, prefs core.UserPreferences, update bool) (*core.Classification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	recent := c.loadRecent(ctx, msg)
	return c.finish(msg, c.refiner.ClassifyWithContext(msg, recent, prefs, update)), nil
}

func (c *Classifier) finish(msg *core.Message, result *core.Classification) *core.Classification {
	result.MessageID = msg.ID
	result.Classifier = Name
	return result
}

// loadRecent returns the sender's stored messages in the window before msg.
// A failed read degrades to no history.
func (c *Classifier) loadRecent(ctx context.Context, msg *core.Message) []*core.Message {
	if c.recent == nil {
		return nil
	}

	at := msg.Timestamp
	if at.IsZero() {
		at = c.now()
	}

	recent, err := c.recent.RecentBySender(ctx, msg.Sender, at.Add(-c.cfg.RecentWindow), c.cfg.RecentLimit)
	if err != nil {
		c.logger.Warn("Failed to load recent messages, classifying without history",
			zap.String("sender", msg.Sender),
			zap.Error(err))
		return nil
	}

	filtered := make([]*core.Message, 0, len(recent))
	for _, m := range recent {
		if m.ID != 0 && m.ID == msg.ID {
			continue
		}
		if m.Timestamp.After(at) {
			continue
		}
		filtered = append(filtered, m)
	}
	return filtered
}

// ClassifyBatch implements core.Classifier. Messages from one sender are
// classified in timestamp order so each sees the ones before it; different
// senders run concurrently.
func (c *Classifier) ClassifyBatch(ctx context.Context, msgs []*core.Message, prefs core.UserPreferences) ([]*core.Classification, error) {
	results := make([]*core.Classification, len(msgs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)

	for _, group := range groupBySender(msgs) {
		group := group
		g.Go(func() error {
			var earlier []*core.Message
			for _, idx := range group {
				if err := gctx.Err(); err != nil {
					return err
				}
				msg := msgs[idx]
				recent := append(c.loadRecent(gctx, msg), windowBefore(earlier, msg.Timestamp, c.cfg.RecentWindow)...)
				results[idx] = c.finish(msg, c.refiner.ClassifyWithContext(msg, recent, prefs, true))
				earlier = append(earlier, msg)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// groupBySender returns indexes into msgs grouped per sender, each group in
// timestamp order, groups ordered by first appearance
func groupBySender(msgs []*core.Message) [][]int {
	var order []string
	groups := make(map[string][]int)
	for i, m := range msgs {
		key := senderKey(m.Sender)
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], i)
	}

	out := make([][]int, 0, len(order))
	for _, key := range order {
		idx := groups[key]
		sort.SliceStable(idx, func(a, b int) bool {
			return msgs[idx[a]].Timestamp.Before(msgs[idx[b]].Timestamp)
		})
		out = append(out, idx)
	}
	return out
}

func windowBefore(msgs []*core.Message, at time.Time, window time.Duration) []*core.Message {
	var out []*core.Message
	from := at.Add(-window)
	for _, m := range msgs {
		if !m.Timestamp.Before(from) && !m.Timestamp.After(at) {
			out = append(out, m)
		}
	}
	return out
}

// LearnFromCorrection implements core.Classifier
func (c *Classifier) LearnFromCorrection(ctx context.Context, msg *core.Message, previous, corrected core.Category) error {
	c.refiner.LearnFromCorrection(msg, previous, corrected)
	return nil
}

// ConfidenceThreshold implements core.Classifier
func (c *Classifier) ConfidenceThreshold() float64 {
	return c.cfg.ReviewBelow
}
