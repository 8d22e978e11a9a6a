package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mikey/sms-spam-filter/internal/utils"
)

// Reasons added by the service
const (
	ReasonLowConfidence      = "Low confidence"
	ReasonPinned             = "Sender pinned to inbox"
	ReasonAutoSpam           = "Sender marked as auto-spam"
	ReasonImportantSender    = "Sender marked important by past corrections"
	ReasonSpammySender       = "Sender marked as spam by past corrections"
	ReasonReputationFailed   = "Could not load sender preferences"
	reasonClassificationFail = "Classification failed: "
)

const (
	overrideConfidence = 0.95
	biasThreshold      = 0.75
	biasStep           = 0.1
	biasCap            = 0.9
	fallbackConfidence = 0.1
	defaultConcurrency = 8
)

// BatchResult is the outcome for one message of a batch
type BatchResult struct {
	Classification *Classification
	Err            error
}

// ClassificationService classifies, stores and audits messages and applies
// user corrections
type ClassificationService struct {
	classifier Classifier
	hardRules  HardRules
	messages   MessageRepository
	reputation ReputationRepository
	audit      AuditRepository
	prefs      PreferencesProvider
	router     NotificationRouter
	logger     *zap.Logger

	now         func() time.Time
	newID       func() string
	concurrency int
}

// Option configures a ClassificationService
type Option func(*ClassificationService)

// WithNotificationRouter sets the router told about every stored verdict
func WithNotificationRouter(router NotificationRouter) Option {
	return func(s *ClassificationService) {
		s.router = router
	}
}

// WithClock replaces the time source
func WithClock(now func() time.Time) Option {
	return func(s *ClassificationService) {
		s.now = now
	}
}

// WithBatchConcurrency bounds how many senders of a batch are processed at once
func WithBatchConcurrency(n int) Option {
	return func(s *ClassificationService) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithIDGenerator replaces the audit record ID generator
func WithIDGenerator(newID func() string) Option {
	return func(s *ClassificationService) {
		s.newID = newID
	}
}

// NewClassificationService creates a new classification service.
// hardRules may be nil when the classifier enforces them itself.
func NewClassificationService(
	classifier Classifier,
	hardRules HardRules,
	messages MessageRepository,
	reputation ReputationRepository,
	audit AuditRepository,
	prefs PreferencesProvider,
	logger *zap.Logger,
	opts ...Option,
) *ClassificationService {
	s := &ClassificationService{
		classifier:  classifier,
		hardRules:   hardRules,
		messages:    messages,
		reputation:  reputation,
		audit:       audit,
		prefs:       prefs,
		logger:      logger.Named("classification"),
		now:         time.Now,
		newID:       uuid.NewString,
		concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Classifier returns the active classifier
func (s *ClassificationService) Classifier() Classifier {
	return s.classifier
}

// ClassifyAndStore classifies msg, stores it with the final category and
// writes an audit record. It always returns a verdict; the error is only
// ever ErrValidation or ErrDuplicate.
func (s *ClassificationService) ClassifyAndStore(ctx context.Context, msg *Message) (*Classification, error) {
	m, err := s.prepare(msg)
	if err != nil {
		return invalidVerdict(), err
	}
	return s.store(ctx, m, s.currentPreferences(), nil)
}

// prepare validates msg and returns the copy that will be stored
func (s *ClassificationService) prepare(msg *Message) (*Message, error) {
	if msg == nil || strings.TrimSpace(msg.Sender) == "" || strings.TrimSpace(msg.Body) == "" {
		return nil, fmt.Errorf("%w: sender and body are required", ErrValidation)
	}

	m := *msg
	m.ID = 0
	m.Body = utils.SanitizeUTF8(m.Body)
	if m.Timestamp.IsZero() {
		m.Timestamp = s.now()
	}
	return &m, nil
}

func invalidVerdict() *Classification {
	return NewClassification(CategoryNeedsReview, 0, "Invalid message: sender and body are required")
}

// store finishes the pipeline for a prepared message. raw is the classifier's
// verdict when it was already computed in a batch; when nil the classifier is
// asked for this message alone.
func (s *ClassificationService) store(ctx context.Context, m *Message, prefs UserPreferences, raw *Classification) (*Classification, error) {
	base, err := s.runClassifier(ctx, m, prefs, raw)
	if err != nil {
		return s.fallback(ctx, m, err)
	}

	final, overridden := s.applyReputation(ctx, m.Sender, base)
	tag := base.Classifier
	if overridden {
		tag = TagHybrid
	}

	// Nothing has been written yet, so a cancelled caller gets the fallback verdict
	if err := ctx.Err(); err != nil {
		s.logger.Info("Classification cancelled before storing",
			zap.String("sender", m.Sender),
			zap.Error(err))
		res := NewClassification(CategoryNeedsReview, fallbackConfidence, reasonClassificationFail+err.Error())
		res.Classifier = TagFallback
		return res, nil
	}

	m.Category = final.Category
	id, err := s.messages.Insert(ctx, m)
	if err != nil {
		if errors.Is(err, ErrDuplicate) {
			s.logger.Debug("Duplicate message ignored", zap.String("sender", m.Sender))
			return final, err
		}
		return s.fallback(ctx, m, fmt.Errorf("%w: %v", ErrPersistence, err))
	}
	m.ID = id
	final.MessageID = id

	// Once the message row exists its audit record follows it
	detached := context.WithoutCancel(ctx)
	s.writeAudit(detached, id, tag, final.Category, final.Confidence, final.Reasons)
	s.route(detached, m, final)

	s.logger.Info("Message classified",
		zap.Int64("id", id),
		zap.String("sender", m.Sender),
		zap.String("category", string(final.Category)),
		zap.Float64("confidence", final.Confidence),
		zap.String("classifier", tag))

	return final, nil
}

// runClassifier produces the base verdict: the classifier's output with its
// confidence threshold and the hard rules applied
func (s *ClassificationService) runClassifier(ctx context.Context, msg *Message, prefs UserPreferences, raw *Classification) (result *Classification, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("classifier %s panicked: %v", s.classifier.Name(), r)
		}
	}()

	if raw == nil {
		raw, err = s.classifier.Classify(ctx, msg, prefs)
		if err != nil {
			return nil, fmt.Errorf("classifier %s: %w", s.classifier.Name(), err)
		}
	}
	if raw == nil || !raw.Category.Valid() {
		return nil, fmt.Errorf("classifier %s returned no usable verdict", s.classifier.Name())
	}

	base := raw.Clone()
	base.Confidence = Clamp01(base.Confidence)
	if base.Classifier == "" {
		base.Classifier = s.classifier.Name()
	}

	if !base.Hard && base.Category != CategoryNeedsReview && base.Confidence < s.classifier.ConfidenceThreshold() {
		base.Category = CategoryNeedsReview
		base.AddReason(ReasonLowConfidence)
	}

	if s.hardRules != nil {
		if hard := s.hardRules.HardOverride(msg.Sender, msg.Body); hard != nil {
			if !base.Hard || base.Category != hard.Category {
				hard = hard.Clone()
				hard.Hard = true
				hard.Classifier = base.Classifier
				base = hard
			}
		}
	}

	return base, nil
}

// applyReputation applies at most one reputation override to base. It
// reports whether the verdict was changed.
func (s *ClassificationService) applyReputation(ctx context.Context, sender string, base *Classification) (*Classification, bool) {
	rep, err := s.reputation.Get(ctx, sender)
	if err != nil {
		s.logger.Warn("Failed to load sender reputation",
			zap.String("sender", sender),
			zap.Error(err))
		res := base.Clone()
		res.AddReason(ReasonReputationFailed)
		return res, false
	}
	if rep == nil || base.Hard {
		return base, false
	}

	res := base.Clone()
	switch {
	case rep.PinnedToInbox:
		res.Category = CategoryInbox
		res.Confidence = overrideConfidence
		res.AddReason(ReasonPinned)
	case rep.AutoSpam:
		res.Category = CategorySpam
		res.Confidence = overrideConfidence
		res.AddReason(ReasonAutoSpam)
	case rep.ImportanceScore >= biasThreshold && rep.ImportanceScore >= rep.SpamScore:
		res.Category = CategoryInbox
		res.Confidence = Clamp01(math.Min(biasCap, base.Confidence+biasStep))
		res.AddReason(ReasonImportantSender)
	case rep.SpamScore >= biasThreshold:
		res.Category = CategorySpam
		res.Confidence = Clamp01(math.Min(biasCap, base.Confidence+biasStep))
		res.AddReason(ReasonSpammySender)
	default:
		return base, false
	}
	return res, true
}

// fallback stores msg for manual review after a failure in the pipeline
func (s *ClassificationService) fallback(ctx context.Context, msg *Message, cause error) (*Classification, error) {
	s.logger.Error("Classification failed, falling back to review",
		zap.String("sender", msg.Sender),
		zap.Error(cause))

	res := NewClassification(CategoryNeedsReview, fallbackConfidence, reasonClassificationFail+cause.Error())
	res.Classifier = TagFallback

	if ctx.Err() != nil {
		return res, nil
	}

	msg.Category = CategoryNeedsReview
	id, err := s.messages.Insert(ctx, msg)
	if err != nil {
		if errors.Is(err, ErrDuplicate) {
			return res, err
		}
		s.logger.Error("Failed to store message for review", zap.Error(err))
		return res, nil
	}
	msg.ID = id
	res.MessageID = id

	detached := context.WithoutCancel(ctx)
	s.writeAudit(detached, id, TagFallback, res.Category, res.Confidence, res.Reasons)
	s.route(detached, msg, res)
	return res, nil
}

func (s *ClassificationService) writeAudit(ctx context.Context, messageID int64, tag string, category Category, confidence float64, reasons []string) {
	rec := &AuditRecord{
		ID:         s.newID(),
		MessageID:  &messageID,
		Classifier: tag,
		Category:   category,
		Confidence: Clamp01(confidence),
		Reasons:    JoinReasons(reasons),
		CreatedAt:  s.now(),
	}
	if err := s.audit.Insert(ctx, rec); err != nil {
		s.logger.Warn("Failed to write audit record",
			zap.Int64("message_id", messageID),
			zap.String("classifier", tag),
			zap.Error(fmt.Errorf("%w: %v", ErrAuditWrite, err)))
	}
}

func (s *ClassificationService) route(ctx context.Context, msg *Message, result *Classification) {
	if s.router == nil {
		return
	}
	if err := s.router.Route(ctx, msg, result); err != nil {
		s.logger.Warn("Notification routing failed",
			zap.Int64("message_id", msg.ID),
			zap.Error(err))
	}
}

func (s *ClassificationService) currentPreferences() UserPreferences {
	if s.prefs == nil {
		return DefaultPreferences()
	}
	return s.prefs.Current()
}

// ClassifyAndStoreBatch classifies several messages. The classifier sees the
// whole batch at once; storing then follows each sender's timestamp order
// while different senders run concurrently. Results are in input order.
func (s *ClassificationService) ClassifyAndStoreBatch(ctx context.Context, msgs []*Message) []BatchResult {
	results := make([]BatchResult, len(msgs))
	prefs := s.currentPreferences()

	prepared := make([]*Message, len(msgs))
	var (
		valid    []*Message
		validIdx []int
	)
	for i, msg := range msgs {
		m, err := s.prepare(msg)
		if err != nil {
			results[i] = BatchResult{Classification: invalidVerdict(), Err: err}
			continue
		}
		prepared[i] = m
		valid = append(valid, m)
		validIdx = append(validIdx, i)
	}

	raws := make([]*Classification, len(msgs))
	verdicts, err := s.runBatchClassifier(ctx, valid, prefs)
	if err != nil {
		s.logger.Warn("Batch classification failed, classifying messages one at a time",
			zap.Int("messages", len(valid)),
			zap.Error(err))
	} else {
		for j, idx := range validIdx {
			raws[idx] = verdicts[j]
		}
	}

	var g errgroup.Group
	g.SetLimit(s.concurrency)

	for _, group := range groupBySender(prepared) {
		group := group
		g.Go(func() error {
			for _, idx := range group {
				if prepared[idx] == nil {
					continue
				}
				c, err := s.store(ctx, prepared[idx], prefs, raws[idx])
				results[idx] = BatchResult{Classification: c, Err: err}
			}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (s *ClassificationService) runBatchClassifier(ctx context.Context, msgs []*Message, prefs UserPreferences) (out []*Classification, err error) {
	if len(msgs) == 0 {
		return nil, nil
	}
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("classifier %s panicked: %v", s.classifier.Name(), r)
		}
	}()

	out, err = s.classifier.ClassifyBatch(ctx, msgs, prefs)
	if err != nil {
		return nil, fmt.Errorf("classifier %s: %w", s.classifier.Name(), err)
	}
	if len(out) != len(msgs) {
		return nil, fmt.Errorf("classifier %s returned %d verdicts for %d messages", s.classifier.Name(), len(out), len(msgs))
	}
	return out, nil
}

func groupBySender(msgs []*Message) [][]int {
	var order []string
	groups := make(map[string][]int)
	for i, m := range msgs {
		key := ""
		if m != nil {
			key = m.Sender
		}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], i)
	}

	out := make([][]int, 0, len(order))
	for _, key := range order {
		idx := groups[key]
		sort.SliceStable(idx, func(a, b int) bool {
			ma, mb := msgs[idx[a]], msgs[idx[b]]
			if ma == nil || mb == nil {
				return false
			}
			return ma.Timestamp.Before(mb.Timestamp)
		})
		out = append(out, idx)
	}
	return out
}

// HandleUserCorrection moves a stored message to corrected and records the
// correction. Learning failures are logged and do not fail the correction.
func (s *ClassificationService) HandleUserCorrection(ctx context.Context, messageID int64, corrected Category, reason string) error {
	if !corrected.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrValidation, corrected)
	}

	msg, err := s.messages.Get(ctx, messageID)
	if err != nil {
		return err
	}
	previous := msg.Category
	if msg.ManualCategory != nil {
		previous = *msg.ManualCategory
	}

	if err := s.messages.UpdateCategory(ctx, messageID, corrected, true); err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	if s.currentPreferences().FeedbackLearning {
		if err := s.learn(ctx, msg, previous, corrected); err != nil {
			s.logger.Warn("Failed to learn from correction",
				zap.Int64("message_id", messageID),
				zap.Error(err))
		}
	}

	reasons := []string{fmt.Sprintf("User corrected %s to %s", previous, corrected)}
	if strings.TrimSpace(reason) != "" {
		reasons = append(reasons, reason)
	}
	s.writeAudit(context.WithoutCancel(ctx), messageID, TagUserFeedback, corrected, 1.0, reasons)

	s.logger.Info("Message corrected",
		zap.Int64("id", messageID),
		zap.String("sender", msg.Sender),
		zap.String("previous", string(previous)),
		zap.String("corrected", string(corrected)))

	return nil
}

// learn forwards a correction to the classifier and records a reputation vote
func (s *ClassificationService) learn(ctx context.Context, msg *Message, previous, corrected Category) error {
	var errs []error

	if err := s.learnClassifier(ctx, msg, previous, corrected); err != nil {
		errs = append(errs, err)
	}

	prev, err := s.reputation.Get(ctx, msg.Sender)
	if err != nil {
		errs = append(errs, fmt.Errorf("%w: %v", ErrLearning, err))
	} else if update, ok := CorrectionVote(prev, msg.Sender, corrected); ok {
		if _, err := s.reputation.Upsert(ctx, update); err != nil {
			errs = append(errs, fmt.Errorf("%w: reputation vote: %v", ErrLearning, err))
		}
	}

	return errors.Join(errs...)
}

func (s *ClassificationService) learnClassifier(ctx context.Context, msg *Message, previous, corrected Category) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: classifier panicked: %v", ErrLearning, r)
		}
	}()
	if err := s.classifier.LearnFromCorrection(ctx, msg, previous, corrected); err != nil {
		return fmt.Errorf("%w: %v", ErrLearning, err)
	}
	return nil
}

// LatestReasons returns the reasons of the most recent audit record for a message
func (s *ClassificationService) LatestReasons(ctx context.Context, messageID int64) ([]string, error) {
	rec, err := s.audit.LatestFor(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	return SplitReasons(rec.Reasons), nil
}

// Explain returns why a stored message has its category: the latest audit
// record, or a fresh evaluation that does not change any learned state
func (s *ClassificationService) Explain(ctx context.Context, messageID int64) (*Classification, error) {
	rec, err := s.audit.LatestFor(ctx, messageID)
	if err != nil {
		s.logger.Warn("Failed to read audit log", zap.Int64("message_id", messageID), zap.Error(err))
	}
	if rec != nil {
		return &Classification{
			Category:   rec.Category,
			Confidence: rec.Confidence,
			Reasons:    SplitReasons(rec.Reasons),
			MessageID:  messageID,
			Classifier: rec.Classifier,
		}, nil
	}

	msg, err := s.messages.Get(ctx, messageID)
	if err != nil {
		return nil, err
	}

	prefs := s.currentPreferences()
	var result *Classification
	if ex, ok := s.classifier.(Explainer); ok {
		result, err = ex.Explain(ctx, msg, prefs)
	} else {
		result, err = s.classifier.Classify(ctx, msg, prefs)
	}
	if err != nil {
		return nil, err
	}
	result.MessageID = messageID
	return result, nil
}

// PinSender pins a sender to the inbox or removes the pin
func (s *ClassificationService) PinSender(ctx context.Context, sender string, pinned bool) (*SenderReputation, error) {
	if strings.TrimSpace(sender) == "" {
		return nil, fmt.Errorf("%w: sender is required", ErrValidation)
	}
	return s.reputation.Upsert(ctx, PinUpdate(sender, pinned))
}

// SetAutoSpam marks a sender as auto-spam or clears the mark
func (s *ClassificationService) SetAutoSpam(ctx context.Context, sender string, autoSpam bool) (*SenderReputation, error) {
	if strings.TrimSpace(sender) == "" {
		return nil, fmt.Errorf("%w: sender is required", ErrValidation)
	}
	return s.reputation.Upsert(ctx, AutoSpamUpdate(sender, autoSpam))
}

// MarkRead sets the read flag of a message
func (s *ClassificationService) MarkRead(ctx context.Context, messageID int64, read bool) error {
	return s.messages.SetRead(ctx, messageID, read)
}

// Archive sets the archived flag of a message
func (s *ClassificationService) Archive(ctx context.Context, messageID int64, archived bool) error {
	return s.messages.SetArchived(ctx, messageID, archived)
}

// Delete soft-deletes a message; Restore undoes it
func (s *ClassificationService) Delete(ctx context.Context, messageID int64) error {
	return s.messages.SoftDelete(ctx, messageID, s.now())
}

// Restore brings back a soft-deleted message
func (s *ClassificationService) Restore(ctx context.Context, messageID int64) error {
	return s.messages.Restore(ctx, messageID)
}

// PurgeDeleted physically removes messages soft-deleted more than olderThan ago
func (s *ClassificationService) PurgeDeleted(ctx context.Context, olderThan time.Duration) (int64, error) {
	return s.messages.Purge(ctx, s.now().Add(-olderThan))
}

// PruneAudit removes audit records older than olderThan
func (s *ClassificationService) PruneAudit(ctx context.Context, olderThan time.Duration) (int64, error) {
	n, err := s.audit.PruneOlderThan(ctx, s.now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	s.logger.Info("Pruned audit log", zap.Int64("removed", n), zap.Duration("older_than", olderThan))
	return n, nil
}
