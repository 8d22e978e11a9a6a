// Package preferences provides the user preference sources: a fixed value and
// a YAML file that is watched for changes.
package preferences

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/mikey/sms-spam-filter/internal/core"
)

// Keys read from a preferences file
const (
	KeyFilteringMode    = "filtering_mode"
	KeySpamTolerance    = "spam_tolerance"
	KeyImportantTypes   = "important_types"
	KeyFeedbackLearning = "feedback_learning"
)

// Static always returns the same preferences
type Static struct {
	prefs core.UserPreferences
}

// NewStatic creates a provider for prefs
func NewStatic(prefs core.UserPreferences) *Static {
	return &Static{prefs: clone(prefs)}
}

// Current implements core.PreferencesProvider
func (s *Static) Current() core.UserPreferences {
	return clone(s.prefs)
}

func clone(p core.UserPreferences) core.UserPreferences {
	p.ImportantTypes = append([]core.MessageType(nil), p.ImportantTypes...)
	return p
}

// Parse builds preferences from their textual form
func Parse(mode, tolerance string, types []string, learning bool) (core.UserPreferences, error) {
	prefs := core.UserPreferences{FeedbackLearning: learning}

	switch m := core.FilteringMode(strings.ToLower(strings.TrimSpace(mode))); m {
	case core.FilteringLenient, core.FilteringModerate, core.FilteringStrict:
		prefs.FilteringMode = m
	default:
		return prefs, fmt.Errorf("%w: unknown filtering mode %q", core.ErrValidation, mode)
	}

	switch t := core.SpamTolerance(strings.ToLower(strings.TrimSpace(tolerance))); t {
	case core.ToleranceLow, core.ToleranceModerate, core.ToleranceHigh:
		prefs.SpamTolerance = t
	default:
		return prefs, fmt.Errorf("%w: unknown spam tolerance %q", core.ErrValidation, tolerance)
	}

	seen := make(map[core.MessageType]bool)
	for _, raw := range types {
		t := core.MessageType(strings.ToLower(strings.TrimSpace(raw)))
		switch t {
		case core.TypeBanking, core.TypeEcommerce, core.TypeTravel, core.TypeUtilities, core.TypePersonal:
		default:
			return prefs, fmt.Errorf("%w: unknown message type %q", core.ErrValidation, raw)
		}
		if !seen[t] {
			seen[t] = true
			prefs.ImportantTypes = append(prefs.ImportantTypes, t)
		}
	}

	return prefs, nil
}

// SetDefaults registers the default preferences on v under prefix
func SetDefaults(v *viper.Viper, prefix string) {
	d := core.DefaultPreferences()
	types := make([]string, len(d.ImportantTypes))
	for i, t := range d.ImportantTypes {
		types[i] = string(t)
	}
	v.SetDefault(prefix+KeyFilteringMode, string(d.FilteringMode))
	v.SetDefault(prefix+KeySpamTolerance, string(d.SpamTolerance))
	v.SetDefault(prefix+KeyImportantTypes, types)
	v.SetDefault(prefix+KeyFeedbackLearning, d.FeedbackLearning)
}

// FromViper reads preferences stored on v under prefix
func FromViper(v *viper.Viper, prefix string) (core.UserPreferences, error) {
	return Parse(
		v.GetString(prefix+KeyFilteringMode),
		v.GetString(prefix+KeySpamTolerance),
		v.GetStringSlice(prefix+KeyImportantTypes),
		v.GetBool(prefix+KeyFeedbackLearning),
	)
}

// Viper serves preferences from a YAML file. Invalid edits are rejected and
// the last good preferences stay in effect.
type Viper struct {
	v    *viper.Viper
	path string

	mu          sync.RWMutex
	current     core.UserPreferences
	subscribers []func(core.UserPreferences)

	logger *zap.Logger
}

// NewViper loads preferences from path. A missing file yields the defaults.
func NewViper(path string, logger *zap.Logger) (*Viper, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	SetDefaults(v, "")

	p := &Viper{
		v:       v,
		path:    path,
		current: core.DefaultPreferences(),
		logger:  logger.Named("preferences"),
	}
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// Current implements core.PreferencesProvider
func (p *Viper) Current() core.UserPreferences {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return clone(p.current)
}

// Subscribe registers fn to be called with the new preferences after every change
func (p *Viper) Subscribe(fn func(core.UserPreferences)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribers = append(p.subscribers, fn)
}

// Reload re-reads the file
func (p *Viper) Reload() error {
	if err := p.v.ReadInConfig(); err != nil && !isNotExist(err) {
		return fmt.Errorf("failed to read preferences %s: %w", p.path, err)
	}
	return p.apply()
}

// Watch reloads the preferences whenever the file changes
func (p *Viper) Watch() {
	p.v.OnConfigChange(func(e fsnotify.Event) {
		p.logger.Info("Preferences file changed",
			zap.String("file", e.Name),
			zap.String("op", e.Op.String()))
		if err := p.apply(); err != nil {
			p.logger.Warn("Ignoring invalid preferences", zap.Error(err))
		}
	})
	p.v.WatchConfig()
}

func (p *Viper) apply() error {
	prefs, err := FromViper(p.v, "")
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.current = prefs
	subs := make([]func(core.UserPreferences), len(p.subscribers))
	copy(subs, p.subscribers)
	p.mu.Unlock()

	p.logger.Debug("Preferences loaded",
		zap.String("filtering_mode", string(prefs.FilteringMode)),
		zap.String("spam_tolerance", string(prefs.SpamTolerance)),
		zap.Bool("feedback_learning", prefs.FeedbackLearning))

	for _, fn := range subs {
		fn(clone(prefs))
	}
	return nil
}

func isNotExist(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)
}
