package rules

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/mylaniakea/unity/internal/model"
)

// ErrDuplicateRule is returned when a rules file defines the same id twice
var ErrDuplicateRule = errors.New("duplicate rule id")

// Source supplies the rules to evaluate, polled once per evaluation cycle
type Source interface {
	EnabledRules(ctx context.Context) ([]model.AlertRule, error)
}

// StaticSource serves a fixed rule set as given. No defaults are applied, so a
// zero Cooldown stays zero.
type StaticSource struct {
	mu    sync.RWMutex
	rules []model.AlertRule
}

func NewStaticSource(rules ...model.AlertRule) *StaticSource {
	return &StaticSource{rules: rules}
}

// Set replaces the rule set
func (s *StaticSource) Set(rules ...model.AlertRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = rules
}

func (s *StaticSource) EnabledRules(context.Context) ([]model.AlertRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return enabled(s.rules), nil
}

func enabled(rules []model.AlertRule) []model.AlertRule {
	out := make([]model.AlertRule, 0, len(rules))
	for _, r := range rules {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out
}

type ruleFile struct {
	Rules []ruleDoc `yaml:"rules"`
}

// ruleDoc distinguishes omitted fields from zero values so defaults can apply
type ruleDoc struct {
	ID           string         `yaml:"id"`
	Name         string         `yaml:"name"`
	ResourceType string         `yaml:"resource_type"`
	ResourceIDs  []string       `yaml:"resource_ids"`
	Metric       string         `yaml:"metric"`
	Operator     string         `yaml:"operator"`
	Threshold    *float64       `yaml:"threshold"`
	Severity     string         `yaml:"severity"`
	Enabled      *bool          `yaml:"enabled"`
	Cooldown     *time.Duration `yaml:"cooldown"`
	Channels     []string       `yaml:"channels"`
}

func (d ruleDoc) rule() model.AlertRule {
	r := model.AlertRule{
		ID:           d.ID,
		Name:         d.Name,
		ResourceType: d.ResourceType,
		ResourceIDs:  d.ResourceIDs,
		Metric:       d.Metric,
		Operator:     model.Operator(d.Operator),
		Severity:     model.AlertSeverity(d.Severity),
		Enabled:      true,
		Cooldown:     model.DefaultCooldown,
		Channels:     d.Channels,
	}
	if r.Name == "" {
		r.Name = r.ID
	}
	if r.Severity == "" {
		r.Severity = model.AlertSeverityWarning
	}
	if d.Threshold != nil {
		r.Threshold = *d.Threshold
	}
	if d.Enabled != nil {
		r.Enabled = *d.Enabled
	}
	if d.Cooldown != nil {
		r.Cooldown = *d.Cooldown
	}
	return r
}

// FileSource reads rules from a YAML file. The file is parsed again only
// when its modification time changes; a file that fails to parse keeps the
// last good rule set in service.
type FileSource struct {
	logger *zap.Logger
	path   string

	mu      sync.Mutex
	modTime time.Time
	loaded  bool
	rules   []model.AlertRule
}

func NewFileSource(logger *zap.Logger, path string) *FileSource {
	return &FileSource{
		logger: logger.Named("rules"),
		path:   path,
	}
}

func (s *FileSource) EnabledRules(context.Context) ([]model.AlertRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(s.path)
	if err != nil {
		if s.loaded {
			s.logger.Warn("Rules file unavailable, keeping previous rules", zap.Error(err))
			return enabled(s.rules), nil
		}
		return nil, fmt.Errorf("failed to stat rules file: %w", err)
	}

	if !s.loaded || !info.ModTime().Equal(s.modTime) {
		rules, err := s.parse()
		if err != nil {
			if !s.loaded {
				return nil, err
			}
			s.logger.Warn("Failed to reload rules, keeping previous rules", zap.Error(err))
		} else {
			s.rules = rules
			s.loaded = true
			s.logger.Info("Rules loaded",
				zap.String("path", s.path),
				zap.Int("count", len(rules)))
		}
		// a broken file is not re-parsed until it changes again
		s.modTime = info.ModTime()
	}

	return enabled(s.rules), nil
}

func (s *FileSource) parse() ([]model.AlertRule, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}

	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse rules file: %w", err)
	}

	seen := make(map[string]struct{}, len(file.Rules))
	rules := make([]model.AlertRule, 0, len(file.Rules))
	for _, doc := range file.Rules {
		rule := doc.rule()
		if err := rule.Validate(); err != nil {
			s.logger.Warn("Skipping invalid rule", zap.String("rule_id", rule.ID), zap.Error(err))
			continue
		}
		if _, dup := seen[rule.ID]; dup {
			return nil, fmt.Errorf("%s: %w", rule.ID, ErrDuplicateRule)
		}
		seen[rule.ID] = struct{}{}
		rules = append(rules, rule)
	}
	return rules, nil
}
