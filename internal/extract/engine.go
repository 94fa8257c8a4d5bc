package extract

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/JakeFAU/signal-scanner/internal/clock/system"
	"github.com/JakeFAU/signal-scanner/internal/signals"
)

const (
	// DefaultConfidenceFloor rejects candidates scoring below it.
	DefaultConfidenceFloor = 60
	// DefaultStructuredWeight is the pattern weight for pre-structured records.
	DefaultStructuredWeight = 15
	defaultMaxEvidence      = 280
	structuredPattern       = "structured"
)

// Options configures an Engine. Zero values fall back to built-in defaults.
type Options struct {
	Rules            []Rule
	Vocabulary       Vocabulary
	ConfidenceFloor  int
	StructuredWeight int
	MaxEvidence      int
	Classifier       signals.Classifier
	Clock            signals.Clock
	Logger           *zap.Logger
}

// Input is one unit of raw content plus the context it was fetched in.
type Input struct {
	Type     signals.DetectionType
	Company  signals.Company
	Source   signals.SourceTag
	Strategy string
	Content  signals.RawContent
}

// Rejection records a candidate dropped by validation.
type Rejection struct {
	Rule     string
	Reason   string
	Evidence string
}

// Outcome is the result of extracting one Input.
type Outcome struct {
	Accepted []signals.Candidate
	Rejected []Rejection
}

// Engine turns raw content into validated, scored candidates.
type Engine struct {
	rules            []compiledRule
	keywords         map[signals.DetectionType][]string
	validator        validator
	floor            int
	structuredWeight int
	maxEvidence      int
	classifier       signals.Classifier
	clock            signals.Clock
	logger           *zap.Logger
}

// NewEngine compiles the rule table and returns a ready Engine.
func NewEngine(opts Options) (*Engine, error) {
	rules := opts.Rules
	if len(rules) == 0 {
		defaults, err := DefaultRules()
		if err != nil {
			return nil, err
		}
		rules = defaults
	}
	compiled, err := compileRules(rules)
	if err != nil {
		return nil, err
	}
	vocab := opts.Vocabulary.withDefaults()
	e := &Engine{
		rules:            compiled,
		keywords:         prefilterKeywords(vocab, rules),
		validator:        newValidator(vocab),
		floor:            opts.ConfidenceFloor,
		structuredWeight: opts.StructuredWeight,
		maxEvidence:      opts.MaxEvidence,
		classifier:       opts.Classifier,
		clock:            opts.Clock,
		logger:           opts.Logger,
	}
	if e.floor <= 0 {
		e.floor = DefaultConfidenceFloor
	}
	if e.structuredWeight <= 0 {
		e.structuredWeight = DefaultStructuredWeight
	}
	if e.maxEvidence <= 0 {
		e.maxEvidence = defaultMaxEvidence
	}
	if e.clock == nil {
		e.clock = system.New()
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	return e, nil
}

type span struct {
	unit       int
	start, end int
}

func (s span) overlaps(o span) bool {
	return s.unit == o.unit && s.start < o.end && o.start < s.end
}

type match struct {
	candidate signals.Candidate
	span      span
	order     int
}

type rejected struct {
	Rejection
	span span
}

// Extract runs the pre-filter, the rule table and validation over one Input.
func (e *Engine) Extract(ctx context.Context, in Input) Outcome {
	if in.Content.Structured() {
		return e.extractStructured(in)
	}
	if !e.prefilter(in.Type, in.Content.Text) {
		return Outcome{}
	}
	if e.classifier != nil {
		relevant, err := e.classifier.Relevant(ctx, in.Type, in.Company.Name, in.Content.Text)
		switch {
		case err != nil:
			e.logger.Warn("classifier failed, continuing with patterns",
				zap.String("company", in.Company.Name), zap.Error(err))
		case !relevant:
			e.logger.Debug("classifier vetoed content",
				zap.String("company", in.Company.Name), zap.String("url", in.Content.URL))
			return Outcome{}
		}
	}

	units := splitUnits(in.Content.Text)
	var matches []match
	var rejections []rejected
	for order, rule := range e.rules {
		if rule.Type != in.Type || !rule.appliesTo(in.Source) {
			continue
		}
		for ui, unit := range units {
			for _, loc := range rule.re.FindAllStringSubmatchIndex(unit, -1) {
				sp := span{unit: ui, start: loc[0], end: loc[1]}
				fields := map[string]string{}
				for _, name := range []string{FieldName, FieldPosition, FieldCompany, FieldTitle, FieldLocation} {
					if v := rule.field(unit, loc, name); v != "" {
						fields[name] = v
					}
				}
				cand, reason := e.build(in, rule.Rule, fields, unit)
				if reason != "" {
					rejections = append(rejections, rejected{
						Rejection: Rejection{Rule: rule.Name, Reason: reason, Evidence: e.evidence(unit)},
						span:      sp,
					})
					continue
				}
				matches = append(matches, match{candidate: cand, span: sp, order: order})
			}
		}
	}
	return e.resolve(in, matches, rejections)
}

// resolve keeps the best candidate per span and per dedup key.
func (e *Engine) resolve(in Input, matches []match, rejections []rejected) Outcome {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].candidate.Confidence != matches[j].candidate.Confidence {
			return matches[i].candidate.Confidence > matches[j].candidate.Confidence
		}
		return matches[i].order < matches[j].order
	})

	var out Outcome
	var claimed []span
	seen := make(map[signals.DedupKey]struct{})
	for _, m := range matches {
		if overlapsAny(m.span, claimed) {
			continue
		}
		claimed = append(claimed, m.span)
		key := m.candidate.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out.Accepted = append(out.Accepted, m.candidate)
	}

	for _, r := range rejections {
		if overlapsAny(r.span, claimed) {
			continue
		}
		claimed = append(claimed, r.span)
		e.logger.Debug("candidate rejected",
			zap.String("company", in.Company.Name),
			zap.String("rule", r.Rule),
			zap.String("reason", r.Reason),
			zap.String("evidence", r.Evidence))
		out.Rejected = append(out.Rejected, r.Rejection)
	}
	return out
}

func overlapsAny(s span, claimed []span) bool {
	for _, c := range claimed {
		if s.overlaps(c) {
			return true
		}
	}
	return false
}

func (e *Engine) extractStructured(in Input) Outcome {
	fields := in.Content.Fields
	evidence := in.Content.Text
	if evidence == "" {
		parts := make([]string, 0, len(fields))
		for _, k := range []string{FieldName, FieldPosition, FieldTitle, FieldLocation} {
			if v := fields[k]; v != "" {
				parts = append(parts, v)
			}
		}
		evidence = strings.Join(parts, " | ")
	}
	rule := Rule{Name: structuredPattern, Type: in.Type, Weight: e.structuredWeight}
	cand, reason := e.build(in, rule, fields, evidence)
	if reason != "" {
		e.logger.Debug("structured record rejected",
			zap.String("company", in.Company.Name),
			zap.String("reason", reason),
			zap.String("url", in.Content.URL))
		return Outcome{Rejected: []Rejection{{Rule: structuredPattern, Reason: reason, Evidence: e.evidence(evidence)}}}
	}
	return Outcome{Accepted: []signals.Candidate{cand}}
}

// build validates captured fields and scores the resulting candidate. A
// non-empty reason means the candidate was rejected.
func (e *Engine) build(in Input, rule Rule, fields map[string]string, unit string) (signals.Candidate, string) {
	cand := signals.Candidate{
		Type:         in.Type,
		Company:      in.Company.Name,
		URL:          in.Content.URL,
		Evidence:     e.evidence(unit),
		Source:       in.Source,
		Strategy:     in.Strategy,
		Pattern:      rule.Name,
		DiscoveredAt: e.clock.Now(),
	}
	if u := fields[FieldURL]; u != "" {
		cand.URL = u
	}

	if captured := clean(fields[FieldCompany]); captured != "" {
		if utf8.RuneCountInString(captured) > maxCompanyLength || !companyMatches(captured, in.Company.Name) {
			return cand, ReasonCompany
		}
	} else if in.Source == signals.SourceSearch && !mentionsCompany(unit, in.Company.Name) {
		return cand, ReasonNotMentioned
	}

	var hits, nameTokens int
	switch in.Type {
	case signals.DetectionHire:
		cand.PersonName = trimName(clean(fields[FieldName]))
		cand.Position = clean(fields[FieldPosition])
		cand.ProfileURL = in.Content.Fields["profile_url"]
		if !e.validator.validName(cand.PersonName, in.Company.Name) {
			return cand, ReasonName
		}
		if !e.validator.validPosition(cand.Position) {
			return cand, ReasonPosition
		}
		hits = e.validator.seniorityHits(cand.Position)
		nameTokens = len(strings.Fields(cand.PersonName))
	default:
		cand.Title = clean(fields[FieldTitle])
		cand.Location = clean(fields[FieldLocation])
		if cand.Location == "" {
			cand.Location = unspecifiedLocation
		}
		if !e.validator.validTitle(cand.Title, in.Company.Name) {
			return cand, ReasonTitle
		}
		if !validLocation(cand.Location) {
			return cand, ReasonLocation
		}
		hits = e.validator.seniorityHits(cand.Title)
	}

	cand.Confidence = Score(in.Source, rule.Weight, hits, nameTokens)
	if cand.Confidence < e.floor {
		return cand, ReasonLowConfidence
	}
	return cand, ""
}

// Score computes a candidate confidence from its source, the weight of the
// rule that matched, the number of seniority keywords and the name length.
func Score(source signals.SourceTag, weight, seniorityHits, nameTokens int) int {
	bonus := seniorityHits * seniorityBonusPerHit
	if bonus > maxSeniorityBonus {
		bonus = maxSeniorityBonus
	}
	score := source.BaseConfidence() + weight + bonus
	if nameTokens >= fullNameTokenCount {
		score += fullNameBonus
	}
	if score > maxConfidence {
		score = maxConfidence
	}
	if score < 0 {
		score = 0
	}
	return score
}

// prefilterKeywords merges the vocabulary lists with every rule's own
// keywords, lowercased and without repeats.
func prefilterKeywords(vocab Vocabulary, rules []Rule) map[signals.DetectionType][]string {
	out := make(map[signals.DetectionType][]string, 2)
	seen := make(map[signals.DetectionType]map[string]struct{}, 2)
	add := func(kind signals.DetectionType, words []string) {
		if seen[kind] == nil {
			seen[kind] = make(map[string]struct{})
		}
		for _, w := range words {
			w = strings.ToLower(strings.TrimSpace(w))
			if w == "" {
				continue
			}
			if _, dup := seen[kind][w]; dup {
				continue
			}
			seen[kind][w] = struct{}{}
			out[kind] = append(out[kind], w)
		}
	}
	add(signals.DetectionJob, vocab.JobKeywords)
	add(signals.DetectionHire, vocab.HireKeywords)
	for _, r := range rules {
		add(r.Type, r.Keywords)
	}
	return out
}

func (e *Engine) prefilter(kind signals.DetectionType, text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range e.keywords[kind] {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func (e *Engine) evidence(s string) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= e.maxEvidence {
		return s
	}
	runes := []rune(s)
	return string(runes[:e.maxEvidence]) + "…"
}

// splitUnits breaks text into trimmed, non-empty lines.
func splitUnits(text string) []string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

// RuleNames lists the compiled rules in priority order.
func (e *Engine) RuleNames() []string {
	names := make([]string, 0, len(e.rules))
	for _, r := range e.rules {
		names = append(names, fmt.Sprintf("%s/%s", r.Type, r.Name))
	}
	return names
}
