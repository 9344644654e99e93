package livesync

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"callpilot/internal/domain"
)

type scoreRule interface {
	Score(text string) float64
}

// RuleParser parses one line of the ammo rules file into a compiled rule.
type RuleParser interface {
	CanParse(line string) bool
	Parse(line string) (scoreRule, error)
}

// ScoreEngine rates ammo text with weighted keyword rules so heavy hitters
// can be flagged client-side when the backend omits a score.
type ScoreEngine struct {
	rules     []scoreRule
	threshold float64
}

// NewScoreEngine loads and compiles rules from a file. A missing file yields
// an empty engine that leaves items untouched.
func NewScoreEngine(path string, threshold float64) (*ScoreEngine, error) {
	return NewScoreEngineWithParsers(path, threshold, defaultRuleParsers())
}

// NewScoreEngineWithParsers allows parser extension without engine changes.
func NewScoreEngineWithParsers(path string, threshold float64, parsers []RuleParser) (*ScoreEngine, error) {
	if len(parsers) == 0 {
		parsers = defaultRuleParsers()
	}

	if strings.TrimSpace(path) == "" {
		return &ScoreEngine{threshold: threshold}, nil
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &ScoreEngine{threshold: threshold}, nil
		}
		return nil, fmt.Errorf("failed to read ammo rules file %q: %w", path, err)
	}

	rules, err := parseScoreRules(string(contents), parsers)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ammo rules file %q: %w", path, err)
	}

	return &ScoreEngine{rules: rules, threshold: threshold}, nil
}

// Score sums rule weights over the text and reports whether the total
// crosses the heavy-hitter threshold.
func (e *ScoreEngine) Score(text string) (float64, bool) {
	if len(e.rules) == 0 {
		return 0, false
	}
	total := 0.0
	for _, rule := range e.rules {
		total += rule.Score(text)
	}
	return total, e.threshold > 0 && total >= e.threshold
}

// Annotate fills in the score and heavy-hitter flag for items the backend
// delivered unscored. Already-scored items pass through unchanged.
func (e *ScoreEngine) Annotate(item domain.AmmoItem) domain.AmmoItem {
	if e == nil || len(e.rules) == 0 {
		return item
	}
	if item.Score != 0 || item.HeavyHitter {
		return item
	}
	item.Score, item.HeavyHitter = e.Score(item.Text)
	return item
}

func parseScoreRules(contents string, parsers []RuleParser) ([]scoreRule, error) {
	lines := strings.Split(contents, "\n")
	rules := make([]scoreRule, 0, len(lines))

	for index, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parsed := false
		for _, parser := range parsers {
			if !parser.CanParse(line) {
				continue
			}
			rule, err := parser.Parse(line)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", index+1, err)
			}
			rules = append(rules, rule)
			parsed = true
			break
		}

		if !parsed {
			return nil, fmt.Errorf("line %d: unsupported rule format", index+1)
		}
	}

	return rules, nil
}

func defaultRuleParsers() []RuleParser {
	return []RuleParser{regexRuleParser{}, literalRuleParser{}}
}

// splitWeight separates the leading weight from the rest of a rule line.
func splitWeight(line string) (float64, string, error) {
	fields := strings.SplitN(line, " ", 2)
	if len(fields) != 2 {
		return 0, "", errors.New("expected '<weight> <pattern>'")
	}
	weight, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, "", fmt.Errorf("invalid weight %q", fields[0])
	}
	return weight, strings.TrimSpace(fields[1]), nil
}

// regexRuleParser parses lines of the form: <weight> /<pattern>/
type regexRuleParser struct{}

func (regexRuleParser) CanParse(line string) bool {
	_, rest, err := splitWeight(line)
	return err == nil && strings.HasPrefix(rest, "/") && strings.HasSuffix(rest, "/") && len(rest) > 1
}

func (regexRuleParser) Parse(line string) (scoreRule, error) {
	weight, rest, err := splitWeight(line)
	if err != nil {
		return nil, err
	}
	pattern := strings.TrimSuffix(strings.TrimPrefix(rest, "/"), "/")
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	return regexRule{weight: weight, re: re}, nil
}

type regexRule struct {
	weight float64
	re     *regexp.Regexp
}

func (r regexRule) Score(text string) float64 {
	return r.weight * float64(len(r.re.FindAllStringIndex(text, -1)))
}

// literalRuleParser parses lines of the form: <weight> <phrase>
type literalRuleParser struct{}

func (literalRuleParser) CanParse(line string) bool {
	_, rest, err := splitWeight(line)
	return err == nil && rest != ""
}

func (literalRuleParser) Parse(line string) (scoreRule, error) {
	weight, rest, err := splitWeight(line)
	if err != nil {
		return nil, err
	}
	return literalRule{weight: weight, phrase: strings.ToLower(rest)}, nil
}

type literalRule struct {
	weight float64
	phrase string
}

func (r literalRule) Score(text string) float64 {
	return r.weight * float64(strings.Count(strings.ToLower(text), r.phrase))
}
