package notifier

import (
	"fmt"
	"strings"

	"github.com/Knetic/govaluate"
	"github.com/osbits/statuswatch/internal/config"
)

// Rule tags an event and optionally narrows the notifiers it is sent to.
//
// Expressions see previous, current, first_seen (no earlier status known)
// and hour (hour of day of the change), e.g.
//
//	current =~ '(?i)approved' && previous != ''
type Rule struct {
	Source    string
	Tag       string
	Notifiers []string
	expr      *govaluate.EvaluableExpression
}

// Rules is an ordered rule list; the first match wins.
type Rules struct {
	rules []Rule
}

// CompileRules parses every expression up front so typos fail at startup.
func CompileRules(cfgs []config.RuleConfig) (*Rules, error) {
	out := &Rules{rules: make([]Rule, 0, len(cfgs))}
	for i, c := range cfgs {
		src := strings.TrimSpace(c.When)
		expr, err := govaluate.NewEvaluableExpression(src)
		if err != nil {
			return nil, fmt.Errorf("rule %d: parse expression: %w", i, err)
		}
		out.rules = append(out.rules, Rule{
			Source:    src,
			Tag:       c.Tag,
			Notifiers: append([]string(nil), c.Notifiers...),
			expr:      expr,
		})
	}
	return out, nil
}

// Match returns the first rule whose expression evaluates to true.
func (r *Rules) Match(event Event) (Rule, bool, error) {
	if r == nil || len(r.rules) == 0 {
		return Rule{}, false, nil
	}
	params := map[string]any{
		"previous":   event.Previous,
		"current":    event.Current,
		"first_seen": strings.TrimSpace(event.Previous) == "",
		"hour":       float64(event.ObservedAt.Hour()),
	}
	for _, rule := range r.rules {
		val, err := rule.expr.Evaluate(params)
		if err != nil {
			return Rule{}, false, fmt.Errorf("evaluate %q: %w", rule.Source, err)
		}
		matched, ok := val.(bool)
		if !ok {
			return Rule{}, false, fmt.Errorf("rule %q did not evaluate to a boolean", rule.Source)
		}
		if matched {
			return rule, true, nil
		}
	}
	return Rule{}, false, nil
}
