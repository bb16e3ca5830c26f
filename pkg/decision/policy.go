package decision

import (
	"context"
	"fmt"

	"github.com/itchyny/gojq"
	"github.com/open-policy-agent/opa/v1/rego"
)

// forbiddenTargetPolicy is evaluated against actionParams to catch a
// decision aimed at a configured forbidden target (spec.md §4.10 step 3:
// "Policy checks: detect forbidden targets").
const forbiddenTargetPolicy = `
package signalops.decision

default blocked := false

blocked if {
	some target in input.forbidden_targets
	input.params_text[_] == target
}
`

// policyChecker wraps a prepared OPA query plus a compiled gojq program
// that flattens actionParams values into strings for the forbidden-target
// match. The money-key scan is done separately, in plain Go, by touchesMoney.
type policyChecker struct {
	query   rego.PreparedEvalQuery
	flatten *gojq.Code
}

func mustParseQuery(src string) *gojq.Query {
	q, err := gojq.Parse(src)
	if err != nil {
		panic(err)
	}
	return q
}

func newPolicyChecker(ctx context.Context) (*policyChecker, error) {
	q, err := rego.New(
		rego.Query("data.signalops.decision.blocked"),
		rego.Module("decision_policy.rego", forbiddenTargetPolicy),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("decision: prepare policy: %w", err)
	}

	flatten, err := gojq.Compile(mustParseQuery(`[.. | strings]`))
	if err != nil {
		return nil, fmt.Errorf("decision: compile flatten query: %w", err)
	}

	return &policyChecker{query: q, flatten: flatten}, nil
}

// blocked reports whether actionParams references any forbidden target.
func (p *policyChecker) blocked(ctx context.Context, actionParams map[string]any, forbiddenTargets []string) (bool, error) {
	if len(forbiddenTargets) == 0 {
		return false, nil
	}
	texts := p.flattenStrings(actionParams)

	rs, err := p.query.Eval(ctx, rego.EvalInput(map[string]any{
		"forbidden_targets": forbiddenTargets,
		"params_text":       texts,
	}))
	if err != nil {
		return false, fmt.Errorf("decision: evaluate policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, nil
	}
	blocked, _ := rs[0].Expressions[0].Value.(bool)
	return blocked, nil
}

func (p *policyChecker) flattenStrings(actionParams map[string]any) []string {
	iter := p.flatten.Run(actionParams)
	var out []string
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			_ = err
			continue
		}
		if list, ok := v.([]any); ok {
			for _, item := range list {
				if s, ok := item.(string); ok {
					out = append(out, s)
				}
			}
		}
	}
	return out
}

// moneyKeys are the actionParams keys that count as "touching money" for
// the high-impact file_document rule (spec.md §4.10 step 3).
var moneyKeys = map[string]bool{
	"amount": true, "price": true, "cost": true, "total": true,
	"invoice_amount": true, "payment": true, "budget": true,
}

// touchesMoney reports whether actionParams has any recognized money key.
func touchesMoney(actionParams map[string]any) bool {
	for k := range actionParams {
		if moneyKeys[normalizeKey(k)] {
			return true
		}
	}
	return false
}

func normalizeKey(k string) string {
	out := make([]byte, 0, len(k))
	for i := 0; i < len(k); i++ {
		c := k[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}
