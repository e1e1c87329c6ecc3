package security

import (
	"context"
	"fmt"
	"time"

	"go.starlark.net/starlark"

	"github.com/agentforge/agentd/pkg/plan"
)

// StarlarkScanner lets operators drop in custom heuristics without a Go
// rebuild: a script sees the candidate action as a dict and sets globals
// `allow` (bool) and, optionally, `reason` (string).
type StarlarkScanner struct {
	name    string
	script  string
	timeout time.Duration
}

// NewStarlarkScanner compiles nothing up front (Starlark has no separate
// compile step here); script is re-executed on every scan, sandboxed by
// a fresh thread and a bounded predeclared environment.
func NewStarlarkScanner(name, script string, timeout time.Duration) *StarlarkScanner {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &StarlarkScanner{name: name, script: script, timeout: timeout}
}

// Name identifies this scanner in metrics and audit entries.
func (s *StarlarkScanner) Name() string { return s.name }

// ScanAction runs the script against action, failing closed on error or timeout.
func (s *StarlarkScanner) ScanAction(ctx context.Context, action *plan.Action, pctx ScanContext) (ScanResult, error) {
	evalCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	type outcome struct {
		result ScanResult
		err    error
	}
	resultCh := make(chan outcome, 1)

	go func() {
		result, err := s.evaluate(action, pctx)
		resultCh <- outcome{result: result, err: err}
	}()

	select {
	case <-evalCtx.Done():
		return ScanResult{
			Verdict: ScanVerdictReject,
			Threats: []string{"starlark scan timed out, failing closed"},
		}, nil
	case out := <-resultCh:
		if out.err != nil {
			return ScanResult{}, out.err
		}
		return out.result, nil
	}
}

// evaluate runs script and translates its declared globals into a
// ScanResult. A script may either set the legacy `allow` (bool) and
// `reason` (string) globals, or the richer `verdict` ("allow"/"warn"/
// "reject"), `risk_score` (float) and `threats` (list of string) globals;
// the two forms may be combined.
func (s *StarlarkScanner) evaluate(action *plan.Action, pctx ScanContext) (ScanResult, error) {
	thread := &starlark.Thread{
		Name:  s.name,
		Print: func(_ *starlark.Thread, msg string) {},
	}

	actionDict := starlark.NewDict(8)
	_ = actionDict.SetKey(starlark.String("id"), starlark.String(action.ID))
	_ = actionDict.SetKey(starlark.String("module"), starlark.String(action.Module))
	_ = actionDict.SetKey(starlark.String("action"), starlark.String(action.Action))
	_ = actionDict.SetKey(starlark.String("sensitive"), starlark.Bool(action.Sensitive))
	_ = actionDict.SetKey(starlark.String("requires_approval"), starlark.Bool(action.RequiresApproval))

	params := starlark.NewDict(len(action.Params))
	for k, v := range action.Params {
		sv, err := toStarlarkScalar(v)
		if err != nil {
			continue
		}
		_ = params.SetKey(starlark.String(k), sv)
	}
	_ = actionDict.SetKey(starlark.String("params"), params)

	predeclared := starlark.StringDict{
		"action":    actionDict,
		"operation": starlark.String(pctx.Operation),
		"dry_run":   starlark.Bool(pctx.DryRun),
	}

	globals, err := starlark.ExecFile(thread, s.name+".star", s.script, predeclared)
	if err != nil {
		return ScanResult{}, fmt.Errorf("starlark scanner %s failed: %w", s.name, err)
	}

	reason := ""
	if reasonVal, ok := globals["reason"]; ok {
		if rs, ok := reasonVal.(starlark.String); ok {
			reason = string(rs)
		}
	}

	var verdict ScanVerdict
	if verdictVal, ok := globals["verdict"]; ok {
		vs, ok := verdictVal.(starlark.String)
		if !ok {
			return ScanResult{}, fmt.Errorf("starlark scanner %s: `verdict` must be a string", s.name)
		}
		switch ScanVerdict(vs) {
		case ScanVerdictAllow, ScanVerdictWarn, ScanVerdictReject:
			verdict = ScanVerdict(vs)
		default:
			return ScanResult{}, fmt.Errorf("starlark scanner %s: `verdict` must be allow, warn or reject", s.name)
		}
	} else {
		allowVal, ok := globals["allow"]
		if !ok {
			return ScanResult{}, fmt.Errorf("starlark scanner %s did not set `allow` or `verdict`", s.name)
		}
		allow, ok := allowVal.(starlark.Bool)
		if !ok {
			return ScanResult{}, fmt.Errorf("starlark scanner %s: `allow` must be a bool", s.name)
		}
		verdict = ScanVerdictReject
		if bool(allow) {
			verdict = ScanVerdictAllow
		} else if reason == "" {
			reason = "denied by custom scanner " + s.name
		}
	}

	var riskScore float64
	if riskVal, ok := globals["risk_score"]; ok {
		if f, ok := starlark.AsFloat(riskVal); ok {
			riskScore = f
		}
	}

	var threats []string
	if threatsVal, ok := globals["threats"]; ok {
		if list, ok := threatsVal.(*starlark.List); ok {
			for i := 0; i < list.Len(); i++ {
				if sv, ok := list.Index(i).(starlark.String); ok {
					threats = append(threats, string(sv))
				}
			}
		}
	}
	if len(threats) == 0 && reason != "" && verdict != ScanVerdictAllow {
		threats = []string{reason}
	}

	return ScanResult{Verdict: verdict, RiskScore: riskScore, Threats: threats}, nil
}

func toStarlarkScalar(v interface{}) (starlark.Value, error) {
	switch val := v.(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(val), nil
	case string:
		return starlark.String(val), nil
	case float64:
		return starlark.Float(val), nil
	case int:
		return starlark.MakeInt(val), nil
	default:
		return nil, fmt.Errorf("unsupported param type: %T", v)
	}
}
