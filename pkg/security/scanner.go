package security

import (
	"context"
	"fmt"

	"github.com/agentforge/agentd/pkg/plan"
	"github.com/agentforge/agentd/pkg/policy"
)

// OPAScanner adapts a *policy.Engine to the Scanner interface, running the
// engine's Rego deny-sets at the scanner stage of the guard pipeline.
type OPAScanner struct {
	engine *policy.Engine
}

// NewOPAScanner wraps eng as a Scanner.
func NewOPAScanner(eng *policy.Engine) *OPAScanner {
	return &OPAScanner{engine: eng}
}

// Name identifies this scanner in metrics and audit entries.
func (s *OPAScanner) Name() string { return "opa" }

// ScanAction evaluates action against every enabled Rego policy.
func (s *OPAScanner) ScanAction(ctx context.Context, action *plan.Action, pctx ScanContext) (ScanResult, error) {
	result, err := s.engine.EvaluateAction(ctx, action, &policy.PolicyContext{
		PermissionProfile: pctx.PermissionProfile,
		Operation:         pctx.Operation,
		Timestamp:         pctx.Timestamp,
		DryRun:            pctx.DryRun,
		Metadata:          pctx.Metadata,
	})
	if err != nil {
		return ScanResult{}, fmt.Errorf("opa scan failed: %w", err)
	}

	if result.Allowed {
		return ScanResult{Verdict: ScanVerdictAllow}, nil
	}

	reason := "policy violation"
	threats := make([]string, 0, len(result.Violations))
	for _, v := range result.Violations {
		threats = append(threats, v.Message)
	}
	if len(threats) > 0 {
		reason = threats[0]
	}
	return ScanResult{Verdict: ScanVerdictReject, Threats: threats, Details: map[string]interface{}{"reason": reason}}, nil
}

// ScannerPipeline runs an ordered list of scanners against an action and
// aggregates their verdicts per spec.md §4.4 item 4: any reject blocks
// outright; a warn only blocks when the active profile is in strict mode
// (and otherwise surfaces as a non-blocking Decision.Warning); anything
// else allows. A scanner that errors degrades to a warn carrying a
// diagnostic threat rather than failing the action outright.
type ScannerPipeline struct {
	scanners []Scanner
}

// NewScannerPipeline builds a pipeline from scanners, run in order.
func NewScannerPipeline(scanners ...Scanner) *ScannerPipeline {
	return &ScannerPipeline{scanners: scanners}
}

// Scan runs every scanner against action and aggregates their verdicts.
func (p *ScannerPipeline) Scan(ctx context.Context, action *plan.Action, pctx ScanContext) (Decision, string, error) {
	var warn *Rejection
	var warnScanner string

	for _, scanner := range p.scanners {
		result, err := scanner.ScanAction(ctx, action, pctx)
		if err != nil {
			result = ScanResult{
				Verdict: ScanVerdictWarn,
				Threats: []string{fmt.Sprintf("scanner %s failed: %v", scanner.Name(), err)},
				Details: map[string]interface{}{"error": err.Error()},
			}
		}

		rej := &Rejection{
			Stage:     "scanner:" + scanner.Name(),
			Code:      plan.CodeScanBlocked,
			Reason:    scanReason(scanner.Name(), result),
			RiskScore: result.RiskScore,
			Threats:   result.Threats,
		}

		if pctx.MaxRiskScore > 0 && result.RiskScore > pctx.MaxRiskScore {
			rej.Reason = fmt.Sprintf("risk score %.2f for %s exceeds profile max %.2f", result.RiskScore, scanner.Name(), pctx.MaxRiskScore)
			return Decision{Reject: rej}, scanner.Name(), nil
		}

		switch result.Verdict {
		case ScanVerdictReject:
			return Decision{Reject: rej}, scanner.Name(), nil
		case ScanVerdictWarn:
			if warn == nil {
				warn = rej
				warnScanner = scanner.Name()
			}
		}
	}

	if warn != nil {
		if pctx.Strict {
			return Decision{Reject: warn}, warnScanner, nil
		}
		return Decision{Allowed: true, Warning: warn}, warnScanner, nil
	}
	return Allow(), "", nil
}

func scanReason(scannerName string, result ScanResult) string {
	if len(result.Threats) > 0 {
		return result.Threats[0]
	}
	if result.Verdict == ScanVerdictWarn {
		return fmt.Sprintf("scanner %s flagged a warning", scannerName)
	}
	return fmt.Sprintf("scanner %s rejected the action", scannerName)
}
