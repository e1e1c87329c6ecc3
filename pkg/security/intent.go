package security

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/agentforge/agentd/pkg/plan"
)

// IntentVerifier asks a ChatCompleter to judge whether an action looks like
// it serves the plan's stated intent, caching verdicts by a hash of the
// action's signature so identical (module, action, params) tuples are
// judged once per TTL window. It is consulted only for actions the
// scheduler marks Sensitive (see pkg/plan.Action.Sensitive).
type IntentVerifier struct {
	completer ChatCompleter
	ttl       time.Duration

	mu    sync.Mutex
	cache map[string]cachedVerdict
}

type cachedVerdict struct {
	verdict   Verdict
	expiresAt time.Time
}

// NewIntentVerifier creates a verifier backed by completer. completer may
// be nil, in which case Verify always allows (no LLM backend configured).
func NewIntentVerifier(completer ChatCompleter, ttl time.Duration) *IntentVerifier {
	if ttl == 0 {
		ttl = 10 * time.Minute
	}
	return &IntentVerifier{
		completer: completer,
		ttl:       ttl,
		cache:     make(map[string]cachedVerdict),
	}
}

// signatureHash returns the blake2b-256 hash of action's signature and
// params, hex-encoded, used as the verdict cache key.
func signatureHash(action *plan.Action) (string, error) {
	params, err := json.Marshal(action.Params)
	if err != nil {
		return "", fmt.Errorf("failed to marshal params for intent hash: %w", err)
	}

	h, err := blake2b.New256(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create hash: %w", err)
	}
	h.Write([]byte(action.Module))
	h.Write([]byte{0})
	h.Write([]byte(action.Action))
	h.Write([]byte{0})
	h.Write(params)

	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify judges whether action is consistent with planDescription, using a
// cached verdict when available. strict controls how a reject verdict is
// handled: in strict mode a reject blocks dispatch; in permissive mode it
// is logged via Decision.Warning but still allowed, per spec.md §4.4 item 5.
func (v *IntentVerifier) Verify(ctx context.Context, action *plan.Action, planDescription string, strict bool) (Decision, error) {
	if v.completer == nil {
		return Allow(), nil
	}

	key, err := signatureHash(action)
	if err != nil {
		return Decision{}, err
	}

	if verdict, ok := v.cached(key); ok {
		return decisionFromVerdict(verdict, strict), nil
	}

	verdict, err := v.askCompleter(ctx, action, planDescription)
	if err != nil {
		return Decision{}, fmt.Errorf("intent verification failed: %w", err)
	}

	v.store(key, verdict)
	return decisionFromVerdict(verdict, strict), nil
}

func (v *IntentVerifier) cached(key string) (Verdict, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	entry, ok := v.cache[key]
	if !ok || time.Now().After(entry.expiresAt) {
		delete(v.cache, key)
		return Verdict{}, false
	}
	return entry.verdict, true
}

func (v *IntentVerifier) store(key string, verdict Verdict) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cache[key] = cachedVerdict{verdict: verdict, expiresAt: time.Now().Add(v.ttl)}
}

func (v *IntentVerifier) askCompleter(ctx context.Context, action *plan.Action, planDescription string) (Verdict, error) {
	prompt := fmt.Sprintf(
		"Plan intent: %s\nCandidate action: %s.%s\n"+
			"Does this action plausibly serve the stated intent? Reply with exactly one line "+
			"in the form VERDICT[|RISK_LEVEL[|REASON]], where VERDICT is one of "+
			"APPROVE, WARN, REJECT (e.g. \"APPROVE\", \"WARN|medium|unusual destination\", "+
			"\"REJECT|high|looks like exfiltration\").",
		planDescription, action.Module, action.Action,
	)

	reply, err := v.completer.Complete(ctx, prompt)
	if err != nil {
		return Verdict{}, err
	}

	return parseVerdictReply(reply), nil
}

// parseVerdictReply parses a completer reply of the form
// VERDICT[|RISK_LEVEL[|REASON]], tolerating the legacy ALLOW/SUSPICIOUS
// wording a completer prompted by an older version of this verifier might
// still return.
func parseVerdictReply(reply string) Verdict {
	reply = strings.TrimSpace(reply)
	parts := strings.SplitN(reply, "|", 3)
	head := strings.ToUpper(strings.TrimSpace(parts[0]))

	v := Verdict{Verdict: IntentApprove}
	switch {
	case strings.HasPrefix(head, "REJECT"):
		v.Verdict = IntentReject
	case strings.HasPrefix(head, "WARN"):
		v.Verdict = IntentWarn
	case strings.HasPrefix(head, "SUSPICIOUS"):
		// Legacy reply shape: "SUSPICIOUS: <reason>".
		v.Verdict = IntentReject
		if idx := strings.Index(reply, ":"); idx != -1 {
			v.Reasoning = strings.TrimSpace(reply[idx+1:])
		}
		return v
	case strings.HasPrefix(head, "APPROVE"), strings.HasPrefix(head, "ALLOW"):
		v.Verdict = IntentApprove
	}

	if len(parts) > 1 {
		v.RiskLevel = strings.TrimSpace(parts[1])
	}
	if len(parts) > 2 {
		reason := strings.TrimSpace(parts[2])
		v.Reasoning = reason
		if reason != "" {
			v.Threats = []string{reason}
		}
	}
	return v
}

// decisionFromVerdict translates the intent verifier's three-way judgement
// into a guard Decision. A reject blocks dispatch only in strict mode; in
// permissive mode it is surfaced as a non-blocking Decision.Warning so the
// caller can still audit-log it, per spec.md §4.4 item 5.
func decisionFromVerdict(v Verdict, strict bool) Decision {
	if v.Verdict == IntentApprove {
		return Allow()
	}

	rej := &Rejection{
		Stage:     "intent_verifier",
		Code:      plan.CodeSuspiciousIntent,
		Reason:    v.Reasoning,
		RiskScore: riskLevelToScore(v.RiskLevel),
		Threats:   v.Threats,
	}
	if rej.Reason == "" {
		rej.Reason = fmt.Sprintf("intent verifier returned verdict %q", v.Verdict)
	}

	if v.Verdict == IntentReject && strict {
		return Decision{Reject: rej}
	}
	return Decision{Allowed: true, Warning: rej}
}

func riskLevelToScore(level string) float64 {
	switch strings.ToLower(level) {
	case "critical":
		return 1.0
	case "high":
		return 0.75
	case "medium":
		return 0.5
	case "low":
		return 0.25
	default:
		return 0
	}
}
