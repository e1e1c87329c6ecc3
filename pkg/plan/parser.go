package plan

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Parse decodes a raw, already-JSON-decoded mapping into a Plan. It
// performs only shape/type checks; structural checks (cycles, dangling
// dependencies, schema validation) belong to Validate.
func Parse(raw map[string]interface{}) (*Plan, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, NewPermanentError(CodeParseError, "raw plan is not serialisable", err)
	}

	var p Plan
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return nil, NewPermanentError(CodeParseError, "failed to decode plan", err)
	}

	if p.PlanID == "" {
		return nil, NewPermanentError(CodeParseError, "plan_id is required", nil)
	}
	if p.ProtocolVersion == "" {
		return nil, NewPermanentError(CodeParseError, "protocol_version is required", nil)
	}
	if p.ExecutionMode == "" {
		p.ExecutionMode = ExecutionModeParallel
	}
	if p.ExecutionMode != ExecutionModeSequential && p.ExecutionMode != ExecutionModeParallel {
		return nil, NewPermanentError(CodeParseError, fmt.Sprintf("invalid execution_mode: %s", p.ExecutionMode), nil)
	}

	for i := range p.Actions {
		a := &p.Actions[i]
		if a.ID == "" {
			return nil, NewPermanentError(CodeParseError, "action id is required", nil)
		}
		if a.Module == "" || a.Action == "" {
			return nil, NewPermanentError(CodeParseError, "action module and action are required", nil).WithResource(a.ID)
		}
		if a.OnError == "" {
			a.OnError = OnErrorFail
		}
		switch a.OnError {
		case OnErrorFail, OnErrorContinue, OnErrorRetry, OnErrorRollback:
		default:
			return nil, NewPermanentError(CodeParseError, fmt.Sprintf("invalid on_error: %s", a.OnError), nil).WithResource(a.ID)
		}
		if a.TimeoutS < 0 {
			return nil, NewPermanentError(CodeParseError, "timeout_s must be positive", nil).WithResource(a.ID)
		}
	}

	return &p, nil
}
