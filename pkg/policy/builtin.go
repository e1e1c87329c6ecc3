package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in policies evaluated by the scanner
// stage of the security guard pipeline.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		dangerousActionPolicy(),
		sensitiveParamPolicy(),
		productionApprovalPolicy(),
		destructiveBatchPolicy(),
		moduleAllowlistPolicy(),
	}
}

// dangerousActionPolicy flags action/module combinations that are almost
// always destructive and therefore must declare requires_approval.
func dangerousActionPolicy() Policy {
	return Policy{
		Name:        "dangerous-action",
		Description: "Requires explicit approval on actions known to be destructive",
		Severity:    SeverityCritical,
		Enabled:     true,
		Tags:        []string{"safety", "approval"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package agentd.policies.dangerous

import rego.v1

dangerous_actions := {"delete_file", "drop_table", "kill_process", "format_disk", "revoke_all"}

deny contains violation if {
	input.action
	action := input.action

	action.action in dangerous_actions
	not action.requires_approval

	violation := {
		"message": sprintf("action '%s' on module '%s' is destructive and must set requires_approval", [action.action, action.module]),
		"severity": "critical",
		"action_id": action.id,
	}
}`,
	}
}

// sensitiveParamPolicy flags actions carrying parameter keys that look like
// credentials but were not marked sensitive, so they would otherwise be
// written unredacted to the audit trail.
func sensitiveParamPolicy() Policy {
	return Policy{
		Name:        "sensitive-param",
		Description: "Requires the sensitive flag on actions whose params look like credentials",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"safety", "secrets"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package agentd.policies.sensitive

import rego.v1

sensitive_keys := {"password", "secret", "token", "api_key", "private_key"}

deny contains violation if {
	input.action
	action := input.action

	some key in object.keys(action.params)
	lower(key) in sensitive_keys
	not action.sensitive

	violation := {
		"message": sprintf("action '%s' has parameter '%s' that looks sensitive but sensitive is not set", [action.id, key]),
		"severity": "error",
		"action_id": action.id,
	}
}`,
	}
}

// productionApprovalPolicy requires approval for actions touching
// production-labelled resources, mirroring environment-aware guardrails.
func productionApprovalPolicy() Policy {
	return Policy{
		Name:        "production-approval",
		Description: "Requires approval for actions in a production context",
		Severity:    SeverityCritical,
		Enabled:     true,
		Tags:        []string{"safety", "production"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package agentd.policies.production

import rego.v1

deny contains violation if {
	input.action
	input.context
	action := input.action
	context := input.context

	context.metadata.environment == "production"
	not action.requires_approval
	not context.dry_run

	violation := {
		"message": sprintf("action '%s' targets production and must set requires_approval", [action.id]),
		"severity": "critical",
		"action_id": action.id,
	}
}`,
	}
}

// destructiveBatchPolicy warns when a plan's destructive-action count
// crosses a threshold, so a reviewer notices a large blast radius at
// submission time rather than mid-execution.
func destructiveBatchPolicy() Policy {
	return Policy{
		Name:        "destructive-batch",
		Description: "Warns when a plan contains an unusually large number of destructive actions",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"safety", "plan"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package agentd.policies.batch

import rego.v1

dangerous_actions := {"delete_file", "drop_table", "kill_process", "format_disk", "revoke_all"}

max_destructive := 5

deny contains violation if {
	input.plan
	plan := input.plan

	destructive_count := count([a |
		some a in plan.actions
		a.action in dangerous_actions
	])

	destructive_count > max_destructive

	violation := {
		"message": sprintf("plan contains %d destructive actions, review carefully (threshold %d)", [destructive_count, max_destructive]),
		"severity": "warning",
	}
}`,
	}
}

// moduleAllowlistPolicy enforces that every action targets a module that
// appears in the permission profile's allowed-module set, when present.
func moduleAllowlistPolicy() Policy {
	return Policy{
		Name:        "module-allowlist",
		Description: "Enforces the permission profile's allowed-module set when configured",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"permissions", "modules"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package agentd.policies.modules

import rego.v1

deny contains violation if {
	input.action
	input.context
	action := input.action
	context := input.context

	allowed := context.metadata.allowed_modules
	is_array(allowed)
	count(allowed) > 0
	not action.module in allowed

	violation := {
		"message": sprintf("module '%s' is not in the active permission profile's allowed modules", [action.module]),
		"severity": "error",
		"action_id": action.id,
	}
}`,
	}
}
