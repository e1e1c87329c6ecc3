// Package policy provides Open Policy Agent (OPA) integration for the
// daemon's security guard pipeline.
//
// This package implements Rego-based policy evaluation for individual
// actions and whole plans as they pass through the scanner stage of the
// C4 guard pipeline. It includes built-in policies for common safety
// requirements and supports loading custom policies from disk.
//
// # Architecture
//
// The policy system consists of four main components:
//
//  1. Engine - Compiles and evaluates Rego policies
//  2. Loader - Loads policies from files, directories, and bundles
//  3. Types - Data structures for policies, violations, and results
//  4. Built-in Policies - Pre-defined policies for common safety requirements
//
// # Usage
//
// Creating a policy engine:
//
//	logger := zerolog.New(os.Stdout)
//	eng, err := policy.NewEngine(logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Evaluating an action:
//
//	result, err := eng.EvaluateAction(ctx, action, &policy.PolicyContext{
//	    Operation: "scan",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if !result.Allowed {
//	    for _, violation := range result.Violations {
//	        fmt.Printf("policy %s violated: %s\n", violation.Policy, violation.Message)
//	    }
//	}
//
// Loading custom policies:
//
//	paths := []string{
//	    "/etc/agentd/policies",
//	    "/opt/policies/custom.rego",
//	}
//
//	err = eng.LoadPolicies(ctx, paths)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Built-in Policies
//
// The following policies are included by default:
//
//  1. dangerous-action - Requires approval on known-destructive actions
//  2. sensitive-param - Requires the sensitive flag on credential-shaped params
//  3. production-approval - Requires approval for actions in production context
//  4. destructive-batch - Warns when a plan's destructive-action count is large
//  5. module-allowlist - Enforces the active permission profile's module set
//
// # Custom Policies
//
// Custom policies can be written in Rego and loaded from files:
//
//	package custom.policies.backup
//
//	import rego.v1
//
//	deny contains violation if {
//	    input.action
//	    action := input.action
//
//	    action.module == "db"
//	    action.action == "drop_table"
//	    not action.params.backup_taken
//
//	    violation := {
//	        "message": "drop_table requires a prior backup",
//	        "severity": "error",
//	        "action_id": action.id,
//	    }
//	}
//
// # Policy Evaluation Points
//
// Policies are evaluated at two points in the daemon's pipeline:
//
//  1. Plan admission - EvaluatePlan, before a plan is accepted for execution
//  2. Action scan - EvaluateAction, immediately before each action dispatches
//
// # Severity Levels
//
// Violations have four severity levels:
//
//  - info: Informational messages
//  - warning: Issues that should be reviewed but don't block operations
//  - error: Issues that block operations
//  - critical: Severe issues requiring immediate attention
//
// # Hot Reload
//
// The loader supports watching policy files for changes and reloading automatically:
//
//	loader := policy.NewLoader(logger)
//	err = loader.Watch(ctx, paths, func(policies []policy.Policy) error {
//	    return eng.LoadPolicies(ctx, paths)
//	})
//
// # Context Injection
//
// Policy evaluations can include context information:
//
//  - PermissionProfile: the active permission profile name
//  - Operation: which pipeline stage is evaluating (plan_validate, scan)
//  - Timestamp: when the evaluation occurred
//  - DryRun: whether this is a dry-run evaluation
//  - Metadata: free-form context such as environment and allowed_modules
//
// This context allows policies to make environment-aware decisions.
package policy
