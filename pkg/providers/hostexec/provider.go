// Package hostexec adapts the teacher's micro-runner subprocess protocol
// (pkg/micro_runner) and SSH transport (pkg/transports/ssh) into a single
// registry.Provider: the "host" module that gives an agent plan real
// exec/file/package/service/sudoers/sshd affordances on the machine agentd
// runs on, or on a remote one reached over SSH, rather than leaving those
// two packages as unwired teacher leftovers.
//
// One micro-runner instance is spawned per Execute call and torn down once
// its single command completes, mirroring cmd/micro-runner's own
// bounded-lifetime, self-deleting design; there is no long-lived runner
// pool to manage across calls.
package hostexec

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentforge/agentd/pkg/micro_runner/client"
	"github.com/agentforge/agentd/pkg/micro_runner/protocol"
	"github.com/agentforge/agentd/pkg/registry"
	sshtransport "github.com/agentforge/agentd/pkg/transports/ssh"
)

// Provider dispatches host actions to the micro-runner binary.
type Provider struct {
	runnerPath string
}

// Config selects where the micro-runner binary lives on this host.
type Config struct {
	// RunnerPath is the local filesystem path to the micro-runner binary
	// (built via cmd/micro-runner).
	RunnerPath string
}

// New builds the host-execution provider.
func New(cfg Config) *Provider {
	return &Provider{runnerPath: cfg.RunnerPath}
}

var manifest = registry.ProviderManifest{
	ModuleID:    "host",
	Version:     "1.0.0",
	Description: "Executes commands, manages files, packages, services, sudoers rules and SSH hardening on this host or a remote one reached over SSH, via the micro-runner helper process.",
	Platforms:   []string{"linux", "darwin"},
	Actions: []registry.ActionManifest{
		{
			Name:               "exec",
			Description:        "Run a shell command and capture its exit code, stdout and stderr.",
			PermissionRequired: []string{"host:exec"},
			RiskLevel:          "high",
			AuditLevel:         "full",
		},
		{
			Name:               "file_write",
			Description:        "Write content to a file, optionally creating a .bak of the previous contents first.",
			PermissionRequired: []string{"host:file_write"},
			RiskLevel:          "high",
			AuditLevel:         "full",
		},
		{
			Name:               "file_read",
			Description:        "Read a file's content, mode, ownership and checksum.",
			PermissionRequired: []string{"host:file_read"},
			RiskLevel:          "low",
			AuditLevel:         "full",
		},
		{
			Name:               "pkg_ensure",
			Description:        "Ensure a system package is present, absent, or at its latest version (apt/dnf/yum/zypper, auto-detected when unset).",
			PermissionRequired: []string{"host:pkg_ensure"},
			RiskLevel:          "high",
			AuditLevel:         "full",
		},
		{
			Name:               "service_reload",
			Description:        "Reload, restart, start, stop, enable or disable a systemd service.",
			PermissionRequired: []string{"host:service_reload"},
			RiskLevel:          "high",
			AuditLevel:         "full",
		},
		{
			Name:               "sudoers_ensure",
			Description:        "Create or remove a drop-in /etc/sudoers.d rule granting a user specific commands.",
			PermissionRequired: []string{"host:sudoers_ensure"},
			RiskLevel:          "critical",
			AuditLevel:         "full",
		},
		{
			Name:               "sshd_harden",
			Description:        "Apply SSH daemon hardening: disable password auth or root login, restrict allowed users and the listening port.",
			PermissionRequired: []string{"host:sshd_harden"},
			RiskLevel:          "critical",
			AuditLevel:         "full",
		},
	},
}

var actionToCommand = map[string]protocol.CommandType{
	"exec":           protocol.CommandTypeExec,
	"file_write":     protocol.CommandTypeFileWrite,
	"file_read":      protocol.CommandTypeFileRead,
	"pkg_ensure":     protocol.CommandTypePkgEnsure,
	"service_reload": protocol.CommandTypeServiceReload,
	"sudoers_ensure": protocol.CommandTypeSudoersEnsure,
	"sshd_harden":    protocol.CommandTypeSSHDHarden,
}

// Execute implements registry.Provider. When params contains a non-empty
// "host" key, the command runs against that host over SSH; otherwise it
// runs against the machine agentd itself is running on.
func (p *Provider) Execute(ctx context.Context, actionName string, params map[string]interface{}, execCtx registry.ExecutionContext) (interface{}, error) {
	cmdType, ok := actionToCommand[actionName]
	if !ok {
		return nil, fmt.Errorf("host: unknown action %q", actionName)
	}

	timeout := 30
	if v, ok := params["timeout"].(float64); ok && v > 0 {
		timeout = int(v)
	}

	paramBytes, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("host: failed to encode params: %w", err)
	}

	cmdMsg := &protocol.CommandMessage{
		ID:      uuid.NewString(),
		Type:    cmdType,
		Timeout: timeout,
		Params:  paramBytes,
	}

	transport, remotePath, cleanup, err := p.transportFor(ctx, params)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	cliCfg := &client.Config{
		Transport:      transport,
		RunnerPath:     p.runnerPath,
		RemotePath:     remotePath,
		StartupTimeout: 10 * time.Second,
	}

	cli, err := client.NewClient(cliCfg)
	if err != nil {
		return nil, fmt.Errorf("host: failed to build micro-runner client: %w", err)
	}

	startCtx, cancelStart := context.WithTimeout(ctx, time.Duration(timeout+10)*time.Second)
	defer cancelStart()

	if err := cli.Start(startCtx, cliCfg); err != nil {
		return nil, fmt.Errorf("host: failed to start micro-runner: %w", err)
	}
	defer cli.Close(ctx, remotePath)

	done, err := cli.Execute(ctx, cmdMsg)
	if err != nil {
		return nil, err
	}

	if len(done.Result) == 0 {
		return nil, nil
	}
	var result interface{}
	if err := json.Unmarshal(done.Result, &result); err != nil {
		return nil, fmt.Errorf("host: failed to decode result: %w", err)
	}
	return result, nil
}

// transportFor picks the local or SSH-backed micro_runner/client.Transport
// for this call, keyed off an optional "host" param.
func (p *Provider) transportFor(ctx context.Context, params map[string]interface{}) (client.Transport, string, func(), error) {
	host, _ := params["host"].(string)
	if host == "" {
		return newLocalTransport(), p.runnerPath, func() {}, nil
	}

	user, _ := params["ssh_user"].(string)
	if user == "" {
		user = "root"
	}
	cfg := sshtransport.DefaultConfig(host, user)
	if keyPath, _ := params["ssh_key_path"].(string); keyPath != "" {
		cfg.PrivateKeyPath = keyPath
	}

	sshClient, err := sshtransport.NewSSHClient(cfg)
	if err != nil {
		return nil, "", nil, fmt.Errorf("host: failed to build SSH transport for %s: %w", host, err)
	}
	if err := sshClient.Connect(ctx); err != nil {
		return nil, "", nil, fmt.Errorf("host: failed to connect to %s: %w", host, err)
	}

	cleanup := func() { _ = sshClient.Disconnect() }
	return newRemoteTransport(sshClient), "/tmp/agentd-micro-runner", cleanup, nil
}

// GetManifest implements registry.Provider.
func (p *Provider) GetManifest() registry.ProviderManifest { return manifest }

// GetContextSnippet implements registry.Provider.
func (p *Provider) GetContextSnippet() string {
	return "The host module runs shell commands, edits files, manages packages, services, sudoers rules and SSH hardening on the local machine, or on a remote one when params include \"host\"/\"ssh_user\"/\"ssh_key_path\". Every action is high-risk; expect explicit permission grants and full audit logging."
}

// Close implements registry.Provider. The provider itself holds no
// long-lived resources — every micro-runner instance and SSH connection is
// scoped to a single Execute call.
func (p *Provider) Close(ctx context.Context) error { return nil }
