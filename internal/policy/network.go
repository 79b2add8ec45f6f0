// Package policy holds the pluggable network-prefix suspicion predicate.
package policy

import (
	"context"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/AnshRaj112/trialguard-backend/internal/models"
)

// NetworkPolicy decides whether a network prefix should block new trial use.
type NetworkPolicy interface {
	Suspicious(ctx context.Context, rec *models.NetworkTrialRecord) (bool, error)
}

// FirmThreshold flags a prefix shared by more than MaxFirms firms.
type FirmThreshold struct {
	MaxFirms int
}

func (p FirmThreshold) Suspicious(_ context.Context, rec *models.NetworkTrialRecord) (bool, error) {
	if rec == nil || rec.IsWhitelisted {
		return false, nil
	}
	limit := p.MaxFirms
	if limit <= 0 {
		limit = 1
	}
	return len(rec.LinkedFirmIDs) > limit, nil
}

const (
	networkQuery = "data.trialguard.network.suspicious"

	// DefaultNetworkRego matches FirmThreshold{MaxFirms: 1}.
	DefaultNetworkRego = `package trialguard.network

default suspicious := false

suspicious if {
	not input.is_whitelisted
	count(input.linked_firm_ids) > 1
}
`
)

// RegoNetworkPolicy evaluates the suspicion rule with OPA so operators can
// tune it without a release. The module must define data.trialguard.network.suspicious.
type RegoNetworkPolicy struct {
	query rego.PreparedEvalQuery
}

// NewRegoNetworkPolicy compiles module once; an empty module uses DefaultNetworkRego.
func NewRegoNetworkPolicy(ctx context.Context, module string) (*RegoNetworkPolicy, error) {
	if module == "" {
		module = DefaultNetworkRego
	}
	compiler, err := ast.CompileModules(map[string]string{"network.rego": module})
	if err != nil {
		return nil, fmt.Errorf("compile network policy: %w", err)
	}
	pq, err := rego.New(
		rego.Query(networkQuery),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare network policy: %w", err)
	}
	return &RegoNetworkPolicy{query: pq}, nil
}

// LoadRegoNetworkPolicy reads the module from path, or uses the default when path is empty.
func LoadRegoNetworkPolicy(ctx context.Context, path string) (*RegoNetworkPolicy, error) {
	if path == "" {
		return NewRegoNetworkPolicy(ctx, "")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read network policy: %w", err)
	}
	return NewRegoNetworkPolicy(ctx, string(raw))
}

func (p *RegoNetworkPolicy) Suspicious(ctx context.Context, rec *models.NetworkTrialRecord) (bool, error) {
	if rec == nil {
		return false, nil
	}
	input := map[string]interface{}{
		"network_prefix":    rec.NetworkPrefix,
		"linked_firm_ids":   stringList(rec.LinkedFirmIDs),
		"linked_device_ids": stringList(rec.LinkedDeviceIDs),
		"linked_user_ids":   stringList(rec.LinkedUserIDs),
		"is_whitelisted":    rec.IsWhitelisted,
	}
	rs, err := p.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Errorf("eval network policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, fmt.Errorf("network policy returned no result")
	}
	v, ok := rs[0].Expressions[0].Value.(bool)
	if !ok {
		return false, fmt.Errorf("network policy returned %T, want bool", rs[0].Expressions[0].Value)
	}
	return v, nil
}

// HealthCheck evaluates the compiled policy against an empty record.
func (p *RegoNetworkPolicy) HealthCheck(ctx context.Context) error {
	_, err := p.Suspicious(ctx, &models.NetworkTrialRecord{})
	return err
}

func stringList(s []string) []interface{} {
	out := make([]interface{}, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}
