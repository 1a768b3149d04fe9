// Package approval implements the Approval Policy Service: a thin
// read/write layer over the Persistence Port's per-(server,tool) policy
// rows. It carries no concurrency contract of its own beyond what the
// store's unique (serverId, toolName) index already guarantees.
package approval

import (
	"context"
	"errors"

	"github.com/pocketomega/chatrelay/internal/errs"
	"github.com/pocketomega/chatrelay/internal/store"
)

// Service resolves and mutates tool approval policies.
type Service struct {
	store store.ApprovalPolicyStore
}

// NewService builds a Service over the Persistence Port's approval-policy
// slice.
func NewService(s store.ApprovalPolicyStore) *Service {
	return &Service{store: s}
}

// GetPolicyForTool returns the resolved policy for (serverId, toolName),
// defaulting to NEVER when no row exists.
func (s *Service) GetPolicyForTool(ctx context.Context, serverID, toolName string) (store.ApprovalPolicy, error) {
	p, err := s.store.GetPolicy(ctx, serverID, toolName)
	if errors.Is(err, errs.NotFound) {
		return store.PolicyNever, nil
	}
	if err != nil {
		return "", err
	}
	if p == "" {
		return store.PolicyNever, nil
	}
	return p, nil
}

// ListPoliciesForServer returns every explicit policy row for serverID.
// Tools with no row are not included; callers apply the NEVER default.
func (s *Service) ListPoliciesForServer(ctx context.Context, serverID string) ([]store.ToolApprovalPolicyRow, error) {
	return s.store.ListPolicies(ctx, serverID)
}

// SetPolicyForTool upserts the policy for (serverId, toolName).
func (s *Service) SetPolicyForTool(ctx context.Context, serverID, toolName string, policy store.ApprovalPolicy) (*store.ToolApprovalPolicyRow, error) {
	return s.store.SetPolicy(ctx, serverID, toolName, policy)
}

// DeletePoliciesForServer removes every policy row for serverID, used when
// an MCP server is deleted.
func (s *Service) DeletePoliciesForServer(ctx context.Context, serverID string) error {
	return s.store.DeletePolicies(ctx, serverID)
}
