package approval

import (
	"context"
	"sync"
	"testing"

	"github.com/pocketomega/chatrelay/internal/store"
	"github.com/pocketomega/chatrelay/internal/store/storetest"
)

func TestGetPolicyForTool_DefaultsToNever(t *testing.T) {
	s := NewService(storetest.New())
	policy, err := s.GetPolicyForTool(context.Background(), "srv1", "unlisted_tool")
	if err != nil {
		t.Fatal(err)
	}
	if policy != store.PolicyNever {
		t.Fatalf("policy = %s, want NEVER", policy)
	}
}

func TestSetPolicyForTool_UpsertOverwrites(t *testing.T) {
	s := NewService(storetest.New())
	if _, err := s.SetPolicyForTool(context.Background(), "srv1", "get_weather", store.PolicyAlways); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SetPolicyForTool(context.Background(), "srv1", "get_weather", store.PolicyNever); err != nil {
		t.Fatal(err)
	}

	policy, err := s.GetPolicyForTool(context.Background(), "srv1", "get_weather")
	if err != nil {
		t.Fatal(err)
	}
	if policy != store.PolicyNever {
		t.Fatalf("policy = %s, want NEVER", policy)
	}

	rows, err := s.ListPoliciesForServer(context.Background(), "srv1")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1 (no duplicate for the pair)", len(rows))
	}
}

func TestSetPolicyForTool_ConcurrentWritersConverge(t *testing.T) {
	s := NewService(storetest.New())

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		policy := store.PolicyAlways
		if i == 1 {
			policy = store.PolicyNever
		}
		wg.Add(1)
		go func(p store.ApprovalPolicy) {
			defer wg.Done()
			if _, err := s.SetPolicyForTool(context.Background(), "srv1", "get_weather", p); err != nil {
				t.Error(err)
			}
		}(policy)
	}
	wg.Wait()

	rows, err := s.ListPoliciesForServer(context.Background(), "srv1")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want exactly 1", len(rows))
	}
	if rows[0].Policy != store.PolicyAlways && rows[0].Policy != store.PolicyNever {
		t.Fatalf("policy = %s, want one of the written values", rows[0].Policy)
	}
}

func TestDeletePoliciesForServer(t *testing.T) {
	s := NewService(storetest.New())
	if _, err := s.SetPolicyForTool(context.Background(), "srv1", "a", store.PolicyAlways); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SetPolicyForTool(context.Background(), "srv2", "a", store.PolicyAlways); err != nil {
		t.Fatal(err)
	}
	if err := s.DeletePoliciesForServer(context.Background(), "srv1"); err != nil {
		t.Fatal(err)
	}

	rows, _ := s.ListPoliciesForServer(context.Background(), "srv1")
	if len(rows) != 0 {
		t.Fatalf("srv1 rows = %d, want 0", len(rows))
	}
	rows, _ = s.ListPoliciesForServer(context.Background(), "srv2")
	if len(rows) != 1 {
		t.Fatalf("srv2 rows = %d, want 1", len(rows))
	}
}
