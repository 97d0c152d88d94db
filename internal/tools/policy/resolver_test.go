package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/haasonsaas/nexus/internal/config"
	"github.com/haasonsaas/nexus/internal/sensitivepath"
)

func TestResolverAllowsMCPAlias(t *testing.T) {
	resolver := NewResolver()
	resolver.RegisterMCPServer("github", []string{"search"})
	resolver.RegisterAlias("mcp_github_search", "mcp:github.search")

	policy := &Policy{Allow: []string{"mcp:github.search"}}
	if !resolver.IsAllowed(policy, "mcp_github_search") {
		t.Fatal("expected alias tool to be allowed")
	}
}

func TestResolverAllowsMCPAliasViaWildcard(t *testing.T) {
	resolver := NewResolver()
	resolver.RegisterMCPServer("github", []string{"search"})
	resolver.RegisterAlias("mcp_github_search", "mcp:github.search")

	policy := &Policy{Allow: []string{"mcp:github.*"}}
	if !resolver.IsAllowed(policy, "mcp_github_search") {
		t.Fatal("expected alias tool to be allowed via wildcard")
	}
}

func TestDecidePathDeniesSensitivePath(t *testing.T) {
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, ".git"), 0o755); err != nil {
		t.Fatalf("mkdir .git: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, ".agentignore"), []byte("secrets/\n"), 0o644); err != nil {
		t.Fatalf("write .agentignore: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(root, "secrets"), 0o755); err != nil {
		t.Fatalf("mkdir secrets: %v", err)
	}
	target := filepath.Join(root, "secrets", "token.txt")
	if err := os.WriteFile(target, []byte("shh"), 0o644); err != nil {
		t.Fatalf("write target: %v", err)
	}

	sp := sensitivepath.New(root, config.ExclusionPolicyConfig{
		Enabled:      true,
		PathMatching: true,
		Files:        []string{".agentignore"},
	})

	resolver := NewResolver()
	resolver.SetPathPolicy(sp)

	policy := &Policy{Profile: ProfileFull}
	if decision := resolver.DecidePath(policy, "read", target); decision.Allowed {
		t.Fatalf("expected sensitive path to be denied, got %+v", decision)
	}

	allowedPath := filepath.Join(root, "README.md")
	if decision := resolver.DecidePath(policy, "read", allowedPath); !decision.Allowed {
		t.Fatalf("expected non-sensitive path to be allowed, got %+v", decision)
	}
}

func TestDecidePathSkipsCheckWhenToolAlreadyDenied(t *testing.T) {
	resolver := NewResolver()
	policy := &Policy{Deny: []string{"read"}}

	decision := resolver.DecidePath(policy, "read", "/whatever")
	if decision.Allowed {
		t.Fatal("expected tool-level deny to short-circuit the path check")
	}
}

func TestDecidePathWithoutPolicyBehavesLikeDecide(t *testing.T) {
	resolver := NewResolver()
	policy := &Policy{Profile: ProfileFull}

	decision := resolver.DecidePath(policy, "read", "/tmp/whatever.txt")
	if !decision.Allowed {
		t.Fatalf("expected full profile to allow without a path policy attached, got %+v", decision)
	}
}
