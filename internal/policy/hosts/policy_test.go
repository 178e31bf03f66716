package hosts

import "testing"

// TestPolicyMatchesExactAndSuffix ensures both pattern forms match.
func TestPolicyMatchesExactAndSuffix(t *testing.T) {
	t.Parallel()

	p := New([]string{"spam.example", "*.bad.example", ".worse.example", "  "})
	cases := map[string]bool{
		"spam.example":         true,
		"SPAM.example.":        true,
		"www.spam.example":     false,
		"bad.example":          true,
		"a.b.bad.example":      true,
		"notbad.example":       false,
		"x.worse.example":      true,
		"friendly.example.org": false,
	}
	for host, want := range cases {
		if got := p.BlocksHost(host); got != want {
			t.Fatalf("BlocksHost(%q) = %v, want %v", host, got, want)
		}
	}
}

// TestPolicyBlocksURL ensures ports and paths do not affect matching.
func TestPolicyBlocksURL(t *testing.T) {
	t.Parallel()

	p := New([]string{"*.bad.example"})
	if !p.BlocksURL("https://a.bad.example:8443/post/1") {
		t.Fatal("expected url on blocked host to be blocked")
	}
	if p.BlocksURL("https://good.example/post/1") {
		t.Fatal("expected url on other host to pass")
	}
	if p.BlocksURL("://nope") {
		t.Fatal("expected unparseable url to pass")
	}
}

// TestNilPolicyBlocksNothing ensures empty configuration disables the policy.
func TestNilPolicyBlocksNothing(t *testing.T) {
	t.Parallel()

	p := New(nil)
	if p != nil {
		t.Fatal("expected nil policy for empty patterns")
	}
	if p.BlocksURL("https://anything.example") {
		t.Fatal("nil policy must not block")
	}
}
