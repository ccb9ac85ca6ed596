package ratelimit

import "testing"

func TestAllow_UnknownGroupUnthrottled(t *testing.T) {
	g := NewGroup(nil)
	for i := 0; i < 5; i++ {
		if !g.Allow("Query.posts") {
			t.Fatalf("unknown group should never throttle")
		}
	}
}

func TestAllow_ExhaustsBurst(t *testing.T) {
	g := NewGroup(map[string]Limit{"Query.posts": {RatePerSecond: 0, Burst: 2}})
	if !g.Allow("Query.posts") {
		t.Fatalf("first token should be available")
	}
	if !g.Allow("Query.posts") {
		t.Fatalf("second token should be available")
	}
	if g.Allow("Query.posts") {
		t.Fatalf("third token should be exhausted")
	}
}
