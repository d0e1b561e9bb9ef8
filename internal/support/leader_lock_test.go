package support

import (
	"context"
	"strings"
	"testing"
)

func TestRunWithLeaderWithoutRedisRunsInline(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ran := false
	err := RunWithLeader(ctx, nil, "iptrack:test", 0, func(runCtx context.Context) {
		ran = true
		if runCtx != ctx {
			t.Error("run did not receive the parent context")
		}
	})
	if err != nil {
		t.Fatalf("RunWithLeader returned %v, want nil", err)
	}
	if !ran {
		t.Fatal("run was not invoked")
	}
}

func TestRunWithLeaderRejectsNilRun(t *testing.T) {
	if err := RunWithLeader(context.Background(), nil, "iptrack:test", 0, nil); err == nil {
		t.Fatal("expected error for nil run function")
	}
}

func TestLeaderTokenUnique(t *testing.T) {
	a, b := leaderToken(), leaderToken()
	if a == b {
		t.Fatalf("leaderToken returned duplicate %q", a)
	}
	if strings.Count(a, "-") < 3 {
		t.Fatalf("leaderToken %q missing host/pid/time/seq parts", a)
	}
}
