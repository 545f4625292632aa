package throttle

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"heirloom/internal/domain"

	"github.com/redis/go-redis/v9"
)

// fakeScripter runs the charge script against an in-memory counter map.
type fakeScripter struct {
	mu      sync.Mutex
	counts  map[string]int64
	expires map[string]int64
	err     error
}

func newFakeScripter() *fakeScripter {
	return &fakeScripter{counts: map[string]int64{}, expires: map[string]int64{}}
}

func (f *fakeScripter) charge(keys []string, args []any) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewCmdResult(nil, f.err)
	}
	if len(keys) != 1 || len(args) != 1 {
		return redis.NewCmdResult(nil, errors.New("unexpected script arguments"))
	}
	f.counts[keys[0]]++
	if f.counts[keys[0]] == 1 {
		f.expires[keys[0]] = args[0].(int64)
	}
	return redis.NewCmdResult(f.counts[keys[0]], nil)
}

func (f *fakeScripter) Eval(_ context.Context, _ string, keys []string, args ...any) *redis.Cmd {
	return f.charge(keys, args)
}

func (f *fakeScripter) EvalSha(_ context.Context, _ string, keys []string, args ...any) *redis.Cmd {
	return f.charge(keys, args)
}

func (f *fakeScripter) EvalRO(_ context.Context, _ string, keys []string, args ...any) *redis.Cmd {
	return f.charge(keys, args)
}

func (f *fakeScripter) EvalShaRO(_ context.Context, _ string, keys []string, args ...any) *redis.Cmd {
	return f.charge(keys, args)
}

func (f *fakeScripter) ScriptExists(_ context.Context, hashes ...string) *redis.BoolSliceCmd {
	return redis.NewBoolSliceResult(make([]bool, len(hashes)), nil)
}

func (f *fakeScripter) ScriptLoad(_ context.Context, _ string) *redis.StringCmd {
	return redis.NewStringResult("", nil)
}

func TestRedisChargesPerSubjectWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 45, 0, time.UTC)
	client := newFakeScripter()
	r, err := NewRedis(client, func() time.Time { return now })
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	key := domain.ThrottleKey{Action: "vote", Subject: "claim-1", Caller: "10.0.0.1"}
	quota := domain.Quota{Limit: 1, Window: time.Minute}

	if v, err := r.Charge(ctx, key, quota); err != nil || !v.Allowed {
		t.Fatalf("first charge: %+v err=%v", v, err)
	}
	v, err := r.Charge(ctx, key, quota)
	if err != nil || v.Allowed || v.RetryAfter != 15*time.Second {
		t.Fatalf("second charge should be refused until the window edge, got %+v err=%v", v, err)
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	if len(client.counts) != 1 {
		t.Fatalf("expected one counter, got %v", client.counts)
	}
	for k, exp := range client.expires {
		if !strings.HasPrefix(k, "heirloom:throttle:{claim-1}:vote:") {
			t.Fatalf("unexpected key %q", k)
		}
		if want := time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC).UnixMilli(); exp != want {
			t.Fatalf("expiry %d, want %d", exp, want)
		}
	}
}

func TestRedisChargeError(t *testing.T) {
	client := newFakeScripter()
	client.err = errors.New("connection refused")
	r, err := NewRedis(client, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := r.Charge(context.Background(), domain.ThrottleKey{Action: "vote", Subject: "c"}, domain.Quota{Limit: 1}); err == nil {
		t.Fatalf("expected the script error to surface")
	}
}
