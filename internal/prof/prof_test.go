package prof

import (
	"context"
	"strings"
	"testing"

	"github.com/keithlinneman/bucketedge/internal/log"
)

func TestStart_Disabled(t *testing.T) {
	var active []bool
	stop, err := Start(context.Background(), Options{
		Enabled:              false,
		ServerAddress:        "",
		AuthToken:            "secret",
		Tags:                 map[string]string{"k": "v"},
		ProfileMutexFraction: 999,
		OnActive:             func(a bool) { active = append(active, a) },
	})
	if err != nil {
		t.Fatalf("disabled should never error, got: %v", err)
	}
	if stop == nil {
		t.Fatal("stop func is nil")
	}
	stop()
	stop()
	if len(active) != 1 || active[0] {
		t.Fatalf("OnActive calls = %v, want [false]", active)
	}
}

func TestStart_Disabled_WithContextLogger(t *testing.T) {
	ctx := log.WithContext(context.Background(), log.Nop())
	stop, err := Start(ctx, Options{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	stop()
}

func TestStart_EmptyServerAddress(t *testing.T) {
	var active []bool
	stop, err := Start(context.Background(), Options{
		Enabled:  true,
		AppName:  "bucketedge",
		TenantID: "tenant",
		OnActive: func(a bool) { active = append(active, a) },
	})
	if err == nil || !strings.Contains(err.Error(), "invalid server address") {
		t.Fatalf("err = %v, want invalid server address", err)
	}
	if stop == nil {
		t.Fatal("stop must be non-nil even on error")
	}
	stop()
	stop()
	if len(active) != 1 || active[0] {
		t.Fatalf("OnActive calls = %v, want [false]", active)
	}
}

func TestStart_UnreachableServer(t *testing.T) {
	// pyroscope uploads lazily, so Start may succeed; either way stop is safe
	var last bool
	stop, _ := Start(context.Background(), Options{
		Enabled:       true,
		ServerAddress: "http://localhost:0/nonexistent",
		AppName:       "bucketedge-test",
		OnActive:      func(a bool) { last = a },
	})
	if stop == nil {
		t.Fatal("stop func should always be non-nil")
	}
	stop()
	stop()
	if last {
		t.Fatal("profiling should be reported inactive after stop")
	}
}

func TestPyroLogger(t *testing.T) {
	// the nop logger must accept every level without panicking
	p := pyroLogger{ctx: context.Background(), L: log.Nop()}
	p.Infof("upload %d", 1)
	p.Debugf("tick")
	p.Errorf("failed: %v", "x")
}
