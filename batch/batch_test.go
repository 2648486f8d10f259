package batch

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wippyai/ilweave/errors"
	"github.com/wippyai/ilweave/model"
)

func TestRunOrderAndLimit(t *testing.T) {
	inputs := make([]int, 50)
	for i := range inputs {
		inputs[i] = i
	}
	var inflight, peak atomic.Int32
	out, err := Run(context.Background(), inputs, 3, func(_ context.Context, n int) (string, error) {
		cur := inflight.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		inflight.Add(-1)
		return fmt.Sprint(n * n), nil
	})
	if err != nil {
		t.Fatal(err)
	}
	for i, s := range out {
		if s != fmt.Sprint(i*i) {
			t.Fatalf("out[%d] = %s", i, s)
		}
	}
	if peak.Load() > 3 {
		t.Errorf("peak concurrency %d exceeds limit", peak.Load())
	}
}

func TestRunFirstErrorCancels(t *testing.T) {
	boom := errors.InvalidInput(errors.PhaseModel, "boom")
	var cancelled atomic.Int32
	_, err := Run(context.Background(), []int{0, 1, 2, 3}, 4, func(ctx context.Context, n int) (int, error) {
		if n == 0 {
			time.Sleep(20 * time.Millisecond)
			return 0, boom
		}
		select {
		case <-ctx.Done():
			cancelled.Add(1)
			return 0, ctx.Err()
		case <-time.After(5 * time.Second):
			return n, nil
		}
	})
	if err != boom {
		t.Fatalf("err = %v", err)
	}
	if cancelled.Load() == 0 {
		t.Error("siblings were not cancelled")
	}
}

func TestRunCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var calls atomic.Int32
	_, err := Run(ctx, []int{1, 2, 3}, 0, func(context.Context, int) (int, error) {
		calls.Add(1)
		return 0, nil
	})
	if err == nil {
		t.Error("cancelled run succeeded")
	}
	if calls.Load() != 0 {
		t.Errorf("%d calls after cancellation", calls.Load())
	}
}

func TestModules(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for i := 0; i < 4; i++ {
		name := fmt.Sprintf("Asm%d", i)
		m := model.New(name+".dll", name)
		path := filepath.Join(dir, name+".dll")
		if err := m.WriteFile(context.Background(), path, model.WriteOptions{}); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, path)
	}
	names, err := Modules(context.Background(), paths, 2, func(_ context.Context, _ string, m *model.Module) (string, error) {
		return m.Assembly().Name, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	for i, n := range names {
		if n != fmt.Sprintf("Asm%d", i) {
			t.Errorf("names[%d] = %s", i, n)
		}
	}

	_, err = Modules(context.Background(), append(paths, filepath.Join(dir, "missing.dll")), 2,
		func(context.Context, string, *model.Module) (int, error) { return 0, nil })
	if err == nil {
		t.Error("missing file did not fail the batch")
	}
}
