package health

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestRegistryEmpty(t *testing.T) {
	r := NewRegistry()
	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Fatal("empty registry should be healthy")
	}
	if len(statuses) != 0 {
		t.Fatalf("expected 0 statuses, got %d", len(statuses))
	}
}

func TestRegistryAggregate(t *testing.T) {
	r := NewRegistry()
	r.Register("database", func(_ context.Context) Status {
		return OK("database", "")
	})
	r.Register("hive", func(_ context.Context) Status {
		return OK("hive", "3 nodes")
	})

	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Fatal("all-healthy registry should report healthy")
	}
	if len(statuses) != 2 || statuses[1].Detail != "3 nodes" {
		t.Fatalf("statuses = %v", statuses)
	}

	r.Register("hive", func(_ context.Context) Status {
		return Fail("hive", errors.New("no bee nodes in the pool"))
	})

	healthy, statuses = r.CheckAll(context.Background())
	if healthy {
		t.Fatal("registry with a failing checker should report unhealthy")
	}
	if statuses[2].Detail != "no bee nodes in the pool" {
		t.Fatalf("detail = %q", statuses[2].Detail)
	}
}

func TestFailWithNilError(t *testing.T) {
	s := Fail("database", nil)
	if s.Healthy || s.Detail != "" {
		t.Fatalf("status = %+v, want unhealthy with no detail", s)
	}
}

func TestRegistryConcurrentRegisterAndCheck(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Register("checker", func(_ context.Context) Status {
				return OK("checker", "")
			})
		}()
	}

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.CheckAll(context.Background())
		}()
	}

	wg.Wait()
}
