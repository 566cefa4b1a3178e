package selector

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
)

func versionedRuleset(version int64, gateway string) string {
	return fmt.Sprintf(`{"id":9,"version":%d,"default_gateway":%q,"gateways":["A","B"],"rules":[]}`,
		version, gateway)
}

func TestRegistryLifecycle(t *testing.T) {
	reg := NewRegistry()
	if _, err := reg.Current(); err != ErrNoActiveSnapshot {
		t.Fatalf("expected ErrNoActiveSnapshot, got %v", err)
	}
	if _, _, ok := reg.ActiveID(); ok {
		t.Fatalf("empty registry must report no active id")
	}

	v1 := mustCompile(t, versionedRuleset(1, "A"))
	if prior := reg.Install(v1); prior != nil {
		t.Fatalf("first install must return nil prior, got %+v", prior)
	}
	if id, version, ok := reg.ActiveID(); !ok || id != 9 || version != 1 {
		t.Fatalf("unexpected active id %d/%d/%v", id, version, ok)
	}

	v2 := mustCompile(t, versionedRuleset(2, "B"))
	if prior := reg.Install(v2); prior != v1 {
		t.Fatalf("install must return the replaced snapshot")
	}
	snap, err := reg.Current()
	if err != nil || snap != v2 {
		t.Fatalf("current is not the latest install: %v %v", snap, err)
	}
}

func TestRegistryInstallNilPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("installing nil must panic")
		}
	}()
	NewRegistry().Install(nil)
}

func TestRegistryHotReloadUnderLoad(t *testing.T) {
	reg := NewRegistry()
	reg.Install(mustCompile(t, versionedRuleset(1, "A")))

	const (
		readers = 100
		perLoop = 200
	)
	next := make([]*Snapshot, 0, 4)
	for v := int64(2); v <= 5; v++ {
		gw := "A"
		if v%2 == 0 {
			gw = "B"
		}
		next = append(next, mustCompile(t, versionedRuleset(v, gw)))
	}

	var (
		wg    sync.WaitGroup
		seenA atomic.Int64
		seenB atomic.Int64
		bad   atomic.Int64
	)
	start := make(chan struct{})

	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for j := 0; j < perLoop; j++ {
				snap, err := reg.Current()
				if err != nil {
					bad.Add(1)
					return
				}
				d := snap.Select(MapContext{"api_user_id": j})
				switch {
				case d.Kind == DecisionDefaulted && d.Gateway == "A" && snap.Version%2 == 1:
					seenA.Add(1)
				case d.Kind == DecisionDefaulted && d.Gateway == "B" && snap.Version%2 == 0:
					seenB.Add(1)
				default:
					bad.Add(1)
				}
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-start
		for _, snap := range next {
			reg.Install(snap)
		}
	}()

	close(start)
	wg.Wait()

	if n := bad.Load(); n != 0 {
		t.Fatalf("%d selections saw torn or inconsistent snapshots", n)
	}
	if seenA.Load()+seenB.Load() != readers*perLoop {
		t.Fatalf("lost selections: %d + %d != %d", seenA.Load(), seenB.Load(), readers*perLoop)
	}
}

func TestPinnedSnapshotSurvivesReload(t *testing.T) {
	reg := NewRegistry()
	v1 := mustCompile(t, versionedRuleset(1, "A"))
	reg.Install(v1)

	pinned, err := reg.Current()
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	reg.Install(mustCompile(t, versionedRuleset(2, "B")))

	if d := pinned.Select(MapContext{}); d.Gateway != "A" {
		t.Fatalf("pinned snapshot must keep its own rules, got %+v", d)
	}
	if now, _ := reg.Current(); now == pinned {
		t.Fatalf("registry must serve the new snapshot after install")
	}
}
