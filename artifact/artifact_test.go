package artifact_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/poseworks/posepool/artifact"
	"github.com/poseworks/posepool/artifact/memory"
)

func TestTiered_BackfillsFasterTiers(t *testing.T) {
	ctx := context.Background()
	front := memory.New()
	back := memory.New()
	tiered := artifact.NewTiered(front, back)

	if err := back.Put(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("Put error: %v", err)
	}

	data, err := tiered.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if string(data) != "v" {
		t.Errorf("Get = %q, want %q", data, "v")
	}

	// The front tier should now hold the value.
	if _, err := front.Get(ctx, "k"); err != nil {
		t.Errorf("front tier not backfilled: %v", err)
	}
}

func TestTiered_Miss(t *testing.T) {
	tiered := artifact.NewTiered(memory.New(), memory.New())
	if _, err := tiered.Get(context.Background(), "absent"); !errors.Is(err, artifact.ErrNotFound) {
		t.Errorf("Get = %v, want ErrNotFound", err)
	}
}

func TestFetcher_CachesDownloads(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Write([]byte("model-bytes"))
	}))
	defer srv.Close()

	f := artifact.NewFetcher(memory.New())
	ctx := context.Background()

	for range 3 {
		data, err := f.Fetch(ctx, srv.URL+"/model.onnx")
		if err != nil {
			t.Fatalf("Fetch error: %v", err)
		}
		if string(data) != "model-bytes" {
			t.Fatalf("Fetch = %q", data)
		}
	}
	if hits.Load() != 1 {
		t.Errorf("origin hits = %d, want 1 (cached after first fetch)", hits.Load())
	}
}

func TestFetcher_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	f := artifact.NewFetcher(memory.New())
	if _, err := f.Fetch(context.Background(), srv.URL+"/missing"); err == nil {
		t.Fatal("expected error for 404 response")
	}
}

func TestKey_Stable(t *testing.T) {
	a := artifact.Key("https://cdn.example.com/movenet_lightning.onnx")
	b := artifact.Key("https://cdn.example.com/movenet_lightning.onnx")
	c := artifact.Key("https://cdn.example.com/movenet_thunder.onnx")
	if a != b {
		t.Error("Key not deterministic")
	}
	if a == c {
		t.Error("distinct URLs share a key")
	}
}
