package posepool_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/poseworks/posepool"
	"github.com/poseworks/posepool/channel"
	"github.com/poseworks/posepool/id"
	"github.com/poseworks/posepool/model"
)

func testFrame() model.Frame {
	return model.Frame{Width: 2, Height: 2, Pixels: make([]byte, 16)}
}

func TestNew_RequiresWorkerCommandOrLauncher(t *testing.T) {
	if _, err := posepool.New(); err == nil {
		t.Fatal("New without worker command succeeded")
	}

	c, err := posepool.New(posepool.WithWorkerCommand("poseworker"))
	if err != nil {
		t.Fatalf("New with worker command: %v", err)
	}
	defer c.Close()
}

func TestNew_RejectsBadPoolSize(t *testing.T) {
	_, err := posepool.New(
		posepool.WithWorkerCommand("poseworker"),
		posepool.WithPoolSize(0),
	)
	if err == nil {
		t.Fatal("New with pool size 0 succeeded")
	}
}

type refusingLauncher struct{}

func (refusingLauncher) Launch(ctx context.Context, wid id.WorkerID) (channel.Transport, error) {
	return nil, errors.New("launch refused")
}

func TestClient_InitializeFailurePropagates(t *testing.T) {
	c, err := posepool.New(
		posepool.WithLauncher(refusingLauncher{}),
		posepool.WithPoolSize(2),
		posepool.WithInitializeTimeout(100*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	if err := c.Initialize(context.Background()); err == nil {
		t.Fatal("Initialize with refusing launcher succeeded")
	}
	if c.Status().Initialized {
		t.Fatal("client reports initialized after failed Initialize")
	}
}

func TestErrorAliases(t *testing.T) {
	if !errors.Is(posepool.ErrTimeout, channel.ErrTimeout) {
		t.Fatal("ErrTimeout alias broken")
	}
	c, _ := posepool.New(posepool.WithWorkerCommand("poseworker"))
	defer c.Close()
	if _, err := c.Predict(context.Background(), testFrame()); !errors.Is(err, posepool.ErrNotInitialized) {
		t.Fatalf("Predict before Initialize = %v, want ErrNotInitialized", err)
	}
}
