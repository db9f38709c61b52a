package store_test

import (
	"context"
	"testing"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/store"
	"github.com/shaiso/Conveyor/internal/store/storetest"
)

func TestMemory(t *testing.T) {
	storetest.Run(t, func(*testing.T) store.RunStore {
		return store.NewMemory()
	})
}

func TestMemory_GetRunReturnsCopy(t *testing.T) {
	s := store.NewMemory()
	ctx := context.Background()

	run, err := s.CreateRun(ctx, store.NewRun{PipelineID: "p", TaskIDs: []string{"a"}})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}

	got, _ := s.GetRun(ctx, run.ID)
	got.Tasks[0].Status = domain.TaskStatusFailed
	got.Status = domain.RunStatusCompleted

	again, _ := s.GetRun(ctx, run.ID)
	if again.Status != domain.RunStatusPending || again.Tasks[0].Status != domain.TaskStatusPending {
		t.Error("mutating returned run must not affect the store")
	}
}
