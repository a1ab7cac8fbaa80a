package stores_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/openfroyo/hubsetup/pkg/state"
	"github.com/openfroyo/hubsetup/pkg/stores"
)

// ExampleOpen demonstrates opening a migrated journal.
func ExampleOpen() {
	ctx := context.Background()
	store, err := stores.Open(ctx, stores.MemoryPath)
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	fmt.Println("Journal ready")
	// Output: Journal ready
}

// ExampleJournal demonstrates recording a run by hand.
func ExampleJournal() {
	ctx := context.Background()
	store, err := stores.Open(ctx, stores.MemoryPath)
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	journal := stores.NewJournal(store)
	_ = store.CreateRun(ctx, &stores.Run{
		ID:        "run-1",
		StatePath: ".boomi-setup-state.json",
		Status:    stores.RunStatusRunning,
		StartedAt: time.Now(),
	})
	_ = journal.StepTransition(ctx, "run-1", "1.0", state.StatusInProgress, "")
	_ = journal.StepTransition(ctx, "run-1", "1.0", state.StatusCompleted, "")

	history, _ := journal.History(ctx, 1)
	for _, ev := range history[0].Events {
		fmt.Println(ev.StepID, ev.Status)
	}
	// Output:
	// 1.0 in_progress
	// 1.0 completed
}
