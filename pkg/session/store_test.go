package session_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/stoatlab/stoat/pkg/model"
	"github.com/stoatlab/stoat/pkg/session"
)

func TestLoadCreatesEmptySession(t *testing.T) {
	store := session.NewMemoryStore()
	ctx := context.Background()

	sess, err := store.Load(ctx, "fresh")
	gt.NoError(t, err)
	gt.V(t, sess).NotNil()
	gt.Equal(t, sess.ID, "fresh")
	gt.A(t, sess.Turns).Length(0)
}

func TestAppendAndLoad(t *testing.T) {
	store := session.NewMemoryStore()
	ctx := context.Background()

	err := store.Append(ctx, "s1", &model.Turn{
		Role:      model.RoleUser,
		Text:      "show all employees",
		Timestamp: time.Now(),
	})
	gt.NoError(t, err)

	err = store.Append(ctx, "s1", &model.Turn{
		Role:      model.RoleAssistant,
		Text:      "Found 42 matching results.",
		SQL:       "SELECT * FROM employees LIMIT 500",
		Timestamp: time.Now(),
	})
	gt.NoError(t, err)

	sess, err := store.Load(ctx, "s1")
	gt.NoError(t, err)
	gt.A(t, sess.Turns).Length(2)
	gt.Equal(t, sess.Turns[0].Role, model.RoleUser)
	gt.Equal(t, sess.Turns[1].SQL, "SELECT * FROM employees LIMIT 500")
}

func TestEvictionKeepsMostRecentTurns(t *testing.T) {
	const maxTurns = 5
	store := session.NewMemoryStore(session.WithMaxTurns(maxTurns))
	ctx := context.Background()

	for i := 0; i < 23; i++ {
		err := store.Append(ctx, "s1", &model.Turn{
			Role: model.RoleUser,
			Text: fmt.Sprintf("turn-%d", i),
		})
		gt.NoError(t, err)
	}

	sess, err := store.Load(ctx, "s1")
	gt.NoError(t, err)
	gt.A(t, sess.Turns).Length(maxTurns)

	// The retained turns are exactly the most recent ones, in order.
	for i, turn := range sess.Turns {
		gt.Equal(t, turn.Text, fmt.Sprintf("turn-%d", 23-maxTurns+i))
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	store := session.NewMemoryStore()
	ctx := context.Background()

	gt.NoError(t, store.Append(ctx, "a", &model.Turn{Role: model.RoleUser, Text: "for a"}))
	gt.NoError(t, store.Append(ctx, "b", &model.Turn{Role: model.RoleUser, Text: "for b"}))

	sessA, err := store.Load(ctx, "a")
	gt.NoError(t, err)
	gt.A(t, sessA.Turns).Length(1)
	gt.Equal(t, sessA.Turns[0].Text, "for a")

	sessB, err := store.Load(ctx, "b")
	gt.NoError(t, err)
	gt.Equal(t, sessB.Turns[0].Text, "for b")
}

func TestLoadReturnsSnapshot(t *testing.T) {
	store := session.NewMemoryStore()
	ctx := context.Background()

	gt.NoError(t, store.Append(ctx, "s1", &model.Turn{Role: model.RoleUser, Text: "original"}))

	sess, err := store.Load(ctx, "s1")
	gt.NoError(t, err)
	sess.Turns[0].Text = "mutated by caller"

	again, err := store.Load(ctx, "s1")
	gt.NoError(t, err)
	gt.Equal(t, again.Turns[0].Text, "original")
}

func TestConcurrentAppendsHoldInvariant(t *testing.T) {
	const maxTurns = 10
	store := session.NewMemoryStore(session.WithMaxTurns(maxTurns))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = store.Append(ctx, "shared", &model.Turn{
					Role: model.RoleUser,
					Text: fmt.Sprintf("w%d-%d", worker, j),
				})
			}
		}(i)
	}
	wg.Wait()

	sess, err := store.Load(ctx, "shared")
	gt.NoError(t, err)
	gt.A(t, sess.Turns).Length(maxTurns)
}
