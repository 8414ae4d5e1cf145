// Copyright 2025 Aura Project

package coupler

import (
	"context"
	"errors"
	"testing"

	"github.com/aura-network/aura/pkg/effectcore"
	"github.com/aura-network/aura/pkg/ids"
	"github.com/aura-network/aura/pkg/journal"
)

func deltaWith(key journal.FactKey, value string) *journal.Journal {
	j := journal.New(ids.AccountId{1}, nil)
	j.InsertWithContext(key, journal.FactValue{TypeID: "t", Encoding: []byte(value), Timestamp: 1})
	return j
}

func TestCommitPessimistic_PersistsBeforeSend(t *testing.T) {
	target := journal.New(ids.AccountId{1}, nil)
	c := New(target, DefaultConfig())

	var order []string
	op := Operation{
		Delta: deltaWith("k", "v"),
		Execute: func(context.Context) error {
			order = append(order, "execute")
			return nil
		},
		Send: func(context.Context) error {
			if _, ok := target.Get("k"); !ok {
				t.Errorf("expected delta to be persisted before send")
			}
			order = append(order, "send")
			return nil
		},
	}
	if err := c.Commit(context.Background(), op, ModePessimistic); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, ok := target.Get("k"); !ok {
		t.Fatalf("expected delta to be merged into target")
	}
	if len(order) != 2 || order[0] != "execute" || order[1] != "send" {
		t.Errorf("expected execute-then-send order, got %v", order)
	}
}

func TestCommitPessimistic_SkipsSendOnExecuteFailure(t *testing.T) {
	target := journal.New(ids.AccountId{1}, nil)
	c := New(target, DefaultConfig())

	sendCalled := false
	op := Operation{
		Delta:   deltaWith("k", "v"),
		Execute: func(context.Context) error { return errors.New("boom") },
		Send:    func(context.Context) error { sendCalled = true; return nil },
	}
	if err := c.Commit(context.Background(), op, ModePessimistic); err == nil {
		t.Fatalf("expected error from failed execute")
	}
	if sendCalled {
		t.Errorf("send must not run when execute fails under pessimistic mode")
	}
	if _, ok := target.Get("k"); ok {
		t.Errorf("delta must not be persisted when execute fails under pessimistic mode")
	}
}

func TestCommitOptimistic_PersistsBeforeExecute(t *testing.T) {
	target := journal.New(ids.AccountId{1}, nil)
	c := New(target, DefaultConfig())

	var order []string
	op := Operation{
		Delta: deltaWith("k", "v"),
		Execute: func(context.Context) error {
			if _, ok := target.Get("k"); !ok {
				t.Errorf("expected delta to be persisted before execute")
			}
			order = append(order, "execute")
			return nil
		},
		Send: func(context.Context) error {
			order = append(order, "send")
			return nil
		},
	}
	if err := c.Commit(context.Background(), op, ModeOptimistic); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if len(order) != 2 || order[0] != "execute" {
		t.Errorf("expected execute to run after the already-persisted delta, got %v", order)
	}
}

func TestCommitOptimistic_RetainsDeltaOnExecuteFailure(t *testing.T) {
	target := journal.New(ids.AccountId{1}, nil)
	c := New(target, DefaultConfig())

	op := Operation{
		Delta:   deltaWith("k", "v"),
		Execute: func(context.Context) error { return errors.New("boom") },
	}
	if err := c.Commit(context.Background(), op, ModeOptimistic); err == nil {
		t.Fatalf("expected error from failed execute")
	}
	if _, ok := target.Get("k"); !ok {
		t.Errorf("optimistic mode must retain the delta even though execute failed")
	}
}

func TestNewError_InternalKindCarriesSource(t *testing.T) {
	source := errors.New("disk full")
	wrapped := effectcore.NewError(effectcore.KindInternal, "journal persistence failed after successful operation execution", source)
	if wrapped.Kind != effectcore.KindInternal {
		t.Fatalf("expected KindInternal, got %v", wrapped.Kind)
	}
	if !errors.Is(wrapped, source) {
		t.Errorf("expected errors.Is to unwrap to the source error")
	}
}
