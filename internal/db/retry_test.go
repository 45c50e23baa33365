package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"

	"github.com/MilanSurkos/fakturomat/internal/utils"
)

// mockPqDuplicateKeyError creates an error that IsPqDuplicateKeyError will recognize.
func mockPqDuplicateKeyError(key string) error {
	return &pq.Error{
		Code:    "23505",
		Message: fmt.Sprintf("duplicate key value violates unique constraint \"invoices_number_key\" (%s)", key),
	}
}

func TestWithRetries_SuccessfulFirstAttempt(t *testing.T) {
	var opCalled int
	operation := func() error {
		opCalled++
		return nil // Simulate successful operation
	}

	err := WithRetries(operation, 3, IsPqDuplicateKeyError)
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if opCalled != 1 {
		t.Errorf("Expected operation to be called 1 time, got %d", opCalled)
	}
}

func TestWithRetries_FailureNonDuplicateKey(t *testing.T) {
	var opCalled int
	expectedErr := errors.New("some other error")
	operation := func() error {
		opCalled++
		return expectedErr
	}

	err := WithRetries(operation, 3, IsPqDuplicateKeyError)
	if !errors.Is(err, expectedErr) {
		t.Errorf("Expected error %v, got %v", expectedErr, err)
	}
	if opCalled != 1 {
		t.Errorf("Expected operation to be called 1 time, got %d", opCalled)
	}
}

func TestWithRetries_ExhaustRetries(t *testing.T) {
	var opCalled int

	operation := func() error {
		opCalled++
		// Always return a duplicate key error for this test
		return mockPqDuplicateKeyError("INV-20250101-0001")
	}

	maxRetries := 3
	err := WithRetries(operation, maxRetries, IsPqDuplicateKeyError)

	// Expecting a duplicate key error after all retries
	if err == nil {
		t.Fatal("Expected a duplicate key error, got nil")
	}
	if !IsPqDuplicateKeyError(err) {
		t.Errorf("Expected a Postgres duplicate key error, got %T: %v", err, err)
	}

	expectedOpCalls := maxRetries + 1
	if opCalled != expectedOpCalls {
		t.Errorf("Expected operation to be called %d times, got %d", expectedOpCalls, opCalled)
	}
}

func TestWithRetries_CollisionResolves(t *testing.T) {
	originalHook := utils.NewSixIDHook
	defer func() { utils.NewSixIDHook = originalHook }() // Restore original hook

	id1 := utils.SixID{1, 2, 3, 4, 5, 1}
	id2 := utils.SixID{1, 2, 3, 4, 5, 2} // Different ID to resolve collision

	idsToReturn := []utils.SixID{id1, id1, id2} // NewSixID() will provide: id1 (dup), id1 (dup), id2 (ok)
	hookCallCount := 0
	utils.NewSixIDHook = func() (utils.SixID, bool) {
		if hookCallCount < len(idsToReturn) {
			id := idsToReturn[hookCallCount]
			hookCallCount++
			return id, true
		}
		return utils.SixID{}, false
	}

	insertedIDs := make(map[utils.SixID]bool)
	// Pre-populate to make the first attempt with id1 a collision
	insertedIDs[id1] = true

	var opCalled int

	operation := func() error {
		opCalled++
		newID := utils.NewSixID() // This will use our hook

		if insertedIDs[newID] {
			return mockPqDuplicateKeyError(newID.String())
		}
		insertedIDs[newID] = true
		return nil
	}

	maxRetries := 3
	err := WithRetries(operation, maxRetries, IsPqDuplicateKeyError)

	if err != nil {
		t.Fatalf("Expected no error as collision should resolve, got: %v", err)
	}

	// Op1 (id1, collision), Op2 (id1, collision), Op3 (id2, success)
	expectedOpCalls := 3
	if opCalled != expectedOpCalls {
		t.Errorf("Expected operation to be called %d times, got %d", expectedOpCalls, opCalled)
	}

	if !insertedIDs[id1] {
		t.Errorf("Expected ID %s to be inserted", id1.String())
	}
	if !insertedIDs[id2] {
		t.Errorf("Expected ID %s to be inserted after retry", id2.String())
	}
	if len(insertedIDs) != 2 {
		t.Errorf("Expected 2 unique IDs to be inserted, got %d", len(insertedIDs))
	}

	expectedHookCalls := 3
	if hookCallCount != expectedHookCalls {
		t.Errorf("Expected NewSixIDHook to be called %d times, got %d", expectedHookCalls, hookCallCount)
	}
}
