package workflow

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("task not found")
	ErrAlreadyClaimed      = errors.New("task already claimed")
	ErrWrongStatus         = errors.New("task is not in the expected state")
	ErrNoLinkedTargets     = errors.New("no linked target rooms")
	ErrAllDeliveriesFailed = errors.New("all deliveries failed")
	ErrWorkerBusy          = errors.New("worker already holds a claimed task")
	ErrNoActiveTask        = errors.New("no active task")
	ErrNotSource           = errors.New("room is not a source")
)

// DeliveryError carries the fan-out size of a broadcast that reached nobody.
type DeliveryError struct {
	Total int
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%v (0 of %d)", ErrAllDeliveriesFailed, e.Total)
}

func (e *DeliveryError) Unwrap() error { return ErrAllDeliveriesFailed }

// StatusError reports a transition attempted from the wrong status.
type StatusError struct {
	TaskID int64
	Have   Status
	Want   Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("task %d is %s, want %s", e.TaskID, e.Have, e.Want)
}

func (e *StatusError) Unwrap() error { return ErrWrongStatus }
