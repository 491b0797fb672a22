package bot

import (
	"context"
	"errors"
	"fmt"

	"taskbot/internal/routing"
	"taskbot/internal/storage"
	"taskbot/internal/transport/telegram/router"
	"taskbot/internal/workflow"
	"taskbot/pkg/logx"
)

// describe maps a domain error to the text shown to the user. known is
// false for errors that have no dedicated message.
func describe(err error) (text string, known bool) {
	var de *workflow.DeliveryError
	switch {
	case errors.As(err, &de):
		return fmt.Sprintf("❌ Delivery failed in all %d rooms.", de.Total), true
	case errors.Is(err, workflow.ErrNotSource):
		return "❌ This command works only in source rooms.", true
	case errors.Is(err, workflow.ErrNoLinkedTargets):
		return "❌ This source room has no linked target rooms. Run /link in a target room first.", true
	case errors.Is(err, workflow.ErrAlreadyClaimed):
		return "Someone else already took this task.", true
	case errors.Is(err, workflow.ErrWorkerBusy):
		return "Finish your current task first.", true
	case errors.Is(err, workflow.ErrNoActiveTask):
		return "You have no active task. Take one with the ✅ button first.", true
	case errors.Is(err, workflow.ErrWrongStatus):
		return "This task was already handled.", true
	case errors.Is(err, workflow.ErrNotFound):
		return "This task no longer exists.", true
	case errors.Is(err, routing.ErrDuplicateSource):
		return "This chat is already a source room.", true
	case errors.Is(err, routing.ErrDuplicateTarget):
		return "This room is already a target room.", true
	case errors.Is(err, routing.ErrUnknownSource):
		return "❌ Unknown source id. See /groups for the registered sources.", true
	case errors.Is(err, routing.ErrNotFound):
		return "This room is not registered.", true
	case errors.Is(err, storage.ErrDisabled):
		return "Statistics are disabled.", true
	}
	return "⚠️ Something went wrong, try again.", false
}

// fail reports err to the user as a reply or, for buttons, as an alert.
// Unknown errors are returned so the request log records them.
func fail(ctx context.Context, req *router.Request, err error) error {
	text, known := describe(err)
	if req.Callback != nil {
		_ = req.Answer(ctx, text, true)
	} else {
		_, _ = req.Reply(ctx, text, nil)
	}
	if known {
		req.Logger.Debug("request refused", logx.Err(err))
		return nil
	}
	return err
}
