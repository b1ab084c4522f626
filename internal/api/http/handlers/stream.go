package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/helpdesk-labs/ticket-sync/internal/api/dto"
	"github.com/helpdesk-labs/ticket-sync/internal/domain"
	"github.com/helpdesk-labs/ticket-sync/internal/livequery"
	apperrors "github.com/helpdesk-labs/ticket-sync/pkg/util"
)

// stream opens a live subscription and writes each snapshot as an SSE
// "snapshot" event. The subscription outlives the request context, so it is
// bound to the stream writer and closed when the client goes away.
func (h *TicketsHandler) stream(c *fiber.Ctx, actor domain.Actor) error {
	ctx, cancel := context.WithCancel(context.Background())
	sub, err := h.service.Subscribe(ctx, actor)
	if err != nil {
		cancel()
		return err
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set("X-Accel-Buffering", "no")

	logger := h.logger.With(zap.String("subscription_id", sub.ID()), zap.String("actor_id", actor.ID))
	heartbeat := h.heartbeat

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer cancel()
		defer sub.Close()
		if err := pumpSnapshots(w, sub, heartbeat); err != nil {
			logger.Debug("snapshot stream ended", zap.Error(err))
		}
	}))
	return nil
}

// pumpSnapshots writes until the subscription ends or a write fails.
func pumpSnapshots(w *bufio.Writer, sub *livequery.Subscription, heartbeat time.Duration) error {
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case set, ok := <-sub.Snapshots():
			if !ok {
				return writeStreamError(w, sub.Err())
			}
			if err := writeEvent(w, "snapshot", dto.SnapshotFrom(set)); err != nil {
				return err
			}
		case <-ticker.C:
			if _, err := w.WriteString(": ping\n\n"); err != nil {
				return err
			}
			if err := w.Flush(); err != nil {
				return err
			}
		}
	}
}

func writeStreamError(w *bufio.Writer, err error) error {
	if err == nil {
		return nil
	}
	de := apperrors.ToDomainError(err)
	if werr := writeEvent(w, "error", fiber.Map{"type": "error", "code": de.Code, "message": de.Message}); werr != nil {
		return werr
	}
	return err
}

func writeEvent(w *bufio.Writer, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	return w.Flush()
}
