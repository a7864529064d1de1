package live

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rxoptima/rxoptima/internal/docstore"
	"github.com/rxoptima/rxoptima/internal/format"
	"github.com/rxoptima/rxoptima/internal/inventory"
	"github.com/rxoptima/rxoptima/internal/platform/httpx"
	"github.com/rxoptima/rxoptima/internal/prescriptions"
	"github.com/rxoptima/rxoptima/internal/sales"
	"github.com/rxoptima/rxoptima/internal/shared"
)

// Handler streams live snapshots as server-sent events.
type Handler struct {
	logger    *slog.Logger
	sub       *Subscriber
	formatter *format.Formatter
	now       func() time.Time
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, sub *Subscriber, formatter *format.Formatter) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, sub: sub, formatter: formatter, now: time.Now}
}

// MountRoutes registers the stream route.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/stream/{collection}", h.stream)
}

func (h *Handler) stream(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "collection")
	var err error
	switch name {
	case inventory.CollectionName:
		err = serve(w, r, h.sub.Inventory(), func(item inventory.Item) inventory.ItemView {
			return inventory.View(item, h.now(), h.formatter)
		})
	case sales.CollectionName:
		err = serve(w, r, h.sub.SalesFeed(), func(sale sales.Sale) sales.View {
			return sales.NewView(sale, h.formatter)
		})
	case prescriptions.CollectionName:
		err = serve(w, r, h.sub.PrescriptionsFeed(), prescriptions.NewView)
	default:
		httpx.RespondError(w, &shared.NotFoundError{Kind: "collection", ID: name})
		return
	}
	if err != nil {
		h.logger.Warn("stream closed", slog.String("collection", name), slog.Any("error", err))
	}
}

// serve writes the current snapshot and every later push as one data frame
// of rendered records, coalescing pushes the client has not yet received.
func serve[T, V any](w http.ResponseWriter, r *http.Request, feed *docstore.Feed[[]T], render func(T) V) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpx.Problem(w, http.StatusInternalServerError, "Streaming unsupported", "response writer cannot flush")
		return nil
	}

	updates := make(chan []T, 1)
	cancel := feed.Subscribe(func(v []T) {
		for {
			select {
			case updates <- v:
				return
			default:
			}
			select {
			case <-updates:
			default:
			}
		}
	})
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return nil
		case snapshot := <-updates:
			frame := make([]V, 0, len(snapshot))
			for _, v := range snapshot {
				frame = append(frame, render(v))
			}
			payload, err := json.Marshal(frame)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return err
			}
			flusher.Flush()
		}
	}
}
