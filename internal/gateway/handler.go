package gateway

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/scorypto/innovriddhi-location-server/internal/storage"
	"github.com/scorypto/innovriddhi-location-server/internal/track"
	"github.com/scorypto/innovriddhi-location-server/internal/transport"
)

// FeedServer attaches a websocket subscriber to the live stoppage feed.
type FeedServer interface {
	Serve(w http.ResponseWriter, r *http.Request) error
}

// Handler exposes the gateway over HTTP: the primary JSON endpoint, the
// legacy msgpack endpoint kept for the transport migration, and the
// stoppage read API.
type Handler struct {
	gw    *Gateway
	store storage.Store
	feed  FeedServer
}

func NewHandler(gw *Gateway, store storage.Store, feed FeedServer) *Handler {
	return &Handler{
		gw:    gw,
		store: store,
		feed:  feed,
	}
}

// Register mounts all routes on the echo instance.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/healthz", h.health)
	e.POST("/v1/locations", h.ingestPrimary)
	e.POST("/legacy/v1/ingest", h.ingestLegacy)
	e.GET("/v1/stoppages", h.stoppages)
	if h.feed != nil {
		e.GET("/v1/stoppages/feed", h.stoppageFeed)
	}
}

type ingestResponse struct {
	Disposition Disposition `json:"disposition"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// ingestPrimary accepts one JSON sample per request. Duplicate and stale
// samples still return 200 so the device drops them from its queue; only
// malformed samples get the permanent 422.
func (h *Handler) ingestPrimary(c echo.Context) error {
	var s track.LocationSample
	if err := c.Bind(&s); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "malformed sample"})
	}

	return h.respond(c, h.gw.Ingest(c.Request().Context(), &s))
}

// ingestLegacy accepts the legacy broker's msgpack frame. The frame
// payload is the same JSON sample the primary endpoint takes.
func (h *Handler) ingestLegacy(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "reading frame"})
	}

	var frame transport.LegacyFrame
	if err = msgpack.Unmarshal(body, &frame); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "malformed frame"})
	}
	if frame.Version != transport.LegacyFrameVersion {
		return c.JSON(http.StatusBadRequest, errorResponse{
			Error: fmt.Sprintf("unsupported frame version %d", frame.Version),
		})
	}

	var s track.LocationSample
	if err = json.Unmarshal(frame.Payload, &s); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "malformed payload"})
	}

	return h.respond(c, h.gw.Ingest(c.Request().Context(), &s))
}

func (h *Handler) respond(c echo.Context, d Disposition) error {
	if d == DispositionRejected {
		return c.JSON(http.StatusUnprocessableEntity, ingestResponse{Disposition: d})
	}
	return c.JSON(http.StatusOK, ingestResponse{Disposition: d})
}

const maxStoppagePageSize = 500

func (h *Handler) stoppages(c echo.Context) error {
	var params struct {
		Device    string `query:"device"`
		Since     string `query:"since"`
		Finalized bool   `query:"finalized"`
		Limit     int    `query:"limit"`
	}
	if err := c.Bind(&params); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "malformed query"})
	}

	opts := []storage.ReadOption{}
	if params.Device != "" {
		opts = append(opts, storage.WithDevice(params.Device))
	}
	if params.Since != "" {
		since, err := time.Parse(time.RFC3339, params.Since)
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "malformed since timestamp"})
		}
		opts = append(opts, storage.WithSince(since))
	}
	if params.Finalized {
		opts = append(opts, storage.WithFinalizedOnly())
	}
	if params.Limit <= 0 || params.Limit > maxStoppagePageSize {
		params.Limit = maxStoppagePageSize
	}
	opts = append(opts, storage.WithLimit(params.Limit))

	stoppages, err := h.store.Stoppages(c.Request().Context(), opts...)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "reading stoppages"})
	}
	if stoppages == nil {
		stoppages = []*track.Stoppage{}
	}
	return c.JSON(http.StatusOK, stoppages)
}

func (h *Handler) stoppageFeed(c echo.Context) error {
	return h.feed.Serve(c.Response(), c.Request())
}
