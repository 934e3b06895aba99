package control

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/eleven-am/product-lens/internal/camera"
	"github.com/eleven-am/product-lens/internal/detection"
	"github.com/eleven-am/product-lens/internal/dto"
	"github.com/eleven-am/product-lens/internal/journal"
	"github.com/eleven-am/product-lens/internal/session"
	"github.com/eleven-am/product-lens/internal/shared"
	"github.com/labstack/echo/v4"
)

const (
	maxUploadSize = 20 << 20
	defaultLimit  = 20
	maxLimit      = 200
)

type Session interface {
	Status() session.Status
	Predictions() detection.PredictionSet
	EnterMode(ctx context.Context, target session.Mode) error
	ExitStreaming()
	CaptureStill(ctx context.Context) (detection.PredictionSet, error)
	ReviewImage(ctx context.Context, img detection.Image) (detection.PredictionSet, error)
	SaveCurrent(ctx context.Context) (detection.SavedSet, error)
}

type HistoryReader interface {
	Recent(ctx context.Context, sessionID string, limit int) ([]*session.HistoryEntry, error)
}

type JournalReader interface {
	List(ctx context.Context, limit, offset int) ([]*journal.SavedDetection, error)
	Count(ctx context.Context) (int64, error)
}

type Handler struct {
	session Session
	history HistoryReader
	journal JournalReader
	logger  *slog.Logger
}

func NewHandler(sess Session, history HistoryReader, journal JournalReader, logger *slog.Logger) *Handler {
	return &Handler{
		session: sess,
		history: history,
		journal: journal,
		logger:  logger,
	}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/session", h.GetSession)
	g.POST("/session/mode", h.SetMode)
	g.POST("/session/exit-streaming", h.ExitStreaming)
	g.POST("/session/capture", h.Capture)
	g.POST("/session/review", h.Review)
	g.POST("/session/save", h.Save)
	g.GET("/predictions", h.GetPredictions)
	g.GET("/predictions/history", h.GetHistory)
	g.GET("/saved", h.ListSaved)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

func predictionsToResponse(preds []detection.Prediction) []dto.PredictionResponse {
	out := make([]dto.PredictionResponse, len(preds))
	for i, p := range preds {
		out[i] = dto.PredictionResponse{
			Class:      p.Class,
			Confidence: p.Confidence,
			BBox:       p.BBox,
		}
	}
	return out
}

func setToResponse(set detection.PredictionSet) dto.PredictionSetResponse {
	return dto.PredictionSetResponse{
		Sequence:    set.Sequence,
		Predictions: predictionsToResponse(set.Predictions),
		ReceivedAt:  formatTime(set.ReceivedAt),
	}
}

func statusToResponse(st session.Status) dto.SessionStatusResponse {
	resp := dto.SessionStatusResponse{
		Mode:       st.Mode.String(),
		Connection: st.Connection.String(),
		SessionID:  st.SessionID,
		Sequence:   st.Sequence,
		HasImage:   st.HasImage,
		ImageName:  st.ImageName,
	}
	if st.LastError != nil {
		resp.LastError = st.LastError.Error()
	}
	return resp
}

func parseLimit(c echo.Context) int {
	limit := defaultLimit
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= maxLimit {
			limit = n
		}
	}
	return limit
}

// toHTTPError maps domain failures onto API errors. Backend failures are
// reported as 502 so the UI can offer a retry.
func (h *Handler) toHTTPError(op string, err error) error {
	switch {
	case errors.Is(err, detection.ErrSession):
		return shared.Conflict("invalid_transition", err.Error())
	case errors.Is(err, session.ErrSuperseded):
		return shared.Conflict("superseded", err.Error())
	case errors.Is(err, camera.ErrBusy):
		return shared.Conflict("device_busy", "capture device is in use")
	case errors.Is(err, camera.ErrNoFrames):
		return shared.ServiceUnavailable("camera_unavailable", "capture device has no frames")
	case errors.Is(err, detection.ErrNoImage):
		return shared.BadRequest("no_image", "no image to submit")
	case errors.Is(err, detection.ErrNoPredictions):
		return shared.BadRequest("no_predictions", "no predictions to save")
	case errors.Is(err, session.ErrInvalidImage):
		return shared.BadRequest("invalid_image", err.Error())
	case errors.Is(err, detection.ErrConnect):
		return shared.BadGateway("backend_unreachable", err.Error())
	case errors.Is(err, detection.ErrRequest):
		return shared.BadGateway("backend_request_failed", err.Error())
	}

	h.logger.Error("control request failed", "op", op, "error", err)
	return shared.InternalError(op+"_failed", "request failed")
}

// @Summary      Get session status
// @Description  Returns the active mode, stream connection state and current prediction sequence
// @Tags         session
// @Produce      json
// @Success      200  {object}  dto.SessionStatusResponse
// @Router       /session [get]
func (h *Handler) GetSession(c echo.Context) error {
	return c.JSON(http.StatusOK, statusToResponse(h.session.Status()))
}

// @Summary      Change session mode
// @Tags         session
// @Accept       json
// @Produce      json
// @Param        request  body      dto.EnterModeRequest  true  "Target mode"
// @Success      200      {object}  dto.SessionStatusResponse
// @Failure      400      {object}  shared.APIError
// @Failure      409      {object}  shared.APIError
// @Failure      502      {object}  shared.APIError
// @Router       /session/mode [post]
func (h *Handler) SetMode(c echo.Context) error {
	var req dto.EnterModeRequest
	if err := c.Bind(&req); err != nil {
		return shared.BadRequest("invalid_request", "invalid request body")
	}

	mode, err := session.ParseMode(req.Mode)
	if err != nil {
		return shared.BadRequest("invalid_mode", err.Error())
	}

	if err := h.session.EnterMode(c.Request().Context(), mode); err != nil {
		return h.toHTTPError("enter_mode", err)
	}

	return c.JSON(http.StatusOK, statusToResponse(h.session.Status()))
}

// @Summary      Stop live streaming
// @Description  Returns to idle from live streaming; does nothing in any other mode
// @Tags         session
// @Produce      json
// @Success      200  {object}  dto.SessionStatusResponse
// @Router       /session/exit-streaming [post]
func (h *Handler) ExitStreaming(c echo.Context) error {
	h.session.ExitStreaming()
	return c.JSON(http.StatusOK, statusToResponse(h.session.Status()))
}

// @Summary      Capture a still and predict
// @Tags         session
// @Produce      json
// @Success      200  {object}  dto.PredictionSetResponse
// @Failure      409  {object}  shared.APIError
// @Failure      502  {object}  shared.APIError
// @Router       /session/capture [post]
func (h *Handler) Capture(c echo.Context) error {
	set, err := h.session.CaptureStill(c.Request().Context())
	if err != nil {
		return h.toHTTPError("capture", err)
	}
	return c.JSON(http.StatusOK, setToResponse(set))
}

// @Summary      Review a picked image
// @Tags         session
// @Accept       multipart/form-data
// @Produce      json
// @Param        file  formData  file  true  "Image to review"
// @Success      200   {object}  dto.PredictionSetResponse
// @Failure      400   {object}  shared.APIError
// @Failure      409   {object}  shared.APIError
// @Failure      413   {object}  shared.APIError
// @Failure      502   {object}  shared.APIError
// @Router       /session/review [post]
func (h *Handler) Review(c echo.Context) error {
	file, err := c.FormFile("file")
	if err != nil {
		return shared.BadRequest("missing_file", "file is required")
	}

	if file.Size > maxUploadSize {
		return shared.NewAPIError("file_too_large", "file too large (max 20MB)").ToHTTP(http.StatusRequestEntityTooLarge)
	}

	src, err := file.Open()
	if err != nil {
		return shared.InternalError("file_error", "failed to open file")
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return shared.InternalError("file_error", "failed to read file")
	}

	set, err := h.session.ReviewImage(c.Request().Context(), detection.Image{
		Name:        file.Filename,
		ContentType: file.Header.Get("Content-Type"),
		Data:        data,
	})
	if err != nil {
		return h.toHTTPError("review", err)
	}
	return c.JSON(http.StatusOK, setToResponse(set))
}

// @Summary      Save current detections
// @Tags         session
// @Produce      json
// @Success      200  {object}  dto.SaveResponse
// @Failure      400  {object}  shared.APIError
// @Failure      502  {object}  shared.APIError
// @Router       /session/save [post]
func (h *Handler) Save(c echo.Context) error {
	saved, err := h.session.SaveCurrent(c.Request().Context())
	if err != nil {
		return h.toHTTPError("save", err)
	}

	products := saved.Products
	if products == nil {
		products = []json.RawMessage{}
	}
	return c.JSON(http.StatusOK, dto.SaveResponse{
		SavedProducts: products,
		SavedAt:       formatTime(saved.SavedAt),
	})
}

// @Summary      Get current predictions
// @Tags         predictions
// @Produce      json
// @Success      200  {object}  dto.PredictionSetResponse
// @Router       /predictions [get]
func (h *Handler) GetPredictions(c echo.Context) error {
	return c.JSON(http.StatusOK, setToResponse(h.session.Predictions()))
}

// @Summary      Get live prediction history
// @Description  Returns recent prediction sets of the current or last stream session, newest first
// @Tags         predictions
// @Produce      json
// @Param        limit  query     int  false  "Maximum entries (1-200)"
// @Success      200    {object}  dto.HistoryResponse
// @Router       /predictions/history [get]
func (h *Handler) GetHistory(c echo.Context) error {
	sessionID := h.session.Status().SessionID
	resp := dto.HistoryResponse{
		SessionID: sessionID,
		Entries:   []dto.HistoryEntryResponse{},
	}
	if sessionID == "" || h.history == nil {
		return c.JSON(http.StatusOK, resp)
	}

	entries, err := h.history.Recent(c.Request().Context(), sessionID, parseLimit(c))
	if err != nil {
		h.logger.Error("failed to read prediction history", "error", err, "session_id", sessionID)
		return shared.InternalError("history_failed", "failed to read prediction history")
	}

	for _, e := range entries {
		resp.Entries = append(resp.Entries, dto.HistoryEntryResponse{
			Sequence:    e.Sequence,
			Predictions: predictionsToResponse(e.Predictions),
			ReceivedAt:  formatTime(e.ReceivedAt),
		})
	}
	return c.JSON(http.StatusOK, resp)
}

// @Summary      List saved detections
// @Tags         saved
// @Produce      json
// @Param        limit   query     int  false  "Maximum items (1-200)"
// @Param        offset  query     int  false  "Items to skip"
// @Success      200     {object}  dto.SavedListResponse
// @Router       /saved [get]
func (h *Handler) ListSaved(c echo.Context) error {
	ctx := c.Request().Context()
	offset, _ := strconv.Atoi(c.QueryParam("offset"))

	recs, err := h.journal.List(ctx, parseLimit(c), max(offset, 0))
	if err != nil {
		h.logger.Error("failed to list saved detections", "error", err)
		return shared.InternalError("list_failed", "failed to list saved detections")
	}

	total, err := h.journal.Count(ctx)
	if err != nil {
		h.logger.Error("failed to count saved detections", "error", err)
		return shared.InternalError("list_failed", "failed to list saved detections")
	}

	items := make([]dto.SavedDetectionResponse, len(recs))
	for i, r := range recs {
		classes := []string(r.Classes)
		if classes == nil {
			classes = []string{}
		}
		items[i] = dto.SavedDetectionResponse{
			ID:              r.ID,
			SessionID:       r.SessionID,
			Source:          r.Source,
			ImageName:       r.ImageName,
			Classes:         classes,
			PredictionCount: r.PredictionCount,
			ProductCount:    r.ProductCount,
			SavedAt:         formatTime(r.SavedAt),
		}
	}

	return c.JSON(http.StatusOK, dto.SavedListResponse{Items: items, Total: total})
}
