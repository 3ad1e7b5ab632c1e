package routes

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/fr0stylo/platesync/internal/app/domain"
	"github.com/fr0stylo/platesync/internal/app/ports"
	"github.com/fr0stylo/platesync/internal/app/services"
	"github.com/fr0stylo/platesync/internal/ingest"
	"github.com/fr0stylo/platesync/internal/notify"
	"github.com/fr0stylo/platesync/internal/observability"
)

const (
	headerOfficeID = "X-Office-ID"
	headerUserID   = "X-User-ID"
	headerFileName = "X-File-Name"

	heartbeatInterval = 15 * time.Second
)

// ImportRoutes registers the import API.
type ImportRoutes struct {
	svc    *services.ImportService
	events *notify.Broadcaster
}

// NewImportRoutes constructs import routes. events may be nil, which disables live updates.
func NewImportRoutes(svc *services.ImportService, events *notify.Broadcaster) *ImportRoutes {
	return &ImportRoutes{svc: svc, events: events}
}

// RegisterRoutes registers import endpoints.
func (r *ImportRoutes) RegisterRoutes(s *echo.Echo) {
	api := s.Group("/api/imports")

	api.POST("", r.handleCreate)
	api.GET("/template", r.handleTemplate)
	api.GET("/:id", r.handleGet)
	api.POST("/:id/cancel", r.handleCancel)
	api.GET("/:id/report", r.handleReport)
	api.GET("/:id/events", r.handleEvents)
}

type errorResponse struct {
	Error string             `json:"error"`
	Kind  string             `json:"kind,omitempty"`
	Job   *notify.JobPayload `json:"job,omitempty"`
}

func (r *ImportRoutes) handleCreate(c echo.Context) error {
	cmd, err := importCommand(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}
	ctx := observability.WithRequestIdentity(c.Request().Context(), cmd.UserID, cmd.OfficeID)

	src, name, err := uploadSource(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}
	if cmd.FileName == "" {
		cmd.FileName = name
	}

	if async, _ := strconv.ParseBool(c.QueryParam("async")); async {
		spooled, err := spool(src)
		_ = src.Close()
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		}
		job, err := r.svc.StartImport(ctx, spooled, cmd)
		if err != nil {
			return respondError(c, err, job)
		}
		c.Response().Header().Set(echo.HeaderLocation, "/api/imports/"+job.ID)
		return c.JSON(http.StatusAccepted, notify.NewJobPayload(job))
	}

	defer func() {
		_ = src.Close()
	}()
	result, err := r.svc.Import(ctx, src, cmd)
	if err != nil {
		return respondError(c, err, result.Job)
	}
	return c.JSON(http.StatusOK, notify.NewJobPayload(result.Job))
}

func (r *ImportRoutes) handleGet(c echo.Context) error {
	job, err := r.svc.GetJob(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err, domain.ImportJob{})
	}
	return c.JSON(http.StatusOK, notify.NewJobPayload(job))
}

func (r *ImportRoutes) handleCancel(c echo.Context) error {
	id := c.Param("id")
	if err := r.svc.Cancel(c.Request().Context(), id); err != nil {
		return respondError(c, err, domain.ImportJob{})
	}
	return c.JSON(http.StatusAccepted, map[string]string{"id": id, "status": "cancelling"})
}

func (r *ImportRoutes) handleReport(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")
	if _, err := r.svc.GetJob(ctx, id); err != nil {
		return respondError(c, err, domain.ImportJob{})
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, echo.MIMETextPlainCharsetUTF8)
	res.Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("inline; filename=%q", "import-"+id+"-report.txt"))
	res.WriteHeader(http.StatusOK)
	return r.svc.WriteReport(ctx, id, res)
}

func (r *ImportRoutes) handleTemplate(c echo.Context) error {
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="plate_import_template.csv"`)
	return c.Blob(http.StatusOK, "text/csv; charset=UTF-8", []byte(services.ImportTemplate))
}

// handleEvents streams job snapshots as server-sent events until the job ends.
func (r *ImportRoutes) handleEvents(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	var (
		updates <-chan domain.ImportJob
		stop    = func() {}
	)
	if r.events != nil {
		updates, stop = r.events.Subscribe(id)
	}
	defer stop()

	job, err := r.svc.GetJob(ctx, id)
	if err != nil {
		return respondError(c, err, domain.ImportJob{})
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)

	if err := writeJobEvent(res, job); err != nil || job.Status.Terminal() || updates == nil {
		return err
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-heartbeat.C:
			if _, err := io.WriteString(res, ": ping\n\n"); err != nil {
				return nil
			}
			res.Flush()
		case job := <-updates:
			if err := writeJobEvent(res, job); err != nil {
				return nil
			}
			if job.Status.Terminal() {
				return nil
			}
		}
	}
}

func writeJobEvent(res *echo.Response, job domain.ImportJob) error {
	data, err := json.Marshal(notify.NewJobPayload(job))
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(res, "event: job\nid: %d\ndata: %s\n\n", job.ProcessedRows, data); err != nil {
		return err
	}
	res.Flush()
	return nil
}

func importCommand(c echo.Context) (services.ImportCommand, error) {
	var cmd services.ImportCommand

	office := strings.TrimSpace(c.Request().Header.Get(headerOfficeID))
	if office == "" {
		office = strings.TrimSpace(c.QueryParam("office"))
	}
	if office != "" {
		id, err := strconv.ParseInt(office, 10, 64)
		if err != nil || id < 0 {
			return cmd, fmt.Errorf("invalid office id %q", office)
		}
		cmd.OfficeID = id
	}

	switch mode := strings.ToLower(strings.TrimSpace(c.QueryParam("mode"))); mode {
	case "", "stream", "streaming":
		cmd.Mode = domain.ModeStreaming
	case "bounded":
		cmd.Mode = domain.ModeBounded
	default:
		return cmd, fmt.Errorf("invalid mode %q", mode)
	}

	cmd.UserID = c.Request().Header.Get(headerUserID)
	cmd.Status = c.QueryParam("status")
	cmd.FileName = strings.TrimSpace(c.QueryParam("filename"))
	if cmd.FileName == "" {
		cmd.FileName = strings.TrimSpace(c.Request().Header.Get(headerFileName))
	}
	return cmd, nil
}

// uploadSource returns the "file" part of a multipart upload, or the raw body.
func uploadSource(c echo.Context) (io.ReadCloser, string, error) {
	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		header, err := c.FormFile("file")
		if err != nil {
			return nil, "", fmt.Errorf("missing file part: %w", err)
		}
		file, err := header.Open()
		if err != nil {
			return nil, "", fmt.Errorf("open file part: %w", err)
		}
		return file, header.Filename, nil
	}
	return c.Request().Body, "", nil
}

// spool copies src to a temporary file so a background run can outlive the request.
func spool(src io.Reader) (io.ReadCloser, error) {
	file, err := os.CreateTemp("", "platesync-import-*.csv")
	if err != nil {
		return nil, fmt.Errorf("spool upload: %w", err)
	}
	if _, err := io.Copy(file, src); err != nil {
		_ = file.Close()
		_ = os.Remove(file.Name())
		return nil, fmt.Errorf("spool upload: %w", err)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		_ = file.Close()
		_ = os.Remove(file.Name())
		return nil, fmt.Errorf("spool upload: %w", err)
	}
	return &spooledFile{File: file}, nil
}

type spooledFile struct {
	*os.File
}

func (f *spooledFile) Close() error {
	err := f.File.Close()
	if removeErr := os.Remove(f.Name()); removeErr != nil && err == nil {
		err = removeErr
	}
	return err
}

func respondError(c echo.Context, err error, job domain.ImportJob) error {
	body := errorResponse{Error: err.Error()}
	if job.ID != "" {
		payload := notify.NewJobPayload(job)
		body.Job = &payload
	}

	switch {
	case errors.Is(err, services.ErrJobNotRunning):
		body.Kind = "not_running"
		return c.JSON(http.StatusConflict, body)
	case errors.Is(err, services.ErrShuttingDown):
		body.Kind = "shutting_down"
		return c.JSON(http.StatusServiceUnavailable, body)
	case errors.Is(err, ports.ErrJobNotFound):
		body.Kind = string(ingest.ErrorNotFound)
		return c.JSON(http.StatusNotFound, body)
	}

	kind := ingest.ClassifyError(err)
	body.Kind = string(kind)
	switch kind {
	case ingest.ErrorBadInput:
		if errors.Is(err, ingest.ErrInputTooLarge) {
			return c.JSON(http.StatusRequestEntityTooLarge, body)
		}
		return c.JSON(http.StatusBadRequest, body)
	case ingest.ErrorCancelled, ingest.ErrorTransition:
		return c.JSON(http.StatusConflict, body)
	case ingest.ErrorStore:
		return c.JSON(http.StatusServiceUnavailable, body)
	default:
		slog.ErrorContext(c.Request().Context(), "import_request_failed", "error", err)
		return c.JSON(http.StatusInternalServerError, body)
	}
}
