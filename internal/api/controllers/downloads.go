package controllers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v5"

	"github.com/hexfall/ipavault/internal/app"
	"github.com/hexfall/ipavault/internal/domain"
)

type DownloadsController struct {
	App *app.Context
}

// Create validates the request, runs the size pre-flight and registers the
// task. The download itself proceeds in the background.
func (ctrl *DownloadsController) Create(c *echo.Context) error {
	var req CreateDownloadRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body"})
	}

	if err := ctrl.App.ValidateURL(req.DownloadURL); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	}

	if maxBytes := ctrl.App.Config.MaxDownloadBytes(); maxBytes > 0 {
		size, err := preflightSize(c.Request().Context(), ctrl.App.HTTPClient, req.DownloadURL)
		if err != nil {
			ctrl.App.Logger.Warn("size pre-flight failed for %s: %v", req.Software.BundleID, err)
			return c.JSON(http.StatusBadGateway, ErrorResponse{Error: "Unable to verify file size"})
		}
		if size > maxBytes {
			return c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{
				Error: fmt.Sprintf("File size %d exceeds the %d MB limit", size, ctrl.App.Config.MaxDownloadMB),
			})
		}
	}

	task, err := ctrl.App.Manager.Create(req.Software, req.AccountHash, req.DownloadURL, req.Sinfs, req.ITunesMetadata)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	}

	return c.JSON(http.StatusCreated, task.View(false))
}

// List returns the tasks owned by the comma-separated accountHashes query.
// No query means no owners means an empty list.
func (ctrl *DownloadsController) List(c *echo.Context) error {
	raw := c.QueryParam("accountHashes")

	var hashes []string
	for _, h := range strings.Split(raw, ",") {
		if h = strings.TrimSpace(h); h != "" {
			hashes = append(hashes, h)
		}
	}

	return c.JSON(http.StatusOK, ctrl.App.Manager.List(hashes))
}

// Get reads one task. The caller proves ownership with its accountHash.
func (ctrl *DownloadsController) Get(c *echo.Context) error {
	view, err := ctrl.App.Manager.Get(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "Task not found"})
	}

	accountHash := c.QueryParam("accountHash")
	if accountHash == "" {
		accountHash = c.Request().Header.Get("X-Account-Hash")
	}
	if accountHash != view.AccountHash {
		return c.JSON(http.StatusForbidden, ErrorResponse{Error: "Forbidden"})
	}

	return c.JSON(http.StatusOK, view)
}

// Progress streams task events as SSE. The first event is the current
// state; each subsequent progress or status notification follows. The
// subscription is dropped when the client goes away or the task is deleted.
func (ctrl *DownloadsController) Progress(c *echo.Context) error {
	id := c.Param("id")

	view, err := ctrl.App.Manager.Get(id)
	if err != nil {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "Task not found"})
	}

	sub, err := ctrl.App.Manager.Subscribe(id)
	if err != nil {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "Task not found"})
	}
	defer ctrl.App.Manager.Unsubscribe(id, sub.Key)

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, view); err != nil {
		return nil
	}

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sub.Done:
			return nil
		case view := <-sub.Events:
			if err := writeEvent(w, view); err != nil {
				return nil
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, view *domain.TaskView) error {
	data, err := json.Marshal(view)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

func (ctrl *DownloadsController) Pause(c *echo.Context) error {
	err := ctrl.App.Manager.Pause(c.Param("id"))
	switch {
	case errors.Is(err, domain.ErrTaskNotFound):
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "Task not found"})
	case errors.Is(err, domain.ErrNotDownloading):
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Task is not downloading"})
	case err != nil:
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	}
	return c.NoContent(http.StatusNoContent)
}

func (ctrl *DownloadsController) Resume(c *echo.Context) error {
	err := ctrl.App.Manager.Resume(c.Param("id"))
	switch {
	case errors.Is(err, domain.ErrTaskNotFound):
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "Task not found"})
	case errors.Is(err, domain.ErrNotPaused):
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Task is not paused"})
	case err != nil:
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	}
	return c.NoContent(http.StatusNoContent)
}

func (ctrl *DownloadsController) Delete(c *echo.Context) error {
	if err := ctrl.App.Manager.Delete(c.Param("id")); err != nil {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "Task not found"})
	}
	return c.NoContent(http.StatusNoContent)
}
