// Package inspect serves a read-only HTTP view of the script runtime:
// registered classes, live instances, reload state and diagnostics. The
// only write is queueing a reload.
package inspect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/nfrund/scriptrt/internal/pubsub"
	"github.com/nfrund/scriptrt/internal/registry"
	"github.com/nfrund/scriptrt/internal/script"
)

// ErrorResponse is the standard format for API error responses.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ClassesResponse lists the classes of the active snapshot
type ClassesResponse struct {
	Generation uint64   `json:"generation"`
	Source     string   `json:"source"`
	Classes    []string `json:"classes"`
}

// InstanceSummary is one entry of GET /instances
type InstanceSummary struct {
	ID          script.ObjectID `json:"id"`
	Class       string          `json:"class"`
	OwnerClass  string          `json:"owner_class"`
	Generation  uint64          `json:"generation"`
	Placeholder bool            `json:"placeholder"`
}

// InstanceResponse is the detail view of an instance
type InstanceResponse struct {
	InstanceSummary
	Properties map[string]any `json:"properties"`
	Methods    []string       `json:"methods"`
	Display    string         `json:"display"`
}

// ReloadResponse reports the coordinator state and its last report
type ReloadResponse struct {
	State      script.ReloadState   `json:"state"`
	LastReport *script.ReloadReport `json:"last_report,omitempty"`
}

// Server is the inspector HTTP server. Services are resolved from the
// registry on every request, so it can be started before the runtime.
type Server struct {
	E   *echo.Echo
	reg *registry.Registry
}

// New builds the inspector routes over the services in reg
func New(reg *registry.Registry) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = httpErrorHandler

	e.Use(middleware.RequestID())
	e.Use(middleware.Recover())
	e.Use(requestLogger)

	s := &Server{E: e, reg: reg}
	e.GET("/classes", s.listClasses)
	e.GET("/classes/:name", s.getClass)
	e.GET("/instances", s.listInstances)
	e.GET("/instances/:id", s.getInstance)
	e.GET("/reload", s.reloadStatus)
	e.POST("/reload", s.requestReload)
	e.GET("/topics", s.listTopics)
	e.GET("/errors", s.errorSummary)
	return s
}

// Start listens on addr until Shutdown
func (s *Server) Start(addr string) error {
	slog.Info("Starting script inspector", "addr", addr)
	if err := s.E.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	return s.E.Shutdown(ctx)
}

func unavailable() error {
	return fmt.Errorf("script metadata: %w", registry.ErrUnavailable)
}

func (s *Server) listClasses(c echo.Context) error {
	metadata, err := registry.Require(s.reg, registry.MetadataKey)
	if err != nil {
		return err
	}
	snap := metadata.Current()
	if snap == nil {
		return unavailable()
	}
	return c.JSON(http.StatusOK, ClassesResponse{
		Generation: snap.Generation,
		Source:     snap.Source,
		Classes:    snap.ListClasses(),
	})
}

func (s *Server) getClass(c echo.Context) error {
	metadata, err := registry.Require(s.reg, registry.MetadataKey)
	if err != nil {
		return err
	}
	snap := metadata.Current()
	if snap == nil {
		return unavailable()
	}
	doc, err := snap.Documentation(c.Param("name"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, doc)
}

func summarize(inst *script.Instance) (InstanceSummary, *script.ClassDescriptor, error) {
	desc, err := inst.Descriptor()
	if err != nil {
		return InstanceSummary{}, nil, err
	}
	placeholder, err := inst.IsPlaceholder()
	if err != nil {
		return InstanceSummary{}, nil, err
	}
	return InstanceSummary{
		ID:          inst.ID(),
		Class:       desc.Name,
		OwnerClass:  inst.Owner().Class,
		Generation:  desc.Generation,
		Placeholder: placeholder,
	}, desc, nil
}

func (s *Server) listInstances(c echo.Context) error {
	instances, err := registry.Require(s.reg, registry.InstancesKey)
	if err != nil {
		return err
	}

	out := make([]InstanceSummary, 0, instances.Len())
	for _, id := range instances.IDs() {
		inst, err := instances.Get(id)
		if err != nil {
			continue
		}
		summary, _, err := summarize(inst)
		if err != nil {
			// Destroyed between listing and reading.
			continue
		}
		out = append(out, summary)
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) getInstance(c echo.Context) error {
	dispatcher, err := registry.Require(s.reg, registry.DispatcherKey)
	if err != nil {
		return err
	}
	raw, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "instance id must be an unsigned integer")
	}
	id := script.ObjectID(raw)

	inst, err := dispatcher.Instances().Get(id)
	if err != nil {
		return err
	}
	summary, desc, err := summarize(inst)
	if err != nil {
		return err
	}
	state, err := dispatcher.PropertyState(id)
	if err != nil {
		return err
	}
	display, err := dispatcher.InstanceString(id)
	if err != nil {
		return err
	}

	props := make(map[string]any, len(state))
	for name, v := range state {
		t, _ := desc.PropertyType(name)
		props[name] = script.ToNative(v, t)
	}
	methods := make([]string, 0, len(desc.Methods))
	if !summary.Placeholder {
		for _, m := range desc.Methods {
			methods = append(methods, m.Name)
		}
	}

	return c.JSON(http.StatusOK, InstanceResponse{
		InstanceSummary: summary,
		Properties:      props,
		Methods:         methods,
		Display:         display,
	})
}

func (s *Server) reloadStatus(c echo.Context) error {
	coordinator, err := registry.Require(s.reg, registry.CoordinatorKey)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ReloadResponse{
		State:      coordinator.State(),
		LastReport: coordinator.LastReport(),
	})
}

func (s *Server) requestReload(c echo.Context) error {
	pub, err := registry.Require(s.reg, registry.PublisherKey)
	if err != nil {
		return err
	}
	req := pubsub.ReloadRequest{Reason: "inspector"}
	if cfg := s.reg.Config(); cfg != nil {
		req.Ref = cfg.ScriptRoot
	}
	if err := pubsub.Publish(c.Request().Context(), pub, pubsub.ReloadRequested, "inspector", req); err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, req)
}

func (s *Server) listTopics(c echo.Context) error {
	return c.JSON(http.StatusOK, pubsub.Topics())
}

func (s *Server) errorSummary(c echo.Context) error {
	reporter, err := registry.Require(s.reg, registry.ErrorReporterKey)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, reporter.GetErrorSummary())
}
