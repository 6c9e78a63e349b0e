package server

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"runtime"
	"strconv"

	"cbs-motion-planner/internal/geo"
	"cbs-motion-planner/internal/logging"
	"cbs-motion-planner/internal/planner"
	"cbs-motion-planner/internal/precompute"
)

// Error codes carried in the "error" field of failed responses.
const (
	CodeInvalidEndpoint     = "invalid_endpoint"
	CodeInvalidRequest      = "invalid_request"
	CodeNoPath              = "no_path"
	CodeExhausted           = "conflict_resolution_exhausted"
	CodeObstacleData        = "obstacle_data_unavailable"
	CodeTimeout             = "timeout"
	CodeInternal            = "internal"
	CodeCacheNotBuilt       = "cache_not_built"
	CodeCacheAlreadyPresent = "cache_already_present"
	CodeBuildInProgress     = "build_in_progress"
)

// RouteRequest asks for one path, either between two buildings or between
// two explicit points.
type RouteRequest struct {
	OriginID      string       `json:"originId,omitempty"`
	DestinationID string       `json:"destinationId,omitempty"`
	Start         *geo.Point3D `json:"start,omitempty"`
	End           *geo.Point3D `json:"end,omitempty"`
	MaxAltitude   float64      `json:"maxAltitude,omitempty"`
}

// RouteResponse answers /route.
type RouteResponse struct {
	Success        bool          `json:"success"`
	Path           *planner.Path `json:"path,omitempty"`
	Cached         bool          `json:"cached,omitempty"`
	DistanceMeters float64       `json:"distanceMeters,omitempty"`
	Error          string        `json:"error,omitempty"`
	AgentID        string        `json:"agentId,omitempty"`
	Message        string        `json:"message,omitempty"`
}

// CBSRequest asks for conflict-free paths for several agents.
type CBSRequest struct {
	Agents []planner.AgentRequest `json:"agents"`
}

// CBSResponse answers /cbs.
type CBSResponse struct {
	Success bool                    `json:"success"`
	Paths   map[string]planner.Path `json:"paths,omitempty"`
	Error   string                  `json:"error,omitempty"`
	AgentID string                  `json:"agentId,omitempty"`
	Message string                  `json:"message,omitempty"`
}

// POST /route
func (s *Server) routeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req RouteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, RouteResponse{Error: CodeInvalidRequest, Message: "invalid request body"})
		return
	}

	ctx, cancel := s.planContext(r.Context())
	defer cancel()

	var (
		path planner.Path
		err  error
	)
	switch {
	case req.OriginID != "" && req.DestinationID != "":
		if entry, ok := s.Cache().Lookup(req.OriginID, req.DestinationID); ok {
			s.logger.Debug(ctx, "route served from cache",
				logging.String("origin", req.OriginID),
				logging.String("destination", req.DestinationID),
				logging.String("status", string(entry.Status)))
			if entry.Status != precompute.StatusOK {
				writeJSON(w, http.StatusOK, RouteResponse{Cached: true, Error: CodeNoPath, Message: entry.Error})
				return
			}
			writeJSON(w, http.StatusOK, routeSuccess(*entry.Path, true))
			return
		}
		path, err = s.planner.PlanBetween(ctx, req.OriginID, req.DestinationID)

	case req.Start != nil && req.End != nil:
		maxAlt := req.MaxAltitude
		if maxAlt == 0 {
			maxAlt = s.planner.Config().MaxAltitude
		}
		obstacles, loadErr := s.planner.LoadObstacles(ctx)
		if loadErr != nil {
			err = loadErr
			break
		}
		path, err = s.planner.PlanSingleAgentPath(ctx, *req.Start, *req.End, obstacles, maxAlt)

	default:
		writeJSON(w, http.StatusBadRequest, RouteResponse{
			Error:   CodeInvalidRequest,
			Message: "give originId and destinationId, or start and end",
		})
		return
	}

	if err != nil {
		status, code := classify(err)
		s.logFailure(ctx, "route request failed", status, err)
		writeJSON(w, status, RouteResponse{Error: code, AgentID: agentOf(err), Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, routeSuccess(path, false))
}

func routeSuccess(path planner.Path, cached bool) RouteResponse {
	var dist float64
	for i := 1; i < len(path.Waypoints); i++ {
		dist += geo.Distance3D(path.Waypoints[i-1].Point(), path.Waypoints[i].Point())
	}
	return RouteResponse{Success: true, Path: &path, Cached: cached, DistanceMeters: dist}
}

// POST /cbs
func (s *Server) cbsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req CBSRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, CBSResponse{Error: CodeInvalidRequest, Message: "invalid request body"})
		return
	}

	ctx, cancel := s.planContext(r.Context())
	defer cancel()

	paths, err := s.planner.PlanMultiAgentPaths(ctx, req.Agents)
	if err != nil {
		status, code := classify(err)
		s.logFailure(ctx, "cbs request failed", status, err)
		writeJSON(w, status, CBSResponse{Error: code, AgentID: agentOf(err), Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, CBSResponse{Success: true, Paths: paths})
}

// GET /paths
func (s *Server) pathsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	cache := s.Cache()
	if cache == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"success": false,
			"error":   CodeCacheNotBuilt,
			"message": "path cache not built. Call POST /precompute first",
		})
		return
	}
	tolerance := 0.0
	if raw := r.URL.Query().Get("simplify"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"success": false,
				"error":   CodeInvalidRequest,
				"message": "simplify must be a non-negative tolerance in meters",
			})
			return
		}
		tolerance = v
	}
	w.Header().Set("Content-Type", "application/geo+json")
	_ = json.NewEncoder(w).Encode(cache.SimplifiedFeatureCollection(tolerance))
}

// POST /precompute plans every building pair and swaps the cache in.
func (s *Server) precomputeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Force      bool `json:"force,omitempty"`
		SaveToFile bool `json:"saveToFile,omitempty"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": CodeInvalidRequest, "message": "invalid request body"})
			return
		}
	}
	if s.registry == nil || s.registry.Len() < 2 {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   CodeInvalidEndpoint,
			"message": "at least two registered buildings are required",
		})
		return
	}
	if !s.building.CompareAndSwap(false, true) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"success": false,
			"error":   CodeBuildInProgress,
			"message": "A path cache build is already running.",
		})
		return
	}
	defer s.building.Store(false)

	if s.Cache() != nil && !req.Force {
		writeJSON(w, http.StatusConflict, map[string]any{
			"success": false,
			"error":   CodeCacheAlreadyPresent,
			"message": "Path cache is already built. Set 'force: true' to rebuild.",
		})
		return
	}

	ctx, cancel := s.planContext(r.Context())
	defer cancel()

	cache, err := s.buildCache(ctx)
	if err != nil {
		status, code := classify(err)
		s.logFailure(ctx, "precompute failed", status, err)
		writeJSON(w, status, map[string]any{"success": false, "error": code, "message": err.Error()})
		return
	}
	s.SetCache(cache)

	saved := false
	if req.SaveToFile && s.opts.CacheFile != "" {
		if err := cache.Save(s.opts.CacheFile); err != nil {
			s.logger.Warn(ctx, "failed to save path cache", logging.Err(err))
		} else {
			saved = true
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"entries":     cache.Len(),
		"buildings":   s.registry.Len(),
		"savedToFile": saved,
	})
}

func (s *Server) buildCache(ctx context.Context) (*precompute.Cache, error) {
	obstacles, err := s.planner.LoadObstacles(ctx)
	if err != nil {
		return nil, err
	}
	workers := s.opts.Workers
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	return precompute.Build(ctx, s.planner, s.registry.Buildings(), obstacles, precompute.Options{
		Workers: workers,
		Logger:  s.logger,
	})
}

// GET /health
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	cache := s.Cache()
	buildings := 0
	if s.registry != nil {
		buildings = s.registry.Len()
	}
	status := "ready"
	if cache == nil {
		status = "ready, no path cache"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      status,
		"hasCache":    cache != nil,
		"cachedPaths": cache.Len(),
		"buildings":   buildings,
	})
}

// classify maps planner errors to an HTTP status and an error code. Planning
// outcomes that are answers rather than faults stay 200 with success false.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, planner.ErrObstacleDataUnavailable):
		return http.StatusServiceUnavailable, CodeObstacleData
	case errors.Is(err, planner.ErrInvalidEndpoint):
		return http.StatusBadRequest, CodeInvalidEndpoint
	case errors.Is(err, planner.ErrInvalidRequest):
		return http.StatusBadRequest, CodeInvalidRequest
	case errors.Is(err, planner.ErrNoPathFound):
		return http.StatusOK, CodeNoPath
	case errors.Is(err, planner.ErrConflictResolutionExhausted):
		return http.StatusOK, CodeExhausted
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout, CodeTimeout
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

func agentOf(err error) string {
	var agentErr *planner.AgentError
	if errors.As(err, &agentErr) {
		return agentErr.AgentID
	}
	return ""
}

func (s *Server) logFailure(ctx context.Context, msg string, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error(ctx, msg, logging.Int("status", status), logging.Err(err))
		return
	}
	s.logger.Info(ctx, msg, logging.Int("status", status), logging.Err(err))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
