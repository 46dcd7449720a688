package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/geojson"

	"github.com/strata-gis/strata/internal/application"
	"github.com/strata-gis/strata/internal/domain"
	"github.com/strata-gis/strata/internal/ports/input"
)

const maxRequestBody = 32 << 20 // 32 MiB, bounds tile payloads and manifests

// errorResponse is the JSON error envelope.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// envelopeDTO serializes a bounding envelope.
type envelopeDTO struct {
	MinX float64 `json:"min_x"`
	MinY float64 `json:"min_y"`
	MaxX float64 `json:"max_x"`
	MaxY float64 `json:"max_y"`
}

func toEnvelopeDTO(e domain.Envelope) envelopeDTO {
	return envelopeDTO{MinX: e.MinX, MinY: e.MinY, MaxX: e.MaxX, MaxY: e.MaxY}
}

func (d envelopeDTO) envelope() domain.Envelope {
	return domain.Envelope{MinX: d.MinX, MinY: d.MinY, MaxX: d.MaxX, MaxY: d.MaxY}
}

// layerDTO serializes a layer.
type layerDTO struct {
	ID             string       `json:"id"`
	Kind           string       `json:"kind"`
	CRS            string       `json:"crs"`
	SchemaVersion  int64        `json:"schema_version"`
	Envelope       *envelopeDTO `json:"envelope,omitempty"`
	Footprint      *envelopeDTO `json:"footprint,omitempty"`
	IngestComplete bool         `json:"ingest_complete"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

func toLayerDTO(l domain.Layer) layerDTO {
	dto := layerDTO{
		ID:             l.ID,
		Kind:           string(l.Kind),
		CRS:            l.CRS,
		SchemaVersion:  l.SchemaVersion,
		IngestComplete: l.IngestComplete,
		CreatedAt:      l.CreatedAt,
		UpdatedAt:      l.UpdatedAt,
	}
	if !l.Envelope.IsZero() {
		env := toEnvelopeDTO(l.Envelope)
		dto.Envelope = &env
	}
	if !l.Footprint.IsZero() {
		fp := toEnvelopeDTO(l.Footprint)
		dto.Footprint = &fp
	}
	return dto
}

// registerLayerRequest is the body of POST /layers.
type registerLayerRequest struct {
	ID        string       `json:"id"`
	Kind      string       `json:"kind"`
	CRS       string       `json:"crs"`
	Footprint *envelopeDTO `json:"footprint,omitempty"`
}

// featureRequest is the body of POST /layers/{layerId}/features. Geometry
// is GeoJSON.
type featureRequest struct {
	ID         string                 `json:"id,omitempty"`
	Geometry   json.RawMessage        `json:"geometry"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// featureDTO serializes a feature, geometry decoded back to GeoJSON.
type featureDTO struct {
	ID         string                 `json:"id"`
	LayerID    string                 `json:"layer_id"`
	Geometry   json.RawMessage        `json:"geometry,omitempty"`
	Envelope   envelopeDTO            `json:"envelope"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

func toFeatureDTO(f domain.Feature) featureDTO {
	dto := featureDTO{
		ID:         f.ID,
		LayerID:    f.LayerID,
		Envelope:   toEnvelopeDTO(f.Envelope),
		Attributes: f.Attributes,
	}
	if geom, err := wkb.Unmarshal(f.Geometry); err == nil {
		if raw, err := geojson.NewGeometry(geom).MarshalJSON(); err == nil {
			dto.Geometry = raw
		}
	}
	return dto
}

// tileDTO serializes tile metadata. Payloads travel through the raw tile
// endpoint, not through JSON.
type tileDTO struct {
	LayerID   string    `json:"layer_id"`
	Zoom      int       `json:"zoom"`
	Col       int       `json:"col"`
	Row       int       `json:"row"`
	Size      int64     `json:"size"`
	Checksum  string    `json:"checksum"`
	WrittenAt time.Time `json:"written_at"`
}

func toTileDTO(t domain.Tile) tileDTO {
	return tileDTO{
		LayerID:   t.Key.LayerID,
		Zoom:      t.Key.Zoom,
		Col:       t.Key.Col,
		Row:       t.Key.Row,
		Size:      t.Size,
		Checksum:  fmt.Sprintf("%016x", t.Checksum),
		WrittenAt: t.WrittenAt,
	}
}

// migrationRecordDTO serializes one migration record.
type migrationRecordDTO struct {
	Version    int64     `json:"version"`
	Name       string    `json:"name"`
	AppliedAt  time.Time `json:"applied_at"`
	HasReverse bool      `json:"has_reverse"`
}

// handleHealth returns the detailed health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	details := s.health.GetHealthDetails(r.Context())

	status := http.StatusOK
	if !details.Healthy {
		status = http.StatusServiceUnavailable
	}

	s.writeJSON(w, status, map[string]interface{}{
		"healthy":            details.Healthy,
		"ready":              details.Ready,
		"layers":             details.Layers,
		"schema_version":     details.SchemaVersion,
		"migration_applying": details.MigrationApplying,
		"components":         details.Components,
	})
}

// handleLiveness is the Kubernetes liveness probe.
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if !s.health.IsHealthy(r.Context()) {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadiness is the Kubernetes readiness probe.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if !s.health.IsReady(r.Context()) {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleListLayers returns all registered layers.
func (s *Server) handleListLayers(w http.ResponseWriter, r *http.Request) {
	layers, err := s.catalog.ListLayers(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	dtos := make([]layerDTO, 0, len(layers))
	for _, l := range layers {
		dtos = append(dtos, toLayerDTO(l))
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"layers": dtos,
		"count":  len(dtos),
	})
}

// handleRegisterLayer registers a new layer.
func (s *Server) handleRegisterLayer(w http.ResponseWriter, r *http.Request) {
	var req registerLayerRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	layer := domain.Layer{
		ID:   req.ID,
		Kind: domain.LayerKind(req.Kind),
		CRS:  req.CRS,
	}
	if req.Footprint != nil {
		layer.Footprint = req.Footprint.envelope()
	}

	created, err := s.catalog.RegisterLayer(r.Context(), layer)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, toLayerDTO(created))
}

// handleGetLayer returns one layer by identifier.
func (s *Server) handleGetLayer(w http.ResponseWriter, r *http.Request) {
	layerID := mux.Vars(r)["layerId"]

	layer, err := s.catalog.GetLayer(r.Context(), layerID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toLayerDTO(layer))
}

// handleDropLayer removes a layer with all its content.
func (s *Server) handleDropLayer(w http.ResponseWriter, r *http.Request) {
	layerID := mux.Vars(r)["layerId"]

	if err := s.catalog.DropLayer(r.Context(), layerID); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleQueryRegion answers a spatial query against one layer. Vector
// layers return features, raster layers return tile metadata.
func (s *Server) handleQueryRegion(w http.ResponseWriter, r *http.Request) {
	layerID := mux.Vars(r)["layerId"]

	region, err := parseRegion(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	zoom := 0
	if raw := r.URL.Query().Get("zoom"); raw != "" {
		zoom, err = strconv.Atoi(raw)
		if err != nil || zoom < 0 {
			s.writeError(w, http.StatusBadRequest, "invalid_request", "zoom must be a non-negative integer")
			return
		}
	}

	result, err := s.catalog.QueryRegion(r.Context(), input.RegionQuery{
		LayerID: layerID,
		Region:  region,
		Zoom:    zoom,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	resp := map[string]interface{}{
		"layer": result.Layer.ID,
		"kind":  result.Layer.Kind,
	}
	if result.Layer.IsRaster() {
		tiles, err := drainTiles(r, result)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		resp["tiles"] = tiles
		resp["count"] = len(tiles)
	} else {
		features := make([]featureDTO, 0, len(result.Features))
		for _, f := range result.Features {
			features = append(features, toFeatureDTO(f))
		}
		resp["features"] = features
		resp["count"] = len(features)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// drainTiles walks the tile cursor to the end.
func drainTiles(r *http.Request, result input.RegionResult) ([]tileDTO, error) {
	tiles := make([]tileDTO, 0, result.Tiles.Len())
	for {
		tile, ok, err := result.Tiles.Next(r.Context())
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		tiles = append(tiles, toTileDTO(tile))
	}
	return tiles, nil
}

// handleIngestFeature writes one vector feature.
func (s *Server) handleIngestFeature(w http.ResponseWriter, r *http.Request) {
	layerID := mux.Vars(r)["layerId"]

	var req featureRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if len(req.Geometry) == 0 {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "geometry is required")
		return
	}

	geometry, err := geojson.UnmarshalGeometry(req.Geometry)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "geometry is not valid GeoJSON: "+err.Error())
		return
	}
	geom := geometry.Geometry()
	encoded, err := wkb.Marshal(geom)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "geometry cannot be encoded: "+err.Error())
		return
	}

	feature := domain.Feature{
		ID:         req.ID,
		LayerID:    layerID,
		Geometry:   encoded,
		Envelope:   domain.EnvelopeOfGeometry(geom),
		Attributes: req.Attributes,
	}

	created, err := s.catalog.IngestFeature(r.Context(), layerID, feature)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, toFeatureDTO(created))
}

// handleReadTile returns one tile payload as raw bytes.
func (s *Server) handleReadTile(w http.ResponseWriter, r *http.Request) {
	key, err := tileKeyFromVars(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	tile, err := s.catalog.ReadTile(r.Context(), key)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(tile.Size, 10))
	w.Header().Set("X-Tile-Checksum", fmt.Sprintf("%016x", tile.Checksum))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(tile.Payload)
}

// handleWriteTile stores one tile payload from the raw request body.
func (s *Server) handleWriteTile(w http.ResponseWriter, r *http.Request) {
	key, err := tileKeyFromVars(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "reading payload: "+err.Error())
		return
	}
	if len(payload) == 0 {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "tile payload is required")
		return
	}

	tile, err := s.catalog.IngestTile(r.Context(), key, payload)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, toTileDTO(tile))
}

// handleFinishIngest verifies coverage and marks a layer ingest-complete.
func (s *Server) handleFinishIngest(w http.ResponseWriter, r *http.Request) {
	layerID := mux.Vars(r)["layerId"]
	synthesize := r.URL.Query().Get("synthesize") == "true"

	if err := s.catalog.FinishIngest(r.Context(), layerID, synthesize); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"layer":           layerID,
		"ingest_complete": true,
	})
}

// handleMigrationRecords lists the applied migrations and the current
// schema version.
func (s *Server) handleMigrationRecords(w http.ResponseWriter, r *http.Request) {
	version, err := s.catalog.SchemaVersion(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	records, err := s.catalog.MigrationRecords(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	dtos := make([]migrationRecordDTO, 0, len(records))
	for _, rec := range records {
		dtos = append(dtos, migrationRecordDTO{
			Version:    rec.Version,
			Name:       rec.Name,
			AppliedAt:  rec.AppliedAt,
			HasReverse: rec.HasReverse,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"current_version": version,
		"records":         dtos,
	})
}

// migrationRequest is the body of the migration apply/revert endpoints.
type migrationRequest struct {
	Version *int64 `json:"version"`
}

// handleMigrateTo advances the schema, to the requested version or to the
// latest when none is given.
func (s *Server) handleMigrateTo(w http.ResponseWriter, r *http.Request) {
	var req migrationRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	var err error
	if req.Version != nil {
		err = s.catalog.MigrateTo(r.Context(), *req.Version)
	} else {
		err = s.catalog.MigrateUp(r.Context())
	}
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	version, err := s.catalog.SchemaVersion(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"current_version": version})
}

// handleRevertTo walks the schema back to the requested version.
func (s *Server) handleRevertTo(w http.ResponseWriter, r *http.Request) {
	var req migrationRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.Version == nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "version is required")
		return
	}

	if err := s.catalog.RevertTo(r.Context(), *req.Version); err != nil {
		s.writeServiceError(w, err)
		return
	}

	version, err := s.catalog.SchemaVersion(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"current_version": version})
}

// handleSync triggers a manual ingest pass.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	result, err := s.ingest.TriggerSync(r.Context())
	if err != nil {
		if errors.Is(err, application.ErrRateLimited) {
			w.Header().Set("Retry-After", "30")
			s.writeError(w, http.StatusTooManyRequests, "rate_limited",
				"sync can be triggered at most twice per minute")
			return
		}
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// writeServiceError maps domain errors to HTTP status codes.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	var verr *domain.ValidationError

	switch {
	case errors.As(err, &verr):
		s.writeError(w, http.StatusBadRequest, "validation_error", verr.Error())
	case errors.Is(err, domain.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrConflict):
		s.writeError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, domain.ErrInvalidInput):
		s.writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, domain.ErrUnsupported):
		s.writeError(w, http.StatusUnprocessableEntity, "unsupported", err.Error())
	case errors.Is(err, domain.ErrMigrationInProgress):
		w.Header().Set("Retry-After", "5")
		s.writeError(w, http.StatusServiceUnavailable, "migration_in_progress", err.Error())
	case errors.Is(err, domain.ErrUnavailable):
		s.writeError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
	default:
		s.logger.Error("internal error", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal_error", "an internal error occurred")
	}
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, errCode, message string) {
	s.writeJSON(w, status, errorResponse{Error: errCode, Message: message})
}

// decodeJSON decodes a JSON request body.
func decodeJSON(r *http.Request, v interface{}) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(v)
}

// parseRegion reads the min_x/min_y/max_x/max_y query parameters.
func parseRegion(r *http.Request) (domain.Envelope, error) {
	q := r.URL.Query()
	coords := make(map[string]float64, 4)
	for _, name := range []string{"min_x", "min_y", "max_x", "max_y"} {
		raw := q.Get(name)
		if raw == "" {
			return domain.Envelope{}, fmt.Errorf("query parameter %s is required", name)
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return domain.Envelope{}, fmt.Errorf("query parameter %s is not a number", name)
		}
		coords[name] = v
	}
	return domain.Envelope{
		MinX: coords["min_x"],
		MinY: coords["min_y"],
		MaxX: coords["max_x"],
		MaxY: coords["max_y"],
	}, nil
}

// tileKeyFromVars builds a tile key from the route variables.
func tileKeyFromVars(r *http.Request) (domain.TileKey, error) {
	vars := mux.Vars(r)

	zoom, err := strconv.Atoi(vars["zoom"])
	if err != nil {
		return domain.TileKey{}, fmt.Errorf("zoom is not an integer")
	}
	col, err := strconv.Atoi(vars["col"])
	if err != nil {
		return domain.TileKey{}, fmt.Errorf("col is not an integer")
	}
	row, err := strconv.Atoi(vars["row"])
	if err != nil {
		return domain.TileKey{}, fmt.Errorf("row is not an integer")
	}

	return domain.TileKey{
		LayerID: vars["layerId"],
		Zoom:    zoom,
		Col:     col,
		Row:     row,
	}, nil
}
