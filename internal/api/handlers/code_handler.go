package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/zatekoja/codelookup/internal/application/services"
	"github.com/zatekoja/codelookup/internal/domain/entities"
	"github.com/zatekoja/codelookup/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/codelookup/pkg/errors"
)

// CodeSearcher is the retrieval surface the handler exposes over HTTP
type CodeSearcher interface {
	Search(ctx context.Context, req services.SearchRequest) ([]entities.RankedResult, error)
	SemanticSearch(ctx context.Context, req services.SemanticSearchRequest) ([]entities.RankedResult, error)
	HybridSearch(ctx context.Context, req services.HybridSearchRequest) ([]entities.RankedResult, error)
	FacetedSearch(ctx context.Context, req services.FacetedSearchRequest) ([]entities.RankedResult, error)
	GetDetail(ctx context.Context, code string, system entities.CodeSystem, year *int) (*entities.RankedResult, error)
	SuggestFromText(ctx context.Context, req services.SuggestRequest) ([]entities.RankedResult, error)
}

// CodeHandler handles code lookup requests
type CodeHandler struct {
	searcher     CodeSearcher
	defaultLimit int
}

// NewCodeHandler creates a new code handler. defaultLimit is sent when a request names no limit.
func NewCodeHandler(searcher CodeSearcher, defaultLimit int) *CodeHandler {
	return &CodeHandler{searcher: searcher, defaultLimit: defaultLimit}
}

// Search handles GET /api/codes/search
func (h *CodeHandler) Search(w http.ResponseWriter, r *http.Request) {
	params, ok := h.parseCommon(w, r)
	if !ok {
		return
	}

	results, err := h.searcher.Search(r.Context(), services.SearchRequest{
		Query:       params.query,
		CodeSystem:  params.system,
		VersionYear: params.year,
		Limit:       params.limit,
	})
	respondWithResults(w, r, results, err)
}

// SemanticSearch handles GET /api/codes/semantic
func (h *CodeHandler) SemanticSearch(w http.ResponseWriter, r *http.Request) {
	params, ok := h.parseCommon(w, r)
	if !ok {
		return
	}
	minSimilarity, err := optionalFloat(r, "min_similarity")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	results, err := h.searcher.SemanticSearch(r.Context(), services.SemanticSearchRequest{
		Query:         params.query,
		CodeSystem:    params.system,
		VersionYear:   params.year,
		Limit:         params.limit,
		MinSimilarity: minSimilarity,
	})
	respondWithResults(w, r, results, err)
}

// HybridSearch handles GET /api/codes/hybrid
func (h *CodeHandler) HybridSearch(w http.ResponseWriter, r *http.Request) {
	params, ok := h.parseCommon(w, r)
	if !ok {
		return
	}
	weight, err := optionalFloat(r, "semantic_weight")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	results, err := h.searcher.HybridSearch(r.Context(), services.HybridSearchRequest{
		Query:          params.query,
		CodeSystem:     params.system,
		VersionYear:    params.year,
		Limit:          params.limit,
		SemanticWeight: weight,
	})
	respondWithResults(w, r, results, err)
}

// FacetedSearch handles GET /api/codes/faceted
func (h *CodeHandler) FacetedSearch(w http.ResponseWriter, r *http.Request) {
	params, ok := h.parseCommon(w, r)
	if !ok {
		return
	}
	majorSurgery, err := optionalBool(r, "is_major_surgery")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	results, err := h.searcher.FacetedSearch(r.Context(), services.FacetedSearchRequest{
		Constraints: entities.FacetConstraints{
			BodyRegion:        optionalString(r, "body_region"),
			BodySystem:        optionalString(r, "body_system"),
			ProcedureCategory: optionalString(r, "procedure_category"),
			ComplexityLevel:   optionalString(r, "complexity_level"),
			ServiceLocation:   optionalString(r, "service_location"),
			EMLevel:           optionalString(r, "em_level"),
			EMPatientType:     optionalString(r, "em_patient_type"),
			IsMajorSurgery:    majorSurgery,
			ImagingModality:   optionalString(r, "imaging_modality"),
		},
		CodeSystem: params.system,
		Limit:      params.limit,
	})
	respondWithResults(w, r, results, err)
}

type suggestBody struct {
	Text          string   `json:"text"`
	CodeSystem    string   `json:"code_system"`
	Limit         *int     `json:"limit"`
	MinSimilarity *float64 `json:"min_similarity"`
}

// Suggest handles POST /api/codes/suggest
func (h *CodeHandler) Suggest(w http.ResponseWriter, r *http.Request) {
	var body suggestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req := services.SuggestRequest{
		Text:          body.Text,
		Limit:         h.defaultLimit,
		MinSimilarity: body.MinSimilarity,
	}
	if body.Limit != nil {
		req.Limit = *body.Limit
	}
	if body.CodeSystem != "" {
		system, err := entities.ParseCodeSystem(body.CodeSystem)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		req.CodeSystem = &system
	}

	results, err := h.searcher.SuggestFromText(r.Context(), req)
	respondWithResults(w, r, results, err)
}

// GetDetail handles GET /api/codes/{system}/{code}
func (h *CodeHandler) GetDetail(w http.ResponseWriter, r *http.Request) {
	system, err := entities.ParseCodeSystem(r.PathValue("system"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	code := r.PathValue("code")
	if code == "" {
		respondWithError(w, http.StatusBadRequest, "code is required")
		return
	}
	year, err := optionalInt(r, "year")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.searcher.GetDetail(r.Context(), code, system, year)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

type commonParams struct {
	query  string
	system *entities.CodeSystem
	year   *int
	limit  int
}

// parseCommon reads q, system, year and limit. A missing limit becomes the default; range checks are left to the service.
func (h *CodeHandler) parseCommon(w http.ResponseWriter, r *http.Request) (commonParams, bool) {
	q := r.URL.Query()
	params := commonParams{query: q.Get("q"), limit: h.defaultLimit}

	if raw := q.Get("system"); raw != "" {
		system, err := entities.ParseCodeSystem(raw)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, err.Error())
			return params, false
		}
		params.system = &system
	}

	year, err := optionalInt(r, "year")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return params, false
	}
	params.year = year

	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "limit must be an integer")
			return params, false
		}
		params.limit = limit
	}
	return params, true
}

func optionalString(r *http.Request, name string) *string {
	value := strings.TrimSpace(r.URL.Query().Get(name))
	if value == "" {
		return nil
	}
	return &value
}

func optionalInt(r *http.Request, name string) (*int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be an integer", name)
	}
	return &v, nil
}

func optionalFloat(r *http.Request, name string) (*float64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("%s must be a number", name)
	}
	return &v, nil
}

func optionalBool(r *http.Request, name string) (*bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be true or false", name)
	}
	return &v, nil
}

func respondWithResults(w http.ResponseWriter, r *http.Request, results []entities.RankedResult, err error) {
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"results": results,
		"count":   len(results),
	})
}

func respondWithServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		switch appErr.Type {
		case apperrors.ErrorTypeValidation:
			respondWithError(w, http.StatusBadRequest, appErr.Message)
			return
		case apperrors.ErrorTypeNotFound:
			respondWithError(w, http.StatusNotFound, appErr.Message)
			return
		}
	}
	observability.LoggerFromContext(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("Code lookup failed")
	respondWithError(w, http.StatusInternalServerError, "internal error")
}

func respondWithJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(payload)
}

func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	respondWithJSON(w, statusCode, map[string]string{
		"error": message,
	})
}
