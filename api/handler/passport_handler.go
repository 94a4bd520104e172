package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"dpp/api/middleware"
	"dpp/internal/dto"
	"dpp/internal/entity"
	"dpp/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

var errInvalidPage = errors.New("invalid page")

type PassportHandler struct {
	Service  *service.PassportService
	Validate *validator.Validate
}

func NewPassportHandler(svc *service.PassportService, validate *validator.Validate) *PassportHandler {
	return &PassportHandler{Service: svc, Validate: validate}
}

func (h *PassportHandler) List(c echo.Context) error {
	page := 1
	if raw := c.QueryParam("page"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return writeError(c, http.StatusNotFound, errInvalidPage)
		}
		page = parsed
	}
	pageSize, _ := strconv.Atoi(c.QueryParam("page_size"))

	result, err := h.Service.List(c.Request().Context(), service.ListPassportsInput{
		Page:     page,
		PageSize: pageSize,
		Search:   c.QueryParam("search"),
		Name:     c.QueryParam("name"),
		Ordering: c.QueryParam("ordering"),
	})
	if err != nil {
		return writeServiceError(c, err)
	}
	if page > 1 && len(result.Items) == 0 {
		return writeError(c, http.StatusNotFound, errInvalidPage)
	}

	response := dto.PassportListResponse{
		Count:   result.Count,
		Results: make([]dto.PassportResponse, 0, len(result.Items)),
	}
	for i := range result.Items {
		response.Results = append(response.Results, h.toResponse(&result.Items[i]))
	}
	if result.HasNext() {
		response.Next = pageURL(c, result.Page+1)
	}
	if result.HasPrevious() {
		response.Previous = pageURL(c, result.Page-1)
	}
	return c.JSON(http.StatusOK, response)
}

func (h *PassportHandler) Create(c echo.Context) error {
	var req dto.CreatePassportRequest
	if err := decodeJSON(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	if err := validateStruct(h.Validate, req); err != nil {
		return writeValidationError(c, err)
	}
	data, _, err := decodeSustainability(req.SustainabilityData)
	if err != nil {
		return writeServiceError(c, err)
	}

	passport, err := h.Service.Create(c.Request().Context(), service.CreatePassportInput{
		Name:               req.Name,
		QRCode:             req.QRCode,
		SustainabilityData: data,
	})
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusCreated, h.toResponse(passport))
}

func (h *PassportHandler) Retrieve(c echo.Context) error {
	id, ok := parsePassportID(c)
	if !ok {
		return writeServiceError(c, service.ErrPassportNotFound)
	}
	passport, err := h.Service.Get(c.Request().Context(), id)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, h.toResponse(passport))
}

// Replace handles PUT: name and qr_code are required and the sustainability
// document is overwritten, with {} when omitted.
func (h *PassportHandler) Replace(c echo.Context) error {
	id, ok := parsePassportID(c)
	if !ok {
		return writeServiceError(c, service.ErrPassportNotFound)
	}
	var req dto.CreatePassportRequest
	if err := decodeJSON(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	if err := validateStruct(h.Validate, req); err != nil {
		return writeValidationError(c, err)
	}
	data, present, err := decodeSustainability(req.SustainabilityData)
	if err != nil {
		return writeServiceError(c, err)
	}
	if !present {
		data = map[string]any{}
	}

	passport, err := h.Service.Update(c.Request().Context(), id, service.UpdatePassportInput{
		Name:               &req.Name,
		QRCode:             &req.QRCode,
		SustainabilityData: data,
	})
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, h.toResponse(passport))
}

func (h *PassportHandler) Patch(c echo.Context) error {
	id, ok := parsePassportID(c)
	if !ok {
		return writeServiceError(c, service.ErrPassportNotFound)
	}
	var req dto.PatchPassportRequest
	if err := decodeJSON(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	if err := validateStruct(h.Validate, req); err != nil {
		return writeValidationError(c, err)
	}
	data, _, err := decodeSustainability(req.SustainabilityData)
	if err != nil {
		return writeServiceError(c, err)
	}

	passport, err := h.Service.Update(c.Request().Context(), id, service.UpdatePassportInput{
		Name:               req.Name,
		QRCode:             req.QRCode,
		SustainabilityData: data,
	})
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, h.toResponse(passport))
}

func (h *PassportHandler) Delete(c echo.Context) error {
	id, ok := parsePassportID(c)
	if !ok {
		return writeServiceError(c, service.ErrPassportNotFound)
	}
	if err := h.Service.Delete(c.Request().Context(), id); err != nil {
		return writeServiceError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *PassportHandler) LookupByQRCode(c echo.Context) error {
	passport, err := h.Service.FindByQRCode(c.Request().Context(), c.Param("code"))
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, h.toResponse(passport))
}

func (h *PassportHandler) DeleteAll(c echo.Context) error {
	var actorID *uuid.UUID
	if userID, ok := middleware.UserIDFromContext(c); ok {
		actorID = &userID
	}
	deleted, err := h.Service.DeleteAll(c.Request().Context(), actorID, stringPtr(c.RealIP()))
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, dto.DeleteAllResponse{Deleted: deleted})
}

func (h *PassportHandler) toResponse(passport *entity.Passport) dto.PassportResponse {
	return dto.PassportResponseFromEntity(passport, h.Service.GetSustainabilityData(passport))
}

func parsePassportID(c echo.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// decodeSustainability reports whether the field was sent at all. A sent
// value must be a JSON object.
func decodeSustainability(raw json.RawMessage) (map[string]any, bool, error) {
	if len(raw) == 0 {
		return nil, false, nil
	}
	var data map[string]any
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(&data); err != nil || data == nil {
		return nil, true, &service.FieldError{Field: "sustainability_data", Err: service.ErrSustainabilityNotMap}
	}
	return data, true, nil
}

func pageURL(c echo.Context, page int) *string {
	u := *c.Request().URL
	query := u.Query()
	if page <= 1 {
		query.Del("page")
	} else {
		query.Set("page", strconv.Itoa(page))
	}
	u.RawQuery = query.Encode()
	u.Scheme = c.Scheme()
	u.Host = c.Request().Host
	link := u.String()
	return &link
}
