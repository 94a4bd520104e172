package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"unicode/utf8"

	"dpp/internal/entity"
	"dpp/internal/metrics"
	"dpp/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	maxQRCodeLength = 100
	maxNameLength   = 255
)

var passportOrderFields = map[string]bool{
	"name":       true,
	"created_at": true,
	"updated_at": true,
}

type SustainabilityState int

const (
	DataMissing SustainabilityState = iota
	DataPresent
	DataCorrupt
)

func (s SustainabilityState) String() string {
	switch s {
	case DataPresent:
		return "present"
	case DataCorrupt:
		return "corrupt"
	default:
		return "missing"
	}
}

// SustainabilityResult is the decoded sustainability document. Data is never
// nil; it is empty unless State is DataPresent.
type SustainabilityResult struct {
	Data  map[string]any
	State SustainabilityState
	Err   error
}

type CreatePassportInput struct {
	Name               string
	QRCode             string
	SustainabilityData map[string]any
}

// UpdatePassportInput carries the fields to merge. Nil fields are left
// untouched; a non-nil SustainabilityData replaces the whole document.
type UpdatePassportInput struct {
	Name               *string
	QRCode             *string
	SustainabilityData map[string]any
}

type ListPassportsInput struct {
	Page     int
	PageSize int
	Search   string
	Name     string
	Ordering string
}

type PassportPage struct {
	Items    []entity.Passport
	Count    int64
	Page     int
	PageSize int
}

func (p *PassportPage) HasNext() bool {
	return int64(p.Page*p.PageSize) < p.Count
}

func (p *PassportPage) HasPrevious() bool {
	return p.Page > 1
}

type PassportService struct {
	passports    repository.PassportRepository
	securityLogs repository.SecurityLogRepository
	cipher       FieldEncrypter
	logger       logrus.FieldLogger
}

func NewPassportService(
	passports repository.PassportRepository,
	securityLogs repository.SecurityLogRepository,
	cipher FieldEncrypter,
	logger logrus.FieldLogger,
) *PassportService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &PassportService{
		passports:    passports,
		securityLogs: securityLogs,
		cipher:       cipher,
		logger:       logger,
	}
}

// SetSustainabilityData replaces the sealed document on p. It does not persist.
func (s *PassportService) SetSustainabilityData(p *entity.Passport, data map[string]any) error {
	if data == nil {
		data = map[string]any{}
	}
	plaintext, err := json.Marshal(data)
	if err != nil {
		return fieldError("sustainability_data", ErrSustainabilityNotMap)
	}
	sealed, err := s.cipher.Encrypt(plaintext)
	if err != nil {
		return err
	}
	p.SustainabilityData = &sealed
	return nil
}

// SustainabilityData opens and decodes the document on p. Failures never
// surface to the caller; they are logged and reported through State.
func (s *PassportService) SustainabilityData(p *entity.Passport) SustainabilityResult {
	result := s.decodeSustainability(p)
	metrics.SustainabilityReadsTotal.WithLabelValues(result.State.String()).Inc()
	if result.State == DataCorrupt {
		s.logger.WithError(result.Err).WithField("passport_id", p.ID).Warn("sustainability data unreadable")
	}
	return result
}

// GetSustainabilityData returns the decoded document or an empty map.
func (s *PassportService) GetSustainabilityData(p *entity.Passport) map[string]any {
	return s.SustainabilityData(p).Data
}

func (s *PassportService) decodeSustainability(p *entity.Passport) SustainabilityResult {
	if p.SustainabilityData == nil || *p.SustainabilityData == "" {
		return SustainabilityResult{Data: map[string]any{}, State: DataMissing}
	}
	plaintext, err := s.cipher.Decrypt(*p.SustainabilityData)
	if err != nil {
		return SustainabilityResult{Data: map[string]any{}, State: DataCorrupt, Err: err}
	}
	var data map[string]any
	decoder := json.NewDecoder(bytes.NewReader(plaintext))
	decoder.UseNumber()
	if err := decoder.Decode(&data); err != nil {
		return SustainabilityResult{Data: map[string]any{}, State: DataCorrupt, Err: err}
	}
	if data == nil {
		return SustainabilityResult{Data: map[string]any{}, State: DataMissing}
	}
	return SustainabilityResult{Data: data, State: DataPresent}
}

func (s *PassportService) Create(ctx context.Context, input CreatePassportInput) (*entity.Passport, error) {
	name := strings.TrimSpace(input.Name)
	code := strings.TrimSpace(input.QRCode)
	if err := validateName(name); err != nil {
		return nil, err
	}
	if err := validateQRCode(code); err != nil {
		return nil, err
	}
	if err := s.ensureQRCodeFree(ctx, code, uuid.Nil); err != nil {
		return nil, err
	}

	passport := &entity.Passport{Name: name, QRCode: code}
	if err := s.SetSustainabilityData(passport, input.SustainabilityData); err != nil {
		return nil, err
	}
	if err := s.passports.Create(ctx, passport); err != nil {
		metrics.PassportOperationsTotal.WithLabelValues("create", "error").Inc()
		return nil, translateWriteError(err)
	}
	metrics.PassportOperationsTotal.WithLabelValues("create", "ok").Inc()
	s.logger.WithField("passport_id", passport.ID).Debugf("created passport %s", passport)
	return passport, nil
}

func (s *PassportService) Get(ctx context.Context, id uuid.UUID) (*entity.Passport, error) {
	passport, err := s.passports.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if passport == nil {
		return nil, ErrPassportNotFound
	}
	return passport, nil
}

func (s *PassportService) FindByQRCode(ctx context.Context, code string) (*entity.Passport, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, ErrPassportNotFound
	}
	passport, err := s.passports.FindByQRCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if passport == nil {
		return nil, ErrPassportNotFound
	}
	return passport, nil
}

func (s *PassportService) List(ctx context.Context, input ListPassportsInput) (*PassportPage, error) {
	page := input.Page
	if page < 1 {
		page = 1
	}
	size := input.PageSize
	if size < 1 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}

	orderBy, desc := parseOrdering(input.Ordering)
	items, total, err := s.passports.List(ctx, repository.PassportQuery{
		Search:  input.Search,
		Name:    strings.TrimSpace(input.Name),
		OrderBy: orderBy,
		Desc:    desc,
		Limit:   size,
		Offset:  (page - 1) * size,
	})
	if err != nil {
		return nil, err
	}
	return &PassportPage{Items: items, Count: total, Page: page, PageSize: size}, nil
}

func (s *PassportService) Update(ctx context.Context, id uuid.UUID, input UpdatePassportInput) (*entity.Passport, error) {
	passport, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if err := validateName(name); err != nil {
			return nil, err
		}
		passport.Name = name
	}
	if input.QRCode != nil {
		code := strings.TrimSpace(*input.QRCode)
		if err := validateQRCode(code); err != nil {
			return nil, err
		}
		if code != passport.QRCode {
			if err := s.ensureQRCodeFree(ctx, code, passport.ID); err != nil {
				return nil, err
			}
		}
		passport.QRCode = code
	}
	if input.SustainabilityData != nil {
		if err := s.SetSustainabilityData(passport, input.SustainabilityData); err != nil {
			return nil, err
		}
	}
	if err := s.passports.Update(ctx, passport); err != nil {
		metrics.PassportOperationsTotal.WithLabelValues("update", "error").Inc()
		return nil, translateWriteError(err)
	}
	metrics.PassportOperationsTotal.WithLabelValues("update", "ok").Inc()
	return passport, nil
}

func (s *PassportService) Delete(ctx context.Context, id uuid.UUID) error {
	deleted, err := s.passports.Delete(ctx, id)
	if err != nil {
		return err
	}
	if deleted == 0 {
		return ErrPassportNotFound
	}
	metrics.PassportOperationsTotal.WithLabelValues("delete", "ok").Inc()
	return nil
}

// DeleteAll erases every passport and returns how many were removed.
func (s *PassportService) DeleteAll(ctx context.Context, actorID *uuid.UUID, ipAddress *string) (int64, error) {
	deleted, err := s.passports.DeleteAll(ctx)
	if err != nil {
		metrics.PassportOperationsTotal.WithLabelValues("delete_all", "error").Inc()
		return 0, err
	}
	metrics.PassportOperationsTotal.WithLabelValues("delete_all", "ok").Inc()
	s.logger.WithField("deleted", deleted).Info("passports purged")
	_ = writeSecurityLog(ctx, s.securityLogs, actorID, ipAddress, entity.PassportsPurged, map[string]any{"deleted": deleted})
	return deleted, nil
}

func (s *PassportService) ensureQRCodeFree(ctx context.Context, code string, self uuid.UUID) error {
	existing, err := s.passports.FindByQRCode(ctx, code)
	if err != nil {
		return err
	}
	if existing != nil && existing.ID != self {
		return fieldError("qr_code", ErrQRCodeTaken)
	}
	return nil
}

// translateWriteError maps the unique index backstop to the QR code error.
// Two writers can both pass ensureQRCodeFree; only one insert survives.
func translateWriteError(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fieldError("qr_code", ErrQRCodeTaken)
	}
	return err
}

func validateName(name string) error {
	if name == "" {
		return fieldError("name", errors.New("this field may not be blank"))
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return fieldError("name", errors.New("ensure this field has no more than 255 characters"))
	}
	return nil
}

func validateQRCode(code string) error {
	if code == "" {
		return fieldError("qr_code", errors.New("this field may not be blank"))
	}
	if utf8.RuneCountInString(code) > maxQRCodeLength {
		return fieldError("qr_code", errors.New("ensure this field has no more than 100 characters"))
	}
	return nil
}

func parseOrdering(ordering string) (string, bool) {
	ordering = strings.TrimSpace(ordering)
	desc := strings.HasPrefix(ordering, "-")
	field := strings.TrimPrefix(ordering, "-")
	if !passportOrderFields[field] {
		return "updated_at", true
	}
	return field, desc
}
