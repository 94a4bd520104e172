package repository

import (
	"context"
	"errors"
	"strings"

	"dpp/internal/entity"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PassportQuery struct {
	Search  string
	Name    string
	OrderBy string
	Desc    bool
	Limit   int
	Offset  int
}

type PassportRepository interface {
	Create(ctx context.Context, passport *entity.Passport) error
	FindByID(ctx context.Context, id uuid.UUID) (*entity.Passport, error)
	FindByQRCode(ctx context.Context, code string) (*entity.Passport, error)
	List(ctx context.Context, query PassportQuery) ([]entity.Passport, int64, error)
	Update(ctx context.Context, passport *entity.Passport) error
	Delete(ctx context.Context, id uuid.UUID) (int64, error)
	DeleteAll(ctx context.Context) (int64, error)
}

type passportRepository struct {
	db *gorm.DB
}

func NewPassportRepository(db *gorm.DB) PassportRepository {
	return &passportRepository{db: db}
}

func (r *passportRepository) Create(ctx context.Context, passport *entity.Passport) error {
	return r.db.WithContext(ctx).Create(passport).Error
}

func (r *passportRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.Passport, error) {
	var passport entity.Passport
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&passport).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &passport, err
}

func (r *passportRepository) FindByQRCode(ctx context.Context, code string) (*entity.Passport, error) {
	var passport entity.Passport
	err := r.db.WithContext(ctx).Where("qr_code = ?", code).First(&passport).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &passport, err
}

func (r *passportRepository) List(ctx context.Context, q PassportQuery) ([]entity.Passport, int64, error) {
	query := r.db.WithContext(ctx).Model(&entity.Passport{})
	if term := strings.ToLower(strings.TrimSpace(q.Search)); term != "" {
		like := "%" + term + "%"
		query = query.Where("LOWER(name) LIKE ? OR LOWER(qr_code) LIKE ?", like, like)
	}
	if q.Name != "" {
		query = query.Where("name = ?", q.Name)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	orderBy := q.OrderBy
	if orderBy == "" {
		orderBy = "updated_at"
	}
	query = query.
		Order(clause.OrderByColumn{Column: clause.Column{Name: orderBy}, Desc: q.Desc}).
		Order("id")
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}
	if q.Offset > 0 {
		query = query.Offset(q.Offset)
	}

	var passports []entity.Passport
	if err := query.Find(&passports).Error; err != nil {
		return nil, 0, err
	}
	return passports, total, nil
}

func (r *passportRepository) Update(ctx context.Context, passport *entity.Passport) error {
	return r.db.WithContext(ctx).Save(passport).Error
}

func (r *passportRepository) Delete(ctx context.Context, id uuid.UUID) (int64, error) {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&entity.Passport{})
	return result.RowsAffected, result.Error
}

// DeleteAll hard-deletes every passport for data-subject erasure.
func (r *passportRepository) DeleteAll(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&entity.Passport{})
	return result.RowsAffected, result.Error
}
