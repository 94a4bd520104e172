package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"dpp/internal/entity"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var baseTime = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := db.AutoMigrate(&entity.User{}, &entity.Session{}, &entity.MagicLink{}, &entity.Passport{}, &entity.SecurityLog{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func seedUser(t *testing.T, db *gorm.DB, email string) *entity.User {
	t.Helper()
	user := &entity.User{Email: email, Username: email, Role: entity.UserRoleUser, IsActive: true}
	if err := NewUserRepository(db).Create(context.Background(), user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

func TestMagicLinkUpsertKeepsOneRowPerUser(t *testing.T) {
	db := openTestDB(t)
	repo := NewMagicLinkRepository(db)
	user := seedUser(t, db, "a@example.com")
	ctx := context.Background()

	reg := &entity.MagicLink{UserID: user.ID, TokenHash: "reg-hash", IsRegistration: true, ExpiresAt: baseTime.Add(24 * time.Hour)}
	if err := repo.Upsert(ctx, reg); err != nil {
		t.Fatalf("Upsert(registration) error = %v", err)
	}
	for i, hash := range []string{"hash-1", "hash-2"} {
		link := &entity.MagicLink{UserID: user.ID, TokenHash: hash, ExpiresAt: baseTime.Add(time.Duration(i+1) * time.Minute)}
		if err := repo.Upsert(ctx, link); err != nil {
			t.Fatalf("Upsert(%s) error = %v", hash, err)
		}
	}

	var count int64
	db.Model(&entity.MagicLink{}).Count(&count)
	if count != 1 {
		t.Fatalf("rows = %d, want 1", count)
	}

	link, err := repo.FindByUser(ctx, user.ID)
	if err != nil || link == nil {
		t.Fatalf("FindByUser() = %v, %v", link, err)
	}
	if link.TokenHash != "hash-2" || link.IsRegistration || link.IsUsed {
		t.Fatalf("link = %+v", link)
	}
	if want := baseTime.Add(2 * time.Minute); !link.ExpiresAt.Equal(want) {
		t.Fatalf("ExpiresAt = %v, want %v", link.ExpiresAt, want)
	}

	if got, err := repo.Consume(ctx, "reg-hash", false, baseTime); err != nil || got != nil {
		t.Fatalf("Consume(replaced registration) = %v, %v; want nil", got, err)
	}
}

func TestMagicLinkConsume(t *testing.T) {
	db := openTestDB(t)
	repo := NewMagicLinkRepository(db)
	user := seedUser(t, db, "a@example.com")
	ctx := context.Background()

	link := &entity.MagicLink{UserID: user.ID, TokenHash: "live", ExpiresAt: baseTime.Add(15 * time.Minute)}
	if err := repo.Upsert(ctx, link); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	if got, err := repo.Consume(ctx, "live", true, baseTime); err != nil || got != nil {
		t.Fatalf("Consume(registrationOnly) = %v, %v; want nil", got, err)
	}
	if got, err := repo.Consume(ctx, "live", false, baseTime.Add(15*time.Minute)); err != nil || got != nil {
		t.Fatalf("Consume(at expiry) = %v, %v; want nil", got, err)
	}

	got, err := repo.Consume(ctx, "live", false, baseTime)
	if err != nil || got == nil {
		t.Fatalf("Consume() = %v, %v", got, err)
	}
	if !got.IsUsed || got.UsedAt == nil || got.UserID != user.ID {
		t.Fatalf("consumed link = %+v", got)
	}
	if got.Active(baseTime) {
		t.Fatal("consumed link should not be active")
	}

	if again, err := repo.Consume(ctx, "live", false, baseTime); err != nil || again != nil {
		t.Fatalf("second Consume() = %v, %v; want nil", again, err)
	}
}

func TestPassportUniqueQRCodeTranslatesError(t *testing.T) {
	db := openTestDB(t)
	repo := NewPassportRepository(db)
	ctx := context.Background()

	if err := repo.Create(ctx, &entity.Passport{Name: "A", QRCode: "QR"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	err := repo.Create(ctx, &entity.Passport{Name: "B", QRCode: "QR"})
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		t.Fatalf("Create(dup) error = %v, want gorm.ErrDuplicatedKey", err)
	}
}

func TestPassportFindMissing(t *testing.T) {
	db := openTestDB(t)
	repo := NewPassportRepository(db)
	ctx := context.Background()

	if p, err := repo.FindByID(ctx, uuid.New()); err != nil || p != nil {
		t.Fatalf("FindByID() = %v, %v", p, err)
	}
	if p, err := repo.FindByQRCode(ctx, "nope"); err != nil || p != nil {
		t.Fatalf("FindByQRCode() = %v, %v", p, err)
	}
}

func TestPassportListAndDeleteAll(t *testing.T) {
	db := openTestDB(t)
	repo := NewPassportRepository(db)
	ctx := context.Background()

	for i, name := range []string{"zeta", "alpha", "Mid"} {
		if err := repo.Create(ctx, &entity.Passport{Name: name, QRCode: fmt.Sprintf("Q%d", i)}); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	items, total, err := repo.List(ctx, PassportQuery{OrderBy: "name", Limit: 2})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if total != 3 || len(items) != 2 {
		t.Fatalf("List() = %d items, total %d", len(items), total)
	}

	items, total, err = repo.List(ctx, PassportQuery{Search: "MID"})
	if err != nil || total != 1 || items[0].Name != "Mid" {
		t.Fatalf("List(search) = %+v, %d, %v", items, total, err)
	}

	deleted, err := repo.DeleteAll(ctx)
	if err != nil || deleted != 3 {
		t.Fatalf("DeleteAll() = %d, %v", deleted, err)
	}
}

func TestSessionRotateAndRevoke(t *testing.T) {
	db := openTestDB(t)
	repo := NewSessionRepository(db)
	user := seedUser(t, db, "a@example.com")
	ctx := context.Background()

	session := &entity.Session{UserID: user.ID, TokenHash: "old", ExpiresAt: baseTime.Add(time.Hour)}
	if err := repo.Create(ctx, session); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := repo.RotateToken(ctx, session.ID, "new", baseTime.Add(2*time.Hour)); err != nil {
		t.Fatalf("RotateToken() error = %v", err)
	}
	if s, _ := repo.FindByTokenHash(ctx, "old", baseTime); s != nil {
		t.Fatal("old hash should no longer match")
	}
	if s, err := repo.FindByTokenHash(ctx, "new", baseTime); err != nil || s == nil {
		t.Fatalf("FindByTokenHash(new) = %v, %v", s, err)
	}

	if err := repo.RevokeAllByUser(ctx, user.ID, baseTime); err != nil {
		t.Fatalf("RevokeAllByUser() error = %v", err)
	}
	if s, _ := repo.FindActiveByID(ctx, session.ID, baseTime); s != nil {
		t.Fatal("session should be revoked")
	}
	if err := repo.RotateToken(ctx, session.ID, "newer", baseTime.Add(3*time.Hour)); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("RotateToken(revoked) error = %v", err)
	}
}
