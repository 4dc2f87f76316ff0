// Package testutil provides an on-disk SQLite database and seed helpers for tests.
package testutil

import (
	"path/filepath"
	"testing"
	"time"

	"cursive-backend/database"
	"cursive-backend/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDB opens a migrated SQLite database in t.TempDir(). A single
// connection serializes writers the way row locks do on PostgreSQL.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "cursive.db")
	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000"), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

// UseGlobalDB points database.DB at db for the duration of the test.
func UseGlobalDB(t testing.TB, db *gorm.DB) {
	t.Helper()
	prev := database.DB
	database.DB = db
	t.Cleanup(func() { database.DB = prev })
}

func SeedWorkspace(t testing.TB, db *gorm.DB, balance string) models.Workspace {
	t.Helper()
	ws := models.Workspace{Name: "Acme", CreditBalance: decimal.RequireFromString(balance)}
	require.NoError(t, db.Create(&ws).Error)
	return ws
}

// SeedUser creates a workspace member whose password is "password123".
func SeedUser(t testing.TB, db *gorm.DB, workspaceID, email string) models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	require.NoError(t, err)
	u := models.User{
		WorkspaceID: workspaceID,
		FirstName:   "Ada",
		LastName:    "Lovelace",
		Email:       email,
		Password:    hash,
	}
	require.NoError(t, db.Create(&u).Error)
	return u
}

func SeedPartner(t testing.TB, db *gorm.DB, mutate ...func(*models.Partner)) models.Partner {
	t.Helper()
	p := models.Partner{
		Name:                 "Lead Partner",
		BaseCommissionRate:   decimal.RequireFromString("0.30"),
		BonusCommissionRate:  decimal.Zero,
		VerificationPassRate: decimal.Zero,
		TotalEarnings:        decimal.Zero,
		PendingBalance:       decimal.Zero,
	}
	for _, m := range mutate {
		m(&p)
	}
	require.NoError(t, db.Create(&p).Error)
	return p
}

// SeedLead lists an available lead at price. CreatedAt defaults to 60 days
// ago so no freshness bonus applies unless a test overrides it.
func SeedLead(t testing.TB, db *gorm.DB, partnerID, price string, mutate ...func(*models.Lead)) models.Lead {
	t.Helper()
	l := models.Lead{
		PartnerID:         partnerID,
		CompanyName:       "Globex",
		FirstName:         "Hank",
		LastName:          "Scorpio",
		Email:             "hank@globex.example",
		Phone:             "+1 555 0100",
		Industry:          "Software",
		State:             "CA",
		IntentScore:       80,
		MarketplaceStatus: models.LeadStatusAvailable,
		MarketplacePrice:  decimal.RequireFromString(price),
		CreatedAt:         time.Now().UTC().Add(-60 * 24 * time.Hour),
	}
	for _, m := range mutate {
		m(&l)
	}
	require.NoError(t, db.Create(&l).Error)
	return l
}
