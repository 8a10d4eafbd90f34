package repository

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettingsGet(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewSettingsRepository(db)

	mock.ExpectQuery(`SELECT value FROM system_settings`).WithArgs("SYSTEM_COMMISSION_PERCENTAGE").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("25"))
	mock.ExpectQuery(`SELECT value FROM system_settings`).WithArgs("NULLED").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(nil))
	mock.ExpectQuery(`SELECT value FROM system_settings`).WithArgs("MISSING").
		WillReturnRows(sqlmock.NewRows([]string{"value"}))

	value, ok, err := repo.Get(context.Background(), "SYSTEM_COMMISSION_PERCENTAGE")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "25", value)

	_, ok, err = repo.Get(context.Background(), "NULLED")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = repo.Get(context.Background(), "MISSING")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSettingsSetUpserts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`ON CONFLICT \(key\) DO UPDATE`).WithArgs("SYSTEM_COMMISSION_PERCENTAGE", "20").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, NewSettingsRepository(db).Set(context.Background(), "SYSTEM_COMMISSION_PERCENTAGE", "20"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserGetByIDNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`FROM users`).WithArgs("u-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "role", "first_name", "last_name", "email", "phone_number", "created_at"}))
	mock.ExpectQuery(`SELECT name FROM vehicle_types`).WithArgs("vt-1").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("Business Sedan"))

	_, err = NewUserRepository(db).GetByID(context.Background(), "u-1")
	assert.Error(t, err)

	name, err := NewVehicleTypeRepository(db).GetName(context.Background(), "vt-1")
	require.NoError(t, err)
	assert.Equal(t, "Business Sedan", name)
}
