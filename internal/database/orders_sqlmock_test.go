package database

import (
	"context"
	"testing"

	"order-settlement-engine/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func setupMockPostgres(t *testing.T) (*OrderStore, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	return NewOrderStore(db), mock
}

func TestOrderStore_ClaimConditionalUpdatePostgres(t *testing.T) {
	testCases := []struct {
		name     string
		affected int64
		want     bool
	}{
		{name: "claimed", affected: 1, want: true},
		{name: "lost race", affected: 0, want: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			store, mock := setupMockPostgres(t)
			mock.ExpectBegin()
			mock.ExpectExec(`UPDATE "orders" SET .*"status"=\$\d.* WHERE id = \$\d AND status = \$\d`).
				WillReturnResult(sqlmock.NewResult(0, tc.affected))
			if tc.affected == 1 {
				mock.ExpectQuery(`SELECT \* FROM "orders" WHERE "orders"."id" = \$1`).
					WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "qty", "price", "status"}).
						AddRow(42, "u1", "0.1", "100", "PROCESSING"))
			}
			mock.ExpectCommit()

			claimed, err := store.Claim(context.Background(), 42, baseTime)
			require.NoError(t, err)
			assert.Equal(t, tc.want, claimed != nil)
			if claimed != nil {
				assert.Equal(t, "0.1", claimed.Qty)
				assert.Equal(t, models.OrderStatusProcessing, claimed.Status)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
