package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/facilityops/internal/shared"
)

func TestMapError(t *testing.T) {
	cases := []struct {
		code string
		want error
	}{
		{code: "40001", want: shared.ErrConcurrencyConflict},
		{code: "40P01", want: shared.ErrConcurrencyConflict},
		{code: "22003", want: shared.ErrArithmetic},
		{code: "22P02", want: shared.ErrArithmetic},
	}
	for _, tc := range cases {
		pgErr := &pgconn.PgError{Code: tc.code, Message: "boom"}
		require.ErrorIs(t, MapError(pgErr), tc.want, tc.code)

		wrapped := fmt.Errorf("inventory: insert transaction: %w", pgErr)
		require.ErrorIs(t, MapError(wrapped), tc.want, tc.code)
	}

	unique := &pgconn.PgError{Code: "23505"}
	require.Same(t, error(unique), MapError(unique))

	plain := errors.New("connection reset")
	require.Equal(t, plain, MapError(plain))
	require.NoError(t, MapError(nil))
}
