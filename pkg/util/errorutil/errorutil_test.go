package errorutil

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/feedback-service/internal/domain"
	"github.com/spec-kit/feedback-service/internal/repository"
)

func TestToDomainErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		code   string
		status int
	}{
		{fmt.Errorf("load: %w", repository.ErrNotFound), CodeNotFound, http.StatusNotFound},
		{pgx.ErrNoRows, CodeNotFound, http.StatusNotFound},
		{domain.ErrUnknownPartition, CodeNotFound, http.StatusNotFound},
		{domain.ErrRecordClosed, CodeRecordClosed, http.StatusConflict},
		{fmt.Errorf("%w: approve from (spam, null)", domain.ErrInvalidTransition), CodeInvalidTransition, http.StatusConflict},
		{errors.New("boom"), CodeInternal, http.StatusInternalServerError},
		{NewValidationError("department is required", nil), CodeValidation, http.StatusBadRequest},
		{fiber.ErrNotFound, CodeNotFound, http.StatusNotFound},
		{fiber.ErrRequestEntityTooLarge, CodeValidation, http.StatusRequestEntityTooLarge},
	}
	for _, tc := range cases {
		de := ToDomainError(tc.err)
		require.Equal(t, tc.code, de.Code, tc.err.Error())
		require.Equal(t, tc.status, de.HTTPStatus)
	}
	require.Nil(t, ToDomainError(nil))
	require.NoError(t, MapError(nil))
}

func TestDomainErrorUnwrap(t *testing.T) {
	err := NewInvalidTransition(domain.ErrInvalidTransition, map[string]any{"id": "ext-1"})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	require.ErrorIs(t, NewRecordClosed(nil), domain.ErrRecordClosed)
}
