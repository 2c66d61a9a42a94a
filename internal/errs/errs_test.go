package errs_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"cryptomart/internal/errs"
)

func TestKindMatching(t *testing.T) {
	err := errs.NotFound("payment %s not found", "abc")

	require.ErrorIs(t, err, errs.ErrNotFound)
	require.NotErrorIs(t, err, errs.ErrInvalidInput)
	require.Equal(t, errs.KindNotFound, errs.KindOf(err))
	require.Equal(t, "not_found: payment abc not found", err.Error())
}

func TestKindOfWrapped(t *testing.T) {
	cause := errors.New("connection reset")
	storageErr := errs.Storage(cause, "listing payments failed")
	wrapped := fmt.Errorf("confirm: %w", storageErr)

	require.Equal(t, errs.KindStorage, errs.KindOf(wrapped))
	require.ErrorIs(t, wrapped, errs.ErrStorage)
	require.ErrorIs(t, wrapped, cause)
}

func TestKindOfUnknown(t *testing.T) {
	require.Equal(t, errs.KindUnknown, errs.KindOf(errors.New("plain")))
	require.Equal(t, errs.KindUnknown, errs.KindOf(nil))
}
