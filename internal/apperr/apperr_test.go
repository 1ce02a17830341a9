package apperr

import (
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{Invalid(CodeEmptyCart, "cart is empty"), http.StatusBadRequest},
		{NotFound(CodeNotFound, "order not found"), http.StatusNotFound},
		{Conflict(CodeInsufficientStock, "out of stock"), http.StatusConflict},
		{New(KindDeclined, CodePaymentDeclined, "declined"), http.StatusPaymentRequired},
		{Gateway(errors.New("timeout"), "capture failed"), http.StatusBadGateway},
		{Storage(errors.New("conn reset"), "commit failed"), http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, HTTPStatus(c.err), c.err.Error())
	}
}

func TestWrappedClassificationSurvives(t *testing.T) {
	base := Conflict(CodeInsufficientStock, "sku A")
	wrapped := errors.Wrap(base, "decrement stock")

	e, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, CodeInsufficientStock, e.Code)
	assert.True(t, IsClient(wrapped))
	assert.Equal(t, "sku A", Message(wrapped))
}

func TestMessageHidesInternalCause(t *testing.T) {
	err := Storage(errors.New("password authentication failed for user app"), "could not save order")
	assert.Equal(t, "could not save order", Message(err))
	assert.Equal(t, "internal error", Message(errors.New("raw")))
	assert.False(t, IsClient(err))
}
