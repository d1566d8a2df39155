package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civicq/records-service/internal/store"
)

type sample struct {
	Name  string   `json:"name" validate:"notblank"`
	Sex   string   `json:"sex" validate:"sex"`
	Items []string `json:"items" validate:"min=1"`
	Price int64    `json:"price" validate:"gte=0"`
}

func TestStructValid(t *testing.T) {
	assert.NoError(t, Struct(sample{Name: "Ana", Sex: "female", Items: []string{"x"}}))
}

func TestStructCollectsFields(t *testing.T) {
	err := Struct(sample{Name: "  ", Sex: "x", Price: -1})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrValidation)
	msg := err.Error()
	assert.Contains(t, msg, "name is required")
	assert.Contains(t, msg, "sex must be male or female")
	assert.Contains(t, msg, "items must contain at least 1 entries")
	assert.Contains(t, msg, "price must be greater than or equal to 0")
}
