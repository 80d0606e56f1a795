package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type connectRequest struct {
	Provider string `json:"provider" validate:"omitempty,oneof=plaid teller pluggy"`
	Token    string `json:"public_token" validate:"required,min=4"`
}

type wireAccount struct {
	ID   string `json:"id" validate:"required"`
	Name string `json:"name"`
}

func TestValidateStruct(t *testing.T) {
	t.Run("valid struct", func(t *testing.T) {
		assert.NoError(t, ValidateStruct(&connectRequest{Provider: "plaid", Token: "public-sandbox"}))
	})

	t.Run("missing required field uses json name", func(t *testing.T) {
		err := ValidateStruct(&connectRequest{})
		require.Error(t, err)
		assert.True(t, IsValidationError(err))

		fields := GetValidationFields(err)
		assert.Equal(t, "public_token is required", fields["public_token"])
	})

	t.Run("oneof", func(t *testing.T) {
		err := ValidateStruct(&connectRequest{Provider: "mx", Token: "abcd"})
		require.Error(t, err)
		assert.Contains(t, GetValidationFields(err)["provider"], "must be one of")
	})

	t.Run("min", func(t *testing.T) {
		err := ValidateStruct(&connectRequest{Token: "ab"})
		require.Error(t, err)
		assert.Equal(t, "public_token must be at least 4", GetValidationFields(err)["public_token"])
	})
}

func TestValidatePayload(t *testing.T) {
	t.Run("struct pointer", func(t *testing.T) {
		assert.NoError(t, ValidatePayload(&wireAccount{ID: "a"}))
		assert.Error(t, ValidatePayload(&wireAccount{}))
	})

	t.Run("slice of structs", func(t *testing.T) {
		good := []wireAccount{{ID: "a"}, {ID: "b"}}
		assert.NoError(t, ValidatePayload(&good))

		bad := []wireAccount{{ID: "a"}, {}}
		err := ValidatePayload(&bad)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "item 1")
		assert.True(t, IsValidationError(err))
	})

	t.Run("non struct values pass", func(t *testing.T) {
		m := map[string]string{"a": "b"}
		assert.NoError(t, ValidatePayload(&m))
		assert.NoError(t, ValidatePayload(nil))
		var nilPtr *wireAccount
		assert.NoError(t, ValidatePayload(nilPtr))
	})
}

func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{Message: "Validation failed"}
	assert.Equal(t, "Validation failed", err.Error())

	err.Fields = map[string]string{"b": "b is required", "a": "a is required"}
	assert.Equal(t, "Validation failed: a is required; b is required", err.Error())
}

func TestGetValidationFields_NotValidationError(t *testing.T) {
	assert.Nil(t, GetValidationFields(assert.AnError))
	assert.False(t, IsValidationError(assert.AnError))
}

func TestParseOptionalInt(t *testing.T) {
	v, err := ParseOptionalInt("", "limit")
	assert.NoError(t, err)
	assert.Nil(t, v)

	v, err = ParseOptionalInt("25", "limit")
	require.NoError(t, err)
	assert.Equal(t, 25, *v)

	_, err = ParseOptionalInt("-1", "limit")
	assert.EqualError(t, err, "limit must be a non-negative integer")

	_, err = ParseOptionalInt("ten", "offset")
	assert.Error(t, err)
}

func TestParseOptionalDate(t *testing.T) {
	v, err := ParseOptionalDate("", "start_date")
	assert.NoError(t, err)
	assert.Nil(t, v)

	v, err = ParseOptionalDate("2024-02-29", "start_date")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), *v)

	v, err = ParseOptionalDate("2024-03-01T10:00:00Z", "end_date")
	require.NoError(t, err)
	assert.Equal(t, 10, v.Hour())

	_, err = ParseOptionalDate("yesterday", "end_date")
	assert.Error(t, err)
}
