package validator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cleanupRequest struct {
	Days   int    `json:"days" validate:"gte=1,lte=365"`
	Period string `json:"period" validate:"required,oneof=daily weekly"`
}

func TestStructReportsJSONFieldNames(t *testing.T) {
	err := Struct(cleanupRequest{Days: 0})
	require.Error(t, err)

	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	require.Len(t, verrs, 2)
	assert.Equal(t, "days", verrs[0].Field)
	assert.Equal(t, "period", verrs[1].Field)
	assert.Equal(t, "is required", verrs[1].Message)
}

func TestStructValid(t *testing.T) {
	assert.NoError(t, Struct(cleanupRequest{Days: 7, Period: "weekly"}))
}

func TestValidateEmail(t *testing.T) {
	assert.True(t, ValidateEmail("ana@example.com"))
	assert.False(t, ValidateEmail("not-an-address"))
	assert.False(t, ValidateEmail(""))
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "ana@example.com", SanitizeEmail("  Ana@Example.COM "))
	assert.Equal(t, "abc", SanitizeString("  abcdef ", 3))
}
