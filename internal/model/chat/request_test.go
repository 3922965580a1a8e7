package chat

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validationError(t *testing.T, err error) *ValidationError {
	t.Helper()
	var vErr *ValidationError
	require.True(t, errors.As(err, &vErr), "expected *ValidationError, got %v", err)
	return vErr
}

func TestRequestValidateAcceptsBounds(t *testing.T) {
	for _, msg := range []string{"a", strings.Repeat("x", MaxMessageLength), strings.Repeat("é", MaxMessageLength)} {
		req := Request{SessionID: "demo", Message: msg}
		assert.NoError(t, req.Validate(), "len=%d", len(msg))
	}
}

func TestRequestValidateRejectsEmptyMessage(t *testing.T) {
	err := Request{SessionID: "demo"}.Validate()
	vErr := validationError(t, err)

	assert.Equal(t, []string{"Required"}, vErr.FieldErrors["message"])
	assert.NotContains(t, vErr.FieldErrors, "sessionId")
}

func TestRequestValidateRejectsLongMessage(t *testing.T) {
	err := Request{SessionID: "demo", Message: strings.Repeat("x", MaxMessageLength+1)}.Validate()
	vErr := validationError(t, err)

	require.Len(t, vErr.FieldErrors["message"], 1)
	assert.Contains(t, vErr.FieldErrors["message"][0], "4000")
}

func TestRequestValidateRejectsMissingSession(t *testing.T) {
	err := Request{Message: "hello"}.Validate()
	vErr := validationError(t, err)

	assert.Equal(t, []string{"Required"}, vErr.FieldErrors["sessionId"])
	assert.Empty(t, vErr.FormErrors)
	assert.Contains(t, vErr.Error(), "sessionId")
}

func TestRequestValidateReportsEveryField(t *testing.T) {
	vErr := validationError(t, Request{}.Validate())
	assert.Len(t, vErr.FieldErrors, 2)
}

func TestItemType(t *testing.T) {
	assert.Equal(t, ItemAgentMessage, Item{"type": ItemAgentMessage}.Type())
	assert.Equal(t, "", Item{"type": 42}.Type())
	assert.Equal(t, "", Item{}.Type())
}

func TestMessageTagMatchesMaxLength(t *testing.T) {
	field, ok := reflect.TypeOf(Request{}).FieldByName("Message")
	require.True(t, ok)
	assert.Contains(t, strings.Split(field.Tag.Get("validate"), ","), fmt.Sprintf("max=%d", MaxMessageLength))
}

func TestDecodeError(t *testing.T) {
	var req Request
	vErr := DecodeError(json.Unmarshal([]byte(`{"sessionId":123,"message":"hi"}`), &req))
	assert.Empty(t, vErr.FormErrors)
	assert.Equal(t, []string{"Expected string, received number"}, vErr.FieldErrors["sessionId"])

	vErr = DecodeError(json.Unmarshal([]byte(`["hi"]`), &req))
	assert.Equal(t, []string{"Expected object, received array"}, vErr.FormErrors)
	assert.Empty(t, vErr.FieldErrors)

	vErr = DecodeError(json.Unmarshal([]byte(`{"sessionId":`), &req))
	assert.Equal(t, []string{"Expected a JSON object"}, vErr.FormErrors)
}
