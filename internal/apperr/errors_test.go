package apperr

import (
	stderrors "errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeOf_RoundTrip(t *testing.T) {
	err := New(CodeConfigValidateInvalidValue, "port conflict", Field("port", 3100))
	require.Error(t, err)
	assert.Equal(t, CodeConfigValidateInvalidValue, CodeOf(err))
	assert.True(t, HasCode(err, CodeConfigValidateInvalidValue))
	assert.Equal(t, 3100, FieldsOf(err)["port"])
}

func TestWrap_KeepsCause(t *testing.T) {
	cause := stderrors.New("disk gone")
	err := Wrap(cause, CodeSkillsDiscoveryFailure, "scan skills")
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "skills", Category(err))
	assert.Nil(t, Wrap(nil, CodeSkillsDiscoveryFailure, "noop"))
}

func TestCategoryHelpers(t *testing.T) {
	assert.True(t, IsFatal(New(CodeConfigLoadReadFailure, "x")))
	assert.False(t, IsFatal(New(CodePluginLoadFailure, "x")))
	assert.True(t, IsIntegration(New(CodeDispatchHostUnsupported, "x")))
	assert.True(t, IsIntegration(New(CodeIntegrationCallFailure, "x")))
	assert.True(t, IsAgentFailure(New(CodeIntegrationAgentFailure, "x")))
	assert.False(t, IsAgentFailure(stderrors.New("plain")))
	assert.Equal(t, Code(""), CodeOf(stderrors.New("plain")))
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(New(CodeConfigParseInvalidFormat, "x")))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(New(CodeServerUpstreamFailure, "x")))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(New(CodeBridgePeerNotFound, "x")))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(New(CodeServerRenderFailure, "x")))
}
