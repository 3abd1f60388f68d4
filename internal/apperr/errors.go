package apperr

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error. The first dotted
// segment is the taxonomy category.
type Code string

const (
	CodeConfigLoadReadFailure      Code = "config.load.read.failure"
	CodeConfigParseInvalidFormat   Code = "config.parse.invalid_format"
	CodeConfigValidateInvalidValue Code = "config.validate.invalid_value"
	CodeConfigPortUnavailable      Code = "config.port.unavailable"

	CodeSkillsDiscoveryFailure Code = "skills.discovery.failure"
	CodeSkillsMetadataInvalid  Code = "skills.metadata.invalid"
	CodePluginDiscoveryFailure Code = "plugin.discovery.failure"
	CodePluginLoadFailure      Code = "plugin.load.failure"
	CodePluginSpecInvalid      Code = "plugin.spec.invalid"

	CodeIntegrationCallFailure  Code = "integration.call.failure"
	CodeIntegrationAgentFailure Code = "integration.agent.failure"
	CodeDispatchHostUnsupported Code = "dispatch.host.unsupported"
	CodeDispatchNoRoute         Code = "dispatch.route.not_found"

	CodeAgentStateTransitionInvalid Code = "agent.state.transition.invalid"
	CodeAgentStateForbidden         Code = "agent.state.forbidden"
	CodeAgentMessageInvalid         Code = "agent.message.invalid"

	CodeBridgePeerNotFound    Code = "bridge.peer.not_found"
	CodeBridgeCallFailure     Code = "bridge.call.failure"
	CodeBridgeProtocolInvalid Code = "bridge.protocol.invalid"

	CodeServerRenderFailure   Code = "server.render.failure"
	CodeServerUpstreamFailure Code = "server.upstream.failure"
)

type Attr struct {
	Key   string
	Value any
}

func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).New(msg)
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}
	return oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	switch code := oopsErr.Code().(type) {
	case Code:
		return code
	case string:
		return Code(code)
	case nil:
		return ""
	default:
		return Code(fmt.Sprintf("%v", code))
	}
}

func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}
	return oopsErr.Context()
}

func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

// Category returns the taxonomy segment of the error code, e.g. "config".
func Category(err error) string {
	code := string(CodeOf(err))
	if i := strings.IndexByte(code, '.'); i > 0 {
		return code[:i]
	}
	return code
}

// IsFatal reports whether err belongs to the configuration category, the only
// one allowed to stop the process.
func IsFatal(err error) bool {
	return Category(err) == "config"
}

// IsIntegration reports whether err came from routing a prompt or from the
// integration that received it.
func IsIntegration(err error) bool {
	switch Category(err) {
	case "integration", "dispatch":
		return true
	}
	return false
}

// IsAgentFailure reports whether an integration reported that the agent
// itself failed, as opposed to the call not reaching it.
func IsAgentFailure(err error) bool {
	return HasCode(err, CodeIntegrationAgentFailure)
}

func HTTPStatus(err error) int {
	switch Category(err) {
	case "config":
		return http.StatusBadRequest
	case "server":
		if HasCode(err, CodeServerUpstreamFailure) {
			return http.StatusServiceUnavailable
		}
	case "bridge":
		if HasCode(err, CodeBridgePeerNotFound) {
			return http.StatusNotFound
		}
	}
	return http.StatusInternalServerError
}

func flatten(fields []Attr) []any {
	out := make([]any, 0, len(fields)*2)
	for _, f := range fields {
		out = append(out, f.Key, f.Value)
	}
	return out
}
