package gateway

import (
	"github.com/gorilla/websocket"

	"github.com/voicelab/voicegate/domain/entities"
)

// closeCodeFor maps the flat error code space onto WebSocket close
// codes: everything below the internal-error band is a policy
// violation, the rest an internal error.
func closeCodeFor(code int) int {
	if code < entities.CodeInternal {
		return websocket.ClosePolicyViolation
	}
	return websocket.CloseInternalServerErr
}
