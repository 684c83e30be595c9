package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/learningequality/studio-sub002/internal/logger"
	"github.com/learningequality/studio-sub002/internal/realtime"
	"github.com/learningequality/studio-sub002/internal/requestdata"
)

type SocketHandler struct {
	log    *logger.Logger
	socket *realtime.Socket
}

func NewSocketHandler(socket *realtime.Socket, log *logger.Logger) *SocketHandler {
	return &SocketHandler{
		log:    log.With("handler", "SocketHandler"),
		socket: socket,
	}
}

// ServeSync upgrades the request to the per-channel sync websocket. Auth has
// already run; the token rides the query string on websocket requests.
func (sh *SocketHandler) ServeSync(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	channelID, err := uuid.Parse(c.Param("channel_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid channel id"})
		return
	}
	if err := sh.socket.Serve(c.Writer, c.Request, rd.UserID, channelID); err != nil {
		sh.log.Warn("Sync socket ended with error", "channel_id", channelID, "error", err)
	}
}
