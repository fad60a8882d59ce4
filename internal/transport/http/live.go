package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"fleet-monitor/telematics/internal/domain"
	"fleet-monitor/telematics/internal/metrics"
)

const (
	liveWriteWait  = 10 * time.Second
	livePongWait   = 60 * time.Second
	livePingPeriod = livePongWait * 9 / 10
)

// LiveFeed opens the pubsub stream of one company.
type LiveFeed interface {
	Subscribe(ctx context.Context, companyID string) *redis.PubSub
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// liveCompany picks the company whose feed the caller may watch.
func liveCompany(id domain.Identity, requested string) (string, error) {
	switch id.Role {
	case domain.RoleSuperAdmin:
		if requested == "" {
			return "", domain.Invalid("company_id is required")
		}
		return requested, nil
	case domain.RoleCompanyAdmin:
		if requested != "" && requested != id.CompanyID {
			return "", &domain.PermissionError{Msg: "User does not have permission"}
		}
		if id.CompanyID == "" {
			return "", &domain.PermissionError{Msg: "user has no company"}
		}
		return id.CompanyID, nil
	default:
		return "", &domain.PermissionError{Msg: "User does not have permission"}
	}
}

func (h *Handler) liveFeed(w http.ResponseWriter, r *http.Request) {
	id := IdentityFrom(r.Context())
	companyID, err := liveCompany(id, r.URL.Query().Get("company_id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader already replied
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	metrics.LiveClients.Inc()
	defer metrics.LiveClients.Dec()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub := h.live.Subscribe(ctx, companyID)
	defer sub.Close()

	logger := h.logger.WithValues("company_id", companyID, "user_id", id.UserID)
	logger.Info("live client connected")

	// the read loop only handles control frames and notices the close
	go func() {
		defer cancel()
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(livePongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(livePongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(livePingPeriod)
	defer ping.Stop()
	messages := sub.Channel()

	for {
		select {
		case msg, ok := <-messages:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg.Payload)); err != nil {
				logger.Debug("live write failed", "error", err)
				return
			}

		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(liveWriteWait))
			logger.Info("live client disconnected")
			return
		}
	}
}
