package websocket

import (
	"context"
	"net/http"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/kenaz/bvh"
	"github.com/aukilabs/kenaz/featureflag"
	httpcmn "github.com/aukilabs/kenaz/http"
	"github.com/aukilabs/kenaz/models"
	"github.com/aukilabs/kenaz/query"
	"github.com/google/uuid"
	"golang.org/x/net/websocket"
)

// QueryHandler runs the queries sent over a connection against the scene
// named in the connection path.
type QueryHandler struct {
	// The time a client is idle before being disconnected.
	ClientIdleTimeout time.Duration

	// The store that contains all the server scenes.
	Scenes *models.SceneStore

	// The maximum number of index nodes visited by a query. 0 means
	// unlimited.
	QueryBudget int

	FeatureFlags featureflag.FeatureFlag

	conn     *websocket.Conn
	clientID string
	sceneID  string
}

func (h *QueryHandler) HandleConnect(conn *websocket.Conn) {
	req := conn.Request()

	h.clientID = req.Header.Get(httpcmn.HeaderClientID)
	if h.clientID == "" {
		h.clientID = uuid.NewString()
	}
	h.sceneID = req.PathValue("id")
	h.conn = conn
}

func (h *QueryHandler) HandlePing(ctx context.Context, respond ResponseSender, msg Msg) error {
	respond.Send(MsgTypePong, msg.RequestID, nil)
	return nil
}

// HandleQuery answers with a query_result message, or an error message when
// the query cannot run. Failed queries do not close the connection.
func (h *QueryHandler) HandleQuery(ctx context.Context, respond ResponseSender, msg Msg) error {
	var req query.Request
	if err := msg.DataTo(&req); err != nil {
		respond.Send(MsgTypeError, msg.RequestID, newErrorData(err))
		return nil
	}

	scene, ok := h.Scenes.GetByGlobalID(h.sceneID)
	if !ok {
		respond.Send(MsgTypeError, msg.RequestID, newErrorData(errors.New("scene not found").
			WithType(models.ErrTypeSceneNotFound).
			WithTag("scene_id", h.sceneID)))
		return nil
	}

	res, err := httpcmn.RunQuery(scene, req, h.QueryBudget, h.FeatureFlags)
	if err != nil && !errors.IsType(err, bvh.ErrTypeBudgetExhausted) {
		respond.Send(MsgTypeError, msg.RequestID, newErrorData(err))
		return nil
	}

	respond.Send(MsgTypeQueryResult, msg.RequestID, res)
	return nil
}

func (h *QueryHandler) HandleDisconnect(err error) {
}

func (h *QueryHandler) Receiver() Receiver {
	return NewReceiver(h.conn)
}

func (h *QueryHandler) Sender() Sender {
	return NewSender(h.conn)
}

func (h *QueryHandler) Close() {
}

func (h *QueryHandler) IdleTimeout() time.Duration {
	return h.ClientIdleTimeout
}

func (h *QueryHandler) SceneID() string {
	return h.sceneID
}

func (h *QueryHandler) GetClientID() string {
	return h.clientID
}

// Handshake returns a websocket handshake that rejects stream connections when
// streaming is disabled, then defers to next. next may be nil.
func Handshake(flags featureflag.FeatureFlag, next func(*websocket.Config, *http.Request) error) func(*websocket.Config, *http.Request) error {
	return func(c *websocket.Config, r *http.Request) error {
		if flags.IsSet(featureflag.FlagDisableStreamQueries) {
			return errors.New("stream queries are disabled").
				WithType(httpcmn.ErrTypeFeatureDisabled)
		}

		if next != nil {
			return next(c, r)
		}
		return nil
	}
}

func newErrorData(err error) httpcmn.ErrorResponse {
	if errors.IsType(err, ErrTypeMsgInvalid) {
		return httpcmn.ErrorResponse{
			Error:   http.StatusText(http.StatusBadRequest),
			Type:    ErrTypeMsgInvalid,
			Details: err.Error(),
		}
	}
	return httpcmn.NewErrorResponse(err)
}
