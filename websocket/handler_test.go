package websocket

import (
	"testing"
	"time"

	"github.com/aukilabs/kenaz/featureflag"
	"github.com/aukilabs/kenaz/geometry"
	httpcmn "github.com/aukilabs/kenaz/http"
	"github.com/aukilabs/kenaz/models"
	"github.com/aukilabs/kenaz/query"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"
)

func newTestStore(t *testing.T) (*models.SceneStore, string) {
	store, err := models.NewSceneStore("ted", 1)
	require.NoError(t, err)

	items := make([]models.Item, 0, 16)
	for i := 0; i < 16; i++ {
		items = append(items, models.Item{
			Label: "crate",
			Rect: geometry.NewRect(
				geometry.NewVector2(float64(i%4)*10, float64(i/4)*10),
				geometry.NewVector2(5.0, 5.0),
			),
		})
	}
	items[5].ID = "target"

	scene := models.NewScene(store.NewID(), "warehouse")
	require.NoError(t, scene.Rebuild(items, store.NewGeneration()))
	store.Add(scene)
	return store, store.GlobalSceneID(scene.ID)
}

type testClient struct {
	t       *testing.T
	conn    *websocket.Conn
	send    Sender
	receive Receiver
}

func newTestClient(t *testing.T, dial func(string) (*websocket.Conn, error), sceneID string) testClient {
	conn, err := dial(sceneID)
	require.NoError(t, err)

	return testClient{
		t:       t,
		conn:    conn,
		send:    NewSender(conn),
		receive: NewReceiver(conn),
	}
}

func (c testClient) Send(msgType MsgType, requestID uint32, data any) {
	msg, err := NewMsg(msgType, requestID, data)
	require.NoError(c.t, err)

	_, err = c.send(msg)
	require.NoError(c.t, err)
}

func (c testClient) Receive() Msg {
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(time.Second*5)))

	msg, _, err := c.receive()
	require.NoError(c.t, err)
	return msg
}

func point(x, y float64) *geometry.Vector2[float64] {
	p := geometry.NewVector2(x, y)
	return &p
}

func TestHandlerHandlePing(t *testing.T) {
	store, sceneID := newTestStore(t)

	dial, close := NewTestingEnv(t, nil, newTestHandler(store, 0, nil, time.Minute))
	defer close()

	client := newTestClient(t, dial, sceneID)
	client.Send(MsgTypePing, 42, nil)

	msg := client.Receive()
	require.Equal(t, MsgTypePong, msg.Type)
	require.Equal(t, uint32(42), msg.RequestID)
	require.Empty(t, msg.Data)
}

func TestHandlerHandleQuery(t *testing.T) {
	store, sceneID := newTestStore(t)

	dial, close := NewTestingEnv(t, nil, newTestHandler(store, 0, nil, time.Minute))
	defer close()

	client := newTestClient(t, dial, sceneID)

	t.Run("point", func(t *testing.T) {
		client.Send(MsgTypeQuery, 1, query.Request{
			Type:  query.TypePoint,
			Point: point(12, 12),
		})

		msg := client.Receive()
		require.Equal(t, MsgTypeQueryResult, msg.Type)
		require.Equal(t, uint32(1), msg.RequestID)

		var res query.Response
		require.NoError(t, msg.DataTo(&res))
		require.True(t, res.Found)
		require.Equal(t, "target", res.Item.ID)
		require.False(t, res.Partial)
	})

	t.Run("region", func(t *testing.T) {
		client.Send(MsgTypeQuery, 2, query.Request{
			Type: query.TypeRegion,
			Region: geometry.NewRect(
				geometry.NewVector2(0.0, 0.0),
				geometry.NewVector2(16.0, 6.0),
			),
		})

		msg := client.Receive()
		require.Equal(t, MsgTypeQueryResult, msg.Type)

		var res query.Response
		require.NoError(t, msg.DataTo(&res))
		require.Len(t, res.Items, 2)
	})

	t.Run("invalid query", func(t *testing.T) {
		client.Send(MsgTypeQuery, 3, query.Request{Type: query.TypePoint})

		msg := client.Receive()
		require.Equal(t, MsgTypeError, msg.Type)
		require.Equal(t, uint32(3), msg.RequestID)

		var res httpcmn.ErrorResponse
		require.NoError(t, msg.DataTo(&res))
		require.Equal(t, query.ErrTypeInvalid, res.Type)
	})

	t.Run("query without data", func(t *testing.T) {
		client.Send(MsgTypeQuery, 4, nil)

		msg := client.Receive()
		require.Equal(t, MsgTypeError, msg.Type)

		var res httpcmn.ErrorResponse
		require.NoError(t, msg.DataTo(&res))
		require.Equal(t, ErrTypeMsgInvalid, res.Type)
	})

	t.Run("unknown message type", func(t *testing.T) {
		client.Send("teleport", 5, nil)

		msg := client.Receive()
		require.Equal(t, MsgTypeError, msg.Type)
		require.Equal(t, uint32(5), msg.RequestID)

		var res httpcmn.ErrorResponse
		require.NoError(t, msg.DataTo(&res))
		require.Equal(t, ErrTypeMsgInvalid, res.Type)
	})

	t.Run("malformed frame", func(t *testing.T) {
		require.NoError(t, websocket.Message.Send(client.conn, "{nope"))

		msg := client.Receive()
		require.Equal(t, MsgTypeError, msg.Type)

		// The connection is still usable.
		client.Send(MsgTypePing, 6, nil)
		require.Equal(t, MsgTypePong, client.Receive().Type)
	})
}

func TestHandlerHandleQueryBudgetExhausted(t *testing.T) {
	store, sceneID := newTestStore(t)

	dial, close := NewTestingEnv(t, nil, newTestHandler(store, 2, nil, time.Minute))
	defer close()

	client := newTestClient(t, dial, sceneID)
	client.Send(MsgTypeQuery, 1, query.Request{
		Type:  query.TypeNearest,
		Point: point(100, 100),
	})

	msg := client.Receive()
	require.Equal(t, MsgTypeQueryResult, msg.Type)

	var res query.Response
	require.NoError(t, msg.DataTo(&res))
	require.True(t, res.Partial)
	require.Equal(t, 2, res.Visited)
}

func TestHandlerHandleQuerySceneNotFound(t *testing.T) {
	store, sceneID := newTestStore(t)

	dial, close := NewTestingEnv(t, nil, newTestHandler(store, 0, nil, time.Minute))
	defer close()

	client := newTestClient(t, dial, sceneID)

	scene, ok := store.GetByGlobalID(sceneID)
	require.True(t, ok)
	store.Remove(scene)

	client.Send(MsgTypeQuery, 1, query.Request{
		Type:  query.TypePoint,
		Point: point(12, 12),
	})

	msg := client.Receive()
	require.Equal(t, MsgTypeError, msg.Type)

	var res httpcmn.ErrorResponse
	require.NoError(t, msg.DataTo(&res))
	require.Equal(t, models.ErrTypeSceneNotFound, res.Type)
}

func TestHandlerRegionQueriesDisabled(t *testing.T) {
	store, sceneID := newTestStore(t)
	flags := featureflag.New([]string{string(featureflag.FlagDisableRegionQueries)})

	dial, close := NewTestingEnv(t, flags, newTestHandler(store, 0, flags, time.Minute))
	defer close()

	client := newTestClient(t, dial, sceneID)
	client.Send(MsgTypeQuery, 1, query.Request{
		Type: query.TypeRegion,
		Region: geometry.NewRect(
			geometry.NewVector2(0.0, 0.0),
			geometry.NewVector2(1.0, 1.0),
		),
	})

	msg := client.Receive()
	require.Equal(t, MsgTypeError, msg.Type)

	var res httpcmn.ErrorResponse
	require.NoError(t, msg.DataTo(&res))
	require.Equal(t, httpcmn.ErrTypeFeatureDisabled, res.Type)
}

func TestHandlerStreamDisabled(t *testing.T) {
	store, sceneID := newTestStore(t)
	flags := featureflag.New([]string{string(featureflag.FlagDisableStreamQueries)})

	dial, close := NewTestingEnv(t, flags, newTestHandler(store, 0, flags, time.Minute))
	defer close()

	_, err := dial(sceneID)
	require.Error(t, err)
}

func TestHandlerIdleTimeout(t *testing.T) {
	store, sceneID := newTestStore(t)

	dial, close := NewTestingEnv(t, nil, newTestHandler(store, 0, nil, time.Millisecond*50))
	defer close()

	client := newTestClient(t, dial, sceneID)
	require.NoError(t, client.conn.SetReadDeadline(time.Now().Add(time.Second*5)))

	_, _, err := client.receive()
	require.Error(t, err)
}

func TestMsg(t *testing.T) {
	msg, err := NewMsg(MsgTypeQuery, 7, query.Request{Type: query.TypePoint, Point: point(1, 2)})
	require.NoError(t, err)
	require.Equal(t, "query", msg.TypeString())

	var req query.Request
	require.NoError(t, msg.DataTo(&req))
	require.Equal(t, query.TypePoint, req.Type)
	require.Equal(t, float64(2), req.Point.Y)

	require.Equal(t, "unknown", Msg{}.TypeString())
	require.Error(t, Msg{Type: MsgTypeQuery}.DataTo(&req))
	require.Error(t, Msg{Type: MsgTypeQuery, Data: []byte("[")}.DataTo(&req))
}
