package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/kenaz/featureflag"
	httpcmn "github.com/aukilabs/kenaz/http"
	"github.com/aukilabs/kenaz/models"
	"github.com/google/uuid"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

// NewTestingEnv starts a server that serves scene streams with the handlers
// created by newHandler. It returns a function to connect to the stream of a
// scene and a function that shuts the server down.
func NewTestingEnv(t *testing.T, flags featureflag.FeatureFlag, newHandler func() Handler) (func(sceneID string) (*websocket.Conn, error), func()) {
	var mutex sync.Mutex
	logger := t.Log

	logs.Encoder = func(v any) ([]byte, error) {
		return json.MarshalIndent(v, "", "  ")
	}

	logs.SetLogger(func(e logs.Entry) {
		mutex.Lock()
		defer mutex.Unlock()

		if logger != nil {
			logger(e)
		}
	})

	errors.Encoder = json.Marshal

	dial, close := newTestingEnv(flags, newHandler)
	return dial, func() {
		mutex.Lock()
		defer mutex.Unlock()
		logger = nil
		close()
	}
}

func newTestingEnv(flags featureflag.FeatureFlag, newHandler func() Handler) (func(string) (*websocket.Conn, error), func()) {
	var mux http.ServeMux
	mux.Handle("GET /scenes/{id}/stream", websocket.Server{
		Handshake: Handshake(flags, nil),
		Handler: func(conn *websocket.Conn) {
			defer conn.Close()

			handler := newHandler()
			defer handler.Close()

			Handle(context.Background(), conn, handler)
		},
	})
	server := httptest.NewServer(&mux)

	var connsMutex sync.Mutex
	var conns []*websocket.Conn

	dial := func(sceneID string) (*websocket.Conn, error) {
		config, err := websocket.NewConfig(
			strings.ReplaceAll(server.URL, "http://", "ws://")+"/scenes/"+sceneID+"/stream",
			"http://localhost",
		)
		if err != nil {
			return nil, err
		}

		config.Header.Set("User-Agent", "ted")
		config.Header.Set("X-Forwarded-For", "192.0.0.0")
		config.Header.Set(httpcmn.HeaderClientID, uuid.NewString())

		conn, err := websocket.DialConfig(config)
		if err != nil {
			return nil, err
		}

		connsMutex.Lock()
		conns = append(conns, conn)
		connsMutex.Unlock()
		return conn, nil
	}

	return dial, func() {
		connsMutex.Lock()
		for _, conn := range conns {
			conn.Close()
		}
		connsMutex.Unlock()
		server.Close()
	}
}

func newTestHandler(scenes *models.SceneStore, budget int, flags featureflag.FeatureFlag, idleTimeout time.Duration) func() Handler {
	return func() Handler {
		var h Handler = &QueryHandler{
			ClientIdleTimeout: idleTimeout,
			Scenes:            scenes,
			QueryBudget:       budget,
			FeatureFlags:      flags,
		}

		h = HandlerWithLogs(h, time.Millisecond*100)
		h = HandlerWithMetrics(h, "https://kenaz-test.com")
		return h
	}
}
