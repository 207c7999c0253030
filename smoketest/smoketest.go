// Package smoketest checks that a Kenaz server answers scene queries over
// HTTP and over a stream.
package smoketest

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/kenaz/geometry"
	kenazhttp "github.com/aukilabs/kenaz/http"
	"github.com/aukilabs/kenaz/models"
	"github.com/aukilabs/kenaz/query"
	kwebsocket "github.com/aukilabs/kenaz/websocket"
	"github.com/google/uuid"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"

	ErrTypeFailed = "smoke_test_failed"

	defaultTimeout = time.Second * 10
)

type Options struct {
	// The base URL of the tested server.
	Endpoint string

	// The bearer token sent to the tested server.
	Token string

	UserAgent string
	Timeout   time.Duration
	Transport http.RoundTripper
}

// Results describes a smoke test run.
type Results struct {
	Endpoint string        `json:"endpoint"`
	Status   string        `json:"status"`
	Error    string        `json:"error,omitempty"`
	Steps    []StepResults `json:"steps"`
}

type StepResults struct {
	Name            string  `json:"name"`
	LatencyMilliSec float64 `json:"latency_ms"`
	Error           string  `json:"error,omitempty"`
}

// HandleSmokeTest runs a smoke test against the configured endpoint and
// responds with its results. Failed runs are answered with a 503. Runs stop
// when ctx is canceled.
func HandleSmokeTest(ctx context.Context, opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := Run(ctx, opts)
		status := http.StatusOK
		if err != nil {
			logs.WithTag("endpoint", opts.Endpoint).Warn(err)
			status = http.StatusServiceUnavailable
		}

		b, err := json.Marshal(res)
		if err != nil {
			logs.Error(errors.New("encoding smoke test results failed").Wrap(err))
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write(b)
	}
}

// Run creates a scene on the endpoint, queries it with a point query and a
// streamed nearest query, then deletes it.
func Run(ctx context.Context, opts Options) (Results, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	c := client{
		Options: opts,
		http: &http.Client{
			Transport: opts.Transport,
			Timeout:   opts.Timeout,
		},
	}

	res := Results{
		Endpoint: opts.Endpoint,
		Status:   StatusSuccess,
	}

	var sceneID string
	steps := []struct {
		name string
		run  func() error
	}{
		{
			name: "create_scene",
			run: func() error {
				var err error
				sceneID, err = c.createScene(ctx)
				return err
			},
		},
		{
			name: "point_query",
			run: func() error {
				return c.pointQuery(ctx, sceneID)
			},
		},
		{
			name: "stream_query",
			run: func() error {
				return c.streamQuery(ctx, sceneID)
			},
		},
		{
			name: "delete_scene",
			run: func() error {
				return c.deleteScene(ctx, sceneID)
			},
		},
	}

	for _, step := range steps {
		start := time.Now()
		err := step.run()

		stepRes := StepResults{
			Name:            step.name,
			LatencyMilliSec: float64(time.Since(start).Microseconds()) / 1000,
		}
		if err != nil {
			stepRes.Error = err.Error()
		}
		res.Steps = append(res.Steps, stepRes)

		if err != nil {
			res.Status = StatusFailed
			res.Error = err.Error()

			if sceneID != "" && step.name != "delete_scene" {
				c.deleteScene(context.Background(), sceneID)
			}

			return res, errors.New("smoke test failed").
				WithType(ErrTypeFailed).
				WithTag("step", step.name).
				WithTag("endpoint", opts.Endpoint).
				Wrap(err)
		}
	}
	return res, nil
}

var smokeItems = []models.Item{
	{ID: "a", Rect: smokeRect(0, 0, 1, 1)},
	{ID: "b", Rect: smokeRect(2, 0, 1, 1)},
	{ID: "c", Rect: smokeRect(0, 2, 1, 1)},
	{ID: "d", Rect: smokeRect(2, 2, 1, 1)},
}

func smokeRect(x, y, w, h float64) geometry.Rect[float64] {
	return geometry.NewRect(geometry.NewVector2(x, y), geometry.NewVector2(w, h))
}

type client struct {
	Options

	http *http.Client
}

func (c client) createScene(ctx context.Context) (string, error) {
	var info kenazhttp.SceneInfo
	err := c.do(ctx, http.MethodPost, "/scenes", kenazhttp.CreateSceneRequest{
		Name:  "smoke-test-" + uuid.NewString(),
		Items: smokeItems,
	}, http.StatusCreated, &info)
	if err != nil {
		return "", err
	}

	if info.ItemCount != len(smokeItems) {
		return "", errors.New("unexpected item count").
			WithTag("expected", len(smokeItems)).
			WithTag("actual", info.ItemCount)
	}
	return info.ID, nil
}

func (c client) pointQuery(ctx context.Context, sceneID string) error {
	p := geometry.NewVector2(2.5, 0.5)

	var res query.Response
	err := c.do(ctx, http.MethodPost, "/scenes/"+sceneID+"/query", query.Request{
		Type:  query.TypePoint,
		Point: &p,
	}, http.StatusOK, &res)
	if err != nil {
		return err
	}
	return expectItem(res, "b")
}

func (c client) streamQuery(ctx context.Context, sceneID string) error {
	config, err := websocket.NewConfig(
		toWebSocketURL(c.Endpoint)+"/scenes/"+sceneID+"/stream",
		c.Endpoint,
	)
	if err != nil {
		return errors.New("creating stream config failed").Wrap(err)
	}
	c.setHeaders(config.Header)

	conn, err := config.DialContext(ctx)
	if err != nil {
		return errors.New("dialing stream failed").Wrap(err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	p := geometry.NewVector2(0.2, 3.4)
	msg, err := kwebsocket.NewMsg(kwebsocket.MsgTypeQuery, 1, query.Request{
		Type:  query.TypeNearest,
		Point: &p,
	})
	if err != nil {
		return err
	}

	if _, err := kwebsocket.NewSender(conn)(msg); err != nil {
		return errors.New("sending stream query failed").Wrap(err)
	}

	reply, _, err := kwebsocket.NewReceiver(conn)()
	if err != nil {
		return errors.New("receiving stream result failed").Wrap(err)
	}
	if reply.Type != kwebsocket.MsgTypeQueryResult || reply.RequestID != 1 {
		return errors.New("unexpected stream message").
			WithTag("msg_type", reply.Type).
			WithTag("request_id", reply.RequestID)
	}

	var res query.Response
	if err := reply.DataTo(&res); err != nil {
		return err
	}
	return expectItem(res, "c")
}

func (c client) deleteScene(ctx context.Context, sceneID string) error {
	return c.do(ctx, http.MethodDelete, "/scenes/"+sceneID, nil, http.StatusNoContent, nil)
}

func (c client) do(ctx context.Context, method, path string, in any, status int, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return errors.New("encoding request failed").Wrap(err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimSuffix(c.Endpoint, "/")+path, body)
	if err != nil {
		return errors.New("creating request failed").Wrap(err)
	}
	c.setHeaders(req.Header)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return errors.New("sending request failed").
			WithTag("method", method).
			WithTag("path", path).
			Wrap(err)
	}
	defer res.Body.Close()

	b, err := io.ReadAll(res.Body)
	if err != nil {
		return errors.New("reading response failed").Wrap(err)
	}

	if res.StatusCode != status {
		return errors.New("unexpected status code").
			WithTag("method", method).
			WithTag("path", path).
			WithTag("expected", status).
			WithTag("actual", res.StatusCode).
			WithTag("body", string(b))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return errors.New("decoding response failed").Wrap(err)
	}
	return nil
}

func (c client) setHeaders(h http.Header) {
	if c.Token != "" {
		h.Set("Authorization", "Bearer "+c.Token)
	}
	if c.UserAgent != "" {
		h.Set("User-Agent", c.UserAgent)
	}
	h.Set(kenazhttp.HeaderClientID, "smoke-test")
}

func expectItem(res query.Response, id string) error {
	if !res.Found || res.Item == nil {
		return errors.New("query found nothing").WithTag("expected", id)
	}
	if res.Item.ID != id {
		return errors.New("query found the wrong item").
			WithTag("expected", id).
			WithTag("actual", res.Item.ID)
	}
	return nil
}

func toWebSocketURL(endpoint string) string {
	endpoint = strings.TrimSuffix(endpoint, "/")
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		return "wss://" + strings.TrimPrefix(endpoint, "https://")
	case strings.HasPrefix(endpoint, "http://"):
		return "ws://" + strings.TrimPrefix(endpoint, "http://")
	default:
		return endpoint
	}
}
