package eventbus

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/auditengine/engine/pkg/model"
)

func TestBus_RoutesStreamsBufferedBacklogThenLiveEvents(t *testing.T) {
	b := New(nil, nil)
	b.Publish(context.Background(), model.Event{TaskID: "t1", Kind: model.EventAgentStep, Message: "buffered"})

	r := chi.NewRouter()
	b.Routes(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/tasks/t1/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "event: message\n", line)
	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	require.Contains(t, line, "buffered")

	go func() {
		time.Sleep(20 * time.Millisecond)
		b.Publish(context.Background(), model.Event{TaskID: "t1", Kind: model.EventTaskComplete})
	}()

	var saw []string
	for i := 0; i < 6; i++ {
		line, err := reader.ReadString('\n')
		if err != nil {
			break
		}
		if strings.HasPrefix(line, "event: ") {
			saw = append(saw, strings.TrimSpace(strings.TrimPrefix(line, "event: ")))
		}
	}
	require.Contains(t, saw, "done")
}

func TestBus_RoutesRejectsMissingTaskID(t *testing.T) {
	b := New(nil, nil)
	r := chi.NewRouter()
	b.Routes(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/tasks//events")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NotEqual(t, http.StatusOK, resp.StatusCode)
}
