package e2e

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/vidlens/engine/internal/client"
	"github.com/vidlens/engine/internal/client/clienttest"
	"github.com/vidlens/engine/internal/handler"
	"github.com/vidlens/engine/internal/middleware"
	"github.com/vidlens/engine/internal/plugins"
	"github.com/vidlens/engine/internal/service"
	"github.com/vidlens/engine/internal/store"
	ws "github.com/vidlens/engine/internal/websocket"
	"github.com/vidlens/engine/internal/worker"
)

const testQueue = "analysis"

// testApp wires the full stack against miniredis and a scripted analyser.
type testApp struct {
	app       *fiber.App
	analyser  *clienttest.Transport
	store     *store.RedisStore
	inspector *asynq.Inspector
	worker    *worker.JobWorker
	video     string
}

func setupApp(t *testing.T) *testApp {
	t.Helper()

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { redisClient.Close() })

	redisOpt := asynq.RedisClientOpt{Addr: mr.Addr()}
	asynqClient := asynq.NewClient(redisOpt)
	t.Cleanup(func() { asynqClient.Close() })
	inspector := asynq.NewInspector(redisOpt)
	t.Cleanup(func() { inspector.Close() })

	st := store.NewRedisStore(redisClient, time.Hour)

	artifacts, err := client.NewDiskStorage(t.TempDir(), "")
	if err != nil {
		t.Fatalf("failed to create artifact storage: %v", err)
	}
	registry, err := plugins.Register()
	if err != nil {
		t.Fatalf("failed to register plugins: %v", err)
	}

	analyser := clienttest.New()
	taskClient := client.NewTaskClient(analyser, client.Options{
		PollInterval: time.Millisecond,
		CacheDir:     t.TempDir(),
	})

	hub := ws.NewHub()
	go hub.Run()
	t.Cleanup(hub.Stop)

	executor := worker.NewExecutor(registry, st, taskClient, artifacts, hub)

	app := handler.NewApp(handler.Deps{
		Dispatcher:     service.NewDispatcher(registry, st, asynqClient, executor, artifacts, testQueue),
		Catalog:        service.NewCatalog(registry, taskClient, st),
		Hub:            hub,
		Limiter:        middleware.NewRateLimiter(redisClient),
		DispatchPerMin: 10000,
	})

	video := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(video, []byte("frames"), 0o600); err != nil {
		t.Fatalf("failed to write video: %v", err)
	}

	return &testApp{
		app:       app,
		analyser:  analyser,
		store:     st,
		inspector: inspector,
		worker:    worker.NewJobWorker(executor),
		video:     video,
	}
}

// registerSubject registers the test video under id.
func (ta *testApp) registerSubject(t *testing.T, id string) {
	t.Helper()
	body, _ := json.Marshal(map[string]any{"path": ta.video, "duration": 10, "fps": 25})
	resp, err := doRequest(ta.app, http.MethodPut, "/api/subjects/"+id, string(body))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
	resp.Body.Close()
}

// drainQueue hands every pending task to the job worker, like the asynq
// server would.
func (ta *testApp) drainQueue(t *testing.T) int {
	t.Helper()
	pending, err := ta.inspector.ListPendingTasks(testQueue)
	if errors.Is(err, asynq.ErrQueueNotFound) {
		return 0
	}
	if err != nil {
		t.Fatalf("failed to list pending tasks: %v", err)
	}
	for _, info := range pending {
		task := asynq.NewTask(info.Type, info.Payload)
		if err := ta.worker.ProcessTask(context.Background(), task); err != nil {
			t.Logf("task %s failed: %v", info.ID, err)
		}
		if err := ta.inspector.DeleteTask(testQueue, info.ID); err != nil {
			t.Fatalf("failed to delete task %s: %v", info.ID, err)
		}
	}
	return len(pending)
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	return app.Test(req, -1)
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}
