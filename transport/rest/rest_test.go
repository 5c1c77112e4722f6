package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/buzkaaclicker/chatgate"
	"github.com/buzkaaclicker/chatgate/admission"
	"github.com/buzkaaclicker/chatgate/gateway"
	"github.com/buzkaaclicker/chatgate/inmem"
	"github.com/buzkaaclicker/chatgate/session"
	"github.com/gofiber/fiber/v2"
)

type sent struct {
	UserIds []chatgate.UserId
	Event   gateway.Event
	Except  string
}

type recordingFanout struct {
	mutex  sync.Mutex
	sent   []sent
	online []chatgate.UserId
	conns  []gateway.ConnectionInfo
}

func (f *recordingFanout) SendToUsers(userIds []chatgate.UserId, event gateway.Event) (int, error) {
	return f.SendExceptSender(userIds, event, "")
}

func (f *recordingFanout) SendExceptSender(userIds []chatgate.UserId, event gateway.Event,
	senderConnectionId string) (int, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.sent = append(f.sent, sent{UserIds: userIds, Event: event, Except: senderConnectionId})
	return len(userIds), nil
}

func (f *recordingFanout) OnlineUsers(userIds []chatgate.UserId) []chatgate.UserId {
	online := make([]chatgate.UserId, 0)
	for _, id := range userIds {
		for _, o := range f.online {
			if id == o {
				online = append(online, id)
			}
		}
	}
	return online
}

func (f *recordingFanout) Connections() []gateway.ConnectionInfo {
	return f.conns
}

func (f *recordingFanout) events() []sent {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return append([]sent(nil), f.sent...)
}

type testApi struct {
	app        *fiber.App
	manager    *session.Manager
	store      *inmem.SessionStore
	directory  *inmem.Directory
	activities *inmem.ActivityStore
	fanout     *recordingFanout
}

func newTestApi(limiter *admission.Limiter) testApi {
	store := inmem.NewSessionStore()
	activities := inmem.NewActivityStore()
	directory := inmem.NewDirectory()
	manager := &session.Manager{Store: store, ActivityStore: activities}
	fanout := &recordingFanout{}

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	app.Use(LogHandler())
	(&Api{
		Limiter:    limiter,
		Sessions:   manager,
		Directory:  directory,
		Activities: activities,
		Fanout:     fanout,
	}).InstallTo(app)
	app.Use(NotFoundHandler)

	return testApi{
		app:        app,
		manager:    manager,
		store:      store,
		directory:  directory,
		activities: activities,
		fanout:     fanout,
	}
}

func (a testApi) login(t *testing.T, userId chatgate.UserId) chatgate.Session {
	s, err := a.manager.Create(context.Background(), userId, "127.0.0.1", "test")
	if err != nil {
		t.Fatal(err)
	}
	return s
}

// call sends a request and returns status code with raw body.
func (a testApi) call(t *testing.T, method string, target string, token string, body interface{}) (int, string) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(encoded)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	resp, err := a.app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, string(raw)
}

// field decodes the named envelope field of body into v.
func field(t *testing.T, body string, name string, v interface{}) {
	envelope := map[string]json.RawMessage{}
	if err := json.Unmarshal([]byte(body), &envelope); err != nil {
		t.Fatalf("%v: %s", err, body)
	}
	raw, ok := envelope[name]
	if !ok {
		t.Fatalf("no field %s in %s", name, body)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		t.Fatal(err)
	}
}

