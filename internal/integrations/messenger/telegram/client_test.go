package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/PickupRelay/internal/integrations/messenger"
	"github.com/BearBump/PickupRelay/internal/models"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type botAPIStub struct {
	mu    sync.Mutex
	calls map[string][]map[string]string
	reply map[string]string
}

func newBotAPIStub() *botAPIStub {
	return &botAPIStub{
		calls: map[string][]map[string]string{},
		reply: map[string]string{
			"getMe": `{"ok":true,"result":{"id":7,"is_bot":true,"first_name":"Pickup","username":"pickup_bot"}}`,
		},
	}
}

func (s *botAPIStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]

	params := map[string]string{}
	for k := range r.PostForm {
		params[k] = r.PostForm.Get(k)
	}

	s.mu.Lock()
	s.calls[method] = append(s.calls[method], params)
	body, ok := s.reply[method]
	s.mu.Unlock()

	if !ok {
		body = `{"ok":false,"error_code":404,"description":"Not Found: method not stubbed"}`
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(body))
}

func (s *botAPIStub) on(method, body string) {
	s.mu.Lock()
	s.reply[method] = body
	s.mu.Unlock()
}

func (s *botAPIStub) last(method string) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.calls[method]
	if len(c) == 0 {
		return nil
	}
	return c[len(c)-1]
}

func newTestClient(t *testing.T, stub *botAPIStub) *Client {
	t.Helper()
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)

	c, err := NewWithHTTPClient("TOKEN", srv.URL+"/bot%s/%s", srv.Client())
	require.NoError(t, err)
	return c
}

func TestClient_Username(t *testing.T) {
	c := newTestClient(t, newBotAPIStub())
	require.Equal(t, "pickup_bot", c.Username())
}

func TestNew_UsesAPIEndpoint(t *testing.T) {
	stub := newBotAPIStub()
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)

	c, err := New("TOKEN", srv.URL+"/bot%s/%s")
	require.NoError(t, err)
	require.Equal(t, "pickup_bot", c.Username())
	require.NotNil(t, stub.last("getMe"))

	stub.on("getMe", `{"ok":false,"error_code":401,"description":"Unauthorized"}`)
	_, err = New("TOKEN", srv.URL+"/bot%s/%s")
	require.Error(t, err)
}

func TestClient_Send_WithButton(t *testing.T) {
	stub := newBotAPIStub()
	stub.on("sendMessage", `{"ok":true,"result":{"message_id":42,"chat":{"id":-100,"type":"supergroup"},"date":0,"text":"hi"}}`)
	c := newTestClient(t, stub)

	id, err := c.Send(context.Background(), -100, "<b>hi</b>", &models.LinkButton{Text: "Claim", URL: "https://t.me/pickup_bot?start=abc"})
	require.NoError(t, err)
	require.Equal(t, 42, id)

	p := stub.last("sendMessage")
	require.Equal(t, "-100", p["chat_id"])
	require.Equal(t, "<b>hi</b>", p["text"])
	require.Equal(t, "HTML", p["parse_mode"])
	require.Contains(t, p["reply_markup"], "https://t.me/pickup_bot?start=abc")
}

func TestClient_Send_NotOkIsDeliveryError(t *testing.T) {
	stub := newBotAPIStub()
	stub.on("sendMessage", `{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`)
	c := newTestClient(t, stub)

	_, err := c.Send(context.Background(), 5, "x", nil)
	require.Error(t, err)
	require.True(t, errors.Is(err, messenger.ErrDelivery))
	require.Contains(t, err.Error(), "blocked")
}

func TestClient_Delete(t *testing.T) {
	stub := newBotAPIStub()
	stub.on("deleteMessage", `{"ok":true,"result":true}`)
	c := newTestClient(t, stub)

	require.True(t, c.Delete(context.Background(), -100, 42))
	p := stub.last("deleteMessage")
	require.Equal(t, "-100", p["chat_id"])
	require.Equal(t, "42", p["message_id"])

	stub.on("deleteMessage", `{"ok":false,"error_code":400,"description":"Bad Request: message to delete not found"}`)
	require.False(t, c.Delete(context.Background(), -100, 42))
}

func TestClient_FetchUpdates_ConvertsAndPassesOffset(t *testing.T) {
	stub := newBotAPIStub()
	stub.on("getUpdates", `{"ok":true,"result":[
  {"update_id":10,"message":{"message_id":5,"from":{"id":42,"is_bot":false,"first_name":"Anna","username":"anna"},"chat":{"id":42,"type":"private","first_name":"Anna"},"date":0,"text":"/start abc123"}},
  {"update_id":11,"message":{"message_id":6,"from":{"id":43,"is_bot":false,"first_name":"Bo"},"chat":{"id":-100,"type":"supergroup"},"date":0,"text":"hello"}},
  {"update_id":12}
]}`)
	c := newTestClient(t, stub)

	ups, err := c.FetchUpdates(context.Background(), 10, 3*time.Second)
	require.NoError(t, err)
	require.Len(t, ups, 3)

	require.Equal(t, 10, ups[0].ID)
	require.NotNil(t, ups[0].Message)
	require.True(t, ups[0].Message.Private)
	require.Equal(t, "/start abc123", ups[0].Message.Text)
	require.Equal(t, int64(42), ups[0].Message.From.ID)
	require.Equal(t, "anna", ups[0].Message.From.Username)

	require.False(t, ups[1].Message.Private)
	require.Nil(t, ups[2].Message)

	p := stub.last("getUpdates")
	require.Equal(t, "10", p["offset"])
	require.Equal(t, "3", p["timeout"])
}

func TestClient_FetchUpdates_ErrorIsTransport(t *testing.T) {
	stub := newBotAPIStub()
	stub.on("getUpdates", `{"ok":false,"error_code":409,"description":"Conflict: terminated by other getUpdates request"}`)
	c := newTestClient(t, stub)

	_, err := c.FetchUpdates(context.Background(), 0, time.Second)
	require.True(t, errors.Is(err, messenger.ErrTransport))
}

func TestClient_Reset(t *testing.T) {
	stub := newBotAPIStub()
	stub.on("deleteWebhook", `{"ok":true,"result":true}`)
	c := newTestClient(t, stub)

	require.NoError(t, c.Reset(context.Background(), true))
	require.Equal(t, "true", stub.last("deleteWebhook")["drop_pending_updates"])
}
