package hub

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
)

const clientBuffer = 16

// SockJSHandler serves display screens under prefix. Each client receives the
// current board on connect and may narrow its stream with a subscribe message.
func (f *Feed) SockJSHandler(prefix string) http.Handler {
	return sockjs.NewHandler(prefix, sockjs.DefaultOptions, func(session sockjs.Session) {
		client := &Client{ID: uuid.NewString(), Send: make(chan []byte, clientBuffer)}
		if req := session.Request(); req != nil {
			q := req.URL.Query()
			client.Subscription = Subscription{BranchID: q.Get("branch_id"), DepartmentID: q.Get("department_id")}
		}
		f.hub.Register(client)
		defer f.hub.Unregister(client)

		go func() {
			for msg := range client.Send {
				_ = session.Send(string(msg))
			}
		}()

		if snapshot, err := f.Snapshot(); err == nil {
			_ = session.Send(string(snapshot))
		}

		for {
			msg, err := session.Recv()
			if err != nil {
				return
			}
			parsed, ok := ParseSubscribe([]byte(msg))
			if !ok {
				continue
			}
			if parsed.Action == "unsubscribe" {
				f.hub.UpdateSubscription(client, Subscription{})
				continue
			}
			f.hub.UpdateSubscription(client, Subscription{BranchID: parsed.BranchID, DepartmentID: parsed.DepartmentID})
		}
	})
}
