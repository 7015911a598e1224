package loop_test

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/aahoughton/cowboy/api"
	"github.com/aahoughton/cowboy/handler"
	"github.com/aahoughton/cowboy/internal/concurrency"
	"github.com/aahoughton/cowboy/internal/logging"
	"github.com/aahoughton/cowboy/loop"
	"github.com/aahoughton/cowboy/request"
)

// poller subscribes in Init and answers with the first message.
type poller struct {
	info    func(msg any, r request.Req, st any) (loop.Result, error)
	timeout time.Duration
	reasons []api.Reason
}

func (p *poller) Init(r request.Req, _ any) (handler.Result, error) {
	res := handler.Switch(loop.Protocol(p), r, 0)
	if p.timeout > 0 {
		res = res.IdleTimeout(p.timeout)
	}
	return res, nil
}

func (p *poller) Info(msg any, r request.Req, st any) (loop.Result, error) {
	return p.info(msg, r, st)
}

func (p *poller) Terminate(reason api.Reason, _ request.Req, _ any) error {
	p.reasons = append(p.reasons, reason)
	return nil
}

func serve(t *testing.T, ctx context.Context, p *poller, before func(inbox *concurrency.Mailbox)) (handler.Outcome, *http.Response, string) {
	t.Helper()
	out := &bytes.Buffer{}
	inbox := concurrency.NewMailbox()
	c := &request.Conn{
		R:     bufio.NewReader(strings.NewReader("GET /poll HTTP/1.1\r\nHost: h\r\n\r\n")),
		W:     bufio.NewWriter(out),
		ID:    3,
		Inbox: inbox,
		Peer:  "127.0.0.1:9",
	}
	req, err := request.ReadRequest(c, request.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if before != nil {
		before(inbox)
	}
	env := &handler.Env{Logger: logging.Discard(), Mailbox: inbox}
	o := handler.Run(ctx, p, nil, req, env)
	if err := o.Req.FinishResponse(); err != nil {
		t.Fatal(err)
	}
	resp, err := http.ReadResponse(bufio.NewReader(out), nil)
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	return o, resp, string(body)
}

func TestLoopReplies(t *testing.T) {
	p := &poller{info: func(msg any, r request.Req, st any) (loop.Result, error) {
		n := st.(int) + 1
		if n < 3 {
			return loop.Continue(r, n), nil
		}
		r, err := r.Reply(http.StatusOK, nil, []byte(msg.(string)))
		return loop.Stop(r, n), err
	}}
	o, resp, body := serve(t, context.Background(), p, func(in *concurrency.Mailbox) {
		go func() {
			for _, m := range []string{"a", "b", "c"} {
				in.Send(m)
			}
		}()
	})
	if resp.StatusCode != http.StatusOK || body != "c" {
		t.Errorf("status %d body %q", resp.StatusCode, body)
	}
	if !o.KeepAlive || o.Upgraded {
		t.Errorf("outcome = %+v", o)
	}
	if len(p.reasons) != 1 || p.reasons[0].Cause != api.CauseStop {
		t.Errorf("reasons = %v", p.reasons)
	}
}

func TestLoopStopWithoutReply(t *testing.T) {
	p := &poller{info: func(_ any, r request.Req, st any) (loop.Result, error) {
		return loop.Stop(r, st), nil
	}}
	_, resp, _ := serve(t, context.Background(), p, func(in *concurrency.Mailbox) { in.Send("x") })
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestLoopTimeout(t *testing.T) {
	p := &poller{
		timeout: 20 * time.Millisecond,
		info: func(_ any, r request.Req, st any) (loop.Result, error) {
			t.Error("unexpected message")
			return loop.Stop(r, st), nil
		},
	}
	_, resp, _ := serve(t, context.Background(), p, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if len(p.reasons) != 1 || p.reasons[0].Cause != api.CauseTimeout {
		t.Errorf("reasons = %v", p.reasons)
	}
}

func TestLoopCrash(t *testing.T) {
	boom := errors.New("boom")
	p := &poller{info: func(any, request.Req, any) (loop.Result, error) {
		return loop.Result{}, boom
	}}
	o, resp, _ := serve(t, context.Background(), p, func(in *concurrency.Mailbox) { in.Send("x") })
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if o.KeepAlive {
		t.Error("crashed loop kept alive")
	}
	if len(p.reasons) != 1 || !errors.Is(p.reasons[0].Crash, boom) {
		t.Errorf("reasons = %v", p.reasons)
	}
}

func TestLoopStreams(t *testing.T) {
	p := &poller{info: func(msg any, r request.Req, st any) (loop.Result, error) {
		if msg == "end" {
			return loop.Stop(r, st), nil
		}
		var err error
		if !r.Sent() {
			if r, err = r.StreamReply(http.StatusOK, map[string]string{"content-type": "text/plain"}); err != nil {
				return loop.Result{}, err
			}
		}
		r, err = r.StreamBody([]byte(msg.(string)), false)
		return loop.Continue(r, st), err
	}}
	_, resp, body := serve(t, context.Background(), p, func(in *concurrency.Mailbox) {
		in.Send("one,")
		in.Send("two")
		in.Send("end")
	})
	if resp.StatusCode != http.StatusOK || body != "one,two" {
		t.Errorf("status %d body %q", resp.StatusCode, body)
	}
}

func TestLoopShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &poller{info: func(_ any, r request.Req, st any) (loop.Result, error) {
		return loop.Continue(r, st), nil
	}}
	_, resp, _ := serve(t, ctx, p, nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if p.reasons[0].Cause != api.CauseShutdown {
		t.Errorf("reason = %v", p.reasons[0])
	}
}
