package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openfroyo/parity/pkg/engine"
)

func TestClientRoundTrip(t *testing.T) {
	srv, _, execs := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	c := NewClient(ts.URL + "/")
	ctx := context.Background()

	sess, err := c.CreateSession(ctx, "qa")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if sess.ID != "sess_1" {
		t.Errorf("session id = %q", sess.ID)
	}

	list, err := c.Sessions(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("Sessions() = %v, %v", list, err)
	}

	info, err := c.Start(ctx, engine.StartRequest{SessionID: sess.ID, Categories: []string{"MV4"}})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if info.ID != "task_1" || len(execs.started) != 1 {
		t.Errorf("task = %+v", info)
	}

	status, err := c.Status(ctx, sess.ID)
	if err != nil || status.Total != 1 {
		t.Errorf("Status() = %+v, %v", status, err)
	}
	if _, err := c.Progress(ctx, sess.ID); err != nil {
		t.Errorf("Progress() error = %v", err)
	}
	cmp, err := c.Comparison(ctx, sess.ID, "exec_1", engine.StepPaymentCheckout)
	if err != nil || cmp.Step != "payment_checkout" {
		t.Errorf("Comparison() = %+v, %v", cmp, err)
	}
	if _, err := c.Task(ctx, "task_1"); err != nil {
		t.Errorf("Task() error = %v", err)
	}
	if _, err := c.Cancel(ctx, sess.ID); err != nil {
		t.Errorf("Cancel() error = %v", err)
	}
	rep, err := c.SessionReport(ctx, sess.ID)
	if err != nil || rep.SessionID != sess.ID {
		t.Errorf("SessionReport() = %+v, %v", rep, err)
	}
}

func TestClientStatusError(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	_, err := NewClient(ts.URL).Task(context.Background(), "missing")
	var serr *StatusError
	if !errors.As(err, &serr) {
		t.Fatalf("error = %v, want StatusError", err)
	}
	if serr.Status != http.StatusNotFound || serr.Code != engine.ErrCodeNotFound || serr.RequestID == "" {
		t.Errorf("StatusError = %+v", serr)
	}
}
