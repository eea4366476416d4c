package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/meteo-pwa/meteo-hub/internal/logging"
)

type recordingSink struct {
	shown []Notification
}

func (s *recordingSink) Show(_ context.Context, n Notification) error {
	s.shown = append(s.shown, n)
	return nil
}

type countingRequester struct {
	result Permission
	err    error
	calls  int
}

func (r *countingRequester) RequestPermission(context.Context) (Permission, error) {
	r.calls++
	return r.result, r.err
}

func TestSendPermissionMatrix(t *testing.T) {
	cases := []struct {
		name      string
		initial   Permission
		requested Permission
		shown     bool
		asked     int
	}{
		{"granted", PermissionGranted, PermissionDenied, true, 0},
		{"denied", PermissionDenied, PermissionGranted, false, 0},
		{"default-then-granted", PermissionDefault, PermissionGranted, true, 1},
		{"default-then-denied", PermissionDefault, PermissionDenied, false, 1},
		{"default-then-dismissed", PermissionDefault, PermissionDefault, false, 1},
	}
	for _, tc := range cases {
		sink := &recordingSink{}
		requester := &countingRequester{result: tc.requested}
		center := NewCenter(tc.initial, requester, sink)

		shown, err := center.Send(context.Background(), "Paris, France", "🌧️ Pluie dans 1 heure")
		if err != nil {
			t.Fatalf("%s: send error: %v", tc.name, err)
		}
		if shown != tc.shown || (len(sink.shown) == 1) != tc.shown {
			t.Fatalf("%s: expected shown=%v, got %v", tc.name, tc.shown, shown)
		}
		if requester.calls != tc.asked {
			t.Fatalf("%s: expected %d permission requests, got %d", tc.name, tc.asked, requester.calls)
		}
	}
}

func TestSendRemembersDecision(t *testing.T) {
	requester := &countingRequester{result: PermissionGranted}
	center := NewCenter(PermissionDefault, requester, &recordingSink{})
	center.Send(context.Background(), "a", "b")
	center.Send(context.Background(), "a", "b")
	if requester.calls != 1 || center.Permission() != PermissionGranted {
		t.Fatalf("permission should be asked once, calls=%d", requester.calls)
	}
}

func TestSendPropagatesRequesterError(t *testing.T) {
	boom := errors.New("prompt failed")
	center := NewCenter(PermissionDefault, &countingRequester{err: boom}, &recordingSink{})
	if _, err := center.Send(context.Background(), "a", "b"); !errors.Is(err, boom) {
		t.Fatalf("expected requester error, got %v", err)
	}
}

func TestParsePermission(t *testing.T) {
	if p, err := ParsePermission("granted"); err != nil || p != PermissionGranted {
		t.Fatalf("unexpected parse result %v %v", p, err)
	}
	if _, err := ParsePermission("maybe"); err == nil {
		t.Fatalf("unknown permission should fail")
	}
}

func TestLogSinkWritesNotification(t *testing.T) {
	logger := logging.Discard()
	buf := &bytes.Buffer{}
	logger.SetOutput(buf)
	logger.SetFormatter(&logrus.JSONFormatter{})

	center := NewCenter(PermissionGranted, nil, NewLogSink(logger))
	if shown, err := center.Send(context.Background(), "Paris, France", "🌡️ Temp > 10°C : 13°C"); err != nil || !shown {
		t.Fatalf("notification should be shown: %v", err)
	}
	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log should be json: %v", err)
	}
	if line["title"] != "Paris, France" || line["icon"] != DefaultIcon {
		t.Fatalf("unexpected log line %v", line)
	}
}
