package telemetry

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"uwb-engine/calib"
	"uwb-engine/fusion"
)

type doneToken struct {
	mqtt.Token
	err       error
	delivered bool
}

func (t *doneToken) Wait() bool { return t.delivered }
func (t *doneToken) WaitTimeout(time.Duration) bool { return t.delivered }
func (t *doneToken) Error() error { return t.err }
func (t *doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	if t.delivered {
		close(ch)
	}
	return ch
}

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakeClient records publishes; other client methods are not used.
type fakeClient struct {
	mqtt.Client
	sent  []published
	token *doneToken
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.sent = append(c.sent, published{topic, qos, retained, payload.([]byte)})
	return c.token
}

func TestPublishPosition(t *testing.T) {
	c := &fakeClient{token: &doneToken{delivered: true}}
	p := NewPublisher(c, "site/a")

	res := fusion.Result{TimestampMs: 42, Smoothed: fusion.Position{X: 1, Y: 2}, Used: 4, Flag: fusion.FlagFix}
	if err := p.PublishPosition(7, res); err != nil {
		t.Fatalf("PublishPosition: %v", err)
	}
	if len(c.sent) != 1 {
		t.Fatalf("sent %d messages", len(c.sent))
	}
	m := c.sent[0]
	if m.topic != "site/a/position" || m.qos != 0 || m.retained {
		t.Fatalf("publish %+v", m)
	}
	var got struct {
		Tag  int             `json:"tag"`
		TS   int64           `json:"ts"`
		Pos  fusion.Position `json:"pos"`
		Used int             `json:"used"`
	}
	if err := json.Unmarshal(m.payload, &got); err != nil {
		t.Fatalf("payload %s: %v", m.payload, err)
	}
	if got.Tag != 7 || got.TS != 42 || got.Pos.Y != 2 || got.Used != 4 {
		t.Fatalf("payload %s", m.payload)
	}
}

func TestPublishCalibration(t *testing.T) {
	c := &fakeClient{token: &doneToken{delivered: true}}
	p := NewPublisher(c, "uwb/tag")
	if err := p.PublishCalibration(1000, calib.Result{AnchorID: 3, K: 0.9, B: 0.1, Samples: 80}); err != nil {
		t.Fatalf("PublishCalibration: %v", err)
	}
	m := c.sent[0]
	if m.topic != "uwb/tag/calibration" || m.qos != 1 || !m.retained {
		t.Fatalf("publish %+v", m)
	}

	c.token = &doneToken{delivered: false}
	if err := p.PublishCalibration(1000, calib.Result{}); err == nil {
		t.Fatal("undelivered publish reported success")
	}

	brokerErr := errors.New("not authorised")
	c.token = &doneToken{delivered: true, err: brokerErr}
	if err := p.PublishCalibration(1000, calib.Result{}); !errors.Is(err, brokerErr) {
		t.Fatalf("err = %v, want %v", err, brokerErr)
	}
}

func TestConnectNeedsBroker(t *testing.T) {
	if _, err := Connect(Config{}); err == nil {
		t.Fatal("Connect without broker succeeded")
	}
}
