// Package command validates control commands and forwards them to the
// pub/sub transport.
package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/kilianp07/cariot/core/logger"
	"github.com/kilianp07/cariot/core/metrics"
	"github.com/kilianp07/cariot/core/topic"
)

// Transport is the outbound side of the pub/sub client.
type Transport interface {
	IsConnected() bool
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Entry is one command attempt as kept by a Journal.
type Entry struct {
	Topic   string    `json:"topic"`
	CarID   string    `json:"carId"`
	Action  string    `json:"action"`
	Payload string    `json:"payload"`
	Success bool      `json:"success"`
	Code    string    `json:"code"`
	Error   string    `json:"error,omitempty"`
	Time    time.Time `json:"time"`
}

// Journal keeps an audit trail of commands.
type Journal interface {
	Record(ctx context.Context, e Entry) error
}

// Result is returned to the caller of Publish and serialized as-is by the
// HTTP layer.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
	Err     error  `json:"-"`
}

// Publisher validates and publishes commands. It never retries and never
// queues: a command that cannot be sent now is reported as failed.
type Publisher struct {
	codec     *topic.Codec
	transport Transport
	journal   Journal
	log       logger.Logger
	rec       metrics.Recorder
	now       func() time.Time
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithJournal records every attempt.
func WithJournal(j Journal) Option { return func(p *Publisher) { p.journal = j } }

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option { return func(p *Publisher) { p.log = l } }

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(p *Publisher) { p.rec = metrics.OrNop(r) }
}

// NewPublisher creates a Publisher sending through t.
func NewPublisher(codec *topic.Codec, t Transport, opts ...Option) *Publisher {
	p := &Publisher{codec: codec, transport: t, rec: metrics.NopRecorder{}, now: time.Now}
	if p.codec == nil {
		p.codec = topic.New("")
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Codec returns the topic codec used for validation.
func (p *Publisher) Codec() *topic.Codec { return p.codec }

// CommandTopic builds the topic for action on carID.
func (p *Publisher) CommandTopic(carID, action string) string {
	return p.codec.CommandTopic(carID, action)
}

// Publish validates topic and payload and hands the command to the
// transport. A nil payload means the caller supplied none; false is a valid
// payload.
func (p *Publisher) Publish(ctx context.Context, topicName string, payload any) Result {
	cmd, data, err := p.validate(topicName, payload)
	if err == nil {
		if !p.transport.IsConnected() {
			err = ErrNotConnected
		} else if perr := p.transport.Publish(ctx, topicName, data); perr != nil {
			err = fmt.Errorf("%w: %w", ErrPublishFailed, perr)
		}
	}
	res := Result{Success: err == nil, Code: codeFor(err), Err: err}
	if err != nil {
		res.Error = err.Error()
	}
	p.record(ctx, topicName, cmd, data, res)
	return res
}

func (p *Publisher) validate(topicName string, payload any) (topic.Command, []byte, error) {
	if topicName == "" {
		return topic.Command{}, nil, ErrInvalidTopic
	}
	if payload == nil {
		return topic.Command{}, nil, ErrMissingPayload
	}
	cmd, err := p.codec.ValidateCommandTopic(topicName)
	if errors.Is(err, topic.ErrTopicShape) {
		return cmd, nil, fmt.Errorf("%w: expected format %s/{carId}/{action}", ErrInvalidTopic, p.codec.Namespace())
	}
	if err != nil {
		return cmd, nil, fmt.Errorf("%w: '%s'", ErrDisallowedAction, cmd.Action)
	}
	if _, ok := payload.(bool); !ok {
		return cmd, nil, ErrInvalidPayloadType
	}
	data, err := Serialize(payload)
	if err != nil {
		return cmd, nil, err
	}
	return cmd, data, nil
}

func (p *Publisher) record(ctx context.Context, topicName string, cmd topic.Command, data []byte, res Result) {
	action := cmd.Action
	if action == "" || !topic.IsAllowedAction(action) {
		action = "unknown"
	}
	p.rec.Command(action, res.Code)
	if p.log != nil {
		if res.Success {
			p.log.Infof("published %s to %s", data, topicName)
		} else {
			p.log.Warnf("command on %q rejected: %s", topicName, res.Error)
		}
	}
	if p.journal == nil {
		return
	}
	e := Entry{
		Topic: topicName, CarID: cmd.CarID, Action: cmd.Action, Payload: string(data),
		Success: res.Success, Code: res.Code, Error: res.Error, Time: p.now(),
	}
	if err := p.journal.Record(ctx, e); err != nil && p.log != nil {
		p.log.Errorf("journal command: %v", err)
	}
}

// Serialize encodes structured values (maps, slices, structs) as JSON and
// everything else in its plain string form.
func Serialize(payload any) ([]byte, error) {
	switch v := payload.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	}
	switch reflect.Indirect(reflect.ValueOf(payload)).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		return json.Marshal(payload)
	}
	return []byte(fmt.Sprint(payload)), nil
}
