package upsyncmgr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/openmined/syftmail/internal/version"
)

const (
	DefaultStream        = "MAIL_UPSYNC"
	DefaultSubjectPrefix = "mail.upsync"
	duplicateWindow      = 10 * time.Minute
	streamMaxAge         = 7 * 24 * time.Hour
)

var subjectTokenRe = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// publisher is the part of nats.JetStreamContext the upsyncer uses.
type publisher interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

type natsPayload struct {
	AccountID string       `json:"accountId"`
	PassID    string       `json:"passId"`
	Mailbox   int64        `json:"mailbox"`
	Items     []UpsyncItem `json:"items"`
}

// NatsUpsyncer publishes upsync requests to a JetStream stream, where the mail
// transport consumes them. A stored message counts as success for every item.
type NatsUpsyncer struct {
	nc     *nats.Conn
	js     publisher
	prefix string
	log    *slog.Logger
}

// NewNatsUpsyncer wraps an existing JetStream publisher.
func NewNatsUpsyncer(js publisher, subjectPrefix string, logger *slog.Logger) *NatsUpsyncer {
	if subjectPrefix == "" {
		subjectPrefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NatsUpsyncer{js: js, prefix: subjectPrefix, log: logger}
}

// DialNats connects to url and makes sure the upsync stream exists.
func DialNats(url, stream, subjectPrefix string, logger *slog.Logger) (*NatsUpsyncer, error) {
	if stream == "" {
		stream = DefaultStream
	}
	if subjectPrefix == "" {
		subjectPrefix = DefaultSubjectPrefix
	}

	nc, err := nats.Connect(url, nats.Name(version.UserAgent()), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("get jetstream context: %w", err)
	}

	if err := ensureStream(js, stream, subjectPrefix); err != nil {
		nc.Close()
		return nil, err
	}

	u := NewNatsUpsyncer(js, subjectPrefix, logger)
	u.nc = nc
	return u, nil
}

func ensureStream(js nats.JetStreamContext, stream, subjectPrefix string) error {
	info, err := js.StreamInfo(stream)
	if err == nil && info != nil {
		return nil
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:       stream,
		Subjects:   []string{subjectPrefix + ".>"},
		Storage:    nats.FileStorage,
		Retention:  nats.WorkQueuePolicy,
		Duplicates: duplicateWindow,
		MaxAge:     streamMaxAge,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return fmt.Errorf("create stream %s: %w", stream, err)
	}
	return nil
}

// Subject returns the subject a request is published on.
func (u *NatsUpsyncer) Subject(req *UpsyncRequest) string {
	return fmt.Sprintf("%s.%s.%d", u.prefix, subjectTokenRe.ReplaceAllString(req.AccountID, "_"), req.Destination)
}

func (u *NatsUpsyncer) Upsync(ctx context.Context, req *UpsyncRequest) (*UpsyncOutcome, error) {
	payload, err := json.Marshal(&natsPayload{
		AccountID: req.AccountID,
		PassID:    req.PassID,
		Mailbox:   int64(req.Destination),
		Items:     req.Items(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode upsync request: %w", err)
	}

	subject := u.Subject(req)
	ack, err := u.js.Publish(subject, payload, nats.MsgId(req.ID()), nats.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("publish upsync request: %w", err)
	}

	if ack.Duplicate {
		u.log.Debug("upsync request already stored", "subject", subject, "id", req.ID(), "seq", ack.Sequence)
	} else {
		u.log.Debug("upsync request published", "subject", subject, "items", len(req.Changes), "seq", ack.Sequence)
	}
	return &UpsyncOutcome{}, nil
}

func (u *NatsUpsyncer) Close() {
	if u.nc != nil {
		u.nc.Close()
	}
}
