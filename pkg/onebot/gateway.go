package onebot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"tgqqbridge/internal/constants"
	apperrors "tgqqbridge/internal/errors"
	"tgqqbridge/internal/models"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
)

// Gateway speaks the OneBot v11 protocol over a single websocket to a QQ
// bot runtime. Pushed frames become inbound events; API calls are
// correlated with their response frames through the echo field.
type Gateway struct {
	url         string
	accessToken string
	callTimeout time.Duration
	logger      *logrus.Logger
	events      chan models.Event

	connMu sync.Mutex
	conn   *websocket.Conn

	pendingMu sync.Mutex
	pending   map[string]chan actionResponse
	echoSeq   uint64
}

func NewGateway(cfg models.QQConfig, logger *logrus.Logger) *Gateway {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}

	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = constants.DefaultGatewayCallTimeoutSec * time.Second
	}

	return &Gateway{
		url:         cfg.GatewayURL,
		accessToken: cfg.AccessToken,
		callTimeout: timeout,
		logger:      logger,
		events:      make(chan models.Event, 64),
		pending:     make(map[string]chan actionResponse),
	}
}

func (g *Gateway) Platform() models.Platform {
	return models.PlatformQQ
}

// Events yields inbound group messages and recall notices. Closed when
// Start returns.
func (g *Gateway) Events() <-chan models.Event {
	return g.events
}

// Start maintains the gateway connection until the context is cancelled,
// reconnecting after failures. In-flight calls fail when the connection
// drops; the retry queue absorbs them.
func (g *Gateway) Start(ctx context.Context) {
	defer close(g.events)

	g.logger.WithField("url", g.url).Info("Starting QQ gateway connection")

	for {
		if ctx.Err() != nil {
			g.logger.Info("QQ gateway stopped")
			return
		}

		if err := g.connectAndRead(ctx); err != nil && ctx.Err() == nil {
			g.logger.WithError(err).Error("QQ gateway connection lost")
		}
		g.failPending("gateway connection lost")

		select {
		case <-ctx.Done():
			g.logger.Info("QQ gateway stopped")
			return
		case <-time.After(constants.DefaultGatewayReconnectSec * time.Second):
		}
	}
}

func (g *Gateway) connectAndRead(ctx context.Context) error {
	opts := &websocket.DialOptions{}
	if g.accessToken != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + g.accessToken}}
	}

	conn, _, err := websocket.Dial(ctx, g.url, opts)
	if err != nil {
		return fmt.Errorf("failed to dial gateway: %w", err)
	}
	conn.SetReadLimit(1 << 22)
	defer conn.Close(websocket.StatusNormalClosure, "closing")

	g.setConn(conn)
	defer g.setConn(nil)

	g.logger.Info("QQ gateway connected")

	// Event conversion can itself issue gateway calls (forward bundle
	// expansion), and those calls block on response frames. Events are
	// therefore handled on a separate goroutine so the read loop keeps
	// routing responses. A single worker preserves event order.
	queue := make(chan []byte, 128)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for data := range queue {
			g.handleEvent(ctx, data)
		}
	}()
	defer wg.Wait()
	defer close(queue)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("failed to read frame: %w", err)
		}
		g.routeFrame(ctx, data, queue)
	}
}

func (g *Gateway) setConn(conn *websocket.Conn) {
	g.connMu.Lock()
	g.conn = conn
	g.connMu.Unlock()
}

func (g *Gateway) currentConn() *websocket.Conn {
	g.connMu.Lock()
	defer g.connMu.Unlock()
	return g.conn
}

func (g *Gateway) routeFrame(ctx context.Context, data []byte, queue chan<- []byte) {
	var head frame
	if err := json.Unmarshal(data, &head); err != nil {
		g.logger.WithError(err).Warn("Dropping unparsable gateway frame")
		return
	}

	if head.Echo != "" {
		var resp actionResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			g.logger.WithError(err).Warn("Dropping unparsable action response")
			return
		}
		g.resolvePending(resp)
		return
	}

	if head.PostType == "" {
		return
	}

	select {
	case queue <- data:
	case <-ctx.Done():
	}
}

func (g *Gateway) handleEvent(ctx context.Context, data []byte) {
	var event eventFrame
	if err := json.Unmarshal(data, &event); err != nil {
		g.logger.WithError(err).Warn("Dropping unparsable gateway event")
		return
	}

	converted := g.toEvent(ctx, &event)
	if converted == nil {
		return
	}

	select {
	case g.events <- *converted:
	case <-ctx.Done():
	}
}

func (g *Gateway) resolvePending(resp actionResponse) {
	g.pendingMu.Lock()
	ch, ok := g.pending[resp.Echo]
	if ok {
		delete(g.pending, resp.Echo)
	}
	g.pendingMu.Unlock()

	if ok {
		ch <- resp
	}
}

func (g *Gateway) failPending(reason string) {
	g.pendingMu.Lock()
	pending := g.pending
	g.pending = make(map[string]chan actionResponse)
	g.pendingMu.Unlock()

	for _, ch := range pending {
		ch <- actionResponse{Status: "failed", Retcode: -1, Msg: reason}
	}
}

// Send posts a group message and returns the assigned message id.
func (g *Gateway) Send(ctx context.Context, chatID, text string) (string, error) {
	groupID, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid qq group id %q: %w", chatID, err)
	}

	resp, err := g.call(ctx, "send_group_msg", sendGroupMsgParams{GroupID: groupID, Message: text})
	if err != nil {
		return "", err
	}

	var data sendGroupMsgData
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return "", fmt.Errorf("failed to decode send_group_msg response: %w", err)
	}
	return strconv.FormatInt(data.MessageID, 10), nil
}

// Delete recalls a previously sent group message. QQ only allows this
// within the platform recall window.
func (g *Gateway) Delete(ctx context.Context, chatID, destID string) error {
	messageID, err := strconv.ParseInt(destID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid qq message id %q: %w", destID, err)
	}

	_, err = g.call(ctx, "delete_msg", deleteMsgParams{MessageID: messageID})
	return err
}

// call sends one action frame and blocks until its response arrives or the
// call times out. A missing connection and a timed-out call are transient;
// a failed retcode is permanent.
func (g *Gateway) call(ctx context.Context, action string, params interface{}) (actionResponse, error) {
	conn := g.currentConn()
	if conn == nil {
		return actionResponse{}, apperrors.WrapRetryable(nil, apperrors.ErrCodeQQGateway,
			fmt.Sprintf("gateway not connected for %s", action))
	}

	g.pendingMu.Lock()
	g.echoSeq++
	echo := strconv.FormatUint(g.echoSeq, 10)
	respCh := make(chan actionResponse, 1)
	g.pending[echo] = respCh
	g.pendingMu.Unlock()

	defer func() {
		g.pendingMu.Lock()
		delete(g.pending, echo)
		g.pendingMu.Unlock()
	}()

	data, err := json.Marshal(actionRequest{Action: action, Params: params, Echo: echo})
	if err != nil {
		return actionResponse{}, fmt.Errorf("failed to marshal %s request: %w", action, err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()
	if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		return actionResponse{}, apperrors.WrapRetryable(err, apperrors.ErrCodeQQGateway,
			fmt.Sprintf("failed to send %s frame", action))
	}

	select {
	case resp := <-respCh:
		if resp.Status == "ok" || resp.Status == "async" {
			return resp, nil
		}
		if resp.Retcode < 0 {
			return actionResponse{}, apperrors.WrapRetryable(nil, apperrors.ErrCodeQQGateway,
				fmt.Sprintf("%s failed: %s", action, responseMessage(resp)))
		}
		return actionResponse{}, apperrors.NewPermanentDeliveryError(apperrors.ErrCodeRejected,
			fmt.Errorf("%s rejected (retcode %d): %s", action, resp.Retcode, responseMessage(resp)))
	case <-ctx.Done():
		return actionResponse{}, apperrors.WrapRetryable(ctx.Err(), apperrors.ErrCodeQQGateway,
			fmt.Sprintf("%s cancelled", action))
	case <-time.After(g.callTimeout):
		return actionResponse{}, apperrors.WrapRetryable(nil, apperrors.ErrCodeTimeout,
			fmt.Sprintf("%s timed out", action))
	}
}

func responseMessage(resp actionResponse) string {
	if resp.Wording != "" {
		return resp.Wording
	}
	if resp.Msg != "" {
		return resp.Msg
	}
	return "no detail"
}

// toEvent converts a pushed frame into a normalized event. Only group
// messages and group recalls are bridged; everything else is dropped.
func (g *Gateway) toEvent(ctx context.Context, event *eventFrame) *models.Event {
	switch {
	case event.PostType == "message" && event.MessageType == "group":
		msg := g.normalize(ctx, event)
		return &models.Event{
			Type:     models.EventMessage,
			Message:  msg,
			Platform: models.PlatformQQ,
			ChatID:   msg.ChatID,
		}
	case event.PostType == "notice" && event.NoticeType == "group_recall":
		return &models.Event{
			Type:     models.EventRecall,
			RecallID: event.MessageID.String(),
			Platform: models.PlatformQQ,
			ChatID:   strconv.FormatInt(event.GroupID, 10),
		}
	default:
		return nil
	}
}

func (g *Gateway) normalize(ctx context.Context, event *eventFrame) *models.Message {
	msg := &models.Message{
		ID:        event.MessageID.String(),
		Platform:  models.PlatformQQ,
		ChatID:    strconv.FormatInt(event.GroupID, 10),
		Sender:    senderName(event.Sender, event.UserID),
		Kind:      models.KindText,
		Timestamp: time.Unix(event.Time, 0),
	}

	var body strings.Builder
	for _, seg := range event.Message {
		switch seg.Type {
		case "text":
			body.WriteString(seg.Data.Text)
		case "at":
			body.WriteString("@" + seg.Data.QQ)
		case "reply":
			msg.ReplyTo = &models.MessageRef{Platform: models.PlatformQQ, ID: seg.Data.ID}
		case "image":
			msg.Kind = models.KindPhoto
		case "record":
			msg.Kind = models.KindVoice
		case "video":
			msg.Kind = models.KindVideo
		case "file":
			msg.Kind = models.KindDocument
		case "forward":
			msg.Kind = models.KindForward
			msg.ForwardEntries = g.fetchForwardEntries(ctx, seg.Data.ID)
		}
	}
	msg.Body = body.String()

	return msg
}

// fetchForwardEntries expands a merge-forward bundle through the gateway.
// On failure the bundle stays empty and the parser degrades it to an
// opaque placeholder downstream.
func (g *Gateway) fetchForwardEntries(ctx context.Context, forwardID string) []models.ForwardEntry {
	if forwardID == "" {
		return nil
	}

	resp, err := g.call(ctx, "get_forward_msg", getForwardMsgParams{ID: forwardID})
	if err != nil {
		g.logger.WithError(err).WithField("forwardId", forwardID).Warn("Failed to expand forward bundle")
		return nil
	}

	var data getForwardMsgData
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		g.logger.WithError(err).Warn("Failed to decode forward bundle")
		return nil
	}

	entries := make([]models.ForwardEntry, 0, len(data.Messages))
	for _, node := range data.Messages {
		entry := models.ForwardEntry{
			Sender:    senderName(node.Sender, 0),
			Timestamp: time.Unix(node.Time, 0),
			Kind:      models.KindText,
		}
		if node.Time == 0 {
			entry.Timestamp = time.Time{}
		}

		payload := node.Content
		if len(payload) == 0 {
			payload = node.Message
		}
		entry.Body, entry.Kind = decodeNodePayload(payload)

		entries = append(entries, entry)
	}
	return entries
}

// decodeNodePayload handles both payload shapes implementations emit: a
// raw CQ string or an array of segments.
func decodeNodePayload(payload json.RawMessage) (string, models.MessageKind) {
	if len(payload) == 0 {
		return "", models.KindText
	}

	var asString string
	if err := json.Unmarshal(payload, &asString); err == nil {
		return asString, models.KindText
	}

	var segments []segment
	if err := json.Unmarshal(payload, &segments); err != nil {
		return "", models.KindText
	}

	kind := models.KindText
	var body strings.Builder
	for _, seg := range segments {
		switch seg.Type {
		case "text":
			body.WriteString(seg.Data.Text)
		case "at":
			body.WriteString("@" + seg.Data.QQ)
		case "image":
			kind = models.KindPhoto
		case "record":
			kind = models.KindVoice
		case "video":
			kind = models.KindVideo
		case "file":
			kind = models.KindDocument
		case "forward":
			kind = models.KindForward
		}
	}
	return body.String(), kind
}

func senderName(s *sender, userID int64) string {
	if s != nil {
		if s.Card != "" {
			return s.Card
		}
		if s.Nickname != "" {
			return s.Nickname
		}
		if s.UserID != 0 {
			return strconv.FormatInt(s.UserID, 10)
		}
	}
	if userID != 0 {
		return strconv.FormatInt(userID, 10)
	}
	return "unknown"
}
