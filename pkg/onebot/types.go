package onebot

import "encoding/json"

// actionRequest is one API call frame sent over the gateway socket. The
// echo field correlates the response frame with its caller.
type actionRequest struct {
	Action string      `json:"action"`
	Params interface{} `json:"params,omitempty"`
	Echo   string      `json:"echo"`
}

type actionResponse struct {
	Status  string          `json:"status"`
	Retcode int             `json:"retcode"`
	Data    json.RawMessage `json:"data,omitempty"`
	Msg     string          `json:"msg,omitempty"`
	Wording string          `json:"wording,omitempty"`
	Echo    string          `json:"echo,omitempty"`
}

// frame is the first-pass decode of any inbound socket frame. A non-empty
// echo marks an action response; a non-empty post_type marks a pushed event.
type frame struct {
	Echo     string `json:"echo,omitempty"`
	PostType string `json:"post_type,omitempty"`
}

// eventFrame is a pushed OneBot v11 event.
type eventFrame struct {
	PostType    string      `json:"post_type"`
	MessageType string      `json:"message_type,omitempty"`
	NoticeType  string      `json:"notice_type,omitempty"`
	Time        int64       `json:"time"`
	GroupID     int64       `json:"group_id,omitempty"`
	UserID      int64       `json:"user_id,omitempty"`
	MessageID   json.Number `json:"message_id,omitempty"`
	Sender      *sender     `json:"sender,omitempty"`
	Message     []segment   `json:"message,omitempty"`
}

type sender struct {
	UserID   int64  `json:"user_id,omitempty"`
	Nickname string `json:"nickname,omitempty"`
	Card     string `json:"card,omitempty"`
}

// segment is one piece of an array-format OneBot message.
type segment struct {
	Type string      `json:"type"`
	Data segmentData `json:"data"`
}

type segmentData struct {
	Text string `json:"text,omitempty"`
	ID   string `json:"id,omitempty"`
	File string `json:"file,omitempty"`
	URL  string `json:"url,omitempty"`
	QQ   string `json:"qq,omitempty"`
}

type sendGroupMsgParams struct {
	GroupID int64  `json:"group_id"`
	Message string `json:"message"`
}

type sendGroupMsgData struct {
	MessageID int64 `json:"message_id"`
}

type deleteMsgParams struct {
	MessageID int64 `json:"message_id"`
}

type getForwardMsgParams struct {
	ID string `json:"id"`
}

type getForwardMsgData struct {
	Messages []forwardNode `json:"messages"`
}

// forwardNode is one entry of a merge-forward bundle. Implementations
// disagree on the payload field name, so both are decoded.
type forwardNode struct {
	Sender  *sender         `json:"sender,omitempty"`
	Time    int64           `json:"time,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`
	Message json.RawMessage `json:"message,omitempty"`
}
