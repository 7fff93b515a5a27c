// ABOUTME: JSON wire types for the platform's callback protocol.
// ABOUTME: Inbound decrypted messages and outbound encrypted stream-reply envelopes.

package webhook

// encryptedEnvelope is the outer body of every POST callback and of every
// reply the gateway sends back.
type encryptedEnvelope struct {
	Encrypt      string `json:"encrypt"`
	MsgSignature string `json:"msgsignature,omitempty"`
	Timestamp    string `json:"timestamp,omitempty"`
	Nonce        string `json:"nonce,omitempty"`
}

// inboundMessage is the decrypted inner callback, discriminated by MsgType.
type inboundMessage struct {
	MsgID       string `json:"msgid"`
	MsgType     string `json:"msgtype"`
	ChatType    string `json:"chattype"` // "single" or "group"
	ChatID      string `json:"chatid"`
	ResponseURL string `json:"response_url"`

	From struct {
		UserID string `json:"userid"`
	} `json:"from"`

	Text *struct {
		Content string `json:"content"`
	} `json:"text,omitempty"`

	Image *struct {
		URL string `json:"url"`
	} `json:"image,omitempty"`

	Voice *struct {
		URL     string `json:"url"`
		MediaID string `json:"media_id"`
	} `json:"voice,omitempty"`

	Stream *struct {
		ID string `json:"id"`
	} `json:"stream,omitempty"`

	Event *struct {
		EventType string `json:"event_type"`
	} `json:"event,omitempty"`
}

// streamReply is the plaintext reply wrapped in an encrypted envelope.
type streamReply struct {
	MsgType string      `json:"msgtype"`
	Stream  replyStream `json:"stream"`
}

type replyStream struct {
	ID       string    `json:"id"`
	Finish   bool      `json:"finish"`
	Content  string    `json:"content"`
	MsgItem  []msgItem `json:"msg_item,omitempty"`
	Feedback string    `json:"feedback,omitempty"`
}

// msgItem is one finalized attachment embedded in a finished reply.
type msgItem struct {
	MsgType string     `json:"msgtype"`
	Image   *imageItem `json:"image,omitempty"`
}

type imageItem struct {
	Base64 string `json:"base64"`
	MD5    string `json:"md5"`
}
