package domain

// Button is an inline choice rendered by the transport. Data is echoed back
// verbatim as a choice event.
type Button struct {
	Label string
	Data  string
}

// MediaKind enumerates outbound attachment kinds.
type MediaKind string

const (
	MediaVoice    MediaKind = "voice"
	MediaDocument MediaKind = "document"
)

// Media is an outbound attachment.
type Media struct {
	Kind     MediaKind
	Filename string
	Data     []byte
	Caption  string
}

// Reply is a plain instruction for the transport: a message, optional inline
// keyboard rows and optional attachment.
type Reply struct {
	Text    string
	Buttons [][]Button
	Media   *Media
}

// TextReply builds a reply with text only.
func TextReply(text string) Reply {
	return Reply{Text: text}
}
