package model

type ActionType string

const ACTION_SEND_TEXT ActionType = "sendText"
const ACTION_SEND_IMAGE ActionType = "sendImage"
const ACTION_SEND_CARD ActionType = "sendCard"
const ACTION_SEND_QUICK_REPLIES ActionType = "sendQuickReplies"
const ACTION_SEND_TYPING ActionType = "sendTyping"
const ACTION_NOOP ActionType = "noop"

type Card struct {
	Title    string   `json:"title"`
	Subtitle string   `json:"subtitle,omitempty"`
	ImageUrl string   `json:"imageUrl,omitempty"`
	Buttons  []Button `json:"buttons,omitempty"`
}

type QuickReply struct {
	Title   string `json:"title"`
	Payload string `json:"payload"`
}

// OutboundAction is what a walk emits towards channel delivery. Actions
// are immutable once emitted; dispatch order must match emission order.
type OutboundAction struct {
	Type         ActionType   `json:"type"`
	Text         string       `json:"text,omitempty"`
	ImageUrl     string       `json:"imageUrl,omitempty"`
	Card         *Card        `json:"card,omitempty"`
	Message      string       `json:"message,omitempty"`
	QuickReplies []QuickReply `json:"quickReplies,omitempty"`
}

func SendText(text string) OutboundAction {
	return OutboundAction{Type: ACTION_SEND_TEXT, Text: text}
}

func SendImage(url string) OutboundAction {
	return OutboundAction{Type: ACTION_SEND_IMAGE, ImageUrl: url}
}

func SendCard(card Card) OutboundAction {
	return OutboundAction{Type: ACTION_SEND_CARD, Card: &card}
}

func SendQuickReplies(message string, replies []QuickReply) OutboundAction {
	return OutboundAction{Type: ACTION_SEND_QUICK_REPLIES, Message: message, QuickReplies: replies}
}

func SendTyping() OutboundAction {
	return OutboundAction{Type: ACTION_SEND_TYPING}
}
