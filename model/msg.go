package model

type InboundMessage struct {
	EventId           string `json:"eventId"`
	BotId             string `json:"botId"`
	ContactId         string `json:"contactId"`
	Text              string `json:"text"`
	QuickReplyPayload string `json:"quickReplyPayload,omitempty"`
}

type ErrorKind string

const ERROR_NONE ErrorKind = ""
const ERROR_VALIDATION ErrorKind = "validation"
const ERROR_DELIVERY ErrorKind = "delivery"
const ERROR_LOOP_GUARD ErrorKind = "loopGuard"
const ERROR_LOCK_TIMEOUT ErrorKind = "lockTimeout"
const ERROR_STORAGE ErrorKind = "storage"
const ERROR_BOT_DEACTIVATED ErrorKind = "botDeactivated"

// Result is what one inbound webhook event produces. Engine-internal
// failures surface here as an error kind, never as a panic or a
// propagated error.
type Result struct {
	ActionsDispatched int       `json:"actionsDispatched"`
	Terminal          bool      `json:"terminal"`
	ErrorKind         ErrorKind `json:"error,omitempty"`
}
