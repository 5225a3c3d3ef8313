package common

// Header names understood by the backend REST surface.
const (
	AuthorizationHeaderName = "Authorization"
	APIKeyHeaderName        = "apikey"
)

// SendMessageRPC is the name of the idempotent insert procedure.
const SendMessageRPC = "send_chat_message"
