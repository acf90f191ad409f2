package ipc

// Commands accepted on the daemon control socket.
const (
	CommandStatus        = "status"
	CommandListen        = "listen"
	CommandStop          = "stop"
	CommandBackgroundOn  = "background_on"
	CommandBackgroundOff = "background_off"
)

// Request is one line-delimited JSON control command.
type Request struct {
	Command string `json:"command"`
}

// Response reports the daemon's pipeline state after handling a command.
type Response struct {
	OK        bool   `json:"ok"`
	Stage     string `json:"stage,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
}
