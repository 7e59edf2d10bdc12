package daemon

// The daemon speaks newline-delimited JSON over its unix socket: one
// request object per connection, one response object back.

// Request is a single command sent by a client. Commands that do not take
// a name or URL leave the fields empty.
type Request struct {
	Cmd  string `json:"cmd"`
	Name string `json:"name,omitempty"`
	URL  string `json:"url,omitempty"`
}

// Response is the reply to a Request. Exactly one of Data and Error is
// meaningful, discriminated by OK.
type Response struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

// StatusData is the payload of the status command.
type StatusData struct {
	MihomoRunning bool   `json:"mihomo_running"`
	MihomoPID     int    `json:"mihomo_pid"`
	ActiveProfile string `json:"active_profile"`
}

func okResponse(data interface{}) Response {
	return Response{OK: true, Data: data}
}

func errResponse(msg string) Response {
	return Response{OK: false, Error: msg}
}
