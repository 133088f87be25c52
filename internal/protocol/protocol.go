// Package protocol defines what travels over the client connection: the slash-separated command
// frames clients send, and the JSON state, reply and error messages the server pushes back.
package protocol

// ReplyMsg answers a console line sent with the cmd frame.
type ReplyMsg struct {
	Res string `json:"res"`
}

// ErrorMsg reports a rejected command.
type ErrorMsg struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewError(code, msg string) ErrorMsg {
	return ErrorMsg{Error: ErrorBody{Code: code, Message: msg}}
}
