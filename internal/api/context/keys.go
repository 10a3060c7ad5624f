package context

type Key string

const (
	Session Key = "session"
	Actor   Key = "actor"
	Params  Key = "params"
)
