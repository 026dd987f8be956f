package rpcx

// LocalEndpoint calls a Handler directly, in-process — no network, no
// serialization, no timeouts unless the handler itself times out. This is
// the Go analogue of the reference config's `kvservers[i]` direct handles,
// used by tests and by single-binary deployments that run every replica in
// one process.
type LocalEndpoint struct {
	Handler Handler
}

// NewLocalEndpoint wraps h as an Endpoint.
func NewLocalEndpoint(h Handler) *LocalEndpoint {
	return &LocalEndpoint{Handler: h}
}

func (l *LocalEndpoint) Get(args GetArgs) (GetReply, error) {
	return l.Handler.Get(args)
}

func (l *LocalEndpoint) Put(args PutArgs) (PutReply, error) {
	return l.Handler.Put(args)
}

func (l *LocalEndpoint) Append(args AppendArgs) (AppendReply, error) {
	return l.Handler.Append(args)
}
