package router

// Router maps a key to the index of the server that owns it.
type Router interface {
	Route(key string) int
	Size() int
}

// New returns a DirectRouter for a single server and a ShardedRouter otherwise.
func New(servers int) Router {
	if servers <= 1 {
		return DirectRouter{}
	}
	return NewShardedRouter(servers)
}
