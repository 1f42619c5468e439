package protocol

// Kind is the verb of a request. Responses carry no key, so the kind at the
// head of a connection's in-flight queue decides how a response is framed.
type Kind uint8

const (
	GET Kind = iota
	ADD
	REPLACE
	SET
	DELETE
)

var kindNames = [...]string{
	GET:     "get",
	ADD:     "add",
	REPLACE: "replace",
	SET:     "set",
	DELETE:  "delete",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// IsStorage reports whether requests of this kind carry a value block.
func (k Kind) IsStorage() bool {
	return k == ADD || k == REPLACE || k == SET
}

// Kinds lists every supported kind in report order.
func Kinds() []Kind {
	return []Kind{GET, ADD, REPLACE, SET, DELETE}
}

func ParseKind(verb string) (Kind, bool) {
	switch verb {
	case "get":
		return GET, true
	case "add":
		return ADD, true
	case "replace":
		return REPLACE, true
	case "set":
		return SET, true
	case "delete":
		return DELETE, true
	default:
		return 0, false
	}
}
