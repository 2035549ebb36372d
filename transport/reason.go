package transport

// ReasonCode tags the well-known disconnect causes.
type ReasonCode int

const (
	// ReasonByClient means the client closed the connection.
	ReasonByClient ReasonCode = iota

	// ReasonByServer means the server closed the connection.
	ReasonByServer

	// ReasonOther covers transport-specific causes, described by Detail.
	ReasonOther
)

// DisconnectReason is the human-readable cause carried on a disconnect
// transition. It is lifecycle data, not an error: it never aborts a tick.
type DisconnectReason struct {
	Code   ReasonCode
	Detail string // set when Code is ReasonOther
}

// DisconnectedByClient is the client-initiated close reason.
var DisconnectedByClient = DisconnectReason{Code: ReasonByClient}

// DisconnectedByServer is the server-initiated close reason.
var DisconnectedByServer = DisconnectReason{Code: ReasonByServer}

// OtherReason builds a transport-specific reason from a cause string.
func OtherReason(detail string) DisconnectReason {
	return DisconnectReason{Code: ReasonOther, Detail: detail}
}

// String returns the human-readable cause.
func (r DisconnectReason) String() string {
	switch r.Code {
	case ReasonByClient:
		return "disconnected by client"
	case ReasonByServer:
		return "disconnected by server"
	default:
		if r.Detail == "" {
			return "disconnected"
		}
		return r.Detail
	}
}
