package domain

// TrackRole identifies what a media track carries. Roles travel in offer
// metadata so the receiving side never has to guess.
type TrackRole string

const (
	RoleCamera  TrackRole = "camera"
	RoleScreen  TrackRole = "screen"
	RoleAudio   TrackRole = "audio"
	RoleUnknown TrackRole = ""
)

// LinkState is the lifecycle of one broadcaster-to-viewer peer link.
//
//	NEW -> NEGOTIATING -> CONNECTED
//	CONNECTED -> DISCONNECTED -> NEGOTIATING (recovered) | TERMINATED
//	any -> TERMINATED (failed, closed, or torn down)
type LinkState string

const (
	LinkNew          LinkState = "new"
	LinkNegotiating  LinkState = "negotiating"
	LinkConnected    LinkState = "connected"
	LinkDisconnected LinkState = "disconnected"
	LinkTerminated   LinkState = "terminated"
)

// CanTransition reports whether moving from s to next is a legal step of the
// link lifecycle. TERMINATED is terminal.
func (s LinkState) CanTransition(next LinkState) bool {
	if s == LinkTerminated {
		return false
	}
	switch next {
	case LinkNegotiating:
		return s == LinkNew || s == LinkDisconnected
	case LinkConnected:
		return s == LinkNegotiating || s == LinkDisconnected
	case LinkDisconnected:
		return s == LinkConnected
	case LinkTerminated:
		return true
	default:
		return false
	}
}
