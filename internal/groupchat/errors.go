package groupchat

import "errors"

// Sentinel errors for the protocol's failure taxonomy. Handlers test these
// with errors.Is; the dispatcher never panics on them.
var (
	// ErrNotFound covers a missing group/member/manager/request.
	ErrNotFound = errors.New("groupchat: not found")
	// ErrUnauthorised means the sender is not a member, or not a manager,
	// for the attempted action.
	ErrUnauthorised = errors.New("groupchat: unauthorised")
	// ErrUniqueGroupID is returned by Repository.Group.Insert when g_id
	// already exists.
	ErrUniqueGroupID = errors.New("groupchat: group id already exists")
	// ErrDecode marks a malformed wire payload. The dispatcher drops the
	// message and logs; it never crashes the coordinator.
	ErrDecode = errors.New("groupchat: decode error")
	// ErrTransportClosed is fatal: the outbound channel cannot accept any
	// more envelopes because the transport has shut down.
	ErrTransportClosed = errors.New("groupchat: transport closed")
)
