package commsutil

import (
	"fmt"
	"strconv"
	"strings"
)

// Default COMMS subjects.
const (
	SubjectDefault   = "rpc.default"
	SubjectCallEvent = "rpc.calls"
)

// Message headers set on call requests.
const (
	HeaderPriority = "Rpc-Priority"
	HeaderCallID   = "Rpc-Call-Id"
	// HeaderError carries the reason a stream chunk was rejected.
	HeaderError = "Rpc-Error"
)

// BuildDescribeSubject builds the subject answering contract descriptions.
func BuildDescribeSubject(subject string) string {
	return subject + ".describe"
}

// BuildControlSubject builds the per-call subject carrying stream chunks and
// cancellation for one accepted call.
func BuildControlSubject(subject, serviceID, callID string) string {
	return fmt.Sprintf("%s.ctl.%s.%s", subject, token(serviceID), token(callID))
}

// BuildCallEventSubject builds a granular call event subject for one contract.
func BuildCallEventSubject(base, contract string) string {
	return base + "." + token(contract)
}

// FormatPriority renders a queue priority header value.
func FormatPriority(p uint8) string {
	return strconv.Itoa(int(p))
}

// ParsePriority reads a queue priority header value; malformed values read as 0.
func ParsePriority(s string) uint8 {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 8)
	if err != nil {
		return 0
	}
	return uint8(n)
}

// token makes s safe to use as one subject token.
func token(s string) string {
	return strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_").Replace(s)
}
