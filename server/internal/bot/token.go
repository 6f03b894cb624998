package bot

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/obot-platform/fleetdeck/server/internal/apperr"
	"github.com/obot-platform/fleetdeck/server/internal/model"
)

// MaxTokenLen is the largest callback payload the chat platform accepts.
const MaxTokenLen = 64

// Callback actions.
const (
	actSelect      = "select"
	actStart       = "start"
	actStop        = "stop"
	actStats       = "stats"
	actStatus      = "status"
	actSSH         = "ssh"
	actFTPList     = "ftplist"
	actFTPUpload   = "ftpupload"
	actWebStatus   = "webstatus"
	actWebLogs     = "weblogs"
	actFTPCd       = "ftpcd"
	actFTPUp       = "ftpup"
	actFTPRefresh  = "ftprefresh"
	actCloseTunnel = "closetunnel"
)

// Token is the decoded payload of an inline button. It never carries a
// path or name, only the endpoint ordinal, its fingerprint and an optional
// action argument.
type Token struct {
	Action      string
	Ordinal     int
	Fingerprint string
	Arg         string
}

// NewToken builds a token addressing ep.
func NewToken(action string, ep *model.Endpoint, arg string) Token {
	return Token{Action: action, Ordinal: ep.Ordinal, Fingerprint: ep.Fingerprint(), Arg: arg}
}

// Encode renders the token as action:ordinal:fingerprint[:arg].
func (t Token) Encode() (string, error) {
	s := t.Action + ":" + strconv.Itoa(t.Ordinal) + ":" + t.Fingerprint
	if t.Arg != "" {
		s += ":" + t.Arg
	}
	if len(s) > MaxTokenLen {
		return "", fmt.Errorf("token %q exceeds %d bytes", s, MaxTokenLen)
	}
	return s, nil
}

// DecodeToken parses a callback payload.
func DecodeToken(data string) (Token, error) {
	parts := strings.SplitN(data, ":", 4)
	if len(parts) < 3 || parts[0] == "" || parts[2] == "" {
		return Token{}, apperr.InvalidInput("decode button", "malformed button data")
	}
	n, err := strconv.Atoi(parts[1])
	if err != nil || n < 1 {
		return Token{}, apperr.InvalidInput("decode button", "malformed button ordinal")
	}
	t := Token{Action: parts[0], Ordinal: n, Fingerprint: parts[2]}
	if len(parts) == 4 {
		t.Arg = parts[3]
	}
	return t, nil
}

// navArg packs a listing generation and an optional directory index.
func navArg(generation uint64, dirIndex int) string {
	if dirIndex < 0 {
		return strconv.FormatUint(generation, 10)
	}
	return strconv.FormatUint(generation, 10) + "." + strconv.Itoa(dirIndex)
}

func parseNavArg(arg string) (generation uint64, dirIndex int, err error) {
	genStr, idxStr, hasIdx := strings.Cut(arg, ".")
	generation, err = strconv.ParseUint(genStr, 10, 64)
	if err != nil || generation == 0 {
		return 0, 0, apperr.InvalidInput("decode button", "malformed listing reference")
	}
	dirIndex = -1
	if hasIdx {
		dirIndex, err = strconv.Atoi(idxStr)
		if err != nil || dirIndex < 0 {
			return 0, 0, apperr.InvalidInput("decode button", "malformed directory reference")
		}
	}
	return generation, dirIndex, nil
}
