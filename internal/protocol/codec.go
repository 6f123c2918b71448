package protocol

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/dkeye/VideoSync/internal/domain"
)

// Encode marshals a frame.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// MustEncode is for frames built from trusted values only.
func MustEncode(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("protocol: encode %T: %v", v, err))
	}
	return b
}

// Decode unmarshals a frame into v, wrapping failures as domain.ErrBadPayload.
func Decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrBadPayload, err)
	}
	return nil
}

// PeekType reads only the message type.
func PeekType(data []byte) (string, error) {
	var env Envelope
	if err := Decode(data, &env); err != nil {
		return "", err
	}
	if env.Type == "" {
		return "", fmt.Errorf("%w: missing type", domain.ErrBadPayload)
	}
	return env.Type, nil
}

// Raw marshals v for use as an opaque Data field.
func Raw(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}

// TargetOf extracts targetUserId from a sync-response payload.
func TargetOf(data json.RawMessage) (domain.MemberID, error) {
	var t struct {
		TargetUserID domain.MemberID `json:"targetUserId"`
	}
	if err := Decode(data, &t); err != nil {
		return "", err
	}
	if t.TargetUserID == "" {
		return "", fmt.Errorf("%w: missing targetUserId", domain.ErrBadPayload)
	}
	return t.TargetUserID, nil
}

func NewError(msg string) []byte {
	return MustEncode(Error{Type: TypeError, Message: msg})
}
