package item

import (
	"encoding/json"
	"errors"
	"fmt"
)

// TransferKey is the dataTransfer key the UI layer attaches the dragged
// item under. The JSON shape of Item is the wire contract with the UI.
const TransferKey = "item"

// ErrInvalidPayload marks a missing or unparseable drag payload. The
// condition is recoverable: the drop is ignored, nothing crashes.
var ErrInvalidPayload = errors.New("item: invalid drag payload")

// DecodePayload parses a dragged item from its JSON transfer payload.
func DecodePayload(raw string) (Item, error) {
	if raw == "" {
		return Item{}, ErrInvalidPayload
	}
	var it Item
	if err := json.Unmarshal([]byte(raw), &it); err != nil {
		return Item{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	// A payload without attributes is not a wearable item (e.g. a bare NFT
	// card dragged from the gallery).
	if len(it.Attributes) == 0 {
		return Item{}, fmt.Errorf("%w: no attributes", ErrInvalidPayload)
	}
	return it, nil
}

// EncodePayload serializes an item for the drag payload.
func EncodePayload(it Item) string {
	raw, err := json.Marshal(it)
	if err != nil {
		return ""
	}
	return string(raw)
}
